// Package store holds pending live-session events for clients that poll over
// REST instead of holding a WebSocket open. Events are appended as the model
// produces them and drained by the poll route.
package store

import (
	"context"
	"time"
)

// ResponseStore buffers serialized session events keyed by session ID.
// Implementations must be safe for concurrent use.
type ResponseStore interface {
	// Append adds one serialized event to the session's queue and refreshes
	// its TTL.
	Append(ctx context.Context, sessionID string, event []byte) error
	// Drain returns and removes all queued events for the session, oldest
	// first. An unknown session drains to an empty slice.
	Drain(ctx context.Context, sessionID string) ([][]byte, error)
	// Delete removes the session's queue.
	Delete(ctx context.Context, sessionID string) error
	// Close releases backend resources.
	Close() error
}

// Options configure a store backend.
type Options struct {
	// TTL is how long a session queue survives without activity.
	TTL time.Duration
}
