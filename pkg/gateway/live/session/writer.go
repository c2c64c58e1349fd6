package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the write half of a WebSocket connection. *websocket.Conn
// satisfies it.
type Socket interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundFrame is one JSON text frame bound for the client. audioTurn is
// nonzero for synthesized audio frames; the writer drops frames whose turn
// the session has since canceled so a barge-in stops playback mid-stream.
type outboundFrame struct {
	payload   []byte
	audioTurn uint64
}

type writerConfig struct {
	pingInterval time.Duration
	writeTimeout time.Duration
}

// outboundWriter owns all writes on one socket. Control and error frames
// travel on the priority channel; streamed text and audio travel on the
// normal channel and yield to priority traffic between frames.
type outboundWriter struct {
	ws     Socket
	ctx    context.Context
	cfg    writerConfig
	logger *slog.Logger

	priority <-chan outboundFrame
	normal   <-chan outboundFrame

	isCanceled func(turn uint64) bool
}

func (w *outboundWriter) Run() {
	logger := w.logger
	if logger == nil {
		logger = slog.Default()
	}

	pingInterval := w.cfg.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	priority := w.priority
	normal := w.normal
	var pendingNormal *outboundFrame

	for {
		if priority == nil && normal == nil && pendingNormal == nil {
			return
		}

		// Priority frames never wait behind streamed output.
		if priority != nil {
			select {
			case frame, ok := <-priority:
				if !ok {
					priority = nil
					continue
				}
				if err := w.writeFrame(frame); err != nil {
					logger.Debug("live: writer stopping", "error", err)
					return
				}
				continue
			default:
			}
		}

		if pendingNormal != nil {
			frame := *pendingNormal
			pendingNormal = nil
			if err := w.writeFrame(frame); err != nil {
				logger.Debug("live: writer stopping", "error", err)
				return
			}
			continue
		}

		select {
		case <-w.ctx.Done():
			w.flushPriorityOnShutdown(priority)
			deadline := time.Now().Add(w.writeTimeout())
			_ = w.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
				deadline,
			)
			return
		case frame, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			if err := w.writeFrame(frame); err != nil {
				logger.Debug("live: writer stopping", "error", err)
				return
			}
		case frame, ok := <-normal:
			if !ok {
				normal = nil
				continue
			}
			// Let a queued priority frame jump ahead of this one.
			if priority != nil {
				select {
				case pframe, pok := <-priority:
					if !pok {
						priority = nil
					} else {
						pendingNormal = &frame
						if err := w.writeFrame(pframe); err != nil {
							logger.Debug("live: writer stopping", "error", err)
							return
						}
						continue
					}
				default:
				}
			}
			if err := w.writeFrame(frame); err != nil {
				logger.Debug("live: writer stopping", "error", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(w.writeTimeout())
			if err := w.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("live: ping failed, writer stopping", "error", err)
				return
			}
		}
	}
}

// flushPriorityOnShutdown drains a handful of queued priority frames so
// final error and session_ended frames still reach the client.
func (w *outboundWriter) flushPriorityOnShutdown(priority <-chan outboundFrame) {
	if priority == nil {
		return
	}
	deadline := time.Now().Add(100 * time.Millisecond)
	for i := 0; i < 8; i++ {
		if time.Now().After(deadline) {
			return
		}
		select {
		case frame, ok := <-priority:
			if !ok {
				return
			}
			if err := w.writeFrame(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame) error {
	if frame.audioTurn != 0 && w.isCanceled != nil && w.isCanceled(frame.audioTurn) {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout())); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}

func (w *outboundWriter) writeTimeout() time.Duration {
	if w.cfg.writeTimeout > 0 {
		return w.cfg.writeTimeout
	}
	return 5 * time.Second
}
