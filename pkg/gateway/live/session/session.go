// Package session implements the live session engines behind the WebSocket
// and REST live surfaces. The chat engine drives a TEXT-modality Gemini Live
// connection and speaks replies through Cloud TTS; the duplex engine drives
// an AUDIO-modality connection gated by the turn-taking controller.
package session

import (
	"context"
	"encoding/json"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
)

// ConnectFunc opens a Gemini Live connection. Injected so tests can supply
// a scripted connection.
type ConnectFunc func(ctx context.Context, opts gemini.LiveOptions) (gemini.LiveConn, error)

// SearchFunc runs the product search backing the search_products tool.
type SearchFunc func(ctx context.Context, query string) ([]products.Product, error)

// Frames returned to clients. Marshal errors cannot happen for these types,
// so encode swallows them.
func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","code":"internal","message":"encode failed"}`)
	}
	return data
}

func productMaps(found []products.Product) []map[string]any {
	out := make([]map[string]any, 0, len(found))
	for _, p := range found {
		out = append(out, map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"price":     p.Price,
			"image_url": p.ImageURL,
			"aisle":     p.Aisle,
		})
	}
	return out
}

const fallbackToolReply = "Here you go!"
