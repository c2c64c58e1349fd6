package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/lifecycle"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/session"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/sessions"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
	"github.com/gargravish/EComm-Gemini-Live/pkg/store"
)

// echoConn replies to every user turn with one text event.
type echoConn struct {
	mu     sync.Mutex
	events chan *gemini.LiveEvent
	closed bool
}

func newEchoConn() *echoConn {
	return &echoConn{events: make(chan *gemini.LiveEvent, 16)}
}

func (c *echoConn) SendText(text string) error { return c.SendTurn(text, nil, "") }

func (c *echoConn) SendTurn(text string, frame []byte, mime string) error {
	c.events <- &gemini.LiveEvent{Text: "echo: " + text}
	c.events <- &gemini.LiveEvent{TurnComplete: true}
	return nil
}

func (c *echoConn) SendMedia(data []byte, mimeType string) error { return nil }

func (c *echoConn) SendToolResponse(id, name string, response map[string]any) error { return nil }

func (c *echoConn) Receive() (*gemini.LiveEvent, error) {
	ev, ok := <-c.events
	if !ok {
		return nil, io.EOF
	}
	return ev, nil
}

func (c *echoConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func newLiveRESTHandler(t *testing.T) LiveRESTHandler {
	t.Helper()
	responseStore := store.NewMemory(store.Options{TTL: time.Minute})
	t.Cleanup(func() { _ = responseStore.Close() })
	registry := sessions.NewRegistry(4)
	t.Cleanup(func() { registry.CancelAll() })

	return LiveRESTHandler{
		Logger:    slog.Default(),
		Lifecycle: lifecycle.New(),
		Registry:  registry,
		Store:     responseStore,
		NewChat: func(id string) *session.Chat {
			return session.NewChat(id, session.ChatConfig{Model: "test"}, session.ChatDeps{
				Connect: func(ctx context.Context, opts gemini.LiveOptions) (gemini.LiveConn, error) {
					return newEchoConn(), nil
				},
				Search: func(ctx context.Context, query string) ([]products.Product, error) {
					return nil, nil
				},
				Store: responseStore,
			})
		},
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	handler(rec, req)
	return rec
}

func TestLiveRESTChatLifecycle(t *testing.T) {
	h := newLiveRESTHandler(t)

	rec := postJSON(t, h.StartChat, "/api/live/start", "{}")
	if rec.Code != 200 {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.SessionID == "" {
		t.Fatal("no session_id returned")
	}

	rec = postJSON(t, h.ChatMessage, "/api/live/message",
		`{"session_id":"`+started.SessionID+`","message":"hello"}`)
	if rec.Code != 200 {
		t.Fatalf("message status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Poll until the echoed response lands in the store.
	deadline := time.Now().Add(2 * time.Second)
	seen := false
	for !seen && time.Now().Before(deadline) {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/live/response/"+started.SessionID, nil)
		req.SetPathValue("id", started.SessionID)
		h.ChatResponse(rec, req)
		if rec.Code != 200 {
			t.Fatalf("response status = %d", rec.Code)
		}
		var poll struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &poll); err != nil {
			t.Fatalf("decode poll: %v", err)
		}
		for _, ev := range poll.Events {
			if strings.Contains(string(ev), "echo: hello") {
				seen = true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !seen {
		t.Fatal("echoed response never appeared in poll")
	}

	rec = postJSON(t, h.EndChat, "/api/live/end", `{"session_id":"`+started.SessionID+`"}`)
	if rec.Code != 200 {
		t.Fatalf("end status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLiveRESTMessageUnknownSession(t *testing.T) {
	h := newLiveRESTHandler(t)
	rec := postJSON(t, h.ChatMessage, "/api/live/message", `{"session_id":"nope","message":"hi"}`)
	if rec.Code != 404 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLiveRESTStartRejectedWhileDraining(t *testing.T) {
	h := newLiveRESTHandler(t)
	h.Lifecycle.SetDraining(true)
	rec := postJSON(t, h.StartChat, "/api/live/start", "{}")
	if rec.Code != 503 {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLiveRESTSessionCapReturns429(t *testing.T) {
	h := newLiveRESTHandler(t)
	h.Registry = sessions.NewRegistry(1)
	t.Cleanup(func() { h.Registry.CancelAll() })

	if rec := postJSON(t, h.StartChat, "/api/live/start", "{}"); rec.Code != 200 {
		t.Fatalf("first start status = %d", rec.Code)
	}
	if rec := postJSON(t, h.StartChat, "/api/live/start", "{}"); rec.Code != 429 {
		t.Fatalf("second start status = %d", rec.Code)
	}
}
