package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/lifecycle"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/session"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/sessions"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
)

func newLiveWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := sessions.NewRegistry(4)
	t.Cleanup(func() { registry.CancelAll() })

	h := LiveWSHandler{
		Config:    validConfig(),
		Logger:    slog.Default(),
		Lifecycle: lifecycle.New(),
		Registry:  registry,
		NewChat: func(id string) *session.Chat {
			return session.NewChat(id, session.ChatConfig{Model: "test", PingInterval: time.Hour}, session.ChatDeps{
				Connect: func(ctx context.Context, opts gemini.LiveOptions) (gemini.LiveConn, error) {
					return newEchoConn(), nil
				},
				Search: func(ctx context.Context, query string) ([]products.Product, error) {
					return nil, nil
				},
			})
		},
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return frame
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["type"] == typ {
			return frame
		}
	}
	t.Fatalf("never received %q frame", typ)
	return nil
}

func TestLiveWSChatSession(t *testing.T) {
	srv := newLiveWSServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "start_session"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	created := readUntil(t, conn, "session_created")
	if created["session_id"] == "" {
		t.Fatalf("session_created = %v", created)
	}
	readUntil(t, conn, "session_ready")

	if err := conn.WriteJSON(map[string]any{"type": "user_message", "text": "hi"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	chunk := readUntil(t, conn, "response_chunk")
	if chunk["text"] != "echo: hi" {
		t.Fatalf("chunk = %v", chunk)
	}
	readUntil(t, conn, "response_complete")
}

func TestLiveWSRejectsBadFirstFrame(t *testing.T) {
	srv := newLiveWSServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "user_message", "text": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readUntil(t, conn, "error")
	if frame["code"] != "bad_request" {
		t.Fatalf("error frame = %v", frame)
	}
}

func TestLiveWSRejectsDisallowedOrigin(t *testing.T) {
	srv := newLiveWSServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial succeeded with disallowed origin")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("resp = %v", resp)
	}
}
