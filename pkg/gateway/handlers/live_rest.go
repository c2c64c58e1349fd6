package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/lifecycle"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/session"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/sessions"
	"github.com/gargravish/EComm-Gemini-Live/pkg/store"
)

// LiveRESTHandler is the REST shim over the live session engines, for
// clients that cannot hold a WebSocket. Chat sessions are polled through the
// response store; duplex sessions only support start/message/end.
type LiveRESTHandler struct {
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Registry  *sessions.Registry
	Store     store.ResponseStore

	NewChat   func(id string) *session.Chat
	NewDuplex func(id string) *session.Duplex
}

func (h LiveRESTHandler) draining(w http.ResponseWriter, r *http.Request) bool {
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreError(w, r, &core.Error{
			Type:    core.ErrUnavailable,
			Message: "server is draining",
			Code:    "draining",
		}, http.StatusServiceUnavailable)
		return true
	}
	return false
}

// StartChat handles POST /api/live/start.
func (h LiveRESTHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.draining(w, r) {
		return
	}

	id := uuid.NewString()
	s := h.NewChat(id)
	unregister, err := h.Registry.Register(s)
	if err != nil {
		writeError(w, r, core.NewRateLimitError("too many live sessions"))
		return
	}
	go func() {
		defer unregister()
		s.Run()
	}()

	h.Logger.Info("live: session started", "session_id", id, "surface", "rest")
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "started"})
}

// ChatMessage handles POST /api/live/message.
func (h LiveRESTHandler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
		FrameB64  string `json:"frame_b64"`
		FrameMime string `json:"frame_mime"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	chat, err := h.lookupChat(body.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Message) == "" && strings.TrimSpace(body.FrameB64) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("message or frame_b64 is required", "message"))
		return
	}
	if err := chat.Enqueue(body.Message, body.FrameB64, body.FrameMime); err != nil {
		writeError(w, r, core.NewInvalidRequestError(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued"})
}

// ChatResponse handles GET /api/live/response/{id}: it drains the events
// accumulated since the last poll.
func (h LiveRESTHandler) ChatResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := r.PathValue("id")
	if strings.TrimSpace(id) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("session id is required", "id"))
		return
	}

	events, err := h.Store.Drain(r.Context(), id)
	if err != nil {
		writeError(w, r, core.NewUpstreamError("response store read failed", err.Error()))
		return
	}
	raw := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		raw = append(raw, json.RawMessage(ev))
	}
	_, active := h.Registry.Lookup(id)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "active": active, "events": raw})
}

// EndChat handles POST /api/live/end.
func (h LiveRESTHandler) EndChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	chat, err := h.lookupChat(body.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	chat.Close(5 * time.Second)
	h.Logger.Info("live: session ended", "session_id", body.SessionID, "surface", "rest")
	writeJSON(w, http.StatusOK, map[string]any{"session_id": body.SessionID, "status": "ended"})
}

// StartDuplex handles POST /api/live2/start.
func (h LiveRESTHandler) StartDuplex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.draining(w, r) {
		return
	}

	id := uuid.NewString()
	s := h.NewDuplex(id)
	unregister, err := h.Registry.Register(s)
	if err != nil {
		writeError(w, r, core.NewRateLimitError("too many live sessions"))
		return
	}
	go func() {
		defer unregister()
		s.Run()
	}()

	h.Logger.Info("live2: session started", "session_id", id, "surface", "rest")
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "started"})
}

// DuplexMessage handles POST /api/live2/message: one base64 PCM chunk or one
// video frame.
func (h LiveRESTHandler) DuplexMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var body struct {
		SessionID string `json:"session_id"`
		AudioB64  string `json:"audio_b64"`
		FrameB64  string `json:"frame_b64"`
		FrameMime string `json:"frame_mime"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	duplex, err := h.lookupDuplex(body.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case strings.TrimSpace(body.AudioB64) != "":
		if err := duplex.HandleAudio(body.AudioB64); err != nil {
			writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "audio_b64"))
			return
		}
	case strings.TrimSpace(body.FrameB64) != "":
		if err := duplex.HandleVideoFrame(body.FrameB64, body.FrameMime); err != nil {
			writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "frame_b64"))
			return
		}
	default:
		writeError(w, r, core.NewInvalidRequestError("audio_b64 or frame_b64 is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

// EndDuplex handles POST /api/live2/end.
func (h LiveRESTHandler) EndDuplex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	duplex, err := h.lookupDuplex(body.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	duplex.Close()
	h.Logger.Info("live2: session ended", "session_id", body.SessionID, "surface", "rest")
	writeJSON(w, http.StatusOK, map[string]any{"session_id": body.SessionID, "status": "ended"})
}

func (h LiveRESTHandler) lookupChat(id string) (*session.Chat, error) {
	if strings.TrimSpace(id) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("session_id is required", "session_id")
	}
	s, ok := h.Registry.Lookup(id)
	if !ok {
		return nil, core.NewNotFoundError("session not found")
	}
	chat, ok := s.(*session.Chat)
	if !ok {
		return nil, core.NewInvalidRequestError("session is not a chat session")
	}
	return chat, nil
}

func (h LiveRESTHandler) lookupDuplex(id string) (*session.Duplex, error) {
	if strings.TrimSpace(id) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("session_id is required", "session_id")
	}
	s, ok := h.Registry.Lookup(id)
	if !ok {
		return nil, core.NewNotFoundError("session not found")
	}
	duplex, ok := s.(*session.Duplex)
	if !ok {
		return nil, core.NewInvalidRequestError("session is not a live2 session")
	}
	return duplex, nil
}
