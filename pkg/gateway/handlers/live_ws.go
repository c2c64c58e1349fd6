package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/config"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/lifecycle"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/protocol"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/session"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/sessions"
)

// LiveWSHandler handles GET /ws/live: the chat-mode live socket.
type LiveWSHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Registry  *sessions.Registry

	NewChat func(id string) *session.Chat
}

func (h LiveWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := upgradeLive(w, r, h.Config, h.Lifecycle)
	if !ok {
		return
	}
	defer conn.Close()

	if _, ok := readStartFrame(conn, h.Config, protocol.DecodeChatMessage, "start_session"); !ok {
		return
	}

	id := uuid.NewString()
	s := h.NewChat(id)
	unregister, err := h.Registry.Register(s)
	if err != nil {
		writeWSError(conn, "session_limit", "too many live sessions")
		return
	}
	defer unregister()

	_ = conn.WriteJSON(protocol.ServerSessionCreated{Type: "session_created", SessionID: id})
	h.Logger.Info("live: session started", "session_id", id, "surface", "ws")

	go s.Run()
	go s.RunWriter(conn)
	defer s.Close(5 * time.Second)

	armReadDeadline(conn, h.Config)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			s.Fail("bad_request", "frames must be JSON text")
			return
		}
		armReadDeadline(conn, h.Config)

		decoded, err := protocol.DecodeChatMessage(data)
		if err != nil {
			s.Fail(decodeCode(err), err.Error())
			return
		}
		switch msg := decoded.(type) {
		case protocol.ClientUserMessage:
			if err := s.Enqueue(msg.Text, msg.FrameB64, msg.FrameMime); err != nil {
				_ = s.Warn("enqueue_failed", err.Error())
			}
		case protocol.ClientVideoFrame:
			if err := s.SetVideoFrame(msg.FrameB64, msg.FrameMime); err != nil {
				_ = s.Warn("bad_frame", err.Error())
			}
		case protocol.ClientEndSession:
			return
		case protocol.ClientStartSession:
			_ = s.Warn("already_started", "session already started")
		}
	}
}

// Live2WSHandler handles GET /ws/live2: the full-duplex audio/video socket.
type Live2WSHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Registry  *sessions.Registry

	NewDuplex func(id string) *session.Duplex
}

func (h Live2WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := upgradeLive(w, r, h.Config, h.Lifecycle)
	if !ok {
		return
	}
	defer conn.Close()

	if _, ok := readStartFrame(conn, h.Config, protocol.DecodeDuplexMessage, "start"); !ok {
		return
	}

	id := uuid.NewString()
	s := h.NewDuplex(id)
	unregister, err := h.Registry.Register(s)
	if err != nil {
		writeWSError(conn, "session_limit", "too many live sessions")
		return
	}
	defer unregister()

	_ = conn.WriteJSON(protocol.ServerSessionCreated{Type: "session_created", SessionID: id})
	h.Logger.Info("live2: session started", "session_id", id, "surface", "ws")

	go s.Run()
	go s.RunWriter(conn)
	defer s.Close()

	armReadDeadline(conn, h.Config)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			s.Fail("bad_request", "frames must be JSON text")
			return
		}
		armReadDeadline(conn, h.Config)

		decoded, err := protocol.DecodeDuplexMessage(data)
		if err != nil {
			s.Fail(decodeCode(err), err.Error())
			return
		}
		switch msg := decoded.(type) {
		case protocol.ClientAudioChunk:
			if err := s.HandleAudio(msg.AudioB64); err != nil {
				s.Fail("policy_violation", err.Error())
				return
			}
		case protocol.ClientVideoFrame:
			if err := s.HandleVideoFrame(msg.FrameB64, msg.FrameMime); err != nil {
				_ = s.Warn("bad_frame", err.Error())
			}
		case protocol.ClientVideoFeedStopped:
			s.HandleVideoFeedStopped()
		case protocol.ClientBargeIn:
			s.HandleBargeIn()
		case protocol.ClientEnd:
			return
		case protocol.ClientStart:
			_ = s.Warn("already_started", "session already started")
		}
	}
}

// upgradeLive runs the shared handshake: method and draining checks, origin
// allowlist, upgrade, read limit.
func upgradeLive(w http.ResponseWriter, r *http.Request, cfg config.Config, lc *lifecycle.Lifecycle) (*websocket.Conn, bool) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return nil, false
	}
	if lc != nil && lc.IsDraining() {
		writeCoreError(w, r, &core.Error{
			Type:    core.ErrUnavailable,
			Message: "server is draining",
			Code:    "draining",
		}, http.StatusServiceUnavailable)
		return nil, false
	}
	if !originAllowed(r, cfg) {
		writeCoreError(w, r, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "origin is not allowed",
			Param:   "Origin",
		}, http.StatusForbidden)
		return nil, false
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, false
	}
	if cfg.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(cfg.LiveMaxJSONMessageBytes)
	}
	return conn, true
}

// readStartFrame enforces that the first client frame is the start frame.
func readStartFrame(conn *websocket.Conn, cfg config.Config, decode func([]byte) (any, error), want string) (any, bool) {
	timeout := cfg.LiveHandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		writeWSError(conn, "bad_request", "failed to read start frame")
		return nil, false
	}
	if messageType != websocket.TextMessage {
		writeWSError(conn, "bad_request", "first frame must be "+want)
		return nil, false
	}
	decoded, err := decode(data)
	if err != nil {
		writeWSError(conn, decodeCode(err), err.Error())
		return nil, false
	}

	switch decoded.(type) {
	case protocol.ClientStartSession, protocol.ClientStart:
		return decoded, true
	default:
		writeWSError(conn, "bad_request", "first frame must be "+want)
		return nil, false
	}
}

// writeWSError is only safe before the session writer starts.
func writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second),
	)
}

func originAllowed(r *http.Request, cfg config.Config) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := cfg.CORSAllowedOrigins[origin]
	return ok
}

func armReadDeadline(conn *websocket.Conn, cfg config.Config) {
	idle := 2 * cfg.LiveWSPingInterval
	if idle <= 0 {
		idle = time.Minute
	}
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})
}

func decodeCode(err error) string {
	if decErr, ok := err.(*protocol.DecodeError); ok {
		return decErr.Code
	}
	return "bad_request"
}
