package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/protocol"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/metrics"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/tts"
	"github.com/gargravish/EComm-Gemini-Live/pkg/store"
)

// ChatConfig tunes one chat-mode live session.
type ChatConfig struct {
	Model         string
	Instructions  string
	QueueSize     int
	TTSChunkBytes int
	TurnTimeout   time.Duration
	PingInterval  time.Duration
	WriteTimeout  time.Duration
}

// ChatDeps are the collaborators a chat session needs. TTS and Store may be
// nil; the session then runs text-only and skips the polling mirror.
type ChatDeps struct {
	Connect ConnectFunc
	Search  SearchFunc
	TTS     tts.Provider
	Store   store.ResponseStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// chatTurn is one queued user turn. end is the shutdown sentinel.
type chatTurn struct {
	end   bool
	text  string
	frame []byte
	mime  string
}

// Chat is a chat-mode live session. One goroutine runs Run; Enqueue,
// SetVideoFrame, Warn and Cancel are safe from any goroutine.
type Chat struct {
	id   string
	cfg  ChatConfig
	deps ChatDeps

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	inbox    chan chatTurn
	normal   chan outboundFrame
	priority chan outboundFrame

	// activeTurn is the turn whose output is currently allowed through the
	// writer. Audio frames from older turns are dropped.
	activeTurn atomic.Uint64

	// pendingTurns counts queued user turns. The end sentinel is not a user
	// turn, so a graceful close never interrupts the final audio stream.
	pendingTurns atomic.Int64

	mu        sync.Mutex
	lastFrame []byte
	frameMime string
}

func NewChat(id string, cfg ChatConfig, deps ChatDeps) *Chat {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Chat{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		inbox:    make(chan chatTurn, cfg.QueueSize),
		normal:   make(chan outboundFrame, 256),
		priority: make(chan outboundFrame, 32),
	}
}

func (s *Chat) ID() string { return s.id }

// Done is closed when the session loop has exited.
func (s *Chat) Done() <-chan struct{} { return s.done }

// Cancel force-stops the session.
func (s *Chat) Cancel() { s.cancel() }

// Warn pushes a warning frame to the client.
func (s *Chat) Warn(code, message string) error {
	s.publishPriority(encode(protocol.ServerWarning{Type: "warning", Code: code, Message: message}))
	return nil
}

// Fail pushes a closing error frame and stops the session.
func (s *Chat) Fail(code, message string) {
	s.publishPriority(encode(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true}))
	s.cancel()
}

// RunWriter pumps outbound frames onto sock until the session ends. The
// WebSocket handler calls this on its own goroutine; REST-managed sessions
// never attach a socket and rely on the response store instead.
func (s *Chat) RunWriter(sock Socket) {
	w := &outboundWriter{
		ws:     sock,
		ctx:    s.ctx,
		cfg:    writerConfig{pingInterval: s.cfg.PingInterval, writeTimeout: s.cfg.WriteTimeout},
		logger: s.deps.Logger,

		priority: s.priority,
		normal:   s.normal,

		isCanceled: func(turn uint64) bool { return turn != s.activeTurn.Load() },
	}
	w.Run()
}

// SetVideoFrame stores the latest camera frame; it rides along with the next
// user message as one multimodal turn.
func (s *Chat) SetVideoFrame(frameB64, mime string) error {
	data, err := base64.StdEncoding.DecodeString(frameB64)
	if err != nil {
		return fmt.Errorf("decode video frame: %w", err)
	}
	s.mu.Lock()
	s.lastFrame = data
	s.frameMime = mime
	s.mu.Unlock()
	return nil
}

// Enqueue queues one user turn. An explicit frame wins over a stored video
// frame; the stored frame is consumed either way.
func (s *Chat) Enqueue(text, frameB64, mime string) error {
	turn := chatTurn{text: text, mime: mime}
	if strings.TrimSpace(frameB64) != "" {
		data, err := base64.StdEncoding.DecodeString(frameB64)
		if err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		turn.frame = data
	} else {
		s.mu.Lock()
		turn.frame = s.lastFrame
		turn.mime = s.frameMime
		s.lastFrame = nil
		s.frameMime = ""
		s.mu.Unlock()
	}

	select {
	case s.inbox <- turn:
		s.pendingTurns.Add(1)
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("session %s: message queue full", s.id)
	}
}

// Close asks the loop to finish its current turn and exit, waiting up to
// timeout before forcing a cancel.
func (s *Chat) Close(timeout time.Duration) {
	select {
	case s.inbox <- chatTurn{end: true}:
	default:
		s.cancel()
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		s.cancel()
	}
}

// Run owns the Gemini Live connection and processes queued turns until the
// end sentinel, a cancel, or an upstream close.
func (s *Chat) Run() {
	defer close(s.done)
	defer s.cancel()

	started := time.Now()
	s.deps.Metrics.RecordLiveSessionStart()
	status := "ok"
	defer func() {
		s.deps.Metrics.RecordLiveSessionEnd("chat", status, time.Since(started))
	}()

	conn, err := s.deps.Connect(s.ctx, gemini.LiveOptions{
		Model:        s.cfg.Model,
		Instructions: s.cfg.Instructions,
	})
	if err != nil {
		status = "connect_error"
		s.deps.Metrics.RecordError("gemini_live", "connect")
		s.deps.Logger.Error("live: connect failed", "session_id", s.id, "error", err)
		s.publishPriority(encode(protocol.ServerError{
			Type: "error", Code: "upstream", Message: "live connection failed", Close: true,
		}))
		return
	}
	defer conn.Close()

	events := make(chan *gemini.LiveEvent, 32)
	recvErr := make(chan error, 1)
	go pumpEvents(conn, events, recvErr)

	s.publishPriority(encode(protocol.ServerSessionReady{Type: "session_ready", SessionID: s.id}))
	s.deps.Logger.Info("live: chat session ready", "session_id", s.id, "model", s.cfg.Model)

	var seq uint64
	for {
		select {
		case <-s.ctx.Done():
			status = "canceled"
			return
		case err := <-recvErr:
			status = "upstream_closed"
			s.deps.Logger.Warn("live: upstream closed", "session_id", s.id, "error", err)
			s.publishPriority(encode(protocol.ServerError{
				Type: "error", Code: "upstream", Message: "live connection closed", Close: true,
			}))
			return
		case turn := <-s.inbox:
			if turn.end {
				s.publishPriority(encode(protocol.ServerSessionEnded{Type: "session_ended", SessionID: s.id}))
				return
			}
			s.pendingTurns.Add(-1)
			seq++
			s.activeTurn.Store(seq)
			s.publishNormal(encode(protocol.ServerStatus{Type: "status", Message: "Processing your message..."}))
			text, err := s.runTurn(conn, events, recvErr, turn)
			if err != nil {
				status = "turn_error"
				s.deps.Logger.Error("live: turn failed", "session_id", s.id, "turn", seq, "error", err)
				s.publishPriority(encode(protocol.ServerError{
					Type: "error", Code: "upstream", Message: "turn failed", Close: true,
				}))
				return
			}
			s.speak(seq, text)
		}
	}
}

func pumpEvents(conn gemini.LiveConn, events chan<- *gemini.LiveEvent, recvErr chan<- error) {
	for {
		ev, err := conn.Receive()
		if err != nil {
			recvErr <- err
			return
		}
		events <- ev
	}
}

// runTurn sends one user turn and streams the model's reply until the turn
// completes, handling search_products tool calls in-process.
func (s *Chat) runTurn(conn gemini.LiveConn, events <-chan *gemini.LiveEvent, recvErr <-chan error, turn chatTurn) (string, error) {
	if err := conn.SendTurn(turn.text, turn.frame, turn.mime); err != nil {
		return "", fmt.Errorf("send turn: %w", err)
	}

	deadline := time.NewTimer(s.cfg.TurnTimeout)
	defer deadline.Stop()

	var reply strings.Builder
	hadTool := false
	for {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("turn timed out after %s", s.cfg.TurnTimeout)
		case err := <-recvErr:
			return "", fmt.Errorf("receive: %w", err)
		case ev := <-events:
			if ev.Text != "" {
				reply.WriteString(ev.Text)
				s.publishNormal(encode(protocol.ServerResponseChunk{Type: "response_chunk", Text: ev.Text}))
			}
			for _, call := range ev.ToolCalls {
				hadTool = true
				if err := s.handleToolCall(conn, call); err != nil {
					return "", err
				}
			}
			if ev.TurnComplete {
				text := reply.String()
				if strings.TrimSpace(text) == "" && hadTool {
					text = fallbackToolReply
					s.publishNormal(encode(protocol.ServerResponseChunk{Type: "response_chunk", Text: text}))
				}
				s.publishNormal(encode(protocol.ServerResponseComplete{Type: "response_complete", Text: text}))
				return text, nil
			}
		}
	}
}

func (s *Chat) handleToolCall(conn gemini.LiveConn, call gemini.ToolCall) error {
	if call.Name != gemini.SearchProductsToolName {
		s.deps.Logger.Warn("live: unsupported tool", "session_id", s.id, "tool", call.Name)
		return conn.SendToolResponse(call.ID, call.Name, map[string]any{"error": "Unsupported function"})
	}

	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()
	found, err := s.deps.Search(ctx, call.Query)
	if err != nil {
		s.deps.Metrics.RecordError("search", "tool_call")
		s.deps.Logger.Error("live: tool search failed", "session_id", s.id, "query", call.Query, "error", err)
		return conn.SendToolResponse(call.ID, call.Name, map[string]any{"error": err.Error()})
	}
	if len(found) > gemini.ToolResultLimit {
		found = found[:gemini.ToolResultLimit]
	}

	maps := productMaps(found)
	s.publishNormal(encode(protocol.ServerFunctionResult{
		Type: "function_result", FunctionName: call.Name, Results: maps,
	}))
	return conn.SendToolResponse(call.ID, call.Name, map[string]any{"products": maps})
}

// speak synthesizes the reply and streams it in fixed-size chunks. A queued
// user message interrupts the stream with an audio reset.
func (s *Chat) speak(turn uint64, text string) {
	if s.deps.TTS == nil || strings.TrimSpace(text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	audio, err := s.deps.TTS.Synthesize(ctx, text)
	if err != nil {
		s.deps.Metrics.RecordTTS("error")
		s.deps.Logger.Warn("live: tts failed", "session_id", s.id, "error", err)
		return
	}
	s.deps.Metrics.RecordTTS("ok")

	for i, chunk := range tts.ChunkBase64(audio, s.cfg.TTSChunkBytes) {
		if s.ctx.Err() != nil {
			return
		}
		if s.pendingTurns.Load() > 0 {
			s.publishPriority(encode(protocol.ServerAudioReset{Type: "audio_reset", Reason: protocol.ResetNewTurn}))
			s.deps.Metrics.RecordLiveInterrupt(protocol.ResetNewTurn)
			return
		}
		s.publishAudio(turn, encode(protocol.ServerAudioChunk{
			Type: "audio_chunk", Seq: int64(i), AudioB64: chunk,
		}))
	}
	s.publishNormal(encode(protocol.ServerAudioStreamEnd{Type: "audio_stream_end"}))
	s.deps.Metrics.RecordLiveAudio("out", len(audio))
}

// publish helpers mirror every frame into the response store so the REST
// polling surface sees the same stream a socket client would.

func (s *Chat) publishNormal(payload []byte) {
	s.mirror(payload)
	select {
	case s.normal <- outboundFrame{payload: payload}:
	default:
	}
}

func (s *Chat) publishAudio(turn uint64, payload []byte) {
	s.mirror(payload)
	select {
	case s.normal <- outboundFrame{payload: payload, audioTurn: turn}:
	default:
	}
}

func (s *Chat) publishPriority(payload []byte) {
	s.mirror(payload)
	select {
	case s.priority <- outboundFrame{payload: payload}:
	default:
	}
}

func (s *Chat) mirror(payload []byte) {
	if s.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Append(ctx, s.id, payload); err != nil {
		s.deps.Logger.Warn("live: store append failed", "session_id", s.id, "error", err)
	}
}
