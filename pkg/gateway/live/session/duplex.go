package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/turn"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/protocol"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/metrics"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
)

const (
	micMimeType = "audio/pcm;rate=16000"

	// audioAckEvery is how many accepted mic frames pass between audio_ack
	// frames back to the client.
	audioAckEvery = 50
)

// DuplexConfig tunes one full-duplex live session.
type DuplexConfig struct {
	Model        string
	Instructions string
	Voice        string
	Language     string

	MaxFrameBytes int
	FramesPerSec  int
	BytesPerSec   int64
	BurstSeconds  int
	AudioQueue    int

	Turn turn.Config

	PingInterval time.Duration
	WriteTimeout time.Duration
	MaxDuration  time.Duration
}

// DuplexDeps are the collaborators a duplex session needs.
type DuplexDeps struct {
	Connect ConnectFunc
	Search  SearchFunc
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Duplex is a full-duplex audio/video live session. The socket reader feeds
// Handle* methods; Run owns the upstream connection.
type Duplex struct {
	id   string
	cfg  DuplexConfig
	deps DuplexDeps

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	ctrl   *turn.Controller
	budget *audioBudget

	normal   chan outboundFrame
	priority chan outboundFrame
	audioIn  chan []byte

	// Playback tags are turn numbers shifted by one so zero stays free to
	// mean "not an audio frame" in the writer.
	speakTag  atomic.Uint64
	cancelTag atomic.Uint64

	sendMu sync.Mutex
	conn   gemini.LiveConn

	// audioMu serializes HandleAudio: the WebSocket reader is a single
	// goroutine, but the REST shim calls in from concurrent requests.
	audioMu        sync.Mutex
	acceptedFrames int64
	acceptedBytes  int64
}

func NewDuplex(id string, cfg DuplexConfig, deps DuplexDeps) *Duplex {
	if cfg.AudioQueue <= 0 {
		cfg.AudioQueue = 64
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 2 * time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Duplex{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		budget:   newAudioBudget(nil, cfg.FramesPerSec, cfg.BytesPerSec, cfg.BurstSeconds),
		normal:   make(chan outboundFrame, 256),
		priority: make(chan outboundFrame, 32),
		audioIn:  make(chan []byte, cfg.AudioQueue),
	}
	s.ctrl = turn.New(cfg.Turn)
	s.ctrl.SetCallbacks(s.onCommit, s.onResume, s.onInterrupt, s.onDebug)
	return s
}

func (s *Duplex) ID() string            { return s.id }
func (s *Duplex) Done() <-chan struct{} { return s.done }
func (s *Duplex) Cancel()               { s.cancel() }

func (s *Duplex) Warn(code, message string) error {
	s.publishPriority(encode(protocol.ServerWarning{Type: "warning", Code: code, Message: message}))
	return nil
}

// Fail pushes a closing error frame and stops the session.
func (s *Duplex) Fail(code, message string) {
	s.publishPriority(encode(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true}))
	s.cancel()
}

// RunWriter pumps outbound frames onto sock until the session ends.
func (s *Duplex) RunWriter(sock Socket) {
	w := &outboundWriter{
		ws:     sock,
		ctx:    s.ctx,
		cfg:    writerConfig{pingInterval: s.cfg.PingInterval, writeTimeout: s.cfg.WriteTimeout},
		logger: s.deps.Logger,

		priority: s.priority,
		normal:   s.normal,

		isCanceled: func(tag uint64) bool { return tag <= s.cancelTag.Load() },
	}
	w.Run()
}

// Turn controller callbacks.

func (s *Duplex) onCommit(t uint64) {
	s.speakTag.Store(t + 1)
	s.deps.Logger.Debug("live2: turn committed", "session_id", s.id, "turn", t)
}

func (s *Duplex) onResume(t uint64) {
	s.deps.Logger.Debug("live2: turn reopened", "session_id", s.id, "turn", t)
}

func (s *Duplex) onInterrupt(reason turn.InterruptReason) {
	s.cancelTag.Store(s.speakTag.Load())
	s.publishPriority(encode(protocol.ServerAudioReset{Type: "audio_reset", Reason: string(reason)}))
	s.deps.Metrics.RecordLiveInterrupt(string(reason))
}

func (s *Duplex) onDebug(category, message string) {
	s.deps.Logger.Debug("live2: "+message, "session_id", s.id, "category", category)
}

// HandleAudio processes one base64 PCM mic chunk from the reader goroutine.
// A nil error with dropped audio is normal; a non-nil error is a protocol
// violation and closes the session.
func (s *Duplex) HandleAudio(audioB64 string) error {
	data, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	if s.cfg.MaxFrameBytes > 0 && len(data) > s.cfg.MaxFrameBytes {
		return fmt.Errorf("audio frame of %d bytes exceeds limit %d", len(data), s.cfg.MaxFrameBytes)
	}

	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	if !s.budget.Allow(len(data)) {
		s.publishPriority(encode(protocol.ServerWarning{
			Type: "warning", Code: "rate_limited", Message: "audio arriving too fast, frame dropped",
		}))
		return nil
	}
	if !s.ctrl.AudioReceived(len(data)) {
		// Agent holds the floor and barge-in has not tripped.
		return nil
	}

	// Bounded queue, oldest frame loses.
	select {
	case s.audioIn <- data:
	default:
		select {
		case <-s.audioIn:
		default:
		}
		select {
		case s.audioIn <- data:
		default:
		}
	}

	s.deps.Metrics.RecordLiveAudio("in", len(data))
	s.acceptedFrames++
	s.acceptedBytes += int64(len(data))
	if s.acceptedFrames%audioAckEvery == 0 {
		s.publishNormal(encode(protocol.ServerAudioAck{Type: "audio_ack", Bytes: s.acceptedBytes}))
	}
	return nil
}

// HandleVideoFrame forwards one camera frame straight to the model.
func (s *Duplex) HandleVideoFrame(frameB64, mime string) error {
	data, err := base64.StdEncoding.DecodeString(frameB64)
	if err != nil {
		return fmt.Errorf("decode video frame: %w", err)
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	s.sendMu.Lock()
	conn := s.conn
	s.sendMu.Unlock()
	if conn == nil {
		return nil
	}

	s.sendMu.Lock()
	err = conn.SendMedia(data, mime)
	s.sendMu.Unlock()
	if err != nil {
		s.deps.Logger.Warn("live2: video send failed", "session_id", s.id, "error", err)
	}
	return nil
}

// HandleVideoFeedStopped acknowledges the camera going away.
func (s *Duplex) HandleVideoFeedStopped() {
	s.publishNormal(encode(protocol.ServerVideoQueueCleared{Type: "video_queue_cleared"}))
}

// HandleBargeIn is the client's explicit stop-talking signal, used by
// clients that detect speech locally instead of streaming it.
func (s *Duplex) HandleBargeIn() {
	if s.ctrl.State() != turn.StateSpeaking {
		return
	}
	t := s.ctrl.Turn()
	s.cancelTag.Store(s.speakTag.Load())
	s.publishPriority(encode(protocol.ServerAudioReset{Type: "audio_reset", Reason: protocol.ResetBargeIn}))
	s.deps.Metrics.RecordLiveInterrupt(protocol.ResetBargeIn)
	s.ctrl.AgentDone(t)
}

// Close ends the session, flushing a session_ended frame first.
func (s *Duplex) Close() {
	s.publishPriority(encode(protocol.ServerSessionEnded{Type: "session_ended", SessionID: s.id}))
	s.cancel()
	<-s.done
}

// Run owns the Gemini Live connection: it forwards queued mic audio up and
// turns model output into client frames until cancel, upstream close, or the
// session duration cap.
func (s *Duplex) Run() {
	defer close(s.done)
	defer s.cancel()
	defer s.ctrl.Close()

	started := time.Now()
	s.deps.Metrics.RecordLiveSessionStart()
	status := "ok"
	defer func() {
		s.deps.Metrics.RecordLiveSessionEnd("duplex", status, time.Since(started))
	}()

	conn, err := s.deps.Connect(s.ctx, gemini.LiveOptions{
		Model:        s.cfg.Model,
		Instructions: s.cfg.Instructions,
		AudioOutput:  true,
		Voice:        s.cfg.Voice,
		Language:     s.cfg.Language,
	})
	if err != nil {
		status = "connect_error"
		s.deps.Metrics.RecordError("gemini_live", "connect")
		s.deps.Logger.Error("live2: connect failed", "session_id", s.id, "error", err)
		s.publishPriority(encode(protocol.ServerError{
			Type: "error", Code: "upstream", Message: "live connection failed", Close: true,
		}))
		return
	}
	defer conn.Close()

	s.sendMu.Lock()
	s.conn = conn
	s.sendMu.Unlock()

	go s.pumpMic(conn)

	events := make(chan *gemini.LiveEvent, 32)
	recvErr := make(chan error, 1)
	go pumpEvents(conn, events, recvErr)

	s.publishPriority(encode(protocol.ServerSessionReady{Type: "session_ready", SessionID: s.id}))
	s.deps.Logger.Info("live2: session ready", "session_id", s.id, "model", s.cfg.Model, "voice", s.cfg.Voice)

	lifetime := time.NewTimer(s.cfg.MaxDuration)
	defer lifetime.Stop()

	for {
		select {
		case <-s.ctx.Done():
			status = "canceled"
			return
		case <-lifetime.C:
			status = "expired"
			s.publishPriority(encode(protocol.ServerError{
				Type: "error", Code: "session_expired", Message: "maximum session duration reached", Close: true,
			}))
			return
		case err := <-recvErr:
			status = "upstream_closed"
			s.deps.Logger.Warn("live2: upstream closed", "session_id", s.id, "error", err)
			s.publishPriority(encode(protocol.ServerError{
				Type: "error", Code: "upstream", Message: "live connection closed", Close: true,
			}))
			return
		case ev := <-events:
			s.handleEvent(conn, ev)
		}
	}
}

func (s *Duplex) pumpMic(conn gemini.LiveConn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.audioIn:
			s.sendMu.Lock()
			err := conn.SendMedia(data, micMimeType)
			s.sendMu.Unlock()
			if err != nil {
				s.deps.Logger.Warn("live2: audio send failed", "session_id", s.id, "error", err)
				return
			}
		}
	}
}

func (s *Duplex) handleEvent(conn gemini.LiveConn, ev *gemini.LiveEvent) {
	if len(ev.Audio) > 0 {
		t := s.ctrl.Turn()
		if s.ctrl.State() != turn.StateSpeaking {
			s.ctrl.AgentSpeaking(t)
			s.speakTag.Store(t + 1)
		}
		s.publishAudio(s.speakTag.Load(), encode(protocol.ServerAssistantAudio{
			Type:     "assistant_audio",
			AudioB64: base64.StdEncoding.EncodeToString(ev.Audio),
		}))
		s.deps.Metrics.RecordLiveAudio("out", len(ev.Audio))
	}

	if ev.InputTranscript != "" {
		s.publishNormal(encode(protocol.ServerAssistantText{
			Type: "assistant_text", Text: ev.InputTranscript,
			Sender: protocol.SenderUser, Transcription: true,
		}))
	}
	if ev.OutputTranscript != "" {
		s.publishNormal(encode(protocol.ServerAssistantText{
			Type: "assistant_text", Text: ev.OutputTranscript,
			Sender: protocol.SenderGemini, Transcription: true,
		}))
	}
	if ev.Text != "" {
		s.publishNormal(encode(protocol.ServerAssistantText{
			Type: "assistant_text", Text: ev.Text, Sender: protocol.SenderGemini,
		}))
	}

	for _, call := range ev.ToolCalls {
		s.handleToolCall(conn, call)
	}

	if ev.Interrupted {
		s.cancelTag.Store(s.speakTag.Load())
		s.publishPriority(encode(protocol.ServerAudioReset{Type: "audio_reset", Reason: protocol.ResetInterrupted}))
		s.deps.Metrics.RecordLiveInterrupt(protocol.ResetInterrupted)
		s.ctrl.AgentDone(s.ctrl.Turn())
	}
	if ev.TurnComplete {
		s.publishNormal(encode(protocol.ServerResponseComplete{Type: "response_complete"}))
		s.ctrl.AgentDone(s.ctrl.Turn())
	}
}

func (s *Duplex) handleToolCall(conn gemini.LiveConn, call gemini.ToolCall) {
	respond := func(response map[string]any) {
		s.sendMu.Lock()
		err := conn.SendToolResponse(call.ID, call.Name, response)
		s.sendMu.Unlock()
		if err != nil {
			s.deps.Logger.Warn("live2: tool response failed", "session_id", s.id, "error", err)
		}
	}

	if call.Name != gemini.SearchProductsToolName {
		s.deps.Logger.Warn("live2: unsupported tool", "session_id", s.id, "tool", call.Name)
		respond(map[string]any{"error": "Unsupported function"})
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()
	found, err := s.deps.Search(ctx, call.Query)
	if err != nil {
		s.deps.Metrics.RecordError("search", "tool_call")
		s.deps.Logger.Error("live2: tool search failed", "session_id", s.id, "query", call.Query, "error", err)
		respond(map[string]any{"error": err.Error()})
		return
	}
	if len(found) > gemini.ToolResultLimit {
		found = found[:gemini.ToolResultLimit]
	}

	maps := productMaps(found)
	s.publishNormal(encode(protocol.ServerFunctionResult{
		Type: "function_result", FunctionName: call.Name, Results: maps,
	}))
	respond(map[string]any{"products": maps})
}

func (s *Duplex) publishNormal(payload []byte) {
	select {
	case s.normal <- outboundFrame{payload: payload}:
	default:
	}
}

func (s *Duplex) publishAudio(tag uint64, payload []byte) {
	select {
	case s.normal <- outboundFrame{payload: payload, audioTurn: tag}:
	default:
	}
}

func (s *Duplex) publishPriority(payload []byte) {
	select {
	case s.priority <- outboundFrame{payload: payload}:
	default:
	}
}
