// Package server wires the HTTP surface together: routes, middleware, and
// the live session factories.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
	"github.com/gargravish/EComm-Gemini-Live/pkg/core/search"
	"github.com/gargravish/EComm-Gemini-Live/pkg/core/turn"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/config"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/handlers"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/lifecycle"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/session"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/sessions"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/metrics"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/mw"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/ratelimit"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/tts"
	"github.com/gargravish/EComm-Gemini-Live/pkg/store"
)

// Deps are the backends built in main. Search may be a zero Service and TTS,
// Store, and Metrics may be nil; the affected routes degrade instead of
// failing at startup.
type Deps struct {
	Gemini  *gemini.Client
	Search  *search.Service
	TTS     tts.Provider
	Store   store.ResponseStore
	Metrics *metrics.Metrics

	TTSAvailable bool
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps      Deps
	lifecycle *lifecycle.Lifecycle
	limiter   *ratelimit.Limiter
	registry  *sessions.Registry
	chat      *gemini.ChatService
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		deps:      deps,
		lifecycle: lifecycle.New(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		}),
		registry: sessions.NewRegistry(cfg.LiveMaxSessions),
	}
	s.chat = deps.Gemini.NewChatService(cfg.MultimodalModel, cfg.MultimodalInstructions, s.toolSearch, logger)

	s.routes()
	return s
}

// SetDraining flips the server into drain mode: new sessions are refused
// while existing ones keep running.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells every live session the server is going away.
func (s *Server) WarnLiveSessionsDraining() {
	n := s.registry.WarnAll("server_draining", "Server is shutting down soon.")
	if n > 0 {
		s.logger.Info("warned live sessions", "sessions", n)
	}
}

// WaitLiveSessions blocks until all live sessions finish or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

// CancelLiveSessions force-closes any sessions that outlived the grace
// period.
func (s *Server) CancelLiveSessions() {
	n := s.registry.CancelAll()
	if n > 0 {
		s.logger.Warn("canceled live sessions", "sessions", n)
	}
}

// toolSearch backs the search_products tool in both the chat routes and the
// live sessions.
func (s *Server) toolSearch(ctx context.Context, query string) ([]products.Product, error) {
	resp, err := s.deps.Search.Search(ctx, search.Request{
		Query:         query,
		NeighborCount: s.cfg.SearchNeighbors,
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *Server) newChatSession(id string) *session.Chat {
	return session.NewChat(id, session.ChatConfig{
		Model:         s.cfg.LiveModel,
		Instructions:  s.cfg.LiveInstructions,
		TTSChunkBytes: s.cfg.TTSChunkBytes,
		TurnTimeout:   s.cfg.LiveTurnTimeout,
		PingInterval:  s.cfg.LiveWSPingInterval,
		WriteTimeout:  s.cfg.LiveWSWriteTimeout,
	}, session.ChatDeps{
		Connect: s.deps.Gemini.ConnectLive,
		Search:  s.toolSearch,
		TTS:     s.deps.TTS,
		Store:   s.deps.Store,
		Metrics: s.deps.Metrics,
		Logger:  s.logger,
	})
}

func (s *Server) newDuplexSession(id string) *session.Duplex {
	return session.NewDuplex(id, session.DuplexConfig{
		Model:         s.cfg.Live2Model,
		Instructions:  s.cfg.LiveInstructions,
		Voice:         s.cfg.Live2Voice,
		Language:      s.cfg.Live2Language,
		MaxFrameBytes: s.cfg.LiveMaxAudioFrameBytes,
		FramesPerSec:  s.cfg.LiveMaxAudioFPS,
		BytesPerSec:   s.cfg.LiveMaxAudioBPS,
		BurstSeconds:  s.cfg.LiveAudioBurstSeconds,
		Turn: turn.Config{
			SilenceCommit:   s.cfg.LiveSilenceCommit,
			GraceWindow:     s.cfg.LiveGraceWindow,
			BargeIn:         s.cfg.LiveBargeIn,
			MinBargeInBytes: s.cfg.LiveMinBargeInBytes,
		},
		PingInterval: s.cfg.LiveWSPingInterval,
		WriteTimeout: s.cfg.LiveWSWriteTimeout,
		MaxDuration:  s.cfg.WSMaxSessionDuration,
	}, session.DuplexDeps{
		Connect: s.deps.Gemini.ConnectLive,
		Search:  s.toolSearch,
		Metrics: s.deps.Metrics,
		Logger:  s.logger,
	})
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:       s.cfg,
		Lifecycle:    s.lifecycle,
		TTSAvailable: s.deps.TTSAvailable,
	})
	s.mux.Handle("/debug", handlers.DebugHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.registry,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("/api/chat", handlers.ChatHandler{
		Chat:   s.chat,
		Logger: s.logger,
	})
	s.mux.Handle("/api/chat/image", handlers.ChatHandler{
		Chat:      s.chat,
		Logger:    s.logger,
		WithImage: true,
	})
	s.mux.Handle("/api/search", handlers.SearchHandler{
		Service: s.deps.Search,
		Logger:  s.logger,
		Metrics: s.deps.Metrics,
	})

	rest := handlers.LiveRESTHandler{
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
		Store:     s.deps.Store,
		NewChat:   s.newChatSession,
		NewDuplex: s.newDuplexSession,
	}
	s.mux.HandleFunc("/api/live/start", rest.StartChat)
	s.mux.HandleFunc("/api/live/message", rest.ChatMessage)
	s.mux.HandleFunc("/api/live/response/{id}", rest.ChatResponse)
	s.mux.HandleFunc("/api/live/end", rest.EndChat)
	s.mux.HandleFunc("/api/live2/start", rest.StartDuplex)
	s.mux.HandleFunc("/api/live2/message", rest.DuplexMessage)
	s.mux.HandleFunc("/api/live2/end", rest.EndDuplex)

	s.mux.Handle("/ws/live", handlers.LiveWSHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
		NewChat:   s.newChatSession,
	})
	s.mux.Handle("/ws/live2", handlers.Live2WSHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
		NewDuplex: s.newDuplexSession,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.Metrics(s.deps.Metrics, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
