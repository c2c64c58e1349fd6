package handlers

import (
	"net/http"

	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/config"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/lifecycle"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the configuration can actually serve
// traffic, and which optional backends are wired up. A draining server is
// not ready, so load balancers stop routing to it during shutdown.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle

	// TTSAvailable is false when the Cloud TTS client failed to initialize;
	// sessions then run text-only.
	TTSAvailable bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK               bool     `json:"ok"`
		Draining         bool     `json:"draining"`
		SearchConfigured bool     `json:"search_configured"`
		TTSAvailable     bool     `json:"tts_available"`
		RedisEnabled     bool     `json:"redis_enabled"`
		Issues           []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "server is draining")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not set")
	}
	if h.Config.LiveModel == "" || h.Config.Live2Model == "" || h.Config.MultimodalModel == "" {
		issues = append(issues, "model names must be set")
	}
	if h.Config.TTSChunkBytes <= 0 {
		issues = append(issues, "tts chunk bytes must be > 0")
	}
	if h.Config.LiveMaxSessions <= 0 {
		issues = append(issues, "live max sessions must be > 0")
	}
	if h.Config.LiveMaxJSONMessageBytes <= 0 || h.Config.LiveMaxAudioFrameBytes <= 0 {
		issues = append(issues, "live message limits must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.WSMaxSessionDuration <= 0 {
		issues = append(issues, "ws max session duration must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:               ok,
		Draining:         draining,
		SearchConfigured: h.Config.SearchConfigured(),
		TTSAvailable:     h.TTSAvailable,
		RedisEnabled:     h.Config.RedisAddr != "",
		Issues:           issues,
	})
}

// DebugHandler exposes process state for operators.
type DebugHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Registry
}

func (h DebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":   h.Lifecycle.Uptime().Seconds(),
		"draining":         h.Lifecycle.IsDraining(),
		"live_sessions":    h.Sessions.Count(),
		"live_model":       h.Config.LiveModel,
		"live2_model":      h.Config.Live2Model,
		"multimodal_model": h.Config.MultimodalModel,
	})
}
