// Package config loads and validates the server configuration from the
// environment. Google Cloud and Gemini settings keep their conventional env
// names; server-level knobs use the ECOMM_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLiveInstructions = "You are an intelligent assistant that helps users find products, " +
		"answer questions, and provide helpful information. You can search for products when asked. " +
		"When responding with audio, keep your responses concise and natural."

	defaultMultimodalInstructions = "You are an intelligent assistant that helps users find products, " +
		"answer questions, and provide helpful information. You can search for products when asked. " +
		"Always provide concise and helpful responses."
)

type Config struct {
	Addr string

	// Gemini
	GeminiAPIKey           string
	LiveModel              string
	Live2Model             string
	MultimodalModel        string
	Temperature            float64
	TopP                   float64
	TopK                   int
	MaxOutputTokens        int
	LiveInstructions       string
	MultimodalInstructions string
	Live2Voice             string
	Live2Language          string

	// Vertex AI vector search
	ProjectID       string
	Location        string
	FeatureStoreID  string
	FeatureViewID   string
	EmbeddingModel  string
	SearchNeighbors int

	// BigQuery
	BigQueryDataset string
	BigQueryTable   string

	// Text-to-Speech
	TTSLanguageCode  string
	TTSVoiceName     string
	TTSAudioEncoding string
	TTSChunkBytes    int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Response store. Empty RedisAddr selects the in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResponseTTL   time.Duration

	// Live WebSocket sessions.
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveMaxSessions         int
	LiveSilenceCommit       time.Duration
	LiveGraceWindow         time.Duration
	LiveBargeIn             bool
	LiveMinBargeInBytes     int
	LiveMaxAudioFPS         int
	LiveMaxAudioBPS         int64
	LiveAudioBurstSeconds   int
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveHandshakeTimeout    time.Duration
	LiveTurnTimeout         time.Duration
	WSMaxSessionDuration    time.Duration

	// In-memory limits (per client).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("ECOMM_ADDR", ":5000"),
		GeminiAPIKey:               strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		LiveModel:                  envOr("GEMINI_LIVE_MODEL", "gemini-2.0-flash-live-001"),
		Live2Model:                 envOr("GEMINI_LIVE2_MODEL", "gemini-2.0-flash-live-001"),
		MultimodalModel:            envOr("GEMINI_MULTIMODAL_MODEL", "gemini-2.5-pro-exp-03-25"),
		Temperature:                envFloat64Or("GEMINI_TEMPERATURE", 0.7),
		TopP:                       envFloat64Or("GEMINI_TOP_P", 0.95),
		TopK:                       envIntOr("GEMINI_TOP_K", 40),
		MaxOutputTokens:            envIntOr("GEMINI_MAX_OUTPUT_TOKENS", 2048),
		LiveInstructions:           envOr("GEMINI_LIVE_INSTRUCTIONS", defaultLiveInstructions),
		MultimodalInstructions:     envOr("GEMINI_MULTIMODAL_INSTRUCTIONS", defaultMultimodalInstructions),
		Live2Voice:                 envOr("GEMINI_LIVE2_VOICE", "Kore"),
		Live2Language:              envOr("GEMINI_LIVE2_LANGUAGE", "en-US"),
		ProjectID:                  strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		Location:                   envOr("VERTEX_AI_LOCATION", "us-central1"),
		FeatureStoreID:             strings.TrimSpace(os.Getenv("FEATURE_STORE_ID")),
		FeatureViewID:              strings.TrimSpace(os.Getenv("ENTITY_TYPE_ID")),
		EmbeddingModel:             envOr("VERTEX_EMBEDDING_MODEL", "multimodalembedding@001"),
		SearchNeighbors:            envIntOr("SEARCH_NEIGHBOR_COUNT", 5),
		BigQueryDataset:            strings.TrimSpace(os.Getenv("BIGQUERY_DATASET")),
		BigQueryTable:              envOr("BIGQUERY_TABLE", "products"),
		TTSLanguageCode:            envOr("TTS_LANGUAGE_CODE", "en-US"),
		TTSVoiceName:               envOr("TTS_VOICE_NAME", "en-US-Neural2-F"),
		TTSAudioEncoding:           envOr("TTS_AUDIO_ENCODING", "MP3"),
		TTSChunkBytes:              envIntOr("TTS_CHUNK_BYTES", 4096),
		CORSAllowedOrigins:         make(map[string]struct{}),
		RedisAddr:                  strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		RedisDB:                    envIntOr("REDIS_DB", 0),
		ResponseTTL:                envDurationOr("ECOMM_RESPONSE_TTL", 10*time.Minute),
		LiveMaxAudioFrameBytes:     envIntOr("ECOMM_LIVE_MAX_AUDIO_FRAME_BYTES", 32<<10),
		LiveMaxJSONMessageBytes:    envInt64Or("ECOMM_LIVE_MAX_JSON_MESSAGE_BYTES", 1<<20),
		LiveMaxSessions:            envIntOr("ECOMM_LIVE_MAX_SESSIONS", 64),
		LiveSilenceCommit:          envDurationOr("ECOMM_LIVE_SILENCE_COMMIT", 800*time.Millisecond),
		LiveGraceWindow:            envDurationOr("ECOMM_LIVE_GRACE_WINDOW", 2*time.Second),
		LiveBargeIn:                envBoolOr("ECOMM_LIVE_BARGE_IN", true),
		LiveMinBargeInBytes:        envIntOr("ECOMM_LIVE_MIN_BARGE_IN_BYTES", 8192),
		LiveMaxAudioFPS:            envIntOr("ECOMM_LIVE_MAX_AUDIO_FPS", 100),
		LiveMaxAudioBPS:            envInt64Or("ECOMM_LIVE_MAX_AUDIO_BPS", 1<<20),
		LiveAudioBurstSeconds:      envIntOr("ECOMM_LIVE_AUDIO_BURST_SECONDS", 2),
		LiveWSPingInterval:         envDurationOr("ECOMM_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:         envDurationOr("ECOMM_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHandshakeTimeout:       envDurationOr("ECOMM_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveTurnTimeout:            envDurationOr("ECOMM_LIVE_TURN_TIMEOUT", 30*time.Second),
		WSMaxSessionDuration:       envDurationOr("ECOMM_WS_MAX_DURATION", 2*time.Hour),
		LimitRPS:                   envFloat64Or("ECOMM_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                 envIntOr("ECOMM_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests: envIntOr("ECOMM_MAX_CONCURRENT_REQUESTS", 32),
		ReadHeaderTimeout:          envDurationOr("ECOMM_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("ECOMM_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("ECOMM_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:        envDurationOr("ECOMM_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	origins := envOr("CORS_ALLOWED_ORIGINS",
		"http://localhost:5173,http://127.0.0.1:5173,http://localhost:3000,http://127.0.0.1:3000")
	for _, origin := range splitCSV(origins) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("GEMINI_TEMPERATURE must be in [0, 2]")
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		return Config{}, fmt.Errorf("GEMINI_TOP_P must be in (0, 1]")
	}
	if cfg.TopK <= 0 {
		return Config{}, fmt.Errorf("GEMINI_TOP_K must be > 0")
	}
	if cfg.MaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("GEMINI_MAX_OUTPUT_TOKENS must be > 0")
	}
	if cfg.SearchNeighbors <= 0 {
		return Config{}, fmt.Errorf("SEARCH_NEIGHBOR_COUNT must be > 0")
	}
	if cfg.TTSChunkBytes <= 0 {
		return Config{}, fmt.Errorf("TTS_CHUNK_BYTES must be > 0")
	}
	if cfg.ResponseTTL <= 0 {
		return Config{}, fmt.Errorf("ECOMM_RESPONSE_TTL must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxSessions <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_MAX_SESSIONS must be > 0")
	}
	if cfg.LiveSilenceCommit <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_SILENCE_COMMIT must be > 0")
	}
	if cfg.LiveGraceWindow < 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_GRACE_WINDOW must be >= 0")
	}
	if cfg.LiveMinBargeInBytes < 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_MIN_BARGE_IN_BYTES must be >= 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveTurnTimeout < 0 {
		return Config{}, fmt.Errorf("ECOMM_LIVE_TURN_TIMEOUT must be >= 0")
	}
	if cfg.WSMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("ECOMM_WS_MAX_DURATION must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("ECOMM_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("ECOMM_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("ECOMM_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("ECOMM_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("ECOMM_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("ECOMM_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("ECOMM_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	switch strings.ToUpper(cfg.TTSAudioEncoding) {
	case "MP3", "LINEAR16", "OGG_OPUS":
		cfg.TTSAudioEncoding = strings.ToUpper(cfg.TTSAudioEncoding)
	default:
		return Config{}, fmt.Errorf("TTS_AUDIO_ENCODING must be one of MP3|LINEAR16|OGG_OPUS")
	}

	return cfg, nil
}

// SearchConfigured reports whether the vector search backends have enough
// configuration to run. The chat routes still work without them; search
// requests fail with a configuration error.
func (c Config) SearchConfigured() bool {
	return c.ProjectID != "" && c.Location != "" &&
		c.FeatureStoreID != "" && c.FeatureViewID != "" && c.BigQueryDataset != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
