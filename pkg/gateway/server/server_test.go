package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/search"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/config"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/metrics"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
)

func testConfig() config.Config {
	return config.Config{
		GeminiAPIKey:            "key",
		LiveModel:               "live",
		Live2Model:              "live2",
		MultimodalModel:         "mm",
		SearchNeighbors:         5,
		TTSChunkBytes:           4096,
		CORSAllowedOrigins:      map[string]struct{}{"http://localhost:5173": {}},
		LiveMaxSessions:         8,
		LiveMaxAudioFrameBytes:  32 << 10,
		LiveMaxJSONMessageBytes: 1 << 20,
		LiveSilenceCommit:       800 * time.Millisecond,
		LiveGraceWindow:         2 * time.Second,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      5 * time.Second,
		LiveHandshakeTimeout:    5 * time.Second,
		WSMaxSessionDuration:    2 * time.Hour,
		LimitRPS:                100,
		LimitBurst:              100,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	client, err := gemini.New(context.Background(), gemini.Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("gemini client: %v", err)
	}
	return New(testConfig(), nil, Deps{
		Gemini:  client,
		Search:  &search.Service{},
		Metrics: metrics.New("ecomm_test"),
	})
}

func TestHealthzRoute(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestUnknownRouteReturnsErrorEnvelope(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Type != "not_found_error" {
		t.Fatalf("error type = %q", body.Error.Type)
	}
}

func TestHandlerSetsRequestID(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestSearchRouteUnconfigured(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?query=milk", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin status = %d", rec.Code)
	}
}
