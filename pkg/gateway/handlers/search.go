package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/core/search"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/metrics"
)

// SearchHandler serves /api/search. GET takes query parameters; POST takes a
// JSON body and may carry base64 image data.
type SearchHandler struct {
	Service *search.Service
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (h SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	switch r.Method {
	case http.MethodGet:
		req.Query = r.URL.Query().Get("query")
		req.NeighborCount = parseNeighborCount(r.URL.Query().Get("neighbor_count"))
	case http.MethodPost:
		var body struct {
			Query         string `json:"query"`
			ImageData     string `json:"image_data"`
			NeighborCount int    `json:"neighbor_count"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		req = search.Request{
			Query:         body.Query,
			ImageData:     body.ImageData,
			NeighborCount: body.NeighborCount,
		}
	default:
		methodNotAllowed(w, r)
		return
	}
	if req.NeighborCount <= 0 {
		req.NeighborCount = search.DefaultNeighborCount
	}

	started := time.Now()
	resp, err := h.Service.Search(r.Context(), req)
	if err != nil {
		h.Metrics.RecordSearch(req.Mode(), "error", time.Since(started))
		if coreErr, ok := err.(*core.Error); ok && coreErr.Type != core.ErrInvalidRequest {
			h.Logger.Error("search failed", "mode", req.Mode(), "error", err)
		}
		writeError(w, r, err)
		return
	}
	h.Metrics.RecordSearch(req.Mode(), "ok", time.Since(started))
	writeJSON(w, http.StatusOK, resp)
}

func parseNeighborCount(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
