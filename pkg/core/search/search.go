// Package search implements the product search pipeline: multimodal
// embedding, feature-store nearest-neighbor lookup, and catalog enrichment
// from BigQuery.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/bq"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/vertex"
)

// DefaultNeighborCount is used when a request does not ask for a specific
// number of results.
const DefaultNeighborCount = 10

// Request is one product search. At least one of Query and ImageData must be
// set; ImageData may be raw base64 or a data URL.
type Request struct {
	Query         string
	ImageData     string
	NeighborCount int
}

// Response carries the normalized products plus the pipeline's wall time in
// seconds, matching what clients render.
type Response struct {
	Results     []products.Product `json:"results"`
	Message     string             `json:"message,omitempty"`
	ElapsedTime float64            `json:"elapsed_time"`
}

// Service runs the search pipeline. Zero-valued dependencies make Search
// return an unavailable error, so the chat routes can run without the
// vector search stack configured.
type Service struct {
	Embedder vertex.Embedder
	Searcher vertex.Searcher
	Catalog  bq.Catalog
	Logger   *slog.Logger
}

// Search executes the pipeline. Mode for logging/metrics is "image" when
// image data is present, otherwise "text".
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	if s == nil || s.Embedder == nil || s.Searcher == nil || s.Catalog == nil {
		return nil, core.NewUnavailableError(
			"Google Cloud configuration is incomplete",
			"Please check your environment variables for Google Cloud, Vertex AI, and BigQuery settings.",
		)
	}
	if strings.TrimSpace(req.Query) == "" && req.ImageData == "" {
		return nil, core.NewInvalidRequestError("Either query or image_data must be provided")
	}
	if req.NeighborCount <= 0 {
		req.NeighborCount = DefaultNeighborCount
	}

	start := time.Now()
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	embedding, err := s.Embedder.Embed(ctx, req.ImageData, req.Query)
	if err != nil {
		return nil, core.NewUpstreamError("embedding generation failed", err.Error())
	}
	logger.Info("embeddings generated",
		"dimensions", len(embedding),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	searchStart := time.Now()
	neighbors, err := s.Searcher.Search(ctx, embedding, req.NeighborCount)
	if err != nil {
		return nil, core.NewUpstreamError("feature store search failed", err.Error())
	}
	logger.Info("feature store search done",
		"neighbors", len(neighbors),
		"duration_ms", time.Since(searchStart).Milliseconds(),
	)

	if len(neighbors) == 0 {
		return &Response{
			Results:     []products.Product{},
			Message:     "No matching products found",
			ElapsedTime: time.Since(start).Seconds(),
		}, nil
	}

	uris := make([]string, 0, len(neighbors))
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		uris = append(uris, n.GCSURI)
		ids = append(ids, n.ProductID)
	}

	// The two catalog reads are independent; run them in parallel.
	var (
		wg         sync.WaitGroup
		signedURLs map[string]string
		info       map[string]bq.ProductRow
		urlErr     error
		infoErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		signedURLs, urlErr = s.Catalog.SignedURLs(ctx, uris)
	}()
	go func() {
		defer wg.Done()
		info, infoErr = s.Catalog.ProductInfo(ctx, ids)
	}()
	wg.Wait()
	if urlErr != nil {
		return nil, core.NewUpstreamError("signed url lookup failed", urlErr.Error())
	}
	if infoErr != nil {
		return nil, core.NewUpstreamError("product info lookup failed", infoErr.Error())
	}

	results := make([]products.Product, 0, len(neighbors))
	for _, n := range neighbors {
		p := products.Product{
			ID:       n.ProductID,
			ImageURL: signedURLs[n.GCSURI],
		}
		if row, ok := info[n.ProductID]; ok {
			p.Aisle = row.Aisle
		}
		results = append(results, products.Normalize(p, req.Query))
	}

	elapsed := time.Since(start).Seconds()
	logger.Info("search complete",
		"results", len(results),
		"elapsed_seconds", fmt.Sprintf("%.2f", elapsed),
	)
	return &Response{
		Results:     results,
		ElapsedTime: elapsed,
	}, nil
}

// Mode classifies a request for logging and metrics.
func (r Request) Mode() string {
	if r.ImageData != "" {
		return "image"
	}
	return "text"
}
