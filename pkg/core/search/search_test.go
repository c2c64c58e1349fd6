package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/bq"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/vertex"
)

type fakeEmbedder struct {
	embedding []float32
	err       error

	gotImage string
	gotText  string
}

func (f *fakeEmbedder) Embed(_ context.Context, imageData, text string) ([]float32, error) {
	f.gotImage = imageData
	f.gotText = text
	return f.embedding, f.err
}

type fakeSearcher struct {
	neighbors []vertex.Neighbor
	err       error

	gotCount int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, neighborCount int) ([]vertex.Neighbor, error) {
	f.gotCount = neighborCount
	return f.neighbors, f.err
}

type fakeCatalog struct {
	urls map[string]string
	info map[string]bq.ProductRow

	urlErr  error
	infoErr error
}

func (f *fakeCatalog) SignedURLs(_ context.Context, _ []string) (map[string]string, error) {
	return f.urls, f.urlErr
}

func (f *fakeCatalog) ProductInfo(_ context.Context, _ []string) (map[string]bq.ProductRow, error) {
	return f.info, f.infoErr
}

func newService(e *fakeEmbedder, s *fakeSearcher, c *fakeCatalog) *Service {
	return &Service{Embedder: e, Searcher: s, Catalog: c}
}

func TestSearchFullPipeline(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{0.1, 0.2}}
	searcher := &fakeSearcher{neighbors: []vertex.Neighbor{
		{ProductID: "11", GCSURI: "gs://b/11.jpg"},
		{ProductID: "22", GCSURI: "gs://b/22.jpg"},
	}}
	catalog := &fakeCatalog{
		urls: map[string]string{
			"gs://b/11.jpg": "https://signed/11",
			"gs://b/22.jpg": "https://signed/22",
		},
		info: map[string]bq.ProductRow{
			"11": {ProductID: "11", Aisle: "A7"},
		},
	}

	resp, err := newService(embedder, searcher, catalog).Search(context.Background(), Request{Query: "shoes"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if searcher.gotCount != DefaultNeighborCount {
		t.Fatalf("neighbor count = %d, want %d", searcher.gotCount, DefaultNeighborCount)
	}

	first := resp.Results[0]
	if first.ID != "11" || first.ImageURL != "https://signed/11" || first.Aisle != "A7" {
		t.Fatalf("first result = %+v", first)
	}
	if first.Name != "Product 11" {
		t.Fatalf("first name = %q", first.Name)
	}
	if !strings.Contains(first.Description, "shoes") {
		t.Fatalf("first description = %q", first.Description)
	}

	// Product 22 has no catalog row: aisle falls back to Unknown.
	if resp.Results[1].Aisle != "Unknown" {
		t.Fatalf("second aisle = %q, want Unknown", resp.Results[1].Aisle)
	}
	if resp.ElapsedTime < 0 {
		t.Fatalf("elapsed = %v", resp.ElapsedTime)
	}
}

func TestSearchNoNeighbors(t *testing.T) {
	svc := newService(
		&fakeEmbedder{embedding: []float32{0.5}},
		&fakeSearcher{},
		&fakeCatalog{},
	)

	resp, err := svc.Search(context.Background(), Request{Query: "nothing"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("results = %d, want 0", len(resp.Results))
	}
	if resp.Message != "No matching products found" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestSearchRequiresQueryOrImage(t *testing.T) {
	svc := newService(&fakeEmbedder{}, &fakeSearcher{}, &fakeCatalog{})

	_, err := svc.Search(context.Background(), Request{})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrInvalidRequest {
		t.Fatalf("error = %v, want invalid request", err)
	}
}

func TestSearchUnconfigured(t *testing.T) {
	svc := &Service{}

	_, err := svc.Search(context.Background(), Request{Query: "x"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrUnavailable {
		t.Fatalf("error = %v, want unavailable", err)
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	svc := newService(
		&fakeEmbedder{err: errors.New("quota exhausted")},
		&fakeSearcher{},
		&fakeCatalog{},
	)

	_, err := svc.Search(context.Background(), Request{Query: "x"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrUpstream {
		t.Fatalf("error = %v, want upstream", err)
	}
	if !strings.Contains(coreErr.Details, "quota exhausted") {
		t.Fatalf("details = %q", coreErr.Details)
	}
}

func TestSearchCatalogFailure(t *testing.T) {
	svc := newService(
		&fakeEmbedder{embedding: []float32{0.1}},
		&fakeSearcher{neighbors: []vertex.Neighbor{{ProductID: "1", GCSURI: "gs://b/1.jpg"}}},
		&fakeCatalog{infoErr: errors.New("table not found")},
	)

	_, err := svc.Search(context.Background(), Request{Query: "x"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrUpstream {
		t.Fatalf("error = %v, want upstream", err)
	}
}

func TestRequestMode(t *testing.T) {
	if got := (Request{Query: "x"}).Mode(); got != "text" {
		t.Fatalf("mode = %q, want text", got)
	}
	if got := (Request{ImageData: "abc"}).Mode(); got != "image" {
		t.Fatalf("mode = %q, want image", got)
	}
}

func TestSearchImagePreferred(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{0.1}}
	svc := newService(embedder, &fakeSearcher{}, &fakeCatalog{})

	_, err := svc.Search(context.Background(), Request{Query: "shoes", ImageData: "img"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if embedder.gotImage != "img" || embedder.gotText != "shoes" {
		t.Fatalf("embedder got image=%q text=%q", embedder.gotImage, embedder.gotText)
	}
}
