// Package bq reads product data from BigQuery: aisle lookups from the
// catalog table and signed image URLs from the object table that fronts the
// catalog's GCS bucket.
package bq

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Catalog exposes the product data reads used by the search pipeline.
type Catalog interface {
	// SignedURLs maps each GCS URI to a short-lived HTTPS URL. URIs with no
	// row in the object table are absent from the result.
	SignedURLs(ctx context.Context, gcsURIs []string) (map[string]string, error)
	// ProductInfo returns catalog rows for the given product IDs. Unknown IDs
	// are absent from the result.
	ProductInfo(ctx context.Context, productIDs []string) (map[string]ProductRow, error)
}

// ProductRow is the subset of catalog columns the search pipeline uses.
type ProductRow struct {
	ProductID string `bigquery:"productid"`
	Aisle     string `bigquery:"aisle"`
}

// Config names the dataset and tables.
type Config struct {
	ProjectID string
	Dataset   string
	// Table is the product catalog table.
	Table string
	// ImagesTable is the object table over the catalog image bucket.
	ImagesTable string
}

// Client is the BigQuery-backed Catalog.
type Client struct {
	cfg Config
	bq  *bigquery.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Dataset == "" {
		return nil, fmt.Errorf("project and dataset are required")
	}
	if cfg.Table == "" {
		cfg.Table = "products"
	}
	if cfg.ImagesTable == "" {
		cfg.ImagesTable = "product_images"
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &Client{cfg: cfg, bq: client}, nil
}

func (c *Client) SignedURLs(ctx context.Context, gcsURIs []string) (map[string]string, error) {
	if len(gcsURIs) == 0 {
		return map[string]string{}, nil
	}

	q := c.bq.Query(fmt.Sprintf(`
		SELECT uri, signed_url
		FROM EXTERNAL_OBJECT_TRANSFORM(TABLE `+"`%s.%s`"+`, ['SIGNED_URL'])
		WHERE uri IN UNNEST(@uris)`,
		c.cfg.Dataset, c.cfg.ImagesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "uris", Value: gcsURIs},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("signed url query: %w", err)
	}

	out := make(map[string]string, len(gcsURIs))
	for {
		var row struct {
			URI       string `bigquery:"uri"`
			SignedURL string `bigquery:"signed_url"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("signed url row: %w", err)
		}
		out[row.URI] = row.SignedURL
	}
	return out, nil
}

func (c *Client) ProductInfo(ctx context.Context, productIDs []string) (map[string]ProductRow, error) {
	if len(productIDs) == 0 {
		return map[string]ProductRow{}, nil
	}

	q := c.bq.Query(fmt.Sprintf(`
		SELECT CAST(productid AS STRING) AS productid, aisle
		FROM `+"`%s.%s`"+`
		WHERE CAST(productid AS STRING) IN UNNEST(@ids)`,
		c.cfg.Dataset, c.cfg.Table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: productIDs},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("product info query: %w", err)
	}

	out := make(map[string]ProductRow, len(productIDs))
	for {
		var row ProductRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("product info row: %w", err)
		}
		out[row.ProductID] = row
	}
	return out, nil
}

func (c *Client) Close() error {
	return c.bq.Close()
}
