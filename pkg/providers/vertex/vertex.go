// Package vertex wraps Vertex AI multimodal embeddings and feature-store
// vector search for the product search pipeline.
package vertex

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1beta1"
	"cloud.google.com/go/aiplatform/apiv1beta1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// Embedder generates multimodal embeddings.
type Embedder interface {
	// Embed returns an embedding for the image and/or text. At least one must
	// be set. imageData may be a raw base64 string or a data URL.
	Embed(ctx context.Context, imageData, text string) ([]float32, error)
}

// Searcher finds nearest catalog entities for an embedding.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, neighborCount int) ([]Neighbor, error)
}

// Neighbor is one vector search hit: the product ID and the GCS URI of its
// catalog image.
type Neighbor struct {
	ProductID string
	GCSURI    string
}

// Config identifies the project's embedding model and feature store.
type Config struct {
	ProjectID      string
	Location       string
	FeatureStoreID string
	FeatureViewID  string
	// EmbeddingModel is the publisher model ID, e.g. multimodalembedding@001.
	EmbeddingModel string
}

// Client implements Embedder and Searcher against Vertex AI.
type Client struct {
	cfg Config

	prediction *aiplatform.PredictionClient
	store      *aiplatform.FeatureOnlineStoreClient
}

// New creates the prediction client and resolves the feature store's
// dedicated serving endpoint via the admin API.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, fmt.Errorf("project and location are required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "multimodalembedding@001"
	}

	regional := fmt.Sprintf("%s-aiplatform.googleapis.com:443", cfg.Location)

	prediction, err := aiplatform.NewPredictionClient(ctx, option.WithEndpoint(regional))
	if err != nil {
		return nil, fmt.Errorf("prediction client: %w", err)
	}

	c := &Client{cfg: cfg, prediction: prediction}

	if cfg.FeatureStoreID != "" && cfg.FeatureViewID != "" {
		admin, err := aiplatform.NewFeatureOnlineStoreAdminClient(ctx, option.WithEndpoint(regional))
		if err != nil {
			_ = prediction.Close()
			return nil, fmt.Errorf("feature store admin client: %w", err)
		}
		defer admin.Close()

		storeName := fmt.Sprintf("projects/%s/locations/%s/featureOnlineStores/%s",
			cfg.ProjectID, cfg.Location, cfg.FeatureStoreID)
		instance, err := admin.GetFeatureOnlineStore(ctx, &aiplatformpb.GetFeatureOnlineStoreRequest{
			Name: storeName,
		})
		if err != nil {
			_ = prediction.Close()
			return nil, fmt.Errorf("get feature online store: %w", err)
		}

		endpoint := instance.GetDedicatedServingEndpoint().GetPublicEndpointDomainName()
		if endpoint == "" {
			_ = prediction.Close()
			return nil, fmt.Errorf("feature online store %s has no public serving endpoint", cfg.FeatureStoreID)
		}
		store, err := aiplatform.NewFeatureOnlineStoreClient(ctx, option.WithEndpoint(endpoint+":443"))
		if err != nil {
			_ = prediction.Close()
			return nil, fmt.Errorf("feature store data client: %w", err)
		}
		c.store = store
	}

	return c, nil
}

// Embed calls the multimodal embedding model. The image embedding is
// preferred when both an image and text are given.
func (c *Client) Embed(ctx context.Context, imageData, text string) ([]float32, error) {
	if imageData == "" && strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding requires an image or text")
	}

	instance := map[string]any{}
	if strings.TrimSpace(text) != "" {
		instance["text"] = text
	}
	if imageData != "" {
		encoded, err := normalizeBase64Image(imageData)
		if err != nil {
			return nil, err
		}
		instance["image"] = map[string]any{"bytesBase64Encoded": encoded}
	}

	value, err := structpb.NewValue(instance)
	if err != nil {
		return nil, fmt.Errorf("build embed instance: %w", err)
	}

	endpoint := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
		c.cfg.ProjectID, c.cfg.Location, c.cfg.EmbeddingModel)
	resp, err := c.prediction.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:  endpoint,
		Instances: []*structpb.Value{value},
	})
	if err != nil {
		return nil, fmt.Errorf("multimodal embedding predict: %w", err)
	}
	if len(resp.GetPredictions()) == 0 {
		return nil, fmt.Errorf("multimodal embedding returned no predictions")
	}

	fields := resp.GetPredictions()[0].GetStructValue().GetFields()
	embedding := floatsFromValue(fields["imageEmbedding"])
	if len(embedding) == 0 {
		embedding = floatsFromValue(fields["textEmbedding"])
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("multimodal embedding returned no vector")
	}
	return embedding, nil
}

// Search runs nearest-entity search against the feature view and extracts
// the product ID and catalog image URI from each neighbor's features.
func (c *Client) Search(ctx context.Context, embedding []float32, neighborCount int) ([]Neighbor, error) {
	if c.store == nil {
		return nil, fmt.Errorf("feature store is not configured")
	}
	if neighborCount <= 0 {
		neighborCount = 5
	}

	featureView := fmt.Sprintf("projects/%s/locations/%s/featureOnlineStores/%s/featureViews/%s",
		c.cfg.ProjectID, c.cfg.Location, c.cfg.FeatureStoreID, c.cfg.FeatureViewID)
	resp, err := c.store.SearchNearestEntities(ctx, &aiplatformpb.SearchNearestEntitiesRequest{
		FeatureView: featureView,
		Query: &aiplatformpb.NearestNeighborQuery{
			Instance: &aiplatformpb.NearestNeighborQuery_Embedding_{
				Embedding: &aiplatformpb.NearestNeighborQuery_Embedding{
					Value: embedding,
				},
			},
			NeighborCount: int32(neighborCount),
		},
		ReturnFullEntity: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search nearest entities: %w", err)
	}

	neighbors := resp.GetNearestNeighbors().GetNeighbors()
	results := make([]Neighbor, 0, len(neighbors))
	for i, n := range neighbors {
		if i >= neighborCount {
			break
		}
		features := n.GetEntityKeyValues().GetKeyValues().GetFeatures()
		id := ExtractProductID(featureString(features, productIDFeatureIndex))
		if id == "" {
			continue
		}
		results = append(results, Neighbor{
			ProductID: id,
			GCSURI:    featureString(features, gcsURIFeatureIndex),
		})
	}
	return results, nil
}

func (c *Client) Close() error {
	err := c.prediction.Close()
	if c.store != nil {
		if cerr := c.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func normalizeBase64Image(imageData string) (string, error) {
	// Data URLs carry the base64 payload after the comma.
	if strings.HasPrefix(imageData, "data:") {
		_, rest, ok := strings.Cut(imageData, ",")
		if !ok {
			return "", fmt.Errorf("malformed image data URL")
		}
		imageData = rest
	}
	if _, err := base64.StdEncoding.DecodeString(imageData); err != nil {
		return "", fmt.Errorf("invalid base64 image data: %w", err)
	}
	return imageData, nil
}

func floatsFromValue(v *structpb.Value) []float32 {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]float32, 0, len(values))
	for _, item := range values {
		out = append(out, float32(item.GetNumberValue()))
	}
	return out
}
