package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
)

// SearchFunc runs a product search on behalf of a model tool call. It is
// called in-process rather than through the HTTP surface.
type SearchFunc func(ctx context.Context, query string) ([]products.Product, error)

// Message is one prior turn of the conversation.
type Message struct {
	// Role is "user" or "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the outcome of a chat turn: the model's text plus the
// results of any tool calls it made.
type ChatResult struct {
	Text            string           `json:"text"`
	FunctionResults []FunctionResult `json:"function_results"`
}

// FunctionResult carries one tool call's outcome back to the client.
type FunctionResult struct {
	FunctionName string             `json:"function_name"`
	Results      []products.Product `json:"results"`
	Error        string             `json:"error,omitempty"`
}

// generateFunc issues one GenerateContent call. Injectable for tests.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// ChatService answers multimodal chat turns, resolving search_products tool
// calls through the injected SearchFunc.
type ChatService struct {
	Model        string
	Instructions string
	Search       SearchFunc
	Logger       *slog.Logger

	client   *Client
	generate generateFunc
}

// NewChatService binds a chat service to the client.
func (c *Client) NewChatService(model, instructions string, search SearchFunc, logger *slog.Logger) *ChatService {
	s := &ChatService{
		Model:        model,
		Instructions: instructions,
		Search:       search,
		Logger:       logger,
		client:       c,
	}
	s.generate = func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return c.client.Models.GenerateContent(ctx, model, contents, cfg)
	}
	return s
}

// Generate answers a text-only chat turn.
func (s *ChatService) Generate(ctx context.Context, message string, history []Message) (*ChatResult, error) {
	userParts := []*genai.Part{genai.NewPartFromText(message)}
	return s.run(ctx, userParts, history)
}

// GenerateWithImage answers a chat turn that includes an image. imageData
// may be raw base64 or a data URL.
func (s *ChatService) GenerateWithImage(ctx context.Context, message, imageData string, history []Message) (*ChatResult, error) {
	if strings.HasPrefix(imageData, "data:image") {
		if _, rest, ok := strings.Cut(imageData, ","); ok {
			imageData = rest
		}
	}
	raw, err := base64.StdEncoding.DecodeString(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}

	userParts := []*genai.Part{
		genai.NewPartFromText(message),
		genai.NewPartFromBytes(raw, "image/jpeg"),
	}
	return s.run(ctx, userParts, history)
}

func (s *ChatService) run(ctx context.Context, userParts []*genai.Part, history []Message) (*ChatResult, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	contents := formatHistory(history)
	contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: userParts})

	cfg := s.client.generationConfig(s.Instructions)
	resp, err := s.generate(ctx, s.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	result := &ChatResult{FunctionResults: []FunctionResult{}}
	modelTurn := firstContent(resp)
	if modelTurn == nil {
		return result, nil
	}

	for _, part := range modelTurn.Parts {
		if part.FunctionCall != nil {
			fr, toolResp := s.handleToolCall(ctx, part.FunctionCall, logger)
			result.FunctionResults = append(result.FunctionResults, fr)

			// Continue the conversation with the function result so the
			// model can narrate what it found.
			contents = append(contents, modelTurn, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromFunctionResponse(part.FunctionCall.Name, toolResp)},
			})
			followUp, err := s.generate(ctx, s.Model, contents, cfg)
			if err != nil {
				logger.Error("tool follow-up failed", "error", err)
				continue
			}
			result.Text += textOf(followUp)
			continue
		}
		if part.Text != "" {
			result.Text += part.Text
		}
	}

	return result, nil
}

func (s *ChatService) handleToolCall(ctx context.Context, call *genai.FunctionCall, logger *slog.Logger) (FunctionResult, map[string]any) {
	if call.Name != SearchProductsToolName {
		fr := FunctionResult{FunctionName: call.Name, Error: "Unsupported function"}
		return fr, map[string]any{"error": fr.Error}
	}

	query := queryFromArgs(call.Args)
	logger.Info("tool call", "function", call.Name, "query", query)

	if s.Search == nil {
		fr := FunctionResult{FunctionName: call.Name, Error: "search is not configured"}
		return fr, map[string]any{"error": fr.Error}
	}

	found, err := s.Search(ctx, query)
	if err != nil {
		logger.Error("tool search failed", "query", query, "error", err)
		fr := FunctionResult{FunctionName: call.Name, Error: err.Error()}
		return fr, map[string]any{"error": fr.Error}
	}

	if len(found) > ToolResultLimit {
		found = found[:ToolResultLimit]
	}
	fr := FunctionResult{FunctionName: call.Name, Results: found}
	return fr, map[string]any{"products": productsAsMaps(found)}
}

func formatHistory(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return out
}

func firstContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0].Content
}

func textOf(resp *genai.GenerateContentResponse) string {
	content := firstContent(resp)
	if content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// productsAsMaps converts products to the generic shape the function
// response API accepts.
func productsAsMaps(list []products.Product) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		out = append(out, map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"price":     p.Price,
			"image_url": p.ImageURL,
			"aisle":     p.Aisle,
		})
	}
	return out
}
