package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/products"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			}},
		},
	}
}

func toolCallResponse(query string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{
						Name: SearchProductsToolName,
						Args: map[string]any{"query": query},
					}},
				},
			}},
		},
	}
}

func newTestChat(search SearchFunc, responses ...*genai.GenerateContentResponse) *ChatService {
	s := &ChatService{
		Model:  "test-model",
		Search: search,
		client: &Client{cfg: Config{Temperature: 0.7, TopP: 0.95, TopK: 40, MaxOutputTokens: 2048}},
	}
	i := 0
	s.generate = func(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		if i >= len(responses) {
			return nil, errors.New("unexpected generate call")
		}
		resp := responses[i]
		i++
		return resp, nil
	}
	return s
}

func TestGeneratePlainText(t *testing.T) {
	s := newTestChat(nil, textResponse("Hello there"))

	result, err := s.Generate(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "Hello there" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.FunctionResults) != 0 {
		t.Fatalf("function results = %d, want 0", len(result.FunctionResults))
	}
}

func TestGenerateToolLoop(t *testing.T) {
	var gotQuery string
	search := func(_ context.Context, query string) ([]products.Product, error) {
		gotQuery = query
		return []products.Product{
			{ID: "1", Name: "Trail Shoes", Price: "$59.99"},
		}, nil
	}
	s := newTestChat(search,
		toolCallResponse("running shoes"),
		textResponse("I found some great shoes."),
	)

	result, err := s.Generate(context.Background(), "find me running shoes", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gotQuery != "running shoes" {
		t.Fatalf("search query = %q", gotQuery)
	}
	if len(result.FunctionResults) != 1 {
		t.Fatalf("function results = %d, want 1", len(result.FunctionResults))
	}
	fr := result.FunctionResults[0]
	if fr.FunctionName != SearchProductsToolName || len(fr.Results) != 1 {
		t.Fatalf("function result = %+v", fr)
	}
	if result.Text != "I found some great shoes." {
		t.Fatalf("text = %q", result.Text)
	}
}

func TestGenerateToolLoopCapsResults(t *testing.T) {
	many := make([]products.Product, 9)
	for i := range many {
		many[i] = products.Product{ID: "p"}
	}
	search := func(_ context.Context, _ string) ([]products.Product, error) {
		return many, nil
	}
	s := newTestChat(search,
		toolCallResponse("snacks"),
		textResponse("Here you go!"),
	)

	result, err := s.Generate(context.Background(), "snacks", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := len(result.FunctionResults[0].Results); got != ToolResultLimit {
		t.Fatalf("results = %d, want %d", got, ToolResultLimit)
	}
}

func TestGenerateToolSearchError(t *testing.T) {
	search := func(_ context.Context, _ string) ([]products.Product, error) {
		return nil, errors.New("backend down")
	}
	s := newTestChat(search,
		toolCallResponse("widgets"),
		textResponse("Sorry, something went wrong."),
	)

	result, err := s.Generate(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.FunctionResults[0].Error != "backend down" {
		t.Fatalf("function error = %q", result.FunctionResults[0].Error)
	}
}

func TestGenerateUnsupportedFunction(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{Name: "order_pizza", Args: map[string]any{}}},
				},
			}},
		},
	}
	s := newTestChat(nil, resp, textResponse("I can't do that."))

	result, err := s.Generate(context.Background(), "pizza", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.FunctionResults[0].Error != "Unsupported function" {
		t.Fatalf("function error = %q", result.FunctionResults[0].Error)
	}
}

func TestFormatHistorySkipsUnknownRoles(t *testing.T) {
	contents := formatHistory([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "system", Content: "ignored"},
	})
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || contents[1].Role != string(genai.RoleModel) {
		t.Fatalf("roles = %q/%q", contents[0].Role, contents[1].Role)
	}
}

func TestQueryFromArgs(t *testing.T) {
	if got := queryFromArgs(map[string]any{"query": "shoes"}); got != "shoes" {
		t.Fatalf("got %q", got)
	}
	if got := queryFromArgs(nil); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := queryFromArgs(map[string]any{"query": 42}); got != "42" {
		t.Fatalf("got %q", got)
	}
}
