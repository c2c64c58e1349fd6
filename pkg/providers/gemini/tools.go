package gemini

import (
	"fmt"

	"google.golang.org/genai"
)

// SearchProductsToolName is the function the model calls to look up products.
const SearchProductsToolName = "search_products"

// ToolResultLimit caps how many products are fed back to the model per call.
const ToolResultLimit = 5

func searchProductsTool() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        SearchProductsToolName,
				Description: "Search for products based on a query",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "The search query for products",
						},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}

// queryFromArgs extracts the query argument from a function call, tolerating
// non-string renderings the model occasionally produces.
func queryFromArgs(args map[string]any) string {
	if args == nil {
		return ""
	}
	switch v := args["query"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
