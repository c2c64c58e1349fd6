// Package products holds the product shape shared by the search pipeline,
// the chat tool loop, and the live session engines.
package products

import (
	"fmt"
	"math/rand"
	"strings"
)

// Product is the normalized product record returned to clients and fed back
// to the model as a tool response.
type Product struct {
	ID          string `json:"id"`
	ImageURL    string `json:"image_url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Aisle       string `json:"aisle"`
}

// Normalize fills missing fields with the defaults the client expects. The
// query is only used for the placeholder description; pass "" when the search
// was image-only.
func Normalize(p Product, query string) Product {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = ""
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = fmt.Sprintf("Product %s", p.ID)
	}
	if strings.TrimSpace(p.Description) == "" {
		subject := strings.TrimSpace(query)
		if subject == "" {
			subject = "image"
		}
		p.Description = fmt.Sprintf("This product matches your %s search", subject)
	}
	if strings.TrimSpace(p.Price) == "" {
		p.Price = PlaceholderPrice()
	}
	if strings.TrimSpace(p.Aisle) == "" {
		p.Aisle = "Unknown"
	}
	return p
}

// PlaceholderPrice returns a random display price for catalog rows that carry
// no price data. Range matches the demo catalog: $9.99 to $99.99.
func PlaceholderPrice() string {
	cents := 999 + rand.Intn(9999-999+1)
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}
