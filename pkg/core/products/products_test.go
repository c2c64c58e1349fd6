package products

import (
	"strconv"
	"strings"
	"testing"
)

func TestNormalizeDefaults(t *testing.T) {
	p := Normalize(Product{ID: "482"}, "running shoes")
	if p.Name != "Product 482" {
		t.Fatalf("name = %q", p.Name)
	}
	if p.Description != "This product matches your running shoes search" {
		t.Fatalf("description = %q", p.Description)
	}
	if p.Aisle != "Unknown" {
		t.Fatalf("aisle = %q", p.Aisle)
	}
	if !strings.HasPrefix(p.Price, "$") {
		t.Fatalf("price = %q", p.Price)
	}
}

func TestNormalizeImageOnlyQuery(t *testing.T) {
	p := Normalize(Product{ID: "7"}, "")
	if p.Description != "This product matches your image search" {
		t.Fatalf("description = %q", p.Description)
	}
}

func TestNormalizeKeepsExistingFields(t *testing.T) {
	in := Product{
		ID:          "12",
		Name:        "Trail Mix",
		Description: "Snack pack",
		Price:       "$4.50",
		Aisle:       "A3",
		ImageURL:    "https://example.com/12.jpg",
	}
	out := Normalize(in, "snacks")
	if out != in {
		t.Fatalf("normalize mutated populated product: %+v", out)
	}
}

func TestPlaceholderPriceRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := PlaceholderPrice()
		v, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if v < 9.99 || v > 99.99 {
			t.Fatalf("price %v out of range", v)
		}
	}
}
