// Package config provides configuration loading utilities for the intent
// vocabulary and emergency placeholder products.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Vocabulary drives intent extraction and the last fallback-ladder rung. The
// mechanism is fixed; the word lists are deployment configuration because the
// original vocabulary is bilingual (EN/ES) and market-specific.
type Vocabulary struct {
	FollowUpTokens  []string            `yaml:"follow_up_tokens"`
	CategoryDim     []string            `yaml:"category_dimension_tokens"`
	PriceDim        []string            `yaml:"price_dimension_tokens"`
	BrandDim        []string            `yaml:"brand_dimension_tokens"`
	CategoryTokens  map[string][]string `yaml:"category_tokens"`
	RecommendTokens []string            `yaml:"recommend_tokens"`
	InfoTokens      []string            `yaml:"info_tokens"`
	SearchTokens    []string            `yaml:"search_tokens"`
	Placeholders    []Placeholder       `yaml:"placeholders"`
}

// Placeholder is an emergency product served when every recommendation
// source is empty.
type Placeholder struct {
	ID       string  `yaml:"id"`
	Title    string  `yaml:"title"`
	Category string  `yaml:"category"`
	Price    float64 `yaml:"price"`
	Currency string  `yaml:"currency"`
}

// DefaultVocabulary returns the compiled-in vocabulary.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		FollowUpTokens: []string{"more", "different", "other", "else", "another", "similar"},
		CategoryDim:    []string{"category", "type"},
		PriceDim:       []string{"price", "cheaper", "expensive"},
		BrandDim:       []string{"brand"},
		CategoryTokens: map[string][]string{
			"electronics": {"electronics", "electronica", "phone", "celular", "laptop", "computador", "headphones", "audifonos", "tv", "televisor"},
			"clothing":    {"clothing", "ropa", "shirt", "camisa", "pants", "pantalon", "dress", "vestido", "jacket", "chaqueta"},
			"shoes":       {"shoes", "zapatos", "sneakers", "tenis", "boots", "botas", "sandals", "sandalias"},
			"home":        {"home", "hogar", "furniture", "muebles", "kitchen", "cocina", "decor", "decoracion"},
			"beauty":      {"beauty", "belleza", "makeup", "maquillaje", "perfume", "skincare"},
			"sports":      {"sports", "deportes", "fitness", "gym", "bicycle", "bicicleta", "ball", "balon"},
			"toys":        {"toys", "juguetes", "games", "juegos"},
			"books":       {"books", "libros", "novel", "novela"},
		},
		RecommendTokens: []string{"recommend", "show", "suggest"},
		InfoTokens:      []string{"help", "assist", "info"},
		SearchTokens:    []string{"search", "find", "look"},
		Placeholders: []Placeholder{
			{ID: "fallback-electronics-001", Title: "Wireless Earbuds", Category: "electronics", Price: 189900, Currency: "COP"},
			{ID: "fallback-home-001", Title: "Ceramic Coffee Set", Category: "home", Price: 94900, Currency: "COP"},
			{ID: "fallback-sports-001", Title: "Training Mat", Category: "sports", Price: 69900, Currency: "COP"},
			{ID: "fallback-clothing-001", Title: "Classic Cotton Tee", Category: "clothing", Price: 39900, Currency: "COP"},
			{ID: "fallback-books-001", Title: "Bestseller Bundle", Category: "books", Price: 59900, Currency: "COP"},
		},
	}
}

// LoadVocabulary reads a vocabulary YAML and overlays it on the defaults.
// Lists present in the file replace the default lists; absent lists keep
// their defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadVocabulary: %w", err)
	}
	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadVocabulary: %w", err)
	}
	var file Vocabulary
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("op=config.LoadVocabulary: parse: %w", err)
	}
	v := DefaultVocabulary()
	v.merge(&file)
	return v, nil
}

// VocabularyOrDefault loads path, falling back to the compiled defaults when
// the file is absent or unreadable.
func VocabularyOrDefault(path string) *Vocabulary {
	v, err := LoadVocabulary(path)
	if err != nil {
		return DefaultVocabulary()
	}
	return v
}

func (v *Vocabulary) merge(o *Vocabulary) {
	if len(o.FollowUpTokens) > 0 {
		v.FollowUpTokens = o.FollowUpTokens
	}
	if len(o.CategoryDim) > 0 {
		v.CategoryDim = o.CategoryDim
	}
	if len(o.PriceDim) > 0 {
		v.PriceDim = o.PriceDim
	}
	if len(o.BrandDim) > 0 {
		v.BrandDim = o.BrandDim
	}
	if len(o.CategoryTokens) > 0 {
		v.CategoryTokens = o.CategoryTokens
	}
	if len(o.RecommendTokens) > 0 {
		v.RecommendTokens = o.RecommendTokens
	}
	if len(o.InfoTokens) > 0 {
		v.InfoTokens = o.InfoTokens
	}
	if len(o.SearchTokens) > 0 {
		v.SearchTokens = o.SearchTokens
	}
	if len(o.Placeholders) > 0 {
		v.Placeholders = o.Placeholders
	}
}
