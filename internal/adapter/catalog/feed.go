package catalog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// feedDocument accepts both a bare product list and a wrapped one.
type feedDocument struct {
	Products []feedProduct `json:"products" yaml:"products"`
}

type feedProduct struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Price       float64  `json:"price" yaml:"price"`
	Currency    string   `json:"currency" yaml:"currency"`
	Category    string   `json:"category" yaml:"category"`
	Brand       string   `json:"brand" yaml:"brand"`
	ImageURLs   []string `json:"image_urls" yaml:"image_urls"`
	MarketID    string   `json:"market_id" yaml:"market_id"`
	Available   *bool    `json:"available" yaml:"available"`
}

func (f feedProduct) toDomain() domain.Product {
	available := true
	if f.Available != nil {
		available = *f.Available
	}
	return domain.Product{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		Price:       f.Price,
		Currency:    f.Currency,
		Category:    f.Category,
		Brand:       f.Brand,
		ImageURLs:   f.ImageURLs,
		MarketID:    f.MarketID,
		Available:   available,
	}
}

// LoadFeed reads a product feed file, sniffing the format from content
// (JSON, YAML or CSV) rather than trusting the extension. Rows without an id
// are skipped; everything else is a parse error.
func LoadFeed(path string) ([]domain.Product, error) {
	// #nosec G304 -- Feed paths come from operator configuration
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=catalog.LoadFeed: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("op=catalog.LoadFeed: %s: empty feed", path)
	}

	kind := mimetype.Detect(raw)
	switch {
	case kind.Is("application/json"):
		return parseJSONFeed(raw)
	case kind.Is("text/csv"), kind.Is("text/tab-separated-values"):
		return parseCSVFeed(raw)
	default:
		// YAML sniffs as text/plain; it is also the last resort because a
		// JSON document is valid YAML but not the other way around.
		return parseYAMLFeed(raw)
	}
}

func parseJSONFeed(raw []byte) ([]domain.Product, error) {
	var doc feedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		var list []feedProduct
		if lerr := json.Unmarshal(raw, &list); lerr != nil {
			return nil, fmt.Errorf("op=catalog.LoadFeed: json: %w", err)
		}
		doc.Products = list
	}
	return collectFeed(doc.Products), nil
}

func parseYAMLFeed(raw []byte) ([]domain.Product, error) {
	var doc feedDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		var list []feedProduct
		if lerr := yaml.Unmarshal(raw, &list); lerr != nil {
			return nil, fmt.Errorf("op=catalog.LoadFeed: yaml: %w", err)
		}
		doc.Products = list
	}
	return collectFeed(doc.Products), nil
}

// parseCSVFeed maps a header row to product fields. Unknown columns are
// ignored so feeds can carry extra data.
func parseCSVFeed(raw []byte) ([]domain.Product, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("op=catalog.LoadFeed: csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []feedProduct
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("op=catalog.LoadFeed: csv: %w", err)
		}
		p := feedProduct{
			ID:          field(rec, "id"),
			Title:       field(rec, "title"),
			Description: field(rec, "description"),
			Currency:    field(rec, "currency"),
			Category:    field(rec, "category"),
			Brand:       field(rec, "brand"),
			MarketID:    field(rec, "market_id"),
		}
		if v := field(rec, "price"); v != "" {
			price, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				return nil, fmt.Errorf("op=catalog.LoadFeed: csv price %q: %w", v, perr)
			}
			p.Price = price
		}
		if v := field(rec, "image_url"); v != "" {
			p.ImageURLs = []string{v}
		}
		if v := field(rec, "available"); v != "" {
			available := strings.EqualFold(v, "true") || v == "1"
			p.Available = &available
		}
		out = append(out, p)
	}
	return collectFeed(out), nil
}

func collectFeed(rows []feedProduct) []domain.Product {
	out := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		out = append(out, row.toDomain())
	}
	return out
}
