// Package catalog holds the read-only product projection the assistant works
// with. Products are owned by the backend catalog; instances here are scoped to
// the lifetime of one turn's results.
package catalog

import (
	"encoding/json"
	"strings"
)

// Availability describes stock status of a product.
type Availability string

const (
	InStock    Availability = "in_stock"
	Limited    Availability = "limited"
	OutOfStock Availability = "out_of_stock"
)

// Product is the normalized projection of a backend catalog item.
type Product struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Price        map[string]float64 `json:"price"` // currency code -> amount
	Rating       float64            `json:"rating,omitempty"`
	Reviews      int                `json:"reviews,omitempty"`
	Availability Availability       `json:"availability,omitempty"`
	Discount     float64            `json:"discount,omitempty"` // percent off
	Category     string             `json:"category,omitempty"`
	Brand        string             `json:"brand,omitempty"`
}

// DefaultCurrency is preferred when a price carries several currencies.
// Cross-border storefronts quote USD alongside local currencies.
const DefaultCurrency = "USD"

// PriceIn returns the price in the given currency.
func (p *Product) PriceIn(currency string) (float64, bool) {
	v, ok := p.Price[currency]
	return v, ok
}

// AnyPrice returns the USD price when present, otherwise an arbitrary one.
// Returns false when the product carries no price at all.
func (p *Product) AnyPrice() (float64, bool) {
	if v, ok := p.Price[DefaultCurrency]; ok {
		return v, true
	}
	for _, v := range p.Price {
		return v, true
	}
	return 0, false
}

// TitleContains reports whether the title contains term, case-insensitively.
func (p *Product) TitleContains(term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(p.Title), strings.ToLower(term))
}

// rawProduct mirrors the loose shapes the backend emits. Prices arrive either
// as a currency map or as a bare number (legacy single-currency listings).
type rawProduct struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Name         string          `json:"name"`
	Price        json.RawMessage `json:"price"`
	Rating       float64         `json:"rating"`
	Reviews      int             `json:"reviews"`
	Availability string          `json:"availability"`
	Discount     float64         `json:"discount"`
	Category     string          `json:"category"`
	Brand        string          `json:"brand"`
}

// UnmarshalJSON decodes the tolerant wire shape into a normalized Product.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw rawProduct
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.ID = raw.ID
	p.Title = raw.Title
	if p.Title == "" {
		p.Title = raw.Name
	}
	p.Rating = raw.Rating
	p.Reviews = raw.Reviews
	p.Discount = raw.Discount
	p.Category = strings.ToLower(strings.TrimSpace(raw.Category))
	p.Brand = strings.TrimSpace(raw.Brand)

	switch raw.Availability {
	case string(InStock), string(Limited), string(OutOfStock):
		p.Availability = Availability(raw.Availability)
	default:
		p.Availability = ""
	}

	p.Price = map[string]float64{}
	if len(raw.Price) > 0 {
		var asMap map[string]float64
		if err := json.Unmarshal(raw.Price, &asMap); err == nil {
			p.Price = asMap
		} else {
			var asNumber float64
			if err := json.Unmarshal(raw.Price, &asNumber); err == nil {
				p.Price[DefaultCurrency] = asNumber
			}
		}
	}
	return nil
}

// resultEnvelope covers the two list field names the backend uses.
type resultEnvelope struct {
	Products []Product `json:"products"`
	Items    []Product `json:"items"`
}

// ParseList decodes a product list from a payload carrying either a
// "products" or an "items" array.
func ParseList(data []byte) ([]Product, error) {
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if len(env.Products) > 0 {
		return env.Products, nil
	}
	return env.Items, nil
}
