// Package ranker orders candidate products against the analyzed intent and
// session context. Scoring is additive and deterministic: the same inputs
// always produce the same order, and the output is a permutation of the input.
package ranker

import (
	"sort"
	"strings"

	"github.com/vitrineai/vitrine/assist/analyzer"
	"github.com/vitrineai/vitrine/assist/catalog"
)

// Weights are the score contributions. They live in data, not code, so tests
// and tuning treat them as configuration rather than business rules.
type Weights struct {
	PerRatingPoint     float64 // per star of rating
	InStock            float64
	Limited            float64
	PerDiscountPoint   float64 // per percent off
	CategoryMatch      float64 // exact category match
	BrandMatch         float64 // brand substring match
	PriceWithinBoth    float64 // price inside both bounds
	PriceWithinMax     float64 // only a max bound given and satisfied
	PriceWithinMin     float64 // only a min bound given and satisfied
	CurrentProduct     float64 // title contains the session's current product
	PerKeyword         float64 // per matched keyword
	PopularityDivisor  float64 // reviews are divided by this ...
	PopularityCap      float64 // ... and capped here
	ExpensivePenalty   float64 // subtracted when unconstrained and pricey
	ExpensiveThreshold float64
}

// DefaultWeights returns the production scoring profile.
func DefaultWeights() Weights {
	return Weights{
		PerRatingPoint:     10,
		InStock:            20,
		Limited:            10,
		PerDiscountPoint:   0.5,
		CategoryMatch:      30,
		BrandMatch:         25,
		PriceWithinBoth:    40,
		PriceWithinMax:     30,
		PriceWithinMin:     20,
		CurrentProduct:     35,
		PerKeyword:         10,
		PopularityDivisor:  100,
		PopularityCap:      10,
		ExpensivePenalty:   10,
		ExpensiveThreshold: 1000,
	}
}

// SessionContext is the slice of conversation context scoring cares about.
type SessionContext struct {
	CurrentProduct string
}

// Ranker scores product lists with a fixed weight profile.
type Ranker struct {
	weights Weights
}

// New creates a Ranker with the given weights.
func New(weights Weights) *Ranker {
	return &Ranker{weights: weights}
}

// NewDefault creates a Ranker with DefaultWeights.
func NewDefault() *Ranker {
	return New(DefaultWeights())
}

// Rank returns items stable-sorted by descending score. The input slice is
// not mutated; ties keep their input order.
func (r *Ranker) Rank(items []catalog.Product, a analyzer.Result, sctx SessionContext) []catalog.Product {
	ranked := make([]catalog.Product, len(items))
	copy(ranked, items)

	scores := make([]float64, len(ranked))
	for i := range ranked {
		scores[i] = r.Score(&ranked[i], a, sctx)
	}
	idx := make([]int, len(ranked))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(x, y int) bool {
		return scores[idx[x]] > scores[idx[y]]
	})

	out := make([]catalog.Product, len(ranked))
	for i, j := range idx {
		out[i] = ranked[j]
	}
	return out
}

// Score computes the additive relevance score for one product.
func (r *Ranker) Score(p *catalog.Product, a analyzer.Result, sctx SessionContext) float64 {
	w := r.weights
	score := w.PerRatingPoint * p.Rating

	switch p.Availability {
	case catalog.InStock:
		score += w.InStock
	case catalog.Limited:
		score += w.Limited
	}

	score += w.PerDiscountPoint * p.Discount

	if a.Category != "" && p.Category == a.Category {
		score += w.CategoryMatch
	}
	if a.Brand != "" && strings.Contains(strings.ToLower(p.Brand), strings.ToLower(a.Brand)) {
		score += w.BrandMatch
	}

	price, hasPrice := p.AnyPrice()
	if hasPrice {
		score += r.priceScore(price, a.PriceRange)
		if a.PriceRange == nil && price > w.ExpensiveThreshold {
			score -= w.ExpensivePenalty
		}
	}

	if p.TitleContains(sctx.CurrentProduct) {
		score += w.CurrentProduct
	}

	for _, kw := range a.Keywords {
		if p.TitleContains(kw) {
			score += w.PerKeyword
		}
	}

	if p.Reviews > 0 && w.PopularityDivisor > 0 {
		popularity := float64(p.Reviews) / w.PopularityDivisor
		if popularity > w.PopularityCap {
			popularity = w.PopularityCap
		}
		score += popularity
	}

	return score
}

func (r *Ranker) priceScore(price float64, pr *analyzer.PriceRange) float64 {
	if pr == nil {
		return 0
	}
	w := r.weights
	switch {
	case pr.Min != nil && pr.Max != nil:
		if price >= *pr.Min && price <= *pr.Max {
			return w.PriceWithinBoth
		}
	case pr.Max != nil:
		if price <= *pr.Max {
			return w.PriceWithinMax
		}
	case pr.Min != nil:
		if price >= *pr.Min {
			return w.PriceWithinMin
		}
	}
	return 0
}
