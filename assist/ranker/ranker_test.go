package ranker

import (
	"reflect"
	"sort"
	"testing"

	"github.com/vitrineai/vitrine/assist/analyzer"
	"github.com/vitrineai/vitrine/assist/catalog"
)

func usd(v float64) map[string]float64 {
	return map[string]float64{"USD": v}
}

func fixtures() []catalog.Product {
	return []catalog.Product{
		{ID: "cheap", Title: "Xiaomi Redmi Note 13", Price: usd(265), Rating: 4.4, Reviews: 845, Availability: catalog.Limited, Discount: 12, Category: "smartphones", Brand: "xiaomi"},
		{ID: "flagship", Title: "iPhone 15 Pro", Price: usd(999), Rating: 4.8, Reviews: 321, Availability: catalog.InStock, Category: "smartphones", Brand: "apple"},
		{ID: "oos", Title: "Apple Watch SE", Price: usd(239), Rating: 4.6, Reviews: 410, Availability: catalog.OutOfStock, Category: "relogios", Brand: "apple"},
		{ID: "pricey", Title: "MacBook Air M3", Price: usd(1199), Rating: 4.9, Reviews: 150, Availability: catalog.InStock, Category: "notebooks", Brand: "apple"},
	}
}

func TestRank_Deterministic(t *testing.T) {
	r := NewDefault()
	a := analyzer.Result{Category: "smartphones", Keywords: []string{"iphone"}}

	first := r.Rank(fixtures(), a, SessionContext{})
	for i := 0; i < 5; i++ {
		again := r.Rank(fixtures(), a, SessionContext{})
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced a different order", i)
		}
	}
}

func TestRank_IsPermutation(t *testing.T) {
	r := NewDefault()
	in := fixtures()
	out := r.Rank(in, analyzer.Result{}, SessionContext{})

	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	ids := func(ps []catalog.Product) []string {
		var s []string
		for _, p := range ps {
			s = append(s, p.ID)
		}
		sort.Strings(s)
		return s
	}
	if !reflect.DeepEqual(ids(in), ids(out)) {
		t.Errorf("output is not a permutation: %v vs %v", ids(in), ids(out))
	}

	// Input order untouched.
	if in[0].ID != "cheap" || in[3].ID != "pricey" {
		t.Error("input slice was mutated")
	}
}

func TestRank_CategoryMatchOutranks(t *testing.T) {
	r := NewDefault()
	a := analyzer.Result{Category: "smartphones"}

	out := r.Rank(fixtures(), a, SessionContext{})
	top2 := map[string]bool{out[0].ID: true, out[1].ID: true}
	if !top2["cheap"] || !top2["flagship"] {
		t.Errorf("smartphones not ranked first: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestRank_PriceBoundPrefersItemsInside(t *testing.T) {
	r := NewDefault()
	max := 500.0
	a := analyzer.Result{
		Category:   "smartphones",
		PriceRange: &analyzer.PriceRange{Max: &max},
	}

	out := r.Rank(fixtures(), a, SessionContext{})
	if out[0].ID != "cheap" {
		t.Errorf("top = %s, want the in-budget smartphone", out[0].ID)
	}
}

func TestRank_CurrentProductBoost(t *testing.T) {
	r := NewDefault()
	out := r.Rank(fixtures(), analyzer.Result{}, SessionContext{CurrentProduct: "apple watch"})
	if out[0].ID != "oos" {
		t.Errorf("top = %s, want the session's current product", out[0].ID)
	}
}

func TestScore_Terms(t *testing.T) {
	r := NewDefault()
	w := DefaultWeights()

	t.Run("availability", func(t *testing.T) {
		inStock := catalog.Product{Rating: 4, Availability: catalog.InStock}
		limited := catalog.Product{Rating: 4, Availability: catalog.Limited}
		oos := catalog.Product{Rating: 4, Availability: catalog.OutOfStock}

		a := analyzer.Result{}
		base := r.Score(&oos, a, SessionContext{})
		if got := r.Score(&inStock, a, SessionContext{}); got != base+w.InStock {
			t.Errorf("in_stock bonus = %v, want %v", got-base, w.InStock)
		}
		if got := r.Score(&limited, a, SessionContext{}); got != base+w.Limited {
			t.Errorf("limited bonus = %v, want %v", got-base, w.Limited)
		}
	})

	t.Run("popularity is capped", func(t *testing.T) {
		modest := catalog.Product{Reviews: 500}
		viral := catalog.Product{Reviews: 100000}

		a := analyzer.Result{}
		if got := r.Score(&modest, a, SessionContext{}); got != 5 {
			t.Errorf("modest popularity = %v, want 5", got)
		}
		if got := r.Score(&viral, a, SessionContext{}); got != w.PopularityCap {
			t.Errorf("viral popularity = %v, want cap %v", got, w.PopularityCap)
		}
	})

	t.Run("expensive penalty only when unconstrained", func(t *testing.T) {
		p := catalog.Product{Price: usd(1500)}

		unconstrained := r.Score(&p, analyzer.Result{}, SessionContext{})
		if unconstrained != -w.ExpensivePenalty {
			t.Errorf("unconstrained = %v, want %v", unconstrained, -w.ExpensivePenalty)
		}

		min := 1000.0
		bounded := r.Score(&p, analyzer.Result{PriceRange: &analyzer.PriceRange{Min: &min}}, SessionContext{})
		if bounded != w.PriceWithinMin {
			t.Errorf("bounded = %v, want %v (no penalty)", bounded, w.PriceWithinMin)
		}
	})

	t.Run("keyword matches accumulate", func(t *testing.T) {
		p := catalog.Product{Title: "Fone JBL Tune 520BT"}
		a := analyzer.Result{Keywords: []string{"fone", "jbl", "xiaomi"}}
		if got := r.Score(&p, a, SessionContext{}); got != 2*w.PerKeyword {
			t.Errorf("keyword score = %v, want %v", got, 2*w.PerKeyword)
		}
	})
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	r := NewDefault()
	in := []catalog.Product{
		{ID: "a", Rating: 4, Availability: catalog.InStock},
		{ID: "b", Rating: 4, Availability: catalog.InStock},
		{ID: "c", Rating: 4, Availability: catalog.InStock},
	}
	out := r.Rank(in, analyzer.Result{}, SessionContext{})
	for i, id := range []string{"a", "b", "c"} {
		if out[i].ID != id {
			t.Fatalf("tie order changed: %v", out)
		}
	}
}
