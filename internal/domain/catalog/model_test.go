package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAfterCutoffAndWalkIn(t *testing.T) {
	cases := []struct {
		name          string
		after, walkIn bool
	}{
		{"ecwid", true, false},
		{"Ecwid", true, false},
		{"Walk-In", true, true},
		{"walk in", true, true},
		{"WALK_IN", true, true},
		{"Booking", false, false},
	}
	for _, c := range cases {
		ch := Channel{Name: c.name}
		if ch.AfterCutoffEligible() != c.after || ch.IsWalkIn() != c.walkIn {
			t.Fatalf("%q: after=%v walkIn=%v", c.name, ch.AfterCutoffEligible(), ch.IsWalkIn())
		}
	}
}

func TestCocktailHeuristic(t *testing.T) {
	for _, a := range []Addon{{Key: "cocktail_set"}, {Name: "Signature COCKTAILS"}, {Key: "x", Name: "Cocktail"}} {
		if !a.IsCocktail() {
			t.Fatalf("%+v must be a cocktail", a)
		}
	}
	if (Addon{Key: "shots", Name: "Shots"}).IsCocktail() {
		t.Fatalf("shots are not cocktails")
	}
}

func TestCatalogLookups(t *testing.T) {
	c := Catalog{
		Channels: []Channel{
			{ID: 1, Name: "Walk-In", CashPrices: map[Currency]decimal.Decimal{CurrencyPLN: decimal.NewFromInt(50)}},
			{ID: 2, Name: "Booking"},
		},
		Addons:   []Addon{{ID: 10, Name: "Shots", Key: "shots"}},
		Products: []Product{{ID: 5, Name: "Pub crawl"}},
	}
	if ch, ok := c.ChannelByName("walk_in"); !ok || ch.ID != 1 {
		t.Fatalf("ChannelByName = %+v, %v", ch, ok)
	}
	if ch, ok := c.WalkIn(); !ok || ch.ID != 1 {
		t.Fatalf("WalkIn = %+v, %v", ch, ok)
	}
	if a, ok := c.AddonByKey("SHOTS"); !ok || a.ID != 10 {
		t.Fatalf("AddonByKey = %+v, %v", a, ok)
	}
	if p, ok := c.Product(5); !ok || p.Name != "Pub crawl" {
		t.Fatalf("Product = %+v, %v", p, ok)
	}
	if _, ok := c.Channels[1].Price(CurrencyPLN); ok {
		t.Fatalf("booking has no cash price")
	}
	if cur, ok := ParseCurrency(" eur "); !ok || cur != CurrencyEUR {
		t.Fatalf("ParseCurrency = %q, %v", cur, ok)
	}
}
