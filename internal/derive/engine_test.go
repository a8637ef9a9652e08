package derive

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
)

const (
	chEcwid   int64 = 1
	chWalkIn  int64 = 2
	chGroupon int64 = 3
	chBooking int64 = 4

	addonCocktail int64 = 10
	addonShots    int64 = 11
)

func testCatalog() catalog.Catalog {
	two := 2.0
	return catalog.Catalog{
		Channels: []catalog.Channel{
			{ID: chEcwid, Name: "Ecwid"},
			{ID: chWalkIn, Name: "Walk-In", CashPaymentEligible: true,
				CashPrices: map[catalog.Currency]decimal.Decimal{catalog.CurrencyPLN: decimal.NewFromInt(50)}},
			{ID: chGroupon, Name: "Groupon", CashPaymentEligible: true,
				CashPrices: map[catalog.Currency]decimal.Decimal{
					catalog.CurrencyPLN: decimal.RequireFromString("39.99"),
					catalog.CurrencyEUR: decimal.NewFromInt(10),
				}},
			{ID: chBooking, Name: "Booking"},
		},
		Addons: []catalog.Addon{
			{ID: addonCocktail, Name: "Welcome drink", Key: "Cocktail_set"},
			{ID: addonShots, Name: "Shots", Key: "shots", MaxPerAttendee: &two},
		},
	}
}

type mapView map[counter.MetricKey]float64

func (m mapView) Get(k counter.MetricKey) (counter.MetricCell, bool) {
	v, ok := m[k]
	return counter.MetricCell{Key: k, Qty: v}, ok
}

type cashCtx struct {
	currency  map[int64]catalog.Currency
	overrides map[int64]bool
}

func (c cashCtx) Currency(id int64) catalog.Currency {
	if cur, ok := c.currency[id]; ok {
		return cur
	}
	return catalog.DefaultCurrency
}

func (c cashCtx) Overridden(id int64) bool { return c.overrides[id] }

func apply(t *testing.T, e *Engine, v mapView, cc CashContext, key counter.MetricKey, qty float64) []counter.MetricCell {
	t.Helper()
	changes, err := e.Apply(v, counter.MetricCell{Key: key, Qty: qty}, cc)
	if err != nil {
		t.Fatalf("Apply(%v, %v): %v", key, qty, err)
	}
	for _, c := range changes {
		v[c.Key] = c.Qty
	}
	return changes
}

func pk(ch int64, tt counter.TallyType, p counter.Period) counter.MetricKey {
	return counter.PeopleKey(1, ch, tt, p)
}

func ak(ch, addon int64, tt counter.TallyType, p counter.Period) counter.MetricKey {
	return counter.AddonKey(1, ch, addon, tt, p)
}

func TestAfterCutoffInvariantHolds(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	cc := cashCtx{}

	edits := []struct {
		key counter.MetricKey
		qty float64
	}{
		{pk(chEcwid, counter.TallyBooked, counter.PeriodBeforeCutoff), 10},
		{pk(chEcwid, counter.TallyAttended, ""), 14},
		{pk(chEcwid, counter.TallyBooked, counter.PeriodBeforeCutoff), 12},
		{pk(chEcwid, counter.TallyAttended, ""), 9},
		{ak(chEcwid, addonShots, counter.TallyAttended, ""), 0},
		{pk(chEcwid, counter.TallyBooked, counter.PeriodBeforeCutoff), 3},
	}
	for _, ed := range edits {
		apply(t, e, v, cc, ed.key, ed.qty)
		att := v[pk(chEcwid, counter.TallyAttended, "")]
		before := v[pk(chEcwid, counter.TallyBooked, counter.PeriodBeforeCutoff)]
		after := v[pk(chEcwid, counter.TallyBooked, counter.PeriodAfterCutoff)]
		if want := math.Max(0, att-before); after != want {
			t.Fatalf("after edit %v=%v: after_cutoff = %v, want %v", ed.key, ed.qty, after, want)
		}
	}
}

func TestAfterCutoffScenario(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	apply(t, e, v, cashCtx{}, pk(chEcwid, counter.TallyBooked, counter.PeriodBeforeCutoff), 10)
	apply(t, e, v, cashCtx{}, pk(chEcwid, counter.TallyAttended, ""), 14)
	if got := v[pk(chEcwid, counter.TallyBooked, counter.PeriodAfterCutoff)]; got != 4 {
		t.Fatalf("after_cutoff = %v, want 4", got)
	}
}

func TestAfterCutoffNotDerivedForOtherChannels(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	apply(t, e, v, cashCtx{}, pk(chBooking, counter.TallyBooked, counter.PeriodBeforeCutoff), 10)
	apply(t, e, v, cashCtx{}, pk(chBooking, counter.TallyAttended, ""), 14)
	if _, ok := v[pk(chBooking, counter.TallyBooked, counter.PeriodAfterCutoff)]; ok {
		t.Fatalf("after_cutoff must not be derived for Booking")
	}
}

func TestCashDerivation(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	cc := cashCtx{currency: map[int64]catalog.Currency{}, overrides: map[int64]bool{}}
	cash := counter.CashKey(1, chGroupon)

	apply(t, e, v, cc, pk(chGroupon, counter.TallyAttended, ""), 3)
	if got := v[cash]; math.Abs(got-119.97) > Tolerance {
		t.Fatalf("cash = %v, want 119.97", got)
	}

	cc.currency[chGroupon] = catalog.CurrencyEUR
	changes := e.RecomputeCash(v, 1, chGroupon, cc)
	if len(changes) != 1 || changes[0].Qty != 30 {
		t.Fatalf("RecomputeCash = %+v, want 30", changes)
	}
	v[cash] = 30

	cc.overrides[chGroupon] = true
	v[cash] = 100
	apply(t, e, v, cc, pk(chGroupon, counter.TallyAttended, ""), 7)
	if got := v[cash]; got != 100 {
		t.Fatalf("override must freeze cash, got %v", got)
	}

	delete(cc.overrides, chGroupon)
	changes = e.RecomputeCash(v, 1, chGroupon, cc)
	if len(changes) != 1 || changes[0].Qty != 70 {
		t.Fatalf("cleared override must recompute, got %+v", changes)
	}
}

func TestCashWithinToleranceIsNotRewritten(t *testing.T) {
	e := New(testCatalog())
	cash := counter.CashKey(1, chGroupon)
	v := mapView{cash: 119.975}
	changes := apply(t, e, v, cashCtx{}, pk(chGroupon, counter.TallyAttended, ""), 3)
	for _, c := range changes {
		if c.Key == cash {
			t.Fatalf("cash rewritten for float noise: %+v", c)
		}
	}
}

func TestWalkInCashIsManual(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	apply(t, e, v, cashCtx{}, pk(chWalkIn, counter.TallyAttended, ""), 5)
	if _, ok := v[counter.CashKey(1, chWalkIn)]; ok {
		t.Fatalf("walk-in cash must not be derived")
	}
}

func TestCocktailCoMovement(t *testing.T) {
	e := New(testCatalog())
	v := mapView{pk(chBooking, counter.TallyBooked, counter.PeriodBeforeCutoff): 4}

	apply(t, e, v, cashCtx{}, ak(chBooking, addonCocktail, counter.TallyBooked, counter.PeriodBeforeCutoff), 2)
	if got := v[pk(chBooking, counter.TallyBooked, counter.PeriodBeforeCutoff)]; got != 6 {
		t.Fatalf("people = %v, want 6", got)
	}

	// -10 коктейлей от 2: дельта -8, люди не уходят ниже нуля
	_, err := e.Apply(v, counter.MetricCell{Key: ak(chBooking, addonCocktail, counter.TallyBooked, counter.PeriodBeforeCutoff), Qty: -8}, cashCtx{})
	if !counter.IsValidation(err) {
		t.Fatalf("negative quantity must be rejected, got %v", err)
	}
	apply(t, e, v, cashCtx{}, ak(chBooking, addonCocktail, counter.TallyBooked, counter.PeriodBeforeCutoff), 0)
	if got := v[pk(chBooking, counter.TallyBooked, counter.PeriodBeforeCutoff)]; got != 4 {
		t.Fatalf("people = %v, want 4", got)
	}
	v[pk(chBooking, counter.TallyBooked, counter.PeriodBeforeCutoff)] = 1
	v[ak(chBooking, addonCocktail, counter.TallyBooked, counter.PeriodBeforeCutoff)] = 5
	apply(t, e, v, cashCtx{}, ak(chBooking, addonCocktail, counter.TallyBooked, counter.PeriodBeforeCutoff), 0)
	if got := v[pk(chBooking, counter.TallyBooked, counter.PeriodBeforeCutoff)]; got != 0 {
		t.Fatalf("people must clamp at 0, got %v", got)
	}
}

func TestCocktailAfterCutoffCountsAsAttendance(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	apply(t, e, v, cashCtx{}, ak(chBooking, addonCocktail, counter.TallyBooked, counter.PeriodAfterCutoff), 3)
	if got := v[pk(chBooking, counter.TallyBooked, counter.PeriodAfterCutoff)]; got != 3 {
		t.Fatalf("people after = %v, want 3", got)
	}
	if got := v[pk(chBooking, counter.TallyAttended, "")]; got != 3 {
		t.Fatalf("attended = %v, want 3", got)
	}
}

func TestBookedAfterCutoffFallback(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	apply(t, e, v, cashCtx{}, pk(chBooking, counter.TallyBooked, counter.PeriodAfterCutoff), 5)
	if got := v[pk(chBooking, counter.TallyAttended, "")]; got != 5 {
		t.Fatalf("attended created = %v, want 5", got)
	}
	apply(t, e, v, cashCtx{}, pk(chBooking, counter.TallyBooked, counter.PeriodAfterCutoff), 2)
	if got := v[pk(chBooking, counter.TallyAttended, "")]; got != 2 {
		t.Fatalf("attended updated = %v, want 2", got)
	}

	// канал с отсечкой: правка "после отсечки" двигает attended
	v[pk(chEcwid, counter.TallyBooked, counter.PeriodBeforeCutoff)] = 10
	apply(t, e, v, cashCtx{}, pk(chEcwid, counter.TallyBooked, counter.PeriodAfterCutoff), 4)
	if got := v[pk(chEcwid, counter.TallyAttended, "")]; got != 14 {
		t.Fatalf("ecwid attended = %v, want 14", got)
	}
	if got := v[pk(chEcwid, counter.TallyBooked, counter.PeriodAfterCutoff)]; got != 4 {
		t.Fatalf("ecwid after = %v, want 4", got)
	}
}

func TestAddonCap(t *testing.T) {
	e := New(testCatalog())
	v := mapView{pk(chBooking, counter.TallyAttended, ""): 2}
	_, err := e.Apply(v, counter.MetricCell{Key: ak(chBooking, addonShots, counter.TallyAttended, ""), Qty: 5}, cashCtx{})
	if !counter.IsValidation(err) {
		t.Fatalf("expected cap violation, got %v", err)
	}
	v[pk(chBooking, counter.TallyAttended, "")] = 3
	apply(t, e, v, cashCtx{}, ak(chBooking, addonShots, counter.TallyAttended, ""), 5)
}

func TestCashEditHasNoDependents(t *testing.T) {
	e := New(testCatalog())
	v := mapView{}
	changes := apply(t, e, v, cashCtx{}, counter.CashKey(1, chWalkIn), 250)
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want only the edit", changes)
	}
}

func TestUnknownChannelRejected(t *testing.T) {
	e := New(testCatalog())
	_, err := e.Apply(mapView{}, counter.MetricCell{Key: pk(99, counter.TallyAttended, ""), Qty: 1}, cashCtx{})
	if !counter.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
