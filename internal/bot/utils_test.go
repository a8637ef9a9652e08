package bot

import (
	"testing"
	"time"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
)

func testCatalog() catalog.Catalog {
	return catalog.Catalog{
		Channels: []catalog.Channel{
			{ID: 1, Name: "Ecwid"},
			{ID: 2, Name: "Walk-In", CashPaymentEligible: true},
			{ID: 3, Name: "Booking"},
		},
		Addons: []catalog.Addon{{ID: 10, Name: "Cocktail set", Key: "cocktail"}},
	}
}

func TestParseSetArgs(t *testing.T) {
	cat := testCatalog()
	cases := []struct {
		in   []string
		want counter.MetricKey
		qty  float64
	}{
		{[]string{"ecwid", "people", "attended", "14"},
			counter.PeopleKey(0, 1, counter.TallyAttended, ""), 14},
		{[]string{"walk_in", "people", "booked", "3"},
			counter.PeopleKey(0, 2, counter.TallyBooked, counter.PeriodBeforeCutoff), 3},
		{[]string{"3", "cocktail", "booked", "after", "2,5"},
			counter.AddonKey(0, 3, 10, counter.TallyBooked, counter.PeriodAfterCutoff), 2.5},
	}
	for _, c := range cases {
		got, err := parseSetArgs(cat, 0, c.in)
		if err != nil {
			t.Fatalf("%v: %v", c.in, err)
		}
		if got.Key != c.want || got.Qty != c.qty {
			t.Fatalf("%v: got %s=%v, want %s=%v", c.in, got.Key, got.Qty, c.want, c.qty)
		}
	}

	bad := [][]string{
		{"ecwid", "people", "14"},
		{"nowhere", "people", "attended", "1"},
		{"ecwid", "wine", "attended", "1"},
		{"ecwid", "people", "attended", "after", "1"},
		{"ecwid", "people", "booked", "x"},
	}
	for _, in := range bad {
		if _, err := parseSetArgs(cat, 0, in); err == nil {
			t.Fatalf("%v: expected error", in)
		}
	}
}

func TestParseDate(t *testing.T) {
	now := time.Date(2024, 5, 2, 15, 4, 0, 0, time.UTC)
	for in, want := range map[string]time.Time{
		"":           time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		"вчера":      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		"2024-05-01": time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		"01.05.2024": time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	} {
		got, err := parseDate(in, now)
		if err != nil || !got.Equal(want) {
			t.Fatalf("parseDate(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseDate("1 мая", now); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSplitListAndToggle(t *testing.T) {
	if got := splitList(" Students ,, Seniors "); len(got) != 2 || got[0] != "Students" || got[1] != "Seniors" {
		t.Fatalf("splitList = %v", got)
	}
	if got := splitList("-"); got != nil {
		t.Fatalf("dash must clear, got %v", got)
	}
	if got := toggle([]int64{1, 2}, 2); len(got) != 1 || got[0] != 1 {
		t.Fatalf("toggle off = %v", got)
	}
	if got := toggle([]int64{1}, 3); len(got) != 2 || got[1] != 3 {
		t.Fatalf("toggle on = %v", got)
	}
}
