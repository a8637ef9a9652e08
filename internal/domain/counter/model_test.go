package counter

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want MetricKey
	}{
		{
			MetricKey{ChannelID: 1, Kind: KindPeople, AddonID: 9, TallyType: TallyBooked},
			MetricKey{ChannelID: 1, Kind: KindPeople, TallyType: TallyBooked, Period: PeriodBeforeCutoff},
		},
		{
			MetricKey{ChannelID: 1, Kind: KindAddon, AddonID: 9, TallyType: TallyAttended, Period: PeriodAfterCutoff},
			MetricKey{ChannelID: 1, Kind: KindAddon, AddonID: 9, TallyType: TallyAttended},
		},
		{
			MetricKey{ChannelID: 1, Kind: KindCashPayment, TallyType: TallyBooked, Period: PeriodBeforeCutoff},
			MetricKey{ChannelID: 1, Kind: KindCashPayment, TallyType: TallyAttended},
		},
	}
	for _, c := range cases {
		if got := c.in.Normalize(); got != c.want {
			t.Fatalf("Normalize(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestKeyHelpers(t *testing.T) {
	k := PeopleKey(1, 2, TallyBooked, PeriodAfterCutoff)
	if !k.IsBookedAfter() || k.IsBookedBefore() || k.IsAttended() {
		t.Fatalf("flags wrong for %s", k)
	}
	if a := k.With(TallyAttended, PeriodAfterCutoff); a.Period != PeriodNone || !a.IsAttended() {
		t.Fatalf("With = %s", a)
	}
	if s := CashKey(1, 2).String(); s != "1/2/cash_payment/0/attended/-" {
		t.Fatalf("String = %s", s)
	}
	if !StatusFinal.Valid() || Status("closed").Valid() {
		t.Fatalf("Status.Valid wrong")
	}
}
