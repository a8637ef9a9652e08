package summary

import (
	"math"
	"sort"
	"strconv"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/snapshot"
)

// Bucket — разрез по людям или по одному допу. NonShow == nil: неприменимо.
type Bucket struct {
	BookedBefore float64
	BookedAfter  float64
	Attended     float64
	NonShow      *float64
}

func (b *Bucket) add(o Bucket) {
	b.BookedBefore += o.BookedBefore
	b.BookedAfter += o.BookedAfter
	b.Attended += o.Attended
	if o.NonShow != nil {
		v := *o.NonShow
		if b.NonShow != nil {
			v += *b.NonShow
		}
		b.NonShow = &v
	}
}

func (b Bucket) empty() bool {
	return b.BookedBefore == 0 && b.BookedAfter == 0 && b.Attended == 0
}

type AddonLine struct {
	AddonID int64
	Name    string
	Bucket
}

type ChannelLine struct {
	ChannelID   int64
	Name        string
	AfterCutoff bool
	People      Bucket
	Addons      []AddonLine
	Cash        *snapshot.Entry
}

type Totals struct {
	People Bucket
	Addons []AddonLine
	Cash   []snapshot.Amount
}

type Summary struct {
	Channels []ChannelLine
	Totals   Totals
}

type Input struct {
	Catalog             catalog.Catalog
	Cells               []counter.MetricCell
	PlatformChannels    []int64
	AfterCutoffChannels []int64
	Cash                map[int64]snapshot.Entry
}

type cellKey struct {
	kind    counter.Kind
	addonID int64
	tally   counter.TallyType
	period  counter.Period
}

// Build сворачивает объединённые метрики по выбранным каналам.
// ok == false — ничего не выбрано (это не то же самое, что все нули).
func Build(in Input) (Summary, bool) {
	selected := map[int64]bool{}
	for _, id := range in.PlatformChannels {
		selected[id] = true
	}
	for _, id := range in.AfterCutoffChannels {
		selected[id] = true
	}
	if len(selected) == 0 {
		return Summary{}, false
	}

	byChannel := map[int64]map[cellKey]float64{}
	for _, c := range in.Cells {
		k := c.Key.Normalize()
		if !selected[k.ChannelID] {
			continue
		}
		m := byChannel[k.ChannelID]
		if m == nil {
			m = map[cellKey]float64{}
			byChannel[k.ChannelID] = m
		}
		m[cellKey{k.Kind, k.AddonID, k.TallyType, k.Period}] = c.Qty
	}

	var s Summary
	addonTotals := map[int64]*AddonLine{}
	for _, ch := range orderedChannels(in.Catalog, selected) {
		cells := byChannel[ch.ID]
		line := ChannelLine{
			ChannelID:   ch.ID,
			Name:        ch.Name,
			AfterCutoff: ch.AfterCutoffEligible(),
			People:      bucket(cells, counter.KindPeople, 0, ch.AfterCutoffEligible()),
		}
		for _, a := range addonsOf(in.Catalog, cells) {
			b := bucket(cells, counter.KindAddon, a.ID, ch.AfterCutoffEligible())
			if b.empty() {
				continue
			}
			line.Addons = append(line.Addons, AddonLine{AddonID: a.ID, Name: a.Name, Bucket: b})
			t := addonTotals[a.ID]
			if t == nil {
				t = &AddonLine{AddonID: a.ID, Name: a.Name}
				addonTotals[a.ID] = t
			}
			t.add(b)
		}
		if e, ok := in.Cash[ch.ID]; ok && (e.Amount != 0 || e.Qty != 0) {
			e := e
			line.Cash = &e
		}
		s.Totals.People.add(line.People)
		s.Channels = append(s.Channels, line)
	}

	for _, a := range in.Catalog.Addons {
		if t, ok := addonTotals[a.ID]; ok {
			s.Totals.Addons = append(s.Totals.Addons, *t)
			delete(addonTotals, a.ID)
		}
	}
	s.Totals.Cash = snapshot.CashTotals(selectedCash(in.Cash, selected))
	return s, true
}

// bucket: для каналов с отсечкой "после" всегда пересчитываем, no-show не считаем.
func bucket(cells map[cellKey]float64, kind counter.Kind, addonID int64, afterCutoff bool) Bucket {
	b := Bucket{
		BookedBefore: cells[cellKey{kind, addonID, counter.TallyBooked, counter.PeriodBeforeCutoff}],
		BookedAfter:  cells[cellKey{kind, addonID, counter.TallyBooked, counter.PeriodAfterCutoff}],
		Attended:     cells[cellKey{kind, addonID, counter.TallyAttended, counter.PeriodNone}],
	}
	if afterCutoff {
		b.BookedAfter = math.Max(0, b.Attended-b.BookedBefore)
		return b
	}
	ns := math.Max(0, b.BookedBefore+b.BookedAfter-b.Attended)
	b.NonShow = &ns
	return b
}

func orderedChannels(cat catalog.Catalog, selected map[int64]bool) []catalog.Channel {
	var out []catalog.Channel
	seen := map[int64]bool{}
	for _, ch := range cat.Channels {
		if selected[ch.ID] {
			out = append(out, ch)
			seen[ch.ID] = true
		}
	}
	// выбранные, но отсутствующие в справочнике — в конце, по id
	var rest []int64
	for id := range selected {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, id := range rest {
		out = append(out, catalog.Channel{ID: id, Name: "#" + strconv.FormatInt(id, 10)})
	}
	return out
}

func addonsOf(cat catalog.Catalog, cells map[cellKey]float64) []catalog.Addon {
	ids := map[int64]bool{}
	for k := range cells {
		if k.kind == counter.KindAddon {
			ids[k.addonID] = true
		}
	}
	var out []catalog.Addon
	for _, a := range cat.Addons {
		if ids[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

func selectedCash(cash map[int64]snapshot.Entry, selected map[int64]bool) map[int64]snapshot.Entry {
	out := map[int64]snapshot.Entry{}
	for id, e := range cash {
		if selected[id] {
			out[id] = e
		}
	}
	return out
}
