// Package snapshot is the only place that reads or writes the cash snapshot
// embedded in Counter.notes. Everything outside the auto-generated lines and
// the marker block belongs to the user and is passed through untouched.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
)

// Маркеры и префиксы — формат сохранённых заметок, менять нельзя.
const (
	StartMarker    = "---COUNTER_CASH_SNAPSHOT_START---"
	EndMarker      = "---COUNTER_CASH_SNAPSHOT_END---"
	DiscountPrefix = "Walk-In Discounts applied: "
	CashPrefix     = "Cash Collected: "

	Version = 1
)

type Entry struct {
	Currency catalog.Currency `json:"currency"`
	Amount   float64          `json:"amount"`
	Qty      float64          `json:"qty"`
}

// meaningful — есть что сохранять: сумма, количество или не дефолтная валюта.
func (e Entry) meaningful() bool {
	return e.Amount != 0 || e.Qty != 0 || (e.Currency != "" && e.Currency != catalog.DefaultCurrency)
}

type document struct {
	Version  int             `json:"version"`
	Channels json.RawMessage `json:"channels"`
}

var (
	ErrNoSnapshot = errors.New("snapshot: no block in notes")
	ErrMalformed  = errors.New("snapshot: malformed block")
)

// Decode никогда не падает: нет блока или он битый — пустая карта.
func Decode(notes string) map[int64]Entry {
	out, err := DecodeErr(notes)
	if err != nil {
		return map[int64]Entry{}
	}
	return out
}

// DecodeErr то же, но сообщает причину (для логов и метрик).
func DecodeErr(notes string) (map[int64]Entry, error) {
	lines := splitLines(notes)
	blocks := findBlocks(lines)
	if len(blocks) == 0 {
		return map[int64]Entry{}, ErrNoSnapshot
	}
	// действует последний блок
	b := blocks[len(blocks)-1]
	payload := strings.Join(lines[b.start+1:b.end], "\n")

	var doc document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return map[int64]Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc.Channels, &raw); err != nil || raw == nil {
		return map[int64]Entry{}, fmt.Errorf("%w: channels is not an object", ErrMalformed)
	}

	out := make(map[int64]Entry, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		cur, ok := catalog.ParseCurrency(string(e.Currency))
		if !ok {
			cur = catalog.DefaultCurrency
		}
		e.Currency = cur
		out[id] = e
	}
	return out, nil
}

// Encode — блок {version, channels} между маркерами. Ключи map сортирует encoding/json.
func Encode(channels map[int64]Entry) string {
	m := make(map[string]Entry, len(channels))
	for id, e := range channels {
		if e.Currency == "" {
			e.Currency = catalog.DefaultCurrency
		}
		m[strconv.FormatInt(id, 10)] = e
	}
	body, _ := json.Marshal(struct {
		Version  int              `json:"version"`
		Channels map[string]Entry `json:"channels"`
	}{Version: Version, Channels: m})
	return StartMarker + "\n" + string(body) + "\n" + EndMarker
}

// Amount — итог по валюте для строки "Cash Collected".
type Amount struct {
	Currency catalog.Currency
	Value    decimal.Decimal
}

// CashTotals складывает суммы снапшота по валютам (PLN первым, дальше по алфавиту).
func CashTotals(channels map[int64]Entry) []Amount {
	sums := map[catalog.Currency]decimal.Decimal{}
	for _, e := range channels {
		if e.Amount == 0 {
			continue
		}
		cur := e.Currency
		if cur == "" {
			cur = catalog.DefaultCurrency
		}
		sums[cur] = sums[cur].Add(decimal.NewFromFloat(e.Amount))
	}
	out := make([]Amount, 0, len(sums))
	for cur, v := range sums {
		out = append(out, Amount{Currency: cur, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Currency == catalog.DefaultCurrency) != (out[j].Currency == catalog.DefaultCurrency) {
			return out[i].Currency == catalog.DefaultCurrency
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func DiscountLine(discounts []string) string {
	var names []string
	for _, d := range discounts {
		if d = strings.TrimSpace(d); d != "" {
			names = append(names, d)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return DiscountPrefix + strings.Join(names, ", ")
}

func CashLine(totals []Amount) string {
	var parts []string
	for _, t := range totals {
		if t.Value.IsZero() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", t.Currency, t.Value.StringFixed(2)))
	}
	if len(parts) == 0 {
		return ""
	}
	return CashPrefix + strings.Join(parts, ", ")
}

// Rebuild убирает прежние авто-строки и блок снапшота, сохраняет остальной текст
// как есть и дописывает: скидки, наличные, блок. Повторный вызов ничего не меняет.
func Rebuild(notes string, discounts []string, totals []Amount, channels map[int64]Entry) string {
	lines := UserLines(notes)

	if l := DiscountLine(discounts); l != "" {
		lines = append(lines, l)
	}
	if l := CashLine(totals); l != "" {
		lines = append(lines, l)
	}
	kept := map[int64]Entry{}
	for id, e := range channels {
		if e.meaningful() {
			kept[id] = e
		}
	}
	if len(kept) > 0 {
		lines = append(lines, Encode(kept))
	}
	return strings.Join(lines, "\n")
}

// UserLines — строки пользователя без авто-строк и блока, хвостовые пустые строки срезаны.
func UserLines(notes string) []string {
	lines := splitLines(notes)
	drop := make([]bool, len(lines))
	for _, b := range findBlocks(lines) {
		for i := b.start; i <= b.end; i++ {
			drop[i] = true
		}
	}
	out := make([]string, 0, len(lines))
	for i, l := range lines {
		if drop[i] || isAutoLine(l) {
			continue
		}
		out = append(out, l)
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out
}

// UserText — свободный текст заметки, который можно редактировать.
func UserText(notes string) string { return strings.Join(UserLines(notes), "\n") }

// Visible — заметка без блока снапшота (авто-строки видны).
func Visible(notes string) string {
	lines := splitLines(notes)
	drop := make([]bool, len(lines))
	for _, b := range findBlocks(lines) {
		for i := b.start; i <= b.end; i++ {
			drop[i] = true
		}
	}
	out := make([]string, 0, len(lines))
	for i, l := range lines {
		if !drop[i] {
			out = append(out, l)
		}
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}

// Discounts разбирает строку скидок обратно в список.
func Discounts(notes string) []string {
	for _, l := range splitLines(notes) {
		t := strings.TrimSpace(l)
		if !strings.HasPrefix(t, DiscountPrefix) {
			continue
		}
		var out []string
		for _, d := range strings.Split(strings.TrimPrefix(t, DiscountPrefix), ",") {
			if d = strings.TrimSpace(d); d != "" {
				out = append(out, d)
			}
		}
		return out
	}
	return nil
}

func isAutoLine(l string) bool {
	t := strings.TrimSpace(l)
	return strings.HasPrefix(t, DiscountPrefix) || strings.HasPrefix(t, CashPrefix)
}

func splitLines(notes string) []string {
	if notes == "" {
		return nil
	}
	return strings.Split(notes, "\n")
}

type block struct{ start, end int }

// findBlocks: каждый END закрывает ближайший предшествующий START.
// Непарные маркеры остаются обычным текстом.
func findBlocks(lines []string) []block {
	var out []block
	open := -1
	for i, l := range lines {
		switch strings.TrimSpace(l) {
		case StartMarker:
			open = i
		case EndMarker:
			if open >= 0 {
				out = append(out, block{start: open, end: i})
				open = -1
			}
		}
	}
	return out
}
