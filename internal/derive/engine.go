// Package derive keeps dependent metric cells consistent with an accepted edit.
//
// Rules run as a fixed pipeline over a private overlay, in this order:
// cash derivation, after-cutoff sync, cocktail co-movement and the
// booked-after-cutoff attendance fallback. Cells produced by a rule are fed
// back only into the rules that can react to them, so no edit loops.
package derive

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/tally"
)

// Tolerance ниже которой пересчитанная сумма наличных не считается изменением.
const Tolerance = 1e-2

// Reader — объединённое представление метрик (обычно *tally.Store).
type Reader interface {
	Get(key counter.MetricKey) (counter.MetricCell, bool)
}

// CashContext сообщает выбранную валюту и ручную правку суммы по каналу.
type CashContext interface {
	Currency(channelID int64) catalog.Currency
	Overridden(channelID int64) bool
}

type Engine struct {
	cat catalog.Catalog
}

func New(cat catalog.Catalog) *Engine { return &Engine{cat: cat} }

type overlay struct {
	base  Reader
	cells map[counter.MetricKey]float64
	order []counter.MetricKey
}

func newOverlay(base Reader) *overlay {
	return &overlay{base: base, cells: map[counter.MetricKey]float64{}}
}

func (o *overlay) qty(k counter.MetricKey) float64 {
	if v, ok := o.cells[k]; ok {
		return v
	}
	if o.base == nil {
		return 0
	}
	c, _ := o.base.Get(k)
	return c.Qty
}

func (o *overlay) has(k counter.MetricKey) bool {
	if _, ok := o.cells[k]; ok {
		return true
	}
	if o.base == nil {
		return false
	}
	_, ok := o.base.Get(k)
	return ok
}

func (o *overlay) set(k counter.MetricKey, q float64) {
	if _, seen := o.cells[k]; !seen {
		o.order = append(o.order, k)
	}
	o.cells[k] = q
}

// setIfChanged не плодит грязных ячеек для одинаковых значений.
func (o *overlay) setIfChanged(k counter.MetricKey, q float64) bool {
	if o.qty(k) == q {
		return false
	}
	o.set(k, q)
	return true
}

func (o *overlay) changes() []counter.MetricCell {
	out := make([]counter.MetricCell, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, counter.MetricCell{Key: k, Qty: o.cells[k]})
	}
	return out
}

// Apply проверяет правку и возвращает её вместе со всеми зависимыми ячейками,
// в порядке применения. Сам view не меняется.
func (e *Engine) Apply(view Reader, edit counter.MetricCell, cc CashContext) ([]counter.MetricCell, error) {
	edit.Key = edit.Key.Normalize()
	if err := tally.Validate(edit); err != nil {
		return nil, err
	}

	o := newOverlay(view)
	if edit.Key.Kind == counter.KindCashPayment {
		o.set(edit.Key, edit.Qty)
		return o.changes(), nil
	}

	ch, ok := e.cat.Channel(edit.Key.ChannelID)
	if !ok {
		return nil, &counter.ValidationError{Key: edit.Key, Reason: "unknown channel"}
	}
	var addon catalog.Addon
	if edit.Key.Kind == counter.KindAddon {
		if addon, ok = e.cat.Addon(edit.Key.AddonID); !ok {
			return nil, &counter.ValidationError{Key: edit.Key, Reason: "unknown addon"}
		}
	}

	prev := o.qty(edit.Key)
	o.set(edit.Key, edit.Qty)

	e.cash(o, ch, edit.Key, cc)
	e.cutoff(o, ch, edit.Key)
	if edit.Key.Kind == counter.KindAddon && addon.IsCocktail() {
		e.cocktail(o, ch, edit.Key, edit.Qty-prev, cc)
	}
	if edit.Key.IsBookedAfter() {
		e.afterCutoffAttendance(o, ch, edit.Key, cc)
	}

	if err := e.checkCap(o, edit.Key); err != nil {
		return nil, err
	}
	return o.changes(), nil
}

// RecomputeCash пересчитывает наличные канала (смена валюты, снята ручная сумма).
func (e *Engine) RecomputeCash(view Reader, counterID, channelID int64, cc CashContext) []counter.MetricCell {
	ch, ok := e.cat.Channel(channelID)
	if !ok {
		return nil
	}
	o := newOverlay(view)
	e.cash(o, ch, counter.PeopleKey(counterID, channelID, counter.TallyAttended, counter.PeriodNone), cc)
	return o.changes()
}

// CashAmount — цена посещения в валюте × пришедшие, с округлением до копеек.
func CashAmount(ch catalog.Channel, cur catalog.Currency, attended float64) (float64, bool) {
	price, ok := ch.Price(cur)
	if !ok {
		return 0, false
	}
	return price.Mul(decimal.NewFromFloat(attended)).Round(2).InexactFloat64(), true
}

// rule 1
func (e *Engine) cash(o *overlay, ch catalog.Channel, k counter.MetricKey, cc CashContext) {
	if k.Kind != counter.KindPeople || !k.IsAttended() {
		return
	}
	if !ch.CashPaymentEligible || ch.IsWalkIn() {
		return
	}
	cur := catalog.DefaultCurrency
	if cc != nil {
		if cc.Overridden(ch.ID) {
			return
		}
		cur = cc.Currency(ch.ID)
	}
	amount, ok := CashAmount(ch, cur, o.qty(k))
	if !ok {
		return
	}
	ck := counter.CashKey(k.CounterID, ch.ID)
	if math.Abs(amount-o.qty(ck)) > Tolerance {
		o.set(ck, amount)
	}
}

// rule 2
func (e *Engine) cutoff(o *overlay, ch catalog.Channel, k counter.MetricKey) {
	if !ch.AfterCutoffEligible() || k.Kind == counter.KindCashPayment {
		return
	}
	if !k.IsBookedBefore() && !k.IsAttended() {
		return
	}
	attended := o.qty(k.With(counter.TallyAttended, counter.PeriodNone))
	before := o.qty(k.With(counter.TallyBooked, counter.PeriodBeforeCutoff))
	o.setIfChanged(k.With(counter.TallyBooked, counter.PeriodAfterCutoff), math.Max(0, attended-before))
}

// rule 3
func (e *Engine) cocktail(o *overlay, ch catalog.Channel, k counter.MetricKey, delta float64, cc CashContext) {
	if delta == 0 {
		return
	}
	pk := counter.PeopleKey(k.CounterID, k.ChannelID, k.TallyType, k.Period)
	o.set(pk, math.Max(0, o.qty(pk)+delta))
	e.cash(o, ch, pk, cc)
	e.cutoff(o, ch, pk)
	if pk.IsBookedAfter() {
		e.afterCutoffAttendance(o, ch, pk, cc)
	}
}

// rule 4. Для каналов с отсечкой attended = before + after, иначе attended = after.
func (e *Engine) afterCutoffAttendance(o *overlay, ch catalog.Channel, k counter.MetricKey, cc CashContext) {
	att := k.With(counter.TallyAttended, counter.PeriodNone)
	q := o.qty(k)
	if ch.AfterCutoffEligible() {
		q += o.qty(k.With(counter.TallyBooked, counter.PeriodBeforeCutoff))
	}
	if !o.has(att) {
		o.set(att, q)
	} else {
		o.setIfChanged(att, q)
	}
	e.cash(o, ch, att, cc)
	e.cutoff(o, ch, att)
}

// checkCap сверяет введённое количество допа с людьми того же ключа
// уже после пересчёта (коктейли двигают людей вместе с собой).
func (e *Engine) checkCap(o *overlay, k counter.MetricKey) error {
	if k.Kind != counter.KindAddon {
		return nil
	}
	a, ok := e.cat.Addon(k.AddonID)
	if !ok || a.MaxPerAttendee == nil {
		return nil
	}
	q := o.cells[k]
	limit := *a.MaxPerAttendee * o.qty(counter.PeopleKey(k.CounterID, k.ChannelID, k.TallyType, k.Period))
	if q > limit+1e-9 {
		return &counter.ValidationError{
			Key:    k,
			Reason: fmt.Sprintf("%s: %.0f exceeds limit %.0f (%.0f per attendee)", a.Name, q, limit, *a.MaxPerAttendee),
		}
	}
	return nil
}
