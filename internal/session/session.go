// Package session owns one open counter: its metric store, derivation engine,
// cash ledger, notes and workflow. The caller creates one Session per editing
// context and serializes calls to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Spok95/venue-counter/internal/derive"
	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/infra/metrics"
	"github.com/Spok95/venue-counter/internal/snapshot"
	"github.com/Spok95/venue-counter/internal/summary"
	"github.com/Spok95/venue-counter/internal/tally"
	"github.com/Spok95/venue-counter/internal/workflow"
)

// Persistence — хранилище учётов (реализует *counter.Repo).
type Persistence interface {
	FetchCounterByDate(ctx context.Context, date time.Time) (*counter.Loaded, error)
	EnsureCounterForDate(ctx context.Context, date time.Time, managerID int64, productID *int64, staff []int64) (*counter.Counter, error)
	UpdateCounterStatus(ctx context.Context, id int64, status counter.Status) error
	UpdateCounterManager(ctx context.Context, id, managerID int64) error
	UpdateCounterProduct(ctx context.Context, id int64, productID *int64) error
	UpdateCounterStaff(ctx context.Context, id int64, staff []int64) error
	UpdateCounterNotes(ctx context.Context, id int64, notes string) error
	FlushDirtyMetrics(ctx context.Context, counterID int64, batch []counter.MetricCell) ([]counter.MetricKey, error)
	DeleteCounter(ctx context.Context, id int64) error
}

var (
	ErrNotAfterCutoff = errors.New("channel has no after-cutoff bucket")
	ErrNotCashChannel = errors.New("channel does not take cash payments")

	ErrDiscountName   = errors.New("discount name must not contain a comma")

	// ErrUncommitted — хранилище приняло не все отправленные метрики.
	ErrUncommitted = errors.New("metrics not committed")
)

type cashState struct {
	currency   catalog.Currency
	overridden bool
}

// fields — правки полей учёта, ещё не записанные в хранилище.
type fields struct {
	managerID int64
	productID *int64
	staff     []int64

	managerDirty, productDirty, staffDirty bool
}

type Session struct {
	id    string
	repo  Persistence
	cat   catalog.Catalog
	log   *slog.Logger
	stats *metrics.CounterMetrics

	store   *tally.Store
	engine  *derive.Engine
	machine *workflow.Machine

	date        time.Time
	counter     *counter.Counter
	storedNotes string
	userText    string
	discounts   []string
	cash        map[int64]*cashState
	pending     fields

	platform    map[int64]bool
	afterCutoff map[int64]bool
}

func New(repo Persistence, cat catalog.Catalog, log *slog.Logger, stats *metrics.CounterMetrics) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	log = log.With("session_id", id)
	s := &Session{
		id:     id,
		repo:   repo,
		cat:    cat,
		log:    log,
		stats:  stats,
		store:  tally.NewStore(repo, log),
		engine: derive.New(cat),
	}
	s.machine = workflow.New(counter.StatusDraft, steps{s})
	s.reset(time.Time{})
	return s
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Date() time.Time             { return s.date }
func (s *Session) Catalog() catalog.Catalog    { return s.cat }
func (s *Session) Stage() workflow.Stage       { return s.machine.Stage() }
func (s *Session) DirtyCount() int             { return s.store.DirtyCount() }
func (s *Session) Cells() []counter.MetricCell { return s.store.Cells() }

// Counter — копия текущего учёта; nil, пока учёт на дату не создан.
func (s *Session) Counter() *counter.Counter {
	if s.counter == nil {
		return nil
	}
	c := *s.counter
	c.Staff = append([]int64(nil), s.counter.Staff...)
	return &c
}

func (s *Session) Qty(key counter.MetricKey) float64 { return s.store.Qty(key) }

// ManagerID, ProductID и Staff — текущие значения полей с учётом несохранённых правок.
func (s *Session) ManagerID() int64  { return s.pending.managerID }
func (s *Session) ProductID() *int64 { return s.pending.productID }
func (s *Session) Staff() []int64    { return append([]int64(nil), s.pending.staff...) }

func (s *Session) reset(date time.Time) {
	s.date = date
	s.counter = nil
	s.storedNotes = ""
	s.userText = ""
	s.discounts = nil
	s.cash = map[int64]*cashState{}
	s.pending = fields{}
	s.platform = map[int64]bool{}
	s.afterCutoff = map[int64]bool{}
	s.store.Load(0, nil)
	s.machine.Reset(counter.StatusDraft)
}

// Open загружает учёт на дату. Если учёта нет — черновик без учёта, это не ошибка.
// Несохранённые правки предыдущей даты выбрасываются.
func (s *Session) Open(ctx context.Context, date time.Time) error {
	date = dateOnly(date)
	loaded, err := s.repo.FetchCounterByDate(ctx, date)
	if err != nil && !errors.Is(err, counter.ErrNotFound) {
		return fmt.Errorf("open counter %s: %w", date.Format(time.DateOnly), err)
	}
	s.reset(date)
	if loaded == nil {
		s.log.Debug("no counter for date, starting draft", "date", date.Format(time.DateOnly))
		return nil
	}

	c := loaded.Counter
	c.Staff = loaded.Staff
	s.counter = &c
	s.storedNotes = c.Notes
	s.userText = snapshot.UserText(c.Notes)
	s.discounts = snapshot.Discounts(c.Notes)
	s.store.Load(c.ID, loaded.Metrics)
	s.machine.Reset(c.Status)
	s.pending = fields{managerID: c.ManagerID, productID: c.ProductID, staff: c.Staff}

	entries, derr := snapshot.DecodeErr(c.Notes)
	switch {
	case derr == nil:
		s.stats.RecordSnapshotDecode("ok")
	case errors.Is(derr, snapshot.ErrNoSnapshot):
		s.stats.RecordSnapshotDecode("absent")
	default:
		s.stats.RecordSnapshotDecode("malformed")
		s.log.Warn("snapshot in notes is malformed, ignoring", "counter_id", c.ID, "err", derr)
	}
	for id, e := range entries {
		s.cashState(id).currency = e.Currency
	}
	s.inferOverrides()
	s.inferSelection()

	s.log.Info("counter opened", "counter_id", c.ID, "date", date.Format(time.DateOnly), "status", c.Status)
	return nil
}

// SwitchDate открывает другую дату. Без saveFirst грязные правки выбрасываются;
// с saveFirst неудачное сохранение оставляет сессию на прежней дате.
func (s *Session) SwitchDate(ctx context.Context, date time.Time, saveFirst bool) error {
	if saveFirst {
		if err := s.Save(ctx); err != nil {
			return err
		}
	} else if n := s.store.DirtyCount(); n > 0 {
		s.stats.RecordDiscard(n)
		s.store.Discard()
	}
	return s.Open(ctx, date)
}

// inferOverrides: сумма, которая не совпадает с расчётной, введена вручную.
func (s *Session) inferOverrides() {
	for _, ch := range s.cat.Channels {
		if !ch.CashPaymentEligible || ch.IsWalkIn() {
			continue
		}
		cell, ok := s.store.Get(counter.CashKey(0, ch.ID))
		if !ok {
			continue
		}
		st := s.cashState(ch.ID)
		attended := s.store.Qty(counter.PeopleKey(0, ch.ID, counter.TallyAttended, counter.PeriodNone))
		want, ok := derive.CashAmount(ch, st.currency, attended)
		if !ok {
			st.overridden = cell.Qty != 0
			continue
		}
		st.overridden = math.Abs(want-cell.Qty) > derive.Tolerance
	}
}

// inferSelection выбирает каналы, по которым уже есть данные.
func (s *Session) inferSelection() {
	for _, c := range s.store.Cells() {
		if c.Key.Kind == counter.KindCashPayment || c.Qty == 0 {
			continue
		}
		ch, ok := s.cat.Channel(c.Key.ChannelID)
		if !ok {
			continue
		}
		if ch.AfterCutoffEligible() {
			s.afterCutoff[ch.ID] = true
		} else {
			s.platform[ch.ID] = true
		}
	}
}

func (s *Session) cashState(channelID int64) *cashState {
	st, ok := s.cash[channelID]
	if !ok {
		st = &cashState{currency: catalog.DefaultCurrency}
		s.cash[channelID] = st
	}
	return st
}

// Currency и Overridden — derive.CashContext.
func (s *Session) Currency(channelID int64) catalog.Currency {
	if st, ok := s.cash[channelID]; ok && st.currency != "" {
		return st.currency
	}
	return catalog.DefaultCurrency
}

func (s *Session) Overridden(channelID int64) bool {
	st, ok := s.cash[channelID]
	return ok && st.overridden
}

// --- выбор каналов (не переход, без сброса) ---

func (s *Session) SelectChannels(ids []int64) {
	s.platform = toSet(ids)
}

func (s *Session) SelectAfterCutoffChannels(ids []int64) error {
	for _, id := range ids {
		ch, ok := s.cat.Channel(id)
		if !ok || !ch.AfterCutoffEligible() {
			return fmt.Errorf("%w: %d", ErrNotAfterCutoff, id)
		}
	}
	s.afterCutoff = toSet(ids)
	return nil
}

func (s *Session) PlatformChannels() []int64    { return fromSet(s.platform) }
func (s *Session) AfterCutoffChannels() []int64 { return fromSet(s.afterCutoff) }

// --- правки метрик ---

// SetMetric применяет правку и все зависимые пересчёты. Ошибка проверки
// ничего не меняет.
func (s *Session) SetMetric(edit counter.MetricCell) ([]counter.MetricCell, error) {
	edit.Key.CounterID = s.store.CounterID()
	changes, err := s.engine.Apply(s.store, edit, s)
	if err != nil {
		return nil, err
	}
	if err := s.apply(changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Session) apply(cells []counter.MetricCell) error {
	for _, c := range cells {
		if err := s.store.Set(c); err != nil {
			return err
		}
	}
	return nil
}

// SetCashCollected записывает сумму, введённую вручную ("250", "39,99").
// Для walk-in это обычный ввод; для остальных каналов — ручная правка,
// которую пересчёт больше не трогает.
func (s *Session) SetCashCollected(channelID int64, amount string) error {
	ch, ok := s.cat.Channel(channelID)
	if !ok || !ch.CashPaymentEligible {
		return fmt.Errorf("%w: %d", ErrNotCashChannel, channelID)
	}
	key := counter.CashKey(s.store.CounterID(), channelID)
	v, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(amount), ",", "."))
	if err != nil {
		return &counter.ValidationError{Key: key, Reason: fmt.Sprintf("%q is not an amount", amount)}
	}
	cell := counter.MetricCell{Key: key, Qty: v.Round(2).InexactFloat64()}
	if err := s.store.Set(cell); err != nil {
		return err
	}
	if !ch.IsWalkIn() {
		s.cashState(channelID).overridden = true
	}
	return nil
}

// ClearCashOverride возвращает расчётную сумму.
func (s *Session) ClearCashOverride(channelID int64) error {
	s.cashState(channelID).overridden = false
	return s.apply(s.engine.RecomputeCash(s.store, s.store.CounterID(), channelID, s))
}

func (s *Session) SetCurrency(channelID int64, cur catalog.Currency) error {
	ch, ok := s.cat.Channel(channelID)
	if !ok || !ch.CashPaymentEligible {
		return fmt.Errorf("%w: %d", ErrNotCashChannel, channelID)
	}
	if _, ok := catalog.ParseCurrency(string(cur)); !ok {
		return fmt.Errorf("unknown currency %q", cur)
	}
	s.cashState(channelID).currency = cur
	return s.apply(s.engine.RecomputeCash(s.store, s.store.CounterID(), channelID, s))
}

// SetDiscounts: в строке скидок названия разделены запятой, поэтому внутри названия её быть не может.
func (s *Session) SetDiscounts(discounts []string) error {
	for _, d := range discounts {
		if strings.Contains(d, ",") {
			return fmt.Errorf("%w: %q", ErrDiscountName, d)
		}
	}
	s.discounts = append([]string(nil), discounts...)
	return nil
}

func (s *Session) Discounts() []string { return append([]string(nil), s.discounts...) }

// SetNotesText заменяет свободный текст; авто-строки и блок из ввода отбрасываются.
func (s *Session) SetNotesText(text string) {
	s.userText = snapshot.UserText(text)
}

func (s *Session) SetManager(id int64) {
	s.pending.managerID = id
	s.pending.managerDirty = true
}

func (s *Session) SetProduct(id *int64) {
	s.pending.productID = id
	s.pending.productDirty = true
}

func (s *Session) SetStaff(ids []int64) {
	s.pending.staff = append([]int64(nil), ids...)
	s.pending.staffDirty = true
}

// --- заметка ---

// entries — снапшот наличных по всем кассовым каналам.
func (s *Session) entries() map[int64]snapshot.Entry {
	out := map[int64]snapshot.Entry{}
	for _, ch := range s.cat.Channels {
		if !ch.CashPaymentEligible {
			continue
		}
		out[ch.ID] = snapshot.Entry{
			Currency: s.Currency(ch.ID),
			Amount:   s.store.Qty(counter.CashKey(0, ch.ID)),
			Qty:      s.store.Qty(counter.PeopleKey(0, ch.ID, counter.TallyAttended, counter.PeriodNone)),
		}
	}
	return out
}

// Notes — заметка в том виде, в каком она будет сохранена.
func (s *Session) Notes() string {
	entries := s.entries()
	return snapshot.Rebuild(s.userText, s.discounts, snapshot.CashTotals(entries), entries)
}

// VisibleNotes — заметка без блока снапшота, для показа пользователю.
func (s *Session) VisibleNotes() string { return snapshot.Visible(s.Notes()) }

func (s *Session) NotesText() string { return s.userText }

// --- сводка ---

func (s *Session) Summary() (summary.Summary, bool) {
	return summary.Build(summary.Input{
		Catalog:             s.cat,
		Cells:               s.store.Cells(),
		PlatformChannels:    s.PlatformChannels(),
		AfterCutoffChannels: s.AfterCutoffChannels(),
		Cash:                s.entries(),
	})
}

// --- переходы ---

func (s *Session) Save(ctx context.Context) error {
	return s.transition(ctx, s.machine.Stage(), s.machine.Save)
}

func (s *Session) Next(ctx context.Context) error {
	return s.transition(ctx, neighbour(s.machine.Stage(), 1), s.machine.Next)
}

func (s *Session) Previous(ctx context.Context) error {
	return s.transition(ctx, neighbour(s.machine.Stage(), -1), s.machine.Previous)
}

func (s *Session) Unlock(ctx context.Context, to workflow.Stage) error {
	return s.transition(ctx, to, func(ctx context.Context) error { return s.machine.Unlock(ctx, to) })
}

func (s *Session) transition(ctx context.Context, to workflow.Stage, run func(context.Context) error) error {
	from := s.machine.Stage()
	err := run(ctx)
	s.stats.RecordTransition(string(from), string(to), err)
	if err != nil {
		s.log.Error("transition failed", "from", from, "to", to, "dirty", s.store.DirtyCount(), "err", err)
		return err
	}
	if from != to {
		s.log.Info("transition done", "from", from, "to", to, "counter_id", s.store.CounterID())
	}
	return nil
}

func neighbour(st workflow.Stage, step int) workflow.Stage {
	all := workflow.Stages()
	for i, o := range all {
		if o == st && i+step >= 0 && i+step < len(all) {
			return all[i+step]
		}
	}
	return st
}

// Delete удаляет учёт и возвращает сессию к пустому черновику на ту же дату.
func (s *Session) Delete(ctx context.Context) error {
	if s.counter == nil {
		return counter.ErrNoCounter
	}
	id := s.counter.ID
	if err := s.repo.DeleteCounter(ctx, id); err != nil {
		return fmt.Errorf("delete counter %d: %w", id, err)
	}
	s.log.Info("counter deleted", "counter_id", id)
	s.reset(s.date)
	return nil
}

// steps — побочные эффекты переходов workflow.Machine.
type steps struct{ s *Session }

func (st steps) HasCounter() bool { return st.s.counter != nil }

// Pending: грязные метрики, правки полей или заметка, отличная от сохранённой.
func (st steps) Pending() bool {
	s := st.s
	p := s.pending
	return s.store.DirtyCount() > 0 || p.managerDirty || p.productDirty || p.staffDirty ||
		s.Notes() != s.storedNotes
}

func (st steps) EnsureCounter(ctx context.Context) error {
	s := st.s
	c, err := s.repo.EnsureCounterForDate(ctx, s.date, s.pending.managerID, s.pending.productID, s.pending.staff)
	if err != nil {
		return err
	}
	s.counter = c
	s.store.Bind(c.ID)
	s.storedNotes = c.Notes
	// поля, с которыми учёт создан, уже записаны
	if c.ManagerID == s.pending.managerID {
		s.pending.managerDirty = false
	}
	if sameProduct(c.ProductID, s.pending.productID) {
		s.pending.productDirty = false
	}
	s.log.Info("counter created", "counter_id", c.ID, "date", s.date.Format(time.DateOnly))
	return nil
}

func (st steps) SaveFields(ctx context.Context) error {
	s := st.s
	id := s.counter.ID
	p := &s.pending
	if p.managerDirty {
		if err := s.repo.UpdateCounterManager(ctx, id, p.managerID); err != nil {
			return err
		}
		s.counter.ManagerID = p.managerID
		p.managerDirty = false
	}
	if p.productDirty {
		if err := s.repo.UpdateCounterProduct(ctx, id, p.productID); err != nil {
			return err
		}
		s.counter.ProductID = p.productID
		p.productDirty = false
	}
	if p.staffDirty {
		if err := s.repo.UpdateCounterStaff(ctx, id, p.staff); err != nil {
			return err
		}
		s.counter.Staff = append([]int64(nil), p.staff...)
		p.staffDirty = false
	}
	return nil
}

func (st steps) Flush(ctx context.Context) error {
	s := st.s
	n := s.store.DirtyCount()
	start := time.Now()
	committed, err := s.store.Flush(ctx)
	if n == 0 && err == nil {
		s.stats.RecordFlush(-1, 0, nil)
		return nil
	}
	// непринятые ключи остаются грязными; переход без них недопустим
	if left := s.store.DirtyCount(); err == nil && left > 0 {
		err = fmt.Errorf("%w: %d of %d", ErrUncommitted, left, n)
	}
	s.stats.RecordFlush(len(committed), time.Since(start), err)
	if err != nil {
		return err
	}
	s.log.Debug("metrics flushed", "counter_id", s.counter.ID, "committed", len(committed))
	return nil
}

func (st steps) SaveNotes(ctx context.Context) error {
	s := st.s
	notes := s.Notes()
	if notes == s.storedNotes {
		return nil
	}
	if err := s.repo.UpdateCounterNotes(ctx, s.counter.ID, notes); err != nil {
		return err
	}
	s.storedNotes = notes
	s.counter.Notes = notes
	return nil
}

func (st steps) SaveStatus(ctx context.Context, to workflow.Stage) error {
	s := st.s
	if err := s.repo.UpdateCounterStatus(ctx, s.counter.ID, to); err != nil {
		return err
	}
	s.counter.Status = to
	return nil
}

func sameProduct(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func fromSet(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for id, ok := range m {
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
