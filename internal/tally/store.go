// Package tally holds the metric cells of the open counter: last fetched
// server state plus a dirty overlay of unflushed local edits.
package tally

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/Spok95/venue-counter/internal/domain/counter"
)

// Flusher persists one batch and reports which keys were committed.
type Flusher interface {
	FlushDirtyMetrics(ctx context.Context, counterID int64, batch []counter.MetricCell) ([]counter.MetricKey, error)
}

var validate = validator.New()

// Validate отклоняет отрицательные и нечисловые значения.
func Validate(c counter.MetricCell) error {
	if math.IsNaN(c.Qty) || math.IsInf(c.Qty, 0) {
		return &counter.ValidationError{Key: c.Key, Reason: "quantity is not a finite number"}
	}
	if err := validate.Struct(c); err != nil {
		return &counter.ValidationError{Key: c.Key, Reason: "quantity must not be negative"}
	}
	return nil
}

type dirtyCell struct {
	cell counter.MetricCell
	rev  uint64
}

type Store struct {
	mu        sync.Mutex
	counterID int64
	server    map[counter.MetricKey]counter.MetricCell
	dirty     map[counter.MetricKey]dirtyCell
	rev       uint64

	flusher Flusher
	flights singleflight.Group
	log     *slog.Logger
}

func NewStore(f Flusher, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		server:  map[counter.MetricKey]counter.MetricCell{},
		dirty:   map[counter.MetricKey]dirtyCell{},
		flusher: f,
		log:     log,
	}
}

func (s *Store) CounterID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterID
}

// Load заменяет серверное состояние и сбрасывает несохранённые правки.
func (s *Store) Load(counterID int64, cells []counter.MetricCell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterID = counterID
	s.server = make(map[counter.MetricKey]counter.MetricCell, len(cells))
	for _, c := range cells {
		c.Key = s.bindKey(c.Key)
		s.server[c.Key] = c
	}
	s.dirty = map[counter.MetricKey]dirtyCell{}
}

// Bind переносит все ячейки на counterID, когда учёт создан лениво.
func (s *Store) Bind(counterID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterID == counterID {
		return
	}
	s.counterID = counterID
	server := make(map[counter.MetricKey]counter.MetricCell, len(s.server))
	for _, c := range s.server {
		c.Key = s.bindKey(c.Key)
		server[c.Key] = c
	}
	dirty := make(map[counter.MetricKey]dirtyCell, len(s.dirty))
	for _, d := range s.dirty {
		d.cell.Key = s.bindKey(d.cell.Key)
		dirty[d.cell.Key] = d
	}
	s.server, s.dirty = server, dirty
}

func (s *Store) bindKey(k counter.MetricKey) counter.MetricKey {
	k = k.Normalize()
	k.CounterID = s.counterID
	return k
}

// Get читает объединённое представление: правка поверх серверного значения.
func (s *Store) Get(key counter.MetricKey) (counter.MetricCell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = s.bindKey(key)
	if d, ok := s.dirty[key]; ok {
		return d.cell, true
	}
	c, ok := s.server[key]
	return c, ok
}

// Qty — удобная обёртка: отсутствующая ячейка читается как 0.
func (s *Store) Qty(key counter.MetricKey) float64 {
	c, _ := s.Get(key)
	return c.Qty
}

// Set применяет правку сразу и помечает ключ грязным.
func (s *Store) Set(c counter.MetricCell) error {
	if err := Validate(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Key = s.bindKey(c.Key)
	s.rev++
	s.dirty[c.Key] = dirtyCell{cell: c, rev: s.rev}
	return nil
}

// Cells возвращает объединённый набор в стабильном порядке.
func (s *Store) Cells() []counter.MetricCell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]counter.MetricCell, 0, len(s.server)+len(s.dirty))
	for k, c := range s.server {
		if _, ok := s.dirty[k]; ok {
			continue
		}
		out = append(out, c)
	}
	for _, d := range s.dirty {
		out = append(out, d.cell)
	}
	sortCells(out)
	return out
}

func (s *Store) Dirty() []counter.MetricCell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyBatch()
}

func (s *Store) DirtyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

func (s *Store) dirtyBatch() []counter.MetricCell {
	out := make([]counter.MetricCell, 0, len(s.dirty))
	for _, d := range s.dirty {
		out = append(out, d.cell)
	}
	sortCells(out)
	return out
}

// ClearDirty считает текущие правки сохранёнными.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range s.dirty {
		s.server[k] = d.cell
	}
	s.dirty = map[counter.MetricKey]dirtyCell{}
}

// Discard выбрасывает несохранённые правки (смена даты без сохранения).
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.dirty); n > 0 {
		s.log.Info("discarding unsaved metrics", "counter_id", s.counterID, "dirty", n)
	}
	s.dirty = map[counter.MetricKey]dirtyCell{}
}

var ErrNoFlusher = errors.New("tally: store has no flusher")

// Flush отправляет все грязные ячейки одной пачкой.
// Пустой набор — успех без обращения к хранилищу (nil, nil).
// Параллельный вызов присоединяется к уже идущему сбросу.
func (s *Store) Flush(ctx context.Context) ([]counter.MetricKey, error) {
	v, err, _ := s.flights.Do("flush", func() (any, error) {
		return s.flush(ctx)
	})
	if err != nil {
		return nil, err
	}
	keys, _ := v.([]counter.MetricKey)
	return keys, nil
}

func (s *Store) flush(ctx context.Context) ([]counter.MetricKey, error) {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	if s.counterID == 0 {
		s.mu.Unlock()
		return nil, counter.ErrNoCounter
	}
	if s.flusher == nil {
		s.mu.Unlock()
		return nil, ErrNoFlusher
	}
	counterID := s.counterID
	batch := s.dirtyBatch()
	sent := make(map[counter.MetricKey]uint64, len(batch))
	for k, d := range s.dirty {
		sent[k] = d.rev
	}
	s.mu.Unlock()

	committed, err := s.flusher.FlushDirtyMetrics(ctx, counterID, batch)
	if err != nil {
		// грязный набор не трогаем — повтор отправит ту же пачку
		return nil, fmt.Errorf("flush %d metrics: %w", len(batch), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterID != counterID {
		// хранилище переключили на другой учёт, пока шёл сброс
		return committed, nil
	}
	byKey := make(map[counter.MetricKey]counter.MetricCell, len(batch))
	for _, c := range batch {
		byKey[c.Key] = c
	}
	for _, k := range committed {
		k = s.bindKey(k)
		c, ok := byKey[k]
		if !ok {
			continue
		}
		s.server[k] = c
		// правка, сделанная во время сброса, остаётся грязной
		if d, ok := s.dirty[k]; ok && d.rev == sent[k] {
			delete(s.dirty, k)
		}
	}
	if left := len(s.dirty); left > 0 {
		s.log.Debug("metrics left dirty after flush", "counter_id", counterID, "dirty", left)
	}
	return committed, nil
}

func sortCells(cells []counter.MetricCell) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i].Key, cells[j].Key
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.AddonID != b.AddonID {
			return a.AddonID < b.AddonID
		}
		if a.TallyType != b.TallyType {
			return a.TallyType < b.TallyType
		}
		return a.Period < b.Period
	})
}
