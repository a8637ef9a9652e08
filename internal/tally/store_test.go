package tally

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/venue-counter/internal/domain/counter"
)

type fakeFlusher struct {
	mu      sync.Mutex
	calls   int
	batches [][]counter.MetricCell
	err     error
	drop    map[counter.MetricKey]bool // ключи, которые "не дошли"
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFlusher) FlushDirtyMetrics(_ context.Context, _ int64, batch []counter.MetricCell) ([]counter.MetricKey, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, batch)
	err := f.err
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if err != nil {
		return nil, err
	}
	out := make([]counter.MetricKey, 0, len(batch))
	for _, c := range batch {
		if f.drop[c.Key] {
			continue
		}
		out = append(out, c.Key)
	}
	return out, nil
}

func (f *fakeFlusher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func people(ch int64, t counter.TallyType, p counter.Period, qty float64) counter.MetricCell {
	return counter.MetricCell{Key: counter.PeopleKey(1, ch, t, p), Qty: qty}
}

func TestSetNormalizesAndOverlays(t *testing.T) {
	s := NewStore(&fakeFlusher{}, nil)
	s.Load(1, []counter.MetricCell{people(7, counter.TallyAttended, "", 3)})

	// booked без периода нормализуется в before_cutoff
	if err := s.Set(counter.MetricCell{Key: counter.MetricKey{ChannelID: 7, Kind: counter.KindPeople, TallyType: counter.TallyBooked}, Qty: 5}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Qty(counter.PeopleKey(1, 7, counter.TallyBooked, counter.PeriodBeforeCutoff)); got != 5 {
		t.Fatalf("booked before = %v, want 5", got)
	}
	if err := s.Set(people(7, counter.TallyAttended, counter.PeriodAfterCutoff, 9)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Qty(counter.PeopleKey(1, 7, counter.TallyAttended, "")); got != 9 {
		t.Fatalf("attended = %v, want 9 (dirty over server)", got)
	}
	if s.DirtyCount() != 2 {
		t.Fatalf("dirty = %d, want 2", s.DirtyCount())
	}
	if len(s.Cells()) != 2 {
		t.Fatalf("cells = %d, want 2", len(s.Cells()))
	}
}

func TestSetRejectsInvalidQuantity(t *testing.T) {
	s := NewStore(&fakeFlusher{}, nil)
	s.Load(1, nil)
	err := s.Set(people(7, counter.TallyAttended, "", -1))
	if !counter.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s.DirtyCount() != 0 {
		t.Fatalf("rejected edit must not mark dirty")
	}
}

func TestFlushWithoutDirtyIsNoop(t *testing.T) {
	f := &fakeFlusher{}
	s := NewStore(f, nil)
	s.Load(1, nil)
	keys, err := s.Flush(context.Background())
	if err != nil || keys != nil {
		t.Fatalf("Flush = %v, %v; want nil, nil", keys, err)
	}
	if f.callCount() != 0 {
		t.Fatalf("flusher called %d times, want 0", f.callCount())
	}
}

func TestFlushLastWriteWinsAndClears(t *testing.T) {
	f := &fakeFlusher{}
	s := NewStore(f, nil)
	s.Load(1, nil)
	_ = s.Set(people(7, counter.TallyAttended, "", 3))
	_ = s.Set(people(7, counter.TallyAttended, "", 4))

	keys, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(keys) != 1 || len(f.batches[0]) != 1 || f.batches[0][0].Qty != 4 {
		t.Fatalf("unexpected batch %+v", f.batches)
	}
	if s.DirtyCount() != 0 {
		t.Fatalf("dirty = %d after flush", s.DirtyCount())
	}
	if s.Qty(counter.PeopleKey(1, 7, counter.TallyAttended, "")) != 4 {
		t.Fatalf("server value not updated")
	}
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	f := &fakeFlusher{err: errors.New("network down")}
	s := NewStore(f, nil)
	s.Load(1, nil)
	_ = s.Set(people(7, counter.TallyAttended, "", 3))

	if _, err := s.Flush(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if s.DirtyCount() != 1 {
		t.Fatalf("dirty = %d, want 1", s.DirtyCount())
	}

	f.err = nil
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.batches) != 2 || f.batches[1][0].Qty != 3 {
		t.Fatalf("retry must resend the same batch, got %+v", f.batches)
	}
}

func TestFlushKeepsUncommittedKeys(t *testing.T) {
	lost := counter.PeopleKey(1, 8, counter.TallyAttended, "")
	f := &fakeFlusher{drop: map[counter.MetricKey]bool{lost: true}}
	s := NewStore(f, nil)
	s.Load(1, nil)
	_ = s.Set(people(7, counter.TallyAttended, "", 3))
	_ = s.Set(people(8, counter.TallyAttended, "", 2))

	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	d := s.Dirty()
	if len(d) != 1 || d[0].Key != lost {
		t.Fatalf("dirty = %+v, want only %v", d, lost)
	}
}

func TestFlushWithoutCounter(t *testing.T) {
	s := NewStore(&fakeFlusher{}, nil)
	_ = s.Set(people(7, counter.TallyAttended, "", 3))
	if _, err := s.Flush(context.Background()); !errors.Is(err, counter.ErrNoCounter) {
		t.Fatalf("expected ErrNoCounter, got %v", err)
	}
	s.Bind(42)
	d := s.Dirty()
	if len(d) != 1 || d[0].Key.CounterID != 42 {
		t.Fatalf("Bind did not rekey dirty cells: %+v", d)
	}
}

func TestConcurrentFlushIsCoalesced(t *testing.T) {
	f := &fakeFlusher{entered: make(chan struct{}, 2), release: make(chan struct{})}
	s := NewStore(f, nil)
	s.Load(1, nil)
	_ = s.Set(people(7, counter.TallyAttended, "", 3))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Flush(context.Background())
	}()
	<-f.entered

	// правка во время сброса
	_ = s.Set(people(7, counter.TallyAttended, "", 5))

	go func() {
		defer wg.Done()
		_, _ = s.Flush(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if f.callCount() != 1 {
		t.Fatalf("flusher called %d times, want 1", f.callCount())
	}
	if s.DirtyCount() != 1 {
		t.Fatalf("edit made during flush must stay dirty")
	}
	if s.Qty(counter.PeopleKey(1, 7, counter.TallyAttended, "")) != 5 {
		t.Fatalf("merged view lost the newer edit")
	}
}

func TestDiscardAndClearDirty(t *testing.T) {
	s := NewStore(&fakeFlusher{}, nil)
	s.Load(1, []counter.MetricCell{people(7, counter.TallyAttended, "", 3)})
	_ = s.Set(people(7, counter.TallyAttended, "", 10))
	s.Discard()
	if s.Qty(counter.PeopleKey(1, 7, counter.TallyAttended, "")) != 3 {
		t.Fatalf("Discard must restore server value")
	}
	_ = s.Set(people(7, counter.TallyAttended, "", 11))
	s.ClearDirty()
	if s.DirtyCount() != 0 || s.Qty(counter.PeopleKey(1, 7, counter.TallyAttended, "")) != 11 {
		t.Fatalf("ClearDirty must keep merged values")
	}
}
