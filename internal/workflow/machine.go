package workflow

import (
	"context"
	"fmt"

	"github.com/Spok95/venue-counter/internal/domain/counter"
)

// Stage — шаг мастера учёта, совпадает со статусом Counter.
type Stage = counter.Status

var order = []Stage{
	counter.StatusDraft,
	counter.StatusPlatforms,
	counter.StatusReservations,
	counter.StatusFinal,
}

func index(s Stage) int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return -1
}

// Stages — все шаги по порядку.
func Stages() []Stage { return append([]Stage(nil), order...) }

// CanTransition: только на соседний шаг; из final можно вернуться на любой (разблокировка).
// Переход в тот же шаг — сохранение.
func CanTransition(from, to Stage) bool {
	i, j := index(from), index(to)
	if i < 0 || j < 0 {
		return false
	}
	switch {
	case i == j, j == i+1, j == i-1:
		return true
	case from == counter.StatusFinal && j < i:
		return true
	}
	return false
}

// Steps — побочные эффекты перехода, в порядке вызова.
type Steps interface {
	// HasCounter сообщает, создан ли уже учёт на дату.
	HasCounter() bool
	// Pending сообщает, есть ли несохранённые правки.
	Pending() bool
	EnsureCounter(ctx context.Context) error
	SaveFields(ctx context.Context) error
	Flush(ctx context.Context) error
	SaveNotes(ctx context.Context) error
	SaveStatus(ctx context.Context, to Stage) error
}

// TransitionError — переход не состоялся, шаг остался прежним.
type TransitionError struct {
	From, To Stage
	Step     string
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s failed at %s: %v", e.From, e.To, e.Step, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

type Machine struct {
	stage Stage
	steps Steps
}

func New(initial Stage, steps Steps) *Machine {
	if index(initial) < 0 {
		initial = counter.StatusDraft
	}
	return &Machine{stage: initial, steps: steps}
}

func (m *Machine) Stage() Stage { return m.stage }

// Reset выставляет шаг без побочных эффектов (после загрузки учёта).
func (m *Machine) Reset(s Stage) {
	if index(s) >= 0 {
		m.stage = s
	}
}

func (m *Machine) Next(ctx context.Context) error {
	i := index(m.stage)
	if i == len(order)-1 {
		return fmt.Errorf("%w: %s is the last stage", counter.ErrInvalidTransition, m.stage)
	}
	return m.Transition(ctx, order[i+1])
}

func (m *Machine) Previous(ctx context.Context) error {
	i := index(m.stage)
	if i == 0 {
		return fmt.Errorf("%w: %s is the first stage", counter.ErrInvalidTransition, m.stage)
	}
	return m.Transition(ctx, order[i-1])
}

// Unlock возвращает закрытый день на любой более ранний шаг.
func (m *Machine) Unlock(ctx context.Context, to Stage) error {
	if m.stage != counter.StatusFinal || index(to) < 0 || to == counter.StatusFinal {
		return fmt.Errorf("%w: unlock %s -> %s", counter.ErrInvalidTransition, m.stage, to)
	}
	return m.Transition(ctx, to)
}

// Save — боковой переход: всё сохраняем, шаг не меняем.
func (m *Machine) Save(ctx context.Context) error {
	return m.Transition(ctx, m.stage)
}

// Transition сохраняет поля, метрики, заметку и только затем статус.
// Любая ошибка прерывает переход.
func (m *Machine) Transition(ctx context.Context, to Stage) error {
	from := m.stage
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", counter.ErrInvalidTransition, from, to)
	}
	fail := func(step string, err error) error {
		return &TransitionError{From: from, To: to, Step: step, Err: err}
	}

	if !m.steps.HasCounter() {
		if index(to) < index(counter.StatusPlatforms) && !m.steps.Pending() {
			// черновик без учёта и без правок: сохранять нечего
			m.stage = to
			return nil
		}
		if err := m.steps.EnsureCounter(ctx); err != nil {
			return fail("ensure counter", err)
		}
	}
	if err := m.steps.SaveFields(ctx); err != nil {
		return fail("save fields", err)
	}
	if err := m.steps.Flush(ctx); err != nil {
		return fail("flush metrics", err)
	}
	if err := m.steps.SaveNotes(ctx); err != nil {
		return fail("save notes", err)
	}
	if from != to {
		if err := m.steps.SaveStatus(ctx, to); err != nil {
			return fail("save status", err)
		}
	}
	m.stage = to
	return nil
}
