package counter

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — на дату ещё нет учёта. Ожидаемое состояние, а не сбой.
	ErrNotFound          = errors.New("counter not found")
	ErrNoCounter         = errors.New("counter is not created yet")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError — ввод отклонён до попадания в хранилище метрик.
type ValidationError struct {
	Key    MetricKey
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid metric %s: %s", e.Key, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
