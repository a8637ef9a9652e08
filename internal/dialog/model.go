package dialog

import (
	"strconv"
	"time"
)

type State string

const (
	StateIdle State = "idle"

	// Учёт дня
	StateAwaitDate   State = "await_date"   // ввод даты YYYY-MM-DD
	StateEditing     State = "editing"      // открыт учёт, ждём команды/кнопки
	StateAwaitCash   State = "await_cash"   // ввод суммы наличных по каналу
	StateAwaitDisc   State = "await_disc"   // ввод скидок walk-in через запятую
	StateAwaitNotes  State = "await_notes"  // ввод свободного текста заметки
	StateConfirmDrop State = "confirm_drop" // смена даты при несохранённых правках
)

// Ключи payload.
const (
	KeyDate      = "date"
	KeyChannelID = "channel_id"
	KeyNextDate  = "next_date"
)

type Payload map[string]any

type Item struct {
	ChatID  int64
	State   State
	Payload Payload
}

// GetString Helper для безопасного чтения строк из payload
func GetString(p Payload, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt64 — числа из JSON приходят как float64, а в свежем payload бывают int64.
func GetInt64(p Payload, key string) (int64, bool) {
	switch v := p[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func GetDate(p Payload, key string) (time.Time, bool) {
	s, ok := GetString(p, key)
	if !ok {
		return time.Time{}, false
	}
	d, err := time.Parse(time.DateOnly, s)
	return d, err == nil
}

// DatePayload — payload открытого учёта.
func DatePayload(date time.Time) Payload {
	return Payload{KeyDate: date.Format(time.DateOnly)}
}
