package counter

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusDraft        Status = "draft"
	StatusPlatforms    Status = "platforms"
	StatusReservations Status = "reservations"
	StatusFinal        Status = "final"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPlatforms, StatusReservations, StatusFinal:
		return true
	}
	return false
}

// Counter — учёт одного рабочего дня площадки.
type Counter struct {
	ID        int64
	Date      time.Time // только дата, UTC
	ManagerID int64
	ProductID *int64
	Status    Status
	Notes     string
	Staff     []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Kind string

const (
	KindPeople      Kind = "people"
	KindAddon       Kind = "addon"
	KindCashPayment Kind = "cash_payment"
)

type TallyType string

const (
	TallyBooked   TallyType = "booked"
	TallyAttended TallyType = "attended"
)

// Period пустой для attended и cash_payment (NULL в базе хранится как '').
type Period string

const (
	PeriodNone         Period = ""
	PeriodBeforeCutoff Period = "before_cutoff"
	PeriodAfterCutoff  Period = "after_cutoff"
)

// MetricKey однозначно определяет ячейку метрики. Сравнимый тип, годится как ключ map.
type MetricKey struct {
	CounterID int64
	ChannelID int64
	Kind      Kind
	AddonID   int64 // 0, если Kind != addon
	TallyType TallyType
	Period    Period
}

// Normalize приводит ключ к каноничному виду:
// attended и cash_payment без периода, booked без периода -> before_cutoff.
func (k MetricKey) Normalize() MetricKey {
	if k.Kind != KindAddon {
		k.AddonID = 0
	}
	if k.Kind == KindCashPayment {
		k.TallyType = TallyAttended
	}
	switch k.TallyType {
	case TallyAttended:
		k.Period = PeriodNone
	case TallyBooked:
		if k.Period == PeriodNone {
			k.Period = PeriodBeforeCutoff
		}
	}
	return k
}

func (k MetricKey) With(t TallyType, p Period) MetricKey {
	k.TallyType = t
	k.Period = p
	return k.Normalize()
}

func (k MetricKey) IsAttended() bool { return k.TallyType == TallyAttended }

func (k MetricKey) IsBookedBefore() bool {
	return k.TallyType == TallyBooked && k.Period == PeriodBeforeCutoff
}

func (k MetricKey) IsBookedAfter() bool {
	return k.TallyType == TallyBooked && k.Period == PeriodAfterCutoff
}

func (k MetricKey) String() string {
	p := string(k.Period)
	if p == "" {
		p = "-"
	}
	return fmt.Sprintf("%d/%d/%s/%d/%s/%s", k.CounterID, k.ChannelID, k.Kind, k.AddonID, k.TallyType, p)
}

func PeopleKey(counterID, channelID int64, t TallyType, p Period) MetricKey {
	return MetricKey{CounterID: counterID, ChannelID: channelID, Kind: KindPeople, TallyType: t, Period: p}.Normalize()
}

func AddonKey(counterID, channelID, addonID int64, t TallyType, p Period) MetricKey {
	return MetricKey{CounterID: counterID, ChannelID: channelID, Kind: KindAddon, AddonID: addonID, TallyType: t, Period: p}.Normalize()
}

func CashKey(counterID, channelID int64) MetricKey {
	return MetricKey{CounterID: counterID, ChannelID: channelID, Kind: KindCashPayment}.Normalize()
}

// MetricCell — атомарная единица учёта. Для cash_payment Qty — сумма в валюте.
type MetricCell struct {
	Key MetricKey
	Qty float64 `validate:"gte=0"`
}

// Loaded — всё, что отдаёт хранилище по дате.
type Loaded struct {
	Counter Counter
	Staff   []int64
	Metrics []MetricCell
}
