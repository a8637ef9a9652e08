package catalog

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyPLN Currency = "PLN"
	CurrencyEUR Currency = "EUR"
)

// DefaultCurrency — валюта кассы, если по каналу ничего не выбрано.
const DefaultCurrency = CurrencyPLN

func ParseCurrency(s string) (Currency, bool) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyPLN:
		return CurrencyPLN, true
	case CurrencyEUR:
		return CurrencyEUR, true
	}
	return "", false
}

// Каналы, у которых есть продажи "после отсечки" (нормализованные имена).
var afterCutoffChannels = map[string]bool{
	"ecwid":  true,
	"walkin": true,
}

const walkInChannel = "walkin"

type Channel struct {
	ID                  int64
	Name                string
	CashPaymentEligible bool
	PaymentMethodName   string
	CashPrices          map[Currency]decimal.Decimal
	Active              bool
	CreatedAt           time.Time
}

// normalizeName: "Walk-In", "walk in", "WALK_IN" -> "walkin"
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}

func (c Channel) AfterCutoffEligible() bool { return afterCutoffChannels[normalizeName(c.Name)] }

func (c Channel) IsWalkIn() bool { return normalizeName(c.Name) == walkInChannel }

// Price возвращает цену одного посещения при оплате наличными в валюте cur.
func (c Channel) Price(cur Currency) (decimal.Decimal, bool) {
	p, ok := c.CashPrices[cur]
	return p, ok
}

type Addon struct {
	ID             int64
	Name           string
	Key            string
	MaxPerAttendee *float64 // nil — без ограничения
	Active         bool
}

// IsCocktail — эвристика по подстроке, так исторически помечены коктейли.
func (a Addon) IsCocktail() bool {
	return strings.Contains(strings.ToLower(a.Key), "cocktail") ||
		strings.Contains(strings.ToLower(a.Name), "cocktail")
}

type Product struct {
	ID     int64
	Name   string
	Active bool
}

// Catalog — справочники, которые читаются один раз на сессию редактирования.
type Catalog struct {
	Channels []Channel
	Addons   []Addon
	Products []Product
}

func (c Catalog) Channel(id int64) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// ChannelByName: "walk-in", "Walk In" и "WALK_IN" — один канал.
func (c Catalog) ChannelByName(name string) (Channel, bool) {
	n := normalizeName(name)
	for _, ch := range c.Channels {
		if normalizeName(ch.Name) == n {
			return ch, true
		}
	}
	return Channel{}, false
}

func (c Catalog) Product(id int64) (Product, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (c Catalog) Addon(id int64) (Addon, bool) {
	for _, a := range c.Addons {
		if a.ID == id {
			return a, true
		}
	}
	return Addon{}, false
}

// AddonByKey ищет по машинному ключу, затем по имени (без учёта регистра).
func (c Catalog) AddonByKey(key string) (Addon, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, a := range c.Addons {
		if strings.ToLower(a.Key) == key {
			return a, true
		}
	}
	for _, a := range c.Addons {
		if strings.ToLower(a.Name) == key {
			return a, true
		}
	}
	return Addon{}, false
}

func (c Catalog) WalkIn() (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.IsWalkIn() {
			return ch, true
		}
	}
	return Channel{}, false
}
