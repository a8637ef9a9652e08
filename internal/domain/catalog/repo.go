package catalog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

/* Channels */

func (r *Repo) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, cash_payment_eligible, payment_method_name,
		       cash_price_pln, cash_price_eur, active, created_at
		FROM channels
		WHERE active = TRUE
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		var pln, eur decimal.NullDecimal
		if err := rows.Scan(&c.ID, &c.Name, &c.CashPaymentEligible, &c.PaymentMethodName,
			&pln, &eur, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CashPrices = map[Currency]decimal.Decimal{}
		if pln.Valid {
			c.CashPrices[CurrencyPLN] = pln.Decimal
		}
		if eur.Valid {
			c.CashPrices[CurrencyEUR] = eur.Decimal
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

/* Addons */

func (r *Repo) ListAddons(ctx context.Context) ([]Addon, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, key, max_per_attendee, active
		FROM addons
		WHERE active = TRUE
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Addon
	for rows.Next() {
		var a Addon
		if err := rows.Scan(&a.ID, &a.Name, &a.Key, &a.MaxPerAttendee, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

/* Products */

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, active FROM products WHERE active = TRUE ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Load читает все справочники разом.
func (r *Repo) Load(ctx context.Context) (Catalog, error) {
	var c Catalog
	var err error
	if c.Channels, err = r.ListChannels(ctx); err != nil {
		return c, err
	}
	if c.Addons, err = r.ListAddons(ctx); err != nil {
		return c, err
	}
	if c.Products, err = r.ListProducts(ctx); err != nil {
		return c, err
	}
	return c, nil
}
