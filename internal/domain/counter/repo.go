package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// manager_id NULL, пока менеджер не выбран; в модели это 0.
const counterColumns = `id, date, COALESCE(manager_id, 0), product_id, status, notes, created_at, updated_at`

func scanCounter(row pgx.Row) (*Counter, error) {
	var c Counter
	var status string
	if err := row.Scan(&c.ID, &c.Date, &c.ManagerID, &c.ProductID, &status, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	return &c, nil
}

// FetchCounterByDate возвращает учёт, персонал и метрики. Нет строки -> ErrNotFound.
func (r *Repo) FetchCounterByDate(ctx context.Context, date time.Time) (*Loaded, error) {
	c, err := scanCounter(r.pool.QueryRow(ctx, `
		SELECT `+counterColumns+`
		FROM counters WHERE date = $1
	`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select counter: %w", err)
	}

	staff, err := r.listStaff(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Staff = staff

	rows, err := r.pool.Query(ctx, `
		SELECT channel_id, kind, addon_id, tally_type, period, qty
		FROM counter_metrics
		WHERE counter_id = $1
		ORDER BY channel_id, kind, addon_id, tally_type, period
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("select metrics: %w", err)
	}
	defer rows.Close()

	var metrics []MetricCell
	for rows.Next() {
		var m MetricCell
		var kind, tally, period string
		if err := rows.Scan(&m.Key.ChannelID, &kind, &m.Key.AddonID, &tally, &period, &m.Qty); err != nil {
			return nil, err
		}
		m.Key.CounterID = c.ID
		m.Key.Kind = Kind(kind)
		m.Key.TallyType = TallyType(tally)
		m.Key.Period = Period(period)
		m.Key = m.Key.Normalize()
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Loaded{Counter: *c, Staff: staff, Metrics: metrics}, nil
}

func (r *Repo) listStaff(ctx context.Context, counterID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM counter_staff WHERE counter_id = $1 ORDER BY user_id
	`, counterID)
	if err != nil {
		return nil, fmt.Errorf("select staff: %w", err)
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EnsureCounterForDate создаёт учёт на дату, если его ещё нет. Существующий не трогаем.
func (r *Repo) EnsureCounterForDate(ctx context.Context, date time.Time, managerID int64, productID *int64, staff []int64) (*Counter, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCounter(tx.QueryRow(ctx, `
		INSERT INTO counters (date, manager_id, product_id, status)
		VALUES ($1, NULLIF($2::bigint, 0), $3, 'draft')
		ON CONFLICT (date) DO NOTHING
		RETURNING `+counterColumns, date, managerID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		// Уже есть — вернём существующий
		existing, err := scanCounter(tx.QueryRow(ctx, `SELECT `+counterColumns+` FROM counters WHERE date = $1`, date))
		if err != nil {
			return nil, fmt.Errorf("select existing counter: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		existing.Staff, err = r.listStaff(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert counter: %w", err)
	}

	if err := replaceStaff(ctx, tx, c.ID, staff); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	c.Staff = append([]int64(nil), staff...)
	return c, nil
}

func replaceStaff(ctx context.Context, tx pgx.Tx, counterID int64, staff []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM counter_staff WHERE counter_id = $1`, counterID); err != nil {
		return fmt.Errorf("clear staff: %w", err)
	}
	for _, uid := range staff {
		if _, err := tx.Exec(ctx, `
			INSERT INTO counter_staff (counter_id, user_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, counterID, uid); err != nil {
			return fmt.Errorf("insert staff: %w", err)
		}
	}
	return nil
}

func (r *Repo) UpdateCounterStatus(ctx context.Context, id int64, status Status) error {
	return r.exec(ctx, `UPDATE counters SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
}

func (r *Repo) UpdateCounterManager(ctx context.Context, id, managerID int64) error {
	return r.exec(ctx, `UPDATE counters SET manager_id=NULLIF($2::bigint, 0), updated_at=now() WHERE id=$1`, id, managerID)
}

func (r *Repo) UpdateCounterProduct(ctx context.Context, id int64, productID *int64) error {
	return r.exec(ctx, `UPDATE counters SET product_id=$2, updated_at=now() WHERE id=$1`, id, productID)
}

func (r *Repo) UpdateCounterNotes(ctx context.Context, id int64, notes string) error {
	return r.exec(ctx, `UPDATE counters SET notes=$2, updated_at=now() WHERE id=$1`, id, notes)
}

func (r *Repo) UpdateCounterStaff(ctx context.Context, id int64, staff []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := replaceStaff(ctx, tx, id, staff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) exec(ctx context.Context, q string, id int64, arg any) error {
	tag, err := r.pool.Exec(ctx, q, id, arg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FlushDirtyMetrics пишет пачку ячеек одной транзакцией и возвращает записанные ключи.
func (r *Repo) FlushDirtyMetrics(ctx context.Context, counterID int64, batch []MetricCell) ([]MetricKey, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO counter_metrics (counter_id, channel_id, kind, addon_id, tally_type, period, qty)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (counter_id, channel_id, kind, addon_id, tally_type, period)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`
	b := &pgx.Batch{}
	keys := make([]MetricKey, 0, len(batch))
	for _, m := range batch {
		k := m.Key.Normalize()
		k.CounterID = counterID
		b.Queue(q, counterID, k.ChannelID, string(k.Kind), k.AddonID, string(k.TallyType), string(k.Period), m.Qty)
		keys = append(keys, k)
	}

	br := tx.SendBatch(ctx, b)
	for range batch {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("upsert metric: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE counters SET updated_at=now() WHERE id=$1`, counterID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteCounter — только административное удаление. Метрики и персонал уходят каскадом.
func (r *Repo) DeleteCounter(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM counters WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
