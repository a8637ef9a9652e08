package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo хранит шаг диалога чата. Открытый учёт в БД не лежит: после рестарта
// бот поднимает его заново по дате из payload.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const upsertState = `
	INSERT INTO dialog_states (chat_id, state, payload, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (chat_id) DO UPDATE SET
	  state = EXCLUDED.state, payload = EXCLUDED.payload, updated_at = now()`

// Get: чат без строки — idle с пустым payload; битый payload читается как пустой.
func (r *Repo) Get(ctx context.Context, chatID int64) (*Item, error) {
	it := &Item{ChatID: chatID, State: StateIdle, Payload: Payload{}}
	var state string
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT state, COALESCE(payload, '{}'::jsonb) FROM dialog_states WHERE chat_id = $1`, chatID,
	).Scan(&state, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return it, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dialog %d: %w", chatID, err)
	}
	it.State = State(state)
	if json.Unmarshal(raw, &it.Payload) != nil || it.Payload == nil {
		it.Payload = Payload{}
	}
	return it, nil
}

func (r *Repo) Set(ctx context.Context, chatID int64, state State, payload Payload) error {
	if payload == nil {
		payload = Payload{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode dialog payload: %w", err)
	}
	if _, err := r.pool.Exec(ctx, upsertState, chatID, string(state), raw); err != nil {
		return fmt.Errorf("set dialog %d: %w", chatID, err)
	}
	return nil
}

// SetDate запоминает шаг и открытую дату учёта.
func (r *Repo) SetDate(ctx context.Context, chatID int64, state State, date time.Time) error {
	return r.Set(ctx, chatID, state, DatePayload(date))
}
