package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

const createSchema = `
CREATE TABLE IF NOT EXISTS session_outcome (
    session_id      TEXT PRIMARY KEY,
    user_level      TEXT NOT NULL,
    profile         JSONB NOT NULL,
    plan            JSONB,
    weekly_schedule JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)
`

func (q *Queries) EnsureSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, createSchema)
	return err
}

const upsertOutcome = `-- name: UpsertOutcome :one
INSERT INTO session_outcome (session_id, user_level, profile, plan, weekly_schedule)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id) DO UPDATE
SET user_level = EXCLUDED.user_level,
    profile = EXCLUDED.profile,
    plan = EXCLUDED.plan,
    weekly_schedule = EXCLUDED.weekly_schedule
RETURNING session_id, user_level, profile, plan, weekly_schedule, created_at
`

type UpsertOutcomeParams struct {
	SessionID      string
	UserLevel      string
	Profile        json.RawMessage
	Plan           json.RawMessage
	WeeklySchedule json.RawMessage
}

type SessionOutcome struct {
	SessionID      string
	UserLevel      string
	Profile        json.RawMessage
	Plan           json.RawMessage
	WeeklySchedule json.RawMessage
	CreatedAt      time.Time
}

func (q *Queries) UpsertOutcome(ctx context.Context, arg UpsertOutcomeParams) (SessionOutcome, error) {
	row := q.db.QueryRowContext(ctx, upsertOutcome,
		arg.SessionID,
		arg.UserLevel,
		[]byte(arg.Profile),
		nullJSON(arg.Plan),
		nullJSON(arg.WeeklySchedule),
	)
	return scanOutcome(row)
}

const getOutcome = `-- name: GetOutcome :one
SELECT session_id, user_level, profile, plan, weekly_schedule, created_at
FROM session_outcome
WHERE session_id = $1
`

func (q *Queries) GetOutcome(ctx context.Context, sessionID string) (SessionOutcome, error) {
	return scanOutcome(q.db.QueryRowContext(ctx, getOutcome, sessionID))
}

func scanOutcome(row *sql.Row) (SessionOutcome, error) {
	var (
		i              SessionOutcome
		profile        []byte
		plan, schedule []byte
	)
	err := row.Scan(&i.SessionID, &i.UserLevel, &profile, &plan, &schedule, &i.CreatedAt)
	i.Profile = profile
	i.Plan = plan
	i.WeeklySchedule = schedule
	return i, err
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
