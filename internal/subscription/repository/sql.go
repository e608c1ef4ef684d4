package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"subgate/internal/subscription"
	"subgate/pkg/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id        BIGINT PRIMARY KEY,
	plan_id        TEXT   NOT NULL DEFAULT '',
	active_until   BIGINT NOT NULL DEFAULT 0,
	bound_group_id BIGINT NOT NULL DEFAULT 0,
	pending        TEXT,
	updated_at     BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_pending ON subscriptions(user_id) WHERE pending IS NOT NULL;
`

const selectRecord = `SELECT user_id, plan_id, active_until, bound_group_id, pending, updated_at FROM subscriptions`

// row mirrors the subscriptions table.
type row struct {
	UserID       int64          `db:"user_id"`
	PlanID       string         `db:"plan_id"`
	ActiveUntil  int64          `db:"active_until"`
	BoundGroupID int64          `db:"bound_group_id"`
	Pending      sql.NullString `db:"pending"`
	UpdatedAt    int64          `db:"updated_at"`
}

// SQLRepository stores one row per user in PostgreSQL or SQLite. Every
// Update is a single database transaction over that row.
type SQLRepository struct {
	db      *sqlx.DB
	dialect db.Dialect
}

func NewSQLRepository(conn *sql.DB, dialect db.Dialect) *SQLRepository {
	return &SQLRepository{db: sqlx.NewDb(conn, string(dialect)), dialect: dialect}
}

// Migrate creates the subscriptions table when it does not exist.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init subscriptions schema: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, userID int64) (*subscription.Record, error) {
	var found row
	err := r.db.GetContext(ctx, &found, r.db.Rebind(selectRecord+` WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.NewRecord(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %d: %w", userID, err)
	}
	return found.record()
}

func (r *SQLRepository) Update(ctx context.Context, userID int64, fn func(*subscription.Record) error) (*subscription.Record, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Make sure the row exists so concurrent first writers lock the same row.
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO subscriptions (user_id, updated_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`),
		userID, now.Unix()); err != nil {
		return nil, fmt.Errorf("ensure subscription %d: %w", userID, err)
	}

	query := selectRecord + ` WHERE user_id = ?`
	if r.dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	var current row
	if err := tx.GetContext(ctx, &current, tx.Rebind(query), userID); err != nil {
		return nil, fmt.Errorf("load subscription %d: %w", userID, err)
	}
	rec, err := current.record()
	if err != nil {
		return nil, err
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Unix(now.Unix(), 0).UTC()

	pending, err := encodePending(rec.Pending)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE subscriptions SET plan_id = ?, active_until = ?, bound_group_id = ?, pending = ?, updated_at = ? WHERE user_id = ?`),
		rec.PlanID, unixOrZero(rec.ActiveUntil), rec.BoundGroupID, pending, rec.UpdatedAt.Unix(), userID); err != nil {
		return nil, fmt.Errorf("save subscription %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subscription %d: %w", userID, err)
	}
	return rec, nil
}

func (r *SQLRepository) ListPending(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM subscriptions WHERE pending IS NOT NULL ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return ids, nil
}

func (rw row) record() (*subscription.Record, error) {
	rec := &subscription.Record{
		UserID:       rw.UserID,
		PlanID:       rw.PlanID,
		ActiveUntil:  fromUnix(rw.ActiveUntil),
		BoundGroupID: rw.BoundGroupID,
		UpdatedAt:    fromUnix(rw.UpdatedAt),
	}
	if rw.Pending.Valid && rw.Pending.String != "" {
		var tx subscription.PendingTransaction
		if err := json.Unmarshal([]byte(rw.Pending.String), &tx); err != nil {
			return nil, fmt.Errorf("decode pending transaction: %w", err)
		}
		rec.Pending = &tx
	}
	return rec, nil
}

func encodePending(tx *subscription.PendingTransaction) (sql.NullString, error) {
	if tx == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tx)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode pending transaction: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
