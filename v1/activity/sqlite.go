package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite implements Tracker on the turn_activity table.
type SQLite struct {
	db    *sql.DB
	scope string
	now   func() time.Time
}

// NewSQLite returns a tracker on db. The database must carry the schema
// applied by storage.OpenSQLite.
func NewSQLite(db *sql.DB, opts ...Option) *SQLite {
	o := buildOptions(opts)
	return &SQLite{db: db, scope: o.scope, now: o.now}
}

// Touch implements Tracker.Touch.
func (s *SQLite) Touch(ctx context.Context, participant string) error {
	if participant == "" {
		return ErrEmptyParticipant
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO turn_activity (scope, participant, last_activity) VALUES (?, ?, ?)
ON CONFLICT(scope, participant) DO UPDATE SET last_activity = excluded.last_activity
`, s.scope, participant, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

// Last implements Tracker.Last.
func (s *SQLite) Last(ctx context.Context, participant string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_activity FROM turn_activity WHERE scope = ? AND participant = ?`,
		s.scope, participant).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read activity: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

// Forget implements Tracker.Forget.
func (s *SQLite) Forget(ctx context.Context, participant string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turn_activity WHERE scope = ? AND participant = ?`, s.scope, participant); err != nil {
		return fmt.Errorf("forget activity: %w", err)
	}
	return nil
}

// All implements Tracker.All.
func (s *SQLite) All(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant, last_activity FROM turn_activity WHERE scope = ?`, s.scope)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			p  string
			ms int64
		)
		if err := rows.Scan(&p, &ms); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out[p] = time.UnixMilli(ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}
