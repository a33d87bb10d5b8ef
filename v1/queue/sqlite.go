package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLite implements Queue on the turn_queue table. Arrival order is the
// autoincrement sequence, which never reuses a value, so a participant that
// leaves and re-enters always lands behind everyone already waiting.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a queue on db. The database must carry the schema
// applied by storage.OpenSQLite.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Enqueue implements Queue.Enqueue.
func (s *SQLite) Enqueue(ctx context.Context, participant string) (bool, error) {
	if participant == "" {
		return false, ErrEmptyParticipant
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO turn_queue (participant) VALUES (?)`, participant)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	return n == 1, nil
}

// DequeueFront implements Queue.DequeueFront.
func (s *SQLite) DequeueFront(ctx context.Context) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin dequeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq  int64
		head string
	)
	err = tx.QueryRowContext(ctx, `SELECT seq, participant FROM turn_queue ORDER BY seq LIMIT 1`).Scan(&seq, &head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read queue head: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_queue WHERE seq = ?`, seq); err != nil {
		return "", false, fmt.Errorf("dequeue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit dequeue: %w", err)
	}
	return head, true, nil
}

// Position implements Queue.Position.
func (s *SQLite) Position(ctx context.Context, participant string) (int, bool, error) {
	var pos int
	err := s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM turn_queue ahead WHERE ahead.seq < q.seq)
FROM turn_queue q WHERE q.participant = ?
`, participant).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("queue position: %w", err)
	}
	return pos, true, nil
}

// Remove implements Queue.Remove.
func (s *SQLite) Remove(ctx context.Context, participant string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turn_queue WHERE participant = ?`, participant); err != nil {
		return fmt.Errorf("remove from queue: %w", err)
	}
	return nil
}

// List implements Queue.List.
func (s *SQLite) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT participant FROM turn_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}
