package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite implements Store on the single-row turn_lease table. The database
// must carry the schema applied by storage.OpenSQLite.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite returns a lease store on db.
func NewSQLite(db *sql.DB, opts ...Option) *SQLite {
	o := buildOptions("", opts)
	return &SQLite{db: db, now: o.now}
}

// TryAcquire implements Store.TryAcquire. The read and the conditional write
// share one transaction; the write additionally re-checks expiry so it can
// only supersede a lease that is still lapsed.
func (s *SQLite) TryAcquire(ctx context.Context, participant string, ttl time.Duration) (Outcome, error) {
	if err := validate(participant, ttl); err != nil {
		return Denied, err
	}
	if s == nil || s.db == nil {
		return Denied, fmt.Errorf("storage is not configured")
	}
	token, err := newToken()
	if err != nil {
		return Denied, err
	}
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Denied, fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, ok, err := scanLease(tx.QueryRowContext(ctx,
		`SELECT holder, token, acquired_at, ttl_ms FROM turn_lease WHERE id = 1`))
	if err != nil {
		return Denied, err
	}
	if ok && now < cur.AcquiredAt.UnixMilli()+cur.TTL.Milliseconds() {
		if cur.Holder != participant {
			return Denied, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE turn_lease SET acquired_at = ?, ttl_ms = ? WHERE id = 1 AND holder = ?`,
			now, ttl.Milliseconds(), participant); err != nil {
			return Denied, fmt.Errorf("renew lease: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Denied, fmt.Errorf("commit lease: %w", err)
		}
		return Renewed, nil
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO turn_lease (id, holder, token, acquired_at, ttl_ms) VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	holder = excluded.holder,
	token = excluded.token,
	acquired_at = excluded.acquired_at,
	ttl_ms = excluded.ttl_ms
WHERE turn_lease.acquired_at + turn_lease.ttl_ms <= excluded.acquired_at
`, participant, token, now, ttl.Milliseconds())
	if err != nil {
		return Denied, fmt.Errorf("grant lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Denied, fmt.Errorf("grant lease: %w", err)
	}
	if n == 0 {
		return Denied, nil
	}
	if err := tx.Commit(); err != nil {
		return Denied, fmt.Errorf("commit lease: %w", err)
	}
	return Granted, nil
}

// Release implements Store.Release.
func (s *SQLite) Release(ctx context.Context, participant string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	now := s.now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, ok, err := scanLease(tx.QueryRowContext(ctx,
		`SELECT holder, token, acquired_at, ttl_ms FROM turn_lease WHERE id = 1`))
	if err != nil {
		return err
	}
	if !ok || cur.Holder != participant {
		return ErrNotHolder
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_lease WHERE id = 1 AND holder = ?`, participant); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lease: %w", err)
	}
	if now >= cur.AcquiredAt.UnixMilli()+cur.TTL.Milliseconds() {
		return ErrNotHolder
	}
	return nil
}

// Holder implements Store.Holder.
func (s *SQLite) Holder(ctx context.Context) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("storage is not configured")
	}
	cur, ok, err := scanLease(s.db.QueryRowContext(ctx,
		`SELECT holder, token, acquired_at, ttl_ms FROM turn_lease WHERE id = 1`))
	if err != nil || !ok {
		return "", false, err
	}
	if s.now().UnixMilli() >= cur.AcquiredAt.UnixMilli()+cur.TTL.Milliseconds() {
		return "", false, nil
	}
	return cur.Holder, true, nil
}

// Expire implements Store.Expire.
func (s *SQLite) Expire(ctx context.Context) (Lease, bool, error) {
	if s == nil || s.db == nil {
		return Lease{}, false, fmt.Errorf("storage is not configured")
	}
	now := s.now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Lease{}, false, fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, ok, err := scanLease(tx.QueryRowContext(ctx,
		`SELECT holder, token, acquired_at, ttl_ms FROM turn_lease WHERE id = 1`))
	if err != nil || !ok {
		return Lease{}, false, err
	}
	if now < cur.AcquiredAt.UnixMilli()+cur.TTL.Milliseconds() {
		return Lease{}, false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_lease WHERE id = 1 AND token = ?`, cur.Token); err != nil {
		return Lease{}, false, fmt.Errorf("expire lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Lease{}, false, fmt.Errorf("commit lease: %w", err)
	}
	return cur, true, nil
}

func scanLease(row *sql.Row) (Lease, bool, error) {
	var (
		l          Lease
		acquiredAt int64
		ttlMS      int64
	)
	err := row.Scan(&l.Holder, &l.Token, &acquiredAt, &ttlMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("read lease: %w", err)
	}
	l.AcquiredAt = time.UnixMilli(acquiredAt)
	l.TTL = time.Duration(ttlMS) * time.Millisecond
	return l, true, nil
}
