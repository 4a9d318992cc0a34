package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

// DirectoryLockKey is the advisory lock id shared by every instance writing
// the same directory database.
const DirectoryLockKey int64 = 0x726f6c6f646578

// AdvisoryLock serializes writers across instances with a session-level
// pg_advisory_lock. Each holder pins one pooled connection until release.
type AdvisoryLock struct {
	db  *sql.DB
	key int64
}

// NewAdvisoryLock builds a lock on key.
func NewAdvisoryLock(db *sql.DB, key int64) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: key}
}

// Acquire blocks in Postgres until the lock is granted or ctx is done.
func (l *AdvisoryLock) Acquire(ctx context.Context) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, l.key); err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
			// A session lock dies with its connection; make sure it is not reused.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}
