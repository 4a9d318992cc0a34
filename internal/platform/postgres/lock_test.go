package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLock(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
			WithArgs(DirectoryLockKey).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
			WithArgs(DirectoryLockKey).
			WillReturnResult(sqlmock.NewResult(0, 1))

		lock := NewAdvisoryLock(db, DirectoryLockKey)
		release, err := lock.Acquire(context.Background())
		require.NoError(t, err)
		release()

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock failure returns the connection", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
			WithArgs(DirectoryLockKey).
			WillReturnError(errors.New("too many locks"))

		lock := NewAdvisoryLock(db, DirectoryLockKey)
		_, err = lock.Acquire(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "advisory lock")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled context", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = NewAdvisoryLock(db, DirectoryLockKey).Acquire(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
