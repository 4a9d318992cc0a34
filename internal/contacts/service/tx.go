package service

import (
	"context"
	"time"

	dErrors "rolodex/pkg/domain-errors"
)

// WriteTx is the directory write lock. Every create, update, delete and import
// commit runs inside RunInTx, so the index check and the directory write are
// never interleaved with another writer's.
type WriteTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker acquires the underlying mutual exclusion. The in-process locker
// serializes one instance; a Redis locker serializes every instance sharing
// the directory.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

const defaultWriteTxTimeout = 5 * time.Second

type lockedTx struct {
	locker  Locker
	timeout time.Duration
}

// NewWriteTx wraps locker. A zero timeout uses the default of five seconds,
// applied only when ctx has no deadline of its own.
func NewWriteTx(locker Locker, timeout time.Duration) WriteTx {
	if timeout <= 0 {
		timeout = defaultWriteTxTimeout
	}
	return &lockedTx{locker: locker, timeout: timeout}
}

func (t *lockedTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "write aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	release, err := t.locker.Acquire(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "write lock not acquired")
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "write aborted: context cancelled")
	}
	return fn(ctx)
}

// MutexLocker is a process-local lock that gives up when ctx is done.
type MutexLocker struct {
	sem chan struct{}
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{sem: make(chan struct{}, 1)}
}

func (l *MutexLocker) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
