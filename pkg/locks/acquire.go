package locks

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotAvailable is returned for an IfAvailable request that could not
	// be granted immediately
	ErrNotAvailable = errors.New("lock not available")

	// ErrAborted is returned when a request was canceled, either through its
	// context or because the manager shut down
	ErrAborted = errors.New("lock request aborted")
)

// Acquire requests name and blocks until the request is resolved or ctx is
// done. On success the caller owns the returned handle and must Release it.
//
// A context that is already done fails with ErrAborted without submitting
// anything. If ctx ends while the request is queued the request is canceled;
// should the grant win that race the lock is released before returning.
func (m *LockManager) Acquire(ctx context.Context, name string, opts RequestOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	n := NewChanNotifier()
	req, err := NewLockRequest(name, opts, n)
	if err != nil {
		return nil, err
	}
	m.Request(req)

	var res Result
	select {
	case res = <-n.C():
	case <-ctx.Done():
		m.Cancel(req)
		res = <-n.C()
		if res.Status == Granted {
			res.Lock.Release()
		}
		return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}

	switch res.Status {
	case Granted:
		return res.Lock, nil
	case NotAvailable:
		return nil, ErrNotAvailable
	default:
		return nil, ErrAborted
	}
}

// WithLock acquires name, runs fn while holding it and releases it when fn
// returns, whatever fn's outcome. For IfAvailable requests that cannot be
// granted fn still runs, with a nil handle. fn's error is returned as is.
func (m *LockManager) WithLock(ctx context.Context, name string, opts RequestOptions, fn func(ctx context.Context, lock *Handle) error) error {
	h, err := m.Acquire(ctx, name, opts)
	if err != nil && !errors.Is(err, ErrNotAvailable) {
		return err
	}
	if h != nil {
		defer h.Release()
	}
	return fn(ctx, h)
}
