package locks

import "time"

// lock is a granted resource lock. The manager owns it and keeps it in the
// held registry; the holder refers to it only by LockID through a Handle.
// All fields are guarded by the manager mutex.
type lock struct {
	id        LockID
	name      string
	mode      Mode
	grantedAt time.Time

	holder *Handle
	reason EjectedReason
}

// eject detaches l from its holder and records why. Both ends of the link are
// cleared in the same step. The reason is written at most once; later calls
// are no-ops. Must be called with the manager write lock held.
func (l *lock) eject(reason EjectedReason) {
	if l.reason != NotEjected {
		return
	}
	l.reason = reason

	h := l.holder
	if h == nil {
		return
	}
	l.holder = nil
	h.id = 0
	h.reason = reason
	close(h.done)
}

// Handle is the holder side of a granted lock. It stays valid after the lock
// is ejected, at which point Held reports false and EjectedReason says why.
type Handle struct {
	mgr    *LockManager
	lockID LockID
	name   string
	mode   Mode
	done   chan struct{}

	// guarded by mgr.mu
	id     LockID
	reason EjectedReason
}

func newHandle(m *LockManager, l *lock) *Handle {
	h := &Handle{
		mgr:    m,
		lockID: l.id,
		name:   l.name,
		mode:   l.mode,
		done:   make(chan struct{}),
		id:     l.id,
	}
	l.holder = h
	return h
}

// ID returns the registry id this handle was granted with
func (h *Handle) ID() LockID { return h.lockID }

// Name returns the resource name
func (h *Handle) Name() string { return h.name }

// Mode returns the mode the lock was granted in
func (h *Handle) Mode() Mode { return h.mode }

// Held reports whether the lock is still granted to this handle.
func (h *Handle) Held() bool {
	h.mgr.mu.RLock()
	defer h.mgr.mu.RUnlock()
	return h.id != 0
}

// EjectedReason returns NotEjected while the lock is held, then Released or
// Stolen.
func (h *Handle) EjectedReason() EjectedReason {
	h.mgr.mu.RLock()
	defer h.mgr.mu.RUnlock()
	return h.reason
}

// Done returns a channel that is closed once the lock is ejected, whether by
// Release or by a steal.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Release gives the lock back to the manager. Releasing an already released
// or stolen lock is a no-op.
func (h *Handle) Release() {
	h.mgr.Release(h.lockID)
}
