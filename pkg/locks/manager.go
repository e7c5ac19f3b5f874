package locks

import (
	"slices"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/observability"
)

// ManagerConfig contains configuration for creating a LockManager
type ManagerConfig struct {
	// Prometheus metrics (optional, nil to disable)
	Metrics *observability.Metrics
}

// LockManager is the coordinating authority for named locks. It owns the
// pending queue and the held registry; one mutex covers both so that a
// request's position relative to the held set and to other requests is
// always evaluated atomically.
type LockManager struct {
	mu sync.RWMutex

	// pending is in fairness order; steals are inserted at the front
	pending []*LockRequest

	// held is in grant order
	held []*lock

	nextID LockID
	closed bool

	metrics *observability.Metrics
}

// notification is a decided but not yet delivered resolution
type notification struct {
	req *LockRequest
	res Result
}

// Snapshot is a point-in-time copy of the manager's state.
type Snapshot struct {
	Pending []SnapshotEntry
	Held    []SnapshotEntry
}

// SnapshotEntry describes one queued request or held lock.
type SnapshotEntry struct {
	Name string
	Mode Mode
}

// NewLockManager creates an empty lock manager.
func NewLockManager(config ManagerConfig) *LockManager {
	return &LockManager{
		metrics: config.Metrics,
	}
}

// Request submits req. The outcome is always reported through req's
// Notifier, even when it is decided before Request returns.
func (m *LockManager) Request(req *LockRequest) {
	if req == nil {
		return
	}
	if !req.submitted.CompareAndSwap(false, true) {
		klog.Warningf("Lock request %s for %q was already submitted, ignoring", req.id, req.name)
		return
	}

	m.mu.Lock()
	req.submittedAt = time.Now()
	if m.metrics != nil {
		m.metrics.RecordLockRequest(req.mode.String(), req.kind())
	}

	var out []notification
	switch {
	case m.closed:
		out = m.resolve(out, req, Canceled, nil)
	case req.steal:
		out = m.steal(out, req)
	case req.ifAvailable && !m.isGrantable(req, m.pending):
		klog.V(4).Infof("Lock %q (%s) not available for request %s", req.name, req.mode, req.id)
		out = m.resolve(out, req, NotAvailable, nil)
	default:
		m.pending = append(m.pending, req)
		out = m.processQueue(out)
	}
	m.publishState()
	m.mu.Unlock()

	m.deliver(out)
}

// Cancel withdraws req if it is still queued and resolves it Canceled.
// A request that already left the queue is unaffected and is not notified
// again.
func (m *LockManager) Cancel(req *LockRequest) {
	if req == nil {
		return
	}

	m.mu.Lock()
	idx := slices.Index(m.pending, req)
	if idx < 0 {
		m.mu.Unlock()
		klog.V(4).Infof("Cancel of request %s for %q is a no-op (status=%s)", req.id, req.name, req.Status())
		return
	}

	m.pending = slices.Delete(m.pending, idx, idx+1)
	klog.V(2).Infof("Canceled lock request %s for %q (%s)", req.id, req.name, req.mode)
	out := m.resolve(nil, req, Canceled, nil)

	// A canceled request may have been the only thing blocking the
	// requests queued behind it.
	out = m.processQueue(out)
	m.publishState()
	m.mu.Unlock()

	m.deliver(out)
}

// Release ejects the lock with the given id and re-evaluates the queue.
// Releasing an id that is not held (already released or stolen) is a no-op.
func (m *LockManager) Release(id LockID) {
	m.mu.Lock()
	idx := slices.IndexFunc(m.held, func(l *lock) bool { return l.id == id })
	if idx >= 0 {
		l := m.held[idx]
		l.eject(Released)
		m.held = slices.Delete(m.held, idx, idx+1)
		if m.metrics != nil {
			m.metrics.RecordLockEjected(Released.String())
		}
		klog.V(4).Infof("Released lock %d on %q (%s) after %s", l.id, l.name, l.mode, time.Since(l.grantedAt))
	} else {
		klog.V(4).Infof("Release of lock %d is a no-op (not held)", id)
	}

	out := m.processQueue(nil)
	m.publishState()
	m.mu.Unlock()

	m.deliver(out)
}

// Snapshot calls visit for every queued request in queue order, then for
// every held lock. visit runs under the manager's read lock and must not
// call back into the manager.
func (m *LockManager) Snapshot(visit func(kind SnapshotType, name string, mode Mode)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, req := range m.pending {
		visit(SnapshotPending, req.name, req.mode)
	}
	for _, l := range m.held {
		visit(SnapshotHeld, l.name, l.mode)
	}
}

// Query returns a copy of the pending queue and held set.
func (m *LockManager) Query() Snapshot {
	snap := Snapshot{
		Pending: []SnapshotEntry{},
		Held:    []SnapshotEntry{},
	}
	m.Snapshot(func(kind SnapshotType, name string, mode Mode) {
		entry := SnapshotEntry{Name: name, Mode: mode}
		if kind == SnapshotHeld {
			snap.Held = append(snap.Held, entry)
		} else {
			snap.Pending = append(snap.Pending, entry)
		}
	})
	return snap
}

// Stats returns the number of pending requests and held locks.
func (m *LockManager) Stats() (pending, held int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending), len(m.held)
}

// Shutdown cancels every pending request, ejects every held lock with
// reason Released and refuses new requests (they resolve Canceled).
// Calling Shutdown more than once is a no-op.
func (m *LockManager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var out []notification
	for _, req := range m.pending {
		out = m.resolve(out, req, Canceled, nil)
	}
	for _, l := range m.held {
		l.eject(Released)
		if m.metrics != nil {
			m.metrics.RecordLockEjected(Released.String())
		}
	}
	klog.V(2).Infof("Lock manager shut down: canceled %d pending requests, released %d locks", len(m.pending), len(m.held))
	m.pending = nil
	m.held = nil
	m.publishState()
	m.mu.Unlock()

	m.deliver(out)
}

// isGrantable reports whether req could be granted given the held set and
// the requests queued ahead of it. Requests behind req never block it.
func (m *LockManager) isGrantable(req *LockRequest, ahead []*LockRequest) bool {
	for _, l := range m.held {
		if l.name == req.name && (req.mode == Exclusive || l.mode == Exclusive) {
			return false
		}
	}
	for _, other := range ahead {
		if other == req {
			break
		}
		if other.name == req.name && (req.mode == Exclusive || other.mode == Exclusive) {
			return false
		}
	}
	return true
}

// processQueue is the grant pass. It walks the queue once, re-evaluating
// each entry against the current state. A granted request is removed before
// the next entry is looked at, so later entries see up-to-date queue
// membership and the locks granted earlier in the same pass.
func (m *LockManager) processQueue(out []notification) []notification {
	for i := 0; i < len(m.pending); {
		req := m.pending[i]
		if !m.isGrantable(req, m.pending[:i]) {
			i++
			continue
		}

		m.pending = slices.Delete(m.pending, i, i+1)
		out = m.resolve(out, req, Granted, m.grant(req))
	}
	return out
}

// grant creates the lock for req, registers it as held and links it to a
// new holder handle.
func (m *LockManager) grant(req *LockRequest) *Handle {
	m.nextID++
	l := &lock{
		id:        m.nextID,
		name:      req.name,
		mode:      req.mode,
		grantedAt: time.Now(),
	}
	h := newHandle(m, l)
	m.held = append(m.held, l)

	wait := l.grantedAt.Sub(req.submittedAt)
	if m.metrics != nil {
		m.metrics.RecordLockGranted(req.mode.String(), wait)
	}
	klog.V(4).Infof("Granted lock %d on %q (%s) to request %s after %s", l.id, l.name, l.mode, req.id, wait)
	return h
}

// steal ejects every held lock on req's name, puts req at the head of the
// queue and runs the grant pass.
func (m *LockManager) steal(out []notification, req *LockRequest) []notification {
	kept := m.held[:0]
	for _, l := range m.held {
		if l.name != req.name {
			kept = append(kept, l)
			continue
		}
		l.eject(Stolen)
		if m.metrics != nil {
			m.metrics.RecordLockEjected(Stolen.String())
		}
		klog.V(2).Infof("Lock %d on %q (%s) stolen by request %s", l.id, l.name, l.mode, req.id)
	}
	clear(m.held[len(kept):])
	m.held = kept

	m.pending = slices.Insert(m.pending, 0, req)
	return m.processQueue(out)
}

// resolve moves req out of Pending and queues its notification.
func (m *LockManager) resolve(out []notification, req *LockRequest, status Status, h *Handle) []notification {
	req.status.Store(int32(status))
	if m.metrics != nil {
		m.metrics.RecordLockResult(status.String())
	}
	return append(out, notification{req: req, res: Result{Status: status, Lock: h}})
}

func (m *LockManager) publishState() {
	if m.metrics != nil {
		m.metrics.SetQueueState(len(m.pending), len(m.held))
	}
}

// deliver hands decided results to their notifiers. Must be called without
// holding m.mu.
func (m *LockManager) deliver(out []notification) {
	for _, n := range out {
		n.req.notifier.Notify(n.res)
	}
}
