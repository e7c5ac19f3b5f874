package locks

import (
	"sync"
	"testing"
)

// recorder is a Notifier that keeps every result it receives
type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) Notify(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// only returns the single result r received, failing the test otherwise
func (r *recorder) only(t *testing.T) Result {
	t.Helper()
	results := r.all()
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d: %+v", len(results), results)
	}
	return results[0]
}

// pending fails the test if r has been notified
func (r *recorder) pending(t *testing.T) {
	t.Helper()
	if results := r.all(); len(results) != 0 {
		t.Fatalf("expected request to still be pending, got %+v", results)
	}
}

// submit builds a request, hands it to m and returns it with its recorder
func submit(t *testing.T, m *LockManager, name string, opts RequestOptions) (*LockRequest, *recorder) {
	t.Helper()
	rec := &recorder{}
	req, err := NewLockRequest(name, opts, rec)
	if err != nil {
		t.Fatalf("NewLockRequest(%q): %v", name, err)
	}
	m.Request(req)
	return req, rec
}

// granted asserts r was granted and returns the handle
func granted(t *testing.T, r *recorder) *Handle {
	t.Helper()
	res := r.only(t)
	if res.Status != Granted {
		t.Fatalf("expected Granted, got %s", res.Status)
	}
	if res.Lock == nil {
		t.Fatal("Granted result carries no lock")
	}
	return res.Lock
}

var (
	exclusive = RequestOptions{Mode: Exclusive}
	shared    = RequestOptions{Mode: Shared}
)
