package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("registry is nil")
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.SetQueueState(0, 0)

	body := scrape(t, m)
	if !strings.Contains(body, "lockd_") {
		t.Error("metrics response should contain lockd_ namespace")
	}
}

func TestRecordLockLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordLockRequest("exclusive", "queue")
	m.RecordLockRequest("shared", "steal")
	m.RecordLockGranted("exclusive", 5*time.Millisecond)
	m.RecordLockResult("granted")
	m.RecordLockResult("not_available")
	m.RecordLockEjected("stolen")

	if got := testutil.ToFloat64(m.lockRequestsTotal.WithLabelValues("exclusive", "queue")); got != 1 {
		t.Errorf("lock_requests_total{exclusive,queue} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lockResultsTotal.WithLabelValues("granted")); got != 1 {
		t.Errorf("lock_request_results_total{granted} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.locksEjectedTotal.WithLabelValues("stolen")); got != 1 {
		t.Errorf("locks_ejected_total{stolen} = %v, want 1", got)
	}

	body := scrape(t, m)
	if !strings.Contains(body, "lockd_lock_wait_duration_seconds") {
		t.Error("expected lock_wait_duration_seconds metric")
	}
}

func TestSetQueueState(t *testing.T) {
	m := NewMetrics()
	m.SetQueueState(3, 2)

	if got := testutil.ToFloat64(m.requestsPending); got != 3 {
		t.Errorf("lock_requests_pending = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.locksHeld); got != 2 {
		t.Errorf("locks_held = %v, want 2", got)
	}
}

func TestRecordRPC(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "success", err: nil, wantCode: "OK"},
		{name: "grpc status", err: status.Error(codes.InvalidArgument, "bad mode"), wantCode: "InvalidArgument"},
		{name: "plain error", err: errors.New("boom"), wantCode: "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			m.RecordRPC("Snapshot", tt.err, 10*time.Millisecond)

			if got := testutil.ToFloat64(m.rpcRequestsTotal.WithLabelValues("Snapshot", tt.wantCode)); got != 1 {
				t.Errorf("rpc_requests_total{Snapshot,%s} = %v, want 1", tt.wantCode, got)
			}
		})
	}
}

func TestStreamGauge(t *testing.T) {
	m := NewMetrics()
	m.RecordStreamOpened()
	m.RecordStreamOpened()
	m.RecordStreamClosed()
	m.RecordRateLimited()

	if got := testutil.ToFloat64(m.streamsActive); got != 1 {
		t.Errorf("acquire_streams_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rpcRateLimitedTotal); got != 1 {
		t.Errorf("rpc_rate_limited_total = %v, want 1", got)
	}
}
