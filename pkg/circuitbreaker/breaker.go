// Package circuitbreaker stops a lockd client from hammering a coordinator
// that keeps failing at the transport level.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/utils"
)

const (
	// DefaultConsecutiveFailures is the number of failures before circuit opens
	DefaultConsecutiveFailures = 3

	// DefaultTimeout is how long circuit stays open before allowing a retry
	DefaultTimeout = 30 * time.Second

	// DefaultInterval is the cyclic period of closed state to clear failure counts
	DefaultInterval = 1 * time.Minute
)

// Settings tunes the breakers created by a MethodBreaker
type Settings struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration
	Interval            time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultConsecutiveFailures
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Interval == 0 {
		s.Interval = DefaultInterval
	}
	return s
}

// MethodBreaker keeps one circuit breaker per RPC method, so a failing
// stream open does not block snapshots and vice versa.
type MethodBreaker struct {
	settings Settings
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.RWMutex
}

// NewMethodBreaker creates a breaker set; zero Settings fields take defaults
func NewMethodBreaker(settings Settings) *MethodBreaker {
	return &MethodBreaker{
		settings: settings.withDefaults(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// getBreaker returns or creates the circuit breaker for method
func (mb *MethodBreaker) getBreaker(method string) *gobreaker.CircuitBreaker {
	mb.mu.RLock()
	cb, exists := mb.breakers[method]
	mb.mu.RUnlock()

	if exists {
		return cb
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := mb.breakers[method]; exists {
		return cb
	}

	threshold := mb.settings.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        method,
		MaxRequests: 1, // Only 1 request allowed in half-open state
		Interval:    mb.settings.Interval,
		Timeout:     mb.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only transport trouble trips the breaker. A lock that is not
		// available or a rejected name is a normal answer.
		IsSuccessful: func(err error) bool {
			return !utils.IsRetryableError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Infof("Circuit breaker for %s: %s -> %s", name, from, to)
		},
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	mb.breakers[method] = cb
	klog.V(4).Infof("Created circuit breaker for %s", method)
	return cb
}

// Execute runs fn with circuit breaker protection.
// Returns gRPC Unavailable error if circuit is open.
func (mb *MethodBreaker) Execute(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	cb := mb.getBreaker(method)

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) {
		return status.Errorf(codes.Unavailable,
			"circuit breaker for %s is OPEN after %d consecutive failures, retry after %s",
			method, mb.settings.ConsecutiveFailures, mb.settings.Timeout)
	}

	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return status.Errorf(codes.Unavailable,
			"circuit breaker for %s is HALF-OPEN and already has a request in progress", method)
	}

	return err
}

// Reset drops the breaker for method so the next call starts closed
func (mb *MethodBreaker) Reset(method string) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, exists := mb.breakers[method]; exists {
		delete(mb.breakers, method)
		klog.Infof("Circuit breaker reset for %s", method)
		return true
	}
	return false
}

// State returns the current state of the circuit breaker for method.
// Returns "closed" if no breaker exists (default safe state).
func (mb *MethodBreaker) State(method string) string {
	mb.mu.RLock()
	cb, exists := mb.breakers[method]
	mb.mu.RUnlock()

	if !exists {
		return "closed"
	}

	return cb.State().String()
}
