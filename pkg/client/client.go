// Package client is the Go client for the lockd gRPC service.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/circuitbreaker"
	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/server"
	"git.srvlab.io/whiskey/lockd/pkg/utils"
)

var (
	// ErrNotAvailable is returned when an IfAvailable request finds the lock taken
	ErrNotAvailable = errors.New("lock not available")

	// ErrCanceled is returned when the request was canceled before it was
	// granted, by the caller's context or by the coordinator shutting down
	ErrCanceled = errors.New("lock request canceled")
)

// Config holds client configuration
type Config struct {
	// Endpoint of the coordinator, same forms lockd accepts
	Endpoint string

	// DialRetries is the number of attempts per call while the
	// coordinator is unreachable (default 5)
	DialRetries int

	// BreakerFailures is the number of consecutive transport failures that
	// open the circuit (default 3)
	BreakerFailures uint32

	// BreakerTimeout is how long the circuit stays open (default 30s)
	BreakerTimeout time.Duration
}

// Client talks to one lockd coordinator
type Client struct {
	conn    *grpc.ClientConn
	breaker *circuitbreaker.MethodBreaker
	backoff utils.BackoffConfig
}

// New creates a client. The connection is established lazily on first use.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		config.Endpoint = server.DefaultEndpoint
	}

	target, err := dialTarget(config.Endpoint)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(server.Codec())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", config.Endpoint, err)
	}

	backoff := utils.DefaultBackoffConfig()
	if config.DialRetries > 0 {
		backoff.Steps = config.DialRetries
	}

	klog.V(4).Infof("Created lockd client for %s", target)
	return &Client{
		conn: conn,
		breaker: circuitbreaker.NewMethodBreaker(circuitbreaker.Settings{
			ConsecutiveFailures: config.BreakerFailures,
			Timeout:             config.BreakerTimeout,
		}),
		backoff: backoff,
	}, nil
}

// Close tears down the connection. Locks still held through it are lost.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Snapshot returns the coordinator's pending queue and held set
func (c *Client) Snapshot(ctx context.Context) (*server.SnapshotResponse, error) {
	resp := new(server.SnapshotResponse)
	err := c.call(ctx, server.SnapshotMethod, func(ctx context.Context) error {
		return c.conn.Invoke(ctx, server.SnapshotMethod, &server.SnapshotRequest{}, resp)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Acquire requests name and blocks until the coordinator grants it, rejects
// it or ctx ends. The returned lock is held until Release is called or the
// coordinator reports it lost; ctx only bounds the wait.
func (c *Client) Acquire(ctx context.Context, name string, opts locks.RequestOptions) (*RemoteLock, error) {
	req := &server.AcquireRequest{
		Name:        name,
		Mode:        opts.Mode.String(),
		IfAvailable: opts.IfAvailable,
		Steal:       opts.Steal,
	}

	var lock *RemoteLock
	err := c.call(ctx, server.AcquireMethod, func(ctx context.Context) error {
		var err error
		lock, err = c.acquireOnce(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// call runs fn behind the method's breaker and retries transport failures
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return utils.RetryWithBackoff(ctx, c.backoff, func() error {
		return c.breaker.Execute(ctx, method, fn)
	})
}

func (c *Client) acquireOnce(ctx context.Context, req *server.AcquireRequest) (*RemoteLock, error) {
	// The stream outlives ctx once granted, so it only inherits ctx's values
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopWatch := context.AfterFunc(ctx, cancel)

	stream, err := c.conn.NewStream(streamCtx, &server.ServiceDesc.Streams[0], server.AcquireMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	ev := new(server.LockEvent)
	recvErr := stream.RecvMsg(ev)

	if !stopWatch() {
		// ctx ended while waiting; canceling the stream cancels the request
		// or releases a grant that raced with it
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
	if recvErr != nil {
		cancel()
		return nil, recvErr
	}

	switch ev.Type {
	case server.EventGranted:
	case server.EventNotAvailable:
		cancel()
		return nil, ErrNotAvailable
	case server.EventCanceled:
		cancel()
		return nil, ErrCanceled
	default:
		cancel()
		return nil, fmt.Errorf("unexpected %q event before grant", ev.Type)
	}

	mode, err := locks.ParseMode(ev.Mode)
	if err != nil {
		cancel()
		return nil, err
	}

	lock := &RemoteLock{
		name:      ev.Name,
		mode:      mode,
		id:        ev.LockID,
		requestID: ev.RequestID,
		cancel:    cancel,
		lost:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go lock.watch(stream)

	klog.V(4).Infof("Acquired remote lock %d on %q (%s)", lock.id, lock.name, lock.mode)
	return lock, nil
}

// RemoteLock is a lock held through an open Acquire stream
type RemoteLock struct {
	name      string
	mode      locks.Mode
	id        uint64
	requestID string

	cancel context.CancelFunc
	lost   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	reason string
}

func (l *RemoteLock) Name() string      { return l.name }
func (l *RemoteLock) Mode() locks.Mode  { return l.mode }
func (l *RemoteLock) ID() uint64        { return l.id }
func (l *RemoteLock) RequestID() string { return l.requestID }

// Lost is closed once the lock is no longer held: the coordinator ejected
// it, the stream broke, or Release was called.
func (l *RemoteLock) Lost() <-chan struct{} {
	return l.lost
}

// Reason reports why the coordinator ejected the lock ("stolen" or
// "released"). It is empty while held and when the stream simply ended.
func (l *RemoteLock) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Release closes the stream, which releases the lock on the coordinator,
// and waits for the stream to wind down. Safe to call more than once.
func (l *RemoteLock) Release() {
	l.cancel()
	<-l.done
}

func (l *RemoteLock) watch(stream grpc.ClientStream) {
	defer close(l.done)
	defer close(l.lost)

	for {
		ev := new(server.LockEvent)
		if err := stream.RecvMsg(ev); err != nil {
			klog.V(4).Infof("Stream for remote lock %d on %q ended: %v", l.id, l.name, err)
			return
		}
		if ev.Type == server.EventEjected {
			l.mu.Lock()
			l.reason = ev.Reason
			l.mu.Unlock()
			klog.V(2).Infof("Remote lock %d on %q lost (%s)", l.id, l.name, ev.Reason)
			// the server ends the stream after ejecting; stop reading and
			// drop our side right away
			l.cancel()
			return
		}
	}
}

// dialTarget converts a lockd endpoint into a gRPC target
func dialTarget(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint: %w", err)
	}

	switch u.Scheme {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" {
			return "", fmt.Errorf("endpoint address cannot be empty")
		}
		return "unix:" + path, nil
	case "tcp":
		if u.Host == "" {
			return "", fmt.Errorf("tcp endpoint must specify host")
		}
		return "passthrough:///" + u.Host, nil
	case "":
		path := strings.TrimPrefix(endpoint, "unix://")
		if path == "" {
			return "", fmt.Errorf("endpoint address cannot be empty")
		}
		return "unix:" + path, nil
	default:
		return "", fmt.Errorf("unsupported endpoint scheme: %s", u.Scheme)
	}
}
