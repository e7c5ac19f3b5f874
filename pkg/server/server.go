package server

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/observability"
	"git.srvlab.io/whiskey/lockd/pkg/security"
)

const (
	// Maximum message size for gRPC
	maxMsgSize = 4 * 1024 * 1024 // 4 MiB

	// DefaultEndpoint is where lockd listens when no endpoint is configured
	DefaultEndpoint = "unix:///var/run/lockd/lockd.sock"
)

// Config holds server configuration
type Config struct {
	// Endpoint is unix:///path, tcp://host:port or a bare socket path
	Endpoint string

	// MaxRequestRate limits RPCs per second across all clients (0 disables)
	MaxRequestRate float64

	// RequestBurst is the limiter bucket size (defaults to 1 when limiting)
	RequestBurst int
}

// Server is a non-blocking gRPC server for the lock service
type Server struct {
	config  Config
	mgr     *locks.LockManager
	metrics *observability.Metrics
	audit   *security.Logger
	limiter *rate.Limiter

	server   *grpc.Server
	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
}

// NewServer creates a server exposing mgr. metrics may be nil.
func NewServer(config Config, mgr *locks.LockManager, metrics *observability.Metrics) *Server {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}

	s := &Server{
		config:   config,
		mgr:      mgr,
		metrics:  metrics,
		audit:    security.NewLogger(),
		serveErr: make(chan error, 1),
	}

	if config.MaxRequestRate > 0 {
		burst := config.RequestBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.MaxRequestRate), burst)
	}

	return s
}

// Start listens on the configured endpoint and serves in the background
func (s *Server) Start() error {
	proto, addr, err := parseEndpoint(s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse endpoint: %w", err)
	}

	klog.V(4).Infof("Starting gRPC server on %s://%s", proto, addr)

	// Remove existing socket file if it exists (unix sockets only)
	if proto == "unix" {
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}

	listener, err := net.Listen(proto, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s://%s: %w", proto, addr, err)
	}
	s.listener = listener

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ForceServerCodec(Codec()),
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}

	s.server = grpc.NewServer(opts...)
	RegisterLockServiceServer(s.server, NewLockService(s.mgr, s.metrics, s.audit))
	klog.V(4).Infof("Registered %s", ServiceName)

	klog.Infof("gRPC server listening on %s://%s", proto, addr)
	go func() {
		s.serveErr <- s.server.Serve(listener)
	}()

	return nil
}

// Wait blocks until the server stops serving. It returns nil after Stop.
func (s *Server) Wait() error {
	return <-s.serveErr
}

// Addr returns the address the server listens on, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the lock manager down, which ends every open lock stream, and
// then stops the gRPC server gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		klog.Info("Stopping gRPC server")
		if pending, held := s.mgr.Stats(); pending+held > 0 {
			s.audit.LogShutdownEjection(held, pending)
		}
		s.mgr.Shutdown()
		if s.server != nil {
			s.server.GracefulStop()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

func (s *Server) allow(ctx context.Context, method string) error {
	if s.limiter == nil || s.limiter.Allow() {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimited()
	}
	s.audit.LogRateLimited(peerAddr(ctx), method)
	return status.Errorf(codes.ResourceExhausted, "request rate exceeds %.1f/s", s.config.MaxRequestRate)
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := func() (any, error) {
		if err := s.allow(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}()
	if s.metrics != nil {
		s.metrics.RecordRPC(info.FullMethod, err, time.Since(start))
	}
	return resp, err
}

func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := s.allow(ss.Context(), info.FullMethod)
	if err == nil {
		err = handler(srv, ss)
	}
	if s.metrics != nil {
		s.metrics.RecordRPC(info.FullMethod, err, time.Since(start))
	}
	return err
}

// parseEndpoint parses the endpoint into protocol and address
func parseEndpoint(endpoint string) (string, string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse endpoint: %w", err)
	}

	var proto, addr string

	switch u.Scheme {
	case "unix":
		proto = "unix"
		addr = u.Path
		if addr == "" {
			addr = u.Host
		}
	case "tcp":
		proto = "tcp"
		addr = u.Host
		if addr == "" {
			return "", "", fmt.Errorf("tcp endpoint must specify host")
		}
	case "":
		// If no scheme, assume unix socket
		proto = "unix"
		addr = strings.TrimPrefix(endpoint, "unix://")
	default:
		return "", "", fmt.Errorf("unsupported endpoint scheme: %s", u.Scheme)
	}

	if addr == "" {
		return "", "", fmt.Errorf("endpoint address cannot be empty")
	}

	return proto, addr, nil
}
