package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/observability"
	"git.srvlab.io/whiskey/lockd/pkg/security"
	"git.srvlab.io/whiskey/lockd/pkg/utils"
)

// LockService exposes a LockManager over gRPC. An Acquire stream stays open
// for as long as its lock is held: closing it releases the lock.
type LockService struct {
	mgr     *locks.LockManager
	metrics *observability.Metrics
	audit   *security.Logger
}

// NewLockService creates the service. metrics may be nil.
func NewLockService(mgr *locks.LockManager, metrics *observability.Metrics, audit *security.Logger) *LockService {
	if audit == nil {
		audit = security.NewLogger()
	}
	return &LockService{
		mgr:     mgr,
		metrics: metrics,
		audit:   audit,
	}
}

// Acquire implements LockServiceServer
func (s *LockService) Acquire(req *AcquireRequest, stream AcquireStream) error {
	ctx := stream.Context()

	opts, err := requestOptions(req)
	if err != nil {
		s.audit.LogRequestInvalid(peerAddr(ctx), "Acquire", req.Name, err)
		return toStatus(err)
	}

	n := locks.NewChanNotifier()
	lr, err := locks.NewLockRequest(req.Name, opts, n)
	if err != nil {
		s.audit.LogRequestInvalid(peerAddr(ctx), "Acquire", req.Name, err)
		return toStatus(err)
	}

	if s.metrics != nil {
		s.metrics.RecordStreamOpened()
		defer s.metrics.RecordStreamClosed()
	}

	ev := &LockEvent{
		RequestID: lr.ID().String(),
		Name:      lr.Name(),
		Mode:      lr.Mode().String(),
	}

	s.mgr.Request(lr)

	var res locks.Result
	select {
	case res = <-n.C():
	case <-ctx.Done():
		s.mgr.Cancel(lr)
		if res = <-n.C(); res.Status == locks.Granted {
			res.Lock.Release()
		}
		klog.V(4).Infof("Client left before lock request %s on %q resolved", ev.RequestID, ev.Name)
		return status.FromContextError(ctx.Err()).Err()
	}

	switch res.Status {
	case locks.NotAvailable:
		ev.Type = EventNotAvailable
		return stream.Send(ev)
	case locks.Canceled:
		// Our own cancel only happens on ctx.Done, so this is a shutdown
		ev.Type = EventCanceled
		if err := stream.Send(ev); err != nil {
			return err
		}
		return status.Error(codes.Unavailable, "lock manager is shutting down")
	}

	h := res.Lock
	defer h.Release()

	if lr.Steal() {
		s.audit.LogLockStolen(peerAddr(ctx), ev.Name, ev.Mode, ev.RequestID)
	}

	ev.Type = EventGranted
	ev.LockID = uint64(h.ID())
	if err := stream.Send(ev); err != nil {
		klog.V(4).Infof("Failed to deliver grant of lock %d on %q: %v", h.ID(), h.Name(), err)
		return err
	}

	select {
	case <-ctx.Done():
		klog.V(4).Infof("Lock stream for %d on %q closed by client", h.ID(), h.Name())
		return nil
	case <-h.Done():
		lost := *ev
		lost.Type = EventEjected
		lost.Reason = h.EjectedReason().String()
		klog.V(2).Infof("Lock %d on %q ejected (%s), notifying client", h.ID(), h.Name(), lost.Reason)
		return stream.Send(&lost)
	}
}

// Snapshot implements LockServiceServer
func (s *LockService) Snapshot(ctx context.Context, _ *SnapshotRequest) (*SnapshotResponse, error) {
	resp := &SnapshotResponse{
		Pending: []SnapshotEntry{},
		Held:    []SnapshotEntry{},
	}
	s.mgr.Snapshot(func(kind locks.SnapshotType, name string, mode locks.Mode) {
		entry := SnapshotEntry{Name: name, Mode: mode.String()}
		if kind == locks.SnapshotHeld {
			resp.Held = append(resp.Held, entry)
		} else {
			resp.Pending = append(resp.Pending, entry)
		}
	})
	return resp, nil
}

// peerAddr returns the caller's address for audit records
func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func requestOptions(req *AcquireRequest) (locks.RequestOptions, error) {
	opts := locks.RequestOptions{
		Mode:        locks.Exclusive,
		IfAvailable: req.IfAvailable,
		Steal:       req.Steal,
	}
	if req.Mode != "" {
		mode, err := locks.ParseMode(req.Mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	return opts, nil
}

// toStatus maps coordinator errors onto gRPC codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	utils.LogError("Acquire", err)
	switch {
	case utils.IsValidationError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, locks.ErrNotAvailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, locks.ErrAborted):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
