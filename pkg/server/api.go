package server

import (
	"context"

	"google.golang.org/grpc"
)

// Wire names of the lock service
const (
	ServiceName    = "lockd.v1.LockService"
	AcquireMethod  = "/" + ServiceName + "/Acquire"
	SnapshotMethod = "/" + ServiceName + "/Snapshot"
)

// AcquireRequest opens a lock stream
type AcquireRequest struct {
	Name        string `json:"name"`
	Mode        string `json:"mode,omitempty"` // "exclusive" when empty
	IfAvailable bool   `json:"if_available,omitempty"`
	Steal       bool   `json:"steal,omitempty"`
}

// EventType tags a LockEvent
type EventType string

const (
	EventGranted      EventType = "granted"
	EventNotAvailable EventType = "not_available"
	EventCanceled     EventType = "canceled"
	EventEjected      EventType = "ejected"
)

// LockEvent is one message on an Acquire stream. The first event resolves
// the request; a granted lock is followed by at most one ejected event.
type LockEvent struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	LockID    uint64    `json:"lock_id,omitempty"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	Reason    string    `json:"reason,omitempty"`
}

// SnapshotRequest asks for the coordinator state
type SnapshotRequest struct{}

// SnapshotEntry is one queued request or held lock
type SnapshotEntry struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// SnapshotResponse lists queued requests in queue order and held locks in
// grant order
type SnapshotResponse struct {
	Pending []SnapshotEntry `json:"pending"`
	Held    []SnapshotEntry `json:"held"`
}

// LockServiceServer is the server API of lockd.v1.LockService
type LockServiceServer interface {
	Acquire(*AcquireRequest, AcquireStream) error
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
}

// AcquireStream is the server side of an Acquire stream
type AcquireStream interface {
	Send(*LockEvent) error
	grpc.ServerStream
}

type acquireStream struct {
	grpc.ServerStream
}

func (s *acquireStream) Send(ev *LockEvent) error {
	return s.ServerStream.SendMsg(ev)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SnapshotMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func acquireHandler(srv any, stream grpc.ServerStream) error {
	in := new(AcquireRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LockServiceServer).Acquire(in, &acquireStream{stream})
}

// ServiceDesc describes lockd.v1.LockService for grpc.Server.RegisterService
// and for client streams.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Snapshot",
			Handler:    snapshotHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Acquire",
			Handler:       acquireHandler,
			ServerStreams: true,
		},
	},
}

// RegisterLockServiceServer registers srv on s
func RegisterLockServiceServer(s grpc.ServiceRegistrar, srv LockServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
