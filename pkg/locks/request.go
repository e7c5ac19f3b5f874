package locks

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.srvlab.io/whiskey/lockd/pkg/utils"
)

// RequestOptions qualifies a lock request.
type RequestOptions struct {
	// Mode defaults to Exclusive
	Mode Mode

	// IfAvailable rejects the request with NotAvailable instead of queueing
	// it when it cannot be granted right away.
	IfAvailable bool

	// Steal ejects every current holder of the name and grants the request
	// ahead of the queue. Takes precedence over IfAvailable.
	Steal bool
}

// LockRequest is a single acquisition attempt. It is resolved exactly once,
// through its Notifier, and cannot be resubmitted.
type LockRequest struct {
	id          uuid.UUID
	name        string
	mode        Mode
	ifAvailable bool
	steal       bool
	notifier    Notifier

	submitted   atomic.Bool
	status      atomic.Int32
	submittedAt time.Time // written under the manager mutex
}

// NewLockRequest validates its arguments and builds a request ready to be
// handed to LockManager.Request.
func NewLockRequest(name string, opts RequestOptions, notifier Notifier) (*LockRequest, error) {
	if err := utils.ValidateLockName(name); err != nil {
		return nil, err
	}

	if !opts.Mode.Valid() {
		return nil, utils.NewValidationError("mode", "mode must be exclusive or shared", utils.ErrInvalidMode)
	}

	if notifier == nil {
		return nil, utils.NewValidationError("notifier", "a notifier is required", utils.ErrInvalidParameter)
	}

	return &LockRequest{
		id:          uuid.New(),
		name:        name,
		mode:        opts.Mode,
		ifAvailable: opts.IfAvailable,
		steal:       opts.Steal,
		notifier:    notifier,
	}, nil
}

// ID returns the unique id of the request, used in logs and on the wire.
func (r *LockRequest) ID() uuid.UUID { return r.id }

func (r *LockRequest) Name() string      { return r.name }
func (r *LockRequest) Mode() Mode        { return r.mode }
func (r *LockRequest) IfAvailable() bool { return r.ifAvailable }
func (r *LockRequest) Steal() bool       { return r.steal }

// Status returns the current state. Once it leaves Pending it never changes.
func (r *LockRequest) Status() Status {
	return Status(r.status.Load())
}

// kind labels the request for metrics.
func (r *LockRequest) kind() string {
	switch {
	case r.steal:
		return "steal"
	case r.ifAvailable:
		return "if_available"
	}
	return "queue"
}
