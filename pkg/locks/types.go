package locks

import (
	"fmt"

	"git.srvlab.io/whiskey/lockd/pkg/utils"
)

// Mode is the sharing mode of a lock.
type Mode int

const (
	// Exclusive allows at most one holder per name.
	Exclusive Mode = iota
	// Shared allows any number of shared holders per name.
	Shared
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m == Exclusive || m == Shared
}

// ParseMode converts a wire name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "exclusive":
		return Exclusive, nil
	case "shared":
		return Shared, nil
	}
	return 0, utils.NewValidationError("mode",
		fmt.Sprintf("mode must be \"exclusive\" or \"shared\", got %q", s), utils.ErrInvalidMode)
}

// Status is the state of a LockRequest. Every state but Pending is terminal.
type Status int32

const (
	Pending Status = iota
	Granted
	NotAvailable
	Canceled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Granted:
		return "granted"
	case NotAvailable:
		return "not_available"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// EjectedReason records why a granted lock was detached from its holder.
type EjectedReason int

const (
	NotEjected EjectedReason = iota
	Released
	Stolen
)

func (r EjectedReason) String() string {
	switch r {
	case NotEjected:
		return "none"
	case Released:
		return "released"
	case Stolen:
		return "stolen"
	}
	return fmt.Sprintf("EjectedReason(%d)", int(r))
}

// SnapshotType tells a snapshot visitor which collection an entry comes from.
type SnapshotType int

const (
	SnapshotPending SnapshotType = iota
	SnapshotHeld
)

func (t SnapshotType) String() string {
	if t == SnapshotHeld {
		return "held"
	}
	return "pending"
}

// LockID identifies a granted lock in the manager's registry. Zero never
// identifies a lock.
type LockID uint64
