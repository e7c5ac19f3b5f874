package security

import "time"

// EventCategory represents the category of an audit event
type EventCategory string

const (
	// CategoryLockOperation represents grants and releases that change ownership
	CategoryLockOperation EventCategory = "lock_operation"

	// CategoryAccessControl represents requests refused before reaching the coordinator
	CategoryAccessControl EventCategory = "access_control"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome represents the outcome of an audited operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
	OutcomeUnknown EventOutcome = "unknown"
)

// EventType represents specific types of audit events
type EventType string

const (
	// Lock ownership events
	EventLockStolen         EventType = "lock_stolen"
	EventLocksEjectedOnStop EventType = "locks_ejected_on_shutdown"

	// Refused requests
	EventRequestInvalid     EventType = "request_invalid"
	EventRequestRateLimited EventType = "request_rate_limited"
)

// AuditEvent describes one security relevant coordinator action
type AuditEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Category  EventCategory `json:"category"`
	Severity  EventSeverity `json:"severity"`
	Outcome   EventOutcome  `json:"outcome"`
	Message   string        `json:"message"`

	// Who asked
	Peer string `json:"peer,omitempty"`

	// Which lock
	LockName  string `json:"lock_name,omitempty"`
	Mode      string `json:"mode,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Operation string            `json:"operation,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewAuditEvent creates a new audit event with the current timestamp
func NewAuditEvent(eventType EventType, category EventCategory, severity EventSeverity, message string) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Category:  category,
		Severity:  severity,
		Outcome:   OutcomeUnknown,
		Message:   message,
		Details:   make(map[string]string),
	}
}

// WithOutcome sets the outcome of the event
func (e *AuditEvent) WithOutcome(outcome EventOutcome) *AuditEvent {
	e.Outcome = outcome
	return e
}

// WithPeer sets the remote address of the caller
func (e *AuditEvent) WithPeer(peer string) *AuditEvent {
	e.Peer = peer
	return e
}

// WithLock sets the lock the event is about
func (e *AuditEvent) WithLock(name, mode, requestID string) *AuditEvent {
	e.LockName = name
	e.Mode = mode
	e.RequestID = requestID
	return e
}

// WithOperation sets the RPC or coordinator operation
func (e *AuditEvent) WithOperation(operation string) *AuditEvent {
	e.Operation = operation
	return e
}

// WithError attaches an error
func (e *AuditEvent) WithError(err error) *AuditEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDetail adds a free-form key/value
func (e *AuditEvent) WithDetail(key, value string) *AuditEvent {
	e.Details[key] = value
	return e
}
