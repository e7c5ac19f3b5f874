// Package security records audit events for coordinator actions that take a
// lock away from its holder or refuse a caller.
package security

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"k8s.io/klog/v2"
)

// Logger writes audit events through klog
type Logger struct {
	// logFn overrides severity routing; tests use it to capture output
	logFn func(severity EventSeverity, msg string)
}

// NewLogger creates an audit logger
func NewLogger() *Logger {
	return &Logger{}
}

// severityMapping defines how a severity level maps to klog behavior
type severityMapping struct {
	logFunc func(args ...interface{})
}

// severityMap routes each severity to a klog call
var severityMap = map[EventSeverity]severityMapping{
	SeverityInfo:     {logFunc: func(args ...interface{}) { klog.V(2).Info(args...) }},
	SeverityWarning:  {logFunc: klog.Warning},
	SeverityError:    {logFunc: klog.Error},
	SeverityCritical: {logFunc: klog.Error},
}

// LogEvent logs an audit event with structured logging
func (l *Logger) LogEvent(event *AuditEvent) {
	msg := formatLogMessage(event)

	if l.logFn != nil {
		l.logFn(event.Severity, msg)
		return
	}

	// Look up severity mapping (default to Info if unknown)
	mapping, ok := severityMap[event.Severity]
	if !ok {
		mapping = severityMap[SeverityInfo]
	}
	mapping.logFunc(msg)

	// For critical events, also log as JSON for easy parsing
	if event.Severity == SeverityCritical {
		if jsonBytes, err := json.Marshal(event); err == nil {
			klog.Errorf("CRITICAL_AUDIT_EVENT: %s", string(jsonBytes))
		}
	}
}

// formatLogMessage formats an audit event as a structured log message
func formatLogMessage(event *AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[AUDIT] category=%s type=%s severity=%s outcome=%s msg=%q",
		event.Category, event.EventType, event.Severity, event.Outcome, event.Message)

	if event.Peer != "" {
		fmt.Fprintf(&b, " peer=%s", event.Peer)
	}
	if event.LockName != "" {
		fmt.Fprintf(&b, " lock=%q", event.LockName)
	}
	if event.Mode != "" {
		fmt.Fprintf(&b, " mode=%s", event.Mode)
	}
	if event.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", event.RequestID)
	}
	if event.Operation != "" {
		fmt.Fprintf(&b, " operation=%s", event.Operation)
	}
	if event.Error != "" {
		fmt.Fprintf(&b, " error=%q", event.Error)
	}

	// Sorted so the same event always renders the same line
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, event.Details[k])
	}

	fmt.Fprintf(&b, " timestamp=%s", event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
	return b.String()
}

// LogLockStolen records a granted steal request, which evicted every holder of name
func (l *Logger) LogLockStolen(peer, name, mode, requestID string) {
	event := NewAuditEvent(
		EventLockStolen,
		CategoryLockOperation,
		SeverityWarning,
		"Lock stolen from its holders",
	).WithPeer(peer).
		WithLock(name, mode, requestID).
		WithOperation("Acquire").
		WithOutcome(OutcomeSuccess)
	l.LogEvent(event)
}

// LogShutdownEjection records the locks dropped when the coordinator stopped
func (l *Logger) LogShutdownEjection(held, pending int) {
	event := NewAuditEvent(
		EventLocksEjectedOnStop,
		CategoryLockOperation,
		SeverityWarning,
		"Coordinator shut down with outstanding locks",
	).WithOperation("Shutdown").
		WithDetail("held", fmt.Sprint(held)).
		WithDetail("pending", fmt.Sprint(pending)).
		WithOutcome(OutcomeSuccess)
	l.LogEvent(event)
}

// LogRequestInvalid records a request rejected by validation
func (l *Logger) LogRequestInvalid(peer, operation, name string, err error) {
	event := NewAuditEvent(
		EventRequestInvalid,
		CategoryAccessControl,
		SeverityInfo,
		"Request failed validation",
	).WithPeer(peer).
		WithLock(name, "", "").
		WithOperation(operation).
		WithError(err).
		WithOutcome(OutcomeDenied)
	l.LogEvent(event)
}

// LogRateLimited records a request refused by the rate limiter
func (l *Logger) LogRateLimited(peer, operation string) {
	event := NewAuditEvent(
		EventRequestRateLimited,
		CategoryAccessControl,
		SeverityWarning,
		"Request rate limit exceeded",
	).WithPeer(peer).
		WithOperation(operation).
		WithOutcome(OutcomeDenied)
	l.LogEvent(event)
}
