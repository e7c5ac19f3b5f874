// Package locks implements a named resource-lock coordinator.
//
// A LockManager grants exclusive or shared locks on logical resources
// identified by name to concurrent requesters that share nothing but the
// manager itself. Requests are queued in submission order and granted by a
// single grant pass that runs after every mutation:
//
//   - An exclusive request is grantable when no lock on the name is held and
//     no request queued ahead of it names the same resource.
//   - A shared request is grantable when no exclusive lock on the name is
//     held and no exclusive request for the name is queued ahead of it.
//
// Two side entrances bypass the queue. IfAvailable requests are probed as if
// appended to the queue and rejected with NotAvailable instead of waiting.
// Steal requests eject every held lock on the name (all shared holders
// included), jump to the front of the queue and are granted immediately.
// Stealing only updates bookkeeping; the previous holder is not stopped and
// learns about the ejection through Handle.Done.
//
// Outcomes are never returned directly. Every request is resolved exactly
// once through its Notifier, and notifications are delivered after the
// manager's mutex is released, so a callback may call back into the manager
// (for example to release the lock it was just granted).
//
// # Logging Verbosity Convention
//
//   - V(0): Warnings about misuse (double submission, late dispatch)
//   - V(2): Steals, cancellations, shutdown
//   - V(4): Individual grants, releases and no-op paths
//
// V(3) is avoided in favor of V(2) (if actionable) or V(4) (if diagnostic).
package locks
