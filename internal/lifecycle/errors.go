package lifecycle

import "errors"

// Error taxonomy for the order lifecycle.
//
// Validation errors (ErrInvalidTransition, ErrOrderTerminal) are never
// retried and surface verbatim to the initiating actor. Concurrency and
// transport errors (ErrStaleTransition, ErrStoreUnavailable,
// ErrStreamDisconnected) have a defined recovery action before ever
// reaching the user.
var (
	// ErrInvalidTransition: the requested target is unreachable from the
	// order's current status. The order and the event log are untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleTransition: an optimistic-concurrency conflict. The caller
	// must refetch the current status and either retry or treat the
	// request as already satisfied.
	ErrStaleTransition = errors.New("stale transition: order status changed concurrently")

	// ErrOrderTerminal: a mutation was attempted on an order in a terminal
	// status.
	ErrOrderTerminal = errors.New("order is in a terminal status")

	// ErrOrderNotFound: no order with the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStoreUnavailable: transient store I/O failure. Safe to retry with
	// backoff for idempotent operations only.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStreamDisconnected: the relay's upstream subscription dropped.
	// Triggers a mandatory full resynchronization on reconnect.
	ErrStreamDisconnected = errors.New("change stream disconnected")

	// ErrSessionExpired: the identity layer signalled session expiry. The
	// reconciliation layer suppresses redundant error notifications and
	// defers to the redirect flow.
	ErrSessionExpired = errors.New("session expired")
)
