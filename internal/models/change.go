package models

// ChangeOp is the raw operation reported by the store change stream.
// DELETE is not a supported operation for orders; orders reach a terminal
// status instead of being erased.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
)

// ChangeEnvelope is the wire payload carried on the order change stream.
// For UPDATE it holds both the previous and the new status so the relay
// can classify the change without re-reading the store.
type ChangeEnvelope struct {
	ChangeID  string      `json:"change_id"`
	Op        ChangeOp    `json:"op"`
	Order     Order       `json:"order"`
	OldStatus OrderStatus `json:"old_status,omitempty"`
}

// ChangeKind tags a classified change event. Downstream code switches on
// the kind and never re-inspects raw payload shape.
type ChangeKind string

const (
	// OrderInserted: a new order appeared.
	OrderInserted ChangeKind = "order_inserted"
	// OrderStatusChanged: the status field moved to a new value.
	OrderStatusChanged ChangeKind = "order_status_changed"
	// OrderFieldChanged: a non-status field changed (e.g. estimated time);
	// clients update their cache but announce no transition.
	OrderFieldChanged ChangeKind = "order_field_changed"
)

// ChangeEvent is the classified form delivered to client sessions.
type ChangeEvent struct {
	Kind      ChangeKind  `json:"kind"`
	Order     Order       `json:"order"`
	OldStatus OrderStatus `json:"old_status,omitempty"`
	NewStatus OrderStatus `json:"new_status"`
}

// Notification is the user-facing signal a session surfaces, at most once
// per logical change.
type Notification struct {
	Type       string      `json:"type"` // "order_received" or "status_changed"
	OrderID    string      `json:"order_id"`
	FromStatus OrderStatus `json:"from_status,omitempty"`
	ToStatus   OrderStatus `json:"to_status"`
	Message    string      `json:"message,omitempty"`
}
