package models

import (
	"time"

	"github.com/uptrace/bun"
)

// OrderMode is fixed at creation and never changes afterwards.
type OrderMode string

const (
	ModeDineIn   OrderMode = "dine_in"
	ModeTakeout  OrderMode = "takeout"
	ModeDelivery OrderMode = "delivery"
	ModeViewOnly OrderMode = "view_only"
)

// ActorType identifies who performed a status transition.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorStaff  ActorType = "staff"
	ActorUser   ActorType = "user"
)

// Actor is the authenticated identity attached to a transition request.
// ID is empty for system actors.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID        string      `bun:"order_id,pk" json:"order_id"`
	UserID         string      `bun:"user_id,notnull" json:"user_id"`
	Mode           OrderMode   `bun:"mode,notnull" json:"mode"`
	Status         OrderStatus `bun:"status,notnull" json:"status"`
	IdempotencyKey string      `bun:"idempotency_key,nullzero" json:"idempotency_key,omitempty"`

	// Monetary snapshot, fixed once submitted. The lifecycle engine never
	// recomputes these.
	Subtotal float64 `bun:"subtotal" json:"subtotal"`
	Tax      float64 `bun:"tax" json:"tax"`
	Fees     float64 `bun:"fees" json:"fees"`
	Tip      float64 `bun:"tip" json:"tip"`
	Total    float64 `bun:"total" json:"total"`

	SubmittedAt time.Time `bun:"submitted_at,nullzero" json:"submitted_at,omitempty"`
	AcceptedAt  time.Time `bun:"accepted_at,nullzero" json:"accepted_at,omitempty"`
	CompletedAt time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`

	EstimatedPreparationMinutes int       `bun:"estimated_preparation_minutes,nullzero" json:"estimated_preparation_minutes,omitempty"`
	EstimatedArrivalAt          time.Time `bun:"estimated_arrival_at,nullzero" json:"estimated_arrival_at,omitempty"`

	// PickupCode is assigned when a takeout or delivery order is accepted
	// and is rendered as a QR code on the customer receipt.
	PickupCode string `bun:"pickup_code,nullzero" json:"pickup_code,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// OrderItem is an immutable snapshot of a menu item as selected at order
// time. Later menu edits never change a historical order.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ItemID    string  `bun:"item_id,pk" json:"item_id"`
	OrderID   string  `bun:"order_id,notnull" json:"order_id"`
	Name      string  `bun:"name,notnull" json:"name"`
	UnitPrice float64 `bun:"unit_price,notnull" json:"unit_price"`
	Quantity  int     `bun:"quantity,notnull" json:"quantity"`

	Modifiers []OrderItemModifier `bun:"rel:has-many,join:item_id=item_id" json:"modifiers,omitempty"`
}

type OrderItemModifier struct {
	bun.BaseModel `bun:"table:order_item_modifiers"`

	ModifierID string  `bun:"modifier_id,pk" json:"modifier_id"`
	ItemID     string  `bun:"item_id,notnull" json:"item_id"`
	Name       string  `bun:"name,notnull" json:"name"`
	Price      float64 `bun:"price,notnull" json:"price"`
}

// OrderStatusEvent is one append-only row of the audit trail. The sequence
// of events for an order, ordered by created_at, is always a valid walk of
// the status graph because the transition engine is the only writer.
type OrderStatusEvent struct {
	bun.BaseModel `bun:"table:order_status_events"`

	EventID   string      `bun:"event_id,pk" json:"event_id"`
	OrderID   string      `bun:"order_id,notnull" json:"order_id"`
	Status    OrderStatus `bun:"status,notnull" json:"status"`
	ActorType ActorType   `bun:"actor_type,notnull" json:"actor_type"`
	ActorID   string      `bun:"actor_id,nullzero" json:"actor_id,omitempty"`
	Message   string      `bun:"message,nullzero" json:"message,omitempty"`
	CreatedAt time.Time   `bun:"created_at,notnull" json:"created_at"`
}

// OrderWithItems bundles an order with its item snapshot for API responses.
type OrderWithItems struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}
