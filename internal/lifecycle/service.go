package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/models"

	"github.com/google/uuid"
)

// Default cancellation reasons recorded as the event message when the
// caller supplies none.
const (
	DefaultStoreCancelReason = "Order cancelled by store"
	DefaultUserCancelReason  = "Order cancelled by customer"
)

type DBLayer interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error)
	CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) error
	UpdateOrderStatusCAS(ctx context.Context, order *models.Order, expected models.OrderStatus) (int64, error)
	UpdateEstimate(ctx context.Context, orderID string, minutes int, arrival time.Time) (int64, error)
	ListUnfinished(ctx context.Context) ([]models.Order, error)
	ListCompletedToday(ctx context.Context, now time.Time) ([]models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

type OrderLock interface {
	LockOrder(ctx context.Context, orderID, token string) (bool, error)
	UnlockOrder(ctx context.Context, orderID, token string) error
}

type ChangePublisher interface {
	PublishOrderInserted(ctx context.Context, order models.Order) error
	PublishOrderUpdated(ctx context.Context, order models.Order, oldStatus models.OrderStatus) error
}

type EventLog interface {
	Append(ctx context.Context, event models.OrderStatusEvent) error
	History(ctx context.Context, orderID string) ([]models.OrderStatusEvent, error)
}

// OrderService is the status transition engine. It is the sole writer of
// status events; nothing else appends to the log, so the log is a valid
// walk of the status graph by construction.
type OrderService struct {
	DB     DBLayer
	Lock   OrderLock
	Kafka  ChangePublisher
	Events EventLog
	Logger *logger.Logger

	now func() time.Time
}

func NewOrderService(db DBLayer, lock OrderLock, kafka ChangePublisher, events EventLog, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:     db,
		Lock:   lock,
		Kafka:  kafka,
		Events: events,
		Logger: log,
		now:    time.Now,
	}
}

// SubmitRequest carries everything needed to create and submit an order.
// The monetary fields are an immutable snapshot produced upstream; the
// engine stores them and never recomputes them.
type SubmitRequest struct {
	UserID         string             `json:"user_id"`
	Mode           models.OrderMode   `json:"mode"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Items          []models.OrderItem `json:"items"`
	Subtotal       float64            `json:"subtotal"`
	Tax            float64            `json:"tax"`
	Fees           float64            `json:"fees"`
	Tip            float64            `json:"tip"`
	Total          float64            `json:"total"`
}

// Submit creates an order and walks it to submitted. A retried submission
// carrying the same idempotency key returns the earlier order instead of
// creating a duplicate.
func (s *OrderService) Submit(ctx context.Context, req SubmitRequest) (*models.Order, error) {
	if req.Mode == models.ModeViewOnly {
		return nil, fmt.Errorf("%w: view_only orders cannot be submitted", ErrInvalidTransition)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.DB.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if existing != nil {
			s.Logger.LogOrder("SUBMIT", existing.OrderID, "duplicate submission deduplicated by idempotency key")
			return existing, nil
		}
	}

	now := s.now()
	order := models.Order{
		OrderID:        uuid.NewString(),
		UserID:         req.UserID,
		Mode:           req.Mode,
		Status:         models.StatusCreated,
		IdempotencyKey: req.IdempotencyKey,
		Subtotal:       req.Subtotal,
		Tax:            req.Tax,
		Fees:           req.Fees,
		Tip:            req.Tip,
		Total:          req.Total,
		CreatedAt:      now,
	}

	for i := range req.Items {
		if req.Items[i].ItemID == "" {
			req.Items[i].ItemID = uuid.NewString()
		}
		for j := range req.Items[i].Modifiers {
			if req.Items[i].Modifiers[j].ModifierID == "" {
				req.Items[i].Modifiers[j].ModifierID = uuid.NewString()
			}
		}
	}

	if err := s.DB.CreateOrder(ctx, order, req.Items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.appendEvent(ctx, order.OrderID, models.StatusCreated, models.Actor{Type: models.ActorUser, ID: req.UserID}, "", now); err != nil {
		return nil, err
	}

	if err := s.Kafka.PublishOrderInserted(ctx, order); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish order inserted failed: %v", err))
	}

	s.Logger.LogOrder("SUBMIT", order.OrderID, fmt.Sprintf("order created, mode=%s", order.Mode))

	return s.ApplyTransition(ctx, order.OrderID, models.StatusSubmitted, models.Actor{Type: models.ActorUser, ID: req.UserID}, "")
}

// ApplyTransition moves an order to target if the status graph allows it
// from the order's current status.
//
// Re-requesting the status the order already holds is a no-op success, so
// retried client requests are harmless. Two concurrent calls for different
// targets are serialized per order: the loser observes ErrStaleTransition
// and must reload.
func (s *OrderService) ApplyTransition(ctx context.Context, orderID string, target models.OrderStatus, actor models.Actor, message string) (*models.Order, error) {
	if !target.IsValid() || target == models.StatusCreated {
		return nil, fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, target)
	}

	token := uuid.NewString()
	locked, err := s.Lock.LockOrder(ctx, orderID, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !locked {
		// Another writer holds the order. Treat an already-applied target
		// as satisfied; anything else is a conflict the caller retries.
		order, loadErr := s.loadOrder(ctx, orderID)
		if loadErr != nil {
			return nil, loadErr
		}
		if order.Status == target {
			return order, nil
		}
		return nil, fmt.Errorf("%w: transition in flight for order %s", ErrStaleTransition, orderID)
	}
	defer func() {
		if err := s.Lock.UnlockOrder(ctx, orderID, token); err != nil {
			s.Logger.Warn("LOCK", fmt.Sprintf("unlock order %s failed: %v", orderID, err))
		}
	}()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Idempotent re-application, including of a terminal status.
	if order.Status == target {
		s.Logger.LogOrder("TRANSITION", orderID, fmt.Sprintf("already at %s, no-op", target))
		return order, nil
	}

	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderTerminal, orderID, order.Status)
	}

	if !order.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	now := s.now()
	oldStatus := order.Status
	order.Status = target

	// Timestamps are stamped exactly once and never cleared.
	switch target {
	case models.StatusSubmitted:
		if order.SubmittedAt.IsZero() {
			order.SubmittedAt = now
		}
	case models.StatusAccepted:
		if order.AcceptedAt.IsZero() {
			order.AcceptedAt = now
		}
		if order.PickupCode == "" && (order.Mode == models.ModeTakeout || order.Mode == models.ModeDelivery) {
			order.PickupCode = newPickupCode()
		}
	case models.StatusCompleted:
		if order.CompletedAt.IsZero() {
			order.CompletedAt = now
		}
	}

	rows, err := s.DB.UpdateOrderStatusCAS(ctx, order, oldStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rows == 0 {
		// Lost the race despite the lock (e.g. the lock TTL expired under a
		// stalled writer). Reload and decide.
		current, loadErr := s.loadOrder(ctx, orderID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.Status == target {
			return current, nil
		}
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, oldStatus, current.Status)
	}

	if err := s.appendEvent(ctx, orderID, target, actor, message, now); err != nil {
		return nil, err
	}

	if err := s.Kafka.PublishOrderUpdated(ctx, *order, oldStatus); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish order updated failed: %v", err))
	}

	s.Logger.LogOrder("TRANSITION", orderID, fmt.Sprintf("%s -> %s by %s:%s", oldStatus, target, actor.Type, actor.ID))

	return order, nil
}

// Cancel applies the cancellation target matching the actor and records a
// mandatory reason; a fixed sentinel is used when none is supplied.
func (s *OrderService) Cancel(ctx context.Context, orderID string, actor models.Actor, reason string) (*models.Order, error) {
	target := models.StatusCancelledByStore
	defaultReason := DefaultStoreCancelReason
	if actor.Type == models.ActorUser {
		target = models.StatusCancelledByUser
		defaultReason = DefaultUserCancelReason
	}
	if strings.TrimSpace(reason) == "" {
		reason = defaultReason
	}
	return s.ApplyTransition(ctx, orderID, target, actor, reason)
}

// UpdateEstimatedTime is a side-channel mutation: it changes no status and
// appends no status event. It is permitted in any non-terminal status.
func (s *OrderService) UpdateEstimatedTime(ctx context.Context, orderID string, minutes int) (*models.Order, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("estimated preparation minutes must be positive, got %d", minutes)
	}

	now := s.now()
	arrival := now.Add(time.Duration(minutes) * time.Minute)

	rows, err := s.DB.UpdateEstimate(ctx, orderID, minutes, arrival)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rows == 0 {
		order, loadErr := s.loadOrder(ctx, orderID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderTerminal, orderID, order.Status)
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Forwarded on the change stream with an unchanged status so clients
	// refresh their cache without announcing a transition.
	if err := s.Kafka.PublishOrderUpdated(ctx, *order, order.Status); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish estimate update failed: %v", err))
	}

	s.Logger.LogOrder("ESTIMATE", orderID, fmt.Sprintf("estimated preparation set to %d minutes", minutes))

	return order, nil
}

// History returns the append-only audit trail for an order.
func (s *OrderService) History(ctx context.Context, orderID string) ([]models.OrderStatusEvent, error) {
	events, err := s.Events.History(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return events, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.loadOrder(ctx, orderID)
}

func (s *OrderService) GetOrderWithItems(ctx context.Context, orderID string) (*models.OrderWithItems, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.DB.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &models.OrderWithItems{Order: *order, Items: items}, nil
}

// ListUnfinished returns the staff dashboard working set.
func (s *OrderService) ListUnfinished(ctx context.Context) ([]models.Order, error) {
	orders, err := s.DB.ListUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return orders, nil
}

// ListCompletedToday returns orders completed since local midnight.
func (s *OrderService) ListCompletedToday(ctx context.Context) ([]models.Order, error) {
	orders, err := s.DB.ListCompletedToday(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return orders, nil
}

func (s *OrderService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return order, nil
}

// appendEvent writes one audit row. A transient failure is retried once;
// the caller treats the returned error as store unavailability.
func (s *OrderService) appendEvent(ctx context.Context, orderID string, status models.OrderStatus, actor models.Actor, message string, at time.Time) error {
	event := models.OrderStatusEvent{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		Status:    status,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		Message:   message,
		CreatedAt: at,
	}

	err := s.Events.Append(ctx, event)
	if err != nil {
		s.Logger.Warn("EVENTLOG", fmt.Sprintf("append failed for order %s, retrying: %v", orderID, err))
		err = s.Events.Append(ctx, event)
	}
	if err != nil {
		return fmt.Errorf("%w: append status event: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// newPickupCode returns a short code rendered as a QR on the receipt.
func newPickupCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
