package db

import (
	"context"
	"time"

	"order-lifecycle/internal/models"

	"github.com/uptrace/bun"
)

// terminalStatuses guards conditional writes: a terminal order never
// changes again.
var terminalStatuses = []models.OrderStatus{
	models.StatusCompleted,
	models.StatusCancelledByUser,
	models.StatusCancelledByStore,
}

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// GetOrderByID → fetch one order by its ID
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey → find an earlier submission of the same
// logical order, scoped to the submitting user.
func (d *DB) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("user_id = ?", userID).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder → insert the order together with its item snapshot in one
// transaction. Items and modifiers are written once and never mutated.
func (d *DB) CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.OrderID
			if _, err := tx.NewInsert().Model(&items[i]).Exec(ctx); err != nil {
				return err
			}
			for j := range items[i].Modifiers {
				items[i].Modifiers[j].ItemID = items[i].ItemID
				if _, err := tx.NewInsert().Model(&items[i].Modifiers[j]).Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UpdateOrderStatusCAS → conditional status update. The write succeeds only
// if the row still holds expected; the returned count is 0 when another
// writer got there first.
func (d *DB) UpdateOrderStatusCAS(ctx context.Context, order *models.Order, expected models.OrderStatus) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model(order).
		Column("status", "submitted_at", "accepted_at", "completed_at", "pickup_code").
		Where("order_id = ?", order.OrderID).
		Where("status = ?", expected).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateEstimate → side-channel mutation of the preparation estimate. The
// condition excludes terminal orders so a completed or cancelled order can
// never change again.
func (d *DB) UpdateEstimate(ctx context.Context, orderID string, minutes int, arrival time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("estimated_preparation_minutes = ?", minutes).
		Set("estimated_arrival_at = ?", arrival).
		Where("order_id = ?", orderID).
		Where("status NOT IN (?)", bun.In(terminalStatuses)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------- FILTERED VIEWS ----------------

// ListUnfinished → all orders that have not reached a terminal status,
// oldest first. This is the staff dashboard's working set.
func (d *DB) ListUnfinished(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status NOT IN (?)", bun.In(terminalStatuses)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListCompletedToday → orders completed since local midnight, newest first.
func (d *DB) ListCompletedToday(ctx context.Context, now time.Time) ([]models.Order, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", models.StatusCompleted).
		Where("completed_at >= ?", startOfDay).
		Order("completed_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ---------------- ITEM SNAPSHOT ----------------

// GetItemsByOrder → fetch the immutable item snapshot for an order.
func (d *DB) GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Relation("Modifiers").
		Where("order_id = ?", orderID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}
