// Package eventlog is the append-only audit trail of status transitions.
// It does no validation of its own: the transition engine is the sole
// writer, so the log is consistent by construction.
package eventlog

import (
	"context"

	"order-lifecycle/internal/models"

	"github.com/uptrace/bun"
)

type Log struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *Log {
	return &Log{Bun: bunDB}
}

// Append writes one status event. It fails only on store unavailability;
// the caller retries.
func (l *Log) Append(ctx context.Context, event models.OrderStatusEvent) error {
	_, err := l.Bun.NewInsert().Model(&event).Exec(ctx)
	return err
}

// History returns the ordered sequence of events for an order, oldest
// first. Read in creation order it is a valid walk of the status graph.
func (l *Log) History(ctx context.Context, orderID string) ([]models.OrderStatusEvent, error) {
	var events []models.OrderStatusEvent
	err := l.Bun.NewSelect().
		Model(&events).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}
