package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"order-lifecycle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.OrderItemModifier)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	return &DB{Bun: bunDB}
}

func seedOrder(t *testing.T, d *DB, order models.Order, items ...models.OrderItem) {
	t.Helper()
	require.NoError(t, d.CreateOrder(context.Background(), order, items))
}

func TestCreateAndGetOrder(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	order := models.Order{
		OrderID:   "o1",
		UserID:    "cust-7",
		Mode:      models.ModeTakeout,
		Status:    models.StatusCreated,
		Subtotal:  18.00,
		Tax:       1.62,
		Total:     19.62,
		CreatedAt: time.Now(),
	}
	items := []models.OrderItem{
		{
			ItemID:    "i1",
			Name:      "Brisket Plate",
			UnitPrice: 18.00,
			Quantity:  1,
			Modifiers: []models.OrderItemModifier{
				{ModifierID: "m1", Name: "Extra pickles", Price: 0},
			},
		},
	}
	seedOrder(t, d, order, items...)

	got, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status)
	assert.Equal(t, 19.62, got.Total)

	fetched, err := d.GetItemsByOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "Brisket Plate", fetched[0].Name)
	require.Len(t, fetched[0].Modifiers, 1)
	assert.Equal(t, "Extra pickles", fetched[0].Modifiers[0].Name)
}

func TestGetOrderByIDNotFound(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetOrderByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetOrderByIdempotencyKey(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	seedOrder(t, d, models.Order{
		OrderID:        "o1",
		UserID:         "cust-7",
		Mode:           models.ModeDineIn,
		Status:         models.StatusSubmitted,
		IdempotencyKey: "key-1",
		CreatedAt:      time.Now(),
	})

	got, err := d.GetOrderByIdempotencyKey(ctx, "cust-7", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.OrderID)

	// Keys are scoped per user.
	_, err = d.GetOrderByIdempotencyKey(ctx, "cust-8", "key-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateOrderStatusCAS(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	seedOrder(t, d, models.Order{
		OrderID:   "o1",
		UserID:    "cust-7",
		Mode:      models.ModeTakeout,
		Status:    models.StatusSubmitted,
		CreatedAt: time.Now(),
	})

	order, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)

	now := time.Now()
	order.Status = models.StatusAccepted
	order.AcceptedAt = now
	order.PickupCode = "AB12CD34"

	rows, err := d.UpdateOrderStatusCAS(ctx, order, models.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.Equal(t, "AB12CD34", got.PickupCode)
	assert.False(t, got.AcceptedAt.IsZero())
}

func TestUpdateOrderStatusCASLosesRace(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	seedOrder(t, d, models.Order{
		OrderID:   "o1",
		UserID:    "cust-7",
		Mode:      models.ModeDineIn,
		Status:    models.StatusSubmitted,
		CreatedAt: time.Now(),
	})

	// First writer cancels the order.
	first, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	first.Status = models.StatusCancelledByUser
	rows, err := d.UpdateOrderStatusCAS(ctx, first, models.StatusSubmitted)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	// Second writer still believes the order is submitted; its write must
	// not land.
	stale, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	stale.Status = models.StatusAccepted
	rows, err = d.UpdateOrderStatusCAS(ctx, stale, models.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	got, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelledByUser, got.Status)
}

func TestUpdateEstimate(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	seedOrder(t, d, models.Order{
		OrderID:   "o1",
		UserID:    "cust-7",
		Mode:      models.ModeDelivery,
		Status:    models.StatusAccepted,
		CreatedAt: time.Now(),
	})

	arrival := time.Now().Add(25 * time.Minute)
	rows, err := d.UpdateEstimate(ctx, "o1", 25, arrival)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, err := d.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 25, got.EstimatedPreparationMinutes)
}

func TestUpdateEstimateSkipsTerminalOrders(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	for _, tc := range []struct {
		id     string
		status models.OrderStatus
	}{
		{"done", models.StatusCompleted},
		{"cx-user", models.StatusCancelledByUser},
		{"cx-store", models.StatusCancelledByStore},
	} {
		seedOrder(t, d, models.Order{
			OrderID:   tc.id,
			UserID:    "cust-7",
			Mode:      models.ModeTakeout,
			Status:    tc.status,
			CreatedAt: time.Now(),
		})

		rows, err := d.UpdateEstimate(ctx, tc.id, 10, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(0), rows, "terminal order %s must not accept an estimate", tc.id)
	}
}

func TestListUnfinished(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	seedOrder(t, d, models.Order{OrderID: "newer", UserID: "u", Mode: models.ModeDineIn, Status: models.StatusInProgress, CreatedAt: base.Add(time.Hour)})
	seedOrder(t, d, models.Order{OrderID: "older", UserID: "u", Mode: models.ModeDineIn, Status: models.StatusSubmitted, CreatedAt: base})
	seedOrder(t, d, models.Order{OrderID: "finished", UserID: "u", Mode: models.ModeDineIn, Status: models.StatusCompleted, CreatedAt: base})
	seedOrder(t, d, models.Order{OrderID: "cancelled", UserID: "u", Mode: models.ModeDineIn, Status: models.StatusCancelledByStore, CreatedAt: base})

	got, err := d.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].OrderID, "oldest first")
	assert.Equal(t, "newer", got[1].OrderID)
}

func TestListCompletedToday(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	seedOrder(t, d, models.Order{OrderID: "today", UserID: "u", Mode: models.ModeTakeout, Status: models.StatusCompleted, CompletedAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)})
	seedOrder(t, d, models.Order{OrderID: "yesterday", UserID: "u", Mode: models.ModeTakeout, Status: models.StatusCompleted, CompletedAt: now.Add(-24 * time.Hour), CreatedAt: now.Add(-25 * time.Hour)})
	seedOrder(t, d, models.Order{OrderID: "open", UserID: "u", Mode: models.ModeTakeout, Status: models.StatusReady, CreatedAt: now})

	got, err := d.ListCompletedToday(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "today", got[0].OrderID)
}
