// Package reconcile holds the per-session client state: a locally cached
// view of unfinished orders, merged with relay deliveries under a single
// reconciliation function.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/models"
)

// Fetcher supplies the authoritative order list for full refetches.
type Fetcher interface {
	ListUnfinished(ctx context.Context) ([]models.Order, error)
}

// Session is one connected staff client. All cache mutation happens inside
// reconcile() under the mutex; event handlers never touch the snapshot
// directly.
type Session struct {
	id      string
	fetcher Fetcher
	logger  *logger.Logger

	mu       sync.Mutex
	snapshot map[string]models.Order
	// synced is true only while the relay guarantees no events were
	// dropped since the last known-good state. Patching is allowed only
	// then; otherwise a full refetch is mandatory.
	synced bool
	// dirty records that a change arrived while a refetch's read was in
	// flight. The change may have committed after that read, so the
	// refetch must read again before trusting its snapshot.
	dirty bool
	// announced tracks the last status surfaced per order so each logical
	// change is announced exactly once, however many raw payloads carry it.
	// Rebuilt from the store's view on every full refetch, so entries for
	// finished orders do not accumulate.
	announced map[string]models.OrderStatus
	// expiredSeen suppresses repeat session-expiry notifications; the
	// redirect-to-login flow already communicates the failure.
	expiredSeen bool

	notifications chan models.Notification
	resyncSignal  chan struct{}
}

func NewSession(id string, fetcher Fetcher, log *logger.Logger) *Session {
	return &Session{
		id:            id,
		fetcher:       fetcher,
		logger:        log,
		snapshot:      make(map[string]models.Order),
		announced:     make(map[string]models.OrderStatus),
		notifications: make(chan models.Notification, 32),
		resyncSignal:  make(chan struct{}, 1),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Notifications is the stream of user-facing signals, at most one per
// logical change.
func (s *Session) Notifications() <-chan models.Notification {
	return s.notifications
}

// ResyncSignal fires when the session must perform a full refetch. The
// owning connection handler calls FullRefetch in response.
func (s *Session) ResyncSignal() <-chan struct{} {
	return s.resyncSignal
}

// Deliver merges one classified relay event into the cached view. Called
// from the relay; must not block.
func (s *Session) Deliver(ev models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		// A refetch is pending. Patching now could resurrect dropped
		// events, and the refetch's read may predate this change, so the
		// change is flagged and the refetch reads again.
		s.dirty = true
		return
	}

	s.reconcile(ev)
}

// Resync marks the cache stale and asks the owner to refetch. Called by
// the relay after a stream gap; incremental patches are not trusted until
// FullRefetch completes.
func (s *Session) Resync() {
	s.mu.Lock()
	s.synced = false
	s.mu.Unlock()

	select {
	case s.resyncSignal <- struct{}{}:
	default:
	}
}

// FullRefetch replaces the snapshot wholesale from the store and re-arms
// incremental patching. A change that lands while the read is in flight
// forces another read: its commit may not be visible to the read already
// underway, and it will not be redelivered. Each pass reads strictly
// after the delivery that dirtied the previous one, so the loop ends as
// soon as one read completes with no concurrent change.
// A session-expiry failure is surfaced at most once.
func (s *Session) FullRefetch(ctx context.Context) error {
	for {
		orders, err := s.fetcher.ListUnfinished(ctx)
		if err != nil {
			if errors.Is(err, lifecycle.ErrSessionExpired) {
				s.noteSessionExpired()
				return err
			}
			return err
		}

		s.mu.Lock()

		fresh := make(map[string]models.Order, len(orders))
		for _, order := range orders {
			fresh[order.OrderID] = order
		}
		s.snapshot = fresh

		// Announce what changed while the session was out of sync, once
		// per logical change, and drop announcement state for orders the
		// store no longer lists.
		announced := make(map[string]models.OrderStatus, len(fresh))
		for id, order := range fresh {
			last, seen := s.announced[id]
			switch {
			case !seen:
				s.announce(models.Notification{
					Type:     "order_received",
					OrderID:  id,
					ToStatus: order.Status,
				})
			case last != order.Status:
				s.announce(models.Notification{
					Type:       "status_changed",
					OrderID:    id,
					FromStatus: last,
					ToStatus:   order.Status,
				})
			}
			announced[id] = order.Status
		}
		s.announced = announced

		if s.dirty {
			s.dirty = false
			s.mu.Unlock()
			continue
		}

		s.synced = true
		s.mu.Unlock()

		s.logger.LogSession(s.id, fmt.Sprintf("full refetch complete, %d unfinished orders", len(fresh)))
		return nil
	}
}

// Snapshot returns a copy of the cached view.
func (s *Session) Snapshot() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]models.Order, 0, len(s.snapshot))
	for _, order := range s.snapshot {
		orders = append(orders, order)
	}
	return orders
}

// reconcile is the single function through which every cache mutation and
// notification decision flows. Caller holds the mutex.
func (s *Session) reconcile(ev models.ChangeEvent) {
	order := ev.Order

	if order.Status.IsTerminal() {
		delete(s.snapshot, order.OrderID)
	} else {
		s.snapshot[order.OrderID] = order
	}

	switch ev.Kind {
	case models.OrderInserted:
		if _, seen := s.announced[order.OrderID]; !seen {
			s.announce(models.Notification{
				Type:     "order_received",
				OrderID:  order.OrderID,
				ToStatus: order.Status,
			})
		}
		s.announced[order.OrderID] = order.Status

	case models.OrderStatusChanged:
		if s.announced[order.OrderID] != order.Status {
			s.announce(models.Notification{
				Type:       "status_changed",
				OrderID:    order.OrderID,
				FromStatus: ev.OldStatus,
				ToStatus:   order.Status,
			})
		}
		s.announced[order.OrderID] = order.Status

	case models.OrderFieldChanged:
		// Cache updated above; a non-status change announces nothing.
	}
}

func (s *Session) announce(n models.Notification) {
	select {
	case s.notifications <- n:
	default:
		// A slow consumer loses notifications rather than blocking the
		// relay; the next resync restores consistency.
		s.logger.Warn("SESSION", fmt.Sprintf("notification buffer full for session %s, dropping", s.id))
	}
}

func (s *Session) noteSessionExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expiredSeen {
		return
	}
	s.expiredSeen = true
	s.logger.LogSession(s.id, "session expired; deferring to redirect flow")
}
