// Package relay owns the single process-wide subscription to the order
// change stream and fans classified events out to every connected staff
// session. One upstream subscription serves N downstream sessions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/models"
)

// Session is one connected client reconciliation layer. Deliver must not
// block; Resync instructs the session to discard its cache and refetch.
type Session interface {
	ID() string
	Deliver(ev models.ChangeEvent)
	Resync()
}

// Stream is the upstream change-stream subscription.
type Stream interface {
	Read(ctx context.Context) (models.ChangeEnvelope, error)
	Reconnect() error
}

type Relay struct {
	Stream Stream
	Logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]Session

	// lastChange deduplicates redelivered envelopes per order. The stream
	// is at-least-once; a replayed envelope must not be fanned out twice.
	lastChange map[string]string

	reconnectDelay time.Duration
}

func NewRelay(stream Stream, log *logger.Logger) *Relay {
	return &Relay{
		Stream:         stream,
		Logger:         log,
		sessions:       make(map[string]Session),
		lastChange:     make(map[string]string),
		reconnectDelay: 2 * time.Second,
	}
}

func (r *Relay) Register(sess Session) {
	r.mu.Lock()
	r.sessions[sess.ID()] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	r.Logger.LogRelay("REGISTER", fmt.Sprintf("session %s connected (%d active)", sess.ID(), count))
}

func (r *Relay) Unregister(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	r.Logger.LogRelay("UNREGISTER", fmt.Sprintf("session %s disconnected (%d active)", sessionID, count))
}

// Classify decodes a raw envelope into a tagged event exactly once, at the
// relay boundary. DELETE is not a supported operation for orders.
func Classify(env models.ChangeEnvelope) (models.ChangeEvent, error) {
	switch env.Op {
	case models.OpInsert:
		return models.ChangeEvent{
			Kind:      models.OrderInserted,
			Order:     env.Order,
			NewStatus: env.Order.Status,
		}, nil
	case models.OpUpdate:
		kind := models.OrderStatusChanged
		if env.OldStatus == env.Order.Status {
			// Some other field changed (e.g. estimated time). Still
			// forwarded, but tagged so clients do not re-announce a
			// transition that did not occur.
			kind = models.OrderFieldChanged
		}
		return models.ChangeEvent{
			Kind:      kind,
			Order:     env.Order,
			OldStatus: env.OldStatus,
			NewStatus: env.Order.Status,
		}, nil
	default:
		return models.ChangeEvent{}, fmt.Errorf("unsupported change op %q", env.Op)
	}
}

// HandleEnvelope deduplicates, classifies and fans out one raw envelope.
func (r *Relay) HandleEnvelope(env models.ChangeEnvelope) {
	if env.ChangeID != "" {
		r.mu.Lock()
		if r.lastChange[env.Order.OrderID] == env.ChangeID {
			r.mu.Unlock()
			r.Logger.LogRelay("DEDUP", fmt.Sprintf("dropped redelivered change %s for order %s", env.ChangeID, env.Order.OrderID))
			return
		}
		if env.Order.Status.IsTerminal() {
			// The final change an order emits; its entry would otherwise
			// live for the life of the process. A redelivery of this last
			// envelope reaches the sessions, whose announcement state
			// absorbs it.
			delete(r.lastChange, env.Order.OrderID)
		} else {
			r.lastChange[env.Order.OrderID] = env.ChangeID
		}
		r.mu.Unlock()
	}

	ev, err := Classify(env)
	if err != nil {
		r.Logger.Error("RELAY", fmt.Sprintf("classification failed: %v", err))
		return
	}

	r.mu.RLock()
	targets := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		sess.Deliver(ev)
	}
}

// Run consumes the change stream until ctx is cancelled. When the stream
// drops, the relay re-subscribes and instructs every session to perform a
// full resynchronization; it never fabricates missed events.
func (r *Relay) Run(ctx context.Context) {
	r.Logger.LogRelay("START", "consuming order change stream")

	for {
		env, err := r.Stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.Logger.LogRelay("STOP", "context cancelled")
				return
			}
			if errors.Is(err, lifecycle.ErrStreamDisconnected) {
				r.Logger.Error("RELAY", fmt.Sprintf("stream disconnected: %v", err))
				r.recover(ctx)
				continue
			}
			// Malformed payload; skip it.
			r.Logger.Warn("RELAY", fmt.Sprintf("dropping unreadable change: %v", err))
			continue
		}

		r.HandleEnvelope(env)
	}
}

// recover re-subscribes with backoff and then broadcasts a mandatory full
// resync, since events may have been lost during the outage.
func (r *Relay) recover(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnectDelay):
		}

		if err := r.Stream.Reconnect(); err != nil {
			r.Logger.Error("RELAY", fmt.Sprintf("reconnect failed, retrying: %v", err))
			continue
		}
		break
	}

	r.mu.Lock()
	// Dedup state is meaningless across a gap in the stream.
	r.lastChange = make(map[string]string)
	targets := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		targets = append(targets, sess)
	}
	r.mu.Unlock()

	r.Logger.LogRelay("RESYNC", fmt.Sprintf("stream re-subscribed, instructing %d sessions to refetch", len(targets)))

	for _, sess := range targets {
		sess.Resync()
	}
}
