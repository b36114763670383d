package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id string

	mu      sync.Mutex
	events  []models.ChangeEvent
	resyncs int
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Deliver(ev models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSession) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs++
}

func (s *fakeSession) delivered() []models.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChangeEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *fakeSession) resyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

// fakeStream replays a scripted sequence of envelopes and errors.
type fakeStream struct {
	mu         sync.Mutex
	script     []streamStep
	reconnects int
}

type streamStep struct {
	env models.ChangeEnvelope
	err error
}

func (f *fakeStream) Read(ctx context.Context) (models.ChangeEnvelope, error) {
	f.mu.Lock()
	if len(f.script) == 0 {
		f.mu.Unlock()
		// Script exhausted; block until the test cancels the context.
		<-ctx.Done()
		return models.ChangeEnvelope{}, ctx.Err()
	}
	step := f.script[0]
	f.script = f.script[1:]
	f.mu.Unlock()
	return step.env, step.err
}

func (f *fakeStream) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeStream) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func newTestRelay(stream Stream) *Relay {
	r := NewRelay(stream, logger.NewNopLogger())
	r.reconnectDelay = time.Millisecond
	return r
}

func TestClassifyInsert(t *testing.T) {
	ev, err := Classify(models.ChangeEnvelope{
		ChangeID: "c1",
		Op:       models.OpInsert,
		Order:    models.Order{OrderID: "o1", Status: models.StatusSubmitted},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderInserted, ev.Kind)
	assert.Equal(t, models.StatusSubmitted, ev.NewStatus)
}

func TestClassifyStatusChange(t *testing.T) {
	ev, err := Classify(models.ChangeEnvelope{
		Op:        models.OpUpdate,
		Order:     models.Order{OrderID: "o1", Status: models.StatusAccepted},
		OldStatus: models.StatusSubmitted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusChanged, ev.Kind)
	assert.Equal(t, models.StatusSubmitted, ev.OldStatus)
	assert.Equal(t, models.StatusAccepted, ev.NewStatus)
}

func TestClassifyFieldChange(t *testing.T) {
	// An estimate update arrives with an unchanged status; it must not be
	// tagged as a transition.
	ev, err := Classify(models.ChangeEnvelope{
		Op:        models.OpUpdate,
		Order:     models.Order{OrderID: "o1", Status: models.StatusAccepted, EstimatedPreparationMinutes: 20},
		OldStatus: models.StatusAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderFieldChanged, ev.Kind)
}

func TestClassifyUnknownOp(t *testing.T) {
	_, err := Classify(models.ChangeEnvelope{Op: models.ChangeOp("DELETE")})
	require.Error(t, err)
}

func TestHandleEnvelopeFansOutToAllSessions(t *testing.T) {
	r := newTestRelay(&fakeStream{})
	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	r.Register(a)
	r.Register(b)

	r.HandleEnvelope(models.ChangeEnvelope{
		ChangeID: "c1",
		Op:       models.OpInsert,
		Order:    models.Order{OrderID: "o1", Status: models.StatusSubmitted},
	})

	require.Len(t, a.delivered(), 1)
	require.Len(t, b.delivered(), 1)
	assert.Equal(t, models.OrderInserted, a.delivered()[0].Kind)
}

func TestHandleEnvelopeDropsRedelivery(t *testing.T) {
	r := newTestRelay(&fakeStream{})
	sess := &fakeSession{id: "a"}
	r.Register(sess)

	env := models.ChangeEnvelope{
		ChangeID:  "c1",
		Op:        models.OpUpdate,
		Order:     models.Order{OrderID: "o1", Status: models.StatusAccepted},
		OldStatus: models.StatusSubmitted,
	}
	r.HandleEnvelope(env)
	r.HandleEnvelope(env) // redelivered by the at-least-once stream

	assert.Len(t, sess.delivered(), 1)

	// A genuinely new change for the same order still goes through.
	r.HandleEnvelope(models.ChangeEnvelope{
		ChangeID:  "c2",
		Op:        models.OpUpdate,
		Order:     models.Order{OrderID: "o1", Status: models.StatusInProgress},
		OldStatus: models.StatusAccepted,
	})
	assert.Len(t, sess.delivered(), 2)
}

func TestHandleEnvelopeEvictsFinishedOrders(t *testing.T) {
	r := newTestRelay(&fakeStream{})
	sess := &fakeSession{id: "a"}
	r.Register(sess)

	r.HandleEnvelope(models.ChangeEnvelope{
		ChangeID:  "c1",
		Op:        models.OpUpdate,
		Order:     models.Order{OrderID: "o1", Status: models.StatusReady},
		OldStatus: models.StatusInProgress,
	})
	r.HandleEnvelope(models.ChangeEnvelope{
		ChangeID:  "c2",
		Op:        models.OpUpdate,
		Order:     models.Order{OrderID: "o1", Status: models.StatusCompleted},
		OldStatus: models.StatusReady,
	})

	require.Len(t, sess.delivered(), 2)

	// The finished order leaves the dedup map; open orders stay tracked.
	r.HandleEnvelope(models.ChangeEnvelope{
		ChangeID: "c3",
		Op:       models.OpInsert,
		Order:    models.Order{OrderID: "o2", Status: models.StatusSubmitted},
	})

	r.mu.RLock()
	_, finished := r.lastChange["o1"]
	_, open := r.lastChange["o2"]
	r.mu.RUnlock()
	assert.False(t, finished)
	assert.True(t, open)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r := newTestRelay(&fakeStream{})
	sess := &fakeSession{id: "a"}
	r.Register(sess)
	r.Unregister("a")

	r.HandleEnvelope(models.ChangeEnvelope{
		ChangeID: "c1",
		Op:       models.OpInsert,
		Order:    models.Order{OrderID: "o1", Status: models.StatusSubmitted},
	})

	assert.Empty(t, sess.delivered())
}

func TestRunRecoversFromDisconnect(t *testing.T) {
	stream := &fakeStream{script: []streamStep{
		{env: models.ChangeEnvelope{ChangeID: "c1", Op: models.OpInsert, Order: models.Order{OrderID: "o1", Status: models.StatusSubmitted}}},
		{err: lifecycle.ErrStreamDisconnected},
		{env: models.ChangeEnvelope{ChangeID: "c1", Op: models.OpInsert, Order: models.Order{OrderID: "o1", Status: models.StatusSubmitted}}},
	}}
	r := newTestRelay(stream)
	sess := &fakeSession{id: "a"}
	r.Register(sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sess.resyncCount() == 1 && len(sess.delivered()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, stream.reconnectCount())
	// The repeated ChangeID was delivered again because dedup state is
	// cleared across the gap; the session's resync handles reconciliation.

	cancel()
	<-done
}

func TestRunSkipsUnreadableEnvelope(t *testing.T) {
	stream := &fakeStream{script: []streamStep{
		{err: assert.AnError},
		{env: models.ChangeEnvelope{ChangeID: "c1", Op: models.OpInsert, Order: models.Order{OrderID: "o1", Status: models.StatusSubmitted}}},
	}}
	r := newTestRelay(stream)
	sess := &fakeSession{id: "a"}
	r.Register(sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(sess.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sess.resyncCount(), "a malformed payload is not a disconnect")

	cancel()
	<-done
}
