package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusGraphEdges(t *testing.T) {
	// Happy path straight through the lifecycle.
	assert.True(t, StatusCreated.CanTransitionTo(StatusSubmitted))
	assert.True(t, StatusSubmitted.CanTransitionTo(StatusAccepted))
	assert.True(t, StatusAccepted.CanTransitionTo(StatusInProgress))
	assert.True(t, StatusInProgress.CanTransitionTo(StatusReady))
	assert.True(t, StatusReady.CanTransitionTo(StatusCompleted))

	// No skipping ahead.
	assert.False(t, StatusCreated.CanTransitionTo(StatusAccepted))
	assert.False(t, StatusSubmitted.CanTransitionTo(StatusReady))
	assert.False(t, StatusAccepted.CanTransitionTo(StatusCompleted))

	// No moving backwards.
	assert.False(t, StatusAccepted.CanTransitionTo(StatusSubmitted))
	assert.False(t, StatusReady.CanTransitionTo(StatusInProgress))
}

func TestCancellationReachability(t *testing.T) {
	cancellable := []OrderStatus{StatusCreated, StatusSubmitted, StatusAccepted, StatusInProgress}
	for _, s := range cancellable {
		assert.True(t, s.CanTransitionTo(StatusCancelledByUser), "expected %s -> cancelled_by_user", s)
		assert.True(t, s.CanTransitionTo(StatusCancelledByStore), "expected %s -> cancelled_by_store", s)
	}

	// Once the food is ready, cancellation is off the table.
	assert.False(t, StatusReady.CanTransitionTo(StatusCancelledByUser))
	assert.False(t, StatusReady.CanTransitionTo(StatusCancelledByStore))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusCancelledByStore))
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []OrderStatus{StatusCompleted, StatusCancelledByUser, StatusCancelledByStore}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}

	nonTerminal := []OrderStatus{StatusCreated, StatusSubmitted, StatusAccepted, StatusInProgress, StatusReady}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to be non-terminal", s)
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, StatusSubmitted.IsValid())
	assert.False(t, OrderStatus("burned").IsValid())
	assert.False(t, OrderStatus("").IsValid())
}
