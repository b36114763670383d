package models

// OrderStatus is the single mutable control field of an order. Transitions
// between statuses are restricted to the edges listed in statusGraph.
type OrderStatus string

const (
	StatusCreated          OrderStatus = "created"
	StatusSubmitted        OrderStatus = "submitted"
	StatusAccepted         OrderStatus = "accepted"
	StatusInProgress       OrderStatus = "in_progress"
	StatusReady            OrderStatus = "ready"
	StatusCompleted        OrderStatus = "completed"
	StatusCancelledByUser  OrderStatus = "cancelled_by_user"
	StatusCancelledByStore OrderStatus = "cancelled_by_store"
)

// statusGraph maps each status to the statuses reachable from it.
// Cancellation is reachable up to and including in_progress; once an order
// is ready it can only complete.
var statusGraph = map[OrderStatus][]OrderStatus{
	StatusCreated:          {StatusSubmitted, StatusCancelledByUser, StatusCancelledByStore},
	StatusSubmitted:        {StatusAccepted, StatusCancelledByUser, StatusCancelledByStore},
	StatusAccepted:         {StatusInProgress, StatusCancelledByUser, StatusCancelledByStore},
	StatusInProgress:       {StatusReady, StatusCancelledByUser, StatusCancelledByStore},
	StatusReady:            {StatusCompleted},
	StatusCompleted:        {},
	StatusCancelledByUser:  {},
	StatusCancelledByStore: {},
}

// IsValid reports whether s is a known order status.
func (s OrderStatus) IsValid() bool {
	_, ok := statusGraph[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s OrderStatus) IsTerminal() bool {
	next, ok := statusGraph[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether target is directly reachable from s.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range statusGraph[s] {
		if next == target {
			return true
		}
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}
