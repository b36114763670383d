package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"order-lifecycle/internal/auth"
	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/reconcile"
	"order-lifecycle/internal/relay"

	"github.com/google/uuid"
)

// SSEHandler streams reconciled order notifications to connected staff
// sessions. Each connection gets its own reconciliation session which is
// registered with the process-wide relay for the lifetime of the request.
type SSEHandler struct {
	Relay        *relay.Relay
	OrderService *lifecycle.OrderService
	Logger       *logger.Logger
}

func NewSSEHandler(r *relay.Relay, orderService *lifecycle.OrderService, log *logger.Logger) *SSEHandler {
	return &SSEHandler{
		Relay:        r,
		OrderService: orderService,
		Logger:       log,
	}
}

// HandleStream handles GET /api/v1/stream.
func (h *SSEHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	actor := auth.ActorFromContext(r.Context())
	sessionID := uuid.NewString()

	h.setupSSEHeaders(w)

	ctx := r.Context()
	session := reconcile.NewSession(sessionID, h.OrderService, h.Logger)

	h.Relay.Register(session)
	defer h.Relay.Unregister(sessionID)

	// Initial state: a full fetch before any patching.
	if err := session.FullRefetch(ctx); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("initial refetch failed for session %s: %v", sessionID, err))
		http.Error(w, "failed to load orders", http.StatusServiceUnavailable)
		return
	}

	fmt.Fprintf(w, "event: connected\ndata: {\"session_id\":\"%s\"}\n\n", sessionID)
	h.writeSnapshot(w, session)
	flusher.Flush()

	h.Logger.LogSession(sessionID, fmt.Sprintf("staff client connected (actor=%s:%s)", actor.Type, actor.ID))

	for {
		select {
		case n := <-session.Notifications():
			data, err := json.Marshal(n)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("failed to serialize notification: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
			flusher.Flush()

		case <-session.ResyncSignal():
			// The relay lost stream continuity: refetch, then hand the
			// client the replaced snapshot instead of patches.
			if err := session.FullRefetch(ctx); err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("resync refetch failed for session %s: %v", sessionID, err))
				continue
			}
			h.writeSnapshot(w, session)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.LogSession(sessionID, "staff client disconnected")
			return
		}
	}
}

func (h *SSEHandler) writeSnapshot(w http.ResponseWriter, session *reconcile.Session) {
	data, err := json.Marshal(session.Snapshot())
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("failed to serialize snapshot: %v", err))
		return
	}
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
