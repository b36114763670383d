package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"order-lifecycle/internal/auth"
	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/pickup"
	"order-lifecycle/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	OrderService *lifecycle.OrderService
	QR           *pickup.QRGenerator
	Logger       *logger.Logger
}

func NewHandler(orderService *lifecycle.OrderService, qr *pickup.QRGenerator, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		QR:           qr,
		Logger:       log,
	}
}

// SubmitOrder handles POST /api/v1/orders.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("SubmitOrder: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	actor := auth.ActorFromContext(r.Context())
	if actor.ID != "" {
		req.UserID = actor.ID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	order, err := h.OrderService.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, "SubmitOrder", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("order submitted", order))
}

// Transition handles POST /api/v1/orders/{orderId}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var body struct {
		Status  models.OrderStatus `json:"status"`
		Message string             `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	actor := auth.ActorFromContext(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Transition: orderId=%s target=%s actor=%s:%s", orderID, body.Status, actor.Type, actor.ID))

	order, err := h.OrderService.ApplyTransition(r.Context(), orderID, body.Status, actor, body.Message)
	if err != nil {
		h.writeError(w, "Transition", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("status updated", order))
}

// CancelOrder handles POST /api/v1/orders/{orderId}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var body struct {
		Reason string `json:"reason,omitempty"`
	}
	// Body is optional; the default cancellation reason applies.
	_ = json.NewDecoder(r.Body).Decode(&body)

	actor := auth.ActorFromContext(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CancelOrder: orderId=%s actor=%s:%s", orderID, actor.Type, actor.ID))

	order, err := h.OrderService.Cancel(r.Context(), orderID, actor, body.Reason)
	if err != nil {
		h.writeError(w, "CancelOrder", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order cancelled", order))
}

// UpdateEstimate handles PATCH /api/v1/orders/{orderId}/estimate.
func (h *Handler) UpdateEstimate(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var body struct {
		Minutes int `json:"estimated_preparation_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	order, err := h.OrderService.UpdateEstimatedTime(r.Context(), orderID, body.Minutes)
	if err != nil {
		h.writeError(w, "UpdateEstimate", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("estimate updated", order))
}

// GetOrder handles GET /api/v1/orders/{orderId}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.OrderService.GetOrderWithItems(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order", order))
}

// GetHistory handles GET /api/v1/orders/{orderId}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	events, err := h.OrderService.History(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "GetHistory", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("status history", events))
}

// ListOrders handles GET /api/v1/orders?filter=unfinished|completed_today.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")

	var (
		orders []models.Order
		err    error
	)
	switch filter {
	case "", "unfinished":
		orders, err = h.OrderService.ListUnfinished(r.Context())
	case "completed_today":
		orders, err = h.OrderService.ListCompletedToday(r.Context())
	default:
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("unknown filter", filter))
		return
	}
	if err != nil {
		h.writeError(w, "ListOrders", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("orders", orders))
}

// GetPickupQR handles GET /api/v1/orders/{orderId}/pickup-qr.
func (h *Handler) GetPickupQR(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "GetPickupQR", err)
		return
	}
	if order.PickupCode == "" {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("no pickup code", "order has no pickup code yet"))
		return
	}

	png, err := h.QR.GeneratePickupQR(order.OrderID, order.PickupCode)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetPickupQR: QR generation failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("QR generation failed", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// writeError maps the lifecycle error taxonomy onto HTTP statuses.
// Validation errors surface verbatim; concurrency conflicts return 409 so
// the caller refetches and retries.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))

	switch {
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("order not found", err.Error()))
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("invalid transition", err.Error()))
	case errors.Is(err, lifecycle.ErrOrderTerminal):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("order is terminal", err.Error()))
	case errors.Is(err, lifecycle.ErrStaleTransition):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("stale transition", err.Error()))
	case errors.Is(err, lifecycle.ErrSessionExpired):
		w.Header().Set("X-Session-State", "expired")
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("session expired", err.Error()))
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("store unavailable", "try again shortly"))
	default:
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("request failed", err.Error()))
	}
}
