package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/checkout/internal/service/order"
)

type createOrderRequest struct {
	ShippingAddress string `json:"shipping_address"`
	BillingAddress  string `json:"billing_address"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "POST /orders")
	defer span.End()

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.deps.Orders.CreateOrder(ctx, order.CreateOrderRequest{
		UserID:          userFrom(r),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		IdempotencyKey:  r.Header.Get(headerIdempotencyKey),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("order_id", created.ID))

	w.Header().Set("Location", "/orders/"+created.ID)
	writeJSON(w, http.StatusCreated, toOrder(created))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultListSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorBody(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	orders, err := h.deps.Orders.List(r.Context(), userFrom(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrder(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	found, err := h.deps.Orders.Get(r.Context(), chi.URLParam(r, "orderID"), userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(found))
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.deps.Orders.Timeline(r.Context(), chi.URLParam(r, "orderID"), userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]timelineResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineResponse{Type: e.Type, Reason: e.Reason, OccurredAt: e.Occurred})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requestPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "POST /orders/{orderID}/payment")
	defer span.End()

	updated, err := h.deps.Orders.RequestAuthorization(ctx, chi.URLParam(r, "orderID"), userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := paymentResponse{Order: toOrder(updated)}
	if updated.HasAuthorization() {
		resp.ClientSecret = updated.Authorization.ClientSecret
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	updated, err := h.deps.Orders.ConfirmAuthorization(r.Context(), chi.URLParam(r, "orderID"), userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(updated))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.deps.Canceller.Cancel(r.Context(), chi.URLParam(r, "orderID"), userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(cancelled))
}
