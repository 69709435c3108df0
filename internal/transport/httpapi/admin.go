package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRequest struct {
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active *bool           `json:"active"`
}

type stockRequest struct {
	OnHand int32 `json:"on_hand"`
}

type fulfillmentRequest struct {
	Status string `json:"status"`
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	product := domain.Product{
		ID:     chi.URLParam(r, "productID"),
		Name:   req.Name,
		Price:  req.Price,
		Active: active,
	}
	if err := h.deps.Inventory.UpsertProduct(r.Context(), product); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.deps.Inventory.SetOnHand(r.Context(), productID, req.OnHand); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.getStock(w, r)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	level, err := h.deps.Inventory.Level(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		ProductID: level.ProductID,
		OnHand:    level.OnHand,
		Reserved:  level.Reserved,
		Available: level.Available(),
	})
}

func (h *Handler) advanceFulfillment(w http.ResponseWriter, r *http.Request) {
	var req fulfillmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	next := domain.OrderStatus(req.Status)
	if !next.Valid() {
		h.writeError(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, req.Status))
		return
	}
	updated, err := h.deps.Orders.AdvanceFulfillment(r.Context(), chi.URLParam(r, "orderID"), next)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(updated))
}
