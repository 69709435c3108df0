package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type quantityRequest struct {
	Quantity int32 `json:"quantity"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Carts.Get(r.Context(), userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(view))
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.deps.Carts.AddItem(r.Context(), userFrom(r), req.ProductID, req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.getCart(w, r)
}

func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.deps.Carts.SetQuantity(r.Context(), userFrom(r), chi.URLParam(r, "productID"), req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.getCart(w, r)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Carts.RemoveItem(r.Context(), userFrom(r), chi.URLParam(r, "productID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Carts.Clear(r.Context(), userFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
