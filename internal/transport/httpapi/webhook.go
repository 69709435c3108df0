package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// handleWebhook принимает доставку от провайдера. 2xx означает, что событие учтено
// (применено, проигнорировано или уже было); на 5xx провайдер повторит доставку.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorBody(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
		return
	}

	ack, err := h.deps.Webhooks.Handle(r.Context(), payload, r.Header.Get(h.deps.SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Handle ещё не привязан к заказу: отвечаем ошибкой, чтобы провайдер доставил событие позже.
			writeErrorBody(w, http.StatusServiceUnavailable, "order_not_ready", err.Error())
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		EventID: ack.EventID,
		OrderID: ack.OrderID,
		Status:  string(ack.Status),
		Result:  string(ack.Result),
	})
}
