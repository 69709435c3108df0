package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ProductID string `json:"product_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// statusFor сопоставляет доменную ошибку с HTTP-статусом и кодом.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, domain.ErrMalformedEvent), errors.Is(err, domain.ErrEventIDRequired):
		return http.StatusBadRequest, "malformed_event"
	case errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrAddressRequired),
		errors.Is(err, domain.ErrIdempotencyKeyRequired),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrAuthorizationMissing):
		return http.StatusConflict, "authorization_missing"
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, domain.ErrStockBelowReserved):
		return http.StatusConflict, "stock_below_reserved"
	case errors.Is(err, domain.ErrIdempotencyKeyConflict):
		return http.StatusUnprocessableEntity, "idempotency_key_conflict"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	detail := errorDetail{Code: code, Message: err.Error()}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		detail.ProductID = stockErr.ProductID
	}
	var transitionErr *domain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		detail.From = string(transitionErr.From)
		detail.To = string(transitionErr.To)
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("unhandled error")
		detail.Message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON читает тело запроса; неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
