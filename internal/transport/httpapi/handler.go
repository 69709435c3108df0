package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerAdminToken     = "X-Admin-Token"
	// DefaultSignatureHeader — заголовок с подписью вебхука по умолчанию.
	DefaultSignatureHeader = "X-Signature"

	maxBodyBytes    = 1 << 20
	defaultListSize = 50
)

// Orders — операции жизненного цикла заказа.
type Orders interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (domain.Order, error)
	Get(ctx context.Context, orderID, userID string) (domain.Order, error)
	List(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	Timeline(ctx context.Context, orderID, userID string) ([]domain.TimelineEvent, error)
	RequestAuthorization(ctx context.Context, orderID, userID string) (domain.Order, error)
	ConfirmAuthorization(ctx context.Context, orderID, userID string) (domain.Order, error)
	AdvanceFulfillment(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error)
}

// Carts — операции с корзиной.
type Carts interface {
	AddItem(ctx context.Context, userID, productID string, qty int32) error
	SetQuantity(ctx context.Context, userID, productID string, qty int32) error
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (cart.View, error)
}

// Canceller отменяет заказ по запросу пользователя.
type Canceller interface {
	Cancel(ctx context.Context, orderID, userID string) (domain.Order, error)
}

// Inventory — административные операции со складом.
type Inventory interface {
	UpsertProduct(ctx context.Context, product domain.Product) error
	SetOnHand(ctx context.Context, productID string, onHand int32) error
	Level(ctx context.Context, productID string) (domain.StockLevel, error)
}

// Webhooks принимает доставки вебхуков провайдера.
type Webhooks interface {
	Handle(ctx context.Context, payload []byte, signature string) (webhook.Ack, error)
}

// Deps — зависимости HTTP-слоя.
type Deps struct {
	Orders    Orders
	Carts     Carts
	Canceller Canceller
	Inventory Inventory
	Webhooks  Webhooks
	// SignatureHeader — имя заголовка с подписью вебхука.
	SignatureHeader string
	// AdminToken включает /admin маршруты. Пустое значение их отключает.
	AdminToken string
	Logger     *log.Entry
}

// Handler — HTTP API чекаута.
type Handler struct {
	deps   Deps
	logger *log.Entry
	tracer trace.Tracer
}

// NewHandler создаёт HTTP API.
func NewHandler(deps Deps) *Handler {
	if deps.SignatureHeader == "" {
		deps.SignatureHeader = DefaultSignatureHeader
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		deps:   deps,
		logger: logger,
		tracer: otel.Tracer("github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"),
	}
}

// Routes собирает chi-роутер.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/payments", h.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/cart", h.getCart)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/items", h.addCartItem)
		r.Put("/cart/items/{productID}", h.setCartItem)
		r.Delete("/cart/items/{productID}", h.removeCartItem)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Get("/orders/{orderID}/timeline", h.getTimeline)
		r.Post("/orders/{orderID}/payment", h.requestPayment)
		r.Post("/orders/{orderID}/payment/confirm", h.confirmPayment)
		r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	})

	if h.deps.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Put("/products/{productID}", h.upsertProduct)
			r.Put("/products/{productID}/stock", h.setStock)
			r.Get("/products/{productID}/stock", h.getStock)
			r.Post("/orders/{orderID}/fulfillment", h.advanceFulfillment)
		})
	}

	return r
}

type userKey struct{}

// requireUser берёт идентификатор пользователя из X-User-ID.
// Выпуск и проверка токенов выполняются перед сервисом.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			writeErrorBody(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userKey{}).(string)
	return userID
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !constantTimeEqual(r.Header.Get(headerAdminToken), h.deps.AdminToken) {
			writeErrorBody(w, http.StatusForbidden, "forbidden", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}
