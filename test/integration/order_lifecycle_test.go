package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cancellation"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
)

const (
	webhookSecret = "whsec_integration"
	adminToken    = "admin-integration"
)

// OrderLifecycleTestSuite гоняет жизненный цикл заказа через HTTP API
// поверх in-memory хранилища и фейкового шлюза.
type OrderLifecycleTestSuite struct {
	suite.Suite

	ctx          context.Context
	store        *memory.Store
	gateway      *payment.FakeGateway
	cancelWorker *cancellation.Worker
	server       *httptest.Server
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.gateway = payment.NewFakeGateway()

	pricing := domain.DefaultPricingPolicy()
	orders := order.NewService(s.store, s.gateway, order.Options{Pricing: pricing, Currency: "usd", Logger: logger})
	s.cancelWorker = cancellation.NewWorker(s.store.Cancellations(), s.gateway, cancellation.WithWorkerLogger(logger))
	canceller := cancellation.NewService(s.store, orders,
		cancellation.WithLogger(logger),
		cancellation.WithWakeup(s.cancelWorker.Wake),
	)

	api := httpapi.NewHandler(httpapi.Deps{
		Orders:     orders,
		Carts:      cart.NewService(s.store, pricing, logger),
		Canceller:  canceller,
		Inventory:  inventory.NewService(s.store, logger),
		Webhooks:   webhook.NewReconciler(webhook.Config{Verifier: s.gateway, Applier: orders, Secret: webhookSecret, Logger: logger}),
		AdminToken: adminToken,
		Logger:     logger,
	})
	s.server = httptest.NewServer(api.Routes())

	s.call(http.MethodPut, "/admin/products/sku-1", "", map[string]any{"name": "Mug", "price": "10.00"}, http.StatusNoContent, nil)
	s.call(http.MethodPut, "/admin/products/sku-1/stock", "", map[string]any{"on_hand": 5}, http.StatusOK, nil)
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

type orderView struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentHandle string `json:"payment_handle"`
	Totals        struct {
		Subtotal string `json:"subtotal"`
		Tax      string `json:"tax"`
		Shipping string `json:"shipping"`
		Total    string `json:"total"`
	} `json:"totals"`
}

type stockView struct {
	OnHand    int32 `json:"on_hand"`
	Reserved  int32 `json:"reserved"`
	Available int32 `json:"available"`
}

type webhookView struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

func (s *OrderLifecycleTestSuite) call(method, path, userID string, body any, wantStatus int, out any) {
	s.T().Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		s.Require().NoError(err)
	}
	s.send(method, path, userID, payload, nil, wantStatus, out)
}

func (s *OrderLifecycleTestSuite) send(method, path, userID string, payload []byte, headers map[string]string, wantStatus int, out any) {
	s.T().Helper()

	req, err := http.NewRequestWithContext(s.ctx, method, s.server.URL+path, bytes.NewReader(payload))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", adminToken)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Require().Equal(wantStatus, resp.StatusCode, "%s %s", method, path)
	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
}

func (s *OrderLifecycleTestSuite) placeOrder(userID string, qty int) orderView {
	s.call(http.MethodPost, "/cart/items", userID, map[string]any{"product_id": "sku-1", "quantity": qty}, http.StatusOK, nil)
	return s.checkout(userID)
}

func (s *OrderLifecycleTestSuite) checkout(userID string) orderView {
	var created orderView
	s.send(http.MethodPost, "/orders", userID,
		[]byte(`{"shipping_address":"1 Main St","billing_address":"1 Main St"}`),
		map[string]string{"Idempotency-Key": "checkout-" + userID},
		http.StatusCreated, &created)
	return created
}

func (s *OrderLifecycleTestSuite) requestPayment(userID, orderID string) string {
	var resp struct {
		Order        orderView `json:"order"`
		ClientSecret string    `json:"client_secret"`
	}
	s.call(http.MethodPost, "/orders/"+orderID+"/payment", userID, nil, http.StatusOK, &resp)
	s.Require().NotEmpty(resp.ClientSecret)
	s.Require().NotEmpty(resp.Order.PaymentHandle)
	return resp.Order.PaymentHandle
}

func (s *OrderLifecycleTestSuite) deliver(eventID string, eventType domain.GatewayEventType, handle string, wantStatus int) webhookView {
	payload := []byte(fmt.Sprintf(`{"event_id":%q,"type":%q,"handle":%q}`, eventID, eventType, handle))
	var ack webhookView
	var out any
	if wantStatus == http.StatusOK {
		out = &ack
	}
	s.send(http.MethodPost, "/webhooks/payments", "", payload,
		map[string]string{httpapi.DefaultSignatureHeader: payment.SignPayload(webhookSecret, payload)},
		wantStatus, out)
	return ack
}

func (s *OrderLifecycleTestSuite) stock() stockView {
	var level stockView
	s.call(http.MethodGet, "/admin/products/sku-1/stock", "", nil, http.StatusOK, &level)
	return level
}

// Scenario 1: корзина на 20.00 даёт налог 2.00, доставку 10.00 и итог 32.00.
func (s *OrderLifecycleTestSuite) TestCartTotals() {
	s.call(http.MethodPost, "/cart/items", "u1", map[string]any{"product_id": "sku-1", "quantity": 2}, http.StatusOK, nil)

	var view struct {
		Totals struct {
			Subtotal string `json:"subtotal"`
			Tax      string `json:"tax"`
			Shipping string `json:"shipping"`
			Total    string `json:"total"`
		} `json:"totals"`
	}
	s.call(http.MethodGet, "/cart", "u1", nil, http.StatusOK, &view)
	s.Equal("20.00", view.Totals.Subtotal)
	s.Equal("2.00", view.Totals.Tax)
	s.Equal("10.00", view.Totals.Shipping)
	s.Equal("32.00", view.Totals.Total)

	created := s.checkout("u1")
	s.Equal("32.00", created.Totals.Total)
	s.Equal(int64(3200), s.gateway.AmountMinor(s.requestPayment("u1", created.ID)))
}

// Scenario 2: отказ в авторизации отменяет заказ и возвращает резерв.
func (s *OrderLifecycleTestSuite) TestAuthorizationFailedReleasesStock() {
	created := s.placeOrder("u2", 2)
	s.Equal(string(domain.OrderStatusPending), created.Status)
	s.Equal(stockView{OnHand: 5, Reserved: 2, Available: 3}, s.stock())

	handle := s.requestPayment("u2", created.ID)
	ack := s.deliver("evt_fail", domain.GatewayEventAuthorizationFailed, handle, http.StatusOK)
	s.Equal(string(domain.OrderStatusCancelled), ack.Status)
	s.Equal(string(domain.EventResultApplied), ack.Result)

	s.Equal(stockView{OnHand: 5, Reserved: 0, Available: 5}, s.stock())
}

// Scenario 3: успешная авторизация списывает резерв, повтор события ничего не меняет.
func (s *OrderLifecycleTestSuite) TestAuthorizationSucceededCommitsStockOnce() {
	created := s.placeOrder("u3", 2)
	handle := s.requestPayment("u3", created.ID)

	ack := s.deliver("evt_ok", domain.GatewayEventAuthorizationSucceeded, handle, http.StatusOK)
	s.Equal(string(domain.OrderStatusProcessing), ack.Status)
	s.Equal(string(domain.EventResultApplied), ack.Result)
	s.Equal(stockView{OnHand: 3, Reserved: 0, Available: 3}, s.stock())

	dup := s.deliver("evt_ok", domain.GatewayEventAuthorizationSucceeded, handle, http.StatusOK)
	s.Equal(string(domain.EventResultDuplicate), dup.Result)
	s.Equal(stockView{OnHand: 3, Reserved: 0, Available: 3}, s.stock())

	var timeline []struct {
		Type string `json:"type"`
	}
	s.call(http.MethodGet, "/orders/"+created.ID+"/timeline", "u3", nil, http.StatusOK, &timeline)
	s.NotEmpty(timeline)
}

// Scenario 4: отмена заказа в PROCESSING отклоняется.
func (s *OrderLifecycleTestSuite) TestCancelProcessingOrderIsRejected() {
	created := s.placeOrder("u4", 1)
	handle := s.requestPayment("u4", created.ID)
	s.deliver("evt_u4", domain.GatewayEventAuthorizationSucceeded, handle, http.StatusOK)

	var body struct {
		Error struct {
			Code string `json:"code"`
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"error"`
	}
	s.call(http.MethodPost, "/orders/"+created.ID+"/cancel", "u4", nil, http.StatusConflict, &body)
	s.Equal("invalid_transition", body.Error.Code)
	s.Equal(string(domain.OrderStatusProcessing), body.Error.From)
	s.Equal(string(domain.OrderStatusCancelled), body.Error.To)
}

func (s *OrderLifecycleTestSuite) TestCancelPendingOrderCancelsUpstream() {
	created := s.placeOrder("u5", 2)
	handle := s.requestPayment("u5", created.ID)

	var cancelled orderView
	s.call(http.MethodPost, "/orders/"+created.ID+"/cancel", "u5", nil, http.StatusOK, &cancelled)
	s.Equal(string(domain.OrderStatusCancelled), cancelled.Status)
	s.Equal(stockView{OnHand: 5, Reserved: 0, Available: 5}, s.stock())

	s.Require().Equal(1, s.cancelWorker.ProcessOnce(s.ctx))
	s.Equal([]string{handle}, s.gateway.Canceled())

	late := s.deliver("evt_late", domain.GatewayEventAuthorizationSucceeded, handle, http.StatusOK)
	s.Equal(string(domain.OrderStatusCancelled), late.Status)
	s.Equal(string(domain.EventResultIgnored), late.Result)
}

func (s *OrderLifecycleTestSuite) TestWebhookRejectsBadSignatureAndUnknownHandle() {
	payload := []byte(`{"event_id":"evt_x","type":"authorization.succeeded","handle":"pi_x"}`)
	s.send(http.MethodPost, "/webhooks/payments", "", payload,
		map[string]string{httpapi.DefaultSignatureHeader: "bogus"}, http.StatusBadRequest, nil)

	s.deliver("evt_unknown", domain.GatewayEventAuthorizationSucceeded, "pi_unknown", http.StatusServiceUnavailable)
}

func (s *OrderLifecycleTestSuite) TestOrdersAreScopedToOwner() {
	created := s.placeOrder("u6", 1)
	s.call(http.MethodGet, "/orders/"+created.ID, "intruder", nil, http.StatusNotFound, nil)
	s.call(http.MethodPost, "/orders/"+created.ID+"/cancel", "intruder", nil, http.StatusNotFound, nil)
}

func (s *OrderLifecycleTestSuite) TestInsufficientStockKeepsCart() {
	type errorView struct {
		Error struct {
			Code      string `json:"code"`
			ProductID string `json:"product_id"`
		} `json:"error"`
	}
	type cartView struct {
		Ready bool `json:"ready"`
		Items []struct {
			ProductID string `json:"product_id"`
			Quantity  int32  `json:"quantity"`
			Available int32  `json:"available"`
			InStock   bool   `json:"in_stock"`
		} `json:"items"`
	}

	var rejected errorView
	s.call(http.MethodPost, "/cart/items", "u7", map[string]any{"product_id": "sku-1", "quantity": 6}, http.StatusBadRequest, &rejected)
	s.Equal("insufficient_stock", rejected.Error.Code)
	s.Equal("sku-1", rejected.Error.ProductID)

	var view cartView
	s.call(http.MethodGet, "/cart", "u7", nil, http.StatusOK, &view)
	s.Empty(view.Items)

	s.call(http.MethodPost, "/cart/items", "u7", map[string]any{"product_id": "sku-1", "quantity": 4}, http.StatusOK, nil)
	s.placeOrder("u8", 2)

	s.call(http.MethodGet, "/cart", "u7", nil, http.StatusOK, &view)
	s.False(view.Ready)
	s.Require().Len(view.Items, 1)
	s.Equal(int32(4), view.Items[0].Quantity)
	s.Equal(int32(3), view.Items[0].Available)
	s.False(view.Items[0].InStock)

	var body errorView
	s.send(http.MethodPost, "/orders", "u7",
		[]byte(`{"shipping_address":"1 Main St","billing_address":"1 Main St"}`),
		map[string]string{"Idempotency-Key": "checkout-u7"},
		http.StatusBadRequest, &body)
	s.Equal("insufficient_stock", body.Error.Code)
	s.Equal("sku-1", body.Error.ProductID)
	s.Equal(stockView{OnHand: 5, Reserved: 2, Available: 3}, s.stock())

	s.call(http.MethodGet, "/cart", "u7", nil, http.StatusOK, &view)
	s.Require().Len(view.Items, 1)
}
