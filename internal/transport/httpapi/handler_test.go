package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cancellation"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const (
	testSecret     = "whsec_http"
	testAdminToken = "admin-secret"
)

type APISuite struct {
	suite.Suite

	store   *memory.Store
	gateway *payment.FakeGateway
	server  *httptest.Server
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.store = memory.NewStore()
	s.gateway = payment.NewFakeGateway()

	orders := order.NewService(s.store, s.gateway, order.Options{})
	handler := NewHandler(Deps{
		Orders:    orders,
		Carts:     cart.NewService(s.store, domain.DefaultPricingPolicy(), nil),
		Canceller: cancellation.NewService(s.store, orders),
		Inventory: inventory.NewService(s.store, nil),
		Webhooks: webhook.NewReconciler(webhook.Config{
			Verifier: s.gateway,
			Applier:  orders,
			Secret:   testSecret,
		}),
		AdminToken: testAdminToken,
	})
	s.server = httptest.NewServer(handler.Routes())

	s.admin(http.MethodPut, "/admin/products/sku-1", `{"name":"Mug","price":"10.00"}`, http.StatusNoContent)
	s.admin(http.MethodPut, "/admin/products/sku-1/stock", `{"on_hand":5}`, http.StatusOK)
	s.admin(http.MethodPut, "/admin/products/sku-2", `{"name":"Lamp","price":"50.00"}`, http.StatusNoContent)
	s.admin(http.MethodPut, "/admin/products/sku-2/stock", `{"on_hand":1}`, http.StatusOK)
}

func (s *APISuite) TearDownTest() {
	s.server.Close()
}

func (s *APISuite) do(method, path, body string, headers map[string]string) (*http.Response, []byte) {
	req, err := http.NewRequestWithContext(context.Background(), method, s.server.URL+path, bytes.NewBufferString(body))
	s.Require().NoError(err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, data
}

func (s *APISuite) admin(method, path, body string, want int) []byte {
	resp, data := s.do(method, path, body, map[string]string{headerAdminToken: testAdminToken})
	s.Require().Equal(want, resp.StatusCode, string(data))
	return data
}

func (s *APISuite) user(userID, method, path, body string, want int, extra ...string) []byte {
	headers := map[string]string{headerUserID: userID}
	for i := 0; i+1 < len(extra); i += 2 {
		headers[extra[i]] = extra[i+1]
	}
	resp, data := s.do(method, path, body, headers)
	s.Require().Equal(want, resp.StatusCode, string(data))
	return data
}

func (s *APISuite) checkout(userID, key string) orderResponse {
	data := s.user(userID, http.MethodPost, "/orders", `{"shipping_address":"1 Main St","billing_address":"1 Main St"}`,
		http.StatusCreated, headerIdempotencyKey, key)
	var o orderResponse
	s.Require().NoError(json.Unmarshal(data, &o))
	return o
}

func (s *APISuite) deliver(eventID, eventType, handle string) (*http.Response, []byte) {
	payload := fmt.Sprintf(`{"event_id":%q,"type":%q,"handle":%q}`, eventID, eventType, handle)
	return s.do(http.MethodPost, "/webhooks/payments", payload, map[string]string{
		DefaultSignatureHeader: payment.SignPayload(testSecret, []byte(payload)),
	})
}

func (s *APISuite) stock(productID string) stockResponse {
	var level stockResponse
	s.Require().NoError(json.Unmarshal(s.admin(http.MethodGet, "/admin/products/"+productID+"/stock", "", http.StatusOK), &level))
	return level
}

func (s *APISuite) TestCheckoutAndPaymentSuccess() {
	data := s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":2}`, http.StatusOK)
	var c cartResponse
	s.Require().NoError(json.Unmarshal(data, &c))
	s.Require().Equal("20.00", c.Totals.Subtotal)

	o := s.checkout("u1", "key-1")
	s.Require().Equal("PENDING", o.Status)
	s.Require().Equal("20.00", o.Totals.Subtotal)
	s.Require().Equal("2.00", o.Totals.Tax)
	s.Require().Equal("10.00", o.Totals.Shipping)
	s.Require().Equal("32.00", o.Totals.Total)
	s.Require().Equal(int32(3), s.stock("sku-1").Available)

	var pay paymentResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodPost, "/orders/"+o.ID+"/payment", "", http.StatusOK), &pay))
	s.Require().NotEmpty(pay.ClientSecret)
	s.Require().NotEmpty(pay.Order.PaymentHandle)

	resp, body := s.deliver("evt-1", "authorization.succeeded", pay.Order.PaymentHandle)
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	var ack webhookResponse
	s.Require().NoError(json.Unmarshal(body, &ack))
	s.Require().Equal("applied", ack.Result)
	s.Require().Equal("PROCESSING", ack.Status)

	resp, body = s.deliver("evt-1", "authorization.succeeded", pay.Order.PaymentHandle)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().NoError(json.Unmarshal(body, &ack))
	s.Require().Equal("duplicate", ack.Result)

	level := s.stock("sku-1")
	s.Require().Equal(int32(3), level.OnHand)
	s.Require().Zero(level.Reserved)

	var timeline []timelineResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodGet, "/orders/"+o.ID+"/timeline", "", http.StatusOK), &timeline))
	s.Require().GreaterOrEqual(len(timeline), 3)
	s.Require().Equal(domain.EventOrderCreated, timeline[0].Type)
}

func (s *APISuite) TestCreateOrderIsIdempotent() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	first := s.checkout("u1", "same-key")
	second := s.checkout("u1", "same-key")
	s.Require().Equal(first.ID, second.ID)
	s.Require().Equal(int32(4), s.stock("sku-1").Available)

	var orders []orderResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodGet, "/orders", "", http.StatusOK), &orders))
	s.Require().Len(orders, 1)
}

func (s *APISuite) TestInsufficientStockNamesProduct() {
	data := s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-2","quantity":2}`, http.StatusBadRequest)
	var body errorBody
	s.Require().NoError(json.Unmarshal(data, &body))
	s.Require().Equal("insufficient_stock", body.Error.Code)
	s.Require().Equal("sku-2", body.Error.ProductID)

	var c cartResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodGet, "/cart", "", http.StatusOK), &c))
	s.Require().Empty(c.Items)

	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-2","quantity":1}`, http.StatusOK)
	s.user("u1", http.MethodPut, "/cart/items/sku-2", `{"quantity":2}`, http.StatusBadRequest)
	s.admin(http.MethodPut, "/admin/products/sku-2/stock", `{"on_hand":0}`, http.StatusOK)

	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodGet, "/cart", "", http.StatusOK), &c))
	s.Require().False(c.Ready)
	s.Require().Nil(c.Totals)
	s.Require().Len(c.Items, 1)
	s.Require().Equal(int32(1), c.Items[0].Quantity)
	s.Require().False(c.Items[0].InStock)
	s.Require().Zero(c.Items[0].Available)

	data = s.user("u1", http.MethodPost, "/orders", `{"shipping_address":"a","billing_address":"b"}`,
		http.StatusBadRequest, headerIdempotencyKey, "k")
	body = errorBody{}
	s.Require().NoError(json.Unmarshal(data, &body))
	s.Require().Equal("insufficient_stock", body.Error.Code)
	s.Require().Equal("sku-2", body.Error.ProductID)
}

func (s *APISuite) TestEmptyCartAndMissingKey() {
	data := s.user("u1", http.MethodPost, "/orders", `{"shipping_address":"a","billing_address":"b"}`,
		http.StatusBadRequest, headerIdempotencyKey, "k")
	var body errorBody
	s.Require().NoError(json.Unmarshal(data, &body))
	s.Require().Equal("empty_cart", body.Error.Code)

	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	s.user("u1", http.MethodPost, "/orders", `{"shipping_address":"a","billing_address":"b"}`, http.StatusBadRequest)
}

func (s *APISuite) TestIdempotencyKeyFromAnotherUser() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	s.user("u2", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	s.checkout("u1", "shared")
	s.user("u2", http.MethodPost, "/orders", `{"shipping_address":"a","billing_address":"b"}`,
		http.StatusUnprocessableEntity, headerIdempotencyKey, "shared")
}

func (s *APISuite) TestInvalidSignatureRejected() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	o := s.checkout("u1", "k")
	var pay paymentResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodPost, "/orders/"+o.ID+"/payment", "", http.StatusOK), &pay))

	payload := fmt.Sprintf(`{"event_id":"evt-x","type":"authorization.succeeded","handle":%q}`, pay.Order.PaymentHandle)
	resp, _ := s.do(http.MethodPost, "/webhooks/payments", payload, map[string]string{DefaultSignatureHeader: "sha256=00"})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	var current orderResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodGet, "/orders/"+o.ID, "", http.StatusOK), &current))
	s.Require().Equal("PENDING", current.Status)
}

func (s *APISuite) TestWebhookForUnknownHandleAsksForRedelivery() {
	resp, _ := s.deliver("evt-early", "authorization.succeeded", "pi_unknown")
	s.Require().Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *APISuite) TestWebhookForOrphanedAuthorizationIsAcknowledged() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	o := s.checkout("u1", "k")
	var pay paymentResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodPost, "/orders/"+o.ID+"/payment", "", http.StatusOK), &pay))
	s.Require().NoError(s.store.Cancellations().Enqueue(context.Background(), domain.UpstreamCancellation{
		ID: "job-orphan", OrderID: o.ID, Handle: "pi_orphan",
	}))

	for i := 0; i < 2; i++ {
		resp, body := s.deliver("evt-orphan", "authorization.failed", "pi_orphan")
		s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
		var ack webhookResponse
		s.Require().NoError(json.Unmarshal(body, &ack))
		s.Require().Equal(o.ID, ack.OrderID)
		if i == 0 {
			s.Require().Equal("ignored", ack.Result)
		} else {
			s.Require().Equal("duplicate", ack.Result)
		}
	}

	var current orderResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodGet, "/orders/"+o.ID, "", http.StatusOK), &current))
	s.Require().Equal("PENDING", current.Status)
	s.Require().Equal(pay.Order.PaymentHandle, current.PaymentHandle)
}

func (s *APISuite) TestCancelAfterPaymentIsConflict() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	o := s.checkout("u1", "k")
	var pay paymentResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodPost, "/orders/"+o.ID+"/payment", "", http.StatusOK), &pay))
	resp, _ := s.deliver("evt-ok", "authorization.succeeded", pay.Order.PaymentHandle)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	data := s.user("u1", http.MethodPost, "/orders/"+o.ID+"/cancel", "", http.StatusConflict)
	var body errorBody
	s.Require().NoError(json.Unmarshal(data, &body))
	s.Require().Equal("PROCESSING", body.Error.From)
	s.Require().Equal("CANCELLED", body.Error.To)
}

func (s *APISuite) TestCancelPendingReleasesStock() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":2}`, http.StatusOK)
	o := s.checkout("u1", "k")
	s.Require().Equal(int32(3), s.stock("sku-1").Available)

	var cancelled orderResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodPost, "/orders/"+o.ID+"/cancel", "", http.StatusOK), &cancelled))
	s.Require().Equal("CANCELLED", cancelled.Status)
	s.Require().Equal(int32(5), s.stock("sku-1").Available)
}

func (s *APISuite) TestForeignOrderIsNotFound() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	o := s.checkout("u1", "k")
	s.user("u2", http.MethodGet, "/orders/"+o.ID, "", http.StatusNotFound)
	s.user("u2", http.MethodPost, "/orders/"+o.ID+"/cancel", "", http.StatusNotFound)
}

func (s *APISuite) TestFulfillmentFlow() {
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	o := s.checkout("u1", "k")
	s.admin(http.MethodPost, "/admin/orders/"+o.ID+"/fulfillment", `{"status":"SHIPPED"}`, http.StatusConflict)

	var pay paymentResponse
	s.Require().NoError(json.Unmarshal(s.user("u1", http.MethodPost, "/orders/"+o.ID+"/payment", "", http.StatusOK), &pay))
	resp, _ := s.deliver("evt-ok", "authorization.succeeded", pay.Order.PaymentHandle)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	s.admin(http.MethodPost, "/admin/orders/"+o.ID+"/fulfillment", `{"status":"SHIPPED"}`, http.StatusOK)
	s.admin(http.MethodPost, "/admin/orders/"+o.ID+"/fulfillment", `{"status":"DELIVERED"}`, http.StatusOK)
	s.admin(http.MethodPost, "/admin/orders/"+o.ID+"/fulfillment", `{"status":"BOGUS"}`, http.StatusBadRequest)
}

func (s *APISuite) TestAuthHeaders() {
	resp, _ := s.do(http.MethodGet, "/cart", "", nil)
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/admin/products/sku-1/stock", "", map[string]string{headerAdminToken: "wrong"})
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *APISuite) TestUpstreamFailureIs502() {
	s.gateway.CreateErr = domain.ErrUpstreamUnavailable
	s.user("u1", http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":1}`, http.StatusOK)
	o := s.checkout("u1", "k")
	s.user("u1", http.MethodPost, "/orders/"+o.ID+"/payment", "", http.StatusBadGateway)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyCart, http.StatusBadRequest},
		{&domain.InsufficientStockError{ProductID: "p"}, http.StatusBadRequest},
		{domain.ErrInvalidSignature, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrOrderNotFound), http.StatusNotFound},
		{&domain.InvalidTransitionError{From: domain.OrderStatusShipped, To: domain.OrderStatusCancelled}, http.StatusConflict},
		{domain.ErrIdempotencyKeyConflict, http.StatusUnprocessableEntity},
		{domain.ErrUpstreamUnavailable, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
