package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerAdminToken     = "X-Admin-Token"

	statusTransportError = "transport_error"
)

// statusError — ответ API с кодом вне 2xx.
type statusError struct {
	step   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.step, e.status, e.body)
}

// checkoutClient ходит в HTTP API чекаута и пишет каждый вызов в collector.
type checkoutClient struct {
	baseURL    string
	adminToken string
	http       *http.Client
	timeout    time.Duration
	col        *collector
}

func newCheckoutClient(cfg config, col *collector) *checkoutClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections
	transport.MaxConnsPerHost = cfg.connections

	return &checkoutClient{
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		adminToken: cfg.adminToken,
		http:       &http.Client{Transport: transport},
		timeout:    cfg.timeout,
		col:        col,
	}
}

func (c *checkoutClient) seedProduct(ctx context.Context, sku string, price decimal.Decimal, onHand int32) error {
	path := "/admin/products/" + url.PathEscape(sku)
	product := map[string]any{"name": "load " + sku, "price": price}
	if err := c.do(ctx, "SeedProduct", http.MethodPut, path, "", nil, product, nil); err != nil {
		return err
	}
	return c.do(ctx, "SeedStock", http.MethodPut, path+"/stock", "", nil, map[string]int32{"on_hand": onHand}, nil)
}

func (c *checkoutClient) addToCart(ctx context.Context, userID, sku string, qty int32) error {
	body := map[string]any{"product_id": sku, "quantity": qty}
	return c.do(ctx, "AddToCart", http.MethodPost, "/cart/items", userID, nil, body, nil)
}

func (c *checkoutClient) createOrder(ctx context.Context, userID, idempotencyKey string) (string, error) {
	body := map[string]string{
		"shipping_address": "1 Load St",
		"billing_address":  "1 Load St",
	}
	headers := map[string]string{headerIdempotencyKey: idempotencyKey}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "CreateOrder", http.MethodPost, "/orders", userID, headers, body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("create order returned empty order id")
	}
	return created.ID, nil
}

func (c *checkoutClient) requestPayment(ctx context.Context, userID, orderID string) error {
	return c.do(ctx, "RequestPayment", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/payment", userID, nil, nil, nil)
}

func (c *checkoutClient) cancelOrder(ctx context.Context, userID, orderID string) error {
	return c.do(ctx, "CancelOrder", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", userID, nil, nil, nil)
}

func (c *checkoutClient) do(
	ctx context.Context,
	step, method, path, userID string,
	headers map[string]string,
	body any,
	out any,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", step, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", step, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if c.adminToken != "" {
		req.Header.Set(headerAdminToken, c.adminToken)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(step, time.Since(start), statusTransportError, false)
		return fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.col.record(step, time.Since(start), strconv.Itoa(resp.StatusCode), ok)

	if !ok {
		return &statusError{step: step, status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if readErr != nil {
		return fmt.Errorf("%s: read body: %w", step, readErr)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode body: %w", step, err)
		}
	}
	return nil
}

// statusLabel превращает ошибку шага в метку для отчёта.
func statusLabel(err error) string {
	if err == nil {
		return strconv.Itoa(http.StatusOK)
	}
	var se *statusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.status)
	}
	return statusTransportError
}
