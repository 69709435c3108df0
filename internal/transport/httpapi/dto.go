package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
)

type lineResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type totalsResponse struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

type orderResponse struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Status          string         `json:"status"`
	ShippingAddress string         `json:"shipping_address"`
	BillingAddress  string         `json:"billing_address"`
	Lines           []lineResponse `json:"lines"`
	Totals          totalsResponse `json:"totals"`
	Currency        string         `json:"currency"`
	PaymentHandle   string         `json:"payment_handle,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// paymentResponse возвращается только владельцу заказа при запросе оплаты.
type paymentResponse struct {
	Order        orderResponse `json:"order"`
	ClientSecret string        `json:"client_secret"`
}

type cartItemResponse struct {
	ProductID string    `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	Available int32     `json:"available"`
	InStock   bool      `json:"in_stock"`
	AddedAt   time.Time `json:"added_at"`
}

type cartResponse struct {
	Ready  bool               `json:"ready"`
	Items  []cartItemResponse `json:"items"`
	Lines  []lineResponse     `json:"lines"`
	Totals *totalsResponse    `json:"totals,omitempty"`
}

type timelineResponse struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type stockResponse struct {
	ProductID string `json:"product_id"`
	OnHand    int32  `json:"on_hand"`
	Reserved  int32  `json:"reserved"`
	Available int32  `json:"available"`
}

type webhookResponse struct {
	EventID string `json:"event_id"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Result  string `json:"result"`
}

func toTotals(t domain.Totals) totalsResponse {
	return totalsResponse{
		Subtotal: t.Subtotal.StringFixed(2),
		Tax:      t.Tax.StringFixed(2),
		Shipping: t.Shipping.StringFixed(2),
		Total:    t.Total.StringFixed(2),
	}
}

func toOrder(o domain.Order) orderResponse {
	lines := make([]lineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, lineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Qty,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal.StringFixed(2),
		})
	}
	resp := orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Lines:           lines,
		Totals:          toTotals(o.Totals),
		Currency:        o.Currency,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.HasAuthorization() {
		resp.PaymentHandle = o.Authorization.Handle
	}
	return resp
}

func toCart(v cart.View) cartResponse {
	resp := cartResponse{
		Ready: v.Ready(),
		Items: make([]cartItemResponse, 0, len(v.Lines)),
		Lines: make([]lineResponse, 0, len(v.Lines)),
	}
	for _, l := range v.Lines {
		resp.Items = append(resp.Items, cartItemResponse{
			ProductID: l.ProductID,
			Quantity:  l.Qty,
			Available: l.Available,
			InStock:   l.InStock,
			AddedAt:   l.AddedAt,
		})
	}
	for _, l := range v.Snapshot.Lines() {
		resp.Lines = append(resp.Lines, lineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Qty,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal.StringFixed(2),
		})
	}
	if v.Ready() {
		totals := toTotals(v.Totals)
		resp.Totals = &totals
	}
	return resp
}
