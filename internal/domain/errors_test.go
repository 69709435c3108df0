package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("reserve line: %w", &InsufficientStockError{ProductID: "B", Requested: 1, Available: 0})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected errors.Is to match ErrInsufficientStock")
	}
	productID, ok := InsufficientStockProduct(err)
	if !ok || productID != "B" {
		t.Fatalf("expected product B, got %q (ok=%v)", productID, ok)
	}
	if _, ok := InsufficientStockProduct(ErrEmptyCart); ok {
		t.Fatalf("unexpected product for unrelated error")
	}
}

func TestInvalidTransitionErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("cancel: %w", &InvalidTransitionError{From: OrderStatusShipped, To: OrderStatusCancelled})

	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected errors.Is to match ErrInvalidTransition")
	}
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected errors.As to extract InvalidTransitionError")
	}
	if transitionErr.From != OrderStatusShipped || transitionErr.To != OrderStatusCancelled {
		t.Fatalf("unexpected transition %s -> %s", transitionErr.From, transitionErr.To)
	}
}
