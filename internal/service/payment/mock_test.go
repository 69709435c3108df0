package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestFakeGatewayLifecycle(t *testing.T) {
	gw := NewFakeGateway()
	ctx := context.Background()

	auth, err := gw.CreateAuthorization(ctx, domain.AuthorizationRequest{
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("32.00"),
		Currency: "USD",
	})
	require.NoError(t, err)
	require.NotEmpty(t, auth.Handle)
	require.NotEmpty(t, auth.ClientSecret)
	require.EqualValues(t, 3200, gw.AmountMinor(auth.Handle))

	outcome, err := gw.ConfirmAuthorization(ctx, auth.Handle)
	require.NoError(t, err)
	require.Equal(t, domain.GatewayOutcomeSucceeded, outcome)

	outcome, err = gw.CancelAuthorization(ctx, auth.Handle)
	require.NoError(t, err)
	require.Equal(t, domain.GatewayOutcomeCanceled, outcome)
	require.Equal(t, []string{auth.Handle}, gw.Canceled())

	create, confirm, cancel := gw.Calls()
	require.Equal(t, 1, create)
	require.Equal(t, 1, confirm)
	require.Equal(t, 1, cancel)
}

func TestFakeGatewayCancelErrorSequence(t *testing.T) {
	gw := NewFakeGateway()
	gw.CancelErrs = []error{domain.ErrUpstreamUnavailable, domain.ErrUpstreamUnavailable}

	for i := 0; i < 2; i++ {
		_, err := gw.CancelAuthorization(context.Background(), "pi_x")
		require.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	}
	_, err := gw.CancelAuthorization(context.Background(), "pi_x")
	require.NoError(t, err)
	require.Equal(t, []string{"pi_x"}, gw.Canceled())
}

func TestSignatureVerification(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	sig := SignPayload("whsec", payload)

	gw := NewFakeGateway()
	require.True(t, gw.VerifyWebhookSignature(payload, sig, "whsec"))
	require.True(t, gw.VerifyWebhookSignature(payload, sig[len("sha256="):], "whsec"))
	require.False(t, gw.VerifyWebhookSignature(payload, sig, "other"))
	require.False(t, gw.VerifyWebhookSignature([]byte(`{"id":"evt_2"}`), sig, "whsec"))
	require.False(t, gw.VerifyWebhookSignature(payload, "not-hex", "whsec"))
	require.False(t, gw.VerifyWebhookSignature(payload, "", "whsec"))
}
