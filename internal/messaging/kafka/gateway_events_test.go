package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

type stubWebhookHandler struct {
	err           error
	lastPayload   string
	lastSignature string
}

func (s *stubWebhookHandler) Handle(_ context.Context, payload []byte, signature string) (webhook.Ack, error) {
	s.lastPayload = string(payload)
	s.lastSignature = signature
	if s.err != nil {
		return webhook.Ack{}, s.err
	}
	return webhook.Ack{EventID: "evt-1", Result: domain.EventResultApplied}, nil
}

func TestGatewayEventHandler_PassesSignatureHeader(t *testing.T) {
	stub := &stubWebhookHandler{}
	handler := GatewayEventHandler(stub, nil)

	err := handler(context.Background(), &sarama.ConsumerMessage{
		Value:   []byte(`{"event_id":"evt-1"}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderSignature), Value: []byte("sha256=ff")}},
	})
	require.NoError(t, err)
	require.Equal(t, `{"event_id":"evt-1"}`, stub.lastPayload)
	require.Equal(t, "sha256=ff", stub.lastSignature)
}

func TestGatewayEventHandler_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		err       error
		permanent bool
	}{
		{err: domain.ErrInvalidSignature, permanent: true},
		{err: fmt.Errorf("%w: bad json", domain.ErrMalformedEvent), permanent: true},
		{err: domain.ErrEventIDRequired, permanent: true},
		{err: fmt.Errorf("apply: %w", domain.ErrOrderNotFound), permanent: false},
		{err: errors.New("connection reset"), permanent: false},
	}

	for _, tc := range cases {
		handler := GatewayEventHandler(&stubWebhookHandler{err: tc.err}, nil)
		err := handler(context.Background(), &sarama.ConsumerMessage{Value: []byte("{}")})
		require.Error(t, err)
		require.Equal(t, tc.permanent, IsPermanent(err), tc.err.Error())
		require.ErrorIs(t, err, tc.err)
	}
}
