package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// FakeGateway — конфигурируемый шлюз для локальной разработки и тестов.
// Подписи вебхуков проверяет HMAC-SHA256, как и реальный провайдер.
type FakeGateway struct {
	mu sync.Mutex

	CreateErr      error
	ConfirmOutcome domain.GatewayOutcome
	ConfirmErr     error
	CancelOutcome  domain.GatewayOutcome
	// CancelErrs возвращаются по одной на каждый вызов CancelAuthorization, затем CancelErr.
	CancelErrs []error
	CancelErr  error

	seq          int
	createCalls  int
	confirmCalls int
	cancelCalls  int
	canceled     []string
	amounts      map[string]int64
}

// NewFakeGateway возвращает шлюз с успешным сценарием по умолчанию.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		ConfirmOutcome: domain.GatewayOutcomeSucceeded,
		CancelOutcome:  domain.GatewayOutcomeCanceled,
		amounts:        make(map[string]int64),
	}
}

func (g *FakeGateway) CreateAuthorization(_ context.Context, req domain.AuthorizationRequest) (domain.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.createCalls++
	if g.CreateErr != nil {
		return domain.Authorization{}, g.CreateErr
	}
	g.seq++
	handle := fmt.Sprintf("pi_fake_%d", g.seq)
	g.amounts[handle] = domain.ToMinorUnits(req.Amount)
	return domain.Authorization{Handle: handle, ClientSecret: handle + "_secret"}, nil
}

func (g *FakeGateway) ConfirmAuthorization(context.Context, string) (domain.GatewayOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.confirmCalls++
	if g.ConfirmErr != nil {
		return "", g.ConfirmErr
	}
	return g.ConfirmOutcome, nil
}

func (g *FakeGateway) CancelAuthorization(_ context.Context, handle string) (domain.GatewayOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelCalls++
	if len(g.CancelErrs) > 0 {
		err := g.CancelErrs[0]
		g.CancelErrs = g.CancelErrs[1:]
		if err != nil {
			return "", err
		}
	} else if g.CancelErr != nil {
		return "", g.CancelErr
	}
	g.canceled = append(g.canceled, handle)
	return g.CancelOutcome, nil
}

func (g *FakeGateway) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return VerifyHMAC(payload, signature, secret)
}

// Calls возвращает число вызовов create/confirm/cancel.
func (g *FakeGateway) Calls() (create, confirm, cancel int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.confirmCalls, g.cancelCalls
}

// Canceled возвращает handle, успешно отменённые у шлюза.
func (g *FakeGateway) Canceled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.canceled...)
}

// AmountMinor возвращает сумму, на которую открыта авторизация.
func (g *FakeGateway) AmountMinor(handle string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.amounts[handle]
}

var _ domain.PaymentGateway = (*FakeGateway)(nil)
