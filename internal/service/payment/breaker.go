package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ErrCircuitOpen — вызов не выполнялся, потому что шлюз считается недоступным.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState — состояние предохранителя.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker — потокобезопасный circuit breaker. Ошибкой считается только то,
// что classify признаёт отказом инфраструктуры.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	classify     func(error) bool

	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		classify: func(err error) bool {
			return errors.Is(err, domain.ErrUpstreamUnavailable)
		},
		state:  CircuitClosed,
		logger: logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.before(operation); err != nil {
		return err
	}
	err := fn()
	cb.after(operation, err)
	return err
}

func (cb *CircuitBreaker) before(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("Circuit breaker half-open")
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) after(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.classify(err) {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).Warn("Circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
	}
	cb.failures = 0
}

// BreakerGateway защищает PaymentGateway предохранителем. Открытый предохранитель
// отвечает ErrUpstreamUnavailable, поэтому вызывающий код повторит попытку позже.
type BreakerGateway struct {
	next    domain.PaymentGateway
	breaker *CircuitBreaker
}

// NewBreakerGateway оборачивает шлюз.
func NewBreakerGateway(next domain.PaymentGateway, breaker *CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, breaker: breaker}
}

func (g *BreakerGateway) CreateAuthorization(ctx context.Context, req domain.AuthorizationRequest) (domain.Authorization, error) {
	var auth domain.Authorization
	err := g.run("create_authorization", func() error {
		var err error
		auth, err = g.next.CreateAuthorization(ctx, req)
		return err
	})
	return auth, err
}

func (g *BreakerGateway) ConfirmAuthorization(ctx context.Context, handle string) (domain.GatewayOutcome, error) {
	var outcome domain.GatewayOutcome
	err := g.run("confirm_authorization", func() error {
		var err error
		outcome, err = g.next.ConfirmAuthorization(ctx, handle)
		return err
	})
	return outcome, err
}

func (g *BreakerGateway) CancelAuthorization(ctx context.Context, handle string) (domain.GatewayOutcome, error) {
	var outcome domain.GatewayOutcome
	err := g.run("cancel_authorization", func() error {
		var err error
		outcome, err = g.next.CancelAuthorization(ctx, handle)
		return err
	})
	return outcome, err
}

// VerifyWebhookSignature не обращается к сети и идёт мимо предохранителя.
func (g *BreakerGateway) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return g.next.VerifyWebhookSignature(payload, signature, secret)
}

func (g *BreakerGateway) run(operation string, fn func() error) error {
	err := g.breaker.Execute(operation, fn)
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	return err
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
