package cancellation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type fixture struct {
	ctx      context.Context
	clock    *testClock
	store    *memory.Store
	gateway  *payment.FakeGateway
	orders   *order.Service
	canceler *Service
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	gateway := payment.NewFakeGateway()
	orders := order.NewService(store, gateway, order.Options{Now: clock.Now})

	f := &fixture{
		ctx:      context.Background(),
		clock:    clock,
		store:    store,
		gateway:  gateway,
		orders:   orders,
		canceler: NewService(store, orders, WithClock(clock.Now)),
	}

	require.NoError(t, store.Catalog().UpsertProduct(f.ctx, domain.Product{
		ID: "sku-1", Name: "Mug", Price: decimal.RequireFromString("10.00"), Active: true,
	}))
	require.NoError(t, store.Inventory().SetOnHand(f.ctx, "sku-1", 5))
	return f
}

func (f *fixture) pendingOrder(t *testing.T, userID string, authorize bool) domain.Order {
	t.Helper()
	require.NoError(t, f.store.Carts().AddItem(f.ctx, userID, "sku-1", 2, f.clock.Now()))
	created, err := f.orders.CreateOrder(f.ctx, order.CreateOrderRequest{
		UserID:          userID,
		ShippingAddress: "a",
		BillingAddress:  "b",
		IdempotencyKey:  "key-" + userID,
	})
	require.NoError(t, err)
	if !authorize {
		return created
	}
	authorized, err := f.orders.RequestAuthorization(f.ctx, created.ID, userID)
	require.NoError(t, err)
	return authorized
}

func (f *fixture) available(t *testing.T) int32 {
	t.Helper()
	level, err := f.store.Inventory().Level(f.ctx, "sku-1")
	require.NoError(t, err)
	return level.Available()
}

func TestCancelPendingOrderReleasesStockAndQueuesUpstreamCancel(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", true)
	require.EqualValues(t, 3, f.available(t))

	woken := 0
	f.canceler = NewService(f.store, f.orders, WithClock(f.clock.Now), WithWakeup(func() { woken++ }))

	cancelled, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.EqualValues(t, 5, f.available(t))
	require.Equal(t, 1, woken)

	jobs := f.store.CancellationJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, created.Authorization.Handle, jobs[0].Handle)
	require.Equal(t, domain.CancellationStatusPending, jobs[0].Status)

	again, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, again.Status)
	require.Len(t, f.store.CancellationJobs(), 1)
	require.EqualValues(t, 5, f.available(t))
}

func TestCancelWithoutAuthorizationQueuesNothing(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", false)

	_, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.Empty(t, f.store.CancellationJobs())
}

func TestCancelProcessingOrderIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", true)

	_, err := f.orders.ApplyGatewayResult(f.ctx, created.Authorization.Handle, domain.GatewayOutcomeSucceeded, "evt-1")
	require.NoError(t, err)

	_, err = f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.orders.Get(f.ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, stored.Status)
	require.Empty(t, f.store.CancellationJobs())
}

func TestCancelForeignOrderLooksMissing(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", false)

	_, err := f.canceler.Cancel(f.ctx, created.ID, "user-2")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.EqualValues(t, 3, f.available(t))
}

func TestCancelRacesPaymentFailedWebhook(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		created := f.pendingOrder(t, "user-1", true)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.canceler.Cancel(f.ctx, created.ID, "user-1")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.orders.ApplyGatewayResult(f.ctx, created.Authorization.Handle, domain.GatewayOutcomeFailed, "evt-fail")
		}()
		wg.Wait()

		stored, err := f.orders.Get(f.ctx, created.ID, "user-1")
		require.NoError(t, err)
		require.Equal(t, domain.OrderStatusCancelled, stored.Status)
		require.EqualValues(t, 5, f.available(t), "stock must be released exactly once")
	}
}

func TestWorkerCancelsUpstream(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", true)
	_, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)

	m := metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())
	worker := NewWorker(f.store.Cancellations(), f.gateway, WithWorkerClock(f.clock.Now), WithWorkerMetrics(m))

	require.Equal(t, 1, worker.ProcessOnce(f.ctx))
	require.Equal(t, []string{created.Authorization.Handle}, f.gateway.Canceled())
	require.Equal(t, domain.CancellationStatusDone, f.store.CancellationJobs()[0].Status)

	require.Equal(t, 0, worker.ProcessOnce(f.ctx))
}

func TestWorkerRetriesWithBackoffThenSucceeds(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", true)
	_, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)

	f.gateway.CancelErrs = []error{domain.ErrUpstreamUnavailable, domain.ErrUpstreamUnavailable}
	worker := NewWorker(f.store.Cancellations(), f.gateway, WithWorkerClock(f.clock.Now))

	require.Equal(t, 1, worker.ProcessOnce(f.ctx))
	job := f.store.CancellationJobs()[0]
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, f.clock.Now().Add(time.Second), job.NextAttemptAt)
	require.Equal(t, domain.CancellationStatusPending, job.Status)

	require.Equal(t, 0, worker.ProcessOnce(f.ctx), "job is not due yet")

	f.clock.Advance(time.Second)
	require.Equal(t, 1, worker.ProcessOnce(f.ctx))
	job = f.store.CancellationJobs()[0]
	require.Equal(t, 2, job.Attempts)
	require.Equal(t, f.clock.Now().Add(2*time.Second), job.NextAttemptAt)

	f.clock.Advance(2 * time.Second)
	require.Equal(t, 1, worker.ProcessOnce(f.ctx))
	require.Equal(t, domain.CancellationStatusDone, f.store.CancellationJobs()[0].Status)
}

func TestWorkerMarksStuckJobs(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", true)
	_, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)

	f.gateway.CancelErr = domain.ErrUpstreamUnavailable
	worker := NewWorker(f.store.Cancellations(), f.gateway,
		WithWorkerClock(f.clock.Now),
		WithRetry(payment.RetryConfig{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}),
	)

	worker.ProcessOnce(f.ctx)
	f.clock.Advance(time.Minute)
	worker.ProcessOnce(f.ctx)

	job := f.store.CancellationJobs()[0]
	require.Equal(t, domain.CancellationStatusStuck, job.Status)
	require.Equal(t, 2, job.Attempts)
	require.NotEmpty(t, job.LastError)

	stats, err := f.store.Cancellations().Stats(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Stuck)

	// Локальная отмена авторитетна независимо от шлюза.
	stored, err := f.orders.Get(f.ctx, created.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, stored.Status)
}

func TestWorkerNonCancelableIsStuckImmediately(t *testing.T) {
	f := newFixture(t)
	created := f.pendingOrder(t, "user-1", true)
	_, err := f.canceler.Cancel(f.ctx, created.ID, "user-1")
	require.NoError(t, err)

	f.gateway.CancelErr = fmt.Errorf("stripe: %w", domain.ErrAuthorizationNotCancelable)
	worker := NewWorker(f.store.Cancellations(), f.gateway, WithWorkerClock(f.clock.Now))
	worker.ProcessOnce(f.ctx)

	require.Equal(t, domain.CancellationStatusStuck, f.store.CancellationJobs()[0].Status)
}

func TestWorkerWake(t *testing.T) {
	worker := NewWorker(nil, nil)
	worker.Wake()
	worker.Wake()
	require.Len(t, worker.wake, 1)
}

func TestExpirySweeperCancelsStalePendingOrders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Inventory().SetOnHand(f.ctx, "sku-1", 10))
	stale := f.pendingOrder(t, "user-1", true)
	paid := f.pendingOrder(t, "user-2", true)
	_, err := f.orders.ApplyGatewayResult(f.ctx, paid.Authorization.Handle, domain.GatewayOutcomeSucceeded, "evt-paid")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	fresh := f.pendingOrder(t, "user-3", false)

	sweeper := NewExpirySweeper(f.store.Orders(), f.canceler, SweeperConfig{
		Window:      15 * time.Minute,
		Parallelism: 2,
		Now:         f.clock.Now,
	})
	require.Equal(t, 0, sweeper.SweepOnce(f.ctx))

	f.clock.Advance(10 * time.Minute)
	require.Equal(t, 1, sweeper.SweepOnce(f.ctx))

	got, err := f.orders.Lookup(f.ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, got.Status)

	got, err = f.orders.Lookup(f.ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, got.Status)

	got, err = f.orders.Lookup(f.ctx, paid.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, got.Status)

	timeline, err := f.store.Timeline().List(f.ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, order.ReasonExpired, timeline[len(timeline)-1].Reason)
	require.Len(t, f.store.CancellationJobs(), 1)
}
