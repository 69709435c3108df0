package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
//
// Транзакции реализованы двухфазными блокировками: строка, которую транзакция изменила
// или прочитала через ...ForUpdate, остаётся заблокированной до commit/rollback. Откат
// проигрывает журнал undo в обратном порядке. Списочные чтения (ListByUser, ListStale,
// PullPending) блокировок не берут и могут увидеть незакоммиченные данные.
type Store struct {
	mu    sync.Mutex
	locks *lockTable
	now   func() time.Time

	products     map[string]domain.Product
	stock        map[string]domain.StockLevel
	reservations map[string]domain.Reservation
	carts        map[string][]domain.CartLine

	orders        map[string]domain.Order
	orderByKey    map[string]string
	orderByHandle map[string]string

	events   map[string]domain.ProcessedEvent
	outbox   map[string]*outboxRecord
	outboxSeq int64
	timeline map[string][]domain.TimelineEvent

	cancellations        map[string]*domain.UpstreamCancellation
	cancellationByHandle map[string]string

	auto *memTx
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		locks:                newLockTable(),
		now:                  func() time.Time { return time.Now().UTC() },
		products:             make(map[string]domain.Product),
		stock:                make(map[string]domain.StockLevel),
		reservations:         make(map[string]domain.Reservation),
		carts:                make(map[string][]domain.CartLine),
		orders:               make(map[string]domain.Order),
		orderByKey:           make(map[string]string),
		orderByHandle:        make(map[string]string),
		events:               make(map[string]domain.ProcessedEvent),
		outbox:               make(map[string]*outboxRecord),
		timeline:             make(map[string][]domain.TimelineEvent),
		cancellations:        make(map[string]*domain.UpstreamCancellation),
		cancellationByHandle: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auto = &memTx{store: s, auto: true}
	return s
}

// WithinTx выполняет fn атомарно. Паника внутри fn откатывает изменения и пробрасывается дальше.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx := &memTx{store: s, held: make(map[string]struct{})}

	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		tx.rollback()
		return fmt.Errorf("commit: %w", ctxErr)
	}
	tx.commit()
	return nil
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

func (s *Store) Inventory() domain.InventoryLedger                { return s.auto.Inventory() }
func (s *Store) Catalog() domain.Catalog                          { return s.auto.Catalog() }
func (s *Store) Carts() domain.CartRepository                     { return s.auto.Carts() }
func (s *Store) Orders() domain.OrderRepository                   { return s.auto.Orders() }
func (s *Store) ProcessedEvents() domain.ProcessedEventRepository { return s.auto.ProcessedEvents() }
func (s *Store) Outbox() domain.OutboxRepository                  { return s.auto.Outbox() }
func (s *Store) Timeline() domain.TimelineRepository              { return s.auto.Timeline() }
func (s *Store) Cancellations() domain.CancellationQueue          { return s.auto.Cancellations() }

// memTx — транзакция (или autocommit-режим, если auto=true).
type memTx struct {
	store *Store
	auto  bool
	held  map[string]struct{}
	order []string
	undo  []func()
}

func (t *memTx) Inventory() domain.InventoryLedger                { return inventoryLedger{tx: t} }
func (t *memTx) Catalog() domain.Catalog                          { return catalog{tx: t} }
func (t *memTx) Carts() domain.CartRepository                     { return cartRepository{tx: t} }
func (t *memTx) Orders() domain.OrderRepository                   { return orderRepository{tx: t} }
func (t *memTx) ProcessedEvents() domain.ProcessedEventRepository { return processedEventRepository{tx: t} }
func (t *memTx) Outbox() domain.OutboxRepository                  { return outboxRepository{tx: t} }
func (t *memTx) Timeline() domain.TimelineRepository              { return timelineRepository{tx: t} }
func (t *memTx) Cancellations() domain.CancellationQueue          { return cancellationQueue{tx: t} }

// lockRow захватывает строку. В транзакции блокировка держится до конца, release — no-op.
func (t *memTx) lockRow(ctx context.Context, key string) (func(), error) {
	if t.auto {
		if err := t.store.locks.lock(ctx, key); err != nil {
			return nil, err
		}
		return func() { t.store.locks.unlock(key) }, nil
	}
	if _, ok := t.held[key]; ok {
		return func() {}, nil
	}
	if err := t.store.locks.lock(ctx, key); err != nil {
		return nil, err
	}
	t.held[key] = struct{}{}
	t.order = append(t.order, key)
	return func() {}, nil
}

// waitRow дожидается завершения чужой транзакции над строкой, не удерживая блокировку.
func (t *memTx) waitRow(ctx context.Context, key string) error {
	if !t.auto {
		if _, ok := t.held[key]; ok {
			return nil
		}
	}
	if err := t.store.locks.lock(ctx, key); err != nil {
		return err
	}
	t.store.locks.unlock(key)
	return nil
}

// onRollback регистрирует компенсацию; вызывается под store.mu.
func (t *memTx) onRollback(fn func()) {
	if t.auto {
		return
	}
	t.undo = append(t.undo, fn)
}

func (t *memTx) commit() {
	t.undo = nil
	t.releaseAll()
}

func (t *memTx) rollback() {
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.undo = nil
	t.releaseAll()
}

func (t *memTx) releaseAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.store.locks.unlock(t.order[i])
	}
	t.order = nil
	t.held = make(map[string]struct{})
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*memTx)(nil)
)
