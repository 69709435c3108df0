package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db   *sql.DB
	now  func() time.Time
	auto *pgTx
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *Store {
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	s.auto = &pgTx{q: db, db: db, now: s.now}
	return s
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx выполняет fn в транзакции READ COMMITTED; блокировки строк берутся явно через FOR UPDATE.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{q: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Inventory() domain.InventoryLedger                { return s.auto.Inventory() }
func (s *Store) Catalog() domain.Catalog                          { return s.auto.Catalog() }
func (s *Store) Carts() domain.CartRepository                     { return s.auto.Carts() }
func (s *Store) Orders() domain.OrderRepository                   { return s.auto.Orders() }
func (s *Store) ProcessedEvents() domain.ProcessedEventRepository { return s.auto.ProcessedEvents() }
func (s *Store) Outbox() domain.OutboxRepository                  { return s.auto.Outbox() }
func (s *Store) Timeline() domain.TimelineRepository              { return s.auto.Timeline() }
func (s *Store) Cancellations() domain.CancellationQueue          { return s.auto.Cancellations() }

// pgTx — репозитории поверх транзакции. db != nil означает autocommit-режим.
type pgTx struct {
	q   querier
	db  *sql.DB
	now func() time.Time
}

func (t *pgTx) Inventory() domain.InventoryLedger                { return inventoryLedger{tx: t} }
func (t *pgTx) Catalog() domain.Catalog                          { return catalog{tx: t} }
func (t *pgTx) Carts() domain.CartRepository                     { return cartRepository{tx: t} }
func (t *pgTx) Orders() domain.OrderRepository                   { return orderRepository{tx: t} }
func (t *pgTx) ProcessedEvents() domain.ProcessedEventRepository { return processedEventRepository{tx: t} }
func (t *pgTx) Outbox() domain.OutboxRepository                  { return outboxRepository{tx: t} }
func (t *pgTx) Timeline() domain.TimelineRepository              { return timelineRepository{tx: t} }
func (t *pgTx) Cancellations() domain.CancellationQueue          { return cancellationQueue{tx: t} }

// atomic выполняет несколько запросов атомарно: внутри транзакции как есть,
// в autocommit-режиме открывает короткую транзакцию.
func (t *pgTx) atomic(ctx context.Context, fn func(q querier) error) error {
	if t.db == nil {
		return fn(t.q)
	}

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*pgTx)(nil)
)
