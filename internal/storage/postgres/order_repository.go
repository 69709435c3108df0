package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const orderColumns = `
	id, user_id, status, idempotency_key, shipping_address, billing_address,
	subtotal, tax, shipping, total, currency,
	auth_handle, auth_client_secret, auth_attached_at,
	version, created_at, updated_at`

type orderRepository struct {
	tx *pgTx
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	handle, secret, attachedAt := authorizationColumns(order.Authorization)

	return r.tx.atomic(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			order.ID, order.UserID, string(order.Status), order.IdempotencyKey,
			order.ShippingAddress, order.BillingAddress,
			order.Totals.Subtotal, order.Totals.Tax, order.Totals.Shipping, order.Totals.Total, order.Currency,
			handle, secret, attachedAt,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, line := range order.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (order_id, line_no, product_id, qty, unit_price, subtotal)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, order.ID, i+1, line.ProductID, line.Qty, line.UnitPrice, line.Subtotal); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.selectOne(ctx, `WHERE id = $1`, id)
}

func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.selectOne(ctx, `WHERE id = $1 FOR UPDATE`, id)
}

func (r orderRepository) GetByHandleForUpdate(ctx context.Context, handle string) (domain.Order, error) {
	return r.selectOne(ctx, `WHERE auth_handle = $1 FOR UPDATE`, handle)
}

func (r orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	return r.selectOne(ctx, `WHERE idempotency_key = $1`, key)
}

// LockIdempotencyKey берёт транзакционный advisory lock по хешу ключа.
func (r orderRepository) LockIdempotencyKey(ctx context.Context, key string) error {
	if _, err := r.tx.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "order-idem:"+key); err != nil {
		return fmt.Errorf("lock idempotency key: %w", err)
	}
	return nil
}

func (r orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	query := `WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		return r.selectMany(ctx, query+` LIMIT $2`, userID, limit)
	}
	return r.selectMany(ctx, query, userID)
}

func (r orderRepository) ListStale(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.selectMany(ctx, `
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3
	`, string(status), before, limit)
}

// Save обновляет изменяемые поля заказа с проверкой версии (optimistic locking).
func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	handle, secret, attachedAt := authorizationColumns(order.Authorization)

	res, err := r.tx.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    auth_handle = $2,
		    auth_client_secret = $3,
		    auth_attached_at = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6
		  AND version = $7
	`,
		string(order.Status), handle, secret, attachedAt,
		order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func (r orderRepository) selectOne(ctx context.Context, where string, args ...any) (domain.Order, error) {
	order, err := scanOrder(r.tx.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := r.loadDetails(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r orderRepository) selectMany(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := r.tx.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		if err := r.loadDetails(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r orderRepository) loadDetails(ctx context.Context, order *domain.Order) error {
	rows, err := r.tx.q.QueryContext(ctx, `
		SELECT product_id, qty, unit_price, subtotal
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.Qty, &line.UnitPrice, &line.Subtotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order lines: %w", err)
	}
	rows.Close()
	order.Lines = lines

	reservations, err := loadReservations(ctx, r.tx.q, order.ID)
	if err != nil {
		return err
	}
	order.Reservations = make([]domain.ReservationToken, 0, len(reservations))
	for _, row := range reservations {
		order.Reservations = append(order.Reservations, row.ReservationToken)
	}
	return nil
}

func (r orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.tx.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order      domain.Order
		status     string
		handle     sql.NullString
		secret     sql.NullString
		attachedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &status, &order.IdempotencyKey,
		&order.ShippingAddress, &order.BillingAddress,
		&order.Totals.Subtotal, &order.Totals.Tax, &order.Totals.Shipping, &order.Totals.Total, &order.Currency,
		&handle, &secret, &attachedAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if handle.Valid && handle.String != "" {
		order.Authorization = &domain.Authorization{
			Handle:       handle.String,
			ClientSecret: secret.String,
			AttachedAt:   attachedAt.Time,
		}
	}
	return order, nil
}

func authorizationColumns(auth *domain.Authorization) (sql.NullString, sql.NullString, sql.NullTime) {
	if auth == nil || auth.Handle == "" {
		return sql.NullString{}, sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: auth.Handle, Valid: true},
		sql.NullString{String: auth.ClientSecret, Valid: auth.ClientSecret != ""},
		sql.NullTime{Time: auth.AttachedAt, Valid: !auth.AttachedAt.IsZero()}
}

var _ domain.OrderRepository = orderRepository{}
