package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type catalog struct {
	tx *pgTx
}

func (c catalog) Product(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := c.tx.q.QueryRowContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.Name, &product.Price, &product.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (c catalog) UpsertProduct(ctx context.Context, product domain.Product) error {
	if _, err := c.tx.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, active, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Price, product.Active, c.tx.now()); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.Catalog = catalog{}
