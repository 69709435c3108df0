package memory

import (
	"context"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type catalog struct {
	tx *memTx
}

func (c catalog) Product(ctx context.Context, productID string) (domain.Product, error) {
	if err := c.tx.waitRow(ctx, catalogKey(productID)); err != nil {
		return domain.Product{}, err
	}

	s := c.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (c catalog) UpsertProduct(ctx context.Context, product domain.Product) error {
	release, err := c.tx.lockRow(ctx, catalogKey(product.ID))
	if err != nil {
		return err
	}
	defer release()

	s := c.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.products[product.ID]
	s.products[product.ID] = product

	c.tx.onRollback(func() {
		if existed {
			s.products[product.ID] = prev
		} else {
			delete(s.products, product.ID)
		}
	})
	return nil
}

var _ domain.Catalog = catalog{}
