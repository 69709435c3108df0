package inventory

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Service — операторские действия над каталогом и складом.
type Service struct {
	store  domain.Store
	logger *log.Entry
}

// NewService создаёт сервис склада.
func NewService(store domain.Store, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "inventory-service")
	}
	return &Service{store: store, logger: logger}
}

// UpsertProduct создаёт или обновляет товар. Цена должна быть положительной.
func (s *Service) UpsertProduct(ctx context.Context, product domain.Product) error {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return fmt.Errorf("%w: empty product id", domain.ErrProductNotFound)
	}
	if !product.Price.IsPositive() {
		return fmt.Errorf("product %s: %w", product.ID, domain.ErrInvalidPrice)
	}

	if err := s.store.Catalog().UpsertProduct(ctx, product); err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"price":      product.Price.StringFixed(2),
		"active":     product.Active,
	}).Info("Product upserted")
	return nil
}

// SetOnHand фиксирует физический остаток товара.
func (s *Service) SetOnHand(ctx context.Context, productID string, onHand int32) error {
	if onHand < 0 {
		return domain.ErrInvalidQuantity
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Catalog().Product(ctx, productID); err != nil {
			return fmt.Errorf("product %s: %w", productID, err)
		}
		if err := tx.Inventory().SetOnHand(ctx, productID, onHand); err != nil {
			return fmt.Errorf("set on hand %s: %w", productID, err)
		}
		s.logger.WithFields(log.Fields{
			"product_id": productID,
			"on_hand":    onHand,
		}).Info("Stock level updated")
		return nil
	})
}

// Level возвращает остаток товара.
func (s *Service) Level(ctx context.Context, productID string) (domain.StockLevel, error) {
	if _, err := s.store.Catalog().Product(ctx, productID); err != nil {
		return domain.StockLevel{}, err
	}
	return s.store.Inventory().Level(ctx, productID)
}

// Reservations возвращает строки леджера по заказу.
func (s *Service) Reservations(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return s.store.Inventory().Reservations(ctx, orderID)
}
