package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Line — позиция корзины с текущей доступностью товара.
type Line struct {
	domain.CartLine
	Available int32
	InStock   bool
}

// View — корзина вместе с предварительным расчётом суммы.
// Snapshot и Totals заполняются, только если все позиции доступны.
type View struct {
	Lines    []Line
	Snapshot domain.Snapshot
	Totals   domain.Totals
}

// Ready сообщает, можно ли оформить заказ по корзине прямо сейчас.
func (v View) Ready() bool { return !v.Snapshot.IsEmpty() }

// Service управляет корзиной пользователя.
type Service struct {
	store       domain.Store
	snapshotter *Snapshotter
	pricing     domain.PricingPolicy
	now         func() time.Time
	logger      *log.Entry
}

// NewService создаёт сервис корзины.
func NewService(store domain.Store, pricing domain.PricingPolicy, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "cart-service")
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		store:       store,
		snapshotter: NewSnapshotter(now),
		pricing:     pricing,
		now:         now,
		logger:      logger,
	}
}

// AddItem добавляет товар в корзину; повторное добавление увеличивает количество.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int32) error {
	if userID == "" {
		return domain.ErrUserRequired
	}
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		lines, err := tx.Carts().Lines(ctx, userID)
		if err != nil {
			return fmt.Errorf("read cart: %w", err)
		}
		want := qty
		for _, line := range lines {
			if line.ProductID == productID {
				want += line.Qty
			}
		}
		if err := ensureAvailable(ctx, tx, productID, want); err != nil {
			return err
		}
		if err := tx.Carts().AddItem(ctx, userID, productID, qty, s.now()); err != nil {
			return fmt.Errorf("add cart item: %w", err)
		}
		s.logger.WithFields(log.Fields{
			"user_id":    userID,
			"product_id": productID,
			"qty":        qty,
		}).Debug("Cart item added")
		return nil
	})
}

// SetQuantity заменяет количество позиции.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, qty int32) error {
	if userID == "" {
		return domain.ErrUserRequired
	}
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := ensureAvailable(ctx, tx, productID, qty); err != nil {
			return err
		}
		return tx.Carts().SetQuantity(ctx, userID, productID, qty)
	})
}

// RemoveItem удаляет позицию. Отсутствующая позиция не считается ошибкой.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	if userID == "" {
		return domain.ErrUserRequired
	}
	return s.store.Carts().RemoveItem(ctx, userID, productID)
}

// Clear очищает корзину.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUserRequired
	}
	return s.store.Carts().Clear(ctx, userID)
}

// Get возвращает корзину с ценами на текущий момент. Недоступные позиции помечаются,
// а не роняют весь ответ; снимок и суммы в этом случае не считаются.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUserRequired
	}

	var view View
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		lines, err := tx.Carts().Lines(ctx, userID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		ready := true
		view.Lines = make([]Line, 0, len(lines))
		for _, cartLine := range lines {
			line, err := lineAvailability(ctx, tx, cartLine)
			if err != nil {
				return err
			}
			ready = ready && line.InStock
			view.Lines = append(view.Lines, line)
		}
		if !ready {
			return nil
		}

		snapshot, err := s.snapshotter.Capture(ctx, tx, userID)
		if err != nil {
			return err
		}
		view.Snapshot = snapshot
		view.Totals = s.pricing.Compute(snapshot.Subtotal())
		return nil
	})
	return view, err
}

func lineAvailability(ctx context.Context, tx domain.Tx, cartLine domain.CartLine) (Line, error) {
	line := Line{CartLine: cartLine}
	product, err := tx.Catalog().Product(ctx, cartLine.ProductID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return line, nil
	}
	if err != nil {
		return Line{}, fmt.Errorf("product %s: %w", cartLine.ProductID, err)
	}
	if !product.Active {
		return line, nil
	}
	level, err := tx.Inventory().Level(ctx, cartLine.ProductID)
	if err != nil {
		return Line{}, fmt.Errorf("stock level %s: %w", cartLine.ProductID, err)
	}
	line.Available = level.Available()
	line.InStock = line.Available >= cartLine.Qty
	return line, nil
}

// ensureAvailable проверяет, что товар продаётся и свободного остатка хватает на qty.
func ensureAvailable(ctx context.Context, tx domain.Tx, productID string, qty int32) error {
	product, err := tx.Catalog().Product(ctx, productID)
	if err != nil {
		return fmt.Errorf("product %s: %w", productID, err)
	}
	if !product.Active {
		return fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
	}
	level, err := tx.Inventory().Level(ctx, productID)
	if err != nil {
		return fmt.Errorf("stock level %s: %w", productID, err)
	}
	if level.Available() < qty {
		return &domain.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: level.Available(),
		}
	}
	return nil
}
