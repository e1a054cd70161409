// Package cart держит резервы остатка под позициями корзины.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/service/inventory"
)

// Service управляет корзинами. Каждая единица в корзине зарезервирована в ledger.
type Service struct {
	carts     domain.CartRepository
	catalog   domain.CatalogRepository
	inventory *inventory.Engine
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис корзин.
func NewService(carts domain.CartRepository, catalog domain.CatalogRepository, engine *inventory.Engine, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{
		carts:     carts,
		catalog:   catalog,
		inventory: engine,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddItem резервирует qty единиц и добавляет их в корзину. При нехватке корзина не меняется.
func (s *Service) AddItem(ctx context.Context, buyerID, sku string, qty int64) (domain.CartLine, error) {
	if strings.TrimSpace(buyerID) == "" {
		return domain.CartLine{}, domain.ErrBuyerRequired
	}
	if qty <= 0 {
		return domain.CartLine{}, domain.ErrStockQtyInvalid
	}

	item, err := s.sellable(ctx, sku)
	if err != nil {
		return domain.CartLine{}, err
	}
	if err := s.reserve(ctx, sku, qty); err != nil {
		return domain.CartLine{}, err
	}

	line, err := s.carts.AddQty(ctx, domain.CartLine{
		BuyerID:           buyerID,
		SKU:               sku,
		Qty:               qty,
		UnitPriceSnapshot: item.Price,
		Currency:          item.Currency,
		AddedAt:           s.now(),
	})
	if err != nil {
		s.release(ctx, sku, qty)
		return domain.CartLine{}, err
	}

	s.logger.WithFields(log.Fields{
		"buyer_id": buyerID,
		"sku":      sku,
		"qty":      line.Qty,
	}).Debug("cart line reserved")
	return line, nil
}

// UpdateQuantity доводит позицию до qty, резервируя или освобождая разницу. qty 0 удаляет позицию.
// Разница применяется к позиции атомарно, поэтому параллельные изменения не теряют резерв.
func (s *Service) UpdateQuantity(ctx context.Context, buyerID, sku string, qty int64) (domain.CartLine, error) {
	if qty < 0 {
		return domain.CartLine{}, domain.ErrStockQtyInvalid
	}
	if qty == 0 {
		return domain.CartLine{}, s.RemoveItem(ctx, buyerID, sku)
	}

	line, err := s.carts.Line(ctx, buyerID, sku)
	if err != nil {
		return domain.CartLine{}, err
	}

	diff := qty - line.Qty
	switch {
	case diff > 0:
		if err := s.reserve(ctx, sku, diff); err != nil {
			return domain.CartLine{}, err
		}
		line.Qty = diff
		updated, err := s.carts.AddQty(ctx, line)
		if err != nil {
			s.release(ctx, sku, diff)
			return domain.CartLine{}, err
		}
		return updated, nil
	case diff < 0:
		return s.take(ctx, buyerID, sku, -diff)
	default:
		return line, nil
	}
}

// RemoveItem освобождает резерв позиции и удаляет её.
func (s *Service) RemoveItem(ctx context.Context, buyerID, sku string) error {
	line, err := s.carts.Line(ctx, buyerID, sku)
	if err != nil {
		return err
	}
	_, err = s.take(ctx, buyerID, sku, line.Qty)
	return err
}

// Abandon освобождает все резервы корзины и удаляет её позиции.
// Позиции, добавленные после чтения корзины, остаются вместе со своими резервами.
func (s *Service) Abandon(ctx context.Context, buyerID string) error {
	lines, err := s.carts.Lines(ctx, buyerID)
	if err != nil {
		return err
	}

	var errs []error
	for _, line := range lines {
		if _, err := s.take(ctx, buyerID, line.SKU, line.Qty); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// take вычитает qty из позиции и отменяет столько же единиц резерва.
// Если ledger отказал, единицы возвращаются в корзину.
func (s *Service) take(ctx context.Context, buyerID, sku string, qty int64) (domain.CartLine, error) {
	line, err := s.carts.SubtractQty(ctx, buyerID, sku, qty)
	if err != nil {
		return domain.CartLine{}, err
	}

	res, err := s.inventory.CancelReservation(ctx, sku, qty)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		restore := line
		restore.Qty = qty
		if _, restoreErr := s.carts.AddQty(ctx, restore); restoreErr != nil {
			s.logger.WithError(restoreErr).WithFields(log.Fields{
				"buyer_id": buyerID,
				"sku":      sku,
				"qty":      qty,
			}).Error("failed to restore cart line")
		}
		return domain.CartLine{}, err
	}
	return line, nil
}

// Lines возвращает позиции корзины.
func (s *Service) Lines(ctx context.Context, buyerID string) ([]domain.CartLine, error) {
	return s.carts.Lines(ctx, buyerID)
}

func (s *Service) sellable(ctx context.Context, sku string) (domain.CatalogItem, error) {
	item, err := s.catalog.FindBySKU(ctx, sku)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if !item.Active {
		return domain.CatalogItem{}, domain.ErrItemNotSellable
	}
	return item, nil
}

func (s *Service) reserve(ctx context.Context, sku string, qty int64) error {
	res, err := s.inventory.Reserve(ctx, sku, qty)
	if err != nil {
		return err
	}
	return res.Err()
}

func (s *Service) release(ctx context.Context, sku string, qty int64) {
	if _, err := s.inventory.CancelReservation(ctx, sku, qty); err != nil {
		s.logger.WithError(err).WithField("sku", sku).Error("failed to release reservation")
	}
}
