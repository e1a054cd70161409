package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Buyer — покупатель, оформляющий заказ.
type Buyer struct {
	ID     string
	Email  string
	Active bool
}

// CatalogItem — карточка товара, которую checkout проверяет на продаваемость.
type CatalogItem struct {
	SKU      string
	Name     string
	Price    decimal.Decimal
	Currency string
	Active   bool
}

// CartLine — позиция корзины с ценой, зафиксированной при добавлении.
type CartLine struct {
	BuyerID           string
	SKU               string
	Qty               int64
	UnitPriceSnapshot decimal.Decimal
	Currency          string
	AddedAt           time.Time
}

// LineTotal — сумма позиции по цене снимка.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPriceSnapshot.Mul(decimal.NewFromInt(l.Qty))
}
