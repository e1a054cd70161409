package domain

import (
	"strings"
	"time"
)

// StockItem — строка складского учёта по одному SKU.
//
// Quantity хранит свободный остаток: зарезервированные и проданные единицы в него уже не входят.
// Reserved — единицы, удерживаемые корзинами и оформляемыми заказами.
type StockItem struct {
	SKU               string
	Quantity          int64
	Reserved          int64
	Version           int64
	WarehouseLocation string
	UpdatedAt         time.Time
}

// Available возвращает количество, которое можно зарезервировать прямо сейчас.
func (s StockItem) Available() int64 {
	return s.Quantity
}

// OnHand — физический остаток: свободные плюс удерживаемые единицы.
func (s StockItem) OnHand() int64 {
	return s.Quantity + s.Reserved
}

// IsLowStock сообщает, что свободный остаток ниже порога.
func (s StockItem) IsLowStock(threshold int64) (bool, error) {
	if threshold < 0 {
		return false, ErrThresholdNegative
	}
	return s.Available() < threshold, nil
}

// IsOutOfStock сообщает, что резервировать больше нечего.
func (s StockItem) IsOutOfStock() bool {
	return s.Available() <= 0
}

// ValidateInvariants проверяет инварианты строки остатка.
func (s StockItem) ValidateInvariants() []error {
	var errs []error
	if strings.TrimSpace(s.SKU) == "" {
		errs = append(errs, ErrSKURequired)
	}
	if s.Quantity < 0 {
		errs = append(errs, ErrStockInitialNegative)
	}
	if s.Reserved < 0 || s.Reserved > s.OnHand() {
		errs = append(errs, ErrReservedUnderflow)
	}
	return errs
}

// StockOpKind перечисляет операции протокола резервирования.
type StockOpKind string

const (
	StockOpReserve StockOpKind = "reserve"
	StockOpConfirm StockOpKind = "confirm"
	StockOpCancel  StockOpKind = "cancel"
	StockOpAdjust  StockOpKind = "adjust"
)

// StockOperation описывает одну мутацию строки остатка.
type StockOperation struct {
	Kind StockOpKind
	// Qty — количество для reserve/confirm/cancel либо знаковая дельта для adjust.
	Qty int64
	// ExpectedVersion > 0 включает версионную проверку (только adjust).
	ExpectedVersion int64
}

// Конструкторы операций над строкой ledger.
func Reserve(qty int64) StockOperation { return StockOperation{Kind: StockOpReserve, Qty: qty} }
func Confirm(qty int64) StockOperation { return StockOperation{Kind: StockOpConfirm, Qty: qty} }
func Cancel(qty int64) StockOperation  { return StockOperation{Kind: StockOpCancel, Qty: qty} }
func Adjust(delta, expectedVersion int64) StockOperation {
	return StockOperation{Kind: StockOpAdjust, Qty: delta, ExpectedVersion: expectedVersion}
}

// Validate отсекает некорректные операции до обращения к хранилищу.
func (op StockOperation) Validate() error {
	switch op.Kind {
	case StockOpReserve, StockOpConfirm, StockOpCancel:
		if op.Qty <= 0 {
			return ErrStockQtyInvalid
		}
	case StockOpAdjust:
		if op.Qty == 0 {
			return ErrStockDeltaZero
		}
	default:
		return ErrInvalidRequest
	}
	return nil
}

// StockOutcome — результат мутации, который не является ошибкой.
type StockOutcome string

const (
	// StockOutcomeApplied — изменение записано.
	StockOutcomeApplied StockOutcome = "applied"
	// StockOutcomeInsufficient — свободного остатка не хватает, строка не изменена.
	StockOutcomeInsufficient StockOutcome = "insufficient_stock"
	// StockOutcomeConflict — строка занята или изменена конкурентно; решение о повторе за вызывающим.
	StockOutcomeConflict StockOutcome = "conflict"
)

// StockResult возвращается каждой мутацией ledger.
type StockResult struct {
	Outcome StockOutcome
	// Item — состояние строки после операции (или текущее, если операция не применена).
	Item StockItem
}

// Applied сообщает, что изменение записано.
func (r StockResult) Applied() bool {
	return r.Outcome == StockOutcomeApplied
}

// Err переводит неуспешный outcome в ошибку для вызывающих, которым нужен error.
func (r StockResult) Err() error {
	switch r.Outcome {
	case StockOutcomeApplied:
		return nil
	case StockOutcomeInsufficient:
		return ErrInsufficientStock
	default:
		return ErrStockConflict
	}
}

// ApplyStockOperation применяет операцию к снимку строки. Хранилище обязано вызывать её
// под эксклюзивной блокировкой строки и записывать результат только при StockOutcomeApplied.
func ApplyStockOperation(item StockItem, op StockOperation, now time.Time) (StockItem, StockOutcome, error) {
	if err := op.Validate(); err != nil {
		return item, "", err
	}

	next := item
	switch op.Kind {
	case StockOpReserve:
		if item.Quantity < op.Qty {
			return item, StockOutcomeInsufficient, nil
		}
		next.Quantity -= op.Qty
		next.Reserved += op.Qty
	case StockOpConfirm:
		if item.Reserved < op.Qty {
			return item, "", ErrReservedUnderflow
		}
		next.Reserved -= op.Qty
	case StockOpCancel:
		if item.Reserved < op.Qty {
			return item, "", ErrReservedUnderflow
		}
		next.Quantity += op.Qty
		next.Reserved -= op.Qty
	case StockOpAdjust:
		if op.ExpectedVersion > 0 && op.ExpectedVersion != item.Version {
			return item, StockOutcomeConflict, nil
		}
		if item.Quantity+op.Qty < 0 {
			return item, StockOutcomeInsufficient, nil
		}
		next.Quantity += op.Qty
	}

	if errs := next.ValidateInvariants(); len(errs) > 0 {
		return item, "", &InvariantError{Aggregate: "stock", Violations: errs}
	}

	next.Version++
	next.UpdatedAt = now
	return next, StockOutcomeApplied, nil
}
