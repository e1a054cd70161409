package domain

import (
	"errors"
	"fmt"
)

// Ошибки валидации: запрос отклоняется до любых изменений состояния.
var (
	// ErrSKURequired — не указан SKU позиции.
	ErrSKURequired = errors.New("sku is required")
	// ErrStockQtyInvalid — количество для резерва/подтверждения/отмены должно быть > 0.
	ErrStockQtyInvalid = errors.New("stock qty must be greater than zero")
	// ErrStockDeltaZero — корректировка остатка на ноль бессмысленна.
	ErrStockDeltaZero = errors.New("stock adjustment delta must be non-zero")
	// ErrStockInitialNegative — начальный остаток не может быть отрицательным.
	ErrStockInitialNegative = errors.New("initial stock quantity must be non-negative")
	// ErrThresholdNegative — порог low-stock не может быть отрицательным.
	ErrThresholdNegative = errors.New("low stock threshold must be non-negative")
	ErrBuyerRequired     = errors.New("buyer_id is required")
	ErrOrderIDRequired   = errors.New("order_id is required")
	ErrCurrencyInvalid   = errors.New("currency must be a 3-letter code")
	ErrTotalNotPositive  = errors.New("order total must be greater than zero")
	ErrLinesRequired     = errors.New("order must contain at least one line")
	ErrLineQtyInvalid    = errors.New("order line qty must be greater than zero")
	ErrLinePriceInvalid  = errors.New("order line unit price must be non-negative")
	ErrTotalMismatch     = errors.New("order total does not match lines sum")
	// ErrRefundAmountInvalid — сумма возврата должна быть > 0.
	ErrRefundAmountInvalid = errors.New("refund amount must be greater than zero")
	// ErrPaymentMethodOffline — для онлайн-оплаты допустимы только онлайн-методы.
	ErrPaymentMethodOffline = errors.New("only online payment methods are accepted")
	// ErrPaymentMethodInactive — метод оплаты отключён.
	ErrPaymentMethodInactive = errors.New("payment method is inactive")
	// ErrCurrencyMismatch — позиции корзины оценены в разных валютах.
	ErrCurrencyMismatch = errors.New("cart lines use different currencies")
	// ErrInvalidRequest — структура запроса не прошла валидацию.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCardInvalid — данные карты не прошли проверку.
	ErrCardInvalid = errors.New("card data is invalid")
)

// Конфликты состояния: агрегат остаётся нетронутым.
var (
	// ErrIllegalTransition — событие не допускается таблицей переходов в текущем состоянии.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrInvariantViolated — состояние после перехода нарушает инварианты агрегата.
	ErrInvariantViolated = errors.New("aggregate invariant violated")
	// ErrReservedUnderflow — попытка подтвердить/отменить больше, чем зарезервировано.
	ErrReservedUnderflow = errors.New("reserved stock is lower than requested qty")
	// ErrInsufficientStock — доступного остатка не хватает (используется вызывающими, ledger отдаёт outcome).
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockConflict — строка остатка изменена конкурентно, можно повторить.
	ErrStockConflict = errors.New("stock concurrently modified, try again")
	// ErrRefundExceedsAmount — сумма возврата больше суммы платежа.
	ErrRefundExceedsAmount = errors.New("refund amount exceeds payment amount")
	// ErrActivePaymentExists — по заказу уже есть активный платёж.
	ErrActivePaymentExists = errors.New("order already has an active payment")
	// ErrPaymentMethodForeign — метод оплаты принадлежит другому пользователю.
	ErrPaymentMethodForeign = errors.New("payment method belongs to another user")
	// ErrOrderForeign — заказ принадлежит другому пользователю.
	ErrOrderForeign = errors.New("order belongs to another user")
	// ErrBuyerInactive — покупатель заблокирован.
	ErrBuyerInactive = errors.New("buyer is inactive")
	// ErrCartEmpty — оформление пустой корзины.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrItemNotSellable — товар снят с продажи.
	ErrItemNotSellable = errors.New("catalog item is not sellable")
	// ErrTokenExpired — срок жизни токена карты истёк.
	ErrTokenExpired = errors.New("card token expired")
	// ErrStockItemExists — SKU уже заведён в леджере.
	ErrStockItemExists = errors.New("stock item already exists")
	// ErrCartLineChanged — позицию корзины успели изменить параллельно.
	ErrCartLineChanged = errors.New("cart line changed concurrently")
)

// Отсутствующие записи.
var (
	ErrStockItemNotFound     = errors.New("stock item not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrBuyerNotFound         = errors.New("buyer not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrCatalogItemNotFound   = errors.New("catalog item not found")
	ErrCartLineNotFound      = errors.New("cart line not found")
	ErrTokenNotFound         = errors.New("card token not found")
)

var (
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPaymentVersionConflict сигнализирует о конфликте версий при сохранении платежа.
	ErrPaymentVersionConflict = errors.New("payment version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var validationErrors = []error{
	ErrSKURequired, ErrStockQtyInvalid, ErrStockDeltaZero, ErrStockInitialNegative, ErrThresholdNegative,
	ErrBuyerRequired, ErrOrderIDRequired, ErrCurrencyInvalid, ErrTotalNotPositive, ErrLinesRequired,
	ErrLineQtyInvalid, ErrLinePriceInvalid, ErrTotalMismatch, ErrRefundAmountInvalid,
	ErrPaymentMethodOffline, ErrPaymentMethodInactive, ErrCurrencyMismatch, ErrInvalidRequest, ErrCardInvalid,
}

var stateConflictErrors = []error{
	ErrIllegalTransition, ErrInvariantViolated, ErrReservedUnderflow, ErrInsufficientStock, ErrStockConflict,
	ErrRefundExceedsAmount, ErrActivePaymentExists, ErrPaymentMethodForeign, ErrOrderForeign,
	ErrBuyerInactive, ErrCartEmpty, ErrItemNotSellable, ErrTokenExpired, ErrStockItemExists, ErrCartLineChanged,
}

var notFoundErrors = []error{
	ErrStockItemNotFound, ErrOrderNotFound, ErrPaymentNotFound, ErrBuyerNotFound,
	ErrPaymentMethodNotFound, ErrCatalogItemNotFound, ErrCartLineNotFound, ErrTokenNotFound,
}

func isAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation сообщает, что запрос отклонён до изменения состояния.
func IsValidation(err error) bool { return isAny(err, validationErrors) }

// IsStateConflict сообщает, что операция недопустима в текущем состоянии агрегата.
func IsStateConflict(err error) bool { return isAny(err, stateConflictErrors) }

// IsNotFound сообщает об отсутствующей записи.
func IsNotFound(err error) bool { return isAny(err, notFoundErrors) }

// IsVersionConflict проверяет, является ли ошибка конфликтом версий заказа или платежа.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrPaymentVersionConflict)
}

// TransitionError описывает отклонённый переход state machine.
type TransitionError struct {
	Aggregate string
	From      string
	Event     string
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: event %q is not allowed in state %q", e.Aggregate, e.Event, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap позволяет сравнивать ошибку с ErrIllegalTransition через errors.Is.
func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// InvariantError перечисляет нарушенные инварианты агрегата.
type InvariantError struct {
	Aggregate  string
	Violations []error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Aggregate, ErrInvariantViolated, errors.Join(e.Violations...))
}

func (e *InvariantError) Unwrap() []error {
	return append([]error{ErrInvariantViolated}, e.Violations...)
}

// InvalidRequest оборачивает ошибку валидатора так, что errors.Is(err, ErrInvalidRequest) == true.
func InvalidRequest(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
