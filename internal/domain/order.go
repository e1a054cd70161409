package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан на checkout, оплата ещё не завершена.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — платёж списан.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusFailed — платёж не прошёл, заказ закрыт.
	OrderStatusFailed OrderStatus = "FAILED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled, OrderStatusShipped:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что статус больше не меняется.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFailed || s == OrderStatusCancelled || s == OrderStatusShipped
}

// Ключи метаданных заказа.
const (
	MetaCreatedFromCart   = "created_from_cart"
	MetaCartItemCount     = "cart_item_count"
	MetaPaymentMethodID   = "payment_method_id"
	MetaPaymentMethodType = "payment_method_type"
	MetaPaymentMethodName = "payment_method_name"
	MetaOrderNotes        = "order_notes"
	MetaTrackingNumber    = "tracking_number"
	MetaCancelReason      = "cancel_reason"
	MetaFailureReason     = "failure_reason"
)

// Address — адрес доставки или оплаты.
type Address struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
}

// IsZero сообщает, что адрес не заполнен.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OrderLine — неизменяемый снимок позиции корзины на момент checkout.
type OrderLine struct {
	ID         string
	OrderID    string
	SKU        string
	UnitPrice  decimal.Decimal
	Qty        int64
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
}

// NewOrderLine фиксирует цену и считает сумму позиции.
func NewOrderLine(id, orderID, sku string, unitPrice decimal.Decimal, qty int64, now time.Time) OrderLine {
	return OrderLine{
		ID:         id,
		OrderID:    orderID,
		SKU:        sku,
		UnitPrice:  unitPrice,
		Qty:        qty,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(qty)),
		CreatedAt:  now,
	}
}

// Order агрегирует состояние заказа, его позиции и статус оплаты.
type Order struct {
	ID              string
	BuyerID         string
	TotalAmount     decimal.Decimal
	Currency        string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Lines           []OrderLine
	ShippingAddress Address
	BillingAddress  Address
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
	ShippedAt       *time.Time
	Version         int64
}

var (
	ErrPaidRequiresCapture     = errors.New("paid order requires captured payment and paid_at")
	ErrShippedRequiresCapture  = errors.New("shipped order requires captured payment")
	ErrCancelledRequiresTime   = errors.New("cancelled order requires cancelled_at")
	ErrOrderStatusUnknown      = errors.New("unknown order status")
	ErrOrderPaymentStatusValid = errors.New("order payment status must be NONE, AUTHORIZED, CAPTURED or REFUNDED")
)

// SumLines возвращает сумму позиций.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.TotalPrice)
	}
	return total
}

// ValidateInvariants проверяет инварианты заказа и возвращает список нарушений.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if !validCurrency(o.Currency) {
		errs = append(errs, ErrCurrencyInvalid)
	}
	if !o.TotalAmount.IsPositive() {
		errs = append(errs, ErrTotalNotPositive)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	for _, line := range o.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	if len(o.Lines) > 0 && !SumLines(o.Lines).Equal(o.TotalAmount) {
		errs = append(errs, ErrTotalMismatch)
	}

	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusUnknown)
	}
	switch o.PaymentStatus {
	case PaymentStatusNone, PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusRefunded:
	default:
		errs = append(errs, ErrOrderPaymentStatusValid)
	}

	// Корреляции статуса заказа и статуса оплаты.
	// Возврат по PAID заказу не меняет status, поэтому REFUNDED здесь допустим.
	paidSettled := o.PaymentStatus == PaymentStatusCaptured || o.PaymentStatus == PaymentStatusRefunded
	if o.Status == OrderStatusPaid && (!paidSettled || o.PaidAt == nil) {
		errs = append(errs, ErrPaidRequiresCapture)
	}
	if o.Status == OrderStatusShipped && o.PaymentStatus != PaymentStatusCaptured {
		errs = append(errs, ErrShippedRequiresCapture)
	}
	if o.Status == OrderStatusCancelled && o.CancelledAt == nil {
		errs = append(errs, ErrCancelledRequiresTime)
	}

	return errs
}

// OrderEvent — событие state machine заказа.
type OrderEvent string

const (
	OrderEventAuthorizePayment OrderEvent = "authorize_payment"
	OrderEventMarkPaid         OrderEvent = "mark_paid"
	OrderEventCancel           OrderEvent = "cancel"
	OrderEventShip             OrderEvent = "ship"
	OrderEventMarkFailed       OrderEvent = "mark_failed"
	OrderEventRefundPayment    OrderEvent = "refund_payment"
)

type orderTransition struct {
	to          OrderStatus
	paymentFrom []PaymentStatus
	effect      func(o *Order, now time.Time)
}

// orderTransitions — единственная таблица переходов (status, event) -> status.
var orderTransitions = map[OrderStatus]map[OrderEvent]orderTransition{
	OrderStatusPending: {
		OrderEventAuthorizePayment: {
			to:          OrderStatusPending,
			paymentFrom: []PaymentStatus{PaymentStatusNone},
			effect:      func(o *Order, _ time.Time) { o.PaymentStatus = PaymentStatusAuthorized },
		},
		OrderEventMarkPaid: {
			to:          OrderStatusPaid,
			paymentFrom: []PaymentStatus{PaymentStatusNone, PaymentStatusAuthorized},
			effect: func(o *Order, now time.Time) {
				o.PaymentStatus = PaymentStatusCaptured
				o.PaidAt = timePtr(now)
			},
		},
		OrderEventCancel: {
			to:     OrderStatusCancelled,
			effect: func(o *Order, now time.Time) { o.CancelledAt = timePtr(now) },
		},
		OrderEventMarkFailed: {to: OrderStatusFailed},
	},
	OrderStatusPaid: {
		OrderEventCancel: {
			to:     OrderStatusCancelled,
			effect: func(o *Order, now time.Time) { o.CancelledAt = timePtr(now) },
		},
		OrderEventShip: {
			to:          OrderStatusShipped,
			paymentFrom: []PaymentStatus{PaymentStatusCaptured},
			effect:      func(o *Order, now time.Time) { o.ShippedAt = timePtr(now) },
		},
		OrderEventRefundPayment: {
			to:          OrderStatusPaid,
			paymentFrom: []PaymentStatus{PaymentStatusCaptured},
			effect:      func(o *Order, _ time.Time) { o.PaymentStatus = PaymentStatusRefunded },
		},
	},
	OrderStatusCancelled: {
		OrderEventRefundPayment: {
			to:          OrderStatusCancelled,
			paymentFrom: []PaymentStatus{PaymentStatusCaptured},
			effect:      func(o *Order, _ time.Time) { o.PaymentStatus = PaymentStatusRefunded },
		},
	},
}

func (o *Order) lookup(event OrderEvent) (orderTransition, error) {
	tr, ok := orderTransitions[o.Status][event]
	if !ok {
		return orderTransition{}, &TransitionError{Aggregate: "order", From: string(o.Status), Event: string(event)}
	}
	if len(tr.paymentFrom) > 0 && !containsPaymentStatus(tr.paymentFrom, o.PaymentStatus) {
		return orderTransition{}, &TransitionError{
			Aggregate: "order",
			From:      string(o.Status),
			Event:     string(event),
			Reason:    "payment status " + string(o.PaymentStatus),
		}
	}
	return tr, nil
}

// Can сообщает, допускает ли таблица переходов событие в текущем состоянии.
func (o *Order) Can(event OrderEvent) bool {
	_, err := o.lookup(event)
	return err == nil
}

// CanBeCancelled — заказ ещё можно отменить.
func (o *Order) CanBeCancelled() bool { return o.Can(OrderEventCancel) }

// CanBeShipped — заказ оплачен и может быть отгружен.
func (o *Order) CanBeShipped() bool { return o.Can(OrderEventShip) }

// Apply выполняет переход и перепроверяет инварианты. При любой ошибке заказ не меняется.
func (o *Order) Apply(event OrderEvent, now time.Time) error {
	tr, err := o.lookup(event)
	if err != nil {
		return err
	}

	prior := *o
	o.Status = tr.to
	if tr.effect != nil {
		tr.effect(o, now)
	}
	o.UpdatedAt = now

	if errs := o.ValidateInvariants(); len(errs) > 0 {
		*o = prior
		return &InvariantError{Aggregate: "order", Violations: errs}
	}
	return nil
}

// SetMeta записывает значение метаданных, создавая map при необходимости.
func (o *Order) SetMeta(key, value string) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]string)
	}
	o.Metadata[key] = value
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func containsPaymentStatus(list []PaymentStatus, s PaymentStatus) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time {
	return &t
}
