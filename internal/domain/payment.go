package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние платежа. Заказ использует подмножество без FAILED.
type PaymentStatus string

const (
	// PaymentStatusNone — платёж создан, но не авторизован.
	PaymentStatusNone PaymentStatus = "NONE"
	// PaymentStatusAuthorized — провайдер одобрил и удерживает сумму.
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	// PaymentStatusCaptured — деньги списаны.
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	// PaymentStatusRefunded — деньги возвращены.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	// PaymentStatusFailed — попытка оплаты провалилась, платёж закрыт.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusNone, PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// Active — по заказу может существовать только один платёж в таком статусе.
func (s PaymentStatus) Active() bool {
	return s == PaymentStatusNone || s == PaymentStatusAuthorized
}

// Payment описывает попытку оплаты заказа.
type Payment struct {
	ID                string
	OrderID           string
	PayerID           string
	PaymentMethodID   string
	Amount            decimal.Decimal
	Currency          string
	Status            PaymentStatus
	TransactionID     string
	AuthorizationCode string
	ResponseCode      string
	CaptureCode       string
	CardToken         string
	ErrorCode         string
	ErrorMessage      string
	RefundAmount      decimal.NullDecimal
	RefundReason      string
	RefundCode        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	AuthorizedAt      *time.Time
	CapturedAt        *time.Time
	FailedAt          *time.Time
	RefundedAt        *time.Time
	Version           int64
}

// PaymentEvent — событие state machine платежа.
type PaymentEvent string

const (
	PaymentEventAuthorize PaymentEvent = "authorize"
	PaymentEventCapture   PaymentEvent = "capture"
	PaymentEventFail      PaymentEvent = "fail"
	PaymentEventRefund    PaymentEvent = "refund"
)

// paymentTransitions — таблица переходов (status, event) -> status.
var paymentTransitions = map[PaymentStatus]map[PaymentEvent]PaymentStatus{
	PaymentStatusNone: {
		PaymentEventAuthorize: PaymentStatusAuthorized,
		PaymentEventFail:      PaymentStatusFailed,
	},
	PaymentStatusAuthorized: {
		PaymentEventCapture: PaymentStatusCaptured,
		PaymentEventFail:    PaymentStatusFailed,
	},
	PaymentStatusCaptured: {
		PaymentEventRefund: PaymentStatusRefunded,
	},
}

// NextPaymentStatus возвращает целевой статус или TransitionError.
func NextPaymentStatus(from PaymentStatus, event PaymentEvent) (PaymentStatus, error) {
	to, ok := paymentTransitions[from][event]
	if !ok {
		return from, &TransitionError{Aggregate: "payment", From: string(from), Event: string(event)}
	}
	return to, nil
}

// AuthorizationResult — ответ провайдера на авторизацию.
type AuthorizationResult struct {
	TransactionID     string
	AuthorizationCode string
	ResponseCode      string
}

// Authorize переводит платёж NONE -> AUTHORIZED.
func (p *Payment) Authorize(res AuthorizationResult, now time.Time) error {
	return p.transition(PaymentEventAuthorize, now, func(p *Payment) {
		p.TransactionID = res.TransactionID
		p.AuthorizationCode = res.AuthorizationCode
		p.ResponseCode = res.ResponseCode
		p.AuthorizedAt = timePtr(now)
	})
}

// Capture переводит платёж AUTHORIZED -> CAPTURED.
func (p *Payment) Capture(captureCode string, now time.Time) error {
	return p.transition(PaymentEventCapture, now, func(p *Payment) {
		p.CaptureCode = captureCode
		p.CapturedAt = timePtr(now)
	})
}

// Fail фиксирует неудачную попытку. Из CAPTURED и REFUNDED не допускается.
func (p *Payment) Fail(code, message string, now time.Time) error {
	return p.transition(PaymentEventFail, now, func(p *Payment) {
		p.ErrorCode = code
		p.ErrorMessage = message
		p.FailedAt = timePtr(now)
	})
}

// Refund возвращает amount (не больше суммы платежа) и переводит CAPTURED -> REFUNDED.
func (p *Payment) Refund(amount decimal.Decimal, reason, refundCode string, now time.Time) error {
	if !amount.IsPositive() {
		return ErrRefundAmountInvalid
	}
	if _, err := NextPaymentStatus(p.Status, PaymentEventRefund); err != nil {
		return err
	}
	if amount.GreaterThan(p.Amount) {
		return ErrRefundExceedsAmount
	}
	return p.transition(PaymentEventRefund, now, func(p *Payment) {
		p.RefundAmount = decimal.NewNullDecimal(amount)
		p.RefundReason = reason
		p.RefundCode = refundCode
		p.RefundedAt = timePtr(now)
	})
}

func (p *Payment) transition(event PaymentEvent, now time.Time, effect func(p *Payment)) error {
	to, err := NextPaymentStatus(p.Status, event)
	if err != nil {
		return err
	}
	prior := *p
	p.Status = to
	effect(p)
	p.UpdatedAt = now
	if errs := p.Validate(); len(errs) > 0 {
		*p = prior
		return &InvariantError{Aggregate: "payment", Violations: errs}
	}
	return nil
}

// Validate проверяет корректность полей платежа и корреляцию статуса с отметками времени.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.PayerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if !validCurrency(p.Currency) {
		errs = append(errs, ErrCurrencyInvalid)
	}
	if !p.Amount.IsPositive() {
		errs = append(errs, ErrTotalNotPositive)
	}
	if p.RefundAmount.Valid && p.RefundAmount.Decimal.GreaterThan(p.Amount) {
		errs = append(errs, ErrRefundExceedsAmount)
	}

	switch p.Status {
	case PaymentStatusAuthorized:
		if p.TransactionID == "" || p.AuthorizedAt == nil {
			errs = append(errs, ErrInvariantViolated)
		}
	case PaymentStatusCaptured:
		if p.CapturedAt == nil {
			errs = append(errs, ErrInvariantViolated)
		}
	case PaymentStatusRefunded:
		if p.RefundedAt == nil || !p.RefundAmount.Valid {
			errs = append(errs, ErrInvariantViolated)
		}
	case PaymentStatusFailed:
		if p.FailedAt == nil {
			errs = append(errs, ErrInvariantViolated)
		}
	}

	return errs
}
