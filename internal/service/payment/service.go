// Package payment ведёт платежи по state machine и синхронизирует статус заказа.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/metrics"
	"github.com/vladislavdragonenkov/stockflow/internal/service/order"
	"github.com/vladislavdragonenkov/stockflow/internal/service/resilience"
)

// Коды ошибок, которые сервис сам записывает в платёж.
const (
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeAuthorizationFailed = "AUTHORIZATION_FAILED"
)

// TokenResolver разворачивает токен карты.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (domain.CardToken, error)
}

// InitiateRequest — запрос на создание платежа.
type InitiateRequest struct {
	OrderID         string `validate:"required"`
	PayerID         string `validate:"required"`
	PaymentMethodID string `validate:"required"`
	CardToken       string `validate:"omitempty,startswith=tok_"`
}

// Service управляет платежами.
type Service struct {
	tx       domain.Transactor
	payments domain.PaymentRepository
	methods  domain.PaymentMethodRepository
	tokens   TokenResolver
	gateway  domain.PaymentGateway
	metrics  *metrics.TransitionMetrics
	retry    resilience.RetryConfig
	validate *validator.Validate
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.TransitionMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTokenResolver включает проверку токенов карт при авторизации.
func WithTokenResolver(tokens TokenResolver) Option {
	return func(s *Service) { s.tokens = tokens }
}

func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт платёжный сервис.
func NewService(
	tx domain.Transactor,
	payments domain.PaymentRepository,
	methods domain.PaymentMethodRepository,
	gateway domain.PaymentGateway,
	opts ...Option,
) *Service {
	s := &Service{
		tx:       tx,
		payments: payments,
		methods:  methods,
		gateway:  gateway,
		retry:    resilience.DefaultRetryConfig(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithField("component", "payment-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate создаёт платёж NONE на сумму заказа.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (domain.Payment, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return domain.Payment{}, domain.InvalidRequest(err)
	}

	method, err := s.methods.Get(ctx, req.PaymentMethodID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := method.CheckUsableBy(req.PayerID); err != nil {
		return domain.Payment{}, err
	}

	var created domain.Payment
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		o, err := repos.Orders.Get(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if o.BuyerID != req.PayerID {
			return domain.ErrOrderForeign
		}
		if o.Status != domain.OrderStatusPending {
			return &domain.TransitionError{Aggregate: "order", From: string(o.Status), Event: "initiate_payment"}
		}
		active, err := repos.Payments.HasActive(ctx, o.ID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrActivePaymentExists
		}

		now := s.now()
		p := domain.Payment{
			ID:              uuid.NewString(),
			OrderID:         o.ID,
			PayerID:         req.PayerID,
			PaymentMethodID: method.ID,
			Amount:          o.TotalAmount,
			Currency:        o.Currency,
			Status:          domain.PaymentStatusNone,
			CardToken:       req.CardToken,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if errs := p.Validate(); len(errs) > 0 {
			return &domain.InvariantError{Aggregate: "payment", Violations: errs}
		}
		if err := repos.Payments.Create(ctx, p); err != nil {
			return err
		}

		details := map[string]any{
			"payment_id":        p.ID,
			"order_id":          p.OrderID,
			"amount":            p.Amount.StringFixed(2),
			"currency":          p.Currency,
			"payment_method_id": p.PaymentMethodID,
		}
		if err := repos.Audit.Record(ctx, domain.AuditRecord{
			ActorID:      req.PayerID,
			ActionType:   domain.AuditPaymentInitiated,
			ResourceType: domain.ResourcePayment,
			ResourceID:   p.ID,
			Summary:      "payment initiated",
			Details:      details,
		}); err != nil {
			return err
		}
		msg, err := domain.NewOutboxMessage(domain.AggregatePayment, p.ID, domain.EventPaymentInitiated, details)
		if err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("payment initiation rejected")
		return domain.Payment{}, err
	}

	s.logger.WithFields(log.Fields{
		"payment_id": created.ID,
		"order_id":   created.OrderID,
		"amount":     created.Amount.StringFixed(2),
	}).Info("payment initiated")
	return created, nil
}

// Authorize авторизует платёж у провайдера и отмечает авторизацию в заказе.
func (s *Service) Authorize(ctx context.Context, paymentID string) (domain.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := domain.NextPaymentStatus(p.Status, domain.PaymentEventAuthorize); err != nil {
		s.metrics.RecordPayment(domain.PaymentEventAuthorize, err)
		return domain.Payment{}, err
	}

	if p.CardToken != "" {
		if s.tokens == nil {
			return domain.Payment{}, s.failWith(ctx, p.ID, CodeTokenInvalid, domain.ErrTokenNotFound)
		}
		if _, err := s.tokens.Resolve(ctx, p.CardToken); err != nil {
			return domain.Payment{}, s.failWith(ctx, p.ID, CodeTokenInvalid, err)
		}
	}

	res, err := s.gateway.Authorize(ctx, p)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordPayment(domain.PaymentEventAuthorize, err)
			return domain.Payment{}, err
		}
		return domain.Payment{}, s.failWith(ctx, p.ID, CodeAuthorizationFailed, err)
	}

	return s.transition(ctx, p.ID, domain.PaymentEventAuthorize, func(p *domain.Payment, now time.Time) error {
		return p.Authorize(res, now)
	}, &order.Change{Event: domain.OrderEventAuthorizePayment})
}

// Capture списывает авторизованный платёж и переводит заказ в PAID.
func (s *Service) Capture(ctx context.Context, paymentID string) (domain.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := domain.NextPaymentStatus(p.Status, domain.PaymentEventCapture); err != nil {
		s.metrics.RecordPayment(domain.PaymentEventCapture, err)
		return domain.Payment{}, err
	}

	code, err := s.gateway.Capture(ctx, p)
	if err != nil {
		s.metrics.RecordPayment(domain.PaymentEventCapture, err)
		return domain.Payment{}, err
	}

	return s.transition(ctx, p.ID, domain.PaymentEventCapture, func(p *domain.Payment, now time.Time) error {
		return p.Capture(code, now)
	}, &order.Change{Event: domain.OrderEventMarkPaid})
}

// Fail закрывает платёж с ошибкой и переводит заказ в FAILED. Если заказ уже не PENDING,
// возвращается ошибка заказа и ничего не сохраняется.
func (s *Service) Fail(ctx context.Context, paymentID, code, message string) (domain.Payment, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Payment{}, domain.ErrInvalidRequest
	}
	return s.transition(ctx, paymentID, domain.PaymentEventFail, func(p *domain.Payment, now time.Time) error {
		return p.Fail(code, message, now)
	}, &order.Change{
		Event:   domain.OrderEventMarkFailed,
		Meta:    map[string]string{domain.MetaFailureReason: message},
		Details: map[string]any{"error_code": code},
	})
}

func (s *Service) failWith(ctx context.Context, paymentID, code string, cause error) error {
	if _, err := s.Fail(ctx, paymentID, code, cause.Error()); err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Error("failed to record payment failure")
		return errors.Join(cause, err)
	}
	return cause
}

// Refund возвращает amount (nil означает полную сумму) по списанному платежу.
func (s *Service) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (domain.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	refund := p.Amount
	if amount != nil {
		refund = *amount
	}
	probe := p
	if err := probe.Refund(refund, reason, "", s.now()); err != nil {
		s.metrics.RecordPayment(domain.PaymentEventRefund, err)
		return domain.Payment{}, err
	}

	code, err := s.gateway.Refund(ctx, p, refund)
	if err != nil {
		s.metrics.RecordPayment(domain.PaymentEventRefund, err)
		return domain.Payment{}, err
	}

	return s.transition(ctx, p.ID, domain.PaymentEventRefund, func(p *domain.Payment, now time.Time) error {
		return p.Refund(refund, reason, code, now)
	}, &order.Change{
		Event:   domain.OrderEventRefundPayment,
		Details: map[string]any{"refund_amount": refund.StringFixed(2), "reason": reason},
	})
}

// transition применяет событие к платежу и заказу в одной транзакции с повтором при конфликте версий.
func (s *Service) transition(
	ctx context.Context,
	paymentID string,
	event domain.PaymentEvent,
	apply func(p *domain.Payment, now time.Time) error,
	orderChange *order.Change,
) (domain.Payment, error) {
	var result domain.Payment
	err := resilience.Retry(ctx, s.retry, s.logger, string(event), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			p, err := repos.Payments.Get(ctx, paymentID)
			if err != nil {
				return err
			}
			before := p.Status
			now := s.now()
			if err := apply(&p, now); err != nil {
				return err
			}
			if err := repos.Payments.Save(ctx, p); err != nil {
				return err
			}
			p.Version++

			if orderChange != nil {
				change := *orderChange
				change.OrderID = p.OrderID
				if _, err := order.Transition(ctx, repos, change, now); err != nil {
					return err
				}
			}

			details := map[string]any{
				"payment_id":    p.ID,
				"order_id":      p.OrderID,
				"event":         string(event),
				"status_before": string(before),
				"status_after":  string(p.Status),
				"amount":        p.Amount.StringFixed(2),
				"currency":      p.Currency,
			}
			if p.TransactionID != "" {
				details["transaction_id"] = p.TransactionID
			}
			if p.ErrorCode != "" {
				details["error_code"] = p.ErrorCode
			}
			if p.RefundAmount.Valid {
				details["refund_amount"] = p.RefundAmount.Decimal.StringFixed(2)
			}
			if err := repos.Audit.Record(ctx, domain.AuditRecord{
				ActorID:      domain.ActorFromContext(ctx),
				ActionType:   domain.AuditPaymentStatus,
				ResourceType: domain.ResourcePayment,
				ResourceID:   p.ID,
				Summary:      string(before) + " -> " + string(p.Status),
				Details:      details,
			}); err != nil {
				return err
			}
			msg, err := domain.NewOutboxMessage(domain.AggregatePayment, p.ID, domain.PaymentEventType(event), details)
			if err != nil {
				return err
			}
			if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
				return err
			}
			result = p
			return nil
		})
	})
	s.metrics.RecordPayment(event, err)

	entry := s.logger.WithFields(log.Fields{
		"payment_id": paymentID,
		"event":      event,
	})
	if err != nil {
		entry.WithError(err).Warn("payment transition rejected")
		return domain.Payment{}, err
	}
	entry.WithField("status", result.Status).Info("payment transition applied")
	return result, nil
}

func (s *Service) Get(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.payments.Get(ctx, paymentID)
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return s.payments.ListByOrder(ctx, orderID)
}

func (s *Service) ListByPayer(ctx context.Context, payerID string, limit int) ([]domain.Payment, error) {
	return s.payments.ListByPayer(ctx, payerID, limit)
}

func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	return s.payments.GetByTransactionID(ctx, transactionID)
}
