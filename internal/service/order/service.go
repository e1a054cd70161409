package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/metrics"
	"github.com/vladislavdragonenkov/stockflow/internal/service/resilience"
)

// Service выполняет переходы заказов и операционные правки.
type Service struct {
	tx       domain.Transactor
	orders   domain.OrderRepository
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

// WithRetryConfig задаёт политику повторов при конфликте версий.
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

// NewService создаёт сервис заказов.
func NewService(tx domain.Transactor, orders domain.OrderRepository, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		orders:   orders,
		retry:    resilience.DefaultRetryConfig(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithField("component", "order-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// apply выполняет переход в собственной транзакции, перечитывая заказ при конфликте версий.
func (s *Service) apply(ctx context.Context, change Change) (domain.Order, error) {
	var result domain.Order
	err := resilience.Retry(ctx, s.retry, s.logger, string(change.Event), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			order, err := Transition(ctx, repos, change, s.now())
			if err != nil {
				return err
			}
			result = order
			return nil
		})
	})
	s.metrics.RecordOrder(change.Event, err)

	entry := s.logger.WithFields(log.Fields{
		"order_id": change.OrderID,
		"event":    change.Event,
	})
	if err != nil {
		entry.WithError(err).Warn("order transition rejected")
		return domain.Order{}, err
	}
	entry.WithField("status", result.Status).Info("order transition applied")
	return result, nil
}

// MarkAsPaid фиксирует списание оплаты.
func (s *Service) MarkAsPaid(ctx context.Context, orderID string) (domain.Order, error) {
	return s.apply(ctx, Change{OrderID: orderID, Event: domain.OrderEventMarkPaid})
}

// AuthorizePayment отмечает авторизацию платежа по заказу.
func (s *Service) AuthorizePayment(ctx context.Context, orderID string) (domain.Order, error) {
	return s.apply(ctx, Change{OrderID: orderID, Event: domain.OrderEventAuthorizePayment})
}

// CancelOrder отменяет заказ. Деньги при этом не возвращаются: для этого есть RefundPayment.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return s.apply(ctx, Change{
		OrderID: orderID,
		Event:   domain.OrderEventCancel,
		Meta:    optionalMeta(domain.MetaCancelReason, reason),
		Details: map[string]any{"reason": reason},
	})
}

func (s *Service) MarkAsShipped(ctx context.Context, orderID string) (domain.Order, error) {
	return s.apply(ctx, Change{OrderID: orderID, Event: domain.OrderEventShip})
}

func (s *Service) MarkAsFailed(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return s.apply(ctx, Change{
		OrderID: orderID,
		Event:   domain.OrderEventMarkFailed,
		Meta:    optionalMeta(domain.MetaFailureReason, reason),
		Details: map[string]any{"reason": reason},
	})
}

// RefundPayment переводит статус оплаты в REFUNDED для оплаченного или отменённого заказа.
func (s *Service) RefundPayment(ctx context.Context, orderID string) (domain.Order, error) {
	return s.apply(ctx, Change{OrderID: orderID, Event: domain.OrderEventRefundPayment})
}

// AddTrackingNumber сохраняет трек-номер отгруженного заказа.
func (s *Service) AddTrackingNumber(ctx context.Context, orderID, tracking string) (domain.Order, error) {
	tracking = strings.TrimSpace(tracking)
	if tracking == "" {
		return domain.Order{}, domain.ErrInvalidRequest
	}
	return s.update(ctx, orderID, "add_tracking_number", func(o *domain.Order) error {
		if o.Status != domain.OrderStatusShipped {
			return &domain.TransitionError{Aggregate: "order", From: string(o.Status), Event: "add_tracking_number"}
		}
		o.SetMeta(domain.MetaTrackingNumber, tracking)
		return nil
	}, map[string]any{"tracking_number": tracking})
}

// UpdateShippingAddress меняет адрес доставки, пока заказ не отгружен и не отменён.
func (s *Service) UpdateShippingAddress(ctx context.Context, orderID string, address domain.Address) (domain.Order, error) {
	if err := s.validate.StructCtx(ctx, address); err != nil {
		return domain.Order{}, domain.InvalidRequest(err)
	}
	return s.update(ctx, orderID, "update_shipping_address", func(o *domain.Order) error {
		if o.Status == domain.OrderStatusShipped || o.Status == domain.OrderStatusCancelled {
			return &domain.TransitionError{Aggregate: "order", From: string(o.Status), Event: "update_shipping_address"}
		}
		o.ShippingAddress = address
		return nil
	}, map[string]any{"city": address.City, "country": address.Country})
}

// update сохраняет правку заказа без смены статуса.
func (s *Service) update(ctx context.Context, orderID, action string, edit func(o *domain.Order) error, details map[string]any) (domain.Order, error) {
	var result domain.Order
	err := resilience.Retry(ctx, s.retry, s.logger, action, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			order, err := repos.Orders.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if err := edit(&order); err != nil {
				return err
			}
			order.UpdatedAt = s.now()
			if err := repos.Orders.Save(ctx, order); err != nil {
				return err
			}
			order.Version++

			details["action"] = action
			if err := repos.Audit.Record(ctx, domain.AuditRecord{
				ActorID:      domain.ActorFromContext(ctx),
				ActionType:   domain.AuditOrderUpdated,
				ResourceType: domain.ResourceOrder,
				ResourceID:   order.ID,
				Summary:      action,
				Details:      details,
			}); err != nil {
				return err
			}
			payload := map[string]any{"order_id": order.ID, "action": action}
			for k, v := range details {
				payload[k] = v
			}
			msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventOrderUpdated, payload)
			if err != nil {
				return err
			}
			if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
				return err
			}
			result = order
			return nil
		})
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"order_id": orderID, "action": action}).Warn("order update rejected")
		return domain.Order{}, err
	}
	return result, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

// ListByBuyer возвращает заказы покупателя, новые первыми.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, domain.ErrBuyerRequired
	}
	return s.orders.ListByBuyer(ctx, buyerID, limit)
}

func (s *Service) CanBeCancelled(ctx context.Context, orderID string) (bool, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	return order.CanBeCancelled(), nil
}

func (s *Service) CanBeShipped(ctx context.Context, orderID string) (bool, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	return order.CanBeShipped(), nil
}

func optionalMeta(key, value string) map[string]string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return map[string]string{key: value}
}
