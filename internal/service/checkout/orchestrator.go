// Package checkout превращает корзину в заказ: подтверждает резервы и создаёт заказ атомарно.
package checkout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/metrics"
	"github.com/vladislavdragonenkov/stockflow/internal/service/inventory"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultCurrency = "TRY"
)

// Метки результата checkout.
const (
	ResultCompleted = "completed"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Request — запрос на оформление корзины покупателя.
type Request struct {
	BuyerID               string          `validate:"required"`
	PaymentMethodSequence int             `validate:"required,min=1"`
	ShippingAddress       domain.Address  `validate:"required"`
	BillingAddress        *domain.Address `validate:"omitempty"`
	Notes                 string          `validate:"max=500"`
}

// Deps — репозитории и сервисы, которые нужны оркестратору.
type Deps struct {
	Tx        domain.Transactor
	Buyers    domain.BuyerRepository
	Methods   domain.PaymentMethodRepository
	Carts     domain.CartRepository
	Catalog   domain.CatalogRepository
	Inventory *inventory.Engine
}

// Orchestrator выполняет checkout.
type Orchestrator struct {
	deps     Deps
	metrics  *metrics.CheckoutMetrics
	validate *validator.Validate
	logger   *log.Entry
	timeout  time.Duration
	currency string
	now      func() time.Time
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTimeout ограничивает длительность транзакции checkout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithDefaultCurrency задаёт валюту, если у позиций её нет.
func WithDefaultCurrency(currency string) Option {
	return func(o *Orchestrator) {
		if currency != "" {
			o.currency = currency
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator создаёт оркестратор checkout.
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithField("component", "checkout"),
		timeout:  defaultTimeout,
		currency: defaultCurrency,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkout оформляет корзину покупателя в заказ PENDING.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (domain.Order, error) {
	finish := o.metrics.Started()

	order, err := o.checkout(ctx, req)
	entry := o.logger.WithField("buyer_id", req.BuyerID)
	switch {
	case err == nil:
		finish(ResultCompleted)
		entry.WithFields(log.Fields{
			"order_id": order.ID,
			"total":    order.TotalAmount.StringFixed(2),
			"lines":    len(order.Lines),
		}).Info("checkout completed")
	case domain.IsValidation(err), domain.IsStateConflict(err), domain.IsNotFound(err):
		finish(ResultRejected)
		entry.WithError(err).Info("checkout rejected")
	default:
		finish(ResultFailed)
		entry.WithError(err).Error("checkout failed")
	}
	return order, err
}

func (o *Orchestrator) checkout(ctx context.Context, req Request) (domain.Order, error) {
	if err := o.validate.StructCtx(ctx, req); err != nil {
		return domain.Order{}, domain.InvalidRequest(err)
	}

	buyer, err := o.deps.Buyers.Get(ctx, req.BuyerID)
	if err != nil {
		return domain.Order{}, err
	}
	if !buyer.Active {
		return domain.Order{}, domain.ErrBuyerInactive
	}

	method, err := o.deps.Methods.FindBySequence(ctx, buyer.ID, req.PaymentMethodSequence)
	if err != nil {
		return domain.Order{}, err
	}
	if err := method.CheckUsableBy(buyer.ID); err != nil {
		return domain.Order{}, err
	}

	txCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		created    domain.Order
		checkedOut []domain.CartLine
	)
	err = o.deps.Tx.WithinTx(txCtx, func(ctx context.Context, repos domain.Repositories) error {
		lines, err := o.deps.Carts.Lines(ctx, buyer.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrCartEmpty
		}

		currency, err := o.resolveCurrency(ctx, lines)
		if err != nil {
			return err
		}

		engine := o.deps.Inventory.Bind(repos)
		for _, line := range lines {
			res, err := engine.ConfirmReservation(ctx, line.SKU, line.Qty)
			if err != nil {
				return fmt.Errorf("confirm %s: %w", line.SKU, err)
			}
			if err := res.Err(); err != nil {
				return fmt.Errorf("confirm %s: %w", line.SKU, err)
			}
		}

		order := o.buildOrder(buyer.ID, method, req, lines, currency)
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return &domain.InvariantError{Aggregate: "order", Violations: errs}
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			return err
		}
		if err := o.record(ctx, repos, order, method); err != nil {
			return err
		}

		created = order
		checkedOut = lines
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.clearCheckedOut(ctx, buyer.ID, created.ID, checkedOut)

	return created, nil
}

// clearCheckedOut убирает из корзины подтверждённые единицы. Позиции, добавленные
// после чтения корзины, остаются. Ошибки только логируются: заказ уже создан.
func (o *Orchestrator) clearCheckedOut(ctx context.Context, buyerID, orderID string, lines []domain.CartLine) {
	for _, line := range lines {
		if _, err := o.deps.Carts.SubtractQty(ctx, buyerID, line.SKU, line.Qty); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"buyer_id": buyerID,
				"order_id": orderID,
				"sku":      line.SKU,
			}).Warn("failed to clear cart line after checkout")
		}
	}
}

// resolveCurrency проверяет продаваемость позиций и единую валюту каталога.
func (o *Orchestrator) resolveCurrency(ctx context.Context, lines []domain.CartLine) (string, error) {
	currency := ""
	for _, line := range lines {
		item, err := o.deps.Catalog.FindBySKU(ctx, line.SKU)
		if err != nil {
			return "", err
		}
		if !item.Active {
			return "", fmt.Errorf("%s: %w", line.SKU, domain.ErrItemNotSellable)
		}
		if item.Currency == "" {
			continue
		}
		if currency != "" && currency != item.Currency {
			return "", domain.ErrCurrencyMismatch
		}
		currency = item.Currency
	}
	if currency == "" {
		currency = o.currency
	}
	return currency, nil
}

func (o *Orchestrator) buildOrder(buyerID string, method domain.PaymentMethod, req Request, lines []domain.CartLine, currency string) domain.Order {
	now := o.now()
	orderID := uuid.NewString()

	orderLines := make([]domain.OrderLine, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		ol := domain.NewOrderLine(uuid.NewString(), orderID, line.SKU, line.UnitPriceSnapshot, line.Qty, now)
		total = total.Add(ol.TotalPrice)
		orderLines = append(orderLines, ol)
	}

	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	order := domain.Order{
		ID:              orderID,
		BuyerID:         buyerID,
		TotalAmount:     total,
		Currency:        currency,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusNone,
		Lines:           orderLines,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.SetMeta(domain.MetaCreatedFromCart, "true")
	order.SetMeta(domain.MetaCartItemCount, strconv.Itoa(len(lines)))
	order.SetMeta(domain.MetaPaymentMethodID, method.ID)
	order.SetMeta(domain.MetaPaymentMethodType, string(method.Type))
	order.SetMeta(domain.MetaPaymentMethodName, method.Name)
	if req.Notes != "" {
		order.SetMeta(domain.MetaOrderNotes, req.Notes)
	}
	return order
}

func (o *Orchestrator) record(ctx context.Context, repos domain.Repositories, order domain.Order, method domain.PaymentMethod) error {
	items := make([]map[string]any, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, map[string]any{
			"sku":         line.SKU,
			"qty":         line.Qty,
			"unit_price":  line.UnitPrice.StringFixed(2),
			"total_price": line.TotalPrice.StringFixed(2),
		})
	}
	details := map[string]any{
		"order_id":            order.ID,
		"buyer_id":            order.BuyerID,
		"items":               items,
		"total_amount":        order.TotalAmount.StringFixed(2),
		"currency":            order.Currency,
		"payment_method_id":   method.ID,
		"payment_method_type": string(method.Type),
	}

	if err := repos.Audit.Record(ctx, domain.AuditRecord{
		ActorID:      order.BuyerID,
		ActionType:   domain.AuditOrderCreated,
		ResourceType: domain.ResourceOrder,
		ResourceID:   order.ID,
		Summary:      "order created from cart",
		Details:      details,
	}); err != nil {
		return err
	}

	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventOrderCreated, details)
	if err != nil {
		return err
	}
	_, err = repos.Outbox.Enqueue(ctx, msg)
	return err
}
