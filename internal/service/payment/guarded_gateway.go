package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/service/resilience"
)

// ErrDeclined — провайдер отклонил операцию. Такие ошибки не размыкают breaker.
var ErrDeclined = errors.New("payment declined by gateway")

// GuardedGateway пропускает вызовы провайдера через circuit breaker.
type GuardedGateway struct {
	next    domain.PaymentGateway
	breaker *resilience.CircuitBreaker
}

// NewGuardedGateway оборачивает gateway.
func NewGuardedGateway(next domain.PaymentGateway, breaker *resilience.CircuitBreaker) *GuardedGateway {
	return &GuardedGateway{next: next, breaker: breaker}
}

func countable(err error) bool {
	return !errors.Is(err, ErrDeclined) && !errors.Is(err, context.Canceled)
}

func (g *GuardedGateway) Authorize(ctx context.Context, p domain.Payment) (domain.AuthorizationResult, error) {
	var res domain.AuthorizationResult
	err := g.breaker.Execute("authorize", func() error {
		var err error
		res, err = g.next.Authorize(ctx, p)
		return err
	}, countable)
	return res, err
}

func (g *GuardedGateway) Capture(ctx context.Context, p domain.Payment) (string, error) {
	var code string
	err := g.breaker.Execute("capture", func() error {
		var err error
		code, err = g.next.Capture(ctx, p)
		return err
	}, countable)
	return code, err
}

func (g *GuardedGateway) Refund(ctx context.Context, p domain.Payment, amount decimal.Decimal) (string, error) {
	var code string
	err := g.breaker.Execute("refund", func() error {
		var err error
		code, err = g.next.Refund(ctx, p, amount)
		return err
	}, countable)
	return code, err
}

var _ domain.PaymentGateway = (*GuardedGateway)(nil)
