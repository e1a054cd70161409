package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// SimulatedGateway — платёжный провайдер без внешних вызовов. Ошибки настраиваются для тестов.
type SimulatedGateway struct {
	mu  sync.Mutex
	now func() time.Time

	AuthorizeErr error
	CaptureErr   error
	RefundErr    error

	AuthorizeCalls int
	CaptureCalls   int
	RefundCalls    int

	authorizations map[string]domain.AuthorizationResult
	captures       map[string]string
	refunds        map[string]string
}

// NewSimulatedGateway возвращает gateway с успешным сценарием по умолчанию.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		now:            time.Now,
		authorizations: make(map[string]domain.AuthorizationResult),
		captures:       make(map[string]string),
		refunds:        make(map[string]string),
	}
}

// Authorizations — число платежей, по которым провайдер действительно провёл авторизацию.
func (g *SimulatedGateway) Authorizations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.authorizations)
}

// Captures — число проведённых списаний.
func (g *SimulatedGateway) Captures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captures)
}

// Authorize выдаёт идентификатор транзакции txn_<uuid> и код ответа 00.
// Повторная авторизация того же платежа возвращает прежний результат.
func (g *SimulatedGateway) Authorize(ctx context.Context, p domain.Payment) (domain.AuthorizationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AuthorizeCalls++

	if err := ctx.Err(); err != nil {
		return domain.AuthorizationResult{}, err
	}
	if res, ok := g.authorizations[p.ID]; ok {
		return res, nil
	}
	if g.AuthorizeErr != nil {
		return domain.AuthorizationResult{}, g.AuthorizeErr
	}

	txn := strings.ReplaceAll(uuid.NewString(), "-", "")
	res := domain.AuthorizationResult{
		TransactionID:     "txn_" + txn,
		AuthorizationCode: strings.ToUpper(txn[:6]),
		ResponseCode:      "00",
	}
	g.authorizations[p.ID] = res
	return res, nil
}

// Capture возвращает код списания CAP_<unix ms>.
func (g *SimulatedGateway) Capture(ctx context.Context, p domain.Payment) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CaptureCalls++

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if code, ok := g.captures[p.ID]; ok {
		return code, nil
	}
	if g.CaptureErr != nil {
		return "", g.CaptureErr
	}
	code := fmt.Sprintf("CAP_%d", g.now().UnixMilli())
	g.captures[p.ID] = code
	return code, nil
}

// Refund возвращает код возврата REF_<unix ms>.
func (g *SimulatedGateway) Refund(ctx context.Context, p domain.Payment, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.RefundCalls++

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if code, ok := g.refunds[p.ID]; ok {
		return code, nil
	}
	if g.RefundErr != nil {
		return "", g.RefundErr
	}
	code := fmt.Sprintf("REF_%d", g.now().UnixMilli())
	g.refunds[p.ID] = code
	return code, nil
}

var _ domain.PaymentGateway = (*SimulatedGateway)(nil)
