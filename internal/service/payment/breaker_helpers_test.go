package payment

import (
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/service/resilience"
)

func newTestBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(2, time.Hour, quietLogger())
}
