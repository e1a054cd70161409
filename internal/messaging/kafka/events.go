package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents      = "stockflow.order.events"
	TopicPaymentEvents    = "stockflow.payment.events"
	TopicStockEvents      = "stockflow.stock.events"
	TopicStockAdjustments = "stockflow.stock.adjustments"
	TopicDeadLetterQueue  = "stockflow.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ErrMalformedMessage — сообщение нельзя разобрать; повтор не поможет.
var ErrMalformedMessage = errors.New("malformed kafka message")

// TopicForAggregate выбирает topic по типу агрегата outbox-сообщения.
func TopicForAggregate(aggregateType string) string {
	switch aggregateType {
	case domain.AggregatePayment:
		return TopicPaymentEvents
	case domain.AggregateStock:
		return TopicStockEvents
	default:
		return TopicOrderEvents
	}
}

// StockAdjustment — команда корректировки остатка из внешней системы (приёмка, инвентаризация).
type StockAdjustment struct {
	SKU             string `json:"sku" validate:"required,max=64"`
	Delta           int64  `json:"delta" validate:"ne=0"`
	ExpectedVersion int64  `json:"expected_version,omitempty" validate:"gte=0"`
	Reason          string `json:"reason" validate:"max=200"`
}

var adjustmentValidator = validator.New()

// ParseStockAdjustment разбирает и валидирует команду корректировки.
func ParseStockAdjustment(data []byte) (StockAdjustment, error) {
	var cmd StockAdjustment
	if err := json.Unmarshal(data, &cmd); err != nil {
		return StockAdjustment{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := adjustmentValidator.Struct(cmd); err != nil {
		return StockAdjustment{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return cmd, nil
}
