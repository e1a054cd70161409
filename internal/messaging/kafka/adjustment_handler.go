package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// errPermanent помечает бизнес-отказ, который не исправится повтором.
var errPermanent = errors.New("permanent failure")

// StockAdjuster применяет корректировку остатка.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, sku string, delta, expectedVersion int64, reason string) (domain.StockResult, error)
}

// NewStockAdjustmentHandler превращает сообщения topic корректировок в вызовы AdjustStock.
// Конфликт версий повторяется политикой consumer, нехватка остатка и неизвестный SKU уходят в DLQ.
func NewStockAdjustmentHandler(adjuster StockAdjuster, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "stock-adjustment-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cmd, err := ParseStockAdjustment(message.Value)
		if err != nil {
			return err
		}
		entry := logger.WithFields(log.Fields{
			"sku":              cmd.SKU,
			"delta":            cmd.Delta,
			"expected_version": cmd.ExpectedVersion,
		})

		ctx = domain.ContextWithActor(ctx, "kafka:"+message.Topic)
		res, err := adjuster.AdjustStock(ctx, cmd.SKU, cmd.Delta, cmd.ExpectedVersion, cmd.Reason)
		switch {
		case err != nil && (domain.IsNotFound(err) || domain.IsValidation(err)):
			return fmt.Errorf("%w: %w", errPermanent, err)
		case err != nil:
			return err
		}

		switch res.Outcome {
		case domain.StockOutcomeApplied:
			entry.WithField("version", res.Item.Version).Info("stock adjusted")
			return nil
		case domain.StockOutcomeConflict:
			return domain.ErrStockConflict
		default:
			return fmt.Errorf("%w: %w", errPermanent, res.Err())
		}
	}
}
