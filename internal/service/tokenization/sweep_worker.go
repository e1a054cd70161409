package tokenization

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 500
)

var (
	vaultSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_card_vault_sweep_runs_total",
		Help: "Total number of card token sweep runs grouped by result.",
	}, []string{"result"})
	vaultSweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockflow_card_vault_sweep_deleted_total",
		Help: "Total number of deleted expired card tokens.",
	})
	vaultActiveTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockflow_card_vault_active_tokens",
		Help: "Number of card tokens in the vault after the last sweep.",
	})
)

// SweepOptions задает параметры воркера очистки vault.
type SweepOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweepOption настраивает SweepWorker.
type SweepOption func(*SweepOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) SweepOption {
	return func(opts *SweepOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между циклами очистки.
func WithInterval(interval time.Duration) SweepOption {
	return func(opts *SweepOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) SweepOption {
	return func(opts *SweepOptions) {
		opts.BatchSize = batchSize
	}
}

// SweepWorker периодически удаляет истёкшие токены карт.
type SweepWorker struct {
	vault     domain.TokenVault
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweepWorker создает воркер очистки vault.
func NewSweepWorker(vault domain.TokenVault, options ...SweepOption) *SweepWorker {
	opts := SweepOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "card-vault-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &SweepWorker{
		vault:     vault,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.vault == nil {
		w.logger.Warn("card vault sweeper is disabled: vault is nil")
		return
	}

	w.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC())
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context, before time.Time) {
	deleted, err := w.DeleteExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		vaultSweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("card vault sweep failed")
		return
	}

	vaultSweepRunsTotal.WithLabelValues("ok").Inc()
	if count, err := w.vault.Count(ctx); err == nil {
		vaultActiveTokens.Set(float64(count))
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("card vault sweep completed")
	}
}

// DeleteExpired удаляет все токены, истёкшие к before, порциями batchSize.
func (w *SweepWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.vault.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			vaultSweepDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			break
		}
	}

	return total, nil
}
