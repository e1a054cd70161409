package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/service/inventory"
	"github.com/vladislavdragonenkov/stockflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/stockflow/internal/storage/postgres"
)

type loadMode string

const (
	modeReserve        loadMode = "reserve"
	modeReserveConfirm loadMode = "reserve-confirm"
	modeReserveCancel  loadMode = "reserve-cancel"
)

const scenarioMethod = "scenario"

type config struct {
	total       int
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	sku         string
	stock       int64
	qty         int64
	lockTimeout time.Duration
	dsn         string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Outcomes  map[string]int64 `json:"outcomes"`
	Errors    int64            `json:"errors"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockCheck — итоговое состояние SKU и проверка сохранения количества.
type stockCheck struct {
	Initial   int64 `json:"initial"`
	Free      int64 `json:"free"`
	Reserved  int64 `json:"reserved"`
	Confirmed int64 `json:"confirmed"`
	Balanced  bool  `json:"balanced"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	TotalScenarios  int64                   `json:"total_scenarios"`
	FailedScenarios int64                   `json:"failed_scenarios"`
	OPS             float64                 `json:"ops"`
	Methods         map[string]methodReport `json:"methods"`
	Stock           stockCheck              `json:"stock"`
}

type methodStats struct {
	calls     int64
	errors    int64
	outcomes  map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record учитывает вызов. outcome пустой, если вызов вернул ошибку.
func (c *collector) record(method string, latency time.Duration, outcome domain.StockOutcome, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{outcomes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if err != nil {
		stats.errors++
	} else {
		stats.outcomes[string(outcome)]++
	}
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		outcomes := make(map[string]int64, len(stats.outcomes))
		for outcome, count := range stats.outcomes {
			outcomes[outcome] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Outcomes:  outcomes,
			Errors:    stats.errors,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.TotalScenarios = scenario.Calls
		result.FailedScenarios = scenario.Errors
	}
	if duration > 0 {
		result.OPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig(args []string, lookupEnv func(string) string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 30s, 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-operation timeout")
	fs.StringVar(&modeValue, "mode", string(modeReserve), "load mode: reserve | reserve-confirm | reserve-cancel")
	fs.StringVar(&cfg.sku, "sku", "SKU-LOAD", "contended SKU")
	fs.Int64Var(&cfg.stock, "stock", 100, "initial free quantity of the SKU")
	fs.Int64Var(&cfg.qty, "qty", 1, "quantity per reservation")
	fs.DurationVar(&cfg.lockTimeout, "lock-timeout", 2*time.Second, "row lock timeout")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN; empty runs against in-memory storage (fallback: STOCKFLOW_POSTGRES_DSN)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.dsn) == "" {
		cfg.dsn = strings.TrimSpace(lookupEnv("STOCKFLOW_POSTGRES_DSN"))
	}
	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.qty <= 0:
		return cfg, errors.New("qty must be > 0")
	case strings.TrimSpace(cfg.sku) == "":
		return cfg, errors.New("sku is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeReserve, modeReserveConfirm, modeReserveCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// target — engine и функция закрытия хранилища.
type target struct {
	engine *inventory.Engine
	close  func() error
}

func openTarget(ctx context.Context, cfg config) (target, error) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	opts := []inventory.Option{inventory.WithLogger(log.NewEntry(logger))}

	if cfg.dsn == "" {
		store := memory.NewStore(cfg.lockTimeout)
		return target{engine: inventory.NewEngine(store.Stock(), store, opts...), close: func() error { return nil }}, nil
	}

	store, err := postgres.Open(ctx, cfg.dsn, postgres.WithLockTimeout(cfg.lockTimeout))
	if err != nil {
		return target{}, err
	}
	if err := store.MigrateUp(ctx, 0); err != nil {
		_ = store.Close()
		return target{}, err
	}
	return target{engine: inventory.NewEngine(store.Repositories().Stock, store, opts...), close: store.Close}, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tgt, err := openTarget(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer tgt.close()

	result, err := run(ctx, cfg, tgt.engine)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 || !result.Stock.Balanced {
		os.Exit(1)
	}
}

// run создаёт SKU с уникальным суффиксом прогона и нагружает его параллельными резервами.
func run(ctx context.Context, cfg config, engine *inventory.Engine) (report, error) {
	startedAt := time.Now()
	sku := fmt.Sprintf("%s-%d", cfg.sku, startedAt.UnixNano())
	if _, err := engine.CreateItem(ctx, sku, cfg.stock, "LOAD"); err != nil {
		return report{}, fmt.Errorf("create sku: %w", err)
	}

	col := newCollector()
	var confirmed atomic.Int64
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				runScenario(ctx, engine, cfg, sku, col, &confirmed)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	item, err := engine.Get(ctx, sku)
	if err != nil {
		return report{}, fmt.Errorf("read final stock: %w", err)
	}
	result.Stock = stockCheck{
		Initial:   cfg.stock,
		Free:      item.Quantity,
		Reserved:  item.Reserved,
		Confirmed: confirmed.Load(),
	}
	result.Stock.Balanced = item.Quantity >= 0 && item.Reserved >= 0 &&
		item.Quantity+item.Reserved+result.Stock.Confirmed == cfg.stock
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		if cfg.total > 0 && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario резервирует qty и, в зависимости от режима, подтверждает или отменяет резерв.
func runScenario(ctx context.Context, engine *inventory.Engine, cfg config, sku string, col *collector, confirmed *atomic.Int64) {
	start := time.Now()
	var (
		outcome domain.StockOutcome
		err     error
	)
	defer func() { col.record(scenarioMethod, time.Since(start), outcome, err) }()

	outcome, err = call(ctx, cfg.timeout, col, "Reserve", func(ctx context.Context) (domain.StockResult, error) {
		return engine.Reserve(ctx, sku, cfg.qty)
	})
	if err != nil || outcome != domain.StockOutcomeApplied {
		return
	}

	switch cfg.mode {
	case modeReserveConfirm:
		outcome, err = call(ctx, cfg.timeout, col, "ConfirmReservation", func(ctx context.Context) (domain.StockResult, error) {
			return engine.ConfirmReservation(ctx, sku, cfg.qty)
		})
		if err == nil && outcome == domain.StockOutcomeApplied {
			confirmed.Add(cfg.qty)
		}
	case modeReserveCancel:
		outcome, err = call(ctx, cfg.timeout, col, "CancelReservation", func(ctx context.Context) (domain.StockResult, error) {
			return engine.CancelReservation(ctx, sku, cfg.qty)
		})
	}
}

func call(ctx context.Context, timeout time.Duration, col *collector, method string, fn func(context.Context) (domain.StockResult, error)) (domain.StockOutcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := fn(ctx)
	col.record(method, time.Since(start), res.Outcome, err)
	return res.Outcome, err
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Stock contention summary")
	_, _ = fmt.Fprintf(w, "mode=%s concurrency=%d total=%d failed=%d duration=%.2fs ops=%.2f\n",
		cfg.mode, cfg.concurrency, result.TotalScenarios, result.FailedScenarios, result.DurationSeconds, result.OPS)
	_, _ = fmt.Fprintf(w, "stock: initial=%d free=%d reserved=%d confirmed=%d balanced=%t\n",
		result.Stock.Initial, result.Stock.Free, result.Stock.Reserved, result.Stock.Confirmed, result.Stock.Balanced)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d errors=%d outcomes=%v p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, stats.Calls, stats.Errors, stats.Outcomes, stats.LatencyMs.P50, stats.LatencyMs.P95, stats.LatencyMs.P99)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
