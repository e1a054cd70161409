package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/service/inventory"
	"github.com/vladislavdragonenkov/stockflow/internal/storage/memory"
)

func noEnv(string) string { return "" }

func newMemoryEngine() *inventory.Engine {
	logger := log.New()
	logger.SetOutput(io.Discard)
	store := memory.NewStore(time.Second)
	return inventory.NewEngine(store.Stock(), store, inventory.WithLogger(log.NewEntry(logger)))
}

func TestParseMode(t *testing.T) {
	for _, mode := range []loadMode{modeReserve, modeReserveConfirm, modeReserveCancel} {
		got, err := parseMode(" " + string(mode) + " ")
		if err != nil || got != mode {
			t.Fatalf("parseMode(%s) = %s, %v", mode, got, err)
		}
	}
	if _, err := parseMode("create-pay"); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-mode=reserve-confirm", "-concurrency=8", "-stock=50", "-qty=2"}, noEnv)
	if err != nil {
		t.Fatalf("parseConfig error: %v", err)
	}
	if cfg.mode != modeReserveConfirm || cfg.concurrency != 8 || cfg.stock != 50 || cfg.qty != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.dsn != "" {
		t.Fatalf("expected memory storage by default, got dsn %q", cfg.dsn)
	}

	cfg, err = parseConfig(nil, func(key string) string {
		if key == "STOCKFLOW_POSTGRES_DSN" {
			return "postgres://env"
		}
		return ""
	})
	if err != nil || cfg.dsn != "postgres://env" {
		t.Fatalf("expected dsn from env, got %q, %v", cfg.dsn, err)
	}

	invalid := map[string][]string{
		"total must be > 0":       {"-total=0"},
		"concurrency must be > 0": {"-concurrency=0"},
		"timeout must be > 0":     {"-timeout=0s"},
		"qty must be > 0":         {"-qty=0"},
		"stock must be >= 0":      {"-stock=-1"},
		"sku is required":         {"-sku= "},
		"duration must be >= 0":   {"-duration=-1s"},
		"unsupported mode":        {"-mode=nope"},
	}
	for want, args := range invalid {
		if _, err := parseConfig(args, noEnv); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("args %v: expected %q, got %v", args, want, err)
		}
	}
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioMethod, 10*time.Millisecond, domain.StockOutcomeApplied, nil)
	c.record(scenarioMethod, 20*time.Millisecond, "", errors.New("lock timeout"))
	c.record("Reserve", 15*time.Millisecond, domain.StockOutcomeInsufficient, nil)

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.OPS != 1 {
		t.Fatalf("expected 1 op/s, got %f", r.OPS)
	}
	if got := r.Methods["Reserve"].Outcomes[string(domain.StockOutcomeInsufficient)]; got != 1 {
		t.Fatalf("expected insufficient outcome counted, got %d", got)
	}
}

func TestLatencySummary(t *testing.T) {
	values := []float64{40, 10, 30, 20}
	summary := buildLatencySummary(values)
	if summary.Min != 10 || summary.Max != 40 || summary.Avg != 25 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile([]float64{10, 20, 30, 40}, 50); p != 25 {
		t.Fatalf("unexpected median: %f", p)
	}
	if (buildLatencySummary(nil) != latencySummary{}) {
		t.Fatal("empty input must give zero summary")
	}
}

func TestRun_NoOversellUnderContention(t *testing.T) {
	cfg := config{total: 200, concurrency: 16, timeout: time.Second, mode: modeReserve, sku: "SKU", stock: 50, qty: 1}

	result, err := run(context.Background(), cfg, newMemoryEngine())
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	reserve := result.Methods["Reserve"]
	if reserve.Outcomes[string(domain.StockOutcomeApplied)] != 50 {
		t.Fatalf("expected exactly 50 applied reservations, got %+v", reserve.Outcomes)
	}
	if reserve.Outcomes[string(domain.StockOutcomeInsufficient)] != 150 {
		t.Fatalf("expected 150 insufficient outcomes, got %+v", reserve.Outcomes)
	}
	if !result.Stock.Balanced || result.Stock.Free != 0 || result.Stock.Reserved != 50 {
		t.Fatalf("unexpected stock check: %+v", result.Stock)
	}
}

func TestRun_ConfirmAndCancelModesStayBalanced(t *testing.T) {
	for _, mode := range []loadMode{modeReserveConfirm, modeReserveCancel} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := config{total: 60, concurrency: 8, timeout: time.Second, mode: mode, sku: "SKU", stock: 30, qty: 1}

			result, err := run(context.Background(), cfg, newMemoryEngine())
			if err != nil {
				t.Fatalf("run error: %v", err)
			}
			if result.FailedScenarios != 0 {
				t.Fatalf("unexpected failed scenarios: %+v", result)
			}
			if !result.Stock.Balanced || result.Stock.Reserved != 0 {
				t.Fatalf("unexpected stock check: %+v", result.Stock)
			}
			if mode == modeReserveCancel && result.Stock.Free != 30 {
				t.Fatalf("cancel mode must return all stock, got %+v", result.Stock)
			}
		})
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, Stock: stockCheck{Initial: 5, Free: 5, Balanced: true}}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || !decoded.Stock.Balanced {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../outside.json", sample); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
	if err := writeJSONReport(".", sample); err == nil {
		t.Fatal("expected error for directory path")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	result := report{
		TotalScenarios: 3,
		Methods: map[string]methodReport{
			"Reserve":      {Calls: 3, Outcomes: map[string]int64{"applied": 3}},
			scenarioMethod: {Calls: 3},
		},
		Stock: stockCheck{Initial: 3, Reserved: 3, Balanced: true},
	}
	printReport(&buf, result, config{mode: modeReserve, concurrency: 2})

	out := buf.String()
	for _, want := range []string{"Stock contention summary", "mode=reserve", "balanced=true", "Reserve: calls=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("report misses %q:\n%s", want, out)
		}
	}
}
