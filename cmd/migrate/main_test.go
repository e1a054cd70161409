package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/storage/postgres"
)

func mapLookup(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func testPostgresDSN(t *testing.T) string {
	t.Helper()

	for _, dsn := range []string{
		strings.TrimSpace(os.Getenv("STOCKFLOW_POSTGRES_TEST_DSN")),
		strings.TrimSpace(os.Getenv(envPostgresDSN)),
	} {
		if dsn == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		store, err := postgres.Open(ctx, dsn)
		cancel()
		if err != nil {
			continue
		}
		_ = store.Close()
		return dsn
	}

	t.Skip("postgres dsn is not available")
	return ""
}

func TestParseFlags(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{direction: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-dsn=postgres://flag", "-direction=STATUS"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "status", dsn: "postgres://flag"},
		},
		{
			name: "down defaults to one step",
			args: []string{"-direction=down", "-dsn=postgres://flag"},
			want: options{direction: "down", steps: 1, dsn: "postgres://flag"},
		},
		{
			name:    "missing dsn",
			args:    []string{"-direction=status"},
			wantErr: envPostgresDSN,
		},
		{
			name:    "unsupported direction",
			args:    []string{"-direction=sideways", "-dsn=postgres://flag"},
			wantErr: "unsupported direction",
		},
		{
			name:    "bad steps",
			args:    []string{"-steps=many", "-dsn=postgres://flag"},
			wantErr: "invalid value",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseFlags(tc.args, mapLookup(tc.env))
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestRunStatusAndMigratePaths(t *testing.T) {
	dsn := testPostgresDSN(t)
	ctx := context.Background()

	for _, opts := range []options{
		{direction: "status", dsn: dsn},
		{direction: "up", steps: 1, dsn: dsn},
		{direction: "down", steps: 1, dsn: dsn},
		{direction: "up", dsn: dsn},
	} {
		var out bytes.Buffer
		if err := run(ctx, opts, &out); err != nil {
			t.Fatalf("run(%s) error = %v", opts.direction, err)
		}
		if !strings.Contains(out.String(), "migrate "+opts.direction+" ok") {
			t.Errorf("unexpected output %q", out.String())
		}
	}
}

func TestRunInvalidDSN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := run(ctx, options{direction: "status", dsn: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "open postgres store") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
