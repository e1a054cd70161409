package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	ledgerMigrationsDir = "sql/migrations"
	// ledgerMigrationLock — ключ advisory lock, под которым мигрирует ровно один инстанс.
	ledgerMigrationLock = int64(0x53544f43)
	ledgerVersionsDDL   = `
CREATE TABLE IF NOT EXISTS ledger_schema_versions (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

	errStoreNotInitialized = errors.New("postgres store is not initialized")
)

// schemaStep — одна версия схемы леджера: пара up/down скриптов.
type schemaStep struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (st schemaStep) label() string {
	return fmt.Sprintf("%04d_%s", st.Version, st.Name)
}

// SchemaStatus — состояние схемы в базе относительно встроенных миграций.
type SchemaStatus struct {
	Version int64
	Applied int
	Pending []string
}

// UpToDate сообщает, что все встроенные миграции применены.
func (st SchemaStatus) UpToDate() bool { return len(st.Pending) == 0 }

// MigrateUp применяет ещё не применённые шаги по возрастанию версии; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaStep, applied []int64) error {
		done := make(map[int64]bool, len(applied))
		for _, v := range applied {
			done[v] = true
		}
		n := 0
		for _, st := range plan {
			if done[st.Version] {
				continue
			}
			if steps > 0 && n == steps {
				break
			}
			if err := runStep(ctx, conn, st, true); err != nil {
				return err
			}
			n++
		}
		return nil
	})
}

// MigrateDown откатывает последние применённые шаги; steps<=0 откатывает один.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaStep, applied []int64) error {
		byVersion := make(map[int64]schemaStep, len(plan))
		for _, st := range plan {
			byVersion[st.Version] = st
		}
		for i := len(applied) - 1; i >= 0 && steps > 0; i-- {
			st, ok := byVersion[applied[i]]
			if !ok {
				return fmt.Errorf("cannot revert unknown schema version %d", applied[i])
			}
			if err := runStep(ctx, conn, st, false); err != nil {
				return err
			}
			steps--
		}
		return nil
	})
}

// MigrationStatus сверяет применённые версии со встроенными миграциями.
func (s *Store) MigrationStatus(ctx context.Context) (SchemaStatus, error) {
	if s == nil || s.db == nil {
		return SchemaStatus{}, errStoreNotInitialized
	}
	plan, err := parseMigrations(migrationsFS)
	if err != nil {
		return SchemaStatus{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(queryCtx, ledgerVersionsDDL); err != nil {
		return SchemaStatus{}, fmt.Errorf("ensure schema versions table: %w", err)
	}
	applied, err := appliedVersions(queryCtx, s.db)
	if err != nil {
		return SchemaStatus{}, err
	}
	return statusOf(plan, applied), nil
}

func statusOf(plan []schemaStep, applied []int64) SchemaStatus {
	st := SchemaStatus{Applied: len(applied)}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
		st.Version = max(st.Version, v)
	}
	for _, step := range plan {
		if !done[step.Version] {
			st.Pending = append(st.Pending, step.label())
		}
	}
	return st
}

// withMigrationLock выполняет fn на выделенном соединении под advisory lock.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn, plan []schemaStep, applied []int64) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	plan, err := parseMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", ledgerMigrationLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", ledgerMigrationLock)
	}()

	if _, err := conn.ExecContext(ctx, ledgerVersionsDDL); err != nil {
		return fmt.Errorf("ensure schema versions table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, plan, applied)
}

// runStep применяет или откатывает шаг вместе с записью в ledger_schema_versions.
func runStep(ctx context.Context, conn *sql.Conn, st schemaStep, forward bool) (err error) {
	verb, body := "apply", st.Up
	record, args := `INSERT INTO ledger_schema_versions (version, name) VALUES ($1, $2)`, []any{st.Version, st.Name}
	if !forward {
		verb, body = "revert", st.Down
		record, args = `DELETE FROM ledger_schema_versions WHERE version = $1`, []any{st.Version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", verb, st.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("%s %s: %w", verb, st.label(), err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("%s %s: record version: %w", verb, st.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s %s: commit: %w", verb, st.label(), err)
	}
	return nil
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, q querier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM ledger_schema_versions ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema versions: %w", err)
	}
	return versions, nil
}

// parseMigrations собирает шаги из файлов NNNN_name.(up|down).sql.
func parseMigrations(fsys fs.FS) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, ledgerMigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	steps := make(map[int64]*schemaStep)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationFileName.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", e.Name())
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %s: %w", e.Name(), err)
		}
		raw, err := fs.ReadFile(fsys, path.Join(ledgerMigrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", e.Name())
		}

		st, ok := steps[version]
		if !ok {
			st = &schemaStep{Version: version, Name: m[2]}
			steps[version] = st
		}
		if st.Name != m[2] {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, st.Name, m[2])
		}
		slot := &st.Up
		if m[3] == "down" {
			slot = &st.Down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s script for version %d", m[3], version)
		}
		*slot = body
	}
	if len(steps) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make([]schemaStep, 0, len(steps))
	for _, st := range steps {
		if st.Up == "" || st.Down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", st.label())
		}
		plan = append(plan, *st)
	}
	slices.SortFunc(plan, func(a, b schemaStep) int { return cmp.Compare(a.Version, b.Version) })
	return plan, nil
}
