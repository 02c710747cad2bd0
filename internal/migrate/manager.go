package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Manager applies SQL migrations and seed files stored on disk. Migrations
// are ordered by file name; seeds run once each and are tracked separately
// so reference data can grow without renumbering the schema.
type Manager struct {
	db              *sql.DB
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in file-name order.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx, m.migrationsTable); err != nil {
		return err
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, name := range pending {
		if err := m.execFile(ctx, filepath.Join(m.migrationsDir, name)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if err := m.record(ctx, m.migrationsTable, name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx, m.migrationsTable); err != nil {
		return err
	}
	applied, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	downPath := filepath.Join(m.migrationsDir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.execFile(ctx, downPath); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
	return err
}

// Status returns applied migrations in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx, m.migrationsTable); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

// Pending returns the migrations on disk that have not been applied yet.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	applied, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	files, err := listSQL(m.migrationsDir, upSuffix)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, name := range files {
		if !done[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Seed applies seed files idempotently.
func (m *Manager) Seed(ctx context.Context) error {
	if err := m.ensureTable(ctx, m.seedsTable); err != nil {
		return err
	}
	applied, err := m.history(ctx, m.seedsTable)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	files, err := listSQL(m.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		if done[name] {
			continue
		}
		if err := m.execFile(ctx, filepath.Join(m.seedsDir, name)); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
		if err := m.record(ctx, m.seedsTable, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, table)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

// execFile runs every statement in the file inside one transaction.
func (m *Manager) execFile(ctx context.Context, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func listSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
