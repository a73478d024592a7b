/*
Package sqlite provides a SQLite-backed implementation of the payroll storage interfaces.

PURPOSE:
  Implements payroll.TxStore (CompensationStore, RunStore, AuditLog) using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-MOSTLY ENFORCEMENT:
  - No DELETE statements anywhere
  - compensations: the only UPDATE sets valid_to on an open interval
  - payroll_runs: the only UPDATE moves status forward, conditional on
    the current status

KEY TABLES:
  compensations:  Salary intervals, [valid_from, valid_to)
  payroll_runs:   One row per (employee, month), with frozen snapshot
  audit_log:      Who did what when

INDEXES:
  - idx_comp_employee_from:   Interval lookups (hot path)
  - idx_comp_one_open:        At most one open interval per employee
  - idx_comp_unique_start:    No two intervals start on the same day
  - idx_runs_employee_month:  Run uniqueness backstop
  - idx_audit_entity:         Audit trail per entity

STORAGE FORMATS:
  Dates are TEXT YYYY-MM-DD (lexicographic order == calendar order).
  Money is TEXT decimal strings, never REAL.
  Timestamps are TEXT RFC3339 with nanoseconds, UTC.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is shared by every caller. Inside WithTx the
  transactional view never takes the mutex.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

const timestampLayout = time.RFC3339Nano

// Store implements payroll.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

var _ payroll.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Compensation intervals (append-mostly)
	CREATE TABLE IF NOT EXISTS compensations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		employee_id INTEGER NOT NULL,
		base_salary TEXT NOT NULL,
		perf_salary TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		reason TEXT,
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (valid_to IS NULL OR valid_from < valid_to)
	);

	CREATE INDEX IF NOT EXISTS idx_comp_employee_from
		ON compensations(employee_id, valid_from);

	-- CRITICAL: at most one open-ended interval per employee
	CREATE UNIQUE INDEX IF NOT EXISTS idx_comp_one_open
		ON compensations(employee_id) WHERE valid_to IS NULL;

	CREATE UNIQUE INDEX IF NOT EXISTS idx_comp_unique_start
		ON compensations(employee_id, valid_from);

	-- Payroll runs
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		employee_id INTEGER NOT NULL,
		payroll_month TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		days_in_month INTEGER NOT NULL,
		days_covered INTEGER NOT NULL,
		base_amount TEXT NOT NULL,
		perf_amount TEXT NOT NULL,
		allowances TEXT NOT NULL,
		deductions TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('draft', 'confirmed', 'paid')),
		snapshot_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one run per employee per month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_employee_month
		ON payroll_runs(employee_id, payroll_month);

	CREATE INDEX IF NOT EXISTS idx_runs_org_month
		ON payroll_runs(org_id, payroll_month DESC);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		actor_user_id INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		diff_json TEXT NOT NULL,
		request_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_org
		ON audit_log(org_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COMPENSATION STORE (payroll.CompensationStore interface)
// =============================================================================

func (s *Store) InsertCompensation(ctx context.Context, c *payroll.Compensation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.InsertCompensation(ctx, c)
}

func (s *Store) CloseCompensation(ctx context.Context, compID int64, validTo generic.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CloseCompensation(ctx, compID, validTo)
}

func (s *Store) CompensationsAt(ctx context.Context, employeeID int64, d generic.Date) ([]payroll.Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CompensationsAt(ctx, employeeID, d)
}

func (s *Store) NextCompensation(ctx context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.NextCompensation(ctx, employeeID, d)
}

func (s *Store) EffectiveCompensation(ctx context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.EffectiveCompensation(ctx, employeeID, d)
}

func (s *Store) CompensationsOverlapping(ctx context.Context, employeeID int64, p generic.Period) ([]payroll.Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CompensationsOverlapping(ctx, employeeID, p)
}

func (s *Store) CompensationHistory(ctx context.Context, employeeID int64, f payroll.HistoryFilter) ([]payroll.Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CompensationHistory(ctx, employeeID, f)
}

// =============================================================================
// RUN STORE (payroll.RunStore interface)
// =============================================================================

func (s *Store) InsertRun(ctx context.Context, r *payroll.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.InsertRun(ctx, r)
}

func (s *Store) GetRun(ctx context.Context, runID int64) (*payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRun(ctx, runID)
}

func (s *Store) FindRun(ctx context.Context, employeeID int64, month generic.Date) (*payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.FindRun(ctx, employeeID, month)
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID int64, from, to payroll.RunStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateRunStatus(ctx, runID, from, to, at)
}

func (s *Store) ListRuns(ctx context.Context, f payroll.RunFilter) ([]payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListRuns(ctx, f)
}

// =============================================================================
// AUDIT LOG (payroll.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e *payroll.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendAudit(ctx, e)
}

func (s *Store) QueryAudit(ctx context.Context, f payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryAudit(ctx, f)
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{db: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the view handed to WithTx callbacks. Every statement runs
// on the open transaction.
type txStore struct {
	queries
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDate(s string) (generic.Date, error) {
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}, fmt.Errorf("corrupt date %q: %w", s, err)
	}
	return d, nil
}

func parseMoney(s string) (generic.Money, error) {
	m, err := generic.ParseMoney(s)
	if err != nil {
		return m, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return m, nil
}

// isUniqueConstraintError reports a UNIQUE violation, optionally on a
// specific table or index.
func isUniqueConstraintError(err error, target string) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return target == "" || strings.Contains(se.Error(), target)
}

func marshalDiff(diff map[string]any) (string, error) {
	if diff == nil {
		return "{}", nil
	}
	b, err := json.Marshal(diff)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit diff: %w", err)
	}
	return string(b), nil
}
