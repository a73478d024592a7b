// Package memory provides an in-memory payroll.TxStore for tests and dev.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory mirrors the SQLite store's constraints: one open interval per
// employee, unique interval start, unique (employee, month) run.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ payroll.TxStore = (*Memory)(nil)

func New() *Memory {
	return &Memory{st: newState()}
}

type state struct {
	comps  []payroll.Compensation
	runs   []payroll.PayrollRun
	audit  []payroll.AuditEntry
	nextID int64
}

func newState() *state { return &state{} }

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	c := &state{nextID: s.nextID}
	c.comps = append([]payroll.Compensation{}, s.comps...)
	c.runs = append([]payroll.PayrollRun{}, s.runs...)
	c.audit = append([]payroll.AuditEntry{}, s.audit...)
	return c
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Memory) InsertCompensation(ctx context.Context, c *payroll.Compensation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertCompensation(ctx, c)
}

func (m *Memory) CloseCompensation(ctx context.Context, compID int64, validTo generic.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CloseCompensation(ctx, compID, validTo)
}

func (m *Memory) CompensationsAt(ctx context.Context, employeeID int64, d generic.Date) ([]payroll.Compensation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CompensationsAt(ctx, employeeID, d)
}

func (m *Memory) NextCompensation(ctx context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.NextCompensation(ctx, employeeID, d)
}

func (m *Memory) EffectiveCompensation(ctx context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.EffectiveCompensation(ctx, employeeID, d)
}

func (m *Memory) CompensationsOverlapping(ctx context.Context, employeeID int64, p generic.Period) ([]payroll.Compensation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CompensationsOverlapping(ctx, employeeID, p)
}

func (m *Memory) CompensationHistory(ctx context.Context, employeeID int64, f payroll.HistoryFilter) ([]payroll.Compensation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CompensationHistory(ctx, employeeID, f)
}

func (m *Memory) InsertRun(ctx context.Context, r *payroll.PayrollRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertRun(ctx, r)
}

func (m *Memory) GetRun(ctx context.Context, runID int64) (*payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetRun(ctx, runID)
}

func (m *Memory) FindRun(ctx context.Context, employeeID int64, month generic.Date) (*payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.FindRun(ctx, employeeID, month)
}

func (m *Memory) UpdateRunStatus(ctx context.Context, runID int64, from, to payroll.RunStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateRunStatus(ctx, runID, from, to, at)
}

func (m *Memory) ListRuns(ctx context.Context, f payroll.RunFilter) ([]payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListRuns(ctx, f)
}

func (m *Memory) AppendAudit(ctx context.Context, e *payroll.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, e)
}

func (m *Memory) QueryAudit(ctx context.Context, f payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.QueryAudit(ctx, f)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// UNLOCKED STATE
// =============================================================================

func (s *state) InsertCompensation(_ context.Context, c *payroll.Compensation) error {
	for _, existing := range s.comps {
		if existing.EmployeeID != c.EmployeeID {
			continue
		}
		if existing.ValidFrom.Equal(c.ValidFrom) || (existing.IsOpen() && c.IsOpen()) {
			return fmt.Errorf("employee %d from %s: %w", c.EmployeeID, c.ValidFrom, generic.ErrOverlappingCompensation)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ID = s.id()
	s.comps = append(s.comps, copyComp(*c))
	return nil
}

func (s *state) CloseCompensation(_ context.Context, compID int64, validTo generic.Date) error {
	for i := range s.comps {
		if s.comps[i].ID != compID {
			continue
		}
		if !s.comps[i].IsOpen() {
			break
		}
		to := validTo
		s.comps[i].ValidTo = &to
		return nil
	}
	return fmt.Errorf("compensation %d is not open: %w", compID, generic.ErrConcurrentModification)
}

func (s *state) CompensationsAt(_ context.Context, employeeID int64, d generic.Date) ([]payroll.Compensation, error) {
	return s.selectComps(employeeID, func(c payroll.Compensation) bool {
		return c.ValidFrom.BeforeOrEqual(d) && (c.IsOpen() || c.ValidTo.AfterOrEqual(d))
	}, true), nil
}

func (s *state) NextCompensation(_ context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	later := s.selectComps(employeeID, func(c payroll.Compensation) bool { return c.ValidFrom.After(d) }, true)
	if len(later) == 0 {
		return nil, nil
	}
	return &later[0], nil
}

func (s *state) EffectiveCompensation(_ context.Context, employeeID int64, d generic.Date) (*payroll.Compensation, error) {
	covering := s.selectComps(employeeID, func(c payroll.Compensation) bool { return c.Interval().Covers(d) }, false)
	if len(covering) == 0 {
		return nil, nil
	}
	return &covering[0], nil
}

func (s *state) CompensationsOverlapping(_ context.Context, employeeID int64, p generic.Period) ([]payroll.Compensation, error) {
	return s.selectComps(employeeID, func(c payroll.Compensation) bool {
		return c.ValidFrom.BeforeOrEqual(p.End) && (c.IsOpen() || c.ValidTo.After(p.Start))
	}, true), nil
}

func (s *state) CompensationHistory(_ context.Context, employeeID int64, f payroll.HistoryFilter) ([]payroll.Compensation, error) {
	return s.selectComps(employeeID, func(c payroll.Compensation) bool {
		if f.From != nil && c.ValidFrom.Before(*f.From) {
			return false
		}
		return f.To == nil || c.ValidFrom.BeforeOrEqual(*f.To)
	}, false), nil
}

func (s *state) selectComps(employeeID int64, keep func(payroll.Compensation) bool, ascending bool) []payroll.Compensation {
	out := []payroll.Compensation{}
	for _, c := range s.comps {
		if c.EmployeeID == employeeID && keep(c) {
			out = append(out, copyComp(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].ValidFrom.Before(out[j].ValidFrom)
		}
		return out[i].ValidFrom.After(out[j].ValidFrom)
	})
	return out
}

func copyComp(c payroll.Compensation) payroll.Compensation {
	if c.ValidTo != nil {
		to := *c.ValidTo
		c.ValidTo = &to
	}
	return c
}

func (s *state) InsertRun(_ context.Context, r *payroll.PayrollRun) error {
	for _, existing := range s.runs {
		if existing.EmployeeID == r.EmployeeID && existing.PayrollMonth.Equal(r.PayrollMonth) {
			return fmt.Errorf("employee %d month %s: %w", r.EmployeeID, r.PayrollMonth.MonthKey(), generic.ErrDuplicateRun)
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	r.ID = s.id()
	s.runs = append(s.runs, copyRun(*r))
	return nil
}

func (s *state) GetRun(_ context.Context, runID int64) (*payroll.PayrollRun, error) {
	for _, r := range s.runs {
		if r.ID == runID {
			out := copyRun(r)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *state) FindRun(_ context.Context, employeeID int64, month generic.Date) (*payroll.PayrollRun, error) {
	month = month.StartOfMonth()
	for _, r := range s.runs {
		if r.EmployeeID == employeeID && r.PayrollMonth.Equal(month) {
			out := copyRun(r)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *state) UpdateRunStatus(_ context.Context, runID int64, from, to payroll.RunStatus, at time.Time) error {
	for i := range s.runs {
		if s.runs[i].ID == runID && s.runs[i].Status == from {
			s.runs[i].Status = to
			s.runs[i].UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("run %d is no longer %s: %w", runID, from, generic.ErrConcurrentModification)
}

func (s *state) ListRuns(_ context.Context, f payroll.RunFilter) ([]payroll.PayrollRun, error) {
	out := []payroll.PayrollRun{}
	for _, r := range s.runs {
		if r.OrgID != f.OrgID {
			continue
		}
		if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.Month != nil && !r.PayrollMonth.Equal(f.Month.StartOfMonth()) {
			continue
		}
		out = append(out, copyRun(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PayrollMonth.Equal(out[j].PayrollMonth) {
			return out[i].PayrollMonth.After(out[j].PayrollMonth)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func copyRun(r payroll.PayrollRun) payroll.PayrollRun {
	r.Snapshot = append(json.RawMessage(nil), r.Snapshot...)
	return r
}

// AppendAudit stores the diff as JSON would, so readers see the same shapes
// as from SQLite.
func (s *state) AppendAudit(_ context.Context, e *payroll.AuditEntry) error {
	raw, err := json.Marshal(e.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal audit diff: %w", err)
	}
	var diff map[string]any
	if err := json.Unmarshal(raw, &diff); err != nil {
		return fmt.Errorf("failed to decode audit diff: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.ID = s.id()

	stored := *e
	stored.Diff = diff
	s.audit = append(s.audit, stored)
	return nil
}

func (s *state) QueryAudit(_ context.Context, f payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	out := []payroll.AuditEntry{}
	for _, e := range s.audit {
		switch {
		case f.OrgID != nil && e.OrgID != *f.OrgID,
			f.EntityType != nil && e.EntityType != *f.EntityType,
			f.EntityID != nil && e.EntityID != *f.EntityID,
			f.ActorID != nil && e.ActorID != *f.ActorID:
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
