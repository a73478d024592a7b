package payroll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/lock"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/memory"
	"github.com/warp/payroll-engine/users"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	testOrg      int64 = 1
	testOperator int64 = 99
)

var testNow = time.Date(2024, time.February, 5, 9, 30, 0, 0, time.UTC)

type fixture struct {
	engine *payroll.Engine
	store  *memory.Memory
	locker *lock.Memory
	users  *users.Memory
	events *events.Recorder
}

type fixtureOption func(*payroll.Deps)

// withoutDirectory leaves the engine with no user lookup.
func withoutDirectory() fixtureOption {
	return func(d *payroll.Deps) { d.Users = nil }
}

func withLocker(l lock.Locker) fixtureOption {
	return func(d *payroll.Deps) { d.Locker = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		locker: lock.NewMemory(),
		users:  users.NewMemory(),
		events: &events.Recorder{},
	}

	fast := lock.Options{TTL: 5 * time.Second, MaxRetries: 3, RetryDelay: time.Millisecond}
	cfg := payroll.Config{
		CompensationLock: fast,
		RunLock:          fast,
		BatchLock:        lock.Options{TTL: 5 * time.Second, MaxRetries: 0, RetryDelay: time.Millisecond, AutoExtend: true},
		Now:              func() time.Time { return testNow },
	}

	deps := payroll.Deps{
		Store:  f.store,
		Locker: f.locker,
		Users:  f.users,
		Events: f.events,
		Config: &cfg,
	}
	for _, o := range opts {
		o(&deps)
	}
	f.engine = payroll.NewEngine(deps)
	return f
}

// employ registers each id as an active employee of testOrg.
func (f *fixture) employ(userIDs ...int64) {
	for _, id := range userIDs {
		f.users.Put(payroll.UserSummary{ID: id, OrgID: testOrg, Name: "employee"})
	}
}

func (f *fixture) addComp(t *testing.T, userID int64, from string, base, perf string) *payroll.Compensation {
	t.Helper()
	f.employ(userID)
	c, err := f.engine.CreateCompensation(context.Background(), compInput(userID, from, base, perf))
	require.NoError(t, err)
	return c
}

func compInput(userID int64, from, base, perf string) payroll.CreateCompensationInput {
	return payroll.CreateCompensationInput{
		OrgID:      testOrg,
		EmployeeID: userID,
		BaseSalary: money(base),
		PerfSalary: money(perf),
		ValidFrom:  date(from),
		OperatorID: testOperator,
	}
}

func runInput(userID int64, month string) payroll.GenerateRunInput {
	return payroll.GenerateRunInput{
		OrgID:      testOrg,
		EmployeeID: userID,
		Month:      date(month),
		ActorID:    testOperator,
	}
}

func date(s string) generic.Date { return generic.MustParseDate(s) }

func money(s string) generic.Money { return generic.MustParseMoney(s) }

func datePtr(s string) *generic.Date {
	d := date(s)
	return &d
}

// assertMoney compares at cent precision.
func assertMoney(t *testing.T, want string, got generic.Money, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want, generic.FormatMoney(got), msgAndArgs...)
}

func (f *fixture) audit(t *testing.T, entity payroll.EntityType, id int64) []payroll.AuditEntry {
	t.Helper()
	entries, err := f.engine.AuditTrail(context.Background(), payroll.AuditFilter{EntityType: &entity, EntityID: &id})
	require.NoError(t, err)
	return entries
}

// downLocker is a lock backend that cannot be reached.
type downLocker struct{}

func (downLocker) Acquire(context.Context, string, lock.Options) (string, error) {
	return "", generic.Unavailable("acquire lock", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"))
}

func (downLocker) Release(context.Context, string, string) bool { return false }

func (downLocker) Extend(context.Context, string, string, time.Duration) bool { return false }
