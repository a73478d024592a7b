package users

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Memory is an in-process user directory.
type Memory struct {
	mu    sync.RWMutex
	users map[int64]payroll.UserSummary
	// Err, if set, is returned from every call.
	Err error
}

var _ payroll.UserLookup = (*Memory)(nil)

func NewMemory(users ...payroll.UserSummary) *Memory {
	m := &Memory{users: make(map[int64]payroll.UserSummary)}
	for _, u := range users {
		m.Put(u)
	}
	return m
}

// Put adds or replaces a user. An empty status means active.
func (m *Memory) Put(u payroll.UserSummary) {
	if u.EmploymentStatus == "" {
		u.EmploymentStatus = StatusActive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) Validate(_ context.Context, userID, orgID int64) (payroll.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return payroll.UserSummary{}, m.Err
	}
	u, ok := m.users[userID]
	if !ok || u.OrgID != orgID {
		return payroll.UserSummary{}, fmt.Errorf("user %d in org %d: %w", userID, orgID, generic.ErrUserNotFound)
	}
	return u, nil
}

func (m *Memory) ListActive(_ context.Context, orgID int64, filter payroll.BatchFilter) ([]payroll.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if filter.EmploymentStatus == "" {
		filter.EmploymentStatus = StatusActive
	}
	all := make([]payroll.UserSummary, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return Filter(all, orgID, filter), nil
}
