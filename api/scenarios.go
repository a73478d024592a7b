/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the caller's org with
	realistic compensation histories and runs. Everything goes through
	payroll.Service, so scenarios exercise the same locks, audit entries
	and events as real traffic.

AVAILABLE SCENARIOS:

	mid-month-raise:       3000 until Jan 15, 6000 from Jan 16 (4548.39 for January)
	new-hire:              Hired on Jan 10, partial first month
	backdated-correction:  Starting salary entered after the March review
	month-close:           Batch for January, one run confirmed, one paid

HOW SCENARIOS WORK:
 1. Register the scenario's employees in the demo directory
 2. Create compensation intervals, oldest first unless backdating
 3. Generate runs, singly or through a batch
 4. Optionally move runs through confirm / pay

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mid-month-raise"}

	Loading a scenario twice in the same org answers 409: the intervals
	and runs already exist.

NOTE:

	Routes are only mounted when Handler.Directory is set, which the
	server does in -demo mode. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - cmd/server/main.go: -demo wiring
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Directory is the writable user directory scenarios register employees in.
type Directory interface {
	Put(u payroll.UserSummary)
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario describes a demo scenario.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResult lists what a scenario created.
type ScenarioResult struct {
	ScenarioID      string  `json:"scenario_id"`
	EmployeeIDs     []int64 `json:"employee_ids"`
	CompensationIDs []int64 `json:"compensation_ids"`
	RunIDs          []int64 `json:"run_ids"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// demoCampus isolates month-close employees from other scenarios' batches.
const demoCampus int64 = 900

type scenarioLoader func(ctx context.Context, l *loader) error

var scenarios = []struct {
	Scenario
	load scenarioLoader
}{
	{
		Scenario: Scenario{
			ID:          "mid-month-raise",
			Name:        "Mid-Month Raise",
			Description: "Base salary doubles on January 16th; January is prorated across both intervals",
		},
		load: loadMidMonthRaise,
	},
	{
		Scenario: Scenario{
			ID:          "new-hire",
			Name:        "New Hire",
			Description: "Compensation starts January 10th; only 22 of 31 days are paid",
		},
		load: loadNewHire,
	},
	{
		Scenario: Scenario{
			ID:          "backdated-correction",
			Name:        "Backdated Correction",
			Description: "The January starting salary is recorded after the March review; it is bounded at March 1st",
		},
		load: loadBackdatedCorrection,
	},
	{
		Scenario: Scenario{
			ID:          "month-close",
			Name:        "Month Close",
			Description: "January batch for three employees, then confirm and pay",
		},
		load: loadMonthClose,
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list := make([]Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		list = append(list, s.Scenario)
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: list})
}

// LoadScenario loads a scenario into the caller's org.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	orgID, actorID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	for _, s := range scenarios {
		if s.ID != req.ScenarioID {
			continue
		}
		l := &loader{svc: h.Service, dir: h.Directory, orgID: orgID, actorID: actorID,
			result: ScenarioResult{ScenarioID: s.ID}}
		if err := s.load(r.Context(), l); err != nil {
			h.writeServiceError(w, r, "Failed to load scenario", err)
			return
		}
		writeJSON(w, http.StatusCreated, DataResponse{Data: l.result})
		return
	}
	writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
}

// =============================================================================
// LOADERS
// =============================================================================

// loader carries the tenant and accumulates what was created.
type loader struct {
	svc     payroll.Service
	dir     Directory
	orgID   int64
	actorID int64
	result  ScenarioResult
}

// employee registers id in the org. Ids are offset by org so scenarios
// loaded into different orgs never share employees.
func (l *loader) employee(base int64, name string, campus int64) int64 {
	id := l.orgID*10000 + base
	l.dir.Put(payroll.UserSummary{ID: id, OrgID: l.orgID, Name: name, CampusID: campus})
	l.result.EmployeeIDs = append(l.result.EmployeeIDs, id)
	return id
}

func (l *loader) compensation(ctx context.Context, employeeID int64, from, base, perf, reason string) error {
	c, err := l.svc.CreateCompensation(ctx, payroll.CreateCompensationInput{
		OrgID:      l.orgID,
		EmployeeID: employeeID,
		BaseSalary: generic.MustParseMoney(base),
		PerfSalary: generic.MustParseMoney(perf),
		ValidFrom:  generic.MustParseDate(from),
		Reason:     reason,
		OperatorID: l.actorID,
	})
	if err != nil {
		return err
	}
	l.result.CompensationIDs = append(l.result.CompensationIDs, c.ID)
	return nil
}

func (l *loader) run(ctx context.Context, employeeID int64, month string) (*payroll.PayrollRun, error) {
	run, err := l.svc.GeneratePayrollRun(ctx, payroll.GenerateRunInput{
		OrgID:      l.orgID,
		EmployeeID: employeeID,
		Month:      generic.MustParseDate(month),
		ActorID:    l.actorID,
	})
	if err != nil {
		return nil, err
	}
	l.result.RunIDs = append(l.result.RunIDs, run.ID)
	return run, nil
}

func loadMidMonthRaise(ctx context.Context, l *loader) error {
	emp := l.employee(1, "Mina Park", 0)
	if err := l.compensation(ctx, emp, "2023-06-01", "3000", "0", "initial offer"); err != nil {
		return err
	}
	if err := l.compensation(ctx, emp, "2024-01-16", "6000", "0", "promotion"); err != nil {
		return err
	}
	_, err := l.run(ctx, emp, "2024-01-01")
	return err
}

func loadNewHire(ctx context.Context, l *loader) error {
	emp := l.employee(2, "Theo Lindqvist", 0)
	if err := l.compensation(ctx, emp, "2024-01-10", "4000", "200", "new hire"); err != nil {
		return err
	}
	_, err := l.run(ctx, emp, "2024-01-01")
	return err
}

func loadBackdatedCorrection(ctx context.Context, l *loader) error {
	emp := l.employee(3, "Ana Sousa", 0)
	if err := l.compensation(ctx, emp, "2024-03-01", "3800", "0", "annual review"); err != nil {
		return err
	}
	// recorded late: bounded by the March interval
	return l.compensation(ctx, emp, "2024-01-01", "3500", "0", "initial offer, entered late")
}

func loadMonthClose(ctx context.Context, l *loader) error {
	staff := []struct {
		id           int64
		name         string
		from, salary string
	}{
		{4, "Kofi Mensah", "2023-09-01", "3200"},
		{5, "Lena Vogel", "2023-11-15", "4100"},
		{6, "Ravi Iyer", "2024-01-22", "3900"},
	}
	for _, s := range staff {
		emp := l.employee(s.id, s.name, demoCampus)
		if err := l.compensation(ctx, emp, s.from, s.salary, "250", "initial offer"); err != nil {
			return err
		}
	}

	res, err := l.svc.GenerateBatch(ctx, payroll.BatchInput{
		OrgID:   l.orgID,
		Month:   generic.MustParseDate("2024-01-01"),
		Filter:  payroll.BatchFilter{CampusIDs: []int64{demoCampus}},
		ActorID: l.actorID,
	})
	if err != nil {
		return err
	}
	l.result.RunIDs = append(l.result.RunIDs, res.RunIDs...)
	if len(res.RunIDs) < 2 {
		return fmt.Errorf("month-close: expected runs for the whole campus, got %d: %w", len(res.RunIDs), generic.ErrConflict)
	}

	for i, action := range []payroll.RunAction{payroll.ActionConfirm, payroll.ActionPay} {
		// first run ends paid, second ends confirmed
		for _, id := range res.RunIDs[:2-i] {
			if _, err := l.svc.UpdatePayrollRunStatus(ctx, id, action, l.actorID); err != nil {
				return err
			}
		}
	}
	return nil
}
