package payroll

import "context"

// UserSummary is what the payroll engine needs to know about an employee.
type UserSummary struct {
	ID               int64  `json:"user_id"`
	OrgID            int64  `json:"org_id"`
	Name             string `json:"name"`
	CampusID         int64  `json:"campus_id,omitempty"`
	EmploymentStatus string `json:"employment_status"`
}

// UserLookup is the user service as seen from payroll.
// Validate fails with generic.ErrUserNotFound when userID is not a member
// of orgID, and with an Unavailable error when the service is down.
type UserLookup interface {
	Validate(ctx context.Context, userID, orgID int64) (UserSummary, error)
	ListActive(ctx context.Context, orgID int64, filter BatchFilter) ([]UserSummary, error)
}
