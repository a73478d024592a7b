package lock

import (
	"fmt"

	"github.com/warp/payroll-engine/generic"
)

// CompensationKey guards one employee's compensation timeline.
func CompensationKey(employeeID int64) string {
	return fmt.Sprintf("lock:compensation:user:%d", employeeID)
}

// PayrollMonthKey guards one (org, month) batch.
func PayrollMonthKey(orgID int64, month generic.Date) string {
	return fmt.Sprintf("lock:payroll:month:%d:%s", orgID, month.StartOfMonth())
}

// PayrollRunKey guards a single employee's run for one month.
func PayrollRunKey(employeeID int64, month generic.Date) string {
	return fmt.Sprintf("lock:payroll:run:%d:%s", employeeID, month.StartOfMonth())
}
