package shared

import "fmt"

// PeriodCloseLockKey builds the redis key guarding a period close across instances.
func PeriodCloseLockKey(companyID int64, module, period string) string {
	return fmt.Sprintf("gl:close:%d:%s:%s:lock", companyID, module, period)
}
