// internal/circulation/fines.go
package circulation

import (
	"github.com/shopspring/decimal"

	"libracirc/internal/calendar"
)

// OverdueDays is the number of whole days between due and returned, or
// zero when the item came back on or before its due date.
func OverdueDays(due, returned calendar.Date) int {
	return max(0, due.DaysUntil(returned))
}

// Fine is the penalty for days overdue at perDay.
func Fine(days int, perDay decimal.Decimal) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return perDay.Mul(decimal.NewFromInt(int64(days)))
}
