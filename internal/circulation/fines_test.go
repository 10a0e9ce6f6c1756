package circulation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"libracirc/internal/calendar"
)

func TestFineExample(t *testing.T) {
	due := calendar.MustParse("2024-01-10")
	returned := calendar.MustParse("2024-01-15")

	days := OverdueDays(due, returned)
	assert.Equal(t, 5, days)
	assert.True(t, decimal.NewFromInt(5000).Equal(Fine(days, decimal.NewFromInt(1000))))
}

func TestOverdueDaysAcrossMonthAndLeapDay(t *testing.T) {
	assert.Equal(t, 2, OverdueDays(calendar.MustParse("2024-02-28"), calendar.MustParse("2024-03-01")))
	assert.Equal(t, 1, OverdueDays(calendar.MustParse("2023-12-31"), calendar.MustParse("2024-01-01")))
}

func TestFineProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := calendar.New(2020, 1, 1).AddDays(rapid.IntRange(0, 3000).Draw(t, "due"))
		offset := rapid.IntRange(-60, 400).Draw(t, "offset")
		rate := decimal.NewFromInt(rapid.Int64Range(1, 100000).Draw(t, "rate")).Shift(-2)
		returned := due.AddDays(offset)

		days := OverdueDays(due, returned)
		fine := Fine(days, rate)

		if days != max(0, offset) {
			t.Fatalf("overdue days %d for offset %d", days, offset)
		}
		if fine.IsNegative() {
			t.Fatalf("negative fine %s", fine)
		}
		if fine.IsPositive() != returned.After(due) {
			t.Fatalf("fine %s with return %s and due %s", fine, returned, due)
		}
		if !fine.Equal(rate.Mul(decimal.NewFromInt(int64(days)))) {
			t.Fatalf("fine %s is not %d days at %s", fine, days, rate)
		}
	})
}
