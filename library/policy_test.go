package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBorrowLimitFor(t *testing.T) {
	assert.Equal(t, 5, BorrowLimitFor(KindStudent))
	assert.Equal(t, 10, BorrowLimitFor(KindTeacher))
	assert.Equal(t, 0, BorrowLimitFor("janitor"))
}

func TestLoanPolicy(t *testing.T) {
	p := DefaultLoanPolicy()
	tests := []struct {
		kind ItemKind
		days int
		due  time.Time
	}{
		{KindBook, 14, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)},
		{KindMagazine, 7, time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.days, p.DaysFor(tt.kind))
			// time of day is dropped
			assert.Equal(t, tt.due, p.DueDate(tt.kind, day0.Add(17*time.Hour)))
		})
	}

	custom := LoanPolicy{BookDays: 21, MagazineDays: 3}
	assert.Equal(t, time.Date(2024, time.March, 22, 0, 0, 0, 0, time.UTC), custom.DueDate(KindBook, day0))
}

func TestDueDateCrossesMonthAndLeapDay(t *testing.T) {
	p := DefaultLoanPolicy()
	feb := time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-05", FormatDate(p.DueDate(KindBook, feb)))
	assert.Equal(t, "2024-02-27", FormatDate(p.DueDate(KindMagazine, feb)))
}
