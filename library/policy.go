package library

import "time"

const (
	StudentBorrowLimit = 5
	TeacherBorrowLimit = 10

	DefaultBookLoanDays     = 14
	DefaultMagazineLoanDays = 7
)

// BorrowLimitFor returns the concurrent loan limit for a person kind.
func BorrowLimitFor(kind PersonKind) int {
	switch kind {
	case KindStudent:
		return StudentBorrowLimit
	case KindTeacher:
		return TeacherBorrowLimit
	default:
		return 0
	}
}

// LoanPolicy holds the loan period per item kind, in days.
type LoanPolicy struct {
	BookDays     int
	MagazineDays int
}

// DefaultLoanPolicy lends books for two weeks and magazines for one.
func DefaultLoanPolicy() LoanPolicy {
	return LoanPolicy{BookDays: DefaultBookLoanDays, MagazineDays: DefaultMagazineLoanDays}
}

// DaysFor returns the loan period for an item kind.
func (p LoanPolicy) DaysFor(kind ItemKind) int {
	switch kind {
	case KindBook:
		return p.BookDays
	case KindMagazine:
		return p.MagazineDays
	default:
		return 0
	}
}

// DueDate computes the due date of a loan of kind starting on borrowed.
func (p LoanPolicy) DueDate(kind ItemKind, borrowed time.Time) time.Time {
	return CivilDate(borrowed).AddDate(0, 0, p.DaysFor(kind))
}
