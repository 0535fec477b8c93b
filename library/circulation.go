package library

import (
	"fmt"
	"time"
)

// Borrow lends itemID to personID starting today. The due date follows the
// collection's loan policy for the item kind. Checks and the state change run
// under one exclusive lock, so either everything is applied or nothing is.
func Borrow(c *Collection, personID, itemID string, today time.Time) (BorrowRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	person, ok := c.persons[personID]
	if !ok {
		return BorrowRecord{}, notFound("person", personID)
	}
	item, ok := c.items[itemID]
	if !ok {
		return BorrowRecord{}, notFound("item", itemID)
	}
	if !item.IsAvailable() {
		return BorrowRecord{}, fmt.Errorf("%w: item %q", ErrItemUnavailable, itemID)
	}
	if n, limit := c.openLoans(personID), person.BorrowLimit(); n >= limit {
		return BorrowRecord{}, fmt.Errorf("%w: %s %q holds %d of %d items", ErrBorrowLimitExceeded, person.Kind, personID, n, limit)
	}

	day := CivilDate(today)
	rec := BorrowRecord{
		ID:         c.newID(),
		PersonID:   personID,
		ItemID:     itemID,
		BorrowDate: day,
		DueDate:    c.loans.DueDate(item.Kind, day),
		Status:     StatusBorrowed,
	}
	if _, clash := c.records[rec.ID]; clash {
		return BorrowRecord{}, duplicate("borrow record", rec.ID)
	}

	item.Available = false
	c.items[itemID] = item
	c.appendRecord(rec)
	return rec.clone(), nil
}

// Return closes an open record and makes its item available again. A
// returned record never changes again.
func Return(c *Collection, recordID string, today time.Time) (BorrowRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[recordID]
	if !ok {
		return BorrowRecord{}, notFound("borrow record", recordID)
	}
	if rec.Status != StatusBorrowed {
		return BorrowRecord{}, fmt.Errorf("%w: borrow record %q", ErrAlreadyReturned, recordID)
	}
	item, ok := c.items[rec.ItemID]
	if !ok {
		// Open records pin their item, so this only happens on corrupted state.
		return BorrowRecord{}, invalidf("borrow record %q references unknown item %q", recordID, rec.ItemID)
	}

	day := CivilDate(today)
	rec.Status = StatusReturned
	rec.ReturnDate = &day
	item.Available = true
	c.records[recordID] = rec
	c.items[rec.ItemID] = item
	return rec.clone(), nil
}
