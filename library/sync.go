package library

import "fmt"

// MergeReport counts what a one-way sync changed in its target.
type MergeReport struct {
	InsertedPersons int `json:"inserted_persons" yaml:"inserted_persons"`
	InsertedItems   int `json:"inserted_items" yaml:"inserted_items"`
	InsertedRecords int `json:"inserted_records" yaml:"inserted_records"`
	SkippedRecords  int `json:"skipped_records" yaml:"skipped_records"`

	// SkippedRecordIDs lists the records counted in SkippedRecords.
	SkippedRecordIDs []string `json:"skipped_record_ids,omitempty" yaml:"skipped_record_ids,omitempty"`
}

// Inserted is the total number of entities added to the target.
func (r MergeReport) Inserted() int {
	return r.InsertedPersons + r.InsertedItems + r.InsertedRecords
}

// Summary renders the report as a one-line success message.
func (r MergeReport) Summary(source, target LibraryID) string {
	return fmt.Sprintf("Synced library %s into %s: %d persons, %d items, %d borrow records added, %d records skipped",
		source, target, r.InsertedPersons, r.InsertedItems, r.InsertedRecords, r.SkippedRecords)
}

// Sync copies every entity of source whose id is missing from target into
// target. Entities already in target are left untouched, nothing is ever
// deleted and source is only read.
//
// Persons and items are merged first. A borrow record is copied only when its
// person and item exist in target afterwards; an open record is also skipped
// when target could not take it without breaking its own invariants (item on
// loan or available in target, person at the borrow limit). Items copied by
// this run get their availability aligned with the open records target ends
// up holding.
func Sync(source, target *Collection) (MergeReport, error) {
	if source == target {
		return MergeReport{}, ErrSameCollection
	}
	unlock := lockPair(source, target)
	defer unlock()

	var rep MergeReport
	for _, id := range source.personOrder {
		if _, ok := target.persons[id]; ok {
			continue
		}
		if err := target.insertPerson(source.persons[id]); err != nil {
			return rep, fmt.Errorf("sync person %q: %w", id, err)
		}
		rep.InsertedPersons++
	}

	copied := make(map[string]bool)
	for _, id := range source.itemOrder {
		if _, ok := target.items[id]; ok {
			continue
		}
		if err := target.insertItem(source.items[id]); err != nil {
			return rep, fmt.Errorf("sync item %q: %w", id, err)
		}
		copied[id] = true
		rep.InsertedItems++
	}

	for _, id := range source.recordOrder {
		if _, ok := target.records[id]; ok {
			continue
		}
		r := source.records[id]
		if !target.accepts(r, copied) {
			rep.SkippedRecords++
			rep.SkippedRecordIDs = append(rep.SkippedRecordIDs, id)
			continue
		}
		target.appendRecord(r)
		rep.InsertedRecords++
	}

	for id := range copied {
		item := target.items[id]
		item.Available = target.openRecordsFor(id) == 0
		target.items[id] = item
	}
	return rep, nil
}

// accepts reports whether r can join c. Items in copied were inserted by the
// running sync and still carry source's availability.
func (c *Collection) accepts(r BorrowRecord, copied map[string]bool) bool {
	person, ok := c.persons[r.PersonID]
	if !ok {
		return false
	}
	item, ok := c.items[r.ItemID]
	if !ok {
		return false
	}
	if !r.Open() {
		return true
	}
	if c.openRecordsFor(r.ItemID) > 0 {
		return false
	}
	if !copied[r.ItemID] && item.Available {
		return false
	}
	return c.openLoans(r.PersonID) < person.BorrowLimit()
}

// lockPair takes a shared lock on src and an exclusive lock on dst, always in
// collection creation order so concurrent syncs in opposite directions cannot
// deadlock.
func lockPair(src, dst *Collection) (unlock func()) {
	if src.seq < dst.seq {
		src.mu.RLock()
		dst.mu.Lock()
	} else {
		dst.mu.Lock()
		src.mu.RLock()
	}
	return func() {
		dst.mu.Unlock()
		src.mu.RUnlock()
	}
}
