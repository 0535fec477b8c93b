package library

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// collectionSeq hands out the global lock order used when two collections
// must be locked together.
var collectionSeq atomic.Uint64

// Collection is the in-memory state of one library. It is the only mutator of
// the entities it holds; all accessors return copies.
type Collection struct {
	mu    sync.RWMutex
	seq   uint64
	id    LibraryID
	loans LoanPolicy
	newID func() string

	persons     map[string]Person
	personOrder []string
	items       map[string]Item
	itemOrder   []string
	records     map[string]BorrowRecord
	recordOrder []string
}

// Option configures a Collection.
type Option func(*Collection)

// WithLoanPolicy overrides the default loan periods.
func WithLoanPolicy(p LoanPolicy) Option {
	return func(c *Collection) { c.loans = p }
}

// WithIDGenerator overrides the record id generator (UUIDs by default).
func WithIDGenerator(fn func() string) Option {
	return func(c *Collection) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewCollection returns an empty collection for library id.
func NewCollection(id LibraryID, opts ...Option) *Collection {
	c := &Collection{
		seq:     collectionSeq.Add(1),
		id:      id,
		loans:   DefaultLoanPolicy(),
		newID:   uuid.NewString,
		persons: make(map[string]Person),
		items:   make(map[string]Item),
		records: make(map[string]BorrowRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the library id this collection belongs to.
func (c *Collection) ID() LibraryID { return c.id }

// LoanPolicy returns the loan periods in effect.
func (c *Collection) LoanPolicy() LoanPolicy { return c.loans }

// ------------------ Persons ------------------

// AddPerson inserts a copy of p.
func (c *Collection) AddPerson(p Person) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertPerson(p)
}

func (c *Collection) insertPerson(p Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := c.persons[p.ID]; ok {
		return duplicate("person", p.ID)
	}
	c.persons[p.ID] = p.clone()
	c.personOrder = append(c.personOrder, p.ID)
	return nil
}

// UpdatePerson replaces the descriptive fields of an existing person. The
// variant cannot change.
func (c *Collection) UpdatePerson(p Person) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.persons[p.ID]
	if !ok {
		return notFound("person", p.ID)
	}
	if old.Kind != p.Kind {
		return invalidf("person %q: cannot change type from %s to %s", p.ID, old.Kind, p.Kind)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.persons[p.ID] = p.clone()
	return nil
}

// RemovePerson deletes a person that holds no open loans.
func (c *Collection) RemovePerson(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.persons[id]; !ok {
		return notFound("person", id)
	}
	if n := c.openLoans(id); n > 0 {
		return referenced("person", id, n)
	}
	delete(c.persons, id)
	c.personOrder = slices.DeleteFunc(c.personOrder, func(s string) bool { return s == id })
	return nil
}

// Person returns a copy of the person with the given id.
func (c *Collection) Person(id string) (Person, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.persons[id]
	if !ok {
		return Person{}, notFound("person", id)
	}
	return p.clone(), nil
}

// Persons returns all persons in insertion order.
func (c *Collection) Persons() []Person {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Person, 0, len(c.personOrder))
	for _, id := range c.personOrder {
		out = append(out, c.persons[id].clone())
	}
	return out
}

// ------------------ Items ------------------

// AddItem inserts a copy of i.
func (c *Collection) AddItem(i Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertItem(i)
}

func (c *Collection) insertItem(i Item) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if _, ok := c.items[i.ID]; ok {
		return duplicate("item", i.ID)
	}
	c.items[i.ID] = i.clone()
	c.itemOrder = append(c.itemOrder, i.ID)
	return nil
}

// UpdateItem replaces the descriptive fields of an existing item. The variant
// and the availability flag are owned by the collection and cannot change here.
func (c *Collection) UpdateItem(i Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.items[i.ID]
	if !ok {
		return notFound("item", i.ID)
	}
	if old.Kind != i.Kind {
		return invalidf("item %q: cannot change type from %s to %s", i.ID, old.Kind, i.Kind)
	}
	i.Available = old.Available
	if err := i.Validate(); err != nil {
		return err
	}
	c.items[i.ID] = i.clone()
	return nil
}

// RemoveItem deletes an item that is not on loan.
func (c *Collection) RemoveItem(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return notFound("item", id)
	}
	if n := c.openRecordsFor(id); n > 0 {
		return referenced("item", id, n)
	}
	delete(c.items, id)
	c.itemOrder = slices.DeleteFunc(c.itemOrder, func(s string) bool { return s == id })
	return nil
}

// Item returns a copy of the item with the given id.
func (c *Collection) Item(id string) (Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.items[id]
	if !ok {
		return Item{}, notFound("item", id)
	}
	return i.clone(), nil
}

// Items returns all items in insertion order.
func (c *Collection) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, 0, len(c.itemOrder))
	for _, id := range c.itemOrder {
		out = append(out, c.items[id].clone())
	}
	return out
}

// ------------------ Borrow records ------------------

// RecordFilter narrows BorrowRecords. Zero fields match everything. Status is
// compared against the effective status as of Today (time.Now when zero).
type RecordFilter struct {
	PersonID string
	ItemID   string
	Status   RecordStatus
	Today    time.Time
}

func (f RecordFilter) match(r BorrowRecord) bool {
	if f.PersonID != "" && r.PersonID != f.PersonID {
		return false
	}
	if f.ItemID != "" && r.ItemID != f.ItemID {
		return false
	}
	if f.Status != "" {
		today := f.Today
		if today.IsZero() {
			today = time.Now()
		}
		return r.EffectiveStatus(today) == f.Status
	}
	return true
}

// Record returns a copy of the record with the given id.
func (c *Collection) Record(id string) (BorrowRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return BorrowRecord{}, notFound("borrow record", id)
	}
	return r.clone(), nil
}

// BorrowRecords returns a snapshot of the matching records ordered by borrow
// date; records borrowed on the same day keep their insertion order.
func (c *Collection) BorrowRecords(f RecordFilter) []BorrowRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BorrowRecord, 0, len(c.recordOrder))
	for _, id := range c.recordOrder {
		if r := c.records[id]; f.match(r) {
			out = append(out, r.clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].BorrowDate.Before(out[b].BorrowDate) })
	return out
}

// OpenLoans counts the open records held by a person.
func (c *Collection) OpenLoans(personID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.openLoans(personID)
}

func (c *Collection) openLoans(personID string) int {
	n := 0
	for _, r := range c.records {
		if r.Open() && r.PersonID == personID {
			n++
		}
	}
	return n
}

func (c *Collection) openRecordsFor(itemID string) int {
	n := 0
	for _, r := range c.records {
		if r.Open() && r.ItemID == itemID {
			n++
		}
	}
	return n
}

func (c *Collection) appendRecord(r BorrowRecord) {
	c.records[r.ID] = r.clone()
	c.recordOrder = append(c.recordOrder, r.ID)
}

// ------------------ Search & stats ------------------

// SearchResult groups the entities matching a query.
type SearchResult struct {
	Persons []Person `json:"persons" yaml:"persons"`
	Items   []Item   `json:"items" yaml:"items"`
}

// Search matches query case-insensitively against item titles and authors
// and person names. An empty query matches nothing.
func (c *Collection) Search(query string) SearchResult {
	res := SearchResult{Persons: []Person{}, Items: []Item{}}
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))
	if q == "" {
		return res
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.itemOrder {
		i := c.items[id]
		if strings.Contains(fold.String(i.Title), q) || strings.Contains(fold.String(i.Author), q) {
			res.Items = append(res.Items, i.clone())
		}
	}
	for _, id := range c.personOrder {
		p := c.persons[id]
		if strings.Contains(fold.String(p.Name), q) {
			res.Persons = append(res.Persons, p.clone())
		}
	}
	return res
}

// Stats summarises a collection.
type Stats struct {
	Library            LibraryID `json:"library" yaml:"library"`
	TotalBooks         int       `json:"total_books" yaml:"total_books"`
	AvailableBooks     int       `json:"available_books" yaml:"available_books"`
	TotalMagazines     int       `json:"total_magazines" yaml:"total_magazines"`
	AvailableMagazines int       `json:"available_magazines" yaml:"available_magazines"`
	TotalStudents      int       `json:"total_students" yaml:"total_students"`
	TotalTeachers      int       `json:"total_teachers" yaml:"total_teachers"`
	ActiveBorrows      int       `json:"active_borrows" yaml:"active_borrows"`
	OverdueItems       int       `json:"overdue_items" yaml:"overdue_items"`
}

// Stats counts entities as of today.
func (c *Collection) Stats(today time.Time) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Library: c.id}
	for _, i := range c.items {
		switch i.Kind {
		case KindBook:
			s.TotalBooks++
			if i.Available {
				s.AvailableBooks++
			}
		case KindMagazine:
			s.TotalMagazines++
			if i.Available {
				s.AvailableMagazines++
			}
		}
	}
	for _, p := range c.persons {
		switch p.Kind {
		case KindStudent:
			s.TotalStudents++
		case KindTeacher:
			s.TotalTeachers++
		}
	}
	for _, r := range c.records {
		if !r.Open() {
			continue
		}
		s.ActiveBorrows++
		if r.EffectiveStatus(today) == StatusOverdue {
			s.OverdueItems++
		}
	}
	return s
}

// ------------------ Snapshots ------------------

// Contents is a plain, ordered copy of everything a collection holds. It is
// the exchange shape between the collection, the codec and the stores.
type Contents struct {
	Library LibraryID
	Persons []Person
	Items   []Item
	Records []BorrowRecord
}

// Contents returns a deep copy of the collection, records in insertion order.
func (c *Collection) Contents() Contents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contents()
}

func (c *Collection) contents() Contents {
	out := Contents{
		Library: c.id,
		Persons: make([]Person, 0, len(c.personOrder)),
		Items:   make([]Item, 0, len(c.itemOrder)),
		Records: make([]BorrowRecord, 0, len(c.recordOrder)),
	}
	for _, id := range c.personOrder {
		out.Persons = append(out.Persons, c.persons[id].clone())
	}
	for _, id := range c.itemOrder {
		out.Items = append(out.Items, c.items[id].clone())
	}
	for _, id := range c.recordOrder {
		out.Records = append(out.Records, c.records[id].clone())
	}
	return out
}

// FromContents rebuilds a collection and checks every invariant: unique ids,
// valid entities, open records pointing at existing entities, availability
// matching open records and borrow limits respected.
func FromContents(in Contents, opts ...Option) (*Collection, error) {
	c := NewCollection(in.Library, opts...)
	for _, p := range in.Persons {
		if err := c.insertPerson(p); err != nil {
			return nil, asInvalid(err)
		}
	}
	for _, i := range in.Items {
		if err := c.insertItem(i); err != nil {
			return nil, asInvalid(err)
		}
	}
	for _, r := range in.Records {
		if err := c.checkRecord(r); err != nil {
			return nil, err
		}
		c.appendRecord(r)
	}
	if err := c.checkInvariants(); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns an independent deep copy sharing no state with c.
func (c *Collection) Clone() *Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := NewCollection(c.id, WithLoanPolicy(c.loans), WithIDGenerator(c.newID))
	in := c.contents()
	for _, p := range in.Persons {
		out.persons[p.ID] = p
		out.personOrder = append(out.personOrder, p.ID)
	}
	for _, i := range in.Items {
		out.items[i.ID] = i
		out.itemOrder = append(out.itemOrder, i.ID)
	}
	for _, r := range in.Records {
		out.appendRecord(r)
	}
	return out
}

func (c *Collection) checkRecord(r BorrowRecord) error {
	if strings.TrimSpace(r.ID) == "" {
		return invalidf("borrow record without id")
	}
	if _, ok := c.records[r.ID]; ok {
		return invalidf("borrow record %q: %v", r.ID, ErrDuplicateID)
	}
	if r.PersonID == "" || r.ItemID == "" {
		return invalidf("borrow record %q: person_id and item_id are required", r.ID)
	}
	if err := xmlText("borrow record", r.ID, "id", r.ID, "person_id", r.PersonID, "item_id", r.ItemID); err != nil {
		return err
	}
	if r.DueDate.Before(r.BorrowDate) {
		return invalidf("borrow record %q: due date before borrow date", r.ID)
	}
	switch r.Status {
	case StatusBorrowed:
		if r.ReturnDate != nil {
			return invalidf("borrow record %q: open record has a return date", r.ID)
		}
		if _, ok := c.persons[r.PersonID]; !ok {
			return invalidf("borrow record %q references unknown person %q", r.ID, r.PersonID)
		}
		if _, ok := c.items[r.ItemID]; !ok {
			return invalidf("borrow record %q references unknown item %q", r.ID, r.ItemID)
		}
	case StatusReturned:
		// Returned records may outlive the person or item they reference.
	default:
		return invalidf("borrow record %q: unknown status %q", r.ID, r.Status)
	}
	return nil
}

func (c *Collection) checkInvariants() error {
	open := make(map[string]int, len(c.items))
	loans := make(map[string]int, len(c.persons))
	for _, r := range c.records {
		if r.Open() {
			open[r.ItemID]++
			loans[r.PersonID]++
		}
	}
	for _, id := range c.itemOrder {
		i := c.items[id]
		switch n := open[id]; {
		case n > 1:
			return invalidf("item %q is referenced by %d open borrow records", id, n)
		case n == 1 && i.Available:
			return invalidf("item %q is on loan but marked available", id)
		case n == 0 && !i.Available:
			return invalidf("item %q is marked unavailable without an open borrow record", id)
		}
	}
	for id, n := range loans {
		if limit := c.persons[id].BorrowLimit(); n > limit {
			return invalidf("person %q holds %d open loans, limit is %d", id, n, limit)
		}
	}
	return nil
}

func asInvalid(err error) error {
	if IsDomainError(err) && !isInvalid(err) {
		return invalidf("%v", err)
	}
	return err
}
