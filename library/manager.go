package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrArchiveDisabled is returned by ArchiveSnapshot when no archive is configured.
var ErrArchiveDisabled = errors.New("snapshot archive not configured")

// Archiver keeps immutable copies of exported documents.
type Archiver interface {
	Archive(ctx context.Context, id LibraryID, doc []byte) (key string, err error)
}

// ManagerOption configures a LibraryManager.
type ManagerOption func(*LibraryManager)

func WithLogger(l *slog.Logger) ManagerOption { return func(lm *LibraryManager) { lm.log = l } }
func WithMetrics(m *Metrics) ManagerOption    { return func(lm *LibraryManager) { lm.metrics = m } }
func WithArchiver(a Archiver) ManagerOption   { return func(lm *LibraryManager) { lm.archive = a } }

// WithClock replaces time.Now as the source of "today".
func WithClock(now func() time.Time) ManagerOption {
	return func(lm *LibraryManager) { lm.now = now }
}

// WithCollectionOptions applies opts to every collection the manager loads.
func WithCollectionOptions(opts ...Option) ManagerOption {
	return func(lm *LibraryManager) { lm.collOpts = append(lm.collOpts, opts...) }
}

// LibraryManager is a thin façade over a Store, keeping CLI code simple.
// Every mutation runs load, change and save under a per-library lock, so two
// callers never overwrite each other's work.
type LibraryManager struct {
	store    Store
	log      *slog.Logger
	metrics  *Metrics
	archive  Archiver
	now      func() time.Time
	collOpts []Option

	mu    sync.Mutex // guards locks and cache
	locks map[LibraryID]*sync.Mutex
	cache map[LibraryID]*Collection
}

// NewLibraryManager wraps store.
func NewLibraryManager(store Store, opts ...ManagerOption) *LibraryManager {
	lm := &LibraryManager{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
		locks: make(map[LibraryID]*sync.Mutex),
		cache: make(map[LibraryID]*Collection),
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

func (lm *LibraryManager) today() time.Time { return CivilDate(lm.now()) }

// ------------------ Locking & cache ------------------

func (lm *LibraryManager) libraryLock(id LibraryID) *sync.Mutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[id]
	if !ok {
		l = &sync.Mutex{}
		lm.locks[id] = l
	}
	return l
}

func (lm *LibraryManager) lock(id LibraryID) (unlock func()) {
	l := lm.libraryLock(id)
	l.Lock()
	return l.Unlock
}

// lockTwo takes both library locks in id order.
func (lm *LibraryManager) lockTwo(a, b LibraryID) (unlock func()) {
	if b < a {
		a, b = b, a
	}
	ua := lm.lock(a)
	ub := lm.lock(b)
	return func() {
		ub()
		ua()
	}
}

// collection returns the cached collection for id, loading it on first use.
// Callers hold the library lock.
func (lm *LibraryManager) collection(ctx context.Context, id LibraryID) (*Collection, error) {
	lm.mu.Lock()
	c, ok := lm.cache[id]
	lm.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := lm.store.LoadCollection(ctx, id, lm.collOpts...)
	if err != nil {
		return nil, fmt.Errorf("load library %s: %w", id, err)
	}
	lm.mu.Lock()
	lm.cache[id] = c
	lm.mu.Unlock()
	return c, nil
}

// save persists c. On failure the cached copy is dropped so the next call
// starts again from what the store holds.
func (lm *LibraryManager) save(ctx context.Context, c *Collection) error {
	if err := lm.store.SaveCollection(ctx, c); err != nil {
		lm.evict(c.ID())
		return fmt.Errorf("save library %s: %w", c.ID(), err)
	}
	return nil
}

func (lm *LibraryManager) evict(id LibraryID) {
	lm.mu.Lock()
	delete(lm.cache, id)
	lm.mu.Unlock()
}

// mutate runs fn against the collection for id and saves it if fn succeeds.
// Core operations leave the collection untouched when they fail.
func (lm *LibraryManager) mutate(ctx context.Context, id LibraryID, fn func(*Collection) error) error {
	unlock := lm.lock(id)
	defer unlock()
	c, err := lm.collection(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return lm.save(ctx, c)
}

func (lm *LibraryManager) view(ctx context.Context, id LibraryID, fn func(*Collection) error) error {
	unlock := lm.lock(id)
	defer unlock()
	c, err := lm.collection(ctx, id)
	if err != nil {
		return err
	}
	return fn(c)
}

// finish records metrics and logs the outcome of op.
func (lm *LibraryManager) finish(op string, id LibraryID, started time.Time, err error, attrs ...any) {
	lm.metrics.observe(op, started, err)
	attrs = append([]any{"library", id, "duration", time.Since(started)}, attrs...)
	switch {
	case err == nil:
		lm.log.Info(op, attrs...)
	case IsDomainError(err):
		lm.log.Warn(op+" rejected", append(attrs, "reason", Reason(err), "err", err)...)
	default:
		lm.log.Error(op+" failed", append(attrs, "err", err)...)
	}
}

// ------------------ Person helpers ------------------

func (lm *LibraryManager) AddPerson(ctx context.Context, id LibraryID, p Person) (err error) {
	defer func(start time.Time) { lm.finish("add person", id, start, err, "person", p.ID, "kind", p.Kind) }(time.Now())
	return lm.mutate(ctx, id, func(c *Collection) error { return c.AddPerson(p) })
}

func (lm *LibraryManager) UpdatePerson(ctx context.Context, id LibraryID, p Person) (err error) {
	defer func(start time.Time) { lm.finish("update person", id, start, err, "person", p.ID) }(time.Now())
	return lm.mutate(ctx, id, func(c *Collection) error { return c.UpdatePerson(p) })
}

func (lm *LibraryManager) RemovePerson(ctx context.Context, id LibraryID, personID string) (err error) {
	defer func(start time.Time) { lm.finish("remove person", id, start, err, "person", personID) }(time.Now())
	return lm.mutate(ctx, id, func(c *Collection) error { return c.RemovePerson(personID) })
}

func (lm *LibraryManager) GetPerson(ctx context.Context, id LibraryID, personID string) (p Person, err error) {
	err = lm.view(ctx, id, func(c *Collection) error {
		p, err = c.Person(personID)
		return err
	})
	return p, err
}

func (lm *LibraryManager) ListPersons(ctx context.Context, id LibraryID) (ps []Person, err error) {
	err = lm.view(ctx, id, func(c *Collection) error {
		ps = c.Persons()
		return nil
	})
	return ps, err
}

// ------------------ Item helpers ------------------

func (lm *LibraryManager) AddItem(ctx context.Context, id LibraryID, i Item) (err error) {
	defer func(start time.Time) { lm.finish("add item", id, start, err, "item", i.ID, "kind", i.Kind) }(time.Now())
	return lm.mutate(ctx, id, func(c *Collection) error { return c.AddItem(i) })
}

func (lm *LibraryManager) UpdateItem(ctx context.Context, id LibraryID, i Item) (err error) {
	defer func(start time.Time) { lm.finish("update item", id, start, err, "item", i.ID) }(time.Now())
	return lm.mutate(ctx, id, func(c *Collection) error { return c.UpdateItem(i) })
}

func (lm *LibraryManager) RemoveItem(ctx context.Context, id LibraryID, itemID string) (err error) {
	defer func(start time.Time) { lm.finish("remove item", id, start, err, "item", itemID) }(time.Now())
	return lm.mutate(ctx, id, func(c *Collection) error { return c.RemoveItem(itemID) })
}

func (lm *LibraryManager) GetItem(ctx context.Context, id LibraryID, itemID string) (i Item, err error) {
	err = lm.view(ctx, id, func(c *Collection) error {
		i, err = c.Item(itemID)
		return err
	})
	return i, err
}

func (lm *LibraryManager) ListItems(ctx context.Context, id LibraryID) (is []Item, err error) {
	err = lm.view(ctx, id, func(c *Collection) error {
		is = c.Items()
		return nil
	})
	return is, err
}

// ------------------ Circulation ------------------

// BorrowItem lends itemID to personID as of today.
func (lm *LibraryManager) BorrowItem(ctx context.Context, id LibraryID, personID, itemID string) (rec BorrowRecord, err error) {
	defer func(start time.Time) {
		lm.finish("borrow item", id, start, err, "person", personID, "item", itemID, "record", rec.ID)
	}(time.Now())
	err = lm.mutate(ctx, id, func(c *Collection) error {
		rec, err = Borrow(c, personID, itemID, lm.today())
		return err
	})
	if err != nil {
		return BorrowRecord{}, err
	}
	return rec, nil
}

// ReturnItem closes recordID as of today.
func (lm *LibraryManager) ReturnItem(ctx context.Context, id LibraryID, recordID string) (rec BorrowRecord, err error) {
	defer func(start time.Time) {
		lm.finish("return item", id, start, err, "record", recordID, "item", rec.ItemID)
	}(time.Now())
	err = lm.mutate(ctx, id, func(c *Collection) error {
		rec, err = Return(c, recordID, lm.today())
		return err
	})
	if err != nil {
		return BorrowRecord{}, err
	}
	return rec, nil
}

// ListBorrowRecords returns the records matching f. A zero f.Today means today.
func (lm *LibraryManager) ListBorrowRecords(ctx context.Context, id LibraryID, f RecordFilter) (rs []BorrowRecord, err error) {
	if f.Today.IsZero() {
		f.Today = lm.today()
	}
	err = lm.view(ctx, id, func(c *Collection) error {
		rs = c.BorrowRecords(f)
		return nil
	})
	return rs, err
}

// ------------------ Search & stats ------------------

func (lm *LibraryManager) Search(ctx context.Context, id LibraryID, query string) (res SearchResult, err error) {
	err = lm.view(ctx, id, func(c *Collection) error {
		res = c.Search(query)
		return nil
	})
	return res, err
}

// Libraries lists every library the store holds.
func (lm *LibraryManager) Libraries(ctx context.Context) (ids []LibraryID, err error) {
	defer func(start time.Time) { lm.finish("list libraries", "", start, err, "count", len(ids)) }(time.Now())
	ids, err = lm.store.Libraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	return ids, nil
}

func (lm *LibraryManager) Stats(ctx context.Context, id LibraryID) (st Stats, err error) {
	err = lm.view(ctx, id, func(c *Collection) error {
		st = c.Stats(lm.today())
		return nil
	})
	return st, err
}

// ------------------ XML exchange ------------------

// ExportXML renders library id as its canonical XML document.
func (lm *LibraryManager) ExportXML(ctx context.Context, id LibraryID) (doc []byte, err error) {
	defer func(start time.Time) { lm.finish("export xml", id, start, err, "bytes", len(doc)) }(time.Now())
	err = lm.view(ctx, id, func(c *Collection) error {
		doc, err = Encode(c)
		return err
	})
	return doc, err
}

// ImportXML merges a document into library id with the same rules as
// SyncLibraries. The document's own library id does not have to match.
// Importing the same document twice changes nothing the second time.
func (lm *LibraryManager) ImportXML(ctx context.Context, id LibraryID, data []byte) (rep MergeReport, err error) {
	defer func(start time.Time) {
		lm.finish("import xml", id, start, err, "inserted", rep.Inserted(), "skipped", rep.SkippedRecords)
	}(time.Now())
	src, err := Decode(data, lm.collOpts...)
	if err != nil {
		return MergeReport{}, err
	}
	err = lm.mutate(ctx, id, func(c *Collection) error {
		if rep, err = Sync(src, c); err != nil {
			// A failed sync may have copied part of src already.
			lm.evict(id)
		}
		return err
	})
	if err != nil {
		return MergeReport{}, err
	}
	lm.metrics.merged(rep)
	return rep, nil
}

// SyncLibraries copies what from has and to lacks into to.
func (lm *LibraryManager) SyncLibraries(ctx context.Context, from, to LibraryID) (rep MergeReport, err error) {
	defer func(start time.Time) {
		lm.finish("sync libraries", to, start, err, "source", from,
			"persons", rep.InsertedPersons, "items", rep.InsertedItems,
			"records", rep.InsertedRecords, "skipped", rep.SkippedRecords)
	}(time.Now())
	if from == to {
		return MergeReport{}, fmt.Errorf("%w: %s", ErrSameCollection, from)
	}

	unlock := lm.lockTwo(from, to)
	defer unlock()
	src, err := lm.collection(ctx, from)
	if err != nil {
		return MergeReport{}, err
	}
	dst, err := lm.collection(ctx, to)
	if err != nil {
		return MergeReport{}, err
	}
	if rep, err = Sync(src, dst); err != nil {
		lm.evict(to)
		return MergeReport{}, err
	}
	if rep.Inserted() > 0 {
		if err = lm.save(ctx, dst); err != nil {
			return MergeReport{}, err
		}
	}
	lm.metrics.merged(rep)
	return rep, nil
}

// ArchiveSnapshot exports library id and files the document in the archive.
func (lm *LibraryManager) ArchiveSnapshot(ctx context.Context, id LibraryID) (key string, err error) {
	if lm.archive == nil {
		return "", ErrArchiveDisabled
	}
	doc, err := lm.ExportXML(ctx, id)
	if err != nil {
		return "", err
	}
	defer func(start time.Time) { lm.finish("archive snapshot", id, start, err, "key", key) }(time.Now())
	return lm.archive.Archive(ctx, id, doc)
}
