package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails saves while failSaves is set.
type flakyStore struct {
	*MemoryStore
	failSaves atomic.Bool
	saves     atomic.Int32
}

func (s *flakyStore) SaveCollection(ctx context.Context, c *Collection) error {
	s.saves.Add(1)
	if s.failSaves.Load() {
		return errDiskFull
	}
	return s.MemoryStore.SaveCollection(ctx, c)
}

type fakeArchiver struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (a *fakeArchiver) Archive(_ context.Context, id LibraryID, doc []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.docs == nil {
		a.docs = make(map[string][]byte)
	}
	key := fmt.Sprintf("%s/%s.xml", id, Digest(doc)[:12])
	a.docs[key] = doc
	return key, nil
}

func newTestManager(t *testing.T, store Store, opts ...ManagerOption) *LibraryManager {
	t.Helper()
	var logs bytes.Buffer
	opts = append([]ManagerOption{
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithClock(func() time.Time { return day0.Add(10 * time.Hour) }),
	}, opts...)
	m := NewLibraryManager(store, opts...)
	t.Cleanup(func() {
		m.Close()
		if t.Failed() {
			t.Log(logs.String())
		}
	})
	return m
}

func seedManager(t *testing.T, m *LibraryManager, id LibraryID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.AddPerson(ctx, id, student(t, "s1")))
	require.NoError(t, m.AddPerson(ctx, id, teacher(t, "t1")))
	require.NoError(t, m.AddItem(ctx, id, book(t, "b1")))
	require.NoError(t, m.AddItem(ctx, id, magazine(t, "m1")))
}

func TestManagerCRUDPersists(t *testing.T) {
	store := NewMemoryStore()
	m := newTestManager(t, store)
	ctx := context.Background()
	seedManager(t, m, "a")

	p := student(t, "s1")
	p.Phone = "555-1234"
	require.NoError(t, m.UpdatePerson(ctx, "a", p))
	i := book(t, "b1")
	i.Title = "Second edition"
	require.NoError(t, m.UpdateItem(ctx, "a", i))
	require.NoError(t, m.RemovePerson(ctx, "a", "t1"))
	require.NoError(t, m.RemoveItem(ctx, "a", "m1"))

	// a second manager sees only what was saved
	other := newTestManager(t, store)
	got, err := other.GetPerson(ctx, "a", "s1")
	require.NoError(t, err)
	assert.Equal(t, "555-1234", got.Phone)
	item, err := other.GetItem(ctx, "a", "b1")
	require.NoError(t, err)
	assert.Equal(t, "Second edition", item.Title)

	persons, err := other.ListPersons(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, persons, 1)
	items, err := other.ListItems(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = other.GetPerson(ctx, "a", "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerBorrowReturnUsesClock(t *testing.T) {
	m := newTestManager(t, NewMemoryStore())
	ctx := context.Background()
	seedManager(t, m, "a")

	rec, err := m.BorrowItem(ctx, "a", "s1", "m1")
	require.NoError(t, err)
	assert.Equal(t, day0, rec.BorrowDate)
	assert.Equal(t, "2024-03-08", FormatDate(rec.DueDate))

	_, err = m.BorrowItem(ctx, "a", "t1", "m1")
	assert.ErrorIs(t, err, ErrItemUnavailable)

	open, err := m.ListBorrowRecords(ctx, "a", RecordFilter{Status: StatusBorrowed})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	ret, err := m.ReturnItem(ctx, "a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, ret.Status)

	_, err = m.ReturnItem(ctx, "a", rec.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)

	st, err := m.Stats(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, st.ActiveBorrows)
	assert.Equal(t, 1, st.AvailableMagazines)

	res, err := m.Search(ctx, "a", "magazine")
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestManagerFailedSaveEvictsCache(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	m := newTestManager(t, store)
	ctx := context.Background()
	seedManager(t, m, "a")

	store.failSaves.Store(true)
	err := m.AddPerson(ctx, "a", student(t, "s2"))
	require.ErrorIs(t, err, errDiskFull)
	assert.False(t, IsDomainError(err))

	store.failSaves.Store(false)
	_, err = m.GetPerson(ctx, "a", "s2")
	assert.ErrorIs(t, err, ErrNotFound, "unsaved change must not survive in the cache")

	require.NoError(t, m.AddPerson(ctx, "a", student(t, "s2")))
}

func TestManagerRejectedOperationSkipsSave(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	m := newTestManager(t, store)
	ctx := context.Background()
	seedManager(t, m, "a")
	before := store.saves.Load()

	assert.ErrorIs(t, m.AddPerson(ctx, "a", student(t, "s1")), ErrDuplicateID)
	_, err := m.BorrowItem(ctx, "a", "ghost", "b1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, store.saves.Load())
}

func TestManagerLibraries(t *testing.T) {
	m := newTestManager(t, NewMemoryStore())
	ctx := context.Background()

	ids, err := m.Libraries(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	seedManager(t, m, "b")
	seedManager(t, m, "a")
	_, err = m.Stats(ctx, "c")
	require.NoError(t, err)

	ids, err = m.Libraries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []LibraryID{"a", "b"}, ids, "reading a library does not store it")
}

func TestManagerSyncLibraries(t *testing.T) {
	store := NewMemoryStore()
	m := newTestManager(t, store)
	ctx := context.Background()
	seedManager(t, m, "a")
	_, err := m.BorrowItem(ctx, "a", "s1", "b1")
	require.NoError(t, err)

	rep, err := m.SyncLibraries(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, MergeReport{InsertedPersons: 2, InsertedItems: 2, InsertedRecords: 1}, rep)

	rep, err = m.SyncLibraries(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, rep.Inserted())

	_, err = m.SyncLibraries(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrSameCollection)

	fresh := newTestManager(t, store)
	recs, err := fresh.ListBorrowRecords(ctx, "b", RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestManagerOppositeSyncsDoNotDeadlock(t *testing.T) {
	m := newTestManager(t, NewMemoryStore())
	ctx := context.Background()
	seedManager(t, m, "a")
	require.NoError(t, m.AddPerson(ctx, "b", teacher(t, "t7")))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.SyncLibraries(ctx, "a", "b")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := m.SyncLibraries(ctx, "b", "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pa, _ := m.ListPersons(ctx, "a")
	pb, _ := m.ListPersons(ctx, "b")
	assert.Len(t, pa, 3)
	assert.Len(t, pb, 3)
}

func TestManagerConcurrentBorrowsRespectLimit(t *testing.T) {
	m := newTestManager(t, NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, m.AddPerson(ctx, "a", student(t, "s1")))
	for n := range 12 {
		require.NoError(t, m.AddItem(ctx, "a", book(t, fmt.Sprint("b", n))))
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for n := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.BorrowItem(ctx, "a", "s1", fmt.Sprint("b", n)); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrBorrowLimitExceeded)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(StudentBorrowLimit), ok.Load())
}

func TestManagerExportImport(t *testing.T) {
	m := newTestManager(t, NewMemoryStore())
	ctx := context.Background()
	seedManager(t, m, "a")
	_, err := m.BorrowItem(ctx, "a", "t1", "m1")
	require.NoError(t, err)

	doc, err := m.ExportXML(ctx, "a")
	require.NoError(t, err)

	rep, err := m.ImportXML(ctx, "c", doc)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Inserted())

	again, err := m.ImportXML(ctx, "c", doc)
	require.NoError(t, err)
	assert.Zero(t, again.Inserted())

	exported, err := m.ExportXML(ctx, "c")
	require.NoError(t, err)
	assert.Contains(t, string(exported), `<library id="c">`)

	_, err = m.ImportXML(ctx, "c", []byte("<library"))
	assert.ErrorIs(t, err, ErrMalformedXML)
}

func TestManagerImportFailureEvicts(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	m := newTestManager(t, store)
	ctx := context.Background()

	src := NewLibraryManager(NewMemoryStore())
	seedManager(t, src, "x")
	doc, err := src.ExportXML(ctx, "x")
	require.NoError(t, err)

	store.failSaves.Store(true)
	_, err = m.ImportXML(ctx, "a", doc)
	require.ErrorIs(t, err, errDiskFull)
	store.failSaves.Store(false)

	persons, err := m.ListPersons(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, persons)
}

func TestManagerArchiveSnapshot(t *testing.T) {
	ctx := context.Background()

	plain := newTestManager(t, NewMemoryStore())
	_, err := plain.ArchiveSnapshot(ctx, "a")
	assert.ErrorIs(t, err, ErrArchiveDisabled)

	arch := &fakeArchiver{}
	m := newTestManager(t, NewMemoryStore(), WithArchiver(arch))
	seedManager(t, m, "a")
	key, err := m.ArchiveSnapshot(ctx, "a")
	require.NoError(t, err)

	doc, err := m.ExportXML(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, doc, arch.docs[key])
}

func TestManagerLoanPolicyOption(t *testing.T) {
	m := newTestManager(t, NewMemoryStore(),
		WithCollectionOptions(WithLoanPolicy(LoanPolicy{BookDays: 21, MagazineDays: 2})))
	ctx := context.Background()
	seedManager(t, m, "a")

	rec, err := m.BorrowItem(ctx, "a", "s1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-22", FormatDate(rec.DueDate))
}

func TestManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := newTestManager(t, NewMemoryStore(), WithMetrics(metrics))
	ctx := context.Background()
	seedManager(t, m, "a")

	_ = m.AddPerson(ctx, "a", student(t, "s1"))
	_, err := m.SyncLibraries(ctx, "a", "b")
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.operations.WithLabelValues("add person", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("add person", "duplicate_id")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.inserted.WithLabelValues("person")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.inserted.WithLabelValues("item")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.skipped))

	n, err := testutil.GatherAndCount(reg, "libsync_operations_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.observe("noop", time.Now(), nil)
	m.merged(MergeReport{InsertedPersons: 1})
}
