package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-sync/archive"
	"library-sync/library"
)

// harness runs commands against shared in-memory backends, one fresh
// command tree per invocation like separate process runs.
type harness struct {
	t       *testing.T
	store   *library.MemoryStore
	archive *archive.MemoryStore
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Chdir(t.TempDir())
	return &harness{
		t:       t,
		store:   library.NewMemoryStore(),
		archive: archive.NewMemoryStore(),
		now:     time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (h *harness) exec(stdin string, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	root := NewRootCommand(
		WithIO(strings.NewReader(stdin), &out, &errOut),
		WithStore(h.store),
		WithArchiveStore(h.archive),
		WithClock(func() time.Time { return h.now }),
	)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

// run executes args and fails the test on error.
func (h *harness) run(args ...string) string {
	h.t.Helper()
	out, errOut, err := h.exec("", args...)
	require.NoError(h.t, err, errOut)
	return out
}

func (h *harness) decode(v any, args ...string) {
	h.t.Helper()
	out := h.run(append(args, "-o", "json")...)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

func (h *harness) seed() {
	h.run("person", "add", "--type", "student", "--id", "s1", "--name", "Ann Lee",
		"--email", "ann@school.test", "--student-id", "S-1", "--grade", "10")
	h.run("person", "add", "--type", "teacher", "--id", "t1", "--name", "Bo Chen",
		"--email", "bo@school.test", "--teacher-id", "T-1", "--department", "Physics")
	h.run("item", "add", "--type", "book", "--id", "b1", "--title", "Dune", "--author", "Frank Herbert", "--pages", "412")
	h.run("item", "add", "--type", "magazine", "--id", "m1", "--title", "Wired", "--author", "Various", "--issue", "5", "--month", "May")
}

func TestPersonCommands(t *testing.T) {
	h := newHarness(t)
	h.seed()

	var persons []library.Person
	h.decode(&persons, "person", "list")
	require.Len(t, persons, 2)
	assert.Equal(t, "s1", persons[0].ID)
	assert.Equal(t, library.KindTeacher, persons[1].Kind)

	h.run("person", "update", "s1", "--phone", "555-0101", "--grade", "11")
	var p library.Person
	h.decode(&p, "person", "get", "s1")
	assert.Equal(t, "555-0101", p.Phone)
	assert.Equal(t, "11", p.Student.GradeLevel)
	assert.Equal(t, "Ann Lee", p.Name, "unchanged flags keep their value")

	out := h.run("person", "remove", "t1")
	assert.Contains(t, out, "Removed person t1 from library a")

	_, _, err := h.exec("", "person", "get", "t1")
	assert.ErrorIs(t, err, library.ErrNotFound)

	_, _, err = h.exec("", "person", "add", "--type", "janitor", "--name", "x", "--email", "y")
	assert.Error(t, err)
}

func TestItemCommands(t *testing.T) {
	h := newHarness(t)
	h.seed()

	out := h.run("item", "list")
	assert.Contains(t, out, "Dune")
	assert.Contains(t, out, "412 pages")
	assert.Contains(t, out, "issue 5 May")

	h.run("item", "update", "b1", "--title", "Dune Messiah")
	var i library.Item
	h.decode(&i, "item", "get", "b1")
	assert.Equal(t, "Dune Messiah", i.Title)
	assert.Equal(t, 412, i.Book.Pages)

	h.run("borrow", "s1", "b1")
	var available []library.Item
	h.decode(&available, "item", "list", "--available")
	require.Len(t, available, 1)
	assert.Equal(t, "m1", available[0].ID)

	_, _, err := h.exec("", "item", "remove", "b1")
	assert.ErrorIs(t, err, library.ErrReferencedEntity)
}

func TestCirculationCommands(t *testing.T) {
	h := newHarness(t)
	h.seed()

	var rec struct {
		ID        string `json:"id"`
		DueDate   string `json:"due_date"`
		Status    string `json:"status"`
		Effective string `json:"effective_status"`
	}
	h.decode(&rec, "borrow", "s1", "m1")
	assert.Equal(t, "borrowed", rec.Status)
	assert.Equal(t, "borrowed", rec.Effective)
	assert.True(t, strings.HasPrefix(rec.DueDate, "2024-03-08"), rec.DueDate)

	_, _, err := h.exec("", "borrow", "t1", "m1")
	assert.ErrorIs(t, err, library.ErrItemUnavailable)

	h.now = h.now.AddDate(0, 0, 10)
	var overdue []map[string]any
	h.decode(&overdue, "records", "--status", "overdue")
	require.Len(t, overdue, 1)
	assert.Equal(t, rec.ID, overdue[0]["id"])

	out := h.run("return", rec.ID)
	assert.Contains(t, out, "returned")

	var returned []map[string]any
	h.decode(&returned, "records", "--person", "s1", "--status", "returned")
	assert.Len(t, returned, 1)

	_, _, err = h.exec("", "return", rec.ID)
	assert.ErrorIs(t, err, library.ErrAlreadyReturned)

	_, _, err = h.exec("", "records", "--status", "lost")
	assert.Error(t, err)
}

func TestSearchAndStats(t *testing.T) {
	h := newHarness(t)
	h.seed()

	var res library.SearchResult
	h.decode(&res, "search", "herbert")
	require.Len(t, res.Items, 1)
	assert.Equal(t, "b1", res.Items[0].ID)

	out := h.run("search", "nothing", "here")
	assert.Contains(t, out, "Nothing in library a matches 'nothing here'.")

	h.run("borrow", "t1", "b1")
	var st library.Stats
	h.decode(&st, "stats")
	assert.Equal(t, 1, st.TotalBooks)
	assert.Equal(t, 0, st.AvailableBooks)
	assert.Equal(t, 1, st.ActiveBorrows)

	out = h.run("stats", "-o", "yaml")
	assert.Contains(t, out, "active_borrows: 1")
}

func TestExportImportSync(t *testing.T) {
	h := newHarness(t)
	h.seed()
	h.run("borrow", "s1", "b1")

	doc := h.run("export")
	assert.True(t, strings.HasPrefix(doc, "<?xml"))

	out := h.run("export", "--file", "out/a.xml")
	assert.Contains(t, out, "Exported library a to out/a.xml")
	written, err := os.ReadFile(filepath.Join("out", "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, doc, string(written))

	var rep library.MergeReport
	h.decode(&rep, "-L", "b", "import", "--file", "out/a.xml")
	assert.Equal(t, library.MergeReport{InsertedPersons: 2, InsertedItems: 2, InsertedRecords: 1}, rep)

	h.decode(&rep, "-L", "b", "import", "--file", "out/a.xml")
	assert.Zero(t, rep.Inserted(), "second import is a no-op")

	out = h.run("sync", "--from", "a", "--to", "c")
	assert.Contains(t, out, "Synced library a into c: 2 persons, 2 items, 1 borrow records added, 0 records skipped")

	_, _, err = h.exec("", "sync", "--from", "a", "--to", "A")
	assert.ErrorIs(t, err, library.ErrSameCollection)

	require.NoError(t, os.WriteFile("broken.xml", []byte("<library id=\"x\">"), 0o644))
	_, _, err = h.exec("", "import", "--file", "broken.xml")
	assert.ErrorIs(t, err, library.ErrMalformedXML)
}

func TestSnapshotsCommand(t *testing.T) {
	h := newHarness(t)
	h.seed()

	_, errOut, err := h.exec("", "export", "--archive")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Archived snapshot a/20240301T100000Z-")

	var infos []archive.Info
	h.decode(&infos, "snapshots")
	require.Len(t, infos, 1)
	assert.Equal(t, "application/xml", infos[0].ContentType)
}

func TestImportSnapshotAndPrune(t *testing.T) {
	h := newHarness(t)
	h.seed()

	_, errOut, err := h.exec("", "export", "--archive")
	require.NoError(t, err)
	key := strings.TrimSpace(strings.TrimPrefix(errOut[strings.Index(errOut, "Archived snapshot "):], "Archived snapshot "))

	var rep library.MergeReport
	h.decode(&rep, "-L", "b", "import", "--snapshot", key)
	assert.Equal(t, library.MergeReport{InsertedPersons: 2, InsertedItems: 2}, rep)

	_, _, err = h.exec("", "import", "--snapshot", "a/missing.xml")
	assert.ErrorIs(t, err, archive.ErrNotFound)

	_, _, err = h.exec("", "import", "--snapshot", key, "--file", "a.xml")
	assert.Error(t, err, "file and snapshot are exclusive")
	_, _, err = h.exec("", "import")
	assert.Error(t, err, "one source is required")

	h.now = h.now.Add(time.Second)
	h.run("person", "remove", "t1")
	_, _, err = h.exec("", "export", "--archive")
	require.NoError(t, err)

	var infos []archive.Info
	h.decode(&infos, "snapshots")
	require.Len(t, infos, 2)
	h.decode(&infos, "snapshots", "--keep", "1")
	require.Len(t, infos, 1)
	assert.NotEqual(t, key, infos[0].Key, "the older snapshot is pruned")
}

func TestLibrariesCommand(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.run("libraries"), "No libraries stored yet.")

	h.seed()
	h.run("borrow", "s1", "b1")
	h.run("sync", "--from", "a", "--to", "b")

	var stats []library.Stats
	h.decode(&stats, "libraries")
	require.Len(t, stats, 2)
	assert.Equal(t, library.LibraryID("a"), stats[0].Library)
	assert.Equal(t, library.LibraryID("b"), stats[1].Library)
	assert.Equal(t, 1, stats[1].ActiveBorrows)

	out := h.run("libraries")
	assert.Contains(t, out, "LIBRARY")
	assert.Contains(t, out, "ACTIVE BORROWS")
}

func TestInvalidLibraryFlag(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec("", "-L", "../etc", "stats")
	assert.ErrorIs(t, err, library.ErrInvalidLibraryID)
}

func TestShellSession(t *testing.T) {
	h := newHarness(t)
	script := strings.Join([]string{
		"add person", "student", "Ann Lee", "ann@school.test", "", "S-1", "10",
		"add item", "book", "Dune", "Frank Herbert", "", "SF", "412", "Ace",
		"list persons",
		"search", "dune",
		"use b",
		"sync a",
		"stats",
		"bogus",
		"exit",
	}, "\n") + "\n"

	out, _, err := h.exec(script, "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "Added student 'Ann Lee'")
	assert.Contains(t, out, "Added book 'Dune'")
	assert.Contains(t, out, "0/5")
	assert.Contains(t, out, "Found 1 item(s) matching 'dune'")
	assert.Contains(t, out, "Now working on library b")
	assert.Contains(t, out, "Synced library a into b: 1 persons, 1 items, 0 borrow records added")
	assert.Contains(t, out, "Books: 1 (1 available)")
	assert.Contains(t, out, "Unknown command")
	assert.Contains(t, out, "Goodbye!")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "a long ...", truncateString("a long sentence", 10))
	assert.Equal(t, "äbc", truncateString("äbcdef", 3))
}
