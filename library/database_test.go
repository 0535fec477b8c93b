package library

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, driver := range []string{DriverSQLite3, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			db, err := NewDatabaseWithDriver(driver, filepath.Join(t.TempDir(), "nested", "lib.db"))
			if err != nil {
				t.Fatalf("new db: %v", err)
			}
			defer db.Close()

			c := populated(t, "a")
			rec := c.BorrowRecords(RecordFilter{})[0]
			if _, err := Return(c, rec.ID, day0.AddDate(0, 0, 3)); err != nil {
				t.Fatalf("return: %v", err)
			}
			if _, err := Borrow(c, "t1", "m1", day0.AddDate(0, 0, 4)); err != nil {
				t.Fatalf("borrow: %v", err)
			}

			if err := db.SaveCollection(ctx, c); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := db.LoadCollection(ctx, "a")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !reflect.DeepEqual(c.Contents(), got.Contents()) {
				t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", c.Contents(), got.Contents())
			}
		})
	}
}

func TestLoadUnknownLibraryIsEmpty(t *testing.T) {
	db := tempDB(t)
	c, err := db.LoadCollection(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ID() != "nobody" || len(c.Persons()) != 0 || len(c.Items()) != 0 {
		t.Fatalf("expected empty collection, got %+v", c.Contents())
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	c := populated(t, "a")
	if err := db.SaveCollection(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.RemoveItem("b2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := db.SaveCollection(ctx, c); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := db.LoadCollection(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := got.Item("b2"); err == nil {
		t.Fatalf("removed item came back")
	}
	if n := len(got.Items()); n != 2 {
		t.Fatalf("want 2 items, got %d", n)
	}
}

func TestLibrariesAreIsolated(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if err := db.SaveCollection(ctx, populated(t, "b")); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := db.SaveCollection(ctx, populated(t, "a")); err != nil {
		t.Fatalf("save a: %v", err)
	}
	// same entity ids in both libraries
	a, _ := db.LoadCollection(ctx, "a")
	b, _ := db.LoadCollection(ctx, "b")
	if len(a.Persons()) != 2 || len(b.Persons()) != 2 {
		t.Fatalf("libraries leaked into each other")
	}

	ids, err := db.Libraries(ctx)
	if err != nil {
		t.Fatalf("libraries: %v", err)
	}
	if !reflect.DeepEqual(ids, []LibraryID{"a", "b"}) {
		t.Fatalf("want [a b], got %v", ids)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	ctx := context.Background()

	db, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	if err := db.SaveCollection(ctx, populated(t, "a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	db.Close()

	// migrations are skipped on an up-to-date schema
	db, err = NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	c, err := db.LoadCollection(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := len(c.BorrowRecords(RecordFilter{})); n != 1 {
		t.Fatalf("want 1 record, got %d", n)
	}
}

func TestConcurrentSaves(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	var colls []*Collection
	for _, id := range []LibraryID{"a", "b", "c", "d", "e", "f", "g", "h"} {
		colls = append(colls, populated(t, id))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(colls))
	for _, c := range colls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.SaveCollection(ctx, c)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent save: %v", err)
		}
	}
	ids, _ := db.Libraries(ctx)
	if len(ids) != 8 {
		t.Fatalf("want 8 libraries, got %d", len(ids))
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := NewDatabaseWithDriver("oracle", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
