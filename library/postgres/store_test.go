package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-sync/library"
)

func Test_BuildLoadQuery(t *testing.T) {
	s := NewFromPool(nil)

	query, args, err := s.buildLoadQuery("a")

	require.NoError(t, err)
	assert.Equal(t, `SELECT "document" FROM "library_documents" WHERE ("library_id" = $1)`, query)
	assert.Equal(t, []any{"a"}, args)
}

func Test_BuildUpsertQuery_SkipsUnchangedDigest(t *testing.T) {
	s := NewFromPool(nil, WithTableName("docs"))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := []byte("<library id=\"b\"></library>")

	query, args, err := s.buildUpsertQuery("b", doc, now)

	require.NoError(t, err)
	assert.Contains(t, query, `INSERT INTO "docs"`)
	assert.Contains(t, query, `ON CONFLICT (library_id) DO UPDATE SET`)
	assert.Contains(t, query, `"digest"=EXCLUDED.digest`)
	assert.Contains(t, query, `WHERE ("docs"."digest" != EXCLUDED.digest)`)
	assert.Len(t, args, 4)
	assert.Contains(t, args, library.Digest(doc))
	assert.Contains(t, args, string(doc))
}

func Test_BuildListQuery(t *testing.T) {
	s := NewFromPool(nil)

	query, args, err := s.buildListQuery()

	require.NoError(t, err)
	assert.Equal(t, `SELECT "library_id" FROM "library_documents" ORDER BY "library_id" ASC`, query)
	assert.Empty(t, args)
}

// Runs only when LIBSYNC_TEST_POSTGRES_DSN points at a disposable database.
func Test_Store_RoundTrip(t *testing.T) {
	dsn := os.Getenv("LIBSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LIBSYNC_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	table := "library_documents_test"
	s, err := Open(ctx, dsn, WithTableName(table))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.pool.Exec(ctx, "TRUNCATE "+table)
	require.NoError(t, err)

	empty, err := s.LoadCollection(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, empty.Persons())

	c := library.NewCollection("a")
	p, err := library.NewStudent("p1", "Ann", "ann@example.com", "", "S-1", "10")
	require.NoError(t, err)
	require.NoError(t, c.AddPerson(p))
	b, err := library.NewBook("b1", "Dune", "Herbert", "", "sf", 412, "Chilton")
	require.NoError(t, err)
	require.NoError(t, c.AddItem(b))
	_, err = library.Borrow(c, "p1", "b1", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, s.SaveCollection(ctx, c))
	require.NoError(t, s.SaveCollection(ctx, c))

	loaded, err := s.LoadCollection(ctx, "a")
	require.NoError(t, err)
	want, err := library.Encode(c)
	require.NoError(t, err)
	got, err := library.Encode(loaded)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	ids, err := s.Libraries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []library.LibraryID{"a"}, ids)
}
