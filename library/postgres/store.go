// Package postgres stores each library as its canonical XML document in a
// single Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"library-sync/library"
)

const (
	defaultTableName         = "library_documents"
	dialectPostgres          = "postgres"
	colLibraryID             = "library_id"
	colDocument              = "document"
	colDigest                = "digest"
	colUpdatedAt             = "updated_at"
	defaultMaxConnections    = int32(8)
	defaultMinConnections    = int32(1)
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = 5 * time.Minute
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = 5 * time.Second
)

// Ensure Store implements library.Store
var _ library.Store = (*Store)(nil)

// Store implements library.Store on a pgx pool.
type Store struct {
	pool    *pgxpool.Pool
	table   string
	builder goqu.DialectWrapper
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTableName overrides the document table name.
func WithTableName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// Open connects to dsn and makes sure the document table exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = defaultMaxConnections
	cfg.MinConns = defaultMinConnections
	cfg.MaxConnLifetime = defaultMaxConnLifetime
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	cfg.HealthCheckPeriod = defaultHealthCheckPeriod
	cfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewFromPool(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewFromPool wraps an existing pool. The caller runs Migrate if needed.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:    pool,
		table:   defaultTableName,
		builder: goqu.Dialect(dialectPostgres),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the document table.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    %s TEXT PRIMARY KEY,
    %s TEXT NOT NULL,
    %s TEXT NOT NULL,
    %s TIMESTAMPTZ NOT NULL
)`, pgx.Identifier{s.table}.Sanitize(), colLibraryID, colDocument, colDigest, colUpdatedAt)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// LoadCollection decodes the stored document for id. Unknown ids load as
// empty collections.
func (s *Store) LoadCollection(ctx context.Context, id library.LibraryID, opts ...library.Option) (*library.Collection, error) {
	query, args, err := s.buildLoadQuery(id)
	if err != nil {
		return nil, err
	}
	var doc string
	err = s.pool.QueryRow(ctx, query, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return library.NewCollection(id, opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load library %s: %w", id, err)
	}
	c, err := library.Decode([]byte(doc), opts...)
	if err != nil {
		return nil, fmt.Errorf("decode stored library %s: %w", id, err)
	}
	if c.ID() != id {
		return nil, fmt.Errorf("stored document for %s belongs to library %s", id, c.ID())
	}
	return c, nil
}

// SaveCollection upserts the canonical document. Rows whose digest already
// matches are left alone.
func (s *Store) SaveCollection(ctx context.Context, c *library.Collection) error {
	doc, err := library.Encode(c)
	if err != nil {
		return err
	}
	query, args, err := s.buildUpsertQuery(c.ID(), doc, s.now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save library %s: %w", c.ID(), err)
	}
	return nil
}

// Libraries lists the stored library ids.
func (s *Store) Libraries(ctx context.Context) ([]library.LibraryID, error) {
	query, args, err := s.buildListQuery()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]library.LibraryID, 0, len(ids))
	for _, id := range ids {
		out = append(out, library.LibraryID(id))
	}
	return out, nil
}

func (s *Store) buildLoadQuery(id library.LibraryID) (string, []any, error) {
	query, args, err := s.builder.
		From(s.table).
		Select(colDocument).
		Where(goqu.C(colLibraryID).Eq(string(id))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build load query: %w", err)
	}
	return query, args, nil
}

func (s *Store) buildUpsertQuery(id library.LibraryID, doc []byte, now time.Time) (string, []any, error) {
	excluded := func(col string) exp.LiteralExpression { return goqu.L("EXCLUDED." + col) }
	query, args, err := s.builder.
		Insert(s.table).
		Rows(goqu.Record{
			colLibraryID: string(id),
			colDocument:  string(doc),
			colDigest:    library.Digest(doc),
			colUpdatedAt: now,
		}).
		OnConflict(goqu.DoUpdate(colLibraryID, goqu.Record{
			colDocument:  excluded(colDocument),
			colDigest:    excluded(colDigest),
			colUpdatedAt: excluded(colUpdatedAt),
		}).Where(goqu.I(s.table+"."+colDigest).Neq(excluded(colDigest)))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert query: %w", err)
	}
	return query, args, nil
}

func (s *Store) buildListQuery() (string, []any, error) {
	query, args, err := s.builder.
		From(s.table).
		Select(colLibraryID).
		Order(goqu.I(colLibraryID).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build list query: %w", err)
	}
	return query, args, nil
}
