// Package cli implements the libsync command tree.
//
// Configuration sources, highest priority first:
//  1. command-line flags (--db, --storage-driver, --output, ...)
//  2. LIBSYNC_* environment variables (LIBSYNC_STORAGE_DRIVER, LIBSYNC_LOAN_BOOK_DAYS, ...)
//  3. the config file (--config, LIBSYNC_CONFIG_FILE or ./.libsync.yaml)
//  4. built-in defaults
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"library-sync/archive"
	"library-sync/config"
	"library-sync/library"
	"library-sync/library/postgres"
	"library-sync/logging"
)

// App holds what the commands share for one invocation.
type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	cfgFile string
	libFlag string

	cfg       *config.Config
	log       *slog.Logger
	registry  *prometheus.Registry
	manager   *library.LibraryManager
	snapshots *archive.Snapshots

	// Injected backends win over the configured ones.
	store        library.Store
	archiveStore archive.Store
}

// AppOption configures an App.
type AppOption func(*App)

// WithIO replaces stdin, stdout and stderr.
func WithIO(in io.Reader, out, errOut io.Writer) AppOption {
	return func(a *App) { a.in, a.out, a.errOut = in, out, errOut }
}

// WithStore makes every command use store instead of the configured one.
func WithStore(store library.Store) AppOption { return func(a *App) { a.store = store } }

// WithArchiveStore makes every command use store as the snapshot archive.
func WithArchiveStore(store archive.Store) AppOption {
	return func(a *App) { a.archiveStore = store }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AppOption { return func(a *App) { a.now = now } }

// Execute runs the command tree against the process environment.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand(opts ...AppOption) *cobra.Command {
	app := &App{in: os.Stdin, out: os.Stdout, errOut: os.Stderr, now: time.Now}
	for _, opt := range opts {
		opt(app)
	}

	root := &cobra.Command{
		Use:   "libsync",
		Short: "Manage and synchronize school library collections",
		Long: `libsync manages independent library collections (persons, items and
borrow records), exchanges them as XML documents and merges one library
into another.

Quick Start:
  libsync person add --type student --name Ann --email ann@example.com --student-id S1 --grade 10
  libsync item add --type book --title Dune --author Herbert
  libsync borrow <person-id> <item-id>
  libsync export --file a.xml
  libsync sync --from a --to b`,
		SilenceUsage:      true,
		PersistentPreRunE: app.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return app.teardown()
		},
	}
	root.SetIn(app.in)
	root.SetOut(app.out)
	root.SetErr(app.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&app.cfgFile, "config", "", "config file (default is .libsync.yaml, can also use LIBSYNC_CONFIG_FILE env var)")
	pf.StringVarP(&app.libFlag, "library", "L", "a", "library id to operate on")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("storage-driver", config.StorageSQLite, "storage backend (sqlite, sqlite-purego, postgres, memory)")
	pf.String("db", "library.db", "SQLite database path")
	pf.String("dsn", "", "Postgres connection string")
	pf.StringP("output", "o", config.OutputTable, "output format (table, json, yaml)")

	root.AddCommand(
		newPersonCommand(app),
		newItemCommand(app),
		newBorrowCommand(app),
		newReturnCommand(app),
		newRecordsCommand(app),
		newExportCommand(app),
		newImportCommand(app),
		newSyncCommand(app),
		newSearchCommand(app),
		newStatsCommand(app),
		newSnapshotsCommand(app),
		newLibrariesCommand(app),
		newShellCommand(app),
		newWatchCommand(app),
	)
	return root
}

var flagKeys = map[string]string{
	"log-level":      "log.level",
	"storage-driver": "storage.driver",
	"db":             "storage.path",
	"dsn":            "storage.dsn",
	"output":         "output",
	"metrics-addr":   "metrics.addr",
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if a.cfg, err = config.Load(v); err != nil {
		return err
	}
	a.log = logging.Setup(a.cfg.Log.Level, a.errOut)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store := a.store
	if store == nil {
		if store, err = openStore(ctx, a.cfg); err != nil {
			return err
		}
	}

	opts := []library.ManagerOption{
		library.WithLogger(a.log),
		library.WithMetrics(library.NewMetrics(a.registry)),
		library.WithClock(a.now),
		library.WithCollectionOptions(library.WithLoanPolicy(a.cfg.LoanPolicy())),
	}
	if snaps, err := a.openArchive(ctx); err != nil {
		store.Close()
		return err
	} else if snaps != nil {
		a.snapshots = snaps
		opts = append(opts, library.WithArchiver(snaps))
	}
	a.manager = library.NewLibraryManager(store, opts...)
	return nil
}

func (a *App) teardown() error {
	if a.manager == nil {
		return nil
	}
	err := a.manager.Close()
	a.manager = nil
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (library.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return library.NewMemoryStore(), nil
	case config.StorageSQLite:
		return library.NewDatabaseWithDriver(library.DriverSQLite3, cfg.Storage.Path)
	case config.StoragePureGo:
		return library.NewDatabaseWithDriver(library.DriverSQLite, cfg.Storage.Path)
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (*archive.Snapshots, error) {
	if a.archiveStore != nil {
		return archive.NewSnapshots(a.archiveStore, archive.WithSnapshotClock(a.now)), nil
	}
	if a.cfg.Archive.Driver == "" {
		return nil, nil
	}
	s3 := a.cfg.Archive.S3
	store, err := archive.Open(ctx, archive.Options{
		Driver: archive.Driver(a.cfg.Archive.Driver),
		Dir:    a.cfg.Archive.Dir,
		S3: archive.S3Config{
			Bucket:    s3.Bucket,
			Region:    s3.Region,
			Endpoint:  s3.Endpoint,
			PathStyle: s3.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return archive.NewSnapshots(store, archive.WithSnapshotClock(a.now)), nil
}

// libraryID returns the validated --library value.
func (a *App) libraryID() (library.LibraryID, error) {
	return library.ParseLibraryID(a.libFlag)
}

func parseLibrary(flag, value string) (library.LibraryID, error) {
	id, err := library.ParseLibraryID(value)
	if err != nil {
		return "", fmt.Errorf("--%s: %w", flag, err)
	}
	return id, nil
}
