package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"library-sync/library"
)

func newWatchCommand(app *App) *cobra.Command {
	var dir string
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Import XML documents dropped into a folder",
		Long: `Watch a folder and merge every *.xml file written into it into the selected
library, using the same rules as 'libsync import'. Files already present are
imported on start. A file is imported again only when its content changes.`,
		Example: `  libsync watch --dir ./inbox --library b --metrics-addr :9108`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			app.serveMetrics(ctx)

			df := newDropFolder(dir, lib, app.manager, app.log, delay)
			return df.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "inbox", "folder to watch")
	cmd.Flags().DurationVar(&delay, "debounce", 500*time.Millisecond, "quiet period before a changed file is imported")
	addMetricsFlag(cmd)
	return cmd
}

// dropFolder imports XML documents written into dir.
type dropFolder struct {
	dir     string
	lib     library.LibraryID
	manager *library.LibraryManager
	log     *slog.Logger
	delay   time.Duration

	// digests of the last successfully imported content per path
	seen map[string]string

	// onImport is called after every import attempt.
	onImport func(path string, rep library.MergeReport, err error)
}

func newDropFolder(dir string, lib library.LibraryID, m *library.LibraryManager, log *slog.Logger, delay time.Duration) *dropFolder {
	return &dropFolder{
		dir:     dir,
		lib:     lib,
		manager: m,
		log:     log,
		delay:   delay,
		seen:    make(map[string]string),
	}
}

func isXMLFile(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), ".xml") && !strings.HasPrefix(base, ".")
}

// Run imports the files already in dir, then watches it until ctx ends.
func (d *dropFolder) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(d.dir); err != nil {
		return fmt.Errorf("watch %s: %w", d.dir, err)
	}

	if err := d.scan(ctx); err != nil {
		return err
	}
	d.log.Info("watching drop folder", "dir", d.dir, "library", d.lib)

	pending := make(map[string]struct{})
	var quiet <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isXMLFile(ev.Name) || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			pending[ev.Name] = struct{}{}
			quiet = time.After(d.delay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("drop folder watcher error", "err", err)
		case <-quiet:
			quiet = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				d.importFile(ctx, p)
			}
		}
	}
}

// scan imports every XML file currently in dir, in name order.
func (d *dropFolder) scan(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && isXMLFile(e.Name()) {
			d.importFile(ctx, filepath.Join(d.dir, e.Name()))
		}
	}
	return nil
}

func (d *dropFolder) importFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Removed or renamed before the quiet period ended.
		d.log.Debug("skipping unreadable drop file", "path", path, "err", err)
		return
	}
	digest := library.Digest(data)
	if d.seen[path] == digest {
		return
	}
	rep, err := d.manager.ImportXML(ctx, d.lib, data)
	if err == nil {
		d.seen[path] = digest
		d.log.Info("imported drop file", "path", path, "inserted", rep.Inserted(), "skipped", rep.SkippedRecords)
	} else {
		d.log.Warn("drop file rejected", "path", path, "err", err)
	}
	if d.onImport != nil {
		d.onImport(path, rep, err)
	}
}
