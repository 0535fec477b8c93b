package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"library-sync/config"
	"library-sync/library"
)

func newExportCommand(app *App) *cobra.Command {
	var file string
	var toArchive bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a library as an XML document",
		Long: `Write the selected library as its canonical XML document to stdout or
--file. With --archive the document is also stored in the snapshot archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			doc, err := app.manager.ExportXML(cmd.Context(), lib)
			if err != nil {
				return err
			}
			if file == "" {
				if _, err := app.out.Write(doc); err != nil {
					return err
				}
			} else if err := writeFileAtomic(file, doc); err != nil {
				return fmt.Errorf("write %s: %w", file, err)
			}
			if toArchive {
				key, err := app.manager.ArchiveSnapshot(cmd.Context(), lib)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.errOut, "Archived snapshot %s\n", key)
			}
			if file != "" {
				return app.message("Exported library %s to %s (%s)", lib, file, library.Digest(doc)[:12])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "also store the document in the snapshot archive")
	return cmd
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".libsync-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func newImportCommand(app *App) *cobra.Command {
	var file, snapshot string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge an XML document into a library",
		Long: `Merge an XML document into the selected library. Entities whose id already
exists are left untouched; importing the same document twice is a no-op.
The document is read from --file or, with --snapshot, from the archive.`,
		Example: `  libsync import --file a.xml --library b
  libsync import --snapshot a/20240301T093000Z-0123456789ab.xml --library b`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			var data []byte
			source := filepath.Base(file)
			if snapshot != "" {
				if app.snapshots == nil {
					return library.ErrArchiveDisabled
				}
				if data, err = app.snapshots.Fetch(cmd.Context(), snapshot); err != nil {
					return fmt.Errorf("fetch snapshot %s: %w", snapshot, err)
				}
				source = "snapshot " + snapshot
			} else if data, err = os.ReadFile(file); err != nil {
				return err
			}
			rep, err := app.manager.ImportXML(cmd.Context(), lib, data)
			if err != nil {
				return err
			}
			return app.report(rep, fmt.Sprintf("Imported %s into library %s", source, lib))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "XML document to import")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "archived snapshot key to import (see 'libsync snapshots')")
	cmd.MarkFlagsMutuallyExclusive("file", "snapshot")
	cmd.MarkFlagsOneRequired("file", "snapshot")
	return cmd
}

func newSyncCommand(app *App) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy what one library has and another lacks",
		Long: `Copy every person, item and borrow record of --from whose id is missing in
--to. Nothing in --to is overwritten or deleted. Records whose person or item
does not end up in --to, or that would break its loan rules, are skipped.`,
		Example: `  libsync sync --from a --to b`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := parseLibrary("from", from)
			if err != nil {
				return err
			}
			dst, err := parseLibrary("to", to)
			if err != nil {
				return err
			}
			rep, err := app.manager.SyncLibraries(cmd.Context(), src, dst)
			if err != nil {
				return err
			}
			return app.report(rep, rep.Summary(src, dst))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source library id")
	cmd.Flags().StringVar(&to, "to", "", "target library id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (a *App) report(rep library.MergeReport, summary string) error {
	return a.render(rep, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, summary)
		for _, id := range rep.SkippedRecordIDs {
			fmt.Fprintf(tw, "  skipped record\t%s\n", id)
		}
	})
}

func newSnapshotsCommand(app *App) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List archived XML snapshots of a library",
		Long: `List the archived snapshots of the selected library, oldest first.
With --keep N all but the newest N snapshots are deleted first.`,
		Example: `  libsync snapshots --library a
  libsync snapshots --keep 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			if app.snapshots == nil {
				return library.ErrArchiveDisabled
			}
			if cmd.Flags().Changed("keep") {
				deleted, err := app.snapshots.Prune(cmd.Context(), lib, keep)
				if err != nil {
					return err
				}
				app.log.Info("pruned snapshots", "library", lib, "deleted", len(deleted), "kept", keep)
			}
			infos, err := app.snapshots.List(cmd.Context(), lib)
			if err != nil {
				return err
			}
			return app.render(infos, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "KEY\tSIZE\tSTORED\tDIGEST")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", info.Key, info.Size,
						info.LastModified.UTC().Format("2006-01-02 15:04:05"), info.Metadata["digest"])
				}
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "delete all but the newest N snapshots before listing")
	return cmd
}

func newLibrariesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "libraries",
		Short: "List the stored libraries with their totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := app.manager.Libraries(cmd.Context())
			if err != nil {
				return err
			}
			stats := make([]library.Stats, 0, len(ids))
			for _, id := range ids {
				st, err := app.manager.Stats(cmd.Context(), id)
				if err != nil {
					return err
				}
				stats = append(stats, st)
			}
			if len(stats) == 0 && app.cfg.Output == config.OutputTable {
				return app.message("No libraries stored yet.")
			}
			return app.render(stats, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "LIBRARY\tPERSONS\tITEMS\tACTIVE BORROWS\tOVERDUE")
				for _, st := range stats {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", st.Library,
						st.TotalStudents+st.TotalTeachers, st.TotalBooks+st.TotalMagazines, st.ActiveBorrows, st.OverdueItems)
				}
			})
		},
	}
}
