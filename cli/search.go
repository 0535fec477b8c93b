package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"library-sync/config"
)

func newSearchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find items by title or author and persons by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			res, err := app.manager.Search(cmd.Context(), lib, query)
			if err != nil {
				return err
			}
			if len(res.Items)+len(res.Persons) == 0 && app.cfg.Output == config.OutputTable {
				return app.message("Nothing in library %s matches '%s'.", lib, query)
			}
			return app.render(res, func(tw *tabwriter.Writer) {
				if len(res.Items) > 0 {
					app.itemTable(res.Items)(tw)
				}
				if len(res.Persons) > 0 {
					if len(res.Items) > 0 {
						fmt.Fprintln(tw)
					}
					app.personTable(res.Persons)(tw)
				}
			})
		},
	}
}

func newStatsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise a library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			st, err := app.manager.Stats(cmd.Context(), lib)
			if err != nil {
				return err
			}
			return app.render(st, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Library\t%s\n", st.Library)
				fmt.Fprintf(tw, "Books\t%d (%d available)\n", st.TotalBooks, st.AvailableBooks)
				fmt.Fprintf(tw, "Magazines\t%d (%d available)\n", st.TotalMagazines, st.AvailableMagazines)
				fmt.Fprintf(tw, "Students\t%d\n", st.TotalStudents)
				fmt.Fprintf(tw, "Teachers\t%d\n", st.TotalTeachers)
				fmt.Fprintf(tw, "Active borrows\t%d\n", st.ActiveBorrows)
				fmt.Fprintf(tw, "Overdue\t%d\n", st.OverdueItems)
			})
		},
	}
}
