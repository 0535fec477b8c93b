package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-sync/library"
)

func newBorrowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <person-id> <item-id>",
		Short: "Lend an item to a person",
		Long: `Lend an item to a person as of today. Books are due after the configured
book loan period (14 days by default), magazines after the magazine period
(7 days). Students may hold 5 items at once, teachers 10.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			rec, err := app.manager.BorrowItem(cmd.Context(), lib, args[0], args[1])
			if err != nil {
				return err
			}
			views := app.recordViews([]library.BorrowRecord{rec})
			return app.render(views[0], recordTable(views))
		},
	}
}

func newReturnCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "return <record-id>",
		Short: "Close a loan and make its item available again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			rec, err := app.manager.ReturnItem(cmd.Context(), lib, args[0])
			if err != nil {
				return err
			}
			views := app.recordViews([]library.BorrowRecord{rec})
			return app.render(views[0], recordTable(views))
		},
	}
}

func newRecordsCommand(app *App) *cobra.Command {
	var personID, itemID, status string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List borrow records, oldest loan first",
		Example: `  libsync records --status overdue
  libsync records --person p1 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			f := library.RecordFilter{PersonID: personID, ItemID: itemID, Today: library.CivilDate(app.now())}
			switch st := library.RecordStatus(strings.ToLower(status)); st {
			case "":
			case library.StatusBorrowed, library.StatusReturned, library.StatusOverdue:
				f.Status = st
			default:
				return fmt.Errorf("--status must be borrowed, returned or overdue, got %q", status)
			}
			records, err := app.manager.ListBorrowRecords(cmd.Context(), lib, f)
			if err != nil {
				return err
			}
			views := app.recordViews(records)
			return app.render(views, recordTable(views))
		},
	}
	cmd.Flags().StringVar(&personID, "person", "", "only records of this person")
	cmd.Flags().StringVar(&itemID, "item", "", "only records of this item")
	cmd.Flags().StringVar(&status, "status", "", "borrowed, returned or overdue (as of today)")
	return cmd
}
