package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-sync/config"
	"library-sync/library"
)

type itemFlags struct {
	id, kind, title, author, isbn string
	genre, publisher              string
	pages                         int
	issue, month                  string
}

func (f *itemFlags) register(cmd *cobra.Command, withID bool) {
	fs := cmd.Flags()
	if withID {
		fs.StringVar(&f.id, "id", "", "item id (generated when empty)")
		fs.StringVarP(&f.kind, "type", "t", "", "item type (book or magazine)")
	}
	fs.StringVar(&f.title, "title", "", "title")
	fs.StringVar(&f.author, "author", "", "author or editor")
	fs.StringVar(&f.isbn, "isbn", "", "ISBN or ISSN")
	fs.StringVar(&f.genre, "genre", "", "genre (books)")
	fs.IntVar(&f.pages, "pages", 0, "page count (books)")
	fs.StringVar(&f.publisher, "publisher", "", "publisher (books)")
	fs.StringVar(&f.issue, "issue", "", "issue number (magazines)")
	fs.StringVar(&f.month, "month", "", "publication month (magazines)")
}

func (f *itemFlags) build() (library.Item, error) {
	switch library.ItemKind(strings.ToLower(f.kind)) {
	case library.KindBook:
		return library.NewBook(f.id, f.title, f.author, f.isbn, f.genre, f.pages, f.publisher)
	case library.KindMagazine:
		return library.NewMagazine(f.id, f.title, f.author, f.isbn, f.issue, f.month)
	default:
		return library.Item{}, fmt.Errorf("--type must be book or magazine, got %q", f.kind)
	}
}

// apply overwrites the fields of i whose flags were given.
func (f *itemFlags) apply(cmd *cobra.Command, i library.Item) library.Item {
	set := func(flag string, dst *string, v string) {
		if cmd.Flags().Changed(flag) {
			*dst = strings.TrimSpace(v)
		}
	}
	set("title", &i.Title, f.title)
	set("author", &i.Author, f.author)
	set("isbn", &i.ISBN, f.isbn)
	if i.Book != nil {
		set("genre", &i.Book.Genre, f.genre)
		set("publisher", &i.Book.Publisher, f.publisher)
		if cmd.Flags().Changed("pages") {
			i.Book.Pages = f.pages
		}
	}
	if i.Magazine != nil {
		set("issue", &i.Magazine.IssueNumber, f.issue)
		set("month", &i.Magazine.PublicationMonth, f.month)
	}
	return i
}

func newItemCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "item",
		Aliases: []string{"items", "i"},
		Short:   "Manage books and magazines",
	}

	var add itemFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book or magazine to the catalogue",
		Example: `  libsync item add --type book --title Dune --author "Frank Herbert" --genre sf --pages 412
  libsync item add --type magazine --title "Nature" --author Various --issue 7 --month 2024-07`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			i, err := add.build()
			if err != nil {
				return err
			}
			if err := app.manager.AddItem(cmd.Context(), lib, i); err != nil {
				return err
			}
			return app.render(i, app.itemTable([]library.Item{i}))
		},
	}
	add.register(addCmd, true)
	_ = addCmd.MarkFlagRequired("type")

	var upd itemFlags
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an item's details (type and availability are fixed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			i, err := app.manager.GetItem(cmd.Context(), lib, args[0])
			if err != nil {
				return err
			}
			i = upd.apply(cmd, i)
			if err := app.manager.UpdateItem(cmd.Context(), lib, i); err != nil {
				return err
			}
			return app.render(i, app.itemTable([]library.Item{i}))
		},
	}
	upd.register(updateCmd, false)

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			i, err := app.manager.GetItem(cmd.Context(), lib, args[0])
			if err != nil {
				return err
			}
			return app.render(i, app.itemTable([]library.Item{i}))
		},
	}

	var availableOnly bool
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List items in catalogue order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			items, err := app.manager.ListItems(cmd.Context(), lib)
			if err != nil {
				return err
			}
			if availableOnly {
				kept := items[:0]
				for _, i := range items {
					if i.IsAvailable() {
						kept = append(kept, i)
					}
				}
				items = kept
			}
			if len(items) == 0 && app.cfg.Output == config.OutputTable {
				return app.message("No items in library %s.", lib)
			}
			return app.render(items, app.itemTable(items))
		},
	}
	listCmd.Flags().BoolVar(&availableOnly, "available", false, "only items that can be borrowed now")

	removeCmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an item that is not on loan",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			if err := app.manager.RemoveItem(cmd.Context(), lib, args[0]); err != nil {
				return err
			}
			return app.message("Removed item %s from library %s", args[0], lib)
		},
	}

	cmd.AddCommand(addCmd, updateCmd, getCmd, listCmd, removeCmd)
	return cmd
}
