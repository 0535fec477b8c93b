package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-sync/library"
)

func newShellCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt for day-to-day circulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			app.serveMetrics(ctx)

			sh := &shell{app: app, ctx: ctx, sc: bufio.NewScanner(app.in), out: app.out, lib: lib}
			sh.run()
			return nil
		},
	}
	addMetricsFlag(cmd)
	return cmd
}

type shell struct {
	app *App
	ctx context.Context
	sc  *bufio.Scanner
	out io.Writer
	lib library.LibraryID
}

func (s *shell) printf(format string, args ...any) { fmt.Fprintf(s.out, format, args...) }

// ask prints prompt and returns the trimmed answer; ok is false at end of input.
func (s *shell) ask(prompt string) (answer string, ok bool) {
	s.printf("%s", prompt)
	if !s.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.sc.Text()), true
}

func (s *shell) run() {
	s.printf("Welcome to the library shell. Working on library %s.\n", s.lib)
	s.printHelp()

	for {
		s.printf("\n%s> ", s.lib)
		if !s.sc.Scan() {
			break
		}
		line := strings.TrimSpace(s.sc.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		if cmd == "use" || cmd == "sync" {
			line = cmd
		}

		switch line {
		case "":
		case "add person":
			s.handleAddPerson()
		case "add item":
			s.handleAddItem()
		case "list persons":
			s.handleListPersons()
		case "list items":
			s.handleListItems()
		case "search":
			s.handleSearch()
		case "borrow":
			s.handleBorrow()
		case "return":
			s.handleReturn()
		case "records":
			s.handleRecords()
		case "stats":
			s.handleStats()
		case "export":
			s.handleExport()
		case "import":
			s.handleImport()
		case "sync":
			s.handleSync(strings.TrimSpace(arg))
		case "use":
			s.handleUse(strings.TrimSpace(arg))
		case "help":
			s.printHelp()
		case "exit", "quit":
			s.printf("Goodbye!\n")
			return
		default:
			s.printf("Unknown command. Type 'help' to see the available commands.\n")
		}
	}
}

func (s *shell) printHelp() {
	s.printf("Available commands:\n")
	s.printf("  Persons: add person, list persons\n")
	s.printf("  Items: add item, list items, search\n")
	s.printf("  Circulation: borrow, return, records, stats\n")
	s.printf("  Exchange: export, import, sync <from-library>\n")
	s.printf("  System: use <library>, help, exit\n")
}

func (s *shell) handleAddPerson() {
	var f personFlags
	var ok bool
	if f.kind, ok = s.ask("Type (student/teacher): "); !ok {
		return
	}
	if f.name, ok = s.ask("Name: "); !ok {
		return
	}
	if f.email, ok = s.ask("Email: "); !ok {
		return
	}
	if f.phone, ok = s.ask("Phone (optional): "); !ok {
		return
	}
	switch library.PersonKind(strings.ToLower(f.kind)) {
	case library.KindStudent:
		if f.studentID, ok = s.ask("Student ID: "); !ok {
			return
		}
		if f.grade, ok = s.ask("Grade level: "); !ok {
			return
		}
	case library.KindTeacher:
		if f.teacherID, ok = s.ask("Teacher ID: "); !ok {
			return
		}
		if f.department, ok = s.ask("Department: "); !ok {
			return
		}
	}

	p, err := f.build()
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if err := s.app.manager.AddPerson(s.ctx, s.lib, p); err != nil {
		s.printf("Error adding person: %v\n", err)
		return
	}
	s.printf("Added %s '%s' with ID %s\n", p.Kind, p.Name, p.ID)
}

func (s *shell) handleAddItem() {
	var f itemFlags
	var ok bool
	if f.kind, ok = s.ask("Type (book/magazine): "); !ok {
		return
	}
	if f.title, ok = s.ask("Title: "); !ok {
		return
	}
	if f.author, ok = s.ask("Author: "); !ok {
		return
	}
	if f.isbn, ok = s.ask("ISBN (optional): "); !ok {
		return
	}
	switch library.ItemKind(strings.ToLower(f.kind)) {
	case library.KindBook:
		if f.genre, ok = s.ask("Genre: "); !ok {
			return
		}
		pages, ok := s.ask("Pages: ")
		if !ok {
			return
		}
		if pages != "" {
			n, err := strconv.Atoi(pages)
			if err != nil {
				s.printf("Invalid page count: %s\n", pages)
				return
			}
			f.pages = n
		}
		if f.publisher, ok = s.ask("Publisher: "); !ok {
			return
		}
	case library.KindMagazine:
		if f.issue, ok = s.ask("Issue number: "); !ok {
			return
		}
		if f.month, ok = s.ask("Publication month: "); !ok {
			return
		}
	}

	i, err := f.build()
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if err := s.app.manager.AddItem(s.ctx, s.lib, i); err != nil {
		s.printf("Error adding item: %v\n", err)
		return
	}
	s.printf("Added %s '%s' with ID %s\n", i.Kind, i.Title, i.ID)
}

func (s *shell) handleListPersons() {
	persons, err := s.app.manager.ListPersons(s.ctx, s.lib)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if len(persons) == 0 {
		s.printf("No persons registered.\n")
		return
	}
	s.printf("%-12s %-8s %-30s %-30s %s\n", "ID", "Type", "Name", "Email", "Loans")
	s.printf("%s\n", strings.Repeat("-", 95))
	for _, p := range persons {
		open, _ := s.app.manager.ListBorrowRecords(s.ctx, s.lib, library.RecordFilter{PersonID: p.ID})
		loans := 0
		for _, r := range open {
			if r.Open() {
				loans++
			}
		}
		s.printf("%-12s %-8s %-30s %-30s %d/%d\n",
			truncateString(p.ID, 12), p.Kind, truncateString(p.Name, 30), truncateString(p.Email, 30), loans, p.BorrowLimit())
	}
}

func (s *shell) handleListItems() {
	items, err := s.app.manager.ListItems(s.ctx, s.lib)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if len(items) == 0 {
		s.printf("No items in library.\n")
		return
	}
	s.printItems(items)
}

func (s *shell) printItems(items []library.Item) {
	s.printf("%-12s %-9s %-30s %-25s %s\n", "ID", "Type", "Title", "Author", "Available")
	s.printf("%s\n", strings.Repeat("-", 90))
	for _, i := range items {
		s.printf("%-12s %-9s %-30s %-25s %s\n",
			truncateString(i.ID, 12), i.Kind, truncateString(i.Title, 30), truncateString(i.Author, 25), yesNo(i.Available))
	}
}

func (s *shell) handleSearch() {
	query, ok := s.ask("Query: ")
	if !ok {
		return
	}
	res, err := s.app.manager.Search(s.ctx, s.lib, query)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if len(res.Items) == 0 && len(res.Persons) == 0 {
		s.printf("Nothing found matching '%s'.\n", query)
		return
	}
	if len(res.Items) > 0 {
		s.printf("Found %d item(s) matching '%s':\n", len(res.Items), query)
		s.printItems(res.Items)
	}
	for _, p := range res.Persons {
		s.printf("Person %s: %s (%s)\n", p.ID, p.Name, p.Kind)
	}
}

func (s *shell) handleBorrow() {
	personID, ok := s.ask("Person ID: ")
	if !ok {
		return
	}
	itemID, ok := s.ask("Item ID: ")
	if !ok {
		return
	}
	rec, err := s.app.manager.BorrowItem(s.ctx, s.lib, personID, itemID)
	if err != nil {
		s.printf("Error borrowing item: %v\n", err)
		return
	}
	s.printf("Item %s lent to %s, due %s (record %s)\n", itemID, personID, library.FormatDate(rec.DueDate), rec.ID)
}

func (s *shell) handleReturn() {
	recordID, ok := s.ask("Record ID: ")
	if !ok {
		return
	}
	rec, err := s.app.manager.ReturnItem(s.ctx, s.lib, recordID)
	if err != nil {
		s.printf("Error returning item: %v\n", err)
		return
	}
	s.printf("Item %s returned by %s\n", rec.ItemID, rec.PersonID)
}

func (s *shell) handleRecords() {
	records, err := s.app.manager.ListBorrowRecords(s.ctx, s.lib, library.RecordFilter{})
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if len(records) == 0 {
		s.printf("No borrow records.\n")
		return
	}
	today := library.CivilDate(s.app.now())
	s.printf("%-12s %-12s %-12s %-10s %-10s %s\n", "Record", "Person", "Item", "Borrowed", "Due", "Status")
	s.printf("%s\n", strings.Repeat("-", 75))
	for _, r := range records {
		s.printf("%-12s %-12s %-12s %-10s %-10s %s\n",
			truncateString(r.ID, 12), truncateString(r.PersonID, 12), truncateString(r.ItemID, 12),
			library.FormatDate(r.BorrowDate), library.FormatDate(r.DueDate), r.EffectiveStatus(today))
	}
}

func (s *shell) handleStats() {
	st, err := s.app.manager.Stats(s.ctx, s.lib)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.printf("Books: %d (%d available)\n", st.TotalBooks, st.AvailableBooks)
	s.printf("Magazines: %d (%d available)\n", st.TotalMagazines, st.AvailableMagazines)
	s.printf("Students: %d, Teachers: %d\n", st.TotalStudents, st.TotalTeachers)
	s.printf("Active borrows: %d, overdue: %d\n", st.ActiveBorrows, st.OverdueItems)
}

func (s *shell) handleExport() {
	path, ok := s.ask("File path: ")
	if !ok {
		return
	}
	doc, err := s.app.manager.ExportXML(s.ctx, s.lib)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if err := writeFileAtomic(path, doc); err != nil {
		s.printf("Error writing %s: %v\n", path, err)
		return
	}
	s.printf("Exported library %s to %s\n", s.lib, path)
}

func (s *shell) handleImport() {
	path, ok := s.ask("File path: ")
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.printf("File error: %v\n", err)
		return
	}
	rep, err := s.app.manager.ImportXML(s.ctx, s.lib, data)
	if err != nil {
		s.printf("Error importing: %v\n", err)
		return
	}
	s.printf("Imported %d persons, %d items, %d borrow records (%d records skipped)\n",
		rep.InsertedPersons, rep.InsertedItems, rep.InsertedRecords, rep.SkippedRecords)
}

func (s *shell) handleSync(from string) {
	if from == "" {
		var ok bool
		if from, ok = s.ask("Sync from library: "); !ok {
			return
		}
	}
	src, err := library.ParseLibraryID(from)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	rep, err := s.app.manager.SyncLibraries(s.ctx, src, s.lib)
	if err != nil {
		s.printf("Error syncing: %v\n", err)
		return
	}
	s.printf("%s\n", rep.Summary(src, s.lib))
}

func (s *shell) handleUse(id string) {
	lib, err := library.ParseLibraryID(id)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.lib = lib
	s.printf("Now working on library %s\n", lib)
}
