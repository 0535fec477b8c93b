// Command seed_libraries fills a fresh SQLite database with two demo
// libraries, "a" and "b", that overlap partially so that `libsync sync`
// has something to merge.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"library-sync/library"
	"library-sync/logging"
)

type bookSeed struct {
	id, title, author, genre string
	pages                    int
}

var books = []bookSeed{
	{"BK-1984", "1984", "George Orwell", "Dystopia", 328},
	{"BK-FARM", "Animal Farm", "George Orwell", "Satire", 112},
	{"BK-FRANK", "The Diary of a Young Girl", "Anne Frank", "Memoir", 283},
	{"BK-WAR", "The Art of War", "Sun Tzu", "Strategy", 68},
	{"BK-LOTR1", "The Fellowship of the Ring", "J.R.R. Tolkien", "Fantasy", 423},
	{"BK-LOTR2", "The Two Towers", "J.R.R. Tolkien", "Fantasy", 352},
	{"BK-LOTR3", "The Return of the King", "J.R.R. Tolkien", "Fantasy", 416},
	{"BK-ROMEO", "Romeo and Juliet", "William Shakespeare", "Drama", 281},
	{"BK-PIGS", "The Three Little Pigs", "Traditional", "Folk tale", 32},
	{"BK-MUSK", "The Three Musketeers", "Alexandre Dumas", "Adventure", 625},
}

type magazineSeed struct {
	id, title, publisher, issue, month string
}

var magazines = []magazineSeed{
	{"MG-NATGEO-03", "National Geographic", "National Geographic Society", "3", "March"},
	{"MG-SCIAM-05", "Scientific American", "Springer Nature", "5", "May"},
	{"MG-TIME-11", "Time", "Time USA", "11", "November"},
}

func main() {
	dbPath := pflag.String("db", "library.db", "SQLite database to create")
	keep := pflag.Bool("keep", false, "keep an existing database instead of starting over")
	pflag.Parse()

	log := logging.Setup("info", os.Stderr)

	if !*keep {
		for _, file := range []string{*dbPath, *dbPath + "-shm", *dbPath + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				log.Warn("could not remove old database file", "file", file, "err", err)
			}
		}
	}

	db, err := library.NewDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
		os.Exit(1)
	}
	manager := library.NewLibraryManager(db, library.WithLogger(log))
	defer manager.Close()

	if err := seed(context.Background(), manager); err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding libraries: %v\n", err)
		os.Exit(1)
	}

	for _, id := range []library.LibraryID{"a", "b"} {
		st, err := manager.Stats(context.Background(), id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Library %s: %d students, %d teachers, %d books, %d magazines, %d active loans\n",
			id, st.TotalStudents, st.TotalTeachers, st.TotalBooks, st.TotalMagazines, st.ActiveBorrows)
	}
}

func seed(ctx context.Context, m *library.LibraryManager) error {
	a, b := library.LibraryID("a"), library.LibraryID("b")

	ann, err := library.NewStudent("ST-ANN", "Ann Lee", "ann@example.com", "555-0101", "S-17", "10")
	if err != nil {
		return err
	}
	raj, err := library.NewStudent("ST-RAJ", "Raj Patel", "raj@example.com", "", "S-42", "11")
	if err != nil {
		return err
	}
	bo, err := library.NewTeacher("TE-BO", "Bo Chen", "bo@example.com", "555-0199", "T-3", "Literature")
	if err != nil {
		return err
	}

	// Library a holds the full catalogue and all three readers.
	for _, p := range []library.Person{ann, raj, bo} {
		if err := m.AddPerson(ctx, a, p); err != nil {
			return err
		}
	}
	for _, s := range books {
		item, err := library.NewBook(s.id, s.title, s.author, "", s.genre, s.pages, "")
		if err != nil {
			return err
		}
		if err := m.AddItem(ctx, a, item); err != nil {
			return err
		}
	}
	for _, loan := range [][2]string{{"ST-ANN", "BK-1984"}, {"TE-BO", "BK-ROMEO"}, {"TE-BO", "BK-MUSK"}} {
		if _, err := m.BorrowItem(ctx, a, loan[0], loan[1]); err != nil {
			return err
		}
	}

	// Library b shares Bo and one book with a, and has its own magazines.
	if err := m.AddPerson(ctx, b, bo); err != nil {
		return err
	}
	for _, s := range magazines {
		item, err := library.NewMagazine(s.id, s.title, s.publisher, "", s.issue, s.month)
		if err != nil {
			return err
		}
		if err := m.AddItem(ctx, b, item); err != nil {
			return err
		}
	}
	first := books[0]
	shared, err := library.NewBook(first.id, first.title, first.author, "", first.genre, first.pages, "")
	if err != nil {
		return err
	}
	if err := m.AddItem(ctx, b, shared); err != nil {
		return err
	}
	_, err = m.BorrowItem(ctx, b, "TE-BO", "MG-TIME-11")
	return err
}
