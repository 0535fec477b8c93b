package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite" // pure Go driver, registered as "sqlite"
)

// SQLite driver names accepted by NewDatabaseWithDriver.
const (
	DriverSQLite3 = "sqlite3" // mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
)

// Ensure Database implements Store
var _ Store = (*Database)(nil)

// Database stores every library in one SQLite file, one row per entity.
type Database struct {
	db *sql.DB

	insertPersonStmt *sql.Stmt
	insertItemStmt   *sql.Stmt
	insertRecordStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath with the
// default cgo driver, applies schema migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	return NewDatabaseWithDriver(DriverSQLite3, dbPath)
}

// NewDatabaseWithDriver is NewDatabase with an explicit driver name.
func NewDatabaseWithDriver(driver, dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys; writers take the lock at BEGIN.
	var dsn string
	switch driver {
	case DriverSQLite3:
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	case DriverSQLite:
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", dbPath)
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sql.Stmt{d.insertPersonStmt, d.insertItemStmt, d.insertRecordStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 3

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS libraries (
            id TEXT PRIMARY KEY,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS persons (
            library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
            id TEXT NOT NULL,
            position INTEGER NOT NULL,
            kind TEXT NOT NULL CHECK (kind IN ('student','teacher')),
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            student_id TEXT,
            grade_level TEXT,
            teacher_id TEXT,
            department TEXT,
            PRIMARY KEY (library_id, id)
        );`,
		`CREATE TABLE IF NOT EXISTS items (
            library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
            id TEXT NOT NULL,
            position INTEGER NOT NULL,
            kind TEXT NOT NULL CHECK (kind IN ('book','magazine')),
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL DEFAULT '',
            available BOOLEAN NOT NULL DEFAULT 1,
            genre TEXT,
            pages INTEGER,
            publisher TEXT,
            issue_number TEXT,
            publication_month TEXT,
            PRIMARY KEY (library_id, id)
        );`,
		// Returned records may outlive their person or item, so no foreign keys here.
		`CREATE TABLE IF NOT EXISTS borrow_records (
            library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
            id TEXT NOT NULL,
            position INTEGER NOT NULL,
            person_id TEXT NOT NULL,
            item_id TEXT NOT NULL,
            borrow_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT,
            status TEXT NOT NULL CHECK (status IN ('borrowed','returned')),
            PRIMARY KEY (library_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_records_person ON borrow_records(library_id, person_id);`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_records_item ON borrow_records(library_id, item_id);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.insertPersonStmt, err = d.db.Prepare(`INSERT INTO persons(library_id,id,position,kind,name,email,phone,student_id,grade_level,teacher_id,department)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.insertItemStmt, err = d.db.Prepare(`INSERT INTO items(library_id,id,position,kind,title,author,isbn,available,genre,pages,publisher,issue_number,publication_month)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.insertRecordStmt, err = d.db.Prepare(`INSERT INTO borrow_records(library_id,id,position,person_id,item_id,borrow_date,due_date,return_date,status)
        VALUES(?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// SaveCollection replaces everything stored for c.ID() in a single transaction.
func (d *Database) SaveCollection(ctx context.Context, c *Collection) error {
	in := c.Contents()
	lib := string(in.Library)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO libraries(id,updated_at) VALUES(?,?)
        ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at`, lib, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert library: %w", err)
	}
	for _, table := range []string{"borrow_records", "items", "persons"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE library_id=?`, lib); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	personStmt := tx.StmtContext(ctx, d.insertPersonStmt)
	for pos, p := range in.Persons {
		var studentID, grade, teacherID, dept sql.NullString
		if p.Student != nil {
			studentID = nullString(p.Student.StudentID)
			grade = nullString(p.Student.GradeLevel)
		}
		if p.Teacher != nil {
			teacherID = nullString(p.Teacher.TeacherID)
			dept = nullString(p.Teacher.Department)
		}
		if _, err := personStmt.ExecContext(ctx, lib, p.ID, pos, string(p.Kind), p.Name, p.Email, p.Phone,
			studentID, grade, teacherID, dept); err != nil {
			return fmt.Errorf("insert person %q: %w", p.ID, err)
		}
	}

	itemStmt := tx.StmtContext(ctx, d.insertItemStmt)
	for pos, i := range in.Items {
		var genre, publisher, issue, month sql.NullString
		var pages sql.NullInt64
		if i.Book != nil {
			genre = nullString(i.Book.Genre)
			publisher = nullString(i.Book.Publisher)
			pages = sql.NullInt64{Int64: int64(i.Book.Pages), Valid: true}
		}
		if i.Magazine != nil {
			issue = nullString(i.Magazine.IssueNumber)
			month = nullString(i.Magazine.PublicationMonth)
		}
		if _, err := itemStmt.ExecContext(ctx, lib, i.ID, pos, string(i.Kind), i.Title, i.Author, i.ISBN, i.Available,
			genre, pages, publisher, issue, month); err != nil {
			return fmt.Errorf("insert item %q: %w", i.ID, err)
		}
	}

	recordStmt := tx.StmtContext(ctx, d.insertRecordStmt)
	for pos, r := range in.Records {
		var returned sql.NullString
		if r.ReturnDate != nil {
			returned = nullString(FormatDate(*r.ReturnDate))
		}
		if _, err := recordStmt.ExecContext(ctx, lib, r.ID, pos, r.PersonID, r.ItemID,
			FormatDate(r.BorrowDate), FormatDate(r.DueDate), returned, string(r.Status)); err != nil {
			return fmt.Errorf("insert borrow record %q: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// LoadCollection rebuilds the collection stored for id. Unknown libraries
// load as empty collections.
func (d *Database) LoadCollection(ctx context.Context, id LibraryID, opts ...Option) (*Collection, error) {
	lib := string(id)
	in := Contents{Library: id}

	rows, err := d.db.QueryContext(ctx, `SELECT id,kind,name,email,phone,student_id,grade_level,teacher_id,department
        FROM persons WHERE library_id=? ORDER BY position`, lib)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p Person
		var kind string
		var studentID, grade, teacherID, dept sql.NullString
		if err := rows.Scan(&p.ID, &kind, &p.Name, &p.Email, &p.Phone, &studentID, &grade, &teacherID, &dept); err != nil {
			rows.Close()
			return nil, err
		}
		p.Kind = PersonKind(kind)
		switch p.Kind {
		case KindStudent:
			p.Student = &StudentInfo{StudentID: studentID.String, GradeLevel: grade.String}
		case KindTeacher:
			p.Teacher = &TeacherInfo{TeacherID: teacherID.String, Department: dept.String}
		}
		in.Persons = append(in.Persons, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = d.db.QueryContext(ctx, `SELECT id,kind,title,author,isbn,available,genre,pages,publisher,issue_number,publication_month
        FROM items WHERE library_id=? ORDER BY position`, lib)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var i Item
		var kind string
		var genre, publisher, issue, month sql.NullString
		var pages sql.NullInt64
		if err := rows.Scan(&i.ID, &kind, &i.Title, &i.Author, &i.ISBN, &i.Available, &genre, &pages, &publisher, &issue, &month); err != nil {
			rows.Close()
			return nil, err
		}
		i.Kind = ItemKind(kind)
		switch i.Kind {
		case KindBook:
			i.Book = &BookInfo{Genre: genre.String, Pages: int(pages.Int64), Publisher: publisher.String}
		case KindMagazine:
			i.Magazine = &MagazineInfo{IssueNumber: issue.String, PublicationMonth: month.String}
		}
		in.Items = append(in.Items, i)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = d.db.QueryContext(ctx, `SELECT id,person_id,item_id,borrow_date,due_date,return_date,status
        FROM borrow_records WHERE library_id=? ORDER BY position`, lib)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r BorrowRecord
		var borrowed, due, status string
		var returned sql.NullString
		if err := rows.Scan(&r.ID, &r.PersonID, &r.ItemID, &borrowed, &due, &returned, &status); err != nil {
			return nil, err
		}
		if r.BorrowDate, err = ParseDate(borrowed); err != nil {
			return nil, fmt.Errorf("borrow record %q: %w", r.ID, err)
		}
		if r.DueDate, err = ParseDate(due); err != nil {
			return nil, fmt.Errorf("borrow record %q: %w", r.ID, err)
		}
		if returned.Valid {
			d, err := ParseDate(returned.String)
			if err != nil {
				return nil, fmt.Errorf("borrow record %q: %w", r.ID, err)
			}
			r.ReturnDate = &d
		}
		r.Status = RecordStatus(status)
		in.Records = append(in.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return FromContents(in, opts...)
}

// Libraries lists the ids of every library saved so far.
func (d *Database) Libraries(ctx context.Context) ([]LibraryID, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM libraries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []LibraryID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, LibraryID(id))
	}
	return ids, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
