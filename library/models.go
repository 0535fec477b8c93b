package library

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// LibraryID names one library collection ("a", "b", ...).
type LibraryID string

var libraryIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ParseLibraryID normalizes s and checks it is a usable library id.
func ParseLibraryID(s string) (LibraryID, error) {
	id := strings.ToLower(strings.TrimSpace(s))
	if !libraryIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLibraryID, s)
	}
	return LibraryID(id), nil
}

// PersonKind discriminates the Person variants.
type PersonKind string

const (
	KindStudent PersonKind = "student"
	KindTeacher PersonKind = "teacher"
)

// ItemKind discriminates the Item variants.
type ItemKind string

const (
	KindBook     ItemKind = "book"
	KindMagazine ItemKind = "magazine"
)

// Borrower is implemented by anything that can hold loans.
type Borrower interface {
	BorrowLimit() int
}

// Borrowable is implemented by anything that can be lent out.
type Borrowable interface {
	IsAvailable() bool
}

// StudentInfo holds the fields only students carry.
type StudentInfo struct {
	StudentID  string `json:"student_id" yaml:"student_id"`
	GradeLevel string `json:"grade_level" yaml:"grade_level"`
}

// TeacherInfo holds the fields only teachers carry.
type TeacherInfo struct {
	TeacherID  string `json:"teacher_id" yaml:"teacher_id"`
	Department string `json:"department" yaml:"department"`
}

// Person is a registered borrower. Exactly one of Student/Teacher is set,
// matching Kind.
type Person struct {
	ID      string       `json:"id" yaml:"id"`
	Kind    PersonKind   `json:"type" yaml:"type"`
	Name    string       `json:"name" yaml:"name"`
	Email   string       `json:"email" yaml:"email"`
	Phone   string       `json:"phone" yaml:"phone"`
	Student *StudentInfo `json:"student,omitempty" yaml:"student,omitempty"`
	Teacher *TeacherInfo `json:"teacher,omitempty" yaml:"teacher,omitempty"`
}

// BookInfo holds the fields only books carry.
type BookInfo struct {
	Genre     string `json:"genre" yaml:"genre"`
	Pages     int    `json:"pages" yaml:"pages"`
	Publisher string `json:"publisher" yaml:"publisher"`
}

// MagazineInfo holds the fields only magazines carry.
type MagazineInfo struct {
	IssueNumber      string `json:"issue_number" yaml:"issue_number"`
	PublicationMonth string `json:"publication_month" yaml:"publication_month"`
}

// Item is a lendable catalogue entry. Exactly one of Book/Magazine is set,
// matching Kind.
type Item struct {
	ID        string        `json:"id" yaml:"id"`
	Kind      ItemKind      `json:"type" yaml:"type"`
	Title     string        `json:"title" yaml:"title"`
	Author    string        `json:"author" yaml:"author"`
	ISBN      string        `json:"isbn" yaml:"isbn"`
	Available bool          `json:"available" yaml:"available"`
	Book      *BookInfo     `json:"book,omitempty" yaml:"book,omitempty"`
	Magazine  *MagazineInfo `json:"magazine,omitempty" yaml:"magazine,omitempty"`
}

// RecordStatus is the stored state of a BorrowRecord.
type RecordStatus string

const (
	StatusBorrowed RecordStatus = "borrowed"
	StatusReturned RecordStatus = "returned"
	// StatusOverdue is never stored; see BorrowRecord.EffectiveStatus.
	StatusOverdue RecordStatus = "overdue"
)

// BorrowRecord links a person to an item for the duration of a loan.
type BorrowRecord struct {
	ID         string       `json:"id" yaml:"id"`
	PersonID   string       `json:"person_id" yaml:"person_id"`
	ItemID     string       `json:"item_id" yaml:"item_id"`
	BorrowDate time.Time    `json:"borrow_date" yaml:"borrow_date"`
	DueDate    time.Time    `json:"due_date" yaml:"due_date"`
	ReturnDate *time.Time   `json:"return_date,omitempty" yaml:"return_date,omitempty"`
	Status     RecordStatus `json:"status" yaml:"status"`
}

// ------------------ Constructors ------------------

// NewStudent builds a validated student. An empty id is replaced with a UUID.
func NewStudent(id, name, email, phone, studentID, gradeLevel string) (Person, error) {
	p := Person{
		ID:      defaultID(id),
		Kind:    KindStudent,
		Name:    strings.TrimSpace(name),
		Email:   strings.TrimSpace(email),
		Phone:   strings.TrimSpace(phone),
		Student: &StudentInfo{StudentID: strings.TrimSpace(studentID), GradeLevel: strings.TrimSpace(gradeLevel)},
	}
	return p, p.Validate()
}

// NewTeacher builds a validated teacher. An empty id is replaced with a UUID.
func NewTeacher(id, name, email, phone, teacherID, department string) (Person, error) {
	p := Person{
		ID:      defaultID(id),
		Kind:    KindTeacher,
		Name:    strings.TrimSpace(name),
		Email:   strings.TrimSpace(email),
		Phone:   strings.TrimSpace(phone),
		Teacher: &TeacherInfo{TeacherID: strings.TrimSpace(teacherID), Department: strings.TrimSpace(department)},
	}
	return p, p.Validate()
}

// NewBook builds a validated, available book. An empty id is replaced with a UUID.
func NewBook(id, title, author, isbn, genre string, pages int, publisher string) (Item, error) {
	i := Item{
		ID:        defaultID(id),
		Kind:      KindBook,
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		ISBN:      strings.TrimSpace(isbn),
		Available: true,
		Book:      &BookInfo{Genre: strings.TrimSpace(genre), Pages: pages, Publisher: strings.TrimSpace(publisher)},
	}
	return i, i.Validate()
}

// NewMagazine builds a validated, available magazine. An empty id is replaced with a UUID.
func NewMagazine(id, title, author, isbn, issueNumber, publicationMonth string) (Item, error) {
	i := Item{
		ID:        defaultID(id),
		Kind:      KindMagazine,
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		ISBN:      strings.TrimSpace(isbn),
		Available: true,
		Magazine:  &MagazineInfo{IssueNumber: strings.TrimSpace(issueNumber), PublicationMonth: strings.TrimSpace(publicationMonth)},
	}
	return i, i.Validate()
}

func defaultID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// ------------------ Validation ------------------

// Validate checks required fields and that the variant payload matches Kind.
func (p Person) Validate() error {
	if err := required("person", p.ID, "id", p.ID, "name", p.Name, "email", p.Email); err != nil {
		return err
	}
	if err := xmlText("person", p.ID, p.textFields()...); err != nil {
		return err
	}
	switch p.Kind {
	case KindStudent:
		if p.Student == nil || p.Teacher != nil {
			return invalidf("person %q: student must carry student fields only", p.ID)
		}
		return required("student", p.ID, "student_id", p.Student.StudentID, "grade_level", p.Student.GradeLevel)
	case KindTeacher:
		if p.Teacher == nil || p.Student != nil {
			return invalidf("person %q: teacher must carry teacher fields only", p.ID)
		}
		return required("teacher", p.ID, "teacher_id", p.Teacher.TeacherID, "department", p.Teacher.Department)
	default:
		return invalidf("person %q: unknown type %q", p.ID, p.Kind)
	}
}

// Validate checks required fields and that the variant payload matches Kind.
func (i Item) Validate() error {
	if err := required("item", i.ID, "id", i.ID, "title", i.Title, "author", i.Author); err != nil {
		return err
	}
	if err := xmlText("item", i.ID, i.textFields()...); err != nil {
		return err
	}
	switch i.Kind {
	case KindBook:
		if i.Book == nil || i.Magazine != nil {
			return invalidf("item %q: book must carry book fields only", i.ID)
		}
		if i.Book.Pages < 0 {
			return invalidf("item %q: pages must not be negative", i.ID)
		}
		return nil
	case KindMagazine:
		if i.Magazine == nil || i.Book != nil {
			return invalidf("item %q: magazine must carry magazine fields only", i.ID)
		}
		return required("magazine", i.ID, "issue_number", i.Magazine.IssueNumber)
	default:
		return invalidf("item %q: unknown type %q", i.ID, i.Kind)
	}
}

// required takes name/value pairs and reports the first blank one.
func required(entity, id string, pairs ...string) error {
	for n := 0; n+1 < len(pairs); n += 2 {
		if strings.TrimSpace(pairs[n+1]) == "" {
			return invalidf("%s %q: %s is required", entity, id, pairs[n])
		}
	}
	return nil
}

func (p Person) textFields() []string {
	f := []string{"id", p.ID, "name", p.Name, "email", p.Email, "phone", p.Phone}
	if p.Student != nil {
		f = append(f, "student_id", p.Student.StudentID, "grade_level", p.Student.GradeLevel)
	}
	if p.Teacher != nil {
		f = append(f, "teacher_id", p.Teacher.TeacherID, "department", p.Teacher.Department)
	}
	return f
}

func (i Item) textFields() []string {
	f := []string{"id", i.ID, "title", i.Title, "author", i.Author, "isbn", i.ISBN}
	if i.Book != nil {
		f = append(f, "genre", i.Book.Genre, "publisher", i.Book.Publisher)
	}
	if i.Magazine != nil {
		f = append(f, "issue_number", i.Magazine.IssueNumber, "publication_month", i.Magazine.PublicationMonth)
	}
	return f
}

// xmlText takes name/value pairs and reports the first value that an XML
// document cannot hold unchanged.
func xmlText(entity, id string, pairs ...string) error {
	for n := 0; n+1 < len(pairs); n += 2 {
		if !isXMLText(pairs[n+1]) {
			return invalidf("%s %q: %s contains characters not allowed in XML", entity, id, pairs[n])
		}
	}
	return nil
}

// isXMLText reports whether s is valid UTF-8 made of XML 1.0 Char runes only.
func isXMLText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

// ------------------ Capabilities ------------------

// BorrowLimit reports the maximum number of concurrent open loans.
func (p Person) BorrowLimit() int { return BorrowLimitFor(p.Kind) }

// IsAvailable reports whether the item can be borrowed right now.
func (i Item) IsAvailable() bool { return i.Available }

// EffectiveStatus derives the read-time status: an open record past its due
// date reads as overdue.
func (r BorrowRecord) EffectiveStatus(today time.Time) RecordStatus {
	if r.Status == StatusBorrowed && r.DueDate.Before(CivilDate(today)) {
		return StatusOverdue
	}
	return r.Status
}

// Open reports whether the record still holds its item.
func (r BorrowRecord) Open() bool { return r.Status == StatusBorrowed }

// ------------------ Copies ------------------

func (p Person) clone() Person {
	if p.Student != nil {
		s := *p.Student
		p.Student = &s
	}
	if p.Teacher != nil {
		t := *p.Teacher
		p.Teacher = &t
	}
	return p
}

func (i Item) clone() Item {
	if i.Book != nil {
		b := *i.Book
		i.Book = &b
	}
	if i.Magazine != nil {
		m := *i.Magazine
		i.Magazine = &m
	}
	return i
}

func (r BorrowRecord) clone() BorrowRecord {
	if r.ReturnDate != nil {
		d := *r.ReturnDate
		r.ReturnDate = &d
	}
	return r
}

// CivilDate truncates t to midnight UTC of its calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dateLayout = "2006-01-02"

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
}
