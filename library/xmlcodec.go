package library

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ---------------------------------------------------------------------------
// Document shape
// ---------------------------------------------------------------------------

type xmlLibrary struct {
	XMLName xml.Name   `xml:"library"`
	ID      string     `xml:"id,attr"`
	Persons xmlPersons `xml:"persons"`
	Items   xmlItems   `xml:"items"`
	Records xmlRecords `xml:"borrow_records"`
}

type xmlPersons struct {
	List []xmlPerson `xml:"person"`
}

type xmlItems struct {
	List []xmlItem `xml:"item"`
}

type xmlRecords struct {
	List []xmlRecord `xml:"record"`
}

type xmlPerson struct {
	Type       string  `xml:"type,attr"`
	ID         string  `xml:"id,attr"`
	Name       string  `xml:"name"`
	Email      string  `xml:"email"`
	Phone      string  `xml:"phone"`
	StudentID  *string `xml:"student_id"`
	GradeLevel *string `xml:"grade_level"`
	TeacherID  *string `xml:"teacher_id"`
	Department *string `xml:"department"`
}

type xmlItem struct {
	Type             string  `xml:"type,attr"`
	ID               string  `xml:"id,attr"`
	Title            string  `xml:"title"`
	Author           string  `xml:"author"`
	ISBN             string  `xml:"isbn"`
	Available        string  `xml:"available"`
	Genre            *string `xml:"genre"`
	Pages            *string `xml:"pages"`
	Publisher        *string `xml:"publisher"`
	IssueNumber      *string `xml:"issue_number"`
	PublicationMonth *string `xml:"publication_month"`
}

type xmlRecord struct {
	ID         string  `xml:"id,attr"`
	PersonID   string  `xml:"person_id,attr"`
	ItemID     string  `xml:"item_id,attr"`
	Status     string  `xml:"status,attr"`
	BorrowDate string  `xml:"borrow_date"`
	DueDate    string  `xml:"due_date"`
	ReturnDate *string `xml:"return_date"`
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

// Encode renders the collection as its canonical XML document. The output
// depends only on the collection contents: same state, same bytes.
func Encode(c *Collection) ([]byte, error) {
	return EncodeContents(c.Contents())
}

// EncodeContents renders a collection snapshot as canonical XML.
func EncodeContents(in Contents) ([]byte, error) {
	doc := xmlLibrary{ID: string(in.Library)}
	doc.Persons.List = make([]xmlPerson, 0, len(in.Persons))
	for _, p := range in.Persons {
		doc.Persons.List = append(doc.Persons.List, personToXML(p))
	}
	doc.Items.List = make([]xmlItem, 0, len(in.Items))
	for _, i := range in.Items {
		doc.Items.List = append(doc.Items.List, itemToXML(i))
	}
	doc.Records.List = make([]xmlRecord, 0, len(in.Records))
	for _, r := range in.Records {
		doc.Records.List = append(doc.Records.List, recordToXML(r))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode library %s: %w", in.Library, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func personToXML(p Person) xmlPerson {
	x := xmlPerson{Type: string(p.Kind), ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone}
	if p.Student != nil {
		x.StudentID = strPtr(p.Student.StudentID)
		x.GradeLevel = strPtr(p.Student.GradeLevel)
	}
	if p.Teacher != nil {
		x.TeacherID = strPtr(p.Teacher.TeacherID)
		x.Department = strPtr(p.Teacher.Department)
	}
	return x
}

func itemToXML(i Item) xmlItem {
	x := xmlItem{
		Type:      string(i.Kind),
		ID:        i.ID,
		Title:     i.Title,
		Author:    i.Author,
		ISBN:      i.ISBN,
		Available: strconv.FormatBool(i.Available),
	}
	if i.Book != nil {
		x.Genre = strPtr(i.Book.Genre)
		x.Pages = strPtr(strconv.Itoa(i.Book.Pages))
		x.Publisher = strPtr(i.Book.Publisher)
	}
	if i.Magazine != nil {
		x.IssueNumber = strPtr(i.Magazine.IssueNumber)
		x.PublicationMonth = strPtr(i.Magazine.PublicationMonth)
	}
	return x
}

func recordToXML(r BorrowRecord) xmlRecord {
	x := xmlRecord{
		ID:         r.ID,
		PersonID:   r.PersonID,
		ItemID:     r.ItemID,
		Status:     string(r.Status),
		BorrowDate: FormatDate(r.BorrowDate),
		DueDate:    FormatDate(r.DueDate),
	}
	if r.ReturnDate != nil {
		x.ReturnDate = strPtr(FormatDate(*r.ReturnDate))
	}
	return x
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

// Decode parses a canonical XML document back into a collection. Structural
// problems yield ErrMalformedXML; entities that fail validation or break a
// collection invariant yield ErrInvalidEntity.
func Decode(data []byte, opts ...Option) (*Collection, error) {
	in, err := DecodeContents(data)
	if err != nil {
		return nil, err
	}
	return FromContents(in, opts...)
}

// DecodeContents parses a document into a snapshot without checking
// collection invariants.
func DecodeContents(data []byte) (Contents, error) {
	var doc xmlLibrary
	if err := xml.Unmarshal(data, &doc); err != nil {
		var unsupported xml.UnmarshalError
		if errors.As(err, &unsupported) && strings.Contains(err.Error(), "expected element type") {
			return Contents{}, malformedf("root element must be <library>: %v", err)
		}
		return Contents{}, malformedf("%v", err)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return Contents{}, malformedf("<library> is missing its id attribute")
	}
	lib, err := ParseLibraryID(doc.ID)
	if err != nil {
		return Contents{}, malformedf("%v", err)
	}

	out := Contents{
		Library: lib,
		Persons: make([]Person, 0, len(doc.Persons.List)),
		Items:   make([]Item, 0, len(doc.Items.List)),
		Records: make([]BorrowRecord, 0, len(doc.Records.List)),
	}
	for n, x := range doc.Persons.List {
		p, err := personFromXML(n, x)
		if err != nil {
			return Contents{}, err
		}
		out.Persons = append(out.Persons, p)
	}
	for n, x := range doc.Items.List {
		i, err := itemFromXML(n, x)
		if err != nil {
			return Contents{}, err
		}
		out.Items = append(out.Items, i)
	}
	for n, x := range doc.Records.List {
		r, err := recordFromXML(n, x)
		if err != nil {
			return Contents{}, err
		}
		out.Records = append(out.Records, r)
	}
	return out, nil
}

func personFromXML(n int, x xmlPerson) (Person, error) {
	if x.ID == "" {
		return Person{}, malformedf("person #%d is missing its id attribute", n+1)
	}
	p := Person{ID: x.ID, Kind: PersonKind(x.Type), Name: x.Name, Email: x.Email, Phone: x.Phone}
	switch p.Kind {
	case KindStudent:
		p.Student = &StudentInfo{StudentID: deref(x.StudentID), GradeLevel: deref(x.GradeLevel)}
	case KindTeacher:
		p.Teacher = &TeacherInfo{TeacherID: deref(x.TeacherID), Department: deref(x.Department)}
	case "":
		return Person{}, malformedf("person %q is missing its type attribute", x.ID)
	default:
		return Person{}, malformedf("person %q has unknown type %q", x.ID, x.Type)
	}
	if err := p.Validate(); err != nil {
		return Person{}, err
	}
	return p, nil
}

func itemFromXML(n int, x xmlItem) (Item, error) {
	if x.ID == "" {
		return Item{}, malformedf("item #%d is missing its id attribute", n+1)
	}
	available, err := strconv.ParseBool(strings.TrimSpace(x.Available))
	if err != nil {
		return Item{}, malformedf("item %q: available must be true or false, got %q", x.ID, x.Available)
	}
	i := Item{ID: x.ID, Kind: ItemKind(x.Type), Title: x.Title, Author: x.Author, ISBN: x.ISBN, Available: available}
	switch i.Kind {
	case KindBook:
		pages := 0
		if s := strings.TrimSpace(deref(x.Pages)); s != "" {
			if pages, err = strconv.Atoi(s); err != nil {
				return Item{}, malformedf("item %q: pages must be an integer, got %q", x.ID, s)
			}
		}
		i.Book = &BookInfo{Genre: deref(x.Genre), Pages: pages, Publisher: deref(x.Publisher)}
	case KindMagazine:
		i.Magazine = &MagazineInfo{IssueNumber: deref(x.IssueNumber), PublicationMonth: deref(x.PublicationMonth)}
	case "":
		return Item{}, malformedf("item %q is missing its type attribute", x.ID)
	default:
		return Item{}, malformedf("item %q has unknown type %q", x.ID, x.Type)
	}
	if err := i.Validate(); err != nil {
		return Item{}, err
	}
	return i, nil
}

func recordFromXML(n int, x xmlRecord) (BorrowRecord, error) {
	if x.ID == "" {
		return BorrowRecord{}, malformedf("record #%d is missing its id attribute", n+1)
	}
	borrowed, err := ParseDate(x.BorrowDate)
	if err != nil {
		return BorrowRecord{}, malformedf("record %q: bad borrow_date %q", x.ID, x.BorrowDate)
	}
	due, err := ParseDate(x.DueDate)
	if err != nil {
		return BorrowRecord{}, malformedf("record %q: bad due_date %q", x.ID, x.DueDate)
	}
	r := BorrowRecord{
		ID:         x.ID,
		PersonID:   x.PersonID,
		ItemID:     x.ItemID,
		Status:     RecordStatus(x.Status),
		BorrowDate: borrowed,
		DueDate:    due,
	}
	if x.ReturnDate != nil && strings.TrimSpace(*x.ReturnDate) != "" {
		d, err := ParseDate(*x.ReturnDate)
		if err != nil {
			return BorrowRecord{}, malformedf("record %q: bad return_date %q", x.ID, *x.ReturnDate)
		}
		r.ReturnDate = &d
	}
	return r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Digest returns the BLAKE2b-256 hex digest of a document.
func Digest(doc []byte) string {
	sum := blake2b.Sum256(doc)
	return hex.EncodeToString(sum[:])
}
