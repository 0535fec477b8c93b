package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"library-sync/config"
	"library-sync/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// render writes v as JSON or YAML, or calls table with a tabwriter.
func (a *App) render(v any, table func(tw *tabwriter.Writer)) error {
	switch a.cfg.Output {
	case config.OutputJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, string(b))
		return err
	case config.OutputYAML:
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

// message prints a success line in table mode and {"message": ...} otherwise.
func (a *App) message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if a.cfg.Output == config.OutputTable {
		_, err := fmt.Fprintln(a.out, msg)
		return err
	}
	return a.render(map[string]string{"message": msg}, nil)
}

// columnWidth is the widest a free-text column gets: a quarter of the
// terminal, or 30 when the output is not a terminal.
func columnWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width/4 > 10 {
			return width / 4
		}
	}
	return 30
}

// truncateString shortens s to at most maxLen runes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// ------------------ Tables ------------------

func (a *App) personTable(persons []library.Person) func(*tabwriter.Writer) {
	w := columnWidth(a.out)
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tTYPE\tNAME\tEMAIL\tPHONE\tDETAILS")
		for _, p := range persons {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				p.ID, p.Kind, truncateString(p.Name, w), truncateString(p.Email, w), p.Phone, personDetails(p))
		}
	}
}

func personDetails(p library.Person) string {
	switch {
	case p.Student != nil:
		return fmt.Sprintf("student %s, grade %s", p.Student.StudentID, p.Student.GradeLevel)
	case p.Teacher != nil:
		return fmt.Sprintf("teacher %s, %s", p.Teacher.TeacherID, p.Teacher.Department)
	}
	return ""
}

func (a *App) itemTable(items []library.Item) func(*tabwriter.Writer) {
	w := columnWidth(a.out)
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tAUTHOR\tAVAILABLE\tDETAILS")
		for _, i := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				i.ID, i.Kind, truncateString(i.Title, w), truncateString(i.Author, w), yesNo(i.Available), itemDetails(i))
		}
	}
}

func itemDetails(i library.Item) string {
	switch {
	case i.Book != nil:
		parts := []string{}
		if i.Book.Genre != "" {
			parts = append(parts, i.Book.Genre)
		}
		if i.Book.Pages > 0 {
			parts = append(parts, strconv.Itoa(i.Book.Pages)+" pages")
		}
		if i.Book.Publisher != "" {
			parts = append(parts, i.Book.Publisher)
		}
		return strings.Join(parts, ", ")
	case i.Magazine != nil:
		return strings.TrimSpace("issue " + i.Magazine.IssueNumber + " " + i.Magazine.PublicationMonth)
	}
	return ""
}

// recordView is a borrow record with its status as of today.
type recordView struct {
	library.BorrowRecord `yaml:",inline"`
	Effective            library.RecordStatus `json:"effective_status" yaml:"effective_status"`
}

func (a *App) recordViews(records []library.BorrowRecord) []recordView {
	today := library.CivilDate(a.now())
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, recordView{BorrowRecord: r, Effective: r.EffectiveStatus(today)})
	}
	return out
}

func recordTable(views []recordView) func(*tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tPERSON\tITEM\tBORROWED\tDUE\tRETURNED\tSTATUS")
		for _, r := range views {
			returned := "-"
			if r.ReturnDate != nil {
				returned = library.FormatDate(*r.ReturnDate)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.PersonID, r.ItemID, library.FormatDate(r.BorrowDate), library.FormatDate(r.DueDate), returned, r.Effective)
		}
	}
}
