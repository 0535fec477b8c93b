package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-sync/config"
	"library-sync/library"
)

type personFlags struct {
	id, kind, name, email, phone string
	studentID, grade             string
	teacherID, department        string
}

func (f *personFlags) register(cmd *cobra.Command, withID bool) {
	fs := cmd.Flags()
	if withID {
		fs.StringVar(&f.id, "id", "", "person id (generated when empty)")
		fs.StringVarP(&f.kind, "type", "t", "", "person type (student or teacher)")
	}
	fs.StringVar(&f.name, "name", "", "full name")
	fs.StringVar(&f.email, "email", "", "email address")
	fs.StringVar(&f.phone, "phone", "", "phone number")
	fs.StringVar(&f.studentID, "student-id", "", "student number (students)")
	fs.StringVar(&f.grade, "grade", "", "grade level (students)")
	fs.StringVar(&f.teacherID, "teacher-id", "", "staff number (teachers)")
	fs.StringVar(&f.department, "department", "", "department (teachers)")
}

func (f *personFlags) build() (library.Person, error) {
	switch library.PersonKind(strings.ToLower(f.kind)) {
	case library.KindStudent:
		return library.NewStudent(f.id, f.name, f.email, f.phone, f.studentID, f.grade)
	case library.KindTeacher:
		return library.NewTeacher(f.id, f.name, f.email, f.phone, f.teacherID, f.department)
	default:
		return library.Person{}, fmt.Errorf("--type must be student or teacher, got %q", f.kind)
	}
}

// apply overwrites the fields of p whose flags were given.
func (f *personFlags) apply(cmd *cobra.Command, p library.Person) library.Person {
	set := func(flag string, dst *string, v string) {
		if cmd.Flags().Changed(flag) {
			*dst = strings.TrimSpace(v)
		}
	}
	set("name", &p.Name, f.name)
	set("email", &p.Email, f.email)
	set("phone", &p.Phone, f.phone)
	if p.Student != nil {
		set("student-id", &p.Student.StudentID, f.studentID)
		set("grade", &p.Student.GradeLevel, f.grade)
	}
	if p.Teacher != nil {
		set("teacher-id", &p.Teacher.TeacherID, f.teacherID)
		set("department", &p.Teacher.Department, f.department)
	}
	return p
}

func newPersonCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "person",
		Aliases: []string{"persons", "p"},
		Short:   "Manage students and teachers",
	}

	var add personFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a student or teacher",
		Example: `  libsync person add --type student --name "Ann Lee" --email ann@example.com --student-id S-17 --grade 10
  libsync person add --type teacher --name "Bo Chen" --email bo@example.com --teacher-id T-3 --department Physics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			p, err := add.build()
			if err != nil {
				return err
			}
			if err := app.manager.AddPerson(cmd.Context(), lib, p); err != nil {
				return err
			}
			return app.render(p, app.personTable([]library.Person{p}))
		},
	}
	add.register(addCmd, true)
	_ = addCmd.MarkFlagRequired("type")

	var upd personFlags
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a person's details (the type is fixed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			p, err := app.manager.GetPerson(cmd.Context(), lib, args[0])
			if err != nil {
				return err
			}
			p = upd.apply(cmd, p)
			if err := app.manager.UpdatePerson(cmd.Context(), lib, p); err != nil {
				return err
			}
			return app.render(p, app.personTable([]library.Person{p}))
		},
	}
	upd.register(updateCmd, false)

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			p, err := app.manager.GetPerson(cmd.Context(), lib, args[0])
			if err != nil {
				return err
			}
			return app.render(p, app.personTable([]library.Person{p}))
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List persons in registration order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			persons, err := app.manager.ListPersons(cmd.Context(), lib)
			if err != nil {
				return err
			}
			if len(persons) == 0 && app.cfg.Output == config.OutputTable {
				return app.message("No persons in library %s.", lib)
			}
			return app.render(persons, app.personTable(persons))
		},
	}

	removeCmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a person without open loans",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.libraryID()
			if err != nil {
				return err
			}
			if err := app.manager.RemovePerson(cmd.Context(), lib, args[0]); err != nil {
				return err
			}
			return app.message("Removed person %s from library %s", args[0], lib)
		},
	}

	cmd.AddCommand(addCmd, updateCmd, getCmd, listCmd, removeCmd)
	return cmd
}
