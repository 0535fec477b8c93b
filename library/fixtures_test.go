package library

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func student(t *testing.T, id string) Person {
	t.Helper()
	p, err := NewStudent(id, "Student "+id, id+"@school.test", "", "S-"+id, "9")
	require.NoError(t, err)
	return p
}

func teacher(t *testing.T, id string) Person {
	t.Helper()
	p, err := NewTeacher(id, "Teacher "+id, id+"@school.test", "555-0100", "T-"+id, "Science")
	require.NoError(t, err)
	return p
}

func book(t *testing.T, id string) Item {
	t.Helper()
	i, err := NewBook(id, "Book "+id, "Author "+id, "", "Fiction", 200, "Penguin")
	require.NoError(t, err)
	return i
}

func magazine(t *testing.T, id string) Item {
	t.Helper()
	i, err := NewMagazine(id, "Magazine "+id, "Editor "+id, "", "7", "July")
	require.NoError(t, err)
	return i
}

// seqIDs returns a deterministic record id generator: prefix-1, prefix-2, ...
func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// populated builds a collection with one student, one teacher, two books and
// a magazine, where the student holds book b1.
func populated(t *testing.T, id LibraryID) *Collection {
	t.Helper()
	c := NewCollection(id, WithIDGenerator(seqIDs(string(id)+"-rec")))
	require.NoError(t, c.AddPerson(student(t, "s1")))
	require.NoError(t, c.AddPerson(teacher(t, "t1")))
	require.NoError(t, c.AddItem(book(t, "b1")))
	require.NoError(t, c.AddItem(book(t, "b2")))
	require.NoError(t, c.AddItem(magazine(t, "m1")))
	_, err := Borrow(c, "s1", "b1", day0)
	require.NoError(t, err)
	return c
}
