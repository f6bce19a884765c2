package division

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotSelected is returned when a write path requires a complete division
// tuple and one or more fields are missing.
var ErrNotSelected = errors.New("division not selected")

// Tuple is the tenancy key partitioning all student and attendance data.
type Tuple struct {
	Department   string `json:"department"`
	Course       string `json:"course"`
	AcademicYear string `json:"academicYear"`
	Division     string `json:"division"`
}

// Complete reports whether all four fields are set.
func (t Tuple) Complete() bool {
	return t.Department != "" && t.Course != "" && t.AcademicYear != "" && t.Division != ""
}

// Equal compares all four fields.
func (t Tuple) Equal(o Tuple) bool {
	return t.Department == o.Department &&
		t.Course == o.Course &&
		t.AcademicYear == o.AcademicYear &&
		t.Division == o.Division
}

// Segments returns the tuple as ordered path segments.
func (t Tuple) Segments() []string {
	return []string{t.Department, t.Course, t.AcademicYear, t.Division}
}

func (t Tuple) String() string {
	return strings.Join(t.Segments(), "/")
}

// Validate returns ErrNotSelected when the tuple is incomplete.
func (t Tuple) Validate() error {
	if !t.Complete() {
		return ErrNotSelected
	}
	return nil
}

// ContextPath is the remote tree path holding the teaching context for a division.
func ContextPath(t Tuple) string {
	return "context/" + t.String()
}

// LeavePath addresses the leave applications subtree for a division.
func LeavePath(t Tuple) string {
	return "leaves/" + t.String()
}

// AttendancePath addresses a single day cell for one student.
// Layout: attendance/{year}/{division tuple}/months/{YYYY-M}/subjects/{subject}/attendance/{studentId}/{day}
func AttendancePath(t Tuple, year, month int, subject, studentID string, day int) string {
	return fmt.Sprintf("attendance/%d/%s/months/%s/subjects/%s/attendance/%s/%d",
		year, t.String(), MonthKey(year, month), subject, studentID, day)
}

// StudentSubtreePath addresses all day cells for one student in one subject-month.
func StudentSubtreePath(t Tuple, year, month int, subject, studentID string) string {
	return fmt.Sprintf("attendance/%d/%s/months/%s/subjects/%s/attendance/%s",
		year, t.String(), MonthKey(year, month), subject, studentID)
}

// NamePath addresses the _name convenience field for one student.
func NamePath(t Tuple, year, month int, subject, studentID string) string {
	return StudentSubtreePath(t, year, month, subject, studentID) + "/_name"
}

// MonthKey renders the month segment. Months are 0-based in the teaching
// context but the key uses the human 1-based month.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%d-%d", year, month+1)
}
