// Package teaching tracks the active teaching context: which division,
// subject, and calendar day attendance is being taken against. The context is
// owned by the teacher-facing system; this side only observes and reacts.
package teaching

import (
	"time"

	"classmark/internal/division"
)

// SnapshotMaxAge bounds how long a locally cached context survives before it
// is discarded and ignored.
const SnapshotMaxAge = 24 * time.Hour

// Context is the active teaching context. Month is 0-based; Day is a 1-based
// ordinal, not a calendar date. Month=-1 and Day=0/Year=0 mean unset.
type Context struct {
	division.Tuple
	Subject string `json:"subject"`
	Month   int    `json:"month"`
	Year    int    `json:"year"`
	Day     int    `json:"day"`
}

// Empty returns a context with every field unset.
func Empty() Context {
	return Context{Month: -1}
}

// Complete reports whether all eight fields are usable. Attendance reads and
// writes are only meaningful on a complete context.
func (c Context) Complete() bool {
	return c.Tuple.Complete() && c.Subject != "" && c.Month >= 0 && c.Year > 0 && c.Day > 0
}

// Changes records which context fields differ between two observations.
type Changes struct {
	Day      bool
	Month    bool
	Year     bool
	Subject  bool
	Division bool
}

// DateOrSubject reports whether any reset-triggering field changed.
func (ch Changes) DateOrSubject() bool {
	return ch.Day || ch.Month || ch.Year || ch.Subject
}

// Any reports whether anything changed at all.
func (ch Changes) Any() bool {
	return ch.DateOrSubject() || ch.Division
}

// Diff compares two contexts field by field.
func Diff(old, new Context) Changes {
	return Changes{
		Day:      old.Day != new.Day,
		Month:    old.Month != new.Month,
		Year:     old.Year != new.Year,
		Subject:  old.Subject != new.Subject,
		Division: !old.Tuple.Equal(new.Tuple),
	}
}

// Snapshot is the persisted local cache entry for the student role.
type Snapshot struct {
	Context
	ScannedAt time.Time `json:"scannedAt"`
}

// Fresh reports whether the snapshot is still within its max age.
func (s Snapshot) Fresh(now time.Time) bool {
	return !s.ScannedAt.IsZero() && now.Sub(s.ScannedAt) < SnapshotMaxAge
}

// remoteContext mirrors the context record in the remote tree. Numeric fields
// are pointers so an absent field is distinguishable from zero (month 0 is
// January).
type remoteContext struct {
	Department   string `json:"department"`
	Course       string `json:"course"`
	AcademicYear string `json:"academicYear"`
	Division     string `json:"division"`
	Subject      string `json:"subject"`
	Month        *int   `json:"month"`
	Year         *int   `json:"year"`
	Day          *int   `json:"day"`
}

func (rc remoteContext) toContext(base Context) Context {
	out := base
	if rc.Department != "" {
		out.Tuple = division.Tuple{
			Department:   rc.Department,
			Course:       rc.Course,
			AcademicYear: rc.AcademicYear,
			Division:     rc.Division,
		}
	}
	if rc.Subject != "" {
		out.Subject = rc.Subject
	}
	if rc.Month != nil {
		out.Month = *rc.Month
	}
	if rc.Year != nil {
		out.Year = *rc.Year
	}
	if rc.Day != nil {
		out.Day = *rc.Day
	}
	return out
}
