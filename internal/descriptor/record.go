// Package descriptor persists enrolled people and their face descriptors and
// builds the nearest-descriptor matcher used during recognition.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"classmark/internal/division"
)

// Dim is the fixed descriptor length. Enrollment and recognition must agree
// on it or distances are meaningless.
const Dim = 128

var (
	// ErrDuplicateIdentity is returned by SaveNew when the id already exists.
	ErrDuplicateIdentity = errors.New("identity already enrolled")
	// ErrUnknownIdentity is returned when an id has no record.
	ErrUnknownIdentity = errors.New("unknown identity")
)

// Record is one enrolled person.
type Record struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Descriptors  [][]float64    `json:"descriptors"`
	PreviewImage string         `json:"previewImage,omitempty"`
	EnrolledAt   time.Time      `json:"enrolledAt"`
	PresentToday bool           `json:"presentToday"`
	LastSeenAt   *time.Time     `json:"lastSeenAt,omitempty"`
	Division     division.Tuple `json:"division"`
}

// recordJSON carries the legacy single-descriptor field alongside the list so
// old records upgrade transparently on read.
type recordJSON struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Descriptors  [][]float64    `json:"descriptors"`
	Descriptor   []float64      `json:"descriptor,omitempty"`
	PreviewImage string         `json:"previewImage,omitempty"`
	EnrolledAt   time.Time      `json:"enrolledAt"`
	PresentToday bool           `json:"presentToday"`
	LastSeenAt   *time.Time     `json:"lastSeenAt,omitempty"`
	Division     division.Tuple `json:"division"`
}

// UnmarshalJSON upgrades legacy records that stored one bare descriptor.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		ID:           raw.ID,
		Name:         raw.Name,
		Descriptors:  raw.Descriptors,
		PreviewImage: raw.PreviewImage,
		EnrolledAt:   raw.EnrolledAt,
		PresentToday: raw.PresentToday,
		LastSeenAt:   raw.LastSeenAt,
		Division:     raw.Division,
	}
	if len(r.Descriptors) == 0 && len(raw.Descriptor) > 0 {
		r.Descriptors = [][]float64{raw.Descriptor}
	}
	return nil
}

// Label packs id and name for the matcher. The pipe is the separator, which
// is why ValidateIdentity rejects it in either part.
func (r Record) Label() string {
	return r.ID + "|" + r.Name
}

// SplitLabel recovers id and name from a matcher label.
func SplitLabel(label string) (id, name string) {
	id, name, _ = strings.Cut(label, "|")
	return id, name
}

// ValidateIdentity rejects empty parts, the label separator, and descriptors
// of the wrong dimension.
func ValidateIdentity(id, name string, descriptors [][]float64) error {
	if id == "" || name == "" {
		return errors.New("id and name required")
	}
	if strings.Contains(id, "|") || strings.Contains(name, "|") {
		return errors.New("id and name must not contain '|'")
	}
	if len(descriptors) == 0 {
		return errors.New("at least one descriptor required")
	}
	for _, d := range descriptors {
		if len(d) != Dim {
			return fmt.Errorf("descriptor must have %d components, got %d", Dim, len(d))
		}
	}
	return nil
}

// Stats summarizes today's roster.
type Stats struct {
	Total        int `json:"total"`
	PresentToday int `json:"presentToday"`
	AbsentToday  int `json:"absentToday"`
}

// StatsOf computes roster stats from a record slice.
func StatsOf(records []Record) Stats {
	s := Stats{Total: len(records)}
	for _, r := range records {
		if r.PresentToday {
			s.PresentToday++
		}
	}
	s.AbsentToday = s.Total - s.PresentToday
	return s
}
