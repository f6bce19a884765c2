package descriptor

import (
	"context"
	"time"
)

// Store is the descriptor store contract. Two backends exist: the device-local
// SQLite store and the remote tree store; the application picks one at startup
// (remote preferred, local on fallback).
type Store interface {
	// SaveNew creates a record with presentToday=false. Fails with
	// ErrDuplicateIdentity when the id already exists.
	SaveNew(ctx context.Context, id, name string, d []float64, image string) (Record, error)
	// MergeDescriptor appends a descriptor to an existing record, keeping the
	// original enrollment timestamp and replacing name and preview image.
	// Falls back to SaveNew when the id is unknown.
	MergeDescriptor(ctx context.Context, id, name string, d []float64, image string) (Record, error)
	// SaveBulk and MergeBulk are the N-descriptor variants used by
	// folder-based imports; the fall-back-to-create rule is identical.
	SaveBulk(ctx context.Context, id, name string, ds [][]float64, image string) (Record, error)
	MergeBulk(ctx context.Context, id, name string, ds [][]float64, image string) (Record, error)

	GetOne(ctx context.Context, id string) (*Record, error)
	GetAll(ctx context.Context) ([]Record, error)
	Remove(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error

	// MarkPresent flips presentToday and stamps lastSeenAt. False when the id
	// is unknown.
	MarkPresent(ctx context.Context, id string) (bool, error)
	// ResetAllPresence clears every presentToday flag; hard also clears
	// lastSeenAt.
	ResetAllPresence(ctx context.Context, hard bool) error

	Stats(ctx context.Context) (Stats, error)
}

// newRecord builds a fresh record shared by both backends.
func newRecord(id, name string, ds [][]float64, image string) Record {
	return Record{
		ID:           id,
		Name:         name,
		Descriptors:  ds,
		PreviewImage: image,
		EnrolledAt:   time.Now().UTC(),
	}
}

// mergeInto applies the merge rules onto an existing record.
func mergeInto(existing Record, name string, ds [][]float64, image string) Record {
	existing.Name = name
	existing.Descriptors = append(existing.Descriptors, ds...)
	if image != "" {
		existing.PreviewImage = image
	}
	return existing
}

// markPresent applies the presence flip in place.
func markPresent(r *Record) {
	now := time.Now().UTC()
	r.PresentToday = true
	r.LastSeenAt = &now
}

// resetPresence clears the flag; hard also drops the last-seen stamp.
func resetPresence(r *Record, hard bool) {
	r.PresentToday = false
	if hard {
		r.LastSeenAt = nil
	}
}
