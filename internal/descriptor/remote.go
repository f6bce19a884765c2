package descriptor

import (
	"context"
	"encoding/json"
	"log"

	"classmark/internal/division"
	"classmark/internal/tree"
)

// DivisionFunc supplies the active division tuple at call time.
type DivisionFunc func() division.Tuple

// RemoteStore keeps records in the remote tree, tagged with the active
// division. Writes are refused while the division is incomplete.
type RemoteStore struct {
	store tree.Store
	div   DivisionFunc
}

// NewRemote scopes a store onto the remote tree.
func NewRemote(store tree.Store, div DivisionFunc) *RemoteStore {
	return &RemoteStore{store: store, div: div}
}

func studentPath(t division.Tuple, id string) string {
	return "students/" + t.String() + "/" + id
}

func (s *RemoteStore) SaveNew(ctx context.Context, id, name string, d []float64, image string) (Record, error) {
	return s.SaveBulk(ctx, id, name, [][]float64{d}, image)
}

func (s *RemoteStore) SaveBulk(ctx context.Context, id, name string, ds [][]float64, image string) (Record, error) {
	if err := ValidateIdentity(id, name, ds); err != nil {
		return Record{}, err
	}
	t := s.div()
	if err := t.Validate(); err != nil {
		return Record{}, err
	}
	if existing, err := s.GetOne(ctx, id); err != nil {
		return Record{}, err
	} else if existing != nil {
		return Record{}, ErrDuplicateIdentity
	}
	rec := newRecord(id, name, ds, image)
	rec.Division = t
	return rec, s.store.Set(ctx, studentPath(t, id), rec)
}

func (s *RemoteStore) MergeDescriptor(ctx context.Context, id, name string, d []float64, image string) (Record, error) {
	return s.MergeBulk(ctx, id, name, [][]float64{d}, image)
}

func (s *RemoteStore) MergeBulk(ctx context.Context, id, name string, ds [][]float64, image string) (Record, error) {
	if err := ValidateIdentity(id, name, ds); err != nil {
		return Record{}, err
	}
	t := s.div()
	if err := t.Validate(); err != nil {
		return Record{}, err
	}
	existing, err := s.GetOne(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if existing == nil {
		return s.SaveBulk(ctx, id, name, ds, image)
	}
	rec := mergeInto(*existing, name, ds, image)
	rec.Division = t
	return rec, s.store.Set(ctx, studentPath(t, id), rec)
}

func (s *RemoteStore) GetOne(ctx context.Context, id string) (*Record, error) {
	t := s.div()
	if t.Complete() {
		var rec Record
		ok, err := s.store.Get(ctx, studentPath(t, id), &rec)
		if err != nil || !ok {
			return nil, err
		}
		return &rec, nil
	}
	// Division unknown: fall back to scanning every enrolled record.
	records, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (s *RemoteStore) GetAll(ctx context.Context) ([]Record, error) {
	t := s.div()
	prefix := "students"
	if t.Complete() {
		prefix = "students/" + t.String()
	} else {
		log.Printf("descriptor: division incomplete, listing all enrolled records")
	}
	raws, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var records []Record
	for path, raw := range raws {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("descriptor: skipping unreadable record at %s: %v", path, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RemoteStore) Remove(ctx context.Context, id string) error {
	t := s.div()
	if err := t.Validate(); err != nil {
		return err
	}
	return s.store.Remove(ctx, studentPath(t, id))
}

func (s *RemoteStore) ClearAll(ctx context.Context) error {
	t := s.div()
	if err := t.Validate(); err != nil {
		return err
	}
	raws, err := s.store.List(ctx, "students/"+t.String())
	if err != nil {
		return err
	}
	for path := range raws {
		if err := s.store.Remove(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *RemoteStore) MarkPresent(ctx context.Context, id string) (bool, error) {
	t := s.div()
	if err := t.Validate(); err != nil {
		return false, err
	}
	rec, err := s.GetOne(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	markPresent(rec)
	return true, s.store.Set(ctx, studentPath(t, id), rec)
}

func (s *RemoteStore) ResetAllPresence(ctx context.Context, hard bool) error {
	t := s.div()
	if err := t.Validate(); err != nil {
		return err
	}
	records, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		resetPresence(&records[i], hard)
		if err := s.store.Set(ctx, studentPath(t, records[i].ID), records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *RemoteStore) Stats(ctx context.Context) (Stats, error) {
	records, err := s.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	return StatsOf(records), nil
}
