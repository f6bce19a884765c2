package descriptor

import (
	"context"
	"encoding/json"

	"classmark/internal/localstore"
)

const collection = "people"

// LocalStore keeps records in the device-local embedded store.
type LocalStore struct {
	col *localstore.Collection
}

// NewLocal scopes a store onto the local database.
func NewLocal(db *localstore.DB) *LocalStore {
	return &LocalStore{col: db.Collection(collection)}
}

func (s *LocalStore) SaveNew(ctx context.Context, id, name string, d []float64, image string) (Record, error) {
	return s.SaveBulk(ctx, id, name, [][]float64{d}, image)
}

func (s *LocalStore) SaveBulk(ctx context.Context, id, name string, ds [][]float64, image string) (Record, error) {
	if err := ValidateIdentity(id, name, ds); err != nil {
		return Record{}, err
	}
	if existing, err := s.GetOne(ctx, id); err != nil {
		return Record{}, err
	} else if existing != nil {
		return Record{}, ErrDuplicateIdentity
	}
	rec := newRecord(id, name, ds, image)
	return rec, s.col.Put(ctx, id, rec)
}

func (s *LocalStore) MergeDescriptor(ctx context.Context, id, name string, d []float64, image string) (Record, error) {
	return s.MergeBulk(ctx, id, name, [][]float64{d}, image)
}

func (s *LocalStore) MergeBulk(ctx context.Context, id, name string, ds [][]float64, image string) (Record, error) {
	if err := ValidateIdentity(id, name, ds); err != nil {
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
	return rec, s.col.Put(ctx, id, rec)
}

func (s *LocalStore) GetOne(ctx context.Context, id string) (*Record, error) {
	var rec Record
	ok, err := s.col.Get(ctx, id, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *LocalStore) GetAll(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.col.All(ctx, func(_ string, raw json.RawMessage) error {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

func (s *LocalStore) Remove(ctx context.Context, id string) error {
	return s.col.Delete(ctx, id)
}

func (s *LocalStore) ClearAll(ctx context.Context) error {
	return s.col.Clear(ctx)
}

func (s *LocalStore) MarkPresent(ctx context.Context, id string) (bool, error) {
	rec, err := s.GetOne(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	markPresent(rec)
	return true, s.col.Put(ctx, id, rec)
}

func (s *LocalStore) ResetAllPresence(ctx context.Context, hard bool) error {
	records, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		resetPresence(&records[i], hard)
		if err := s.col.Put(ctx, records[i].ID, records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) Stats(ctx context.Context) (Stats, error) {
	records, err := s.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	return StatsOf(records), nil
}
