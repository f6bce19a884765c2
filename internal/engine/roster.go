package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"classmark/internal/descriptor"
	"classmark/internal/division"
	"classmark/internal/metrics"
)

// RosterEntry is one person's reconciled view for the active day.
type RosterEntry struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Division     division.Tuple `json:"division"`
	Present      bool           `json:"present"`
	LastSeenAt   *time.Time     `json:"lastSeenAt,omitempty"`
	PreviewImage string         `json:"previewImage,omitempty"`
}

// Roster derives the displayed presence state: the local store's flags,
// overlaid with the remote per-day cells when a live, fully specified context
// is available. The overlay is read-only; it never writes back into the
// local store.
func (e *Engine) Roster(ctx context.Context) ([]RosterEntry, error) {
	records, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]RosterEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, RosterEntry{
			ID:           r.ID,
			Name:         r.Name,
			Division:     r.Division,
			Present:      r.PresentToday,
			LastSeenAt:   r.LastSeenAt,
			PreviewImage: r.PreviewImage,
		})
	}

	tctx := e.tracker.Current()
	if e.remote != nil && tctx.Complete() {
		prefix := fmt.Sprintf("attendance/%d/%s/months/%s/subjects/%s/attendance",
			tctx.Year, tctx.Tuple.String(), division.MonthKey(tctx.Year, tctx.Month), tctx.Subject)
		cells, err := e.remote.List(ctx, prefix)
		if err != nil {
			// Remote unreachable: the local snapshot stands.
			log.Printf("engine: overlay read failed, using local flags: %v", err)
		} else {
			for i := range entries {
				cell := prefix + "/" + entries[i].ID + "/" + strconv.Itoa(tctx.Day)
				entries[i].Present = truthyPresent(cells[cell])
			}
		}
	}

	present := 0
	for _, en := range entries {
		if en.Present {
			present++
		}
	}
	metrics.PresentToday.Set(float64(present))
	return entries, nil
}

// Stats summarizes the reconciled roster.
func (e *Engine) Stats(ctx context.Context) (descriptor.Stats, error) {
	entries, err := e.Roster(ctx)
	if err != nil {
		return descriptor.Stats{}, err
	}
	s := descriptor.Stats{Total: len(entries)}
	for _, en := range entries {
		if en.Present {
			s.PresentToday++
		}
	}
	s.AbsentToday = s.Total - s.PresentToday
	return s, nil
}

// truthyPresent accepts the encodings that have historically meant present:
// "Present", "present", boolean true, numeric or string 1. No cell means
// absent.
func truthyPresent(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return val == "Present" || val == "present" || val == "1"
	case bool:
		return val
	case float64:
		return val == 1
	}
	return false
}
