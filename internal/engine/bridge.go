package engine

import (
	"context"
	"fmt"

	"classmark/internal/division"
	"classmark/internal/tree"
)

// PushSnapshot unconditionally (re)writes every known person's status for the
// active day into the remote attendance tree. Deliberately idempotent: safe
// to re-run at any time.
func (e *Engine) PushSnapshot(ctx context.Context) error {
	if e.remote == nil {
		return tree.ErrUnavailable
	}
	tctx := e.tracker.Current()
	if !tctx.Tuple.Complete() {
		return division.ErrNotSelected
	}
	if !tctx.Complete() {
		return fmt.Errorf("teaching context incomplete, cannot push snapshot")
	}

	records, err := e.store.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		status := AbsentStatus
		if r.PresentToday {
			status = PresentStatus
		}
		cell := division.AttendancePath(tctx.Tuple, tctx.Year, tctx.Month, tctx.Subject, r.ID, tctx.Day)
		if err := e.remote.Set(ctx, cell, status); err != nil {
			return fmt.Errorf("push %s: %w", r.ID, err)
		}
		namePath := division.NamePath(tctx.Tuple, tctx.Year, tctx.Month, tctx.Subject, r.ID)
		if err := e.remote.Set(ctx, namePath, r.Name); err != nil {
			return fmt.Errorf("push name %s: %w", r.ID, err)
		}
	}
	return nil
}

// PullContext force re-reads the teaching context subtree and dispatches the
// same change handlers as live listeners. Periodic correctness backstop
// against missed push notifications.
func (e *Engine) PullContext(ctx context.Context) error {
	return e.tracker.Refresh(ctx)
}
