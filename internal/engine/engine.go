// Package engine is the attendance reconciliation core. It combines the
// descriptor store, the teaching context, and the remote attendance tree to
// decide who is present today, and it is the only component allowed to call
// MarkPresent or ResetAllPresence.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"classmark/internal/auth"
	"classmark/internal/descriptor"
	"classmark/internal/division"
	"classmark/internal/history"
	"classmark/internal/metrics"
	"classmark/internal/queue"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

const (
	// Cooldown suppresses repeated marks from consecutive detections of the
	// same person.
	Cooldown = 3 * time.Second
	// PushTimeout bounds the best-effort remote push; after it the push is
	// abandoned without surfacing an error.
	PushTimeout = 5 * time.Second
)

// PresentStatus is the canonical value written into a remote day cell.
const PresentStatus = "Present"

// AbsentStatus is written by full snapshot pushes for people not present.
const AbsentStatus = "Absent"

// FirstMarkFunc runs once per person per context when their first mark of the
// day is accepted: surface a confirmation, refresh the visible roster.
type FirstMarkFunc func(rec descriptor.Record)

// MarkResult reports what one recognition event did.
type MarkResult struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Distance   float64 `json:"distance"`
	First      bool    `json:"first"`
	Suppressed bool    `json:"suppressed"`
}

// Engine coordinates reconciliation for one device.
type Engine struct {
	role    auth.Role
	subject string // account subject, recorded in the audit log
	store   descriptor.Store
	tracker *teaching.Tracker
	remote  tree.Store          // nil when local-only
	pushes  queue.Queue         // nil to push directly
	hist    *history.Repository // nil when no audit database

	mu         sync.Mutex
	cooldowns  map[string]time.Time
	recognized map[string]bool
	matcher    *descriptor.Matcher

	onFirstMark FirstMarkFunc
	now         func() time.Time
}

// New builds an engine. remote, pushes, and hist may each be nil; everything
// that touches them is best-effort.
func New(role auth.Role, subject string, store descriptor.Store, tracker *teaching.Tracker, remote tree.Store, pushes queue.Queue, hist *history.Repository) *Engine {
	return &Engine{
		role:       role,
		subject:    subject,
		store:      store,
		tracker:    tracker,
		remote:     remote,
		pushes:     pushes,
		hist:       hist,
		cooldowns:  make(map[string]time.Time),
		recognized: make(map[string]bool),
		now:        time.Now,
	}
}

// OnFirstMark registers the one-time confirmation handler.
func (e *Engine) OnFirstMark(fn FirstMarkFunc) { e.onFirstMark = fn }

// Matcher returns the currently compiled matcher; nil before the first build.
func (e *Engine) Matcher() *descriptor.Matcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher
}

// RebuildMatcher recompiles the nearest-descriptor classifier against the
// active division's records. Called at startup, after enrollment changes, and
// on division changes.
func (e *Engine) RebuildMatcher(ctx context.Context) error {
	records, err := e.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("rebuild matcher: %w", err)
	}
	entries := descriptor.LabeledDescriptors(records, e.tracker.Current().Tuple)
	m := descriptor.NewMatcher(entries)
	e.mu.Lock()
	e.matcher = m
	e.mu.Unlock()
	log.Printf("engine: matcher compiled from %d people", len(entries))
	return nil
}

// DivisionChanged is the tracker's division-change hook: recompile only, no
// attendance reset.
func (e *Engine) DivisionChanged(division.Tuple) {
	if err := e.RebuildMatcher(context.Background()); err != nil {
		log.Printf("engine: matcher rebuild after division change failed: %v", err)
	}
}

// Recognize matches one descriptor and, when it resolves to an enrolled
// person, runs the mark pipeline. A nil result means the face stayed unknown.
func (e *Engine) Recognize(ctx context.Context, d []float64) (*MarkResult, error) {
	m := e.Matcher()
	match := m.BestMatch(d)
	if match == nil {
		metrics.FacesUnknown.Inc()
		return nil, nil
	}
	metrics.FacesMatched.Inc()
	res, err := e.HandleMatch(ctx, *match)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// HandleMatch runs the reconciliation pipeline for one matched face.
func (e *Engine) HandleMatch(ctx context.Context, match descriptor.Match) (MarkResult, error) {
	tctx := e.tracker.Current()
	if err := e.validateTarget(tctx); err != nil {
		return MarkResult{}, err
	}

	res := MarkResult{ID: match.ID, Name: match.Name, Distance: match.Distance}

	e.mu.Lock()
	if until, ok := e.cooldowns[match.ID]; ok && e.now().Before(until) {
		e.mu.Unlock()
		res.Suppressed = true
		return res, nil
	}
	e.cooldowns[match.ID] = e.now().Add(Cooldown)
	e.mu.Unlock()

	ok, err := e.store.MarkPresent(ctx, match.ID)
	if err != nil {
		return MarkResult{}, fmt.Errorf("mark present: %w", err)
	}
	if !ok {
		return MarkResult{}, fmt.Errorf("%w: %s", descriptor.ErrUnknownIdentity, match.ID)
	}
	metrics.MarksAccepted.Inc()

	e.mu.Lock()
	res.First = !e.recognized[match.ID]
	e.recognized[match.ID] = true
	e.mu.Unlock()

	// Remote sync and audit are best-effort: the local mark already
	// succeeded and the next full reconciliation read corrects drift.
	e.pushMark(ctx, tctx, match)
	e.auditMark(ctx, tctx, match)

	if res.First && e.onFirstMark != nil {
		if rec, err := e.store.GetOne(ctx, match.ID); err == nil && rec != nil {
			e.onFirstMark(*rec)
		}
	}
	return res, nil
}

// ResetAttendance is the tracker's context-change hook: clear the
// recognized-today set and cooldowns, then wipe every presence flag.
func (e *Engine) ResetAttendance(ctx context.Context, reason string) {
	e.mu.Lock()
	e.recognized = make(map[string]bool)
	e.cooldowns = make(map[string]time.Time)
	e.mu.Unlock()
	if err := e.store.ResetAllPresence(ctx, false); err != nil {
		log.Printf("engine: presence reset (%s) failed: %v", reason, err)
		return
	}
	metrics.ContextResets.Inc()
	metrics.PresentToday.Set(0)
}

// validateTarget enforces the student date lockout: students may view other
// dates but can only mark attendance against the real current calendar date.
func (e *Engine) validateTarget(tctx teaching.Context) error {
	if !tctx.Complete() {
		if !tctx.Tuple.Complete() {
			return division.ErrNotSelected
		}
		return fmt.Errorf("teaching context incomplete, cannot mark attendance")
	}
	if e.role.Student() {
		now := e.now()
		if tctx.Day != now.Day() || tctx.Month != int(now.Month())-1 || tctx.Year != now.Year() {
			return fmt.Errorf("students can only mark attendance for today (%d-%d-%d), the active context shows %d-%d-%d",
				now.Year(), int(now.Month()), now.Day(), tctx.Year, tctx.Month+1, tctx.Day)
		}
	}
	return nil
}

// pushMark sends the Present cell toward the remote tree: through the queue
// when one is configured, otherwise directly with a bounded timeout. Failures
// are logged and swallowed.
func (e *Engine) pushMark(ctx context.Context, tctx teaching.Context, match descriptor.Match) {
	cell := division.AttendancePath(tctx.Tuple, tctx.Year, tctx.Month, tctx.Subject, match.ID, tctx.Day)
	namePath := division.NamePath(tctx.Tuple, tctx.Year, tctx.Month, tctx.Subject, match.ID)

	if e.pushes != nil {
		msg, err := queue.NewMarkMessage(queue.MarkJob{
			CellPath:    cell,
			NamePath:    namePath,
			StudentID:   match.ID,
			StudentName: match.Name,
			Status:      PresentStatus,
		})
		if err == nil {
			err = e.pushes.Publish(ctx, msg)
		}
		if err != nil {
			metrics.PushFailures.Inc()
			log.Printf("engine: queueing mark for %s failed: %v", match.ID, err)
		}
		return
	}

	if e.remote == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, PushTimeout)
	defer cancel()
	if err := e.remote.Set(pushCtx, cell, PresentStatus); err != nil {
		metrics.PushFailures.Inc()
		log.Printf("engine: remote push for %s abandoned: %v", match.ID, err)
		return
	}
	if err := e.remote.Set(pushCtx, namePath, match.Name); err != nil {
		log.Printf("engine: name write for %s failed: %v", match.ID, err)
	}
}

// auditMark records the accepted mark in the history database, best-effort.
func (e *Engine) auditMark(ctx context.Context, tctx teaching.Context, match descriptor.Match) {
	if e.hist == nil {
		return
	}
	dist := match.Distance
	_, err := e.hist.Insert(ctx, history.Event{
		StudentID:   match.ID,
		StudentName: match.Name,
		Division:    tctx.Tuple.String(),
		Subject:     tctx.Subject,
		Year:        tctx.Year,
		Month:       tctx.Month,
		Day:         tctx.Day,
		Distance:    &dist,
		MarkedBy:    e.subject,
	})
	if err != nil {
		log.Printf("engine: audit insert for %s failed: %v", match.ID, err)
	}
}
