package teaching

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"classmark/internal/auth"
	"classmark/internal/division"
	"classmark/internal/localstore"
	"classmark/internal/tree"
)

// RefreshInterval is how often the tracker force re-reads the remote context
// to cover missed push notifications.
const RefreshInterval = 30 * time.Second

const snapshotKey = "context"

// guardState makes the drop-while-resetting policy explicit: notifications
// arriving while a reset runs are logged and dropped, never queued.
type guardState int

const (
	guardIdle guardState = iota
	guardResetting
)

// ResetFunc runs on any day/month/year/subject change. Implemented by the
// reconciliation engine: clears recognized-today state, resets presence
// flags, refreshes dependent reads.
type ResetFunc func(ctx context.Context, reason string)

// DivisionChangedFunc runs on a pure division change. Implemented by the
// engine: recompiles the matcher against the new division's records.
type DivisionChangedFunc func(division.Tuple)

// Tracker holds the current teaching context for one device and keeps it in
// sync with the remote tree via watches, a periodic forced re-read, and a
// calendar-rollover fallback when no live remote connection exists.
type Tracker struct {
	role  auth.Role
	store tree.Store // nil when no live remote connection
	cache *localstore.Collection

	mu     sync.Mutex
	cur    Context
	synced bool // true once the first remote context has been observed
	guard  guardState
	sub    tree.Subscription

	onReset    ResetFunc
	onDivision DivisionChangedFunc

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker builds an uninitialized tracker. Call OnReset/OnDivisionChanged
// before Start; handlers are not swappable afterwards.
func NewTracker(role auth.Role, store tree.Store, cache *localstore.Collection) *Tracker {
	return &Tracker{
		role:  role,
		store: store,
		cache: cache,
		cur:   Empty(),
		stop:  make(chan struct{}),
	}
}

// OnReset registers the attendance reset handler.
func (t *Tracker) OnReset(fn ResetFunc) { t.onReset = fn }

// OnDivisionChanged registers the matcher-recompile handler.
func (t *Tracker) OnDivisionChanged(fn DivisionChangedFunc) { t.onDivision = fn }

// Live reports whether a live remote connection exists.
func (t *Tracker) Live() bool { return t.store != nil }

// Start loads the initial context and begins the refresh loops. Students load
// the locally cached snapshot; teacher/admin read the remote tree directly.
func (t *Tracker) Start(ctx context.Context) error {
	if t.role.Student() {
		t.loadSnapshot(ctx)
	}
	if t.store != nil {
		if err := t.Refresh(ctx); err != nil {
			log.Printf("teaching: initial context read failed: %v", err)
		}
		t.attachWatch(ctx)
		go t.refreshLoop(ctx)
	} else {
		go t.rolloverLoop(ctx)
	}
	return nil
}

// Current returns the context as last observed.
func (t *Tracker) Current() Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// SetDivision sets the division tuple locally. Only allowed before the first
// remote context sync; afterwards the remote tree owns every field.
func (t *Tracker) SetDivision(ctx context.Context, div division.Tuple) bool {
	t.mu.Lock()
	if t.synced {
		t.mu.Unlock()
		return false
	}
	next := t.cur
	next.Tuple = div
	t.mu.Unlock()
	t.apply(ctx, next, "local division select")
	return true
}

// ApplyScan applies a scanned session token's context fields. Subject, month,
// year, and day always apply; the division tuple applies only when
// applyDivision is set (never for students, whose division is fixed by their
// account).
func (t *Tracker) ApplyScan(ctx context.Context, div division.Tuple, subject string, month, year, day int, applyDivision bool) {
	t.mu.Lock()
	next := t.cur
	next.Subject = subject
	next.Month = month
	next.Year = year
	next.Day = day
	if applyDivision {
		next.Tuple = div
	}
	t.mu.Unlock()
	t.apply(ctx, next, "session scan")
	if t.role.Student() {
		t.saveSnapshot(ctx)
	}
}

// Refresh force re-reads the remote context and dispatches the same change
// handlers as live watch events. Used at startup and by the periodic backstop.
func (t *Tracker) Refresh(ctx context.Context) error {
	if t.store == nil {
		return tree.ErrUnavailable
	}
	t.mu.Lock()
	tuple := t.cur.Tuple
	base := t.cur
	t.mu.Unlock()
	if !tuple.Complete() {
		return nil
	}
	var rc remoteContext
	ok, err := t.store.Get(ctx, division.ContextPath(tuple), &rc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	t.mu.Lock()
	t.synced = true
	t.mu.Unlock()
	t.apply(ctx, rc.toContext(base), "remote refresh")
	return nil
}

// Close detaches all remote listeners and stops the loops. For the student
// role the cached context is forgotten: division/session binding does not
// survive navigating away.
func (t *Tracker) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	if t.role.Student() && t.cache != nil {
		if err := t.cache.Delete(context.Background(), snapshotKey); err != nil {
			log.Printf("teaching: dropping cached context failed: %v", err)
		}
	}
	return nil
}

// apply installs a new observation and dispatches change handlers. Date or
// subject changes trigger the guarded attendance reset; a division change
// re-attaches the watch and recompiles the matcher, with no reset.
func (t *Tracker) apply(ctx context.Context, next Context, source string) {
	t.mu.Lock()
	ch := Diff(t.cur, next)
	if !ch.Any() {
		t.mu.Unlock()
		return
	}
	t.cur = next
	t.mu.Unlock()

	if ch.Division {
		log.Printf("teaching: division changed to %s (%s)", next.Tuple, source)
		if t.store != nil {
			t.attachWatch(ctx)
		}
		if t.onDivision != nil {
			t.onDivision(next.Tuple)
		}
	}
	if ch.DateOrSubject() {
		t.guardedReset(ctx, source)
	}
}

// guardedReset collapses rapid change notifications into a single reset. A
// notification arriving while a reset is in flight is dropped, not queued.
func (t *Tracker) guardedReset(ctx context.Context, source string) {
	t.mu.Lock()
	if t.guard == guardResetting {
		t.mu.Unlock()
		log.Printf("teaching: context change (%s) ignored, reset already in progress", source)
		return
	}
	t.guard = guardResetting
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.guard = guardIdle
		t.mu.Unlock()
	}()

	log.Printf("teaching: context changed (%s), resetting attendance", source)
	if t.onReset != nil {
		t.onReset(ctx, source)
	}
}

// attachWatch (re)subscribes to the context path for the current division,
// replacing any previous subscription.
func (t *Tracker) attachWatch(ctx context.Context) {
	t.mu.Lock()
	tuple := t.cur.Tuple
	old := t.sub
	t.sub = nil
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	if !tuple.Complete() {
		return
	}
	sub, err := t.store.Watch(ctx, division.ContextPath(tuple), func(evt tree.Event) {
		if evt.Removed {
			return
		}
		var rc remoteContext
		if err := json.Unmarshal(evt.Value, &rc); err != nil {
			log.Printf("teaching: bad context event: %v", err)
			return
		}
		t.mu.Lock()
		t.synced = true
		base := t.cur
		t.mu.Unlock()
		t.apply(ctx, rc.toContext(base), "remote push")
	})
	if err != nil {
		log.Printf("teaching: context watch failed: %v", err)
		return
	}
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
}

// refreshLoop is the periodic forced re-read covering missed pushes.
func (t *Tracker) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				log.Printf("teaching: periodic refresh failed: %v", err)
			}
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// rolloverLoop is the fallback date check used when no live remote connection
// exists: when the real calendar date moves past the tracked one, the date
// fields advance and the usual reset fires.
func (t *Tracker) rolloverLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.rolloverCheck(ctx)
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) rolloverCheck(ctx context.Context) {
	now := time.Now()
	t.mu.Lock()
	cur := t.cur
	t.mu.Unlock()
	if cur.Year == 0 {
		return
	}
	if cur.Day == now.Day() && cur.Month == int(now.Month())-1 && cur.Year == now.Year() {
		return
	}
	next := cur
	next.Day = now.Day()
	next.Month = int(now.Month()) - 1
	next.Year = now.Year()
	t.apply(ctx, next, "calendar rollover")
}

func (t *Tracker) loadSnapshot(ctx context.Context) {
	if t.cache == nil {
		return
	}
	var snap Snapshot
	ok, err := t.cache.Get(ctx, snapshotKey, &snap)
	if err != nil {
		log.Printf("teaching: cached context unreadable: %v", err)
		return
	}
	if !ok {
		return
	}
	if !snap.Fresh(time.Now()) {
		log.Printf("teaching: cached context older than %s, discarding", SnapshotMaxAge)
		_ = t.cache.Delete(ctx, snapshotKey)
		return
	}
	t.mu.Lock()
	t.cur = snap.Context
	t.mu.Unlock()
}

func (t *Tracker) saveSnapshot(ctx context.Context) {
	if t.cache == nil {
		return
	}
	t.mu.Lock()
	snap := Snapshot{Context: t.cur, ScannedAt: time.Now().UTC()}
	t.mu.Unlock()
	if err := t.cache.Put(ctx, snapshotKey, snap); err != nil {
		log.Printf("teaching: caching context failed: %v", err)
	}
}
