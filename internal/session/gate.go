package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"classmark/internal/auth"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

// InvalidatedFunc runs when the active session stops being valid. Implemented
// by the recognition loop owner: halt recognition and force a re-scan.
type InvalidatedFunc func(reason string)

// Gate validates scanned session tokens and the student second-factor code,
// and decides whether this device may run recognition.
type Gate struct {
	store   tree.Store // nil when no live remote connection
	tracker *teaching.Tracker
	claims  auth.Claims

	mu          sync.Mutex
	currentID   string
	codeOK      bool
	sub         tree.Subscription
	expiryTimer *time.Timer

	onInvalid InvalidatedFunc
}

// NewGate builds a gate for one authenticated device.
func NewGate(store tree.Store, tracker *teaching.Tracker, claims auth.Claims) *Gate {
	return &Gate{store: store, tracker: tracker, claims: claims}
}

// OnInvalidated registers the recognition-halt handler.
func (g *Gate) OnInvalidated(fn InvalidatedFunc) { g.onInvalid = fn }

// ScanToken validates a scanned payload and, on acceptance, applies its
// context fields and begins watching the session's expiry.
//
// Validity policy: with no live remote connection the scan cannot be
// validated and is rejected (fail closed). If the registry lookup itself
// errors after the connection is confirmed live, the session is provisionally
// accepted (fail open) — an unreachable validation endpoint must not lock out
// attendance once a token was already accepted. Deliberate asymmetry.
func (g *Gate) ScanToken(ctx context.Context, raw []byte) error {
	tok, err := ParseToken(raw)
	if err != nil {
		return err
	}

	// A student's division is fixed by their account; a token for any other
	// division is rejected whole, with no context fields applied.
	if g.claims.Role.Student() && !tok.Tuple.Equal(g.claims.Division) {
		return fmt.Errorf("%w: token is for %s, account is bound to %s",
			ErrWrongDivision, tok.Tuple, g.claims.Division)
	}

	if g.store == nil {
		return fmt.Errorf("%w: cannot validate session token", ErrConnection)
	}

	var reg Registration
	found, err := g.store.Get(ctx, registryPath(tok.QRID), &reg)
	switch {
	case err != nil:
		log.Printf("session: registry lookup for %s failed, accepting provisionally: %v", tok.QRID, err)
		reg = Registration{Token: tok, ExpiresAt: time.Now().UTC().Add(5 * time.Minute)}
	case !found:
		return fmt.Errorf("%w: session %s is not active", ErrSessionInvalid, tok.QRID)
	case !reg.Valid(time.Now()):
		return fmt.Errorf("%w: session %s", ErrSessionExpired, tok.QRID)
	}

	g.tracker.ApplyScan(ctx, tok.Tuple, tok.Subject, tok.Month, tok.Year, tok.Day, !g.claims.Role.Student())

	g.mu.Lock()
	g.currentID = tok.QRID
	g.codeOK = false
	g.mu.Unlock()

	g.watchExpiry(ctx, reg)
	return nil
}

// SubmitCode checks the student second factor against the global current-code
// record. Teacher and admin roles skip this factor entirely.
func (g *Gate) SubmitCode(ctx context.Context, code string) error {
	if !g.claims.Role.Student() {
		return nil
	}
	if g.store == nil {
		return fmt.Errorf("%w: cannot validate code", ErrConnection)
	}
	if len(code) != CodeLength {
		return fmt.Errorf("%w: expected a %d-digit code", ErrCodeMismatch, CodeLength)
	}
	var rec codeRecord
	found, err := g.store.Get(ctx, codePath, &rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if !found || rec.Code == "" {
		return ErrNoCodeActive
	}
	if time.Now().After(rec.ExpiresAt) {
		return ErrCodeExpired
	}
	if rec.Code != code {
		return ErrCodeMismatch
	}
	g.mu.Lock()
	g.codeOK = true
	g.mu.Unlock()
	return nil
}

// Permitted reports whether recognition may run right now: an active session,
// plus the accepted second factor for students.
func (g *Gate) Permitted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentID == "" {
		return false
	}
	if g.claims.Role.Student() && !g.codeOK {
		return false
	}
	return true
}

// SessionID returns the tracked session id, empty when none.
func (g *Gate) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentID
}

// Close detaches the expiry watch without firing the invalidation handler.
func (g *Gate) Close() error {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	timer := g.expiryTimer
	g.expiryTimer = nil
	g.currentID = ""
	g.codeOK = false
	g.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// watchExpiry attaches a continuous watch on the session's backing record and
// an expiry timer. Either the record disappearing or the deadline passing
// invalidates the session immediately.
func (g *Gate) watchExpiry(ctx context.Context, reg Registration) {
	g.mu.Lock()
	if g.sub != nil {
		_ = g.sub.Close()
		g.sub = nil
	}
	if g.expiryTimer != nil {
		g.expiryTimer.Stop()
	}
	g.expiryTimer = time.AfterFunc(time.Until(reg.ExpiresAt), func() {
		g.invalidate(reg.QRID, "session expired")
	})
	g.mu.Unlock()

	sub, err := g.store.Watch(ctx, registryPath(reg.QRID), func(evt tree.Event) {
		if evt.Removed {
			g.invalidate(reg.QRID, "session revoked")
			return
		}
		var updated Registration
		if err := json.Unmarshal(evt.Value, &updated); err != nil {
			return
		}
		if !updated.Valid(time.Now()) {
			g.invalidate(reg.QRID, "session expired")
		}
	})
	if err != nil {
		log.Printf("session: expiry watch for %s failed: %v", reg.QRID, err)
		return
	}
	g.mu.Lock()
	g.sub = sub
	g.mu.Unlock()
}

// invalidate halts recognition when the named session is still the one being
// tracked; a superseded session's late events are ignored.
func (g *Gate) invalidate(qrID, reason string) {
	g.mu.Lock()
	if g.currentID != qrID {
		g.mu.Unlock()
		return
	}
	g.currentID = ""
	g.codeOK = false
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	log.Printf("session: %s invalidated: %s", qrID, reason)
	if g.onInvalid != nil {
		g.onInvalid(reason)
	}
}
