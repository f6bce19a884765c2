package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/auth"
	"classmark/internal/division"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

func fullTuple() division.Tuple {
	return division.Tuple{Department: "CS", Course: "BTech", AcademicYear: "2024", Division: "A"}
}

func teacherClaims() auth.Claims {
	return auth.Claims{Subject: "t-1", Role: auth.RoleTeacher}
}

func studentClaims() auth.Claims {
	return auth.Claims{Subject: "s-1", Role: auth.RoleStudent, Division: fullTuple()}
}

func tokenBytes(t *testing.T, tok Token) []byte {
	t.Helper()
	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	return raw
}

// failingStore confirms healthy but errors every read, standing in for a live
// connection whose validation endpoint is unreachable.
type failingStore struct {
	*tree.Memory
}

func (failingStore) Get(ctx context.Context, path string, out any) (bool, error) {
	return false, errors.New("registry unreachable")
}

func TestParseTokenRequiresSessionID(t *testing.T) {
	_, err := ParseToken([]byte(`{"subject":"Networks"}`))
	assert.ErrorIs(t, err, ErrSessionInvalid)

	_, err = ParseToken([]byte(`not json`))
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestScanFailsClosedWithoutConnection(t *testing.T) {
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)
	g := NewGate(nil, tracker, teacherClaims())

	tok := Token{QRID: "q-1", Tuple: fullTuple(), Subject: "Networks", Month: 8, Year: 2026, Day: 12}
	err := g.ScanToken(context.Background(), tokenBytes(t, tok))
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, g.Permitted())
}

func TestScanRejectsWrongDivisionBeforeAnythingApplies(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tracker := teaching.NewTracker(auth.RoleStudent, nil, nil)
	g := NewGate(store, tracker, studentClaims())

	other := fullTuple()
	other.Division = "B"
	tok := Token{QRID: "q-1", Tuple: other, Subject: "Networks", Month: 8, Year: 2026, Day: 12}

	err := g.ScanToken(ctx, tokenBytes(t, tok))
	assert.ErrorIs(t, err, ErrWrongDivision)
	assert.Empty(t, tracker.Current().Subject, "a rejected token must not leak context fields")
	assert.Empty(t, g.SessionID())
}

func TestScanUnknownAndExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)
	g := NewGate(store, tracker, teacherClaims())

	tok := Token{QRID: "q-unknown", Tuple: fullTuple(), Subject: "Networks", Month: 8, Year: 2026, Day: 12}
	err := g.ScanToken(ctx, tokenBytes(t, tok))
	assert.ErrorIs(t, err, ErrSessionInvalid)

	expired := Registration{Token: Token{QRID: "q-old"}, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Set(ctx, registryPath("q-old"), expired))
	tok.QRID = "q-old"
	err = g.ScanToken(ctx, tokenBytes(t, tok))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestScanAcceptsIssuedSession(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)
	g := NewGate(store, tracker, teacherClaims())
	defer g.Close()

	reg, err := Issue(ctx, store, fullTuple(), "Networks", 8, 2026, 12, time.Hour)
	require.NoError(t, err)

	require.NoError(t, g.ScanToken(ctx, tokenBytes(t, reg.Token)))
	assert.Equal(t, reg.QRID, g.SessionID())
	assert.True(t, g.Permitted(), "teacher needs no second factor")

	got := tracker.Current()
	assert.Equal(t, "Networks", got.Subject)
	assert.Equal(t, fullTuple(), got.Tuple)
}

func TestScanFailsOpenOnLookupError(t *testing.T) {
	ctx := context.Background()
	store := failingStore{tree.NewMemory()}
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)
	g := NewGate(store, tracker, teacherClaims())
	defer g.Close()

	tok := Token{QRID: "q-1", Tuple: fullTuple(), Subject: "Networks", Month: 8, Year: 2026, Day: 12}
	require.NoError(t, g.ScanToken(ctx, tokenBytes(t, tok)),
		"a lookup error on a live connection accepts provisionally")
	assert.True(t, g.Permitted())
}

func TestStudentCodeFlow(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tracker := teaching.NewTracker(auth.RoleStudent, nil, nil)
	require.True(t, tracker.SetDivision(ctx, fullTuple()))
	g := NewGate(store, tracker, studentClaims())
	defer g.Close()

	reg, err := Issue(ctx, store, fullTuple(), "Networks", 8, 2026, 12, time.Hour)
	require.NoError(t, err)
	require.NoError(t, g.ScanToken(ctx, tokenBytes(t, reg.Token)))
	assert.False(t, g.Permitted(), "student is not permitted before the code")

	// No code published yet.
	assert.ErrorIs(t, g.SubmitCode(ctx, "1234"), ErrNoCodeActive)

	code, err := IssueCode(ctx, store, time.Hour)
	require.NoError(t, err)
	require.Len(t, code, CodeLength)

	assert.ErrorIs(t, g.SubmitCode(ctx, "12"), ErrCodeMismatch)
	wrong := "0000"
	if wrong == code {
		wrong = "9999"
	}
	assert.ErrorIs(t, g.SubmitCode(ctx, wrong), ErrCodeMismatch)
	assert.False(t, g.Permitted())

	require.NoError(t, g.SubmitCode(ctx, code))
	assert.True(t, g.Permitted())
}

func TestExpiredCode(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tracker := teaching.NewTracker(auth.RoleStudent, nil, nil)
	g := NewGate(store, tracker, studentClaims())

	require.NoError(t, store.Set(ctx, codePath, codeRecord{Code: "1234", ExpiresAt: time.Now().Add(-time.Minute)}))
	assert.ErrorIs(t, g.SubmitCode(ctx, "1234"), ErrCodeExpired)
}

func TestRevokedSessionInvalidates(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)
	g := NewGate(store, tracker, teacherClaims())
	defer g.Close()

	var reasons []string
	g.OnInvalidated(func(reason string) { reasons = append(reasons, reason) })

	reg, err := Issue(ctx, store, fullTuple(), "Networks", 8, 2026, 12, time.Hour)
	require.NoError(t, err)
	require.NoError(t, g.ScanToken(ctx, tokenBytes(t, reg.Token)))
	require.True(t, g.Permitted())

	require.NoError(t, store.Remove(ctx, registryPath(reg.QRID)))

	assert.False(t, g.Permitted())
	require.Len(t, reasons, 1)
	assert.Equal(t, "session revoked", reasons[0])
}

func TestIssueRequiresCompleteDivision(t *testing.T) {
	_, err := Issue(context.Background(), tree.NewMemory(), division.Tuple{Department: "CS"}, "Networks", 8, 2026, 12, time.Hour)
	assert.ErrorIs(t, err, division.ErrNotSelected)

	_, err = Issue(context.Background(), nil, fullTuple(), "Networks", 8, 2026, 12, time.Hour)
	assert.ErrorIs(t, err, ErrConnection)
}
