package teaching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/auth"
	"classmark/internal/division"
	"classmark/internal/tree"
)

func TestApplyScanStudentKeepsDivision(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(auth.RoleStudent, nil, nil)
	require.True(t, tr.SetDivision(ctx, fullTuple()))

	other := fullTuple()
	other.Division = "B"
	tr.ApplyScan(ctx, other, "Networks", 8, 2026, 12, false)

	got := tr.Current()
	assert.Equal(t, fullTuple(), got.Tuple, "student division is fixed by the account")
	assert.Equal(t, "Networks", got.Subject)
	assert.Equal(t, 12, got.Day)
}

func TestApplyScanTeacherAdoptsDivision(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(auth.RoleTeacher, nil, nil)

	tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 12, true)

	got := tr.Current()
	assert.Equal(t, fullTuple(), got.Tuple)
	assert.True(t, got.Complete())
}

func TestResetFiresOnDateChangeOnly(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(auth.RoleTeacher, nil, nil)

	var resets, divisions int
	tr.OnReset(func(context.Context, string) { resets++ })
	tr.OnDivisionChanged(func(division.Tuple) { divisions++ })

	tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 12, true)
	assert.Equal(t, 1, resets)
	assert.Equal(t, 1, divisions)

	// Same context again: no change, no handlers.
	tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 12, true)
	assert.Equal(t, 1, resets)
	assert.Equal(t, 1, divisions)

	// Day advances: reset fires, division handler does not.
	tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 13, true)
	assert.Equal(t, 2, resets)
	assert.Equal(t, 1, divisions)
}

func TestGuardDropsChangesDuringReset(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(auth.RoleTeacher, nil, nil)

	var resets int
	tr.OnReset(func(ctx context.Context, reason string) {
		resets++
		if resets == 1 {
			// A change notification landing mid-reset is dropped, not queued.
			tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 20, true)
		}
	})

	tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 12, true)
	assert.Equal(t, 1, resets, "nested change must not trigger a second reset")

	// The dropped change still updated the observed context.
	assert.Equal(t, 20, tr.Current().Day)

	// Once the guard is idle again, the next change resets normally.
	tr.ApplyScan(ctx, fullTuple(), "Networks", 8, 2026, 21, true)
	assert.Equal(t, 2, resets)
}

func TestSetDivisionBlockedAfterSync(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tr := NewTracker(auth.RoleTeacher, store, nil)
	require.True(t, tr.SetDivision(ctx, fullTuple()))

	require.NoError(t, store.Set(ctx, division.ContextPath(fullTuple()), map[string]any{
		"subject": "Networks", "month": 8, "year": 2026, "day": 12,
	}))
	require.NoError(t, tr.Refresh(ctx))
	assert.Equal(t, "Networks", tr.Current().Subject)

	other := fullTuple()
	other.Division = "B"
	assert.False(t, tr.SetDivision(ctx, other), "after the first sync the remote tree owns the context")
}

func TestWatchAppliesRemotePush(t *testing.T) {
	ctx := context.Background()
	store := tree.NewMemory()
	tr := NewTracker(auth.RoleTeacher, store, nil)
	defer tr.Close()

	var resets int
	tr.OnReset(func(context.Context, string) { resets++ })

	require.True(t, tr.SetDivision(ctx, fullTuple()))
	require.NoError(t, tr.Start(ctx))

	require.NoError(t, store.Set(ctx, division.ContextPath(fullTuple()), map[string]any{
		"subject": "DBMS", "month": 2, "year": 2026, "day": 5,
	}))

	got := tr.Current()
	assert.Equal(t, "DBMS", got.Subject)
	assert.Equal(t, 2, got.Month)
	assert.Equal(t, 1, resets)
}

func TestRefreshWithoutStore(t *testing.T) {
	tr := NewTracker(auth.RoleTeacher, nil, nil)
	assert.ErrorIs(t, tr.Refresh(context.Background()), tree.ErrUnavailable)
}
