package recognition

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/auth"
	"classmark/internal/descriptor"
	"classmark/internal/division"
	"classmark/internal/engine"
	"classmark/internal/faceclient"
	"classmark/internal/session"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

func fullTuple() division.Tuple {
	return division.Tuple{Department: "CS", Course: "BTech", AcademicYear: "2024", Division: "A"}
}

// newLoop wires a full skip-mode pipeline: the mock detection descriptor is
// 0.1-filled, so enrolling the same descriptor makes recognition match.
func newLoop(t *testing.T, scan bool) (*Loop, *session.Gate) {
	t.Helper()
	ctx := context.Background()

	remote := tree.NewMemory()
	store := descriptor.NewRemote(remote, fullTuple)
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)

	claims := auth.Claims{Subject: "t-1", Role: auth.RoleTeacher}
	gate := session.NewGate(remote, tracker, claims)

	eng := engine.New(auth.RoleTeacher, "t-1", store, tracker, nil, nil, nil)

	mock := make([]float64, descriptor.Dim)
	for i := range mock {
		mock[i] = 0.1
	}
	_, err := store.SaveNew(ctx, "101", "Asha", mock, "")
	require.NoError(t, err)

	if scan {
		reg, err := session.Issue(ctx, remote, fullTuple(), "Networks", 8, 2026, 12, time.Hour)
		require.NoError(t, err)
		raw, err := json.Marshal(reg.Token)
		require.NoError(t, err)
		require.NoError(t, gate.ScanToken(ctx, raw))
	}
	require.NoError(t, eng.RebuildMatcher(ctx))

	return NewLoop(faceclient.New("", true), eng, gate, time.Hour), gate
}

func TestStartRefusedWithoutSession(t *testing.T) {
	loop, _ := newLoop(t, false)
	err := loop.Start(context.Background(), NewChannelSource(1))
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.False(t, loop.Running())
}

func TestStartAndStop(t *testing.T) {
	loop, gate := newLoop(t, true)
	defer gate.Close()

	require.NoError(t, loop.Start(context.Background(), NewChannelSource(1)))
	assert.True(t, loop.Running())

	// Starting again is a no-op, not an error.
	require.NoError(t, loop.Start(context.Background(), NewChannelSource(1)))

	loop.Stop()
	assert.False(t, loop.Running())
	loop.Stop() // safe when already stopped
}

func TestProcessFrameMarksEnrolledFace(t *testing.T) {
	loop, gate := newLoop(t, true)
	defer gate.Close()

	results, err := loop.ProcessFrame(context.Background(), []byte("frame"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "101", results[0].ID)
	assert.True(t, results[0].First)
}

func TestProcessFrameRefusedWithoutSession(t *testing.T) {
	loop, _ := newLoop(t, false)
	_, err := loop.ProcessFrame(context.Background(), []byte("frame"))
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestChannelSource(t *testing.T) {
	src := NewChannelSource(1)
	assert.True(t, src.Offer([]byte("a")))
	assert.False(t, src.Offer([]byte("b")), "full buffer drops the frame")

	frame, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), frame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.NextFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
