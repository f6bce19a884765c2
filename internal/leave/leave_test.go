package leave

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/auth"
	"classmark/internal/division"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

func newService(t *testing.T) *Service {
	t.Helper()
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)
	tuple := division.Tuple{Department: "CS", Course: "BTech", AcademicYear: "2024", Division: "A"}
	require.True(t, tracker.SetDivision(context.Background(), tuple))
	return NewService(tree.NewMemory(), tracker)
}

func submit(t *testing.T, s *Service) Application {
	t.Helper()
	from := time.Date(2026, time.September, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.September, 12, 0, 0, 0, 0, time.UTC)
	app, err := s.Submit(context.Background(), "101", "Asha", from, to, "fever", "101")
	require.NoError(t, err)
	return app
}

func TestSubmitSpansDaysInclusive(t *testing.T) {
	s := newService(t)
	app := submit(t, s)

	assert.Equal(t, StatusPending, app.Status)
	assert.Equal(t, []int{10, 11, 12}, app.Days)
	assert.NotEmpty(t, app.ID)

	got, err := s.Get(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
}

func TestSubmitValidation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	day := time.Date(2026, time.September, 10, 0, 0, 0, 0, time.UTC)

	_, err := s.Submit(ctx, "", "Asha", day, day, "fever", "101")
	assert.Error(t, err)

	_, err = s.Submit(ctx, "101", "Asha", day, day.AddDate(0, 0, -1), "fever", "101")
	assert.Error(t, err, "toDate before fromDate")

	// Single-day leave is fine.
	app, err := s.Submit(ctx, "101", "Asha", day, day, "fever", "101")
	require.NoError(t, err)
	assert.Equal(t, []int{10}, app.Days)
}

func TestApproveRecordsDecider(t *testing.T) {
	s := newService(t)
	app := submit(t, s)

	got, err := s.Approve(context.Background(), app.ID, "teacher-7")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "teacher-7", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.Empty(t, got.RejectedBy)

	// A decided application cannot be decided again.
	_, err = s.Reject(context.Background(), app.ID, "teacher-7")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestRejectRecordsDecider(t *testing.T) {
	s := newService(t)
	app := submit(t, s)

	got, err := s.Reject(context.Background(), app.ID, "teacher-7")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "teacher-7", got.RejectedBy)
	require.NotNil(t, got.RejectedAt)
	assert.Nil(t, got.ApprovedAt)
}

func TestDeleteOnlyFromTerminalStatus(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	app := submit(t, s)

	err := s.Delete(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNotTerminal)

	_, err = s.Approve(ctx, app.ID, "teacher-7")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, app.ID))

	_, err = s.Get(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByStudent(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	day := time.Date(2026, time.September, 10, 0, 0, 0, 0, time.UTC)

	_, err := s.Submit(ctx, "101", "Asha", day, day, "fever", "101")
	require.NoError(t, err)
	_, err = s.Submit(ctx, "102", "Ravi", day, day, "travel", "102")
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.List(ctx, "101")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "101", mine[0].StudentID)
}

func TestUnavailableWithoutStoreOrDivision(t *testing.T) {
	ctx := context.Background()
	tracker := teaching.NewTracker(auth.RoleTeacher, nil, nil)

	offline := NewService(nil, tracker)
	_, err := offline.List(ctx, "")
	assert.ErrorIs(t, err, tree.ErrUnavailable)

	noDivision := NewService(tree.NewMemory(), tracker)
	_, err = noDivision.Get(ctx, "x")
	assert.ErrorIs(t, err, division.ErrNotSelected)
}
