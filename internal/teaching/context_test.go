package teaching

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/division"
)

func fullTuple() division.Tuple {
	return division.Tuple{Department: "CS", Course: "BTech", AcademicYear: "2024", Division: "A"}
}

func fullContext() Context {
	return Context{Tuple: fullTuple(), Subject: "Networks", Month: 8, Year: 2026, Day: 12}
}

func TestContextComplete(t *testing.T) {
	assert.True(t, fullContext().Complete())
	assert.False(t, Empty().Complete())

	// Month 0 is January, a legitimate value.
	jan := fullContext()
	jan.Month = 0
	assert.True(t, jan.Complete())

	unset := fullContext()
	unset.Month = -1
	assert.False(t, unset.Complete())

	noSubject := fullContext()
	noSubject.Subject = ""
	assert.False(t, noSubject.Complete())
}

func TestDiff(t *testing.T) {
	base := fullContext()

	assert.False(t, Diff(base, base).Any())

	day := base
	day.Day = 13
	ch := Diff(base, day)
	assert.True(t, ch.Day)
	assert.True(t, ch.DateOrSubject())
	assert.False(t, ch.Division)

	subj := base
	subj.Subject = "DBMS"
	assert.True(t, Diff(base, subj).DateOrSubject())

	div := base
	div.Tuple.Division = "B"
	ch = Diff(base, div)
	assert.True(t, ch.Division)
	assert.False(t, ch.DateOrSubject(), "a pure division change must not look like a date change")
}

func TestSnapshotFresh(t *testing.T) {
	now := time.Now()
	assert.True(t, Snapshot{ScannedAt: now.Add(-time.Hour)}.Fresh(now))
	assert.False(t, Snapshot{ScannedAt: now.Add(-25 * time.Hour)}.Fresh(now))
	assert.False(t, Snapshot{}.Fresh(now), "zero scan time is never fresh")
}

func TestRemoteContextPartialMerge(t *testing.T) {
	base := fullContext()

	// Only the day field present: everything else carries over.
	var rc remoteContext
	require.NoError(t, json.Unmarshal([]byte(`{"day":13}`), &rc))
	got := rc.toContext(base)
	assert.Equal(t, 13, got.Day)
	assert.Equal(t, base.Subject, got.Subject)
	assert.Equal(t, base.Tuple, got.Tuple)

	// An explicit month 0 must apply; it is not an absent field.
	rc = remoteContext{}
	require.NoError(t, json.Unmarshal([]byte(`{"month":0}`), &rc))
	assert.Equal(t, 0, rc.toContext(base).Month)

	// An absent month leaves the base value alone.
	rc = remoteContext{}
	require.NoError(t, json.Unmarshal([]byte(`{"subject":"DBMS"}`), &rc))
	got = rc.toContext(base)
	assert.Equal(t, base.Month, got.Month)
	assert.Equal(t, "DBMS", got.Subject)
}
