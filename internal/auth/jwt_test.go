package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmark/internal/division"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "classmark-test"
)

func TestIssueParseRoundTrip(t *testing.T) {
	div := division.Tuple{Department: "CS", Course: "BTech", AcademicYear: "2024", Division: "A"}

	pair, err := Issue("s-1", "Asha", "asha@example.edu", RoleStudent, div, testIssuer, testKey, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "s-1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.Equal(t, div, claims.Division, "a student's division rides in the token")
	assert.True(t, claims.Role.Student())
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("t-1", "T", "t@example.edu", RoleTeacher, division.Tuple{}, testIssuer, testKey, time.Hour, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("t-1", "T", "t@example.edu", RoleTeacher, division.Tuple{}, "someone-else", testKey, time.Hour, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	pair, err := Issue("t-1", "T", "t@example.edu", RoleTeacher, division.Tuple{}, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	pair, err := Issue("x-1", "X", "x@example.edu", Role("superuser"), division.Tuple{}, testIssuer, testKey, time.Hour, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}
