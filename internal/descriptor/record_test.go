package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(fill float64) []float64 {
	d := make([]float64, Dim)
	for i := range d {
		d[i] = fill
	}
	return d
}

func TestLegacySingleDescriptorUpgrades(t *testing.T) {
	legacy := map[string]any{
		"id":         "101",
		"name":       "Asha",
		"descriptor": testDescriptor(0.1),
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.Len(t, rec.Descriptors, 1)
	assert.Equal(t, testDescriptor(0.1), rec.Descriptors[0])
}

func TestModernRecordIgnoresLegacyField(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":          "101",
		"name":        "Asha",
		"descriptors": [][]float64{testDescriptor(0.1), testDescriptor(0.2)},
	})
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Len(t, rec.Descriptors, 2)
}

func TestValidateIdentity(t *testing.T) {
	valid := [][]float64{testDescriptor(0.1)}

	tests := []struct {
		name    string
		id      string
		person  string
		ds      [][]float64
		wantErr bool
	}{
		{"ok", "101", "Asha", valid, false},
		{"empty id", "", "Asha", valid, true},
		{"empty name", "101", "", valid, true},
		{"pipe in id", "10|1", "Asha", valid, true},
		{"pipe in name", "101", "A|sha", valid, true},
		{"no descriptors", "101", "Asha", nil, true},
		{"wrong dimension", "101", "Asha", [][]float64{{0.1, 0.2}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.id, tt.person, tt.ds)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLabelRoundTrip(t *testing.T) {
	rec := Record{ID: "101", Name: "Asha"}
	id, name := SplitLabel(rec.Label())
	assert.Equal(t, "101", id)
	assert.Equal(t, "Asha", name)
}

func TestStatsOf(t *testing.T) {
	records := []Record{
		{ID: "1", PresentToday: true},
		{ID: "2"},
		{ID: "3"},
	}
	s := StatsOf(records)
	assert.Equal(t, Stats{Total: 3, PresentToday: 1, AbsentToday: 2}, s)
}
