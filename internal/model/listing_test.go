package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewListing_AllUnknown(t *testing.T) {
	t.Parallel()

	l := NewListing(SourceLocatory)
	row := l.Row()
	require.Len(t, row, len(Columns))
	for i, v := range row {
		if Columns[i] == "Listing Source" {
			assert.Equal(t, "Locatory", v)
			continue
		}
		assert.Equal(t, Unknown, v, "column %s", Columns[i])
	}
}

func TestRow_EmptyRendersUnknown(t *testing.T) {
	t.Parallel()

	l := NewListing(SourceAeroconnect)
	l.EngineModel = "CFM56-7B24"
	l.Price = ""
	row := l.Row()
	assert.Equal(t, "CFM56-7B24", row[0])
	assert.Equal(t, Unknown, row[12])
}

func TestIsUnknown(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUnknown(""))
	assert.True(t, IsUnknown("  "))
	assert.True(t, IsUnknown("N/A"))
	assert.False(t, IsUnknown("Now"))
}

func TestRawRecord_Get(t *testing.T) {
	t.Parallel()

	r := RawRecord{"Condition": "  SV "}
	assert.Equal(t, "SV", r.Get("Condition"))
	assert.Equal(t, "", r.Get("Missing"))
}

func TestSnapshot_CountBySource(t *testing.T) {
	t.Parallel()

	a := NewListing(SourceAeroconnect)
	a.EngineModel = "A"
	b := NewListing(SourceAeroconnect)
	b.EngineModel = "B"
	c := NewListing(SourceLocatory)

	snap := Snapshot{a.Identity(): a, b.Identity(): b, c.Identity(): c}
	counts := snap.CountBySource()
	assert.Equal(t, 2, counts[SourceAeroconnect])
	assert.Equal(t, 1, counts[SourceLocatory])
	assert.Equal(t, 0, counts[SourceMyAirTrade])
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Source
	}{
		{"aeroconnect", SourceAeroconnect},
		{"Locatory", SourceLocatory},
		{" MYAIRTRADE ", SourceMyAirTrade},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSource(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}

	_, err := ParseSource("ebay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
	assert.False(t, Source("ebay").Valid())
}
