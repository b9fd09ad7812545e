package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
)

func TestNewOccurrence(t *testing.T) {
	tests := []struct {
		name        string
		context     string
		start, end  int
		wantMention string
		wantErr     bool
	}{
		{"leading mention", "John Lennon was born in Liverpool", 0, 11, "John Lennon", false},
		{"trailing mention", "John Lennon was born in Liverpool", 24, 33, "Liverpool", false},
		{"multibyte offsets are characters", "Zoë Saldaña acts", 0, 11, "Zoë Saldaña", false},
		{"empty range", "John", 2, 2, "", true},
		{"end past context", "John", 0, 10, "", true},
		{"negative start", "John", -1, 2, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occ, err := NewOccurrence(tt.context, tt.start, tt.end)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pferrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMention, occ.Mention)
			assert.Equal(t, tt.context, occ.Context)
		})
	}
}

func TestLocateOccurrence(t *testing.T) {
	t.Run("mention inside context", func(t *testing.T) {
		occ, err := LocateOccurrence("Liverpool", "John Lennon was born in Liverpool")
		require.NoError(t, err)
		assert.Equal(t, 24, occ.Start)
		assert.Equal(t, 33, occ.End)
		assert.NoError(t, occ.Validate())
	})

	t.Run("context without the mention falls back to the mention", func(t *testing.T) {
		occ, err := LocateOccurrence("Paris", "nothing relevant here")
		require.NoError(t, err)
		assert.Equal(t, OccurrenceInfo{Mention: "Paris", Context: "Paris", Start: 0, End: 5}, occ)
	})

	t.Run("oversized context falls back to the mention", func(t *testing.T) {
		long := strings.Repeat("x", MaxContextLength) + " Paris"
		occ, err := LocateOccurrence("Paris", long)
		require.NoError(t, err)
		assert.Equal(t, "Paris", occ.Context)
	})

	t.Run("rune offsets after multibyte text", func(t *testing.T) {
		occ, err := LocateOccurrence("Paris", "Café à Paris")
		require.NoError(t, err)
		assert.Equal(t, 7, occ.Start)
		assert.NoError(t, occ.Validate())
	})

	t.Run("empty mention", func(t *testing.T) {
		_, err := LocateOccurrence("", "context")
		assert.True(t, pferrors.IsValidation(err))
	})
}

func TestOccurrenceEquality_IgnoresOffsets(t *testing.T) {
	a := OccurrenceInfo{Mention: "John", Context: "John was a musician", Start: 0, End: 4}
	b := OccurrenceInfo{Mention: "John", Context: "John was a musician", Start: 5, End: 9}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(OccurrenceInfo{Mention: "John", Context: "Other"}))
}

func TestMergeOccurrences_IsIdempotent(t *testing.T) {
	lennon := OccurrenceInfo{Mention: "John Lennon", Context: "John Lennon was born in Liverpool", End: 11}
	john := OccurrenceInfo{Mention: "John", Context: "John was a musician", End: 4}
	paul := OccurrenceInfo{Mention: "Paul", Context: "Paul played bass", End: 4}

	merged, added := MergeOccurrences(nil, []OccurrenceInfo{lennon, john})
	assert.Equal(t, 2, added)

	merged, added = MergeOccurrences(merged, []OccurrenceInfo{john, lennon})
	assert.Equal(t, 0, added)
	assert.Equal(t, []OccurrenceInfo{lennon, john}, merged)

	merged, added = MergeOccurrences(merged, []OccurrenceInfo{paul, john, paul})
	assert.Equal(t, 1, added)
	assert.Equal(t, []OccurrenceInfo{lennon, john, paul}, merged)
}

func TestMergeOccurrences_DeduplicatesExisting(t *testing.T) {
	john := OccurrenceInfo{Mention: "John", Context: "John was a musician", End: 4}
	merged, added := MergeOccurrences([]OccurrenceInfo{john, john}, nil)
	assert.Equal(t, 0, added)
	assert.Len(t, merged, 1)
}
