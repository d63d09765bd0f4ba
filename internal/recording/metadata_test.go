// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/domain"
)

func TestOutputPath_Layout(t *testing.T) {
	started := time.Date(2025, 3, 9, 20, 15, 0, 0, time.UTC)
	tests := []struct {
		name string
		meta Metadata
		want string
	}{
		{
			name: "movie with year",
			meta: Metadata{Kind: KindMovie, Title: "Heat", Year: 1995},
			want: filepath.Join("/rec", "Movies", "Heat (1995)", "Heat (1995).ts"),
		},
		{
			name: "episode",
			meta: Metadata{Kind: KindEpisode, Show: "The Office", Season: 2, Episode: 1, EpisodeTitle: "The Dundies"},
			want: filepath.Join("/rec", "TV Shows", "The Office", "Season 02", "The Office - S02E01 - The Dundies.ts"),
		},
		{
			name: "episode falls back to title",
			meta: Metadata{Kind: KindEpisode, Title: "Nova", Season: 51, Episode: 7},
			want: filepath.Join("/rec", "TV Shows", "Nova", "Season 51", "Nova - S51E07.ts"),
		},
		{
			name: "other",
			meta: Metadata{Title: "Match Highlights"},
			want: filepath.Join("/rec", "Recordings", "Match Highlights 2025-03-09 2015.ts"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputPath("/rec", tt.meta, started))
		})
	}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "Mission Impossible", SafeName("Mission: Impossible"))
	assert.Equal(t, "AC DC Live", SafeName("AC/DC\tLive"))
	assert.Equal(t, "Trailing", SafeName("  ..Trailing.. "))
	// decomposed e + combining acute becomes the precomposed rune
	assert.Equal(t, "Caf\u00e9", SafeName("Cafe\u0301"))
	assert.Equal(t, "", SafeName("???"))

	long := SafeName(strings.Repeat("é", 200))
	assert.LessOrEqual(t, len(long), 181)
	assert.True(t, strings.HasPrefix(strings.Repeat("é", 200), long))
}

func TestMetadataValidate(t *testing.T) {
	require.NoError(t, Metadata{Kind: KindMovie, Title: "Heat"}.Validate())
	require.NoError(t, Metadata{Kind: KindEpisode, Show: "Nova"}.Validate())

	assert.ErrorIs(t, Metadata{Kind: KindMovie}.Validate(), domain.ErrInvalidRequest)
	assert.ErrorIs(t, Metadata{Kind: KindEpisode}.Validate(), domain.ErrInvalidRequest)
	assert.ErrorIs(t, Metadata{Kind: "podcast", Title: "x"}.Validate(), domain.ErrInvalidRequest)
}
