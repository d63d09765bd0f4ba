// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/rokutuner/internal/domain"
)

// Kind classifies recorded content for directory layout and tagging.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
	KindOther   Kind = "other"
)

// Metadata is staged by the pretune UI and handed to the tagger untouched.
type Metadata struct {
	Kind         Kind   `json:"type"`
	Title        string `json:"title"`
	Year         int    `json:"year,omitempty"`
	Show         string `json:"show,omitempty"`
	Season       int    `json:"season,omitempty"`
	Episode      int    `json:"episode,omitempty"`
	EpisodeTitle string `json:"episode_title,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Artwork      string `json:"artwork,omitempty"`
}

// Validate rejects metadata that cannot produce a sensible path.
func (m Metadata) Validate() error {
	switch m.Kind {
	case KindMovie, KindOther, "":
		if strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("%w: recording title is required", domain.ErrInvalidRequest)
		}
	case KindEpisode:
		if strings.TrimSpace(m.Show) == "" && strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("%w: episode needs a show name", domain.ErrInvalidRequest)
		}
		if m.Season < 0 || m.Episode < 0 {
			return fmt.Errorf("%w: season and episode must not be negative", domain.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown recording type %q", domain.ErrInvalidRequest, m.Kind)
	}
	return nil
}

// OutputPath lays out the capture file under root:
//
//	Movies/<Title (Year)>/<Title (Year)>.ts
//	TV Shows/<Show>/Season NN/<Show> - SNNENN - <Episode Title>.ts
//	Recordings/<Title> <timestamp>.ts
func OutputPath(root string, m Metadata, started time.Time) string {
	switch m.Kind {
	case KindMovie:
		name := SafeName(m.Title)
		if m.Year > 0 {
			name = fmt.Sprintf("%s (%d)", name, m.Year)
		}
		return filepath.Join(root, "Movies", name, name+".ts")
	case KindEpisode:
		show := SafeName(m.Show)
		if show == "" {
			show = SafeName(m.Title)
		}
		season := fmt.Sprintf("Season %02d", m.Season)
		name := fmt.Sprintf("%s - S%02dE%02d", show, m.Season, m.Episode)
		if t := SafeName(m.EpisodeTitle); t != "" {
			name += " - " + t
		}
		return filepath.Join(root, "TV Shows", show, season, name+".ts")
	default:
		name := fmt.Sprintf("%s %s", SafeName(m.Title), started.Format("2006-01-02 1504"))
		return filepath.Join(root, "Recordings", name+".ts")
	}
}

// SafeName turns a display title into a single path element: NFC
// normalised, control and reserved characters dropped, no leading or
// trailing dots or spaces.
func SafeName(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, ". ")
	if len(out) > 180 {
		out = strings.TrimSpace(truncateRunes(out, 180))
	}
	return out
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
