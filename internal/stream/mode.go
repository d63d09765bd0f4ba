// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"fmt"
	"strings"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
)

// Mode selects how the encoder output reaches the client.
type Mode string

const (
	ModeProxy        Mode = config.ModeProxy
	ModeRemux        Mode = config.ModeRemux
	ModeReencode     Mode = config.ModeReencode
	ModeFullReencode Mode = config.ModeFullReencode
)

// ParseMode accepts a mode name case-insensitively.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeProxy, ModeRemux, ModeReencode, ModeFullReencode:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown stream mode %q", domain.ErrConfigurationInvalid, raw)
	}
}

// ResolveMode picks the first non-empty of request, tuner and global mode.
func ResolveMode(request, tuner, global string) (Mode, error) {
	for _, m := range []string{request, tuner, global} {
		if strings.TrimSpace(m) != "" {
			return ParseMode(m)
		}
	}
	return ModeProxy, nil
}

// Transcodes reports whether the mode runs an external process.
func (m Mode) Transcodes() bool {
	return m != ModeProxy
}
