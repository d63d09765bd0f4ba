// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package domain

// TunerStatus is the runtime state of one tuner.
type TunerStatus int

const (
	TunerIdle TunerStatus = iota
	TunerLocked
	TunerStreaming
	TunerRecording
)

func (s TunerStatus) String() string {
	switch s {
	case TunerIdle:
		return "idle"
	case TunerLocked:
		return "locked"
	case TunerStreaming:
		return "streaming"
	case TunerRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its lowercase name.
func (s TunerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
