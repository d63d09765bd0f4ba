// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"time"

	"github.com/ManuGH/rokutuner/internal/ecp"
)

// positionJumpBack is how far the play position must fall back before we
// treat it as the next item auto-starting rather than a seek.
const positionJumpBack = 30 * time.Second

// completionDetector watches successive media-player snapshots for the end
// of the item that was playing when capture began.
type completionDetector struct {
	playing bool
	plugin  string
	lastPos time.Duration
}

// observe returns true once the watched playback has ended. Nothing counts
// as an end until the player has been seen in the play state.
func (d *completionDetector) observe(st ecp.PlayerState) bool {
	if st.State == ecp.PlayerPlay {
		if !d.playing {
			d.playing = true
			d.plugin = st.PluginID
			d.lastPos = st.Position
			return false
		}
		if d.plugin != "" && st.PluginID != "" && st.PluginID != d.plugin {
			return true
		}
		if !st.Live && st.Position+positionJumpBack < d.lastPos {
			return true
		}
		if st.Position > d.lastPos {
			d.lastPos = st.Position
		}
		return false
	}
	if !d.playing {
		return false
	}
	switch st.State {
	case ecp.PlayerPause, ecp.PlayerBuffer, ecp.PlayerStartup:
		return false
	default:
		return true
	}
}
