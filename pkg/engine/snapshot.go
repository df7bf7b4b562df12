package engine

import (
	"github.com/khincker/bounced-site/pkg/playback"
)

// Snapshot is the serializable session state: everything needed to resume
// a comparison session exactly. The engine only produces and consumes it;
// persisting or transmitting it (e.g. encoded into a shareable reference)
// is the caller's job.
type Snapshot struct {
	ActiveTrack  playback.TrackID `json:"activeTrack"`
	Loop         playback.Region  `json:"loop"`
	Zoom         *playback.Region `json:"zoom,omitempty"`
	Markers      []float64        `json:"markers,omitempty"`
	ShowBeats    bool             `json:"showBeats"`
	ShowDrift    bool             `json:"showDrift"`
	LastPlayhead float64          `json:"lastPlayhead"`
}
