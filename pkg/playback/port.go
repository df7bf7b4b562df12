package playback

import (
	"context"
	"io"
	"time"

	"github.com/khincker/bounced-site/pkg/track"
)

// Source is one track's contribution to a playback session. Shift is the
// track's alignment shift: the amount added to a common-timeline position
// to reach the track's own timeline.
type Source struct {
	Track *track.Track
	Shift float64
	Gain  float64
}

// StartRequest asks a Port to schedule both sources simultaneously,
// anchored to one shared transport time, each looping within
// [LoopStart, LoopEnd] (seconds on the common timeline) shifted by its own
// alignment shift. Starting both sources against a single anchor is the
// central correctness requirement: their relative phase must never drift.
type StartRequest struct {
	Sources   [2]Source
	LoopStart float64
	LoopEnd   float64
	StartAt   float64
}

// BurstRequest asks a Port to play a short one-shot preview clip of one
// track with a linear fade-out, independent of any loop state.
type BurstRequest struct {
	Track    *track.Track
	Shift    float64
	StartAt  float64
	Duration time.Duration
}

// Session is a running pair of phase-locked sources. Close fully releases
// both sources; it must have returned before a subsequent StartPair is
// issued, otherwise playback may audibly overlap.
type Session interface {
	io.Closer

	// SetGain routes the audible output without interrupting playback.
	SetGain(id TrackID, gain float64) error

	// SetLoop updates the loop bounds of both running sources live.
	SetLoop(loopStart, loopEnd float64) error
}

// Burst is a running preview clip.
type Burst interface {
	io.Closer
}

// Port is the playback scheduling primitive, implemented by a platform
// audio backend. The core only talks to this interface and never touches
// platform audio objects directly.
type Port interface {
	io.Closer

	Ping(context.Context) error
	StartPair(ctx context.Context, req StartRequest) (Session, error)
	PlayBurst(ctx context.Context, req BurstRequest) (Burst, error)
}
