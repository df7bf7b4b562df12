package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"

	"github.com/khincker/bounced-site/pkg/beat"
	"github.com/khincker/bounced-site/pkg/track"
)

// DefaultBurstLength is the length of a scrub preview clip.
const DefaultBurstLength = 80 * time.Millisecond

// Clock abstracts wall-clock time so playhead derivation is testable.
type Clock func() time.Time

// Scheduler owns the loop/zoom-independent playback state machine: it keeps
// two sources phase-locked across track switches, loop wraps and seeks.
// States are Stopped and Playing; every method is safe for the single
// cooperative caller plus backend callbacks.
type Scheduler struct {
	mu   sync.Mutex
	port Port
	now  Clock

	tracks [2]*track.Track
	shifts [2]float64

	// duration of the common timeline: the longer of the two shifted
	// tracks.
	duration float64

	loop    Region
	active  TrackID
	playing bool

	// transport anchor: anchorPos is the common-timeline position that
	// was current at anchorTime.
	anchorTime time.Time
	anchorPos  float64

	lastPlayhead float64

	session Session
	burst   Burst

	grid        *beat.Grid
	snapToBeats bool

	burstLength time.Duration
}

// NewScheduler creates a stopped scheduler over the given port. A nil
// clock means wall-clock time.
func NewScheduler(port Port, clock Clock) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		port:        port,
		now:         clock,
		loop:        FullRegion(),
		burstLength: DefaultBurstLength,
	}
}

// SetTracks installs the decoded tracks and their alignment offset. Either
// track may be nil (single-track mode).
func (s *Scheduler) SetTracks(a, b *track.Track, offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shiftA, shiftB := track.Shifts(offset)
	s.tracks = [2]*track.Track{a, b}
	s.shifts = [2]float64{shiftA, shiftB}

	s.duration = 0
	if a != nil {
		s.duration = a.Duration() - shiftA
	}
	if b != nil {
		s.duration = math.Max(s.duration, b.Duration()-shiftB)
	}

	if s.tracks[s.active] == nil {
		s.active = s.active.Other()
	}
}

// SetBeatGrid installs the grid used for loop-edge snapping; nil disables
// snapping regardless of the flag.
func (s *Scheduler) SetBeatGrid(grid *beat.Grid, snap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid = grid
	s.snapToBeats = snap
}

// Duration of the common timeline in seconds.
func (s *Scheduler) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Loop returns the current loop region.
func (s *Scheduler) Loop() Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Active returns the audible track.
func (s *Scheduler) Active() TrackID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Playing reports whether a session is running.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Play starts looped playback from the loop start.
func (s *Scheduler) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked(ctx, s.loopStartLocked())
}

// PlayAt starts looped playback from the given position in seconds,
// clamped into the loop region.
func (s *Scheduler) PlayAt(ctx context.Context, atSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked(ctx, atSeconds)
}

// Stop captures the current playhead into the persisted position and
// releases all sources. Stopping while stopped is a no-op that keeps the
// persisted position intact.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return nil
	}
	s.lastPlayhead = s.positionLocked()
	s.playing = false
	return s.teardownLocked()
}

// SwitchTrack changes the audible track without interrupting playback.
// Switching to an absent track is a no-op.
func (s *Scheduler) SwitchTrack(id TrackID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks[id] == nil {
		return nil
	}
	s.active = id
	if !s.playing || s.session == nil {
		return nil
	}
	var mErr *multierror.Error
	if err := s.session.SetGain(id, 1); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to unmute track %v: %w", id, err))
	}
	if err := s.session.SetGain(id.Other(), 0); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to mute track %v: %w", id.Other(), err))
	}
	return mErr.ErrorOrNil()
}

// Seek moves the playhead to the given fraction of the duration, clamped
// into the loop region. When playing this is a full re-anchor; when
// stopped only the persisted position changes. The clamped target in
// seconds is returned.
func (s *Scheduler) Seek(ctx context.Context, fraction float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.clampIntoLoopLocked(clampFraction(fraction) * s.duration)
	if !s.playing {
		s.lastPlayhead = target
		return target, nil
	}
	return target, s.playLocked(ctx, target)
}

// SetLoop updates the loop bounds, clamped and (when a beat grid is
// active) snapped to the nearest grid timestamps. When playing, running
// sources get the new bounds live; if the playhead fell outside them,
// playback re-anchors at the nearest in-bounds point.
func (s *Scheduler) SetLoop(ctx context.Context, r Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r = r.Clamped()
	if s.snapToBeats && s.grid != nil && s.duration > 0 {
		r = s.snapLocked(r)
	}

	var pos float64
	if s.playing {
		pos = s.positionLocked()
	}
	s.loop = r

	if !s.playing || s.session == nil {
		return nil
	}
	if err := s.session.SetLoop(s.loopStartLocked(), s.loopEndLocked()); err != nil {
		return fmt.Errorf("unable to update the loop bounds: %w", err)
	}
	if clamped := s.clampIntoLoopLocked(pos); clamped != pos {
		return s.playLocked(ctx, clamped)
	}
	return nil
}

// ScrubBurst plays a short preview clip of the active track at the given
// position. Only valid while stopped; a prior burst is cancelled first.
func (s *Scheduler) ScrubBurst(ctx context.Context, atSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return nil
	}
	if s.burst != nil {
		if err := s.burst.Close(); err != nil {
			logger.Debugf(ctx, "unable to cancel the previous burst: %v", err)
		}
		s.burst = nil
	}
	t := s.tracks[s.active]
	if t == nil {
		return nil
	}
	burst, err := s.port.PlayBurst(ctx, BurstRequest{
		Track:    t,
		Shift:    s.shifts[s.active],
		StartAt:  atSeconds,
		Duration: s.burstLength,
	})
	if err != nil {
		return fmt.Errorf("unable to play a scrub burst: %w", err)
	}
	s.burst = burst
	return nil
}

// Playhead returns the current position in seconds: derived from the
// transport anchor while playing (wrapped modulo the loop length), the
// persisted position while stopped.
func (s *Scheduler) Playhead() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return s.positionLocked()
	}
	return s.lastPlayhead
}

// PlayheadFraction is the playhead as a fraction of the duration.
func (s *Scheduler) PlayheadFraction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration <= 0 {
		return 0
	}
	pos := s.lastPlayhead
	if s.playing {
		pos = s.positionLocked()
	}
	return pos / s.duration
}

// RestorePlayhead installs a persisted position, e.g. from a restored
// session snapshot. Only meaningful while stopped.
func (s *Scheduler) RestorePlayhead(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		s.lastPlayhead = seconds
	}
}

// Close releases any running session and the underlying port.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	var mErr *multierror.Error
	if err := s.teardownLocked(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if err := s.port.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to close the port: %w", err))
	}
	return mErr.ErrorOrNil()
}

func (s *Scheduler) loopStartLocked() float64 {
	return s.loop.Start * s.duration
}

func (s *Scheduler) loopEndLocked() float64 {
	return s.loop.End * s.duration
}

func (s *Scheduler) clampIntoLoopLocked(seconds float64) float64 {
	return math.Min(math.Max(seconds, s.loopStartLocked()), s.loopEndLocked())
}

// playLocked is the single entry into the Playing state: it tears down any
// prior sources first (stop is idempotent), then schedules both tracks
// against one shared anchor with the audible gain routed to the active
// track. Both tracks always play in parallel so a later switch is
// sample-accurate without re-scheduling.
func (s *Scheduler) playLocked(ctx context.Context, atSeconds float64) error {
	if err := s.teardownLocked(); err != nil {
		logger.Warnf(ctx, "unable to release the previous sources: %v", err)
	}

	req := StartRequest{
		LoopStart: s.loopStartLocked(),
		LoopEnd:   s.loopEndLocked(),
		StartAt:   s.clampIntoLoopLocked(atSeconds),
	}
	for id := TrackA; id <= TrackB; id++ {
		gain := 0.0
		if id == s.active {
			gain = 1.0
		}
		req.Sources[id] = Source{
			Track: s.tracks[id],
			Shift: s.shifts[id],
			Gain:  gain,
		}
	}

	session, err := s.port.StartPair(ctx, req)
	if err != nil {
		s.playing = false
		return fmt.Errorf("unable to schedule the source pair: %w", err)
	}
	s.session = session
	s.anchorTime = s.now()
	s.anchorPos = req.StartAt
	s.playing = true
	return nil
}

// teardownLocked releases the session and any outstanding burst. It must
// complete before new sources are scheduled.
func (s *Scheduler) teardownLocked() error {
	var mErr *multierror.Error
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to release the session: %w", err))
		}
		s.session = nil
	}
	if s.burst != nil {
		if err := s.burst.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to cancel the burst: %w", err))
		}
		s.burst = nil
	}
	return mErr.ErrorOrNil()
}

// positionLocked derives the playhead from the elapsed wall-clock time
// since the anchor, wrapped modulo the loop length once past the loop end.
func (s *Scheduler) positionLocked() float64 {
	elapsed := s.now().Sub(s.anchorTime).Seconds()
	ls := s.loopStartLocked()
	loopLen := s.loopEndLocked() - ls
	if loopLen <= 0 {
		return s.anchorPos
	}
	return ls + math.Mod(s.anchorPos-ls+elapsed, loopLen)
}

// snapLocked moves each loop edge to the nearest beat timestamp, keeping
// the edge unsnapped when snapping would collapse the region below the
// minimum gap.
func (s *Scheduler) snapLocked(r Region) Region {
	snapped := Region{
		Start: s.nearestBeatFractionLocked(r.Start),
		End:   s.nearestBeatFractionLocked(r.End),
	}
	if snapped.End-snapped.Start >= MinLoopGap {
		return Region{
			Start: clampFraction(snapped.Start),
			End:   clampFraction(snapped.End),
		}
	}
	return r
}

func (s *Scheduler) nearestBeatFractionLocked(f float64) float64 {
	target := f * s.duration
	best := f
	bestDist := math.Inf(1)
	for _, ts := range s.grid.Beats {
		if d := math.Abs(ts - target); d < bestDist {
			bestDist = d
			best = ts / s.duration
		}
	}
	return best
}
