// Package engine ties the analysis components and the playback scheduler
// into one comparison session over two near-duplicate recordings. The
// engine exposes computed series and state; rendering is driven by the
// caller reading that state, no rendering originates here.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"

	"github.com/khincker/bounced-site/pkg/align"
	"github.com/khincker/bounced-site/pkg/align/implementations/xcorr"
	"github.com/khincker/bounced-site/pkg/beat"
	"github.com/khincker/bounced-site/pkg/decode"
	"github.com/khincker/bounced-site/pkg/diff"
	"github.com/khincker/bounced-site/pkg/peaks"
	"github.com/khincker/bounced-site/pkg/playback"
	"github.com/khincker/bounced-site/pkg/samplecache"
	"github.com/khincker/bounced-site/pkg/track"
)

// MarkerTolerance is how close, in seconds, a removal request must be to
// an existing marker.
const MarkerTolerance = 0.05

// TrackRef points the load pipeline at one encoded recording.
type TrackRef struct {
	URL   string
	Label string
}

// FeatureFlags gates the optional engine surfaces.
type FeatureFlags struct {
	Scrubbing bool
	BeatGrid  bool
	DriftMap  bool
	Markers   bool
}

// Events are fired synchronously at the corresponding transition.
type Events struct {
	OnPlay         func()
	OnStop         func()
	OnTrackSwitch  func(playback.TrackID)
	OnSeek         func(float64)
	OnMarkerPlace  func(float64)
	OnMarkerRemove func(float64)
}

// FetchFunc retrieves the encoded bytes of a track reference. Network
// concerns (timeouts, retries) belong to the collaborator behind it.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

type Config struct {
	TrackA *TrackRef
	TrackB *TrackRef

	AlignmentEnabled bool

	// RestrictRegion confines loop edits to the initial loop region.
	RestrictRegion bool
	InitialLoop    *playback.Region

	Features FeatureFlags

	// Restore resumes a prior session exactly.
	Restore *Snapshot

	Aligner  align.Aligner
	Detector *beat.Detector
	Cache    samplecache.Cache
	Fetch    FetchFunc
	Decode   decode.Func
	Port     playback.Port
	Clock    playback.Clock

	PeakBins int
	DiffBins int

	Events Events
}

// Engine is exclusively owned by one mount point; it is not designed for
// concurrent access from multiple callers.
type Engine struct {
	cfg   Config
	sched *playback.Scheduler

	tracks [2]*track.Track
	offset float64

	peaksFull [2]peaks.Series
	diffFull  *diff.Series
	grid      *beat.Grid

	zoom      *playback.Region
	peaksZoom [2]peaks.Series
	diffZoom  *diff.Series

	restrict *playback.Region

	markers   []float64
	showBeats bool
	showDrift bool
}

func New(cfg Config) *Engine {
	if cfg.Aligner == nil {
		cfg.Aligner = xcorr.NewAligner()
	}
	if cfg.Detector == nil {
		cfg.Detector = beat.NewDetector()
	}
	if cfg.Cache == nil {
		cfg.Cache = samplecache.NewMemory()
	}
	if cfg.Decode == nil {
		cfg.Decode = decode.Auto
	}
	if cfg.Port == nil {
		cfg.Port = playback.PortDummy{}
	}
	if cfg.PeakBins <= 0 {
		cfg.PeakBins = peaks.DefaultBinCount
	}
	if cfg.DiffBins <= 0 {
		cfg.DiffBins = diff.DefaultBinCount
	}

	e := &Engine{
		cfg:       cfg,
		sched:     playback.NewScheduler(cfg.Port, cfg.Clock),
		showBeats: cfg.Features.BeatGrid,
		showDrift: cfg.Features.DriftMap,
	}
	if cfg.InitialLoop != nil {
		initial := cfg.InitialLoop.Clamped()
		_ = e.sched.SetLoop(context.Background(), initial)
		if cfg.RestrictRegion {
			e.restrict = &initial
		}
	}
	return e
}

// Load fetches, decodes and analyzes the configured tracks. One failing
// track degrades the engine to single-track mode; all requested tracks
// failing is terminal.
func (e *Engine) Load(ctx context.Context) error {
	refs := [2]*TrackRef{e.cfg.TrackA, e.cfg.TrackB}

	var mErr *multierror.Error
	requested, loaded := 0, 0
	for i, ref := range refs {
		if ref == nil {
			continue
		}
		requested++
		t, err := e.loadTrack(ctx, ref)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to load track %v (%q): %w", playback.TrackID(i), ref.URL, err))
			continue
		}
		e.tracks[i] = t
		loaded++
	}
	if requested > 0 && loaded == 0 {
		return fmt.Errorf("unable to load any requested track: %w", mErr)
	}
	if err := mErr.ErrorOrNil(); err != nil {
		logger.Warnf(ctx, "continuing in degraded single-track mode: %v", err)
	}

	if e.tracks[0] != nil && e.tracks[1] != nil && e.cfg.AlignmentEnabled {
		offset, err := e.cfg.Aligner.FindOffset(ctx, e.tracks[0], e.tracks[1])
		if err != nil {
			return fmt.Errorf("alignment was interrupted: %w", err)
		}
		e.offset = offset
		logger.Debugf(ctx, "alignment offset is %.4fs", offset)
	}

	e.sched.SetTracks(e.tracks[0], e.tracks[1], e.offset)
	e.analyze()

	if e.cfg.Restore != nil {
		e.applySnapshot(ctx, *e.cfg.Restore)
	}
	return nil
}

func (e *Engine) loadTrack(ctx context.Context, ref *TrackRef) (*track.Track, error) {
	data, ok := e.cfg.Cache.Get(ctx, ref.URL)
	if !ok {
		if e.cfg.Fetch == nil {
			return nil, fmt.Errorf("no fetcher is configured and %q is not cached", ref.URL)
		}
		var err error
		data, err = e.cfg.Fetch(ctx, ref.URL)
		if err != nil {
			return nil, fmt.Errorf("unable to fetch: %w", err)
		}
		e.cfg.Cache.Put(ctx, ref.URL, data)
	}
	t, err := e.cfg.Decode(ctx, ref.Label, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode: %w", err)
	}
	return t, nil
}

// analyze recomputes the display-facing summaries for the full duration.
func (e *Engine) analyze() {
	duration := e.sched.Duration()
	shiftA, shiftB := track.Shifts(e.offset)
	shifts := [2]float64{shiftA, shiftB}

	for i, t := range e.tracks {
		e.peaksFull[i] = peaks.Extract(t, shifts[i], 0, duration, e.cfg.PeakBins)
	}

	if e.cfg.Features.DriftMap {
		e.diffFull = diff.ComputeFull(e.tracks[0], e.tracks[1], e.offset, e.cfg.DiffBins)
	}

	if e.cfg.Features.BeatGrid {
		id := playback.TrackA
		if e.tracks[id] == nil {
			id = playback.TrackB
		}
		e.grid = onCommonTimeline(e.cfg.Detector.Detect(e.tracks[id]), shifts[id])
		e.sched.SetBeatGrid(e.grid, true)
	}
}

// onCommonTimeline re-bases a grid detected on one track's native timeline
// by that track's alignment shift, dropping beats that land before the
// common start.
func onCommonTimeline(g *beat.Grid, shift float64) *beat.Grid {
	if g == nil || shift == 0 {
		return g
	}
	out := &beat.Grid{BPM: g.BPM, BeatsPerBar: g.BeatsPerBar}
	for _, ts := range g.Beats {
		if ts-shift < 0 {
			continue
		}
		out.Beats = append(out.Beats, ts-shift)
	}
	if len(out.Beats) == 0 {
		return nil
	}
	out.FirstDownbeat = out.Beats[0]
	return out
}

func (e *Engine) applySnapshot(ctx context.Context, s Snapshot) {
	_ = e.sched.SwitchTrack(s.ActiveTrack)
	_ = e.sched.SetLoop(ctx, e.restricted(s.Loop))
	if s.Zoom != nil {
		z := s.Zoom.Clamped()
		e.zoom = &z
		e.recomputeZoom()
	}
	e.markers = append([]float64(nil), s.Markers...)
	e.showBeats = s.ShowBeats
	e.showDrift = s.ShowDrift
	e.sched.RestorePlayhead(s.LastPlayhead)
}

// State exports the serializable session snapshot.
func (e *Engine) State() Snapshot {
	s := Snapshot{
		ActiveTrack:  e.sched.Active(),
		Loop:         e.sched.Loop(),
		Markers:      append([]float64(nil), e.markers...),
		ShowBeats:    e.showBeats,
		ShowDrift:    e.showDrift,
		LastPlayhead: e.sched.Playhead(),
	}
	if e.zoom != nil {
		z := *e.zoom
		s.Zoom = &z
	}
	return s
}

// Play starts looped playback from the loop start.
func (e *Engine) Play(ctx context.Context) error {
	if err := e.sched.Play(ctx); err != nil {
		return err
	}
	e.fire(e.cfg.Events.OnPlay)
	return nil
}

// PlayAt starts looped playback from the given position in seconds.
func (e *Engine) PlayAt(ctx context.Context, atSeconds float64) error {
	if err := e.sched.PlayAt(ctx, atSeconds); err != nil {
		return err
	}
	e.fire(e.cfg.Events.OnPlay)
	return nil
}

// Stop halts playback, persisting the playhead.
func (e *Engine) Stop() error {
	wasPlaying := e.sched.Playing()
	if err := e.sched.Stop(); err != nil {
		return err
	}
	if wasPlaying {
		e.fire(e.cfg.Events.OnStop)
	}
	return nil
}

// SwitchTrack routes the audible output; a switch to an absent track is a
// no-op.
func (e *Engine) SwitchTrack(id playback.TrackID) error {
	if e.tracks[id] == nil {
		return nil
	}
	if err := e.sched.SwitchTrack(id); err != nil {
		return err
	}
	if e.cfg.Events.OnTrackSwitch != nil {
		e.cfg.Events.OnTrackSwitch(id)
	}
	return nil
}

// Seek moves the playhead to the given fraction of the duration.
func (e *Engine) Seek(ctx context.Context, fraction float64) error {
	seconds, err := e.sched.Seek(ctx, fraction)
	if err != nil {
		return err
	}
	if e.cfg.Events.OnSeek != nil {
		e.cfg.Events.OnSeek(seconds)
	}
	return nil
}

// SetLoop updates the loop bounds, honoring the region restriction.
func (e *Engine) SetLoop(ctx context.Context, start, end float64) error {
	return e.sched.SetLoop(ctx, e.restricted(playback.Region{Start: start, End: end}))
}

// Scrub plays a short preview burst at the given position; only available
// while stopped and when the feature is enabled.
func (e *Engine) Scrub(ctx context.Context, atSeconds float64) error {
	if !e.cfg.Features.Scrubbing {
		return nil
	}
	return e.sched.ScrubBurst(ctx, atSeconds)
}

// ZoomToLoop re-bases the view to the loop region and recomputes the
// zoomed summaries. Rejected (returns false) when the loop region spans
// less than the minimum zoomable width.
func (e *Engine) ZoomToLoop() bool {
	loop := e.sched.Loop()
	if loop.Width() < playback.MinLoopGap {
		return false
	}
	z := loop
	e.zoom = &z
	e.recomputeZoom()
	return true
}

// Unzoom reverts to full-duration coordinates, discarding zoomed caches.
func (e *Engine) Unzoom() {
	e.zoom = nil
	e.peaksZoom = [2]peaks.Series{}
	e.diffZoom = nil
}

func (e *Engine) recomputeZoom() {
	duration := e.sched.Duration()
	start := e.zoom.Start * duration
	end := e.zoom.End * duration
	shiftA, shiftB := track.Shifts(e.offset)
	shifts := [2]float64{shiftA, shiftB}

	for i, t := range e.tracks {
		e.peaksZoom[i] = peaks.Extract(t, shifts[i], start, end, e.cfg.PeakBins)
	}
	e.diffZoom = nil
	if e.cfg.Features.DriftMap {
		e.diffZoom = diff.Compute(e.tracks[0], e.tracks[1], e.offset, e.cfg.DiffBins, start, end)
		// The zoomed view keeps normalizing against the full-track maximum
		// so zoomed and unzoomed views stay visually comparable.
		if e.diffZoom != nil && e.diffFull != nil {
			e.diffZoom.Max = e.diffFull.Max
		}
	}
}

// PlaceMarker records a timestamp of interest.
func (e *Engine) PlaceMarker(seconds float64) {
	if !e.cfg.Features.Markers {
		return
	}
	markers := append(append([]float64(nil), e.markers...), seconds)
	sort.Float64s(markers)
	e.markers = markers
	if e.cfg.Events.OnMarkerPlace != nil {
		e.cfg.Events.OnMarkerPlace(seconds)
	}
}

// RemoveMarker drops the marker nearest to the given timestamp, if one is
// within tolerance.
func (e *Engine) RemoveMarker(seconds float64) bool {
	if !e.cfg.Features.Markers {
		return false
	}
	best, bestDist := -1, MarkerTolerance
	for i, ts := range e.markers {
		if d := math.Abs(ts - seconds); d <= bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return false
	}
	removed := e.markers[best]
	markers := make([]float64, 0, len(e.markers)-1)
	markers = append(markers, e.markers[:best]...)
	markers = append(markers, e.markers[best+1:]...)
	e.markers = markers
	if e.cfg.Events.OnMarkerRemove != nil {
		e.cfg.Events.OnMarkerRemove(removed)
	}
	return true
}

// Track returns the decoded track, or nil when it failed to load or was
// never requested.
func (e *Engine) Track(id playback.TrackID) *track.Track {
	return e.tracks[id]
}

// Offset is the alignment offset in seconds; positive means track B
// starts later than track A.
func (e *Engine) Offset() float64 {
	return e.offset
}

// Duration of the common timeline in seconds.
func (e *Engine) Duration() float64 {
	return e.sched.Duration()
}

// Peaks returns the display envelope of the current view (zoomed when a
// zoom region is set).
func (e *Engine) Peaks(id playback.TrackID) peaks.Series {
	if e.zoom != nil {
		return e.peaksZoom[id]
	}
	return e.peaksFull[id]
}

// Diff returns the divergence series of the current view, or nil when the
// analysis is unavailable.
func (e *Engine) Diff() *diff.Series {
	if e.zoom != nil {
		return e.diffZoom
	}
	return e.diffFull
}

// Beats returns the beat grid, or nil when the analysis is unavailable.
func (e *Engine) Beats() *beat.Grid {
	return e.grid
}

// Loop returns the current loop region.
func (e *Engine) Loop() playback.Region {
	return e.sched.Loop()
}

// Zoom returns the current zoom region, or nil for the full view.
func (e *Engine) Zoom() *playback.Region {
	if e.zoom == nil {
		return nil
	}
	z := *e.zoom
	return &z
}

// ActiveTrack returns the audible track.
func (e *Engine) ActiveTrack() playback.TrackID {
	return e.sched.Active()
}

// Playing reports the transport state.
func (e *Engine) Playing() bool {
	return e.sched.Playing()
}

// Markers returns the marker timestamps.
func (e *Engine) Markers() []float64 {
	return append([]float64(nil), e.markers...)
}

// ShowBeats and ShowDrift are display preferences carried in the snapshot.
func (e *Engine) ShowBeats() bool { return e.showBeats }
func (e *Engine) ShowDrift() bool { return e.showDrift }

func (e *Engine) SetShowBeats(v bool) { e.showBeats = v }
func (e *Engine) SetShowDrift(v bool) { e.showDrift = v }

// PlayheadFraction is the playhead as a fraction of the duration.
func (e *Engine) PlayheadFraction() float64 {
	return e.sched.PlayheadFraction()
}

// Playhead is the playhead in seconds.
func (e *Engine) Playhead() float64 {
	return e.sched.Playhead()
}

// FormattedTime renders the playhead as m:ss.t.
func (e *Engine) FormattedTime() string {
	return FormatTime(e.sched.Playhead())
}

// ToView converts a common-timeline timestamp into a view fraction,
// re-based to the zoom region when one is set.
func (e *Engine) ToView(seconds float64) float64 {
	duration := e.sched.Duration()
	if duration <= 0 {
		return 0
	}
	from, to := 0.0, duration
	if e.zoom != nil {
		from = e.zoom.Start * duration
		to = e.zoom.End * duration
	}
	if to <= from {
		return 0
	}
	return (seconds - from) / (to - from)
}

// FromView converts a view fraction into a common-timeline timestamp.
func (e *Engine) FromView(fraction float64) float64 {
	duration := e.sched.Duration()
	from, to := 0.0, duration
	if e.zoom != nil {
		from = e.zoom.Start * duration
		to = e.zoom.End * duration
	}
	return from + fraction*(to-from)
}

// Close releases the playback resources.
func (e *Engine) Close() error {
	return e.sched.Close()
}

func (e *Engine) restricted(r playback.Region) playback.Region {
	if e.restrict == nil {
		return r
	}
	return r.Within(*e.restrict)
}

func (e *Engine) fire(event func()) {
	if event != nil {
		event()
	}
}

// FormatTime renders seconds as m:ss.t. Rounding to tenths happens before
// the minutes split, so 59.95s rolls over to "1:00.0" rather than "0:60.0".
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := math.Round(seconds * 10)
	minutes := int(tenths) / 600
	return fmt.Sprintf("%d:%04.1f", minutes, tenths/10-float64(minutes)*60)
}

var _ io.Closer = (*Engine)(nil)
