// Package beat derives a tempo and a quantized beat grid from one track
// using energy-flux onset detection with an adaptive threshold and a BPM
// histogram vote over inter-onset intervals.
package beat

import (
	"math"

	"github.com/khincker/bounced-site/pkg/track"
)

// Grid is a quantized beat grid. Beats are strictly increasing timestamps
// covering the full track duration; FirstDownbeat is the earliest grid
// timestamp and anchors bar numbering.
type Grid struct {
	BPM           float64
	Beats         []float64
	BeatsPerBar   int
	FirstDownbeat float64
}

const (
	// DefaultWindowLength and DefaultHopLength define the frame-energy
	// resolution: 20ms windows hopped every 10ms.
	DefaultWindowLength = 0.020
	DefaultHopLength    = 0.010

	// DefaultLocalMeanRadius is the half-width, in seconds, of the window
	// over which the adaptive threshold's local mean flux is computed.
	DefaultLocalMeanRadius = 1.0

	// DefaultThresholdRatio scales the local mean flux into the onset
	// threshold.
	DefaultThresholdRatio = 1.5

	// DefaultMinOnsetGap is the minimum spacing between onsets.
	DefaultMinOnsetGap = 0.100

	// DefaultMinInterval / DefaultMaxInterval bound the inter-onset
	// intervals considered rhythmic (30–300 BPM).
	DefaultMinInterval = 0.2
	DefaultMaxInterval = 2.0

	// DefaultMinBPM / DefaultMaxBPM clamp the tempo candidates.
	DefaultMinBPM = 60
	DefaultMaxBPM = 200

	beatsPerBar = 4

	minOnsets    = 4
	minIntervals = 2

	thresholdEpsilon = 1e-6
)

type Detector struct {
	WindowLength    float64
	HopLength       float64
	LocalMeanRadius float64
	ThresholdRatio  float64
	MinOnsetGap     float64
	MinInterval     float64
	MaxInterval     float64
	MinBPM          float64
	MaxBPM          float64
}

func NewDetector() *Detector {
	return &Detector{
		WindowLength:    DefaultWindowLength,
		HopLength:       DefaultHopLength,
		LocalMeanRadius: DefaultLocalMeanRadius,
		ThresholdRatio:  DefaultThresholdRatio,
		MinOnsetGap:     DefaultMinOnsetGap,
		MinInterval:     DefaultMinInterval,
		MaxInterval:     DefaultMaxInterval,
		MinBPM:          DefaultMinBPM,
		MaxBPM:          DefaultMaxBPM,
	}
}

// Detect returns the beat grid of the track, or nil when the track carries
// insufficient rhythmic information. Absence is "analysis unavailable",
// not an error.
func (d *Detector) Detect(t *track.Track) *Grid {
	if t == nil || t.Rate <= 0 || len(t.Samples) == 0 {
		return nil
	}

	onsets := d.onsets(t)
	if len(onsets) < minOnsets {
		return nil
	}

	bpm, ok := d.voteBPM(onsets)
	if !ok {
		return nil
	}

	beatInterval := 60 / bpm

	// Anchor the grid at the first onset and walk backward while staying
	// positive to find the first downbeat.
	first := onsets[0]
	for first-beatInterval >= 0 {
		first -= beatInterval
	}

	duration := t.Duration()
	beats := make([]float64, 0, int(duration/beatInterval)+1)
	for ts := first; ts <= duration; ts += beatInterval {
		beats = append(beats, ts)
	}

	return &Grid{
		BPM:           bpm,
		Beats:         beats,
		BeatsPerBar:   beatsPerBar,
		FirstDownbeat: first,
	}
}

// onsets returns the timestamps at which the frame-energy flux exceeds the
// adaptive threshold, spaced at least MinOnsetGap apart.
func (d *Detector) onsets(t *track.Track) []float64 {
	rate := float64(t.Rate)
	win := int(d.WindowLength * rate)
	hop := int(d.HopLength * rate)
	if win <= 0 || hop <= 0 {
		return nil
	}
	frameCount := (len(t.Samples) - win) / hop
	if frameCount <= 0 {
		return nil
	}

	energy := make([]float64, frameCount)
	for i := range energy {
		from := i * hop
		sum := 0.0
		for _, v := range t.Samples[from : from+win] {
			sum += v * v
		}
		energy[i] = sum / float64(win)
	}

	flux := make([]float64, frameCount)
	for i := 1; i < frameCount; i++ {
		flux[i] = math.Max(0, energy[i]-energy[i-1])
	}

	radius := int(d.LocalMeanRadius / d.HopLength)
	var onsets []float64
	lastOnset := math.Inf(-1)
	for i := range flux {
		lo := i - radius
		if lo < 0 {
			lo = 0
		}
		hi := i + radius
		if hi >= frameCount {
			hi = frameCount - 1
		}
		sum := 0.0
		for _, f := range flux[lo : hi+1] {
			sum += f
		}
		threshold := sum/float64(hi-lo+1)*d.ThresholdRatio + thresholdEpsilon

		ts := float64(i) * d.HopLength
		if flux[i] > threshold && ts-lastOnset >= d.MinOnsetGap {
			onsets = append(onsets, ts)
			lastOnset = ts
		}
	}
	return onsets
}

// voteBPM tallies a histogram over the BPM candidates derived from the
// inter-onset intervals, including each candidate's half- and double-tempo
// variants, and returns the winner.
func (d *Detector) voteBPM(onsets []float64) (float64, bool) {
	var intervals []float64
	for i := 1; i < len(onsets); i++ {
		iv := onsets[i] - onsets[i-1]
		if iv >= d.MinInterval && iv <= d.MaxInterval {
			intervals = append(intervals, iv)
		}
	}
	if len(intervals) < minIntervals {
		return 0, false
	}

	// The unmodified candidate carries double weight so a perfectly
	// regular pulse resolves to its base tempo instead of tying with its
	// half/double variants.
	votes := map[int]int{}
	for _, iv := range intervals {
		bpm := 60 / iv
		votes[int(math.Round(d.clampBPM(bpm)))] += 2
		votes[int(math.Round(d.clampBPM(bpm/2)))]++
		votes[int(math.Round(d.clampBPM(bpm*2)))]++
	}

	best, bestVotes := 0, 0
	for bpm, n := range votes {
		if n > bestVotes || (n == bestVotes && bpm < best) {
			best = bpm
			bestVotes = n
		}
	}
	if best <= 0 {
		return 0, false
	}
	return float64(best), true
}

func (d *Detector) clampBPM(bpm float64) float64 {
	if bpm < d.MinBPM {
		return d.MinBPM
	}
	if bpm > d.MaxBPM {
		return d.MaxBPM
	}
	return bpm
}
