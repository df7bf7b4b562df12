package track

import (
	"math"
)

// Track is one decoded channel of a recording: an ordered sample
// sequence at a fixed rate. It is immutable once decoded; analysis
// components borrow it and never mutate it.
type Track struct {
	Label   string
	Rate    int
	Samples []float64
}

func New(label string, rate int, samples []float64) *Track {
	return &Track{
		Label:   label,
		Rate:    rate,
		Samples: samples,
	}
}

// Duration of the track in seconds.
func (t *Track) Duration() float64 {
	if t == nil || t.Rate <= 0 {
		return 0
	}
	return float64(len(t.Samples)) / float64(t.Rate)
}

// IndexAt converts a timestamp on the track's own timeline to a sample index.
// The result may be out of range; callers clamp where it matters.
func (t *Track) IndexAt(sec float64) int {
	return int(math.Round(sec * float64(t.Rate)))
}

// TimeAt converts a sample index to a timestamp on the track's own timeline.
func (t *Track) TimeAt(index int) float64 {
	if t.Rate <= 0 {
		return 0
	}
	return float64(index) / float64(t.Rate)
}

// FirstLoudIndex returns the index of the first sample whose absolute
// amplitude exceeds the threshold, or -1 if the whole track stays below it.
func (t *Track) FirstLoudIndex(threshold float64) int {
	for i, v := range t.Samples {
		if math.Abs(v) > threshold {
			return i
		}
	}
	return -1
}

// Shifts converts a signed alignment offset (positive means track B starts
// later than track A) into the per-track shift, in seconds, that maps a
// position on the common timeline into each track's own timeline:
//
//	nativeA = common + shiftA
//	nativeB = common + shiftB
func Shifts(offset float64) (shiftA, shiftB float64) {
	return math.Max(0, -offset), math.Max(0, offset)
}

// AlignedDuration returns the length of the overlap of the two tracks on the
// common timeline after applying the alignment shifts.
func AlignedDuration(a, b *Track, offset float64) float64 {
	shiftA, shiftB := Shifts(offset)
	d := math.Min(a.Duration()-shiftA, b.Duration()-shiftB)
	if d < 0 {
		return 0
	}
	return d
}
