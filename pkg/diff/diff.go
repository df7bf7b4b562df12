// Package diff computes the per-region divergence between two aligned
// tracks: each bin is the RMS of the elementwise sample difference over the
// bin's overlap of the two tracks.
package diff

import (
	"math"

	"github.com/khincker/bounced-site/pkg/track"
)

// DefaultBinCount matches the peak-envelope bin count so the two stay
// index-aligned on screen.
const DefaultBinCount = 300

// Series is the divergence of one time region. Max is the largest bin
// value; consumers normalize against it. A zoomed recomputation must keep
// normalizing against the full-track Max so zoomed and unzoomed views stay
// visually comparable.
type Series struct {
	Bins []float64
	Max  float64
}

// ComputeFull computes the divergence over the whole aligned overlap of the
// two tracks.
func ComputeFull(a, b *track.Track, offset float64, binCount int) *Series {
	return Compute(a, b, offset, binCount, 0, track.AlignedDuration(a, b, offset))
}

// Compute computes the divergence of the region [startSec, endSec) of the
// common timeline. Returns nil when either track is missing or the region
// is empty; absence means "analysis unavailable", not a fault.
func Compute(a, b *track.Track, offset float64, binCount int, startSec, endSec float64) *Series {
	if a == nil || b == nil || len(a.Samples) == 0 || len(b.Samples) == 0 {
		return nil
	}
	if a.Rate != b.Rate || a.Rate <= 0 {
		return nil
	}
	length := endSec - startSec
	if length <= 0 {
		return nil
	}
	if binCount <= 0 {
		binCount = DefaultBinCount
	}

	shiftA, shiftB := track.Shifts(offset)
	sliceLen := length / float64(binCount)

	out := &Series{Bins: make([]float64, binCount)}
	for i := 0; i < binCount; i++ {
		binStart := startSec + float64(i)*sliceLen
		binEnd := binStart + sliceLen

		fromA := clampIndex(a, binStart+shiftA)
		toA := clampIndex(a, binEnd+shiftA)
		fromB := clampIndex(b, binStart+shiftB)
		toB := clampIndex(b, binEnd+shiftB)

		// Only the sample span common to both tracks is compared;
		// bins with no overlap stay zero.
		n := toA - fromA
		if m := toB - fromB; m < n {
			n = m
		}
		if n <= 0 {
			continue
		}

		sum := 0.0
		for j := 0; j < n; j++ {
			d := a.Samples[fromA+j] - b.Samples[fromB+j]
			sum += d * d
		}
		rms := math.Sqrt(sum / float64(n))
		out.Bins[i] = rms
		if rms > out.Max {
			out.Max = rms
		}
	}
	return out
}

func clampIndex(t *track.Track, sec float64) int {
	idx := t.IndexAt(sec)
	if idx < 0 {
		return 0
	}
	if idx > len(t.Samples) {
		return len(t.Samples)
	}
	return idx
}
