package peaks

import (
	"math"

	"github.com/khincker/bounced-site/pkg/track"
)

// DefaultBinCount is shared with the diff and beat-overlay consumers so
// that all three stay index-aligned on screen.
const DefaultBinCount = 300

// Series is a fixed-length envelope: each bin holds the maximum absolute
// amplitude over its time slice.
type Series []float64

// Extract reduces the region [startSec, endSec) of the common timeline to
// binCount peak bins. shiftSec is the track's alignment shift: the amount
// added to a common-timeline position to get a position on the track's own
// timeline. Returns nil when the track is missing or the region is empty.
func Extract(t *track.Track, shiftSec, startSec, endSec float64, binCount int) Series {
	if t == nil || len(t.Samples) == 0 {
		return nil
	}
	if binCount <= 0 {
		binCount = DefaultBinCount
	}
	length := endSec - startSec
	if length <= 0 {
		return nil
	}

	out := make(Series, binCount)
	sliceLen := length / float64(binCount)
	for i := 0; i < binCount; i++ {
		from := t.IndexAt(startSec + shiftSec + float64(i)*sliceLen)
		to := t.IndexAt(startSec + shiftSec + float64(i+1)*sliceLen)
		if from < 0 {
			from = 0
		}
		if to > len(t.Samples) {
			to = len(t.Samples)
		}
		peak := 0.0
		for j := from; j < to; j++ {
			if v := math.Abs(t.Samples[j]); v > peak {
				peak = v
			}
		}
		out[i] = peak
	}
	return out
}
