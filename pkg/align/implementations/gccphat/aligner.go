// Package gccphat implements time alignment using Generalized
// Cross-Correlation with Phase Transform (GCC-PHAT).
//
// The offset between the two tracks is located in the frequency domain: the
// cross-power spectrum is whitened so that only phase information remains,
// which makes the peak robust against level differences between the two
// mixes. It is the alternative to the default dot-product aligner and is
// mostly useful when the two recordings differ strongly in loudness.
package gccphat

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/khincker/bounced-site/pkg/align"
	"github.com/khincker/bounced-site/pkg/track"
)

const (
	// DefaultMinFreq and DefaultMaxFreq bound the band used for the phase
	// transform: 100Hz..12kHz captures most informative audio while
	// filtering out low-frequency rumble and high-frequency noise.
	DefaultMinFreq = 100
	DefaultMaxFreq = 12000

	// DefaultMinConfidence is the confidence below which the result is
	// discarded in favor of a zero offset.
	DefaultMinConfidence = 0.2

	// whitenFloor is the fraction of the peak cross-spectrum magnitude
	// below which bins are dropped instead of whitened (60dB down).
	whitenFloor = 0.001
)

type Aligner struct {
	MinFreq       float64
	MaxFreq       float64
	MinConfidence float64
}

var _ align.Aligner = (*Aligner)(nil)

func NewAligner() *Aligner {
	return &Aligner{
		MinFreq:       DefaultMinFreq,
		MaxFreq:       DefaultMaxFreq,
		MinConfidence: DefaultMinConfidence,
	}
}

// FindOffset returns the signed offset in seconds between the two tracks;
// positive means b's content starts later than a's. A low-confidence match
// yields zero.
func (g *Aligner) FindOffset(
	ctx context.Context,
	a, b *track.Track,
) (float64, error) {
	if a == nil || b == nil || len(a.Samples) == 0 || len(b.Samples) == 0 {
		return 0, nil
	}
	if a.Rate != b.Rate || a.Rate <= 0 {
		return 0, nil
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	// FFT size: next power of two of (n1 + n2 - 1) to avoid circular
	// convolution artifacts.
	n1 := len(a.Samples)
	n2 := len(b.Samples)
	n := 1
	for n < n1+n2-1 {
		n <<= 1
	}

	fa := make([]complex128, n)
	fb := make([]complex128, n)
	for i, v := range a.Samples {
		fa[i] = complex(v, 0)
	}
	for i, v := range b.Samples {
		fb[i] = complex(v, 0)
	}
	ffa := fft.FFT(fa)
	ffb := fft.FFT(fb)

	shift, confidence := phatPeak(ffa, ffb, float64(a.Rate), g.MinFreq, g.MaxFreq)
	if confidence < g.MinConfidence {
		return 0, nil
	}
	return shift / float64(a.Rate), nil
}

// phatPeak locates the peak of the whitened cross-correlation of the two
// spectra and returns the shift in samples (positive means the second signal
// lags the first) plus a 0..1 confidence score.
func phatPeak(fa, fb []complex128, sampleRate, minFreq, maxFreq float64) (float64, float64) {
	n := len(fa)

	binMin := 0
	binMax := n / 2
	if minFreq > 0 {
		binMin = int(minFreq * float64(n) / sampleRate)
	}
	if maxFreq > 0 && maxFreq < sampleRate/2 {
		binMax = int(maxFreq * float64(n) / sampleRate)
	}

	// Only whiten bins whose energy stands above the floor, otherwise the
	// phase of near-empty bins amplifies noise.
	maxMag := 0.0
	for i := 0; i < n; i++ {
		if mag := cmplx.Abs(fb[i] * cmplx.Conj(fa[i])); mag > maxMag {
			maxMag = mag
		}
	}
	threshold := maxMag * whitenFloor

	res := make([]complex128, n)
	activeBins := 0
	for i := 0; i < n; i++ {
		idx := i
		if i > n/2 {
			idx = n - i
		}
		if idx < binMin || idx > binMax {
			continue
		}
		prod := fb[i] * cmplx.Conj(fa[i])
		if mag := cmplx.Abs(prod); mag > threshold && mag > 1e-12 {
			res[i] = prod / complex(mag, 0)
			activeBins++
		}
	}
	if activeBins == 0 {
		return 0, 0
	}

	timeDomain := fft.IFFT(res)

	maxVal := -1.0
	maxIdx := 0
	for i := 0; i < n; i++ {
		if val := cmplx.Abs(timeDomain[i]); val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	// Peak at index k means b(t) ≈ a(t-k): b lags a by k samples.
	shift := float64(maxIdx)
	if shift > float64(n/2) {
		shift -= float64(n)
	}

	// Sub-sample refinement (parabolic).
	if maxIdx > 0 && maxIdx < n-1 {
		y1 := cmplx.Abs(timeDomain[maxIdx-1])
		y2 := maxVal
		y3 := cmplx.Abs(timeDomain[maxIdx+1])
		if denom := y1 - 2*y2 + y3; math.Abs(denom) > 1e-12 {
			shift += (y1 - y3) / (2 * denom)
		}
	}

	// A perfect match puts activeBins/n worth of magnitude into the peak,
	// so the peak normalized by that is a 0..1 confidence.
	confidence := maxVal * float64(n) / float64(activeBins)
	if confidence > 1 {
		confidence = 1
	}
	return shift, confidence
}
