// Package xcorr implements time alignment by waveform cross-correlation.
//
// Two strategies are tried in order. The fast path trims leading silence
// from both tracks and refines the match with a short windowed dot-product
// search. If the refined match is not convincing, a bidirectional coarse
// correlation over downsampled audio locates the match region first, and
// the same windowed search then refines it at full resolution.
//
// The thresholds below are empirically chosen; they are kept as overridable
// fields rather than re-derived.
package xcorr

import (
	"context"
	"math"

	"github.com/brettbuddin/fourier"

	"github.com/khincker/bounced-site/pkg/align"
	"github.com/khincker/bounced-site/pkg/track"
)

const (
	// DefaultDurationSlack is the duration difference below which two
	// tracks are assumed to be already aligned.
	DefaultDurationSlack = 0.05

	// DefaultSilenceThreshold is the amplitude above which a sample counts
	// as the start of actual content.
	DefaultSilenceThreshold = 0.01

	// DefaultPatternLength is the length, in seconds, of the reference
	// pattern used by the windowed refinement search.
	DefaultPatternLength = 0.5

	// DefaultRefineRadius is the half-width, in seconds, of the windowed
	// refinement search.
	DefaultRefineRadius = 0.1

	// DefaultAcceptCorrelation is the normalized correlation above which
	// the silence-trim strategy is accepted without a coarse search.
	DefaultAcceptCorrelation = 0.7

	// DefaultCoarseRate is the effective sample rate, in Hz, the coarse
	// search downsamples to.
	DefaultCoarseRate = 4000

	// DefaultCoarsePatternLength is the length, in seconds, of the coarse
	// search pattern.
	DefaultCoarsePatternLength = 4

	// DefaultCoarseSearchLength is how far, in seconds, into the other
	// track the coarse pattern is searched.
	DefaultCoarseSearchLength = 60
)

type Aligner struct {
	DurationSlack       float64
	SilenceThreshold    float64
	PatternLength       float64
	RefineRadius        float64
	AcceptCorrelation   float64
	CoarseRate          float64
	CoarsePatternLength float64
	CoarseSearchLength  float64
}

var _ align.Aligner = (*Aligner)(nil)

func NewAligner() *Aligner {
	return &Aligner{
		DurationSlack:       DefaultDurationSlack,
		SilenceThreshold:    DefaultSilenceThreshold,
		PatternLength:       DefaultPatternLength,
		RefineRadius:        DefaultRefineRadius,
		AcceptCorrelation:   DefaultAcceptCorrelation,
		CoarseRate:          DefaultCoarseRate,
		CoarsePatternLength: DefaultCoarsePatternLength,
		CoarseSearchLength:  DefaultCoarseSearchLength,
	}
}

// FindOffset returns the signed offset in seconds between the two tracks;
// positive means b's content starts later than a's.
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
	if math.Abs(a.Duration()-b.Duration()) < g.DurationSlack {
		return 0, nil
	}

	rate := float64(a.Rate)
	startA := a.FirstLoudIndex(g.SilenceThreshold)
	startB := b.FirstLoudIndex(g.SilenceThreshold)
	if startA < 0 || startB < 0 {
		return 0, nil
	}

	patternA := patternAt(a.Samples, startA, int(g.PatternLength*rate))
	patternB := patternAt(b.Samples, startB, int(g.PatternLength*rate))
	radius := int(g.RefineRadius * rate)

	if len(patternA) > 0 {
		pos, norm := refine(b.Samples, patternA, startB, radius)
		if norm > g.AcceptCorrelation {
			return roundedOffset(float64(pos-startA) / rate), nil
		}
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	factor := int(math.Round(rate / g.CoarseRate))
	if factor < 1 {
		factor = 1
	}
	coarsePatLen := int(g.CoarsePatternLength * rate)
	searchLen := int(g.CoarseSearchLength * rate)

	fwdPos, fwdScore := coarseSearch(
		decimate(head(b.Samples, searchLen), factor),
		decimate(patternAt(a.Samples, startA, coarsePatLen), factor),
	)
	revPos, revScore := coarseSearch(
		decimate(head(a.Samples, searchLen), factor),
		decimate(patternAt(b.Samples, startB, coarsePatLen), factor),
	)

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if fwdScore >= revScore {
		if len(patternA) == 0 {
			return 0, nil
		}
		pos, _ := refine(b.Samples, patternA, fwdPos*factor, radius)
		return roundedOffset(float64(pos-startA) / rate), nil
	}
	if len(patternB) == 0 {
		return 0, nil
	}
	pos, _ := refine(a.Samples, patternB, revPos*factor, radius)
	return roundedOffset(-float64(pos-startB) / rate), nil
}

// roundedOffset snaps near-zero results to exactly zero so that degenerate
// offsets do not trigger shifting logic downstream.
func roundedOffset(offset float64) float64 {
	if math.Round(offset*1000) == 0 {
		return 0
	}
	return offset
}

func patternAt(samples []float64, start, length int) []float64 {
	if start < 0 || start >= len(samples) {
		return nil
	}
	end := start + length
	if end > len(samples) {
		end = len(samples)
	}
	return samples[start:end]
}

func head(samples []float64, length int) []float64 {
	if length > len(samples) {
		length = len(samples)
	}
	return samples[:length]
}

// refine searches the ±radius window around center for the position of the
// pattern maximizing the raw dot product, then evaluates the normalized
// correlation (dot product over the geometric mean of both sides' energy)
// at the winning position.
func refine(haystack, pattern []float64, center, radius int) (int, float64) {
	lo := center - radius
	if lo < 0 {
		lo = 0
	}
	hi := center + radius
	if max := len(haystack) - len(pattern); hi > max {
		hi = max
	}
	if hi < lo || len(pattern) == 0 {
		return center, 0
	}

	best, bestDot := lo, math.Inf(-1)
	for cand := lo; cand <= hi; cand++ {
		dot := 0.0
		for j, p := range pattern {
			dot += p * haystack[cand+j]
		}
		if dot > bestDot {
			bestDot = dot
			best = cand
		}
	}

	var energyP, energyH float64
	for j, p := range pattern {
		energyP += p * p
		h := haystack[best+j]
		energyH += h * h
	}
	denom := math.Sqrt(energyP * energyH)
	if denom == 0 {
		return best, 0
	}
	return best, bestDot / denom
}

// coarseSearch slides the pattern across the haystack and returns the
// position of the highest correlation together with its score, the
// correlation normalized by pattern length. The scan runs in the frequency
// domain when possible and falls back to a direct scan otherwise.
func coarseSearch(haystack, pattern []float64) (int, float64) {
	if len(pattern) == 0 || len(haystack) < len(pattern) {
		return 0, math.Inf(-1)
	}
	span := len(haystack) - len(pattern)

	corr, ok := fftCorrelate(haystack, pattern)
	best, bestCorr := 0, math.Inf(-1)
	if ok {
		for pos := 0; pos <= span; pos++ {
			if corr[pos] > bestCorr {
				bestCorr = corr[pos]
				best = pos
			}
		}
	} else {
		for pos := 0; pos <= span; pos++ {
			dot := 0.0
			for j, p := range pattern {
				dot += p * haystack[pos+j]
			}
			if dot > bestCorr {
				bestCorr = dot
				best = pos
			}
		}
	}
	return best, bestCorr / float64(len(pattern))
}

// fftCorrelate computes corr[k] = Σ pattern[j]·haystack[k+j] for all lags
// via the frequency domain.
func fftCorrelate(haystack, pattern []float64) ([]float64, bool) {
	n := 1
	for n < len(haystack)+len(pattern) {
		n <<= 1
	}

	fh := make([]complex128, n)
	fp := make([]complex128, n)
	for i, v := range haystack {
		fh[i] = complex(v, 0)
	}
	for i, v := range pattern {
		fp[i] = complex(v, 0)
	}
	if err := fourier.Forward(fh); err != nil {
		return nil, false
	}
	if err := fourier.Forward(fp); err != nil {
		return nil, false
	}

	res := make([]complex128, n)
	for i := range res {
		res[i] = fh[i] * complex(real(fp[i]), -imag(fp[i]))
	}
	if err := fourier.Inverse(res); err != nil {
		return nil, false
	}

	corr := make([]float64, len(haystack))
	for i := range corr {
		corr[i] = real(res[i])
	}
	return corr, true
}

// decimate reduces the sample rate by the given integer factor, averaging
// each group of samples.
func decimate(samples []float64, factor int) []float64 {
	if factor <= 1 {
		return samples
	}
	out := make([]float64, len(samples)/factor)
	for i := range out {
		sum := 0.0
		for j := 0; j < factor; j++ {
			sum += samples[i*factor+j]
		}
		out[i] = sum / float64(factor)
	}
	return out
}
