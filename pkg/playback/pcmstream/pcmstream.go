// Package pcmstream renders track samples as float32 little-endian mono PCM
// streams for the playback backends: an endless loop-wrapping reader for
// sessions and a finite fading reader for scrub bursts. Rate conversion to
// the backend's output rate happens inline by linear interpolation.
package pcmstream

import (
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/khincker/bounced-site/pkg/track"
)

const bytesPerSample = 4

// LoopReader is an endless reader over one track, looping within the
// track-native projection of the common-timeline loop bounds. Gain and
// loop bounds may be updated live while a backend consumes the stream.
type LoopReader struct {
	mu      sync.Mutex
	samples []float64
	rate    float64
	outRate float64
	shift   float64
	gain    float64

	// native fractional sample positions
	pos       float64
	loopStart float64
	loopEnd   float64
}

// NewLoopReader positions the reader at startAt seconds of the common
// timeline, looping within [loopStart, loopEnd] seconds shifted by the
// track's alignment shift.
func NewLoopReader(t *track.Track, outRate int, shift, startAt, loopStart, loopEnd, gain float64) *LoopReader {
	r := &LoopReader{
		samples: t.Samples,
		rate:    float64(t.Rate),
		outRate: float64(outRate),
		shift:   shift,
		gain:    gain,
	}
	r.pos = (startAt + shift) * r.rate
	r.setLoopLocked(loopStart, loopEnd)
	return r
}

var _ io.Reader = (*LoopReader)(nil)

func (r *LoopReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step := r.rate / r.outRate
	n := len(p) / bytesPerSample
	for i := 0; i < n; i++ {
		v := sampleAt(r.samples, r.pos) * r.gain
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(float32(v)))
		r.pos += step
		if r.loopEnd > r.loopStart && r.pos >= r.loopEnd {
			r.pos = r.loopStart + math.Mod(r.pos-r.loopEnd, r.loopEnd-r.loopStart)
		}
	}
	return n * bytesPerSample, nil
}

// SetGain routes the stream's audibility without interrupting it.
func (r *LoopReader) SetGain(gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gain = gain
}

// SetLoop installs new loop bounds, in seconds on the common timeline.
func (r *LoopReader) SetLoop(loopStart, loopEnd float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLoopLocked(loopStart, loopEnd)
}

func (r *LoopReader) setLoopLocked(loopStart, loopEnd float64) {
	r.loopStart = (loopStart + r.shift) * r.rate
	r.loopEnd = (loopEnd + r.shift) * r.rate
	if max := float64(len(r.samples)); r.loopEnd > max {
		r.loopEnd = max
	}
	if r.loopStart < 0 {
		r.loopStart = 0
	}
}

// BurstReader is a finite reader over a short clip of one track with a
// linear fade-out; it returns io.EOF once the clip is exhausted.
type BurstReader struct {
	mu      sync.Mutex
	samples []float64
	rate    float64
	outRate float64
	pos     float64
	left    int
	total   int
}

// NewBurstReader reads lengthSeconds of the track starting at startAt
// seconds of the common timeline shifted into the track's own timeline.
func NewBurstReader(t *track.Track, outRate int, shift, startAt, lengthSeconds float64) *BurstReader {
	total := int(lengthSeconds * float64(outRate))
	return &BurstReader{
		samples: t.Samples,
		rate:    float64(t.Rate),
		outRate: float64(outRate),
		pos:     (startAt + shift) * float64(t.Rate),
		left:    total,
		total:   total,
	}
}

var _ io.Reader = (*BurstReader)(nil)

func (r *BurstReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.left <= 0 {
		return 0, io.EOF
	}
	step := r.rate / r.outRate
	n := len(p) / bytesPerSample
	if n > r.left {
		n = r.left
	}
	for i := 0; i < n; i++ {
		fade := float64(r.left-i) / float64(r.total)
		v := sampleAt(r.samples, r.pos) * fade
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(float32(v)))
		r.pos += step
	}
	r.left -= n
	return n * bytesPerSample, nil
}

// sampleAt linearly interpolates the sample at a fractional position;
// positions outside the buffer read as silence.
func sampleAt(samples []float64, pos float64) float64 {
	if pos < 0 {
		return 0
	}
	i := int(pos)
	if i >= len(samples) {
		return 0
	}
	v := samples[i]
	if i+1 < len(samples) {
		frac := pos - float64(i)
		v += (samples[i+1] - v) * frac
	}
	return v
}
