package xcorr

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khincker/bounced-site/pkg/track"
)

const testRate = 8000

// mixSignal is an aperiodic test signal: three incommensurate partials so
// the autocorrelation has a single sharp peak.
func mixSignal(seconds float64) []float64 {
	samples := make([]float64, int(seconds*testRate))
	for i := range samples {
		t := float64(i) / testRate
		samples[i] = 0.6*math.Sin(2*math.Pi*150*t) +
			0.4*math.Sin(2*math.Pi*363.1*t) +
			0.25*math.Sin(2*math.Pi*487.7*t)
	}
	return samples
}

func TestAligner_FindOffset(t *testing.T) {
	ctx := context.Background()
	g := NewAligner()

	t.Run("identical tracks", func(t *testing.T) {
		a := track.New("A", testRate, mixSignal(10))
		b := track.New("B", testRate, mixSignal(10))

		offset, err := g.FindOffset(ctx, a, b)
		require.NoError(t, err)
		assert.Zero(t, offset)
	})

	t.Run("B delayed by a silent lead-in", func(t *testing.T) {
		content := mixSignal(10)
		a := track.New("A", testRate, content)
		b := track.New("B", testRate, append(make([]float64, int(1.2*testRate)), content...))

		offset, err := g.FindOffset(ctx, a, b)
		require.NoError(t, err)
		assert.InDelta(t, 1.2, offset, 0.01)
	})

	t.Run("A delayed by a silent lead-in", func(t *testing.T) {
		content := mixSignal(10)
		a := track.New("A", testRate, append(make([]float64, int(1.2*testRate)), content...))
		b := track.New("B", testRate, content)

		offset, err := g.FindOffset(ctx, a, b)
		require.NoError(t, err)
		assert.InDelta(t, -1.2, offset, 0.01)
	})

	t.Run("coarse search past an unrelated lead-in", func(t *testing.T) {
		content := mixSignal(8)
		lead := make([]float64, 2*testRate)
		for i := range lead {
			lead[i] = 0.02 * math.Sin(2*math.Pi*91*float64(i)/testRate)
		}
		a := track.New("A", testRate, content)
		b := track.New("B", testRate, append(lead, content...))

		offset, err := g.FindOffset(ctx, a, b)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, offset, 0.01)
	})

	t.Run("all-silent input", func(t *testing.T) {
		a := track.New("A", testRate, make([]float64, 10*testRate))
		b := track.New("B", testRate, make([]float64, 12*testRate))

		offset, err := g.FindOffset(ctx, a, b)
		require.NoError(t, err)
		assert.Zero(t, offset)
	})

	t.Run("mismatched rates", func(t *testing.T) {
		a := track.New("A", testRate, mixSignal(10))
		b := track.New("B", testRate*2, mixSignal(12))

		offset, err := g.FindOffset(ctx, a, b)
		require.NoError(t, err)
		assert.Zero(t, offset)
	})

	t.Run("cancellation", func(t *testing.T) {
		content := mixSignal(8)
		lead := make([]float64, 2*testRate)
		for i := range lead {
			lead[i] = 0.02 * math.Sin(2*math.Pi*91*float64(i)/testRate)
		}
		a := track.New("A", testRate, content)
		b := track.New("B", testRate, append(lead, content...))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := g.FindOffset(cancelled, a, b)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRoundedOffset(t *testing.T) {
	assert.Equal(t, 0.0, roundedOffset(0.0004))
	assert.Equal(t, 0.0, roundedOffset(-0.0004))
	assert.Equal(t, 1.2, roundedOffset(1.2))
}

func TestDecimate(t *testing.T) {
	in := []float64{1, 3, 5, 7, 9, 11}
	assert.Equal(t, []float64{2, 6, 10}, decimate(in, 2))
	assert.Equal(t, in, decimate(in, 1))
}
