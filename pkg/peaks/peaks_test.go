package peaks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khincker/bounced-site/pkg/track"
)

func TestExtract(t *testing.T) {
	t.Run("one peak per bin", func(t *testing.T) {
		samples := make([]float64, 1000)
		for i := 0; i < 10; i++ {
			samples[i*100+5] = float64(i+1) / 10
		}
		tr := track.New("A", 1000, samples)

		series := Extract(tr, 0, 0, 1, 10)
		require.Len(t, series, 10)
		for i, v := range series {
			assert.InDelta(t, float64(i+1)/10, v, 1e-9)
		}
	})

	t.Run("negative amplitude counts", func(t *testing.T) {
		samples := make([]float64, 100)
		samples[50] = -0.8
		tr := track.New("A", 100, samples)

		series := Extract(tr, 0, 0, 1, 1)
		require.Len(t, series, 1)
		assert.InDelta(t, 0.8, series[0], 1e-9)
	})

	t.Run("shift maps into the native timeline", func(t *testing.T) {
		samples := make([]float64, 1000)
		samples[600] = 1.0
		tr := track.New("A", 1000, samples)

		// with a 0.5s shift, the common-timeline slice [0.1, 0.2) covers
		// native [0.6, 0.7)
		series := Extract(tr, 0.5, 0, 0.5, 5)
		require.Len(t, series, 5)
		assert.Equal(t, 1.0, series[1])
		assert.Equal(t, 0.0, series[0])
	})

	t.Run("region past the end yields zero bins", func(t *testing.T) {
		tr := track.New("A", 100, make([]float64, 100))
		series := Extract(tr, 0, 5, 6, 4)
		require.Len(t, series, 4)
		for _, v := range series {
			assert.Equal(t, 0.0, v)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		assert.Nil(t, Extract(nil, 0, 0, 1, 10))
		assert.Nil(t, Extract(track.New("A", 100, nil), 0, 0, 1, 10))
		assert.Nil(t, Extract(track.New("A", 100, make([]float64, 100)), 0, 1, 1, 10))
	})

	t.Run("default bin count", func(t *testing.T) {
		tr := track.New("A", 100, make([]float64, 1000))
		assert.Len(t, Extract(tr, 0, 0, 10, 0), DefaultBinCount)
	})
}
