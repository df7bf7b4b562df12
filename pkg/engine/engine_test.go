package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khincker/bounced-site/pkg/beat"
	"github.com/khincker/bounced-site/pkg/playback"
	"github.com/khincker/bounced-site/pkg/samplecache"
	"github.com/khincker/bounced-site/pkg/track"
)

// fakeDecode turns every byte of the payload into 10s of samples whose
// amplitude is derived from the first byte.
func fakeDecode(_ context.Context, label string, r io.Reader) (*track.Track, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty stream")
	}
	samples := make([]float64, 1000)
	for i := range samples {
		samples[i] = float64(data[0]) / 255
	}
	return track.New(label, 100, samples), nil
}

func mapFetch(files map[string][]byte, calls *int) FetchFunc {
	return func(_ context.Context, url string) ([]byte, error) {
		if calls != nil {
			*calls++
		}
		data, ok := files[url]
		if !ok {
			return nil, fmt.Errorf("no such file: %q", url)
		}
		return data, nil
	}
}

type fixedAligner struct {
	offset float64
}

func (f fixedAligner) FindOffset(context.Context, *track.Track, *track.Track) (float64, error) {
	return f.offset, nil
}

func testConfig(files map[string][]byte) Config {
	return Config{
		TrackA:           &TrackRef{URL: "a.wav", Label: "A"},
		TrackB:           &TrackRef{URL: "b.wav", Label: "B"},
		AlignmentEnabled: true,
		Features: FeatureFlags{
			Scrubbing: true,
			BeatGrid:  true,
			DriftMap:  true,
			Markers:   true,
		},
		Aligner: fixedAligner{},
		Fetch:   mapFetch(files, nil),
		Decode:  fakeDecode,
	}
}

func bothTracks() map[string][]byte {
	return map[string][]byte{
		"a.wav": {200},
		"b.wav": {100},
	}
}

func TestEngine_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("both tracks", func(t *testing.T) {
		e := New(testConfig(bothTracks()))
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		assert.NotNil(t, e.Track(playback.TrackA))
		assert.NotNil(t, e.Track(playback.TrackB))
		assert.Equal(t, 10.0, e.Duration())
		assert.NotNil(t, e.Peaks(playback.TrackA))
		require.NotNil(t, e.Diff())
		assert.Greater(t, e.Diff().Max, 0.0)
	})

	t.Run("one failing track degrades", func(t *testing.T) {
		e := New(testConfig(map[string][]byte{"a.wav": {200}}))
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		assert.NotNil(t, e.Track(playback.TrackA))
		assert.Nil(t, e.Track(playback.TrackB))
		assert.Nil(t, e.Diff())

		// switching to the absent track is a no-op
		require.NoError(t, e.SwitchTrack(playback.TrackB))
		assert.Equal(t, playback.TrackA, e.ActiveTrack())
	})

	t.Run("all requested tracks failing is terminal", func(t *testing.T) {
		e := New(testConfig(nil))
		defer e.Close()
		assert.Error(t, e.Load(ctx))
	})

	t.Run("cached bytes skip the fetcher", func(t *testing.T) {
		cache := samplecache.NewMemory()
		calls := 0

		cfg := testConfig(bothTracks())
		cfg.Cache = cache
		cfg.Fetch = mapFetch(bothTracks(), &calls)

		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		require.NoError(t, e.Close())
		assert.Equal(t, 2, calls)

		cfg2 := testConfig(bothTracks())
		cfg2.Cache = cache
		cfg2.Fetch = mapFetch(bothTracks(), &calls)
		e2 := New(cfg2)
		require.NoError(t, e2.Load(ctx))
		require.NoError(t, e2.Close())
		assert.Equal(t, 2, calls, "the second session must be served from the cache")
	})

	t.Run("alignment offset shortens the overlap", func(t *testing.T) {
		cfg := testConfig(bothTracks())
		cfg.Aligner = fixedAligner{offset: 2.0}
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		assert.Equal(t, 2.0, e.Offset())
		assert.Equal(t, 10.0, e.Duration())
	})
}

func TestEngine_Transport(t *testing.T) {
	ctx := context.Background()

	t.Run("events fire on transitions", func(t *testing.T) {
		var played, stopped int
		var switched []playback.TrackID
		var seeks []float64

		cfg := testConfig(bothTracks())
		cfg.Events = Events{
			OnPlay:        func() { played++ },
			OnStop:        func() { stopped++ },
			OnTrackSwitch: func(id playback.TrackID) { switched = append(switched, id) },
			OnSeek:        func(s float64) { seeks = append(seeks, s) },
		}
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		require.NoError(t, e.Play(ctx))
		require.NoError(t, e.SwitchTrack(playback.TrackB))
		require.NoError(t, e.Seek(ctx, 0.5))
		require.NoError(t, e.Stop())
		require.NoError(t, e.Stop()) // stopping while stopped stays silent

		assert.Equal(t, 1, played)
		assert.Equal(t, 1, stopped)
		assert.Equal(t, []playback.TrackID{playback.TrackB}, switched)
		assert.Equal(t, []float64{5.0}, seeks)
	})

	t.Run("restricted loop edits", func(t *testing.T) {
		cfg := testConfig(bothTracks())
		cfg.InitialLoop = &playback.Region{Start: 0.2, End: 0.6}
		cfg.RestrictRegion = true
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		require.NoError(t, e.SetLoop(ctx, 0, 1))
		assert.Equal(t, playback.Region{Start: 0.2, End: 0.6}, e.Loop())

		require.NoError(t, e.SetLoop(ctx, 0.3, 0.9))
		assert.Equal(t, playback.Region{Start: 0.3, End: 0.6}, e.Loop())

		// a request entirely past the restriction must not escape it
		require.NoError(t, e.SetLoop(ctx, 0.7, 0.9))
		loop := e.Loop()
		assert.LessOrEqual(t, loop.End, 0.6+1e-9)
		assert.GreaterOrEqual(t, loop.Start, 0.2-1e-9)
		assert.GreaterOrEqual(t, loop.Width(), playback.MinLoopGap-1e-9)

		require.NoError(t, e.SetLoop(ctx, 0.0, 0.1))
		loop = e.Loop()
		assert.GreaterOrEqual(t, loop.Start, 0.2-1e-9)
		assert.LessOrEqual(t, loop.End, 0.6+1e-9)
	})

	t.Run("scrub honors the feature flag", func(t *testing.T) {
		cfg := testConfig(bothTracks())
		cfg.Features.Scrubbing = false
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		assert.NoError(t, e.Scrub(ctx, 1.0))
	})
}

func TestEngine_Zoom(t *testing.T) {
	ctx := context.Background()

	t.Run("zoom re-bases the view and keeps the full max", func(t *testing.T) {
		e := New(testConfig(bothTracks()))
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		fullMax := e.Diff().Max
		require.NoError(t, e.SetLoop(ctx, 0.2, 0.4))
		require.True(t, e.ZoomToLoop())

		require.NotNil(t, e.Zoom())
		assert.Equal(t, playback.Region{Start: 0.2, End: 0.4}, *e.Zoom())
		require.NotNil(t, e.Diff())
		assert.Equal(t, fullMax, e.Diff().Max)

		// view mapping is re-based to [2s, 4s]
		assert.InDelta(t, 0.5, e.ToView(3.0), 1e-9)
		assert.InDelta(t, 3.0, e.FromView(0.5), 1e-9)

		e.Unzoom()
		assert.Nil(t, e.Zoom())
		assert.InDelta(t, 0.3, e.ToView(3.0), 1e-9)
	})

	t.Run("a disabled drift map stays disabled while zoomed", func(t *testing.T) {
		cfg := testConfig(bothTracks())
		cfg.Features.DriftMap = false
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		require.Nil(t, e.Diff())
		require.NoError(t, e.SetLoop(ctx, 0.2, 0.4))
		require.True(t, e.ZoomToLoop())
		assert.Nil(t, e.Diff())
	})
}

func TestOnCommonTimeline(t *testing.T) {
	grid := &beat.Grid{BPM: 120, Beats: []float64{0.5, 1.0, 1.5}, BeatsPerBar: 4, FirstDownbeat: 0.5}

	t.Run("zero shift passes through", func(t *testing.T) {
		assert.Equal(t, grid, onCommonTimeline(grid, 0))
	})

	t.Run("shift re-bases and drops early beats", func(t *testing.T) {
		got := onCommonTimeline(grid, 0.75)
		require.NotNil(t, got)
		assert.Equal(t, 120.0, got.BPM)
		assert.Equal(t, 4, got.BeatsPerBar)
		require.Len(t, got.Beats, 2)
		assert.InDelta(t, 0.25, got.Beats[0], 1e-9)
		assert.InDelta(t, 0.75, got.Beats[1], 1e-9)
		assert.InDelta(t, 0.25, got.FirstDownbeat, 1e-9)
	})

	t.Run("a grid entirely before the common start vanishes", func(t *testing.T) {
		assert.Nil(t, onCommonTimeline(grid, 2.0))
	})

	t.Run("nil grid stays nil", func(t *testing.T) {
		assert.Nil(t, onCommonTimeline(nil, 0.5))
	})
}

func TestEngine_Markers(t *testing.T) {
	ctx := context.Background()

	t.Run("placed markers stay sorted", func(t *testing.T) {
		var placed, removed []float64
		cfg := testConfig(bothTracks())
		cfg.Events = Events{
			OnMarkerPlace:  func(ts float64) { placed = append(placed, ts) },
			OnMarkerRemove: func(ts float64) { removed = append(removed, ts) },
		}
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		e.PlaceMarker(5.0)
		e.PlaceMarker(1.0)
		e.PlaceMarker(3.0)
		assert.Equal(t, []float64{1.0, 3.0, 5.0}, e.Markers())
		assert.Equal(t, []float64{5.0, 1.0, 3.0}, placed)

		assert.True(t, e.RemoveMarker(3.02))
		assert.Equal(t, []float64{1.0, 5.0}, e.Markers())
		assert.Equal(t, []float64{3.0}, removed)

		assert.False(t, e.RemoveMarker(4.0), "outside the tolerance")
		assert.Equal(t, []float64{1.0, 5.0}, e.Markers())
	})

	t.Run("disabled feature ignores markers", func(t *testing.T) {
		cfg := testConfig(bothTracks())
		cfg.Features.Markers = false
		e := New(cfg)
		require.NoError(t, e.Load(ctx))
		defer e.Close()

		e.PlaceMarker(1.0)
		assert.Empty(t, e.Markers())
		assert.False(t, e.RemoveMarker(1.0))
	})
}

func TestEngine_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips through JSON", func(t *testing.T) {
		e := New(testConfig(bothTracks()))
		require.NoError(t, e.Load(ctx))

		require.NoError(t, e.SwitchTrack(playback.TrackB))
		require.NoError(t, e.SetLoop(ctx, 0.25, 0.75))
		require.True(t, e.ZoomToLoop())
		e.PlaceMarker(2.5)
		e.SetShowBeats(false)
		require.NoError(t, e.Seek(ctx, 0.5))
		require.NoError(t, e.Close())

		data, err := json.Marshal(e.State())
		require.NoError(t, err)

		var restored Snapshot
		require.NoError(t, json.Unmarshal(data, &restored))

		cfg := testConfig(bothTracks())
		cfg.Restore = &restored
		e2 := New(cfg)
		require.NoError(t, e2.Load(ctx))
		defer e2.Close()

		assert.Equal(t, playback.TrackB, e2.ActiveTrack())
		assert.Equal(t, playback.Region{Start: 0.25, End: 0.75}, e2.Loop())
		require.NotNil(t, e2.Zoom())
		assert.Equal(t, playback.Region{Start: 0.25, End: 0.75}, *e2.Zoom())
		assert.Equal(t, []float64{2.5}, e2.Markers())
		assert.False(t, e2.ShowBeats())
		assert.True(t, e2.ShowDrift())
		assert.InDelta(t, 5.0, e2.Playhead(), 1e-9)
	})
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0:00.0", FormatTime(0))
	assert.Equal(t, "1:01.5", FormatTime(61.5))
	assert.Equal(t, "10:00.0", FormatTime(600))
	assert.Equal(t, "0:00.0", FormatTime(-5))

	// rounding to tenths rolls over into the minutes
	assert.Equal(t, "0:59.9", FormatTime(59.94))
	assert.Equal(t, "1:00.0", FormatTime(59.97))
}
