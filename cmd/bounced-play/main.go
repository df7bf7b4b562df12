package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"

	"github.com/khincker/bounced-site/pkg/engine"
	"github.com/khincker/bounced-site/pkg/playback"
	_ "github.com/khincker/bounced-site/pkg/playback/backends/oto"
	_ "github.com/khincker/bounced-site/pkg/playback/backends/pulseaudio"
	"github.com/khincker/bounced-site/pkg/playback/registry"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	loopStart := pflag.Float64("loop-start", 0, "loop start as a fraction of the duration")
	loopEnd := pflag.Float64("loop-end", 1, "loop end as a fraction of the duration")
	activeTrack := pflag.String("track", "a", "audible track: a or b")
	pflag.Parse()

	if pflag.NArg() < 1 || pflag.NArg() > 2 {
		panic("expected one or two positional arguments: paths to the mixes")
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	cfg := engine.Config{
		TrackA:           &engine.TrackRef{URL: pflag.Arg(0), Label: "A"},
		AlignmentEnabled: true,
		InitialLoop:      &playback.Region{Start: *loopStart, End: *loopEnd},
		Features: engine.FeatureFlags{
			BeatGrid:  true,
			Scrubbing: true,
		},
		Fetch: func(ctx context.Context, url string) ([]byte, error) {
			return os.ReadFile(url)
		},
		Port: registry.NewPortAuto(ctx),
	}
	if pflag.NArg() == 2 {
		cfg.TrackB = &engine.TrackRef{URL: pflag.Arg(1), Label: "B"}
	}

	e := engine.New(cfg)
	assertNoError(e.Load(ctx))
	defer e.Close()

	if *activeTrack == "b" {
		assertNoError(e.SwitchTrack(playback.TrackB))
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	assertNoError(e.Play(ctx))
	logger.Infof(ctx, "playing track %v, loop [%v]", e.ActiveTrack(), e.Loop())

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logger.Infof(ctx, "position: %s", e.FormattedTime())
		case <-ctx.Done():
			assertNoError(e.Stop())
			return
		}
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
