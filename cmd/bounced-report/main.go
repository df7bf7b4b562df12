package main

import (
	"context"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"

	"github.com/khincker/bounced-site/pkg/align"
	"github.com/khincker/bounced-site/pkg/align/implementations/gccphat"
	"github.com/khincker/bounced-site/pkg/align/implementations/xcorr"
	"github.com/khincker/bounced-site/pkg/engine"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	alignerName := pflag.String("aligner", "xcorr", "alignment implementation: xcorr or gccphat")
	noAlign := pflag.Bool("no-align", false, "skip time alignment")
	bins := pflag.Int("bins", 0, "number of analysis bins (0 means the default)")
	dump := pflag.Bool("dump", false, "dump the session snapshot")
	pflag.Parse()

	if pflag.NArg() != 2 {
		panic("expected exactly two positional arguments: paths to the two mixes")
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	var aligner align.Aligner
	switch *alignerName {
	case "xcorr":
		aligner = xcorr.NewAligner()
	case "gccphat":
		aligner = gccphat.NewAligner()
	default:
		panic(fmt.Sprintf("unknown aligner %q", *alignerName))
	}

	e := engine.New(engine.Config{
		TrackA:           &engine.TrackRef{URL: pflag.Arg(0), Label: "A"},
		TrackB:           &engine.TrackRef{URL: pflag.Arg(1), Label: "B"},
		AlignmentEnabled: !*noAlign,
		Features: engine.FeatureFlags{
			BeatGrid: true,
			DriftMap: true,
			Markers:  true,
		},
		Aligner: aligner,
		Fetch: func(ctx context.Context, url string) ([]byte, error) {
			return os.ReadFile(url)
		},
		PeakBins: *bins,
		DiffBins: *bins,
	})
	assertNoError(e.Load(ctx))
	defer e.Close()

	fmt.Printf("duration: %s\n", engine.FormatTime(e.Duration()))
	fmt.Printf("offset:   %+.4fs\n", e.Offset())

	if grid := e.Beats(); grid != nil {
		fmt.Printf("tempo:    %.0f BPM (%d beats, first downbeat at %s)\n",
			grid.BPM, len(grid.Beats), engine.FormatTime(grid.FirstDownbeat))
	} else {
		fmt.Println("tempo:    insufficient rhythmic content")
	}

	if d := e.Diff(); d != nil {
		fmt.Printf("max divergence: %.6f\n", d.Max)
		binLen := e.Duration() / float64(len(d.Bins))
		for _, i := range topBins(d.Bins, 3) {
			fmt.Printf("  %s  %.6f\n", engine.FormatTime(float64(i)*binLen), d.Bins[i])
		}
	} else {
		fmt.Println("divergence analysis unavailable")
	}

	if *dump {
		spew.Dump(e.State())
	}
}

// topBins returns the indices of the n largest bins, largest first.
func topBins(bins []float64, n int) []int {
	indices := make([]int, 0, n)
	for len(indices) < n {
		best, bestVal := -1, 0.0
		for i, v := range bins {
			if v <= bestVal {
				continue
			}
			taken := false
			for _, j := range indices {
				if j == i {
					taken = true
					break
				}
			}
			if !taken {
				best, bestVal = i, v
			}
		}
		if best < 0 {
			break
		}
		indices = append(indices, best)
	}
	return indices
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
