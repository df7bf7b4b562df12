// Package decode turns encoded audio streams into mono analysis tracks.
// Only one reference channel is analyzed, so multi-channel input is
// downmixed by averaging.
package decode

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/datacounter"

	"github.com/khincker/bounced-site/pkg/track"
)

// Func is the decode collaborator signature the engine consumes.
type Func func(ctx context.Context, label string, r io.Reader) (*track.Track, error)

// Auto sniffs the container magic and routes to the matching decoder.
func Auto(ctx context.Context, label string, r io.Reader) (*track.Track, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("unable to sniff the container: %w", err)
	}
	switch string(magic) {
	case "OggS":
		return Vorbis(ctx, label, br)
	case "RIFF":
		return WAV(ctx, label, br)
	default:
		return nil, fmt.Errorf("unrecognized container (magic %q)", magic)
	}
}

// Vorbis decodes an ogg/vorbis stream.
func Vorbis(ctx context.Context, label string, rawReader io.Reader) (*track.Track, error) {
	counter := datacounter.NewReaderCounter(rawReader)
	data, format, err := oggvorbis.ReadAll(counter)
	if err != nil {
		return nil, fmt.Errorf("unable to decode a vorbis stream: %w", err)
	}
	samples := downmixFloat32(data, format.Channels)
	logger.Debugf(ctx, "decoded %q: %d bytes -> %d mono samples at %dHz",
		label, counter.Count(), len(samples), format.SampleRate)
	return track.New(label, format.SampleRate, samples), nil
}

func downmixFloat32(data []float32, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	out := make([]float64, len(data)/channels)
	for i := range out {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		out[i] = sum / float64(channels)
	}
	return out
}
