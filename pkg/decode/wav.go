package decode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/datacounter"

	"github.com/khincker/bounced-site/pkg/track"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// WAV decodes a RIFF/WAVE stream carrying 16-bit integer or 32-bit float
// PCM.
func WAV(ctx context.Context, label string, rawReader io.Reader) (*track.Track, error) {
	counter := datacounter.NewReaderCounter(rawReader)

	var header [12]byte
	if _, err := io.ReadFull(counter, header[:]); err != nil {
		return nil, fmt.Errorf("unable to read the RIFF header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var (
		audioFormat   uint16
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		haveFormat    bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(counter, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("no data chunk found")
			}
			return nil, fmt.Errorf("unable to read a chunk header: %w", err)
		}
		chunkID := string(chunk[0:4])
		chunkLen := binary.LittleEndian.Uint32(chunk[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkLen)
			if _, err := io.ReadFull(counter, body); err != nil {
				return nil, fmt.Errorf("unable to read the fmt chunk: %w", err)
			}
			if chunkLen < 16 {
				return nil, fmt.Errorf("fmt chunk is too short: %d bytes", chunkLen)
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, fmt.Errorf("data chunk precedes the fmt chunk")
			}
			body := make([]byte, chunkLen)
			if _, err := io.ReadFull(counter, body); err != nil {
				return nil, fmt.Errorf("unable to read the data chunk: %w", err)
			}
			samples, err := wavSamples(body, audioFormat, bitsPerSample, int(channels))
			if err != nil {
				return nil, err
			}
			logger.Debugf(ctx, "decoded %q: %d bytes -> %d mono samples at %dHz",
				label, counter.Count(), len(samples), sampleRate)
			return track.New(label, int(sampleRate), samples), nil
		default:
			if _, err := io.CopyN(io.Discard, counter, int64(chunkLen)); err != nil {
				return nil, fmt.Errorf("unable to skip the %q chunk: %w", chunkID, err)
			}
		}
	}
}

func wavSamples(body []byte, audioFormat, bitsPerSample uint16, channels int) ([]float64, error) {
	if channels < 1 {
		channels = 1
	}
	switch {
	case audioFormat == wavFormatPCM && bitsPerSample == 16:
		frames := len(body) / (2 * channels)
		out := make([]float64, frames)
		for i := range out {
			sum := 0.0
			for c := 0; c < channels; c++ {
				v := int16(binary.LittleEndian.Uint16(body[(i*channels+c)*2:]))
				sum += float64(v) / 32768
			}
			out[i] = sum / float64(channels)
		}
		return out, nil
	case audioFormat == wavFormatFloat && bitsPerSample == 32:
		frames := len(body) / (4 * channels)
		out := make([]float64, frames)
		for i := range out {
			sum := 0.0
			for c := 0; c < channels; c++ {
				bits := binary.LittleEndian.Uint32(body[(i*channels+c)*4:])
				sum += float64(math.Float32frombits(bits))
			}
			out[i] = sum / float64(channels)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported WAV format %d with %d bits per sample", audioFormat, bitsPerSample)
	}
}
