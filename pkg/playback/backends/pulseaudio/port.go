package pulseaudio

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/khincker/bounced-site/pkg/playback"
	"github.com/khincker/bounced-site/pkg/playback/pcmstream"
)

const latencySeconds = 0.1

type Port struct {
	PulseClient *pulse.Client
}

var _ playback.Port = (*Port)(nil)

func NewPort() (*Port, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	return &Port{
		PulseClient: c,
	}, nil
}

func (p *Port) Close() error {
	p.PulseClient.Close()
	return nil
}

func (p *Port) Ping(context.Context) error {
	_, err := p.PulseClient.DefaultSink()
	return err
}

func (p *Port) StartPair(
	ctx context.Context,
	req playback.StartRequest,
) (playback.Session, error) {
	session := &Session{}
	for id := playback.TrackA; id <= playback.TrackB; id++ {
		src := req.Sources[id]
		if src.Track == nil {
			continue
		}
		reader := pcmstream.NewLoopReader(
			src.Track,
			src.Track.Rate,
			src.Shift,
			req.StartAt,
			req.LoopStart,
			req.LoopEnd,
			src.Gain,
		)
		stream, err := p.PulseClient.NewPlayback(
			newPulseReader(reader),
			pulse.PlaybackLatency(latencySeconds),
			pulse.PlaybackSampleRate(src.Track.Rate),
			pulse.PlaybackChannels(proto.ChannelMap{proto.ChannelMono}),
		)
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("unable to initialize a playback for track %v: %w", id, err)
		}
		session.readers[id] = reader
		session.streams[id] = stream
	}

	// Pulse has no atomic multi-start either; back-to-back Start calls
	// approximate the shared anchor.
	for _, stream := range session.streams {
		if stream == nil {
			continue
		}
		stream.Start()
		if stream.Error() != nil {
			_ = session.Close()
			return nil, fmt.Errorf("an error occurred during playback: %w", stream.Error())
		}
	}
	return session, nil
}

func (p *Port) PlayBurst(
	ctx context.Context,
	req playback.BurstRequest,
) (playback.Burst, error) {
	reader := pcmstream.NewBurstReader(
		req.Track,
		req.Track.Rate,
		req.Shift,
		req.StartAt,
		req.Duration.Seconds(),
	)
	stream, err := p.PulseClient.NewPlayback(
		newPulseReader(reader),
		pulse.PlaybackLatency(latencySeconds),
		pulse.PlaybackSampleRate(req.Track.Rate),
		pulse.PlaybackChannels(proto.ChannelMap{proto.ChannelMono}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a burst playback: %w", err)
	}
	stream.Start()
	if stream.Error() != nil {
		return nil, fmt.Errorf("an error occurred during the burst: %w", stream.Error())
	}
	return &BurstClip{Stream: stream}, nil
}

type Session struct {
	streams [2]*pulse.PlaybackStream
	readers [2]*pcmstream.LoopReader
}

var _ playback.Session = (*Session)(nil)

func (s *Session) SetGain(id playback.TrackID, gain float64) error {
	if s.readers[id] == nil {
		return nil
	}
	s.readers[id].SetGain(gain)
	return nil
}

func (s *Session) SetLoop(loopStart, loopEnd float64) error {
	for _, reader := range s.readers {
		if reader != nil {
			reader.SetLoop(loopStart, loopEnd)
		}
	}
	return nil
}

func (s *Session) Close() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	var mErr *multierror.Error
	for _, stream := range s.streams {
		if stream == nil {
			continue
		}
		stream.Stop()
		stream.Close()
		if streamErr := stream.Error(); streamErr != nil {
			mErr = multierror.Append(mErr, streamErr)
		}
	}
	return mErr.ErrorOrNil()
}

type BurstClip struct {
	Stream *pulse.PlaybackStream
}

var _ playback.Burst = (*BurstClip)(nil)

func (b *BurstClip) Close() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	b.Stream.Stop()
	b.Stream.Close()
	return nil
}

// pulseReader adapts an io.Reader of float32le samples to the pulse client
// interface.
type pulseReader struct {
	io.Reader
}

func newPulseReader(reader io.Reader) *pulseReader {
	return &pulseReader{Reader: reader}
}

var _ pulse.Reader = (*pulseReader)(nil)

func (r pulseReader) Format() byte {
	return proto.FormatFloat32LE
}
