package oto

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/hashicorp/go-multierror"

	"github.com/khincker/bounced-site/pkg/playback"
	"github.com/khincker/bounced-site/pkg/playback/pcmstream"
)

// oto allows only one context per process, so the output format is fixed
// and every stream is rate-converted to it by pcmstream.
const (
	SampleRate = 48000
	Channels   = 1
)

var (
	otoContext     *oto.Context
	otoContextErr  error
	otoContextOnce sync.Once
)

func getOtoContext() (*oto.Context, error) {
	otoContextOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			otoContextErr = err
			return
		}
		<-ready
		otoContext = ctx
	})
	return otoContext, otoContextErr
}

type Port struct {
	OtoCtx *oto.Context
}

var _ playback.Port = (*Port)(nil)

func NewPort() (*Port, error) {
	otoCtx, err := getOtoContext()
	if err != nil {
		return nil, fmt.Errorf("unable to get an oto context: %w", err)
	}

	return &Port{
		OtoCtx: otoCtx,
	}, nil
}

func (p *Port) Close() error {
	return nil
}

func (*Port) Ping(context.Context) error {
	// The context either came up or NewPort already failed.
	return nil
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
			SampleRate,
			src.Shift,
			req.StartAt,
			req.LoopStart,
			req.LoopEnd,
			src.Gain,
		)
		session.readers[id] = reader
		session.players[id] = p.OtoCtx.NewPlayer(reader)
	}

	// oto has no atomic multi-start; starting the players back to back is
	// as close to a shared anchor as this backend gets.
	for _, player := range session.players {
		if player != nil {
			player.Play()
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
		SampleRate,
		req.Shift,
		req.StartAt,
		req.Duration.Seconds(),
	)
	player := p.OtoCtx.NewPlayer(reader)
	player.Play()
	return &BurstClip{Player: player}, nil
}

type Session struct {
	players [2]*oto.Player
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

func (s *Session) Close() error {
	var mErr *multierror.Error
	for _, player := range s.players {
		if player == nil {
			continue
		}
		if err := player.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close a player: %w", err))
		}
	}
	return mErr.ErrorOrNil()
}

type BurstClip struct {
	Player *oto.Player
}

var _ playback.Burst = (*BurstClip)(nil)

func (b *BurstClip) Close() error {
	return b.Player.Close()
}
