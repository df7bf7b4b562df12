package playback

import (
	"context"
)

// PortDummy is a no-op Port for headless operation and tests.
type PortDummy struct{}

var _ Port = PortDummy{}

func (PortDummy) Close() error {
	return nil
}

func (PortDummy) Ping(context.Context) error {
	return nil
}

func (PortDummy) StartPair(context.Context, StartRequest) (Session, error) {
	return SessionDummy{}, nil
}

func (PortDummy) PlayBurst(context.Context, BurstRequest) (Burst, error) {
	return BurstDummy{}, nil
}

type SessionDummy struct{}

var _ Session = SessionDummy{}

func (SessionDummy) Close() error {
	return nil
}

func (SessionDummy) SetGain(TrackID, float64) error {
	return nil
}

func (SessionDummy) SetLoop(float64, float64) error {
	return nil
}

type BurstDummy struct{}

var _ Burst = BurstDummy{}

func (BurstDummy) Close() error {
	return nil
}
