package pulseaudio

import (
	"github.com/khincker/bounced-site/pkg/playback"
	"github.com/khincker/bounced-site/pkg/playback/registry"
)

const (
	Priority = 100
)

func init() {
	registry.RegisterPortFactory(Priority, PortPulseFactory{})
}

type PortPulseFactory struct{}

func (PortPulseFactory) NewPort() (playback.Port, error) {
	return NewPort()
}
