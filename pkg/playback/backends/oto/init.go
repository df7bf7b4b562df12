package oto

import (
	"github.com/khincker/bounced-site/pkg/playback"
	"github.com/khincker/bounced-site/pkg/playback/registry"
)

const (
	Priority = 50
)

func init() {
	registry.RegisterPortFactory(Priority, PortOtoFactory{})
}

type PortOtoFactory struct{}

func (PortOtoFactory) NewPort() (playback.Port, error) {
	return NewPort()
}
