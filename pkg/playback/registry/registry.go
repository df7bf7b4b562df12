package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"

	"github.com/khincker/bounced-site/pkg/playback"
)

type PortFactory interface {
	NewPort() (playback.Port, error)
}

type portFactoryWithPriority struct {
	Priority int
	PortFactory
}

var portFactoryRegistry = map[reflect.Type]portFactoryWithPriority{}

func RegisterPortFactory(
	priority int,
	portFactory PortFactory,
) {
	t := reflect.ValueOf(portFactory).Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if _, ok := portFactoryRegistry[t]; ok {
		panic(fmt.Errorf("there is already registered a factory of Port of type %v", t))
	}
	portFactoryRegistry[t] = portFactoryWithPriority{
		Priority:    priority,
		PortFactory: portFactory,
	}
}

func PortFactories() []PortFactory {
	var factoriesWithPriorities []portFactoryWithPriority
	for _, factory := range portFactoryRegistry {
		factoriesWithPriorities = append(factoriesWithPriorities, factory)
	}
	sort.Slice(factoriesWithPriorities, func(i, j int) bool {
		return factoriesWithPriorities[i].Priority > factoriesWithPriorities[j].Priority
	})

	var factories []PortFactory
	for _, factory := range factoriesWithPriorities {
		factories = append(factories, factory.PortFactory)
	}

	return factories
}

var (
	lastSuccessfulPortFactory       PortFactory
	lastSuccessfulPortFactoryLocker sync.Mutex
)

func getLastSuccessfulPortFactory() PortFactory {
	lastSuccessfulPortFactoryLocker.Lock()
	defer lastSuccessfulPortFactoryLocker.Unlock()
	return lastSuccessfulPortFactory
}

// NewPortAuto returns the highest-priority registered port that answers a
// ping, falling back to the silent dummy port when none does.
func NewPortAuto(
	ctx context.Context,
) playback.Port {
	factory := getLastSuccessfulPortFactory()
	if factory != nil {
		port, err := factory.NewPort()
		if err == nil {
			if err := port.Ping(ctx); err == nil {
				return port
			}
		}
	}

	var mErr *multierror.Error
	for _, factory := range PortFactories() {
		port, err := factory.NewPort()
		logger.Debugf(ctx, "initializing port %T result is %v", port, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to initialize %T: %w", port, err))
			continue
		}

		err = port.Ping(ctx)
		logger.Debugf(ctx, "pinging port %T result is %v", port, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to ping %T: %w", port, err))
			continue
		}

		lastSuccessfulPortFactoryLocker.Lock()
		defer lastSuccessfulPortFactoryLocker.Unlock()
		lastSuccessfulPortFactory = factory
		return port
	}

	logger.Infof(ctx, "was unable to initialize any playback port: %v", mErr.ErrorOrNil())
	return playback.PortDummy{}
}
