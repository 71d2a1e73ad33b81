// Package orchestrator wires together the bus, recorder, broker,
// strategies, and datafeed for one simulation run, in the exact
// construction and teardown order the determinism guarantees depend on.
package orchestrator

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/config"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/runlog"
	"github.com/nilskujath/onesecondtrader/pkg/ids"
)

// Broker is the surface the orchestrator needs from the broker component.
type Broker interface {
	Connect() error
	Disconnect()
}

// Strategy is the surface the orchestrator needs from a strategy
// component, including the class-level configuration used to compute the
// datafeed's subscription set.
type Strategy interface {
	Connect() error
	Disconnect()
	Symbols() []string
	BarPeriod() events.BarPeriod
}

// Datafeed is the surface the orchestrator needs from the datafeed
// component.
type Datafeed interface {
	Connect() error
	Disconnect()
	Subscribe(symbols []string, barPeriod events.BarPeriod) error
	WaitUntilComplete()
}

// BrokerFactory constructs a broker bound to eventBus, subscribing it
// during construction.
type BrokerFactory func(eventBus *bus.EventBus) Broker

// StrategyFactory constructs one strategy bound to eventBus, subscribing
// it during construction.
type StrategyFactory func(eventBus *bus.EventBus) Strategy

// DatafeedFactory constructs the datafeed bound to eventBus.
type DatafeedFactory func(eventBus *bus.EventBus) Datafeed

// Lifecycle is satisfied by any component that only needs construction,
// connect, and disconnect from the orchestrator — used for optional
// observers such as the telemetry subscriber that have no other surface
// the orchestrator needs to call.
type Lifecycle interface {
	Connect() error
	Disconnect()
}

// LifecycleFactory constructs a Lifecycle-only component bound to
// eventBus.
type LifecycleFactory func(eventBus *bus.EventBus) Lifecycle

// RunSpec describes one orchestrator invocation: a name (for the runs
// table and the run id's suffix), the component factories, and the store
// handles the recorder and datafeed read/write through.
type RunSpec struct {
	Name              string
	StrategyNames     []string
	StrategyFactories []StrategyFactory
	BrokerFactory     BrokerFactory
	DatafeedFactory   DatafeedFactory
	// ObserverFactories construct additional subscribers with no other
	// role in the run (e.g. telemetry). Connected after strategies, in
	// construction order, and disconnected before them, in reverse order.
	ObserverFactories []LifecycleFactory
	RunLogDB          *gorm.DB
	ConfigJSON        string
	MetadataJSON      string
}

// Run constructs the full component graph, drives the datafeed to
// completion, and tears everything down in the order datafeed, observers
// (in reverse), strategies (in reverse), broker, recorder.
// The run is marked failed in the run log if any phase through
// wait_until_complete returns an error; the error is still returned to
// the caller (§7's "caught... re-raised" policy).
func Run(logger *zap.Logger, cfg config.Config, spec RunSpec) (runID string, err error) {
	runID = ids.NewRunID(time.Now(), spec.StrategyNames)
	eventBus := bus.New(logger)

	recorder, recErr := runlog.NewRecorder(logger, eventBus, spec.RunLogDB, runID, spec.Name,
		time.Now().UnixNano(), spec.ConfigJSON, spec.MetadataJSON, cfg.RecorderBatchSize, cfg.InboxCapacity)
	if recErr != nil {
		return runID, fmt.Errorf("construct recorder: %w", recErr)
	}

	brokerInst := spec.BrokerFactory(eventBus)
	strategies := make([]Strategy, 0, len(spec.StrategyFactories))
	for _, factory := range spec.StrategyFactories {
		strategies = append(strategies, factory(eventBus))
	}
	datafeedInst := spec.DatafeedFactory(eventBus)

	observers := make([]Lifecycle, 0, len(spec.ObserverFactories))
	for _, factory := range spec.ObserverFactories {
		observers = append(observers, factory(eventBus))
	}

	defer func() {
		datafeedInst.Disconnect()
		for i := len(observers) - 1; i >= 0; i-- {
			observers[i].Disconnect()
		}
		for i := len(strategies) - 1; i >= 0; i-- {
			strategies[i].Disconnect()
		}
		brokerInst.Disconnect()
		recorder.Disconnect()

		status := runlog.RunStatusCompleted
		if err != nil {
			status = runlog.RunStatusFailed
		}
		if updateErr := recorder.UpdateRunStatus(status, time.Now().UnixNano()); updateErr != nil && logger != nil {
			logger.Error("failed to record run status", zap.Error(updateErr))
		}
	}()

	if err = recorder.Connect(); err != nil {
		return runID, fmt.Errorf("connect recorder: %w", err)
	}
	if err = brokerInst.Connect(); err != nil {
		return runID, fmt.Errorf("connect broker: %w", err)
	}
	for _, s := range strategies {
		if err = s.Connect(); err != nil {
			return runID, fmt.Errorf("connect strategy: %w", err)
		}
	}
	for _, o := range observers {
		if err = o.Connect(); err != nil {
			return runID, fmt.Errorf("connect observer: %w", err)
		}
	}
	if err = datafeedInst.Connect(); err != nil {
		return runID, fmt.Errorf("connect datafeed: %w", err)
	}

	symbols, barPeriod, subErr := subscriptionSet(strategies, logger)
	if subErr != nil {
		err = subErr
		return runID, err
	}
	if err = datafeedInst.Subscribe(symbols, barPeriod); err != nil {
		return runID, fmt.Errorf("subscribe datafeed: %w", err)
	}

	datafeedInst.WaitUntilComplete()
	eventBus.WaitUntilSystemIdle()

	return runID, nil
}

// subscriptionSet unions every strategy's symbol universe. The current
// datafeed implementation serves exactly one bar period per run; if
// strategies disagree on bar period, the first one encountered wins and a
// warning is logged, since running two bar periods through one datafeed
// instance would require two independent catalog streams.
func subscriptionSet(strategies []Strategy, logger *zap.Logger) ([]string, events.BarPeriod, error) {
	if len(strategies) == 0 {
		return nil, 0, fmt.Errorf("orchestrator: no strategies configured")
	}

	barPeriod := strategies[0].BarPeriod()
	seen := make(map[string]struct{})
	var symbols []string
	for _, s := range strategies {
		if s.BarPeriod() != barPeriod && logger != nil {
			logger.Warn("strategy bar period does not match the run's datafeed subscription",
				zap.String("expected", barPeriod.String()), zap.String("got", s.BarPeriod().String()))
		}
		for _, sym := range s.Symbols() {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols, barPeriod, nil
}
