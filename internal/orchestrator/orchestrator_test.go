package orchestrator

import (
	"fmt"
	"testing"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/config"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/runlog"
)

type fakeBroker struct {
	connected, disconnected bool
}

func (b *fakeBroker) Connect() error { b.connected = true; return nil }
func (b *fakeBroker) Disconnect()    { b.disconnected = true }

type fakeStrategy struct {
	name                    string
	symbols                 []string
	barPeriod               events.BarPeriod
	connected, disconnected bool
	connectErr              error
}

func (s *fakeStrategy) Connect() error { s.connected = true; return s.connectErr }
func (s *fakeStrategy) Disconnect()    { s.disconnected = true }
func (s *fakeStrategy) Symbols() []string       { return s.symbols }
func (s *fakeStrategy) BarPeriod() events.BarPeriod { return s.barPeriod }

type fakeDatafeed struct {
	connected, disconnected, completed bool
	gotSymbols                         []string
	gotBarPeriod                       events.BarPeriod
}

func (d *fakeDatafeed) Connect() error { d.connected = true; return nil }
func (d *fakeDatafeed) Disconnect()    { d.disconnected = true }
func (d *fakeDatafeed) Subscribe(symbols []string, barPeriod events.BarPeriod) error {
	d.gotSymbols = symbols
	d.gotBarPeriod = barPeriod
	return nil
}
func (d *fakeDatafeed) WaitUntilComplete() { d.completed = true }

type fakeObserver struct {
	order      *[]string
	name       string
	connectErr error
}

func (o *fakeObserver) Connect() error {
	*o.order = append(*o.order, "connect:"+o.name)
	return o.connectErr
}
func (o *fakeObserver) Disconnect() {
	*o.order = append(*o.order, "disconnect:"+o.name)
}

func TestRunConnectsAndDisconnectsEveryComponent(t *testing.T) {
	broker := &fakeBroker{}
	strat := &fakeStrategy{name: "s1", symbols: []string{"AAPL"}, barPeriod: events.BarPeriodDay}
	feed := &fakeDatafeed{}

	db, err := runlog.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}

	spec := RunSpec{
		Name:              "test-run",
		StrategyNames:     []string{"s1"},
		StrategyFactories: []StrategyFactory{func(eventBus *bus.EventBus) Strategy { return strat }},
		BrokerFactory:     func(eventBus *bus.EventBus) Broker { return broker },
		DatafeedFactory:   func(eventBus *bus.EventBus) Datafeed { return feed },
		RunLogDB:          db,
		ConfigJSON:        "{}",
		MetadataJSON:      "{}",
	}

	_, err = Run(nil, config.Default(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !broker.connected || !broker.disconnected {
		t.Fatal("expected broker connected and disconnected")
	}
	if !strat.connected || !strat.disconnected {
		t.Fatal("expected strategy connected and disconnected")
	}
	if !feed.connected || !feed.disconnected || !feed.completed {
		t.Fatal("expected datafeed connected, subscribed to completion, and disconnected")
	}
	if len(feed.gotSymbols) != 1 || feed.gotSymbols[0] != "AAPL" {
		t.Fatalf("expected datafeed subscribed to [AAPL], got %v", feed.gotSymbols)
	}
}

func TestRunConnectsAndDisconnectsObserverOnce(t *testing.T) {
	broker := &fakeBroker{}
	strat := &fakeStrategy{symbols: []string{"AAPL"}, barPeriod: events.BarPeriodDay}
	feed := &fakeDatafeed{}

	db, err := runlog.Open("file:orchestrator2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}

	var order []string
	obs := &fakeObserver{order: &order, name: "telemetry"}

	spec := RunSpec{
		Name:              "test-run",
		StrategyNames:     []string{"s1"},
		StrategyFactories: []StrategyFactory{func(eventBus *bus.EventBus) Strategy { return strat }},
		BrokerFactory:     func(eventBus *bus.EventBus) Broker { return broker },
		DatafeedFactory:   func(eventBus *bus.EventBus) Datafeed { return feed },
		ObserverFactories: []LifecycleFactory{func(eventBus *bus.EventBus) Lifecycle { return obs }},
		RunLogDB:          db,
		ConfigJSON:        "{}",
		MetadataJSON:      "{}",
	}

	if _, err := Run(nil, config.Default(), spec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(order) != 2 || order[0] != "connect:telemetry" || order[1] != "disconnect:telemetry" {
		t.Fatalf("expected observer connected once and disconnected once, got %v", order)
	}
}

func TestRunMarksRunFailedWhenObserverConnectErrors(t *testing.T) {
	broker := &fakeBroker{}
	strat := &fakeStrategy{symbols: []string{"AAPL"}, barPeriod: events.BarPeriodDay}
	feed := &fakeDatafeed{}

	db, err := runlog.Open("file:orchestrator3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}

	var order []string
	obs := &fakeObserver{order: &order, name: "bad", connectErr: fmt.Errorf("boom")}

	spec := RunSpec{
		Name:              "test-run",
		StrategyNames:     []string{"s1"},
		StrategyFactories: []StrategyFactory{func(eventBus *bus.EventBus) Strategy { return strat }},
		BrokerFactory:     func(eventBus *bus.EventBus) Broker { return broker },
		DatafeedFactory:   func(eventBus *bus.EventBus) Datafeed { return feed },
		ObserverFactories: []LifecycleFactory{func(eventBus *bus.EventBus) Lifecycle { return obs }},
		RunLogDB:          db,
		ConfigJSON:        "{}",
		MetadataJSON:      "{}",
	}

	runID, err := Run(nil, config.Default(), spec)
	if err == nil {
		t.Fatal("expected Run to surface the observer's connect error")
	}

	var row runlog.RunRow
	if dbErr := db.First(&row, "run_id = ?", runID).Error; dbErr != nil {
		t.Fatalf("expected a runs row: %v", dbErr)
	}
	if row.Status != runlog.RunStatusFailed {
		t.Fatalf("expected run status failed, got %v", row.Status)
	}
}

func TestRunFailsWithNoStrategiesConfigured(t *testing.T) {
	broker := &fakeBroker{}
	feed := &fakeDatafeed{}

	db, err := runlog.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}

	spec := RunSpec{
		Name:            "test-run",
		BrokerFactory:   func(eventBus *bus.EventBus) Broker { return broker },
		DatafeedFactory: func(eventBus *bus.EventBus) Datafeed { return feed },
		RunLogDB:        db,
		ConfigJSON:      "{}",
		MetadataJSON:    "{}",
	}

	if _, err := Run(nil, config.Default(), spec); err == nil {
		t.Fatal("expected Run to fail when no strategies are configured")
	}
}
