// Package datafeed implements the simulated historical datafeed: a
// background goroutine that replays catalog bars in timestamp order,
// publishing each same-timestamp batch and then blocking on the bus idle
// barrier before admitting the next one.
package datafeed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/catalog"
	"github.com/nilskujath/onesecondtrader/internal/events"
)

var errStopped = errors.New("datafeed: stream stopped")

// SimulatedDatafeed replays a bounded catalog query through the bus. One
// instance streams exactly one (symbols, bar_period) subscription.
type SimulatedDatafeed struct {
	logger  *zap.Logger
	bus     *bus.EventBus
	catalog *catalog.Catalog

	mu        sync.Mutex
	streaming bool
	stop      chan struct{}
	done      chan struct{}
}

// New constructs a simulated datafeed over catalog, publishing to bus.
func New(logger *zap.Logger, eventBus *bus.EventBus, cat *catalog.Catalog) *SimulatedDatafeed {
	return &SimulatedDatafeed{logger: logger, bus: eventBus, catalog: cat}
}

// Connect is a no-op; the simulated datafeed has no external connection to
// establish beyond the already-open catalog handle.
func (d *SimulatedDatafeed) Connect() error { return nil }

// Disconnect signals the streaming goroutine to stop and waits for it to
// exit. Safe to call even if Subscribe was never called.
func (d *SimulatedDatafeed) Disconnect() {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return
	}
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
}

// Subscribe validates the request and starts the background replay
// goroutine. It is an error to call Subscribe twice on the same instance
// or with an empty symbol set.
func (d *SimulatedDatafeed) Subscribe(symbols []string, barPeriod events.BarPeriod) error {
	if len(symbols) == 0 {
		return fmt.Errorf("datafeed: subscribe requires at least one symbol")
	}

	d.mu.Lock()
	if d.streaming {
		d.mu.Unlock()
		return fmt.Errorf("datafeed: already streaming")
	}
	d.streaming = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	stop, done := d.stop, d.done
	d.mu.Unlock()

	go d.stream(symbols, barPeriod, stop, done)
	return nil
}

// WaitUntilComplete blocks until the streaming goroutine has exited,
// whether by exhausting the catalog query or by Disconnect.
func (d *SimulatedDatafeed) WaitUntilComplete() {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return
	}
	done := d.done
	d.mu.Unlock()
	<-done
}

func (d *SimulatedDatafeed) stream(symbols []string, barPeriod events.BarPeriod, stop, done chan struct{}) {
	defer close(done)

	symbolSet := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		symbolSet[s] = struct{}{}
	}

	var group []catalog.Bar
	lastTs := int64(0)
	haveGroup := false

	flush := func() error {
		if !haveGroup {
			return nil
		}
		for _, bar := range group {
			if _, ok := symbolSet[bar.Symbol]; !ok {
				continue
			}
			d.bus.Publish(events.BarReceived{
				TsEventNs:   bar.TsEvent,
				TsCreatedNs: time.Now().UnixNano(),
				Symbol:      bar.Symbol,
				BarPeriod:   barPeriod,
				Open:        bar.Open,
				High:        bar.High,
				Low:         bar.Low,
				Close:       bar.Close,
				Volume:      bar.Volume,
			})
		}
		group = group[:0]

		select {
		case <-stop:
			return errStopped
		default:
		}
		d.bus.WaitUntilSystemIdle()
		return nil
	}

	err := d.catalog.BarRows(symbols, barPeriod.Rtype(), func(bar catalog.Bar) error {
		if haveGroup && bar.TsEvent != lastTs {
			if ferr := flush(); ferr != nil {
				return ferr
			}
		}
		group = append(group, bar)
		lastTs = bar.TsEvent
		haveGroup = true
		return nil
	})
	if err != nil && !errors.Is(err, errStopped) {
		if d.logger != nil {
			d.logger.Error("datafeed stream failed", zap.Error(err))
		}
		return
	}
	if err == nil {
		_ = flush()
	}
}
