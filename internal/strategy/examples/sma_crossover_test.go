package examples

import (
	"testing"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/events"
)

type recorder struct {
	events []any
}

func (r *recorder) Receive(event any) { r.events = append(r.events, event) }
func (r *recorder) WaitUntilIdle()    {}
func (r *recorder) Name() string      { return "recorder" }

func bar(ts int64, symbol string, close float64) events.BarReceived {
	return events.BarReceived{TsEventNs: ts, Symbol: symbol, BarPeriod: events.BarPeriodDay, Open: close, High: close, Low: close, Close: close}
}

func TestSMACrossoverEntersLongOnUpwardCross(t *testing.T) {
	eventBus := bus.New(nil)
	rec := &recorder{}
	eventBus.SubscribeMany(rec, bus.TypeOf[events.OrderSubmissionRequest]())

	c := NewSMACrossover(nil, eventBus, []string{"AAPL"}, events.BarPeriodDay, 2, 3, 10, 16)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// Flat-then-rising closes designed to bring the fast SMA(2)
	// above the slow SMA(3) partway through, once both windows are full.
	closes := []float64{10, 10, 10, 20, 30}
	for i, cl := range closes {
		eventBus.Publish(bar(int64(i), "AAPL", cl))
	}
	c.WaitUntilIdle()

	found := false
	for _, e := range rec.events {
		if req, ok := e.(events.OrderSubmissionRequest); ok && req.Side == events.SideBuy {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an upward SMA cross to submit a BUY market order")
	}
}

func TestSMACrossoverNeverSubmitsBeforeBothWindowsAreFull(t *testing.T) {
	eventBus := bus.New(nil)
	rec := &recorder{}
	eventBus.SubscribeMany(rec, bus.TypeOf[events.OrderSubmissionRequest]())

	c := NewSMACrossover(nil, eventBus, []string{"AAPL"}, events.BarPeriodDay, 2, 5, 10, 16)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	eventBus.Publish(bar(0, "AAPL", 10))
	eventBus.Publish(bar(1, "AAPL", 20))
	c.WaitUntilIdle()

	if len(rec.events) != 0 {
		t.Fatalf("expected no orders before both SMA windows warm up, got %d", len(rec.events))
	}
}
