package strategy

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/indicator"
)

type recorder struct {
	events []any
}

func (r *recorder) Receive(event any) { r.events = append(r.events, event) }
func (r *recorder) WaitUntilIdle()    {}
func (r *recorder) Name() string      { return "recorder" }

type noopHook struct{ calls int }

func (h *noopHook) OnBar(s *BaseStrategy, bar events.BarReceived) { h.calls++ }

func newTestStrategy(hook Hook, symbols []string, barPeriod events.BarPeriod) (*BaseStrategy, *recorder) {
	eventBus := bus.New(nil)
	rec := &recorder{}
	eventBus.SubscribeMany(rec, bus.TypeOf[events.BarProcessed](), bus.TypeOf[events.OrderSubmissionRequest]())
	s := New("test", nil, eventBus, symbols, barPeriod, nil, hook, 16)
	return s, rec
}

func TestOnBarFiltersBySymbolAndBarPeriod(t *testing.T) {
	hook := &noopHook{}
	s, rec := newTestStrategy(hook, []string{"AAPL"}, events.BarPeriodDay)

	s.onBar(events.BarReceived{Symbol: "MSFT", BarPeriod: events.BarPeriodDay})
	s.onBar(events.BarReceived{Symbol: "AAPL", BarPeriod: events.BarPeriodMinute})
	if hook.calls != 0 {
		t.Fatalf("expected hook not called for wrong symbol/bar_period, got %d calls", hook.calls)
	}

	s.onBar(events.BarReceived{Symbol: "AAPL", BarPeriod: events.BarPeriodDay})
	if hook.calls != 1 {
		t.Fatalf("expected hook called exactly once for a matching bar, got %d", hook.calls)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected exactly 1 BarProcessed published, got %d", len(rec.events))
	}
}

func TestBarProcessedExcludesPassthroughIndicators(t *testing.T) {
	s, rec := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	s.RegisterIndicator(0, indicator.NewOpenIndicator())
	s.RegisterIndicator(0, indicator.NewSMAIndicator("SMA_2", 2, indicator.PlotHint{}))

	s.onBar(events.BarReceived{Symbol: "AAPL", BarPeriod: events.BarPeriodDay, Open: 10, Close: 10})
	s.onBar(events.BarReceived{Symbol: "AAPL", BarPeriod: events.BarPeriodDay, Open: 12, Close: 12})

	bp := rec.events[len(rec.events)-1].(events.BarProcessed)
	if _, ok := bp.Indicators["00_OPEN"]; ok {
		t.Fatal("expected the OPEN passthrough excluded from BarProcessed.Indicators")
	}
	if v, ok := bp.Indicators["00_SMA_2"]; !ok || v != 11 {
		t.Fatalf("expected 00_SMA_2 = 11 in BarProcessed.Indicators, got %v (present=%v)", v, ok)
	}
}

func TestSubmitOrderMovesThroughAcknowledgementBuckets(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	s.currentSymbol = "AAPL"
	s.currentTs = 1

	id := s.SubmitOrder(events.OrderTypeMarket, events.SideBuy, 10, nil, nil, nil, nil)
	if _, ok := s.submittedUnacknowledged[id]; !ok {
		t.Fatal("expected order in submitted-unacknowledged bucket immediately after submit")
	}

	s.onOrderAccepted(events.OrderAccepted{AssociatedOrderID: id})
	if _, ok := s.submittedUnacknowledged[id]; ok {
		t.Fatal("expected order removed from submitted-unacknowledged after acceptance")
	}
	if _, ok := s.pendingAcknowledged[id]; !ok {
		t.Fatal("expected order moved to pending-acknowledged after acceptance")
	}
}

func TestSubmitOrderRemovedOnRejection(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	s.currentSymbol = "AAPL"

	id := s.SubmitOrder(events.OrderTypeMarket, events.SideBuy, 10, nil, nil, nil, nil)
	s.onOrderRejected(events.OrderRejected{AssociatedOrderID: id})

	if _, ok := s.submittedUnacknowledged[id]; ok {
		t.Fatal("expected order removed from submitted-unacknowledged after rejection")
	}
	if _, ok := s.pendingAcknowledged[id]; ok {
		t.Fatal("expected a rejected order never to reach pending-acknowledged")
	}
}

func TestSubmitModificationRequiresPendingAcknowledgedOrder(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	if s.SubmitModification(uuid.New(), nil, nil, nil) {
		t.Fatal("expected SubmitModification to fail for an unknown order id")
	}
}

func TestOnFillSameSignAddWeightedAverages(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)

	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideBuy, QuantityFilled: 10, FillPrice: 100})
	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideBuy, QuantityFilled: 10, FillPrice: 120})

	qty, avg := s.Position("AAPL")
	if qty != 20 {
		t.Fatalf("expected quantity 20, got %v", qty)
	}
	if avg != 110 {
		t.Fatalf("expected weighted-average price 110, got %v", avg)
	}
}

func TestOnFillReducingPositionKeepsAveragePrice(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideBuy, QuantityFilled: 10, FillPrice: 100})

	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideSell, QuantityFilled: 4, FillPrice: 150})

	qty, avg := s.Position("AAPL")
	if qty != 6 {
		t.Fatalf("expected quantity reduced to 6, got %v", qty)
	}
	if avg != 100 {
		t.Fatalf("expected average price unchanged at 100 when reducing, got %v", avg)
	}
}

func TestOnFillFlippingThroughZeroUsesFillPrice(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideBuy, QuantityFilled: 10, FillPrice: 100})

	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideSell, QuantityFilled: 15, FillPrice: 200})

	qty, avg := s.Position("AAPL")
	if qty != -5 {
		t.Fatalf("expected quantity flipped to -5, got %v", qty)
	}
	if avg != 200 {
		t.Fatalf("expected average price reset to the flipping fill price 200, got %v", avg)
	}
}

func TestOnFillClosingPositionResetsAveragePriceToZero(t *testing.T) {
	s, _ := newTestStrategy(nil, []string{"AAPL"}, events.BarPeriodDay)
	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideBuy, QuantityFilled: 10, FillPrice: 100})

	s.onFill(events.FillEvent{Symbol: "AAPL", Side: events.SideSell, QuantityFilled: 10, FillPrice: 150})

	qty, avg := s.Position("AAPL")
	if qty != 0 || avg != 0 {
		t.Fatalf("expected flat position (0, 0), got (%v, %v)", qty, avg)
	}
}
