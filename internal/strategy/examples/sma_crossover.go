// Package examples provides reference strategy implementations built on
// the strategy runtime, grounded on the teacher's TrendFollowingStrategy
// crossover-detection shape.
package examples

import (
	"go.uber.org/zap"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/indicator"
	"github.com/nilskujath/onesecondtrader/internal/strategy"
)

// SMACrossover goes long on a fast-over-slow upward cross and flattens on
// a downward cross. It holds at most one open position per symbol and
// never shorts.
type SMACrossover struct {
	*strategy.BaseStrategy

	fast, slow int
	quantity   float64

	prevFast, prevSlow map[string]float64
}

// NewSMACrossover constructs an SMA-crossover strategy over symbols at
// barPeriod. fast and slow are SMA periods (fast < slow); quantity is the
// fixed order size used for both entry and flattening MARKET orders.
func NewSMACrossover(logger *zap.Logger, eventBus *bus.EventBus, symbols []string, barPeriod events.BarPeriod, fast, slow int, quantity float64, inboxCapacity int) *SMACrossover {
	params := map[string]strategy.ParamSpec{
		"fast":     {Default: fast, Min: 1},
		"slow":     {Default: slow, Min: 2},
		"quantity": {Default: quantity, Min: 0.0},
	}

	c := &SMACrossover{
		fast:     fast,
		slow:     slow,
		quantity: quantity,
		prevFast: make(map[string]float64),
		prevSlow: make(map[string]float64),
	}
	c.BaseStrategy = strategy.New("SMACrossover", logger, eventBus, symbols, barPeriod, params, c, inboxCapacity)
	c.RegisterIndicator(0, indicator.NewSMAIndicator("SMA_FAST", fast, indicator.PlotHint{PanelID: 0, Style: "line", Color: "blue"}))
	c.RegisterIndicator(0, indicator.NewSMAIndicator("SMA_SLOW", slow, indicator.PlotHint{PanelID: 0, Style: "line", Color: "orange"}))
	return c
}

// OnBar implements strategy.Hook. It compares the two registered SMAs
// against their previous-bar values to detect a cross, since Update has
// already run by the time this hook fires.
func (c *SMACrossover) OnBar(s *strategy.BaseStrategy, bar events.BarReceived) {
	fastVal := s.Indicator(0).Latest(bar.Symbol)
	slowVal := s.Indicator(1).Latest(bar.Symbol)
	if isNaN(fastVal) || isNaN(slowVal) {
		return
	}

	prevFast, haveFast := c.prevFast[bar.Symbol]
	prevSlow, haveSlow := c.prevSlow[bar.Symbol]
	defer func() {
		c.prevFast[bar.Symbol] = fastVal
		c.prevSlow[bar.Symbol] = slowVal
	}()
	if !haveFast || !haveSlow {
		return
	}

	qty, _ := s.Position(bar.Symbol)
	crossedUp := prevFast <= prevSlow && fastVal > slowVal
	crossedDown := prevFast >= prevSlow && fastVal < slowVal

	switch {
	case crossedUp && qty <= 0:
		action := events.ActionEntryLong
		s.SubmitOrder(events.OrderTypeMarket, events.SideBuy, c.quantity, nil, nil, &action, nil)
	case crossedDown && qty > 0:
		action := events.ActionExitLong
		s.SubmitOrder(events.OrderTypeMarket, events.SideSell, c.quantity, nil, nil, &action, nil)
	}
}

func isNaN(v float64) bool { return v != v }
