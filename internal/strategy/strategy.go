// Package strategy provides the strategy runtime every concrete trading
// strategy embeds: bar demux, indicator fan-out, BarProcessed composition,
// order-lifecycle bookkeeping, and position/average-price accounting.
package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/indicator"
	"github.com/nilskujath/onesecondtrader/internal/subscriber"
	"github.com/nilskujath/onesecondtrader/pkg/ids"
)

// now returns the current wall-clock time as the event data model's
// ts_created_ns, distinct from ts_event_ns (the strategy's current bar
// processing time).
func now() int64 { return time.Now().UnixNano() }

// ParamSpec describes one tunable parameter a strategy exposes for
// external introspection/override. Only Default is required; the rest are
// advisory bounds a UI or optimizer may use.
type ParamSpec struct {
	Default interface{}
	Min     interface{}
	Max     interface{}
	Step    interface{}
	Choices []interface{}
}

// Hook is implemented by a concrete strategy and invoked by BaseStrategy
// once per accepted bar, after every registered indicator has been
// updated and the BarProcessed event has been published.
type Hook interface {
	OnBar(s *BaseStrategy, bar events.BarReceived)
}

type indicatorRegistration struct {
	panelID int
	ind     indicator.Indicator
}

// orderRecord is the strategy-side bookkeeping record for one order, kept
// across its submitted-unacknowledged and pending-acknowledged lifetime.
type orderRecord struct {
	systemOrderID  uuid.UUID
	symbol         string
	orderType      events.OrderType
	side           events.TradeSide
	quantity       float64
	limitPrice     *float64
	stopPrice      *float64
	action         *events.ActionType
	signal         *string
	filledQuantity float64
}

type intentKind int

const (
	intentModification intentKind = iota
	intentCancellation
)

// intent is an in-flight modification or cancellation request, recorded
// while waiting for the broker's Accepted/Rejected response.
type intent struct {
	kind     intentKind
	modified orderRecord // only meaningful for intentModification
}

// position is one symbol's running quantity and average price, updated by
// the fill-handling algorithm.
type position struct {
	quantity float64
	avgPrice float64
}

// BaseStrategy is embedded by every concrete strategy. It owns the
// subscriber worker loop, the registered indicators, the order-lifecycle
// buckets, and per-symbol position accounting.
type BaseStrategy struct {
	*subscriber.Base

	logger *zap.Logger
	bus    *bus.EventBus
	hook   Hook

	name      string
	symbols   map[string]struct{}
	barPeriod events.BarPeriod
	params    map[string]ParamSpec

	indicators []indicatorRegistration

	currentSymbol string
	currentTs     int64

	submittedUnacknowledged map[uuid.UUID]*orderRecord
	pendingAcknowledged     map[uuid.UUID]*orderRecord
	inFlightIntents         map[uuid.UUID]*intent

	positions map[string]*position
}

// New constructs a strategy runtime. symbols and barPeriod are the
// class-level configuration every bar is filtered against; hook receives
// the per-bar callback.
func New(name string, logger *zap.Logger, eventBus *bus.EventBus, symbols []string, barPeriod events.BarPeriod, params map[string]ParamSpec, hook Hook, inboxCapacity int) *BaseStrategy {
	symbolSet := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		symbolSet[s] = struct{}{}
	}

	s := &BaseStrategy{
		logger:                  logger,
		bus:                     eventBus,
		hook:                    hook,
		name:                    name,
		symbols:                 symbolSet,
		barPeriod:               barPeriod,
		params:                  params,
		submittedUnacknowledged: make(map[uuid.UUID]*orderRecord),
		pendingAcknowledged:     make(map[uuid.UUID]*orderRecord),
		inFlightIntents:         make(map[uuid.UUID]*intent),
		positions:               make(map[string]*position),
	}
	s.Base = subscriber.New(name, logger, inboxCapacity)

	eventBus.SubscribeMany(s,
		bus.TypeOf[events.BarReceived](),
		bus.TypeOf[events.OrderAccepted](),
		bus.TypeOf[events.ModificationAccepted](),
		bus.TypeOf[events.CancellationAccepted](),
		bus.TypeOf[events.OrderRejected](),
		bus.TypeOf[events.ModificationRejected](),
		bus.TypeOf[events.CancellationRejected](),
		bus.TypeOf[events.FillEvent](),
		bus.TypeOf[events.OrderExpired](),
	)
	return s
}

// Connect starts the strategy's worker goroutine.
func (s *BaseStrategy) Connect() error {
	s.Start(s)
	return nil
}

// Disconnect unsubscribes from the bus and shuts the strategy down.
func (s *BaseStrategy) Disconnect() {
	s.bus.Unsubscribe(s)
	s.Shutdown()
}

// Symbols returns the strategy's configured symbol universe, used by the
// orchestrator to compute the datafeed's subscription set.
func (s *BaseStrategy) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// BarPeriod returns the strategy's configured bar period.
func (s *BaseStrategy) BarPeriod() events.BarPeriod { return s.barPeriod }

// Params returns the strategy's declared parameter schema.
func (s *BaseStrategy) Params() map[string]ParamSpec { return s.params }

// RegisterIndicator adds ind to this strategy's per-bar update fan-out,
// keyed under panelID for BarProcessed composition. Must be called before
// Connect.
func (s *BaseStrategy) RegisterIndicator(panelID int, ind indicator.Indicator) {
	s.indicators = append(s.indicators, indicatorRegistration{panelID: panelID, ind: ind})
}

// Indicator returns the i'th registered indicator, for a hook that needs
// direct access (e.g. to compare two SMAs by index).
func (s *BaseStrategy) Indicator(i int) indicator.Indicator {
	return s.indicators[i].ind
}

// Position returns the current signed quantity and average price for
// symbol. A symbol never traded reports zero/zero.
func (s *BaseStrategy) Position(symbol string) (quantity, avgPrice float64) {
	p, ok := s.positions[symbol]
	if !ok {
		return 0, 0
	}
	return p.quantity, p.avgPrice
}

// OnEvent implements subscriber.Handler.
func (s *BaseStrategy) OnEvent(raw any) {
	switch e := raw.(type) {
	case events.BarReceived:
		s.onBar(e)
	case events.OrderAccepted:
		s.onOrderAccepted(e)
	case events.ModificationAccepted:
		s.onModificationAccepted(e)
	case events.CancellationAccepted:
		s.onCancellationAccepted(e)
	case events.OrderRejected:
		s.onOrderRejected(e)
	case events.ModificationRejected:
		s.onModificationRejected(e)
	case events.CancellationRejected:
		s.onCancellationRejected(e)
	case events.FillEvent:
		s.onFill(e)
	case events.OrderExpired:
		s.onExpired(e)
	}
}

// OnException logs and swallows; a strategy bug in on_bar must not take
// down the strategy's worker goroutine (§7).
func (s *BaseStrategy) OnException(err error) {
	if s.logger != nil {
		s.logger.Error("strategy handler error", zap.String("strategy", s.name), zap.Error(err))
	}
}

// OnShutdown has nothing to flush; strategies own no durable resource.
func (s *BaseStrategy) OnShutdown() {}

func (s *BaseStrategy) onBar(bar events.BarReceived) {
	if _, ok := s.symbols[bar.Symbol]; !ok {
		return
	}
	if bar.BarPeriod != s.barPeriod {
		return
	}

	s.currentSymbol = bar.Symbol
	s.currentTs = bar.TsEventNs

	for _, reg := range s.indicators {
		reg.ind.Update(bar)
	}

	indicatorValues := make(map[string]float64, len(s.indicators))
	for _, reg := range s.indicators {
		if reg.ind.IsPassthrough() {
			continue
		}
		key := fmt.Sprintf("%02d_%s", reg.panelID, reg.ind.Name())
		indicatorValues[key] = reg.ind.Latest(bar.Symbol)
	}
	s.bus.Publish(events.BarProcessed{
		TsEventNs:   bar.TsEventNs,
		TsCreatedNs: bar.TsCreatedNs,
		Symbol:      bar.Symbol,
		BarPeriod:   bar.BarPeriod,
		Open:        bar.Open,
		High:        bar.High,
		Low:         bar.Low,
		Close:       bar.Close,
		Volume:      bar.Volume,
		Indicators:  indicatorValues,
	})

	if s.hook != nil {
		s.hook.OnBar(s, bar)
	}
}

// SubmitOrder constructs and publishes an OrderSubmissionRequest, records
// it in the submitted-unacknowledged bucket, and returns its id.
func (s *BaseStrategy) SubmitOrder(orderType events.OrderType, side events.TradeSide, quantity float64, limit, stop *float64, action *events.ActionType, signal *string) uuid.UUID {
	id := ids.NewSystemOrderID()
	s.submittedUnacknowledged[id] = &orderRecord{
		systemOrderID: id,
		symbol:        s.currentSymbol,
		orderType:     orderType,
		side:          side,
		quantity:      quantity,
		limitPrice:    limit,
		stopPrice:     stop,
		action:        action,
		signal:        signal,
	}
	s.bus.Publish(events.OrderSubmissionRequest{
		TsEventNs:     s.currentTs,
		TsCreatedNs:   now(),
		SystemOrderID: id,
		Symbol:        s.currentSymbol,
		OrderType:     orderType,
		Side:          side,
		Quantity:      quantity,
		LimitPrice:    limit,
		StopPrice:     stop,
		Action:        action,
		Signal:        signal,
	})
	return id
}

// SubmitModification requests a change to a pending-acknowledged order.
// Returns false without publishing anything if orderID is not currently
// pending-acknowledged.
func (s *BaseStrategy) SubmitModification(orderID uuid.UUID, quantity, limit, stop *float64) bool {
	rec, ok := s.pendingAcknowledged[orderID]
	if !ok {
		return false
	}

	modified := *rec
	if quantity != nil {
		modified.quantity = *quantity
	}
	if limit != nil {
		modified.limitPrice = limit
	}
	if stop != nil {
		modified.stopPrice = stop
	}
	s.inFlightIntents[orderID] = &intent{kind: intentModification, modified: modified}

	s.bus.Publish(events.OrderModificationRequest{
		TsEventNs:     s.currentTs,
		TsCreatedNs:   now(),
		SystemOrderID: orderID,
		Symbol:        rec.symbol,
		Quantity:      quantity,
		LimitPrice:    limit,
		StopPrice:     stop,
	})
	return true
}

// SubmitCancellation requests cancellation of a pending-acknowledged
// order. Returns false without publishing anything if orderID is not
// currently pending-acknowledged.
func (s *BaseStrategy) SubmitCancellation(orderID uuid.UUID) bool {
	rec, ok := s.pendingAcknowledged[orderID]
	if !ok {
		return false
	}
	s.inFlightIntents[orderID] = &intent{kind: intentCancellation}
	s.bus.Publish(events.OrderCancellationRequest{
		TsEventNs:     s.currentTs,
		TsCreatedNs:   now(),
		SystemOrderID: orderID,
		Symbol:        rec.symbol,
	})
	return true
}

func (s *BaseStrategy) onOrderAccepted(e events.OrderAccepted) {
	rec, ok := s.submittedUnacknowledged[e.AssociatedOrderID]
	if !ok {
		return
	}
	delete(s.submittedUnacknowledged, e.AssociatedOrderID)
	s.pendingAcknowledged[e.AssociatedOrderID] = rec
}

func (s *BaseStrategy) onOrderRejected(e events.OrderRejected) {
	delete(s.submittedUnacknowledged, e.AssociatedOrderID)
}

func (s *BaseStrategy) onModificationAccepted(e events.ModificationAccepted) {
	it, ok := s.inFlightIntents[e.AssociatedOrderID]
	if !ok || it.kind != intentModification {
		return
	}
	delete(s.inFlightIntents, e.AssociatedOrderID)
	modified := it.modified
	s.pendingAcknowledged[e.AssociatedOrderID] = &modified
}

func (s *BaseStrategy) onModificationRejected(e events.ModificationRejected) {
	delete(s.inFlightIntents, e.AssociatedOrderID)
}

func (s *BaseStrategy) onCancellationAccepted(e events.CancellationAccepted) {
	delete(s.inFlightIntents, e.AssociatedOrderID)
	delete(s.pendingAcknowledged, e.AssociatedOrderID)
}

func (s *BaseStrategy) onCancellationRejected(e events.CancellationRejected) {
	delete(s.inFlightIntents, e.AssociatedOrderID)
}

func (s *BaseStrategy) onExpired(e events.OrderExpired) {
	delete(s.pendingAcknowledged, e.AssociatedOrderID)
}

func (s *BaseStrategy) onFill(e events.FillEvent) {
	rec, ok := s.pendingAcknowledged[e.AssociatedOrderID]
	if ok {
		rec.filledQuantity += e.QuantityFilled
		if rec.filledQuantity >= rec.quantity {
			delete(s.pendingAcknowledged, e.AssociatedOrderID)
		}
	}

	signed := e.QuantityFilled
	if e.Side == events.SideSell {
		signed = -signed
	}

	pos, ok := s.positions[e.Symbol]
	if !ok {
		pos = &position{}
		s.positions[e.Symbol] = pos
	}

	oldQty := pos.quantity
	newQty := oldQty + signed

	switch {
	case newQty == 0:
		pos.avgPrice = 0
	case oldQty == 0:
		pos.avgPrice = e.FillPrice
	case sameSign(oldQty, signed):
		// adding to the position
		pos.avgPrice = (pos.avgPrice*abs(oldQty) + e.FillPrice*abs(signed)) / abs(newQty)
	case sameSign(oldQty, newQty):
		// reducing, not flipping: average is unchanged
	default:
		// flipped through zero
		pos.avgPrice = e.FillPrice
	}
	pos.quantity = newQty
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
