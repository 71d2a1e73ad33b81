// Package broker implements the deterministic simulated broker: an order
// state machine driven by submission/cancellation/modification requests,
// and a bar-driven matching engine that fills orders on bar boundaries
// only — no intrabar tick ordering, no partial fills.
package broker

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/config"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/subscriber"
	"github.com/nilskujath/onesecondtrader/pkg/ids"
)

// order is the broker's internal record for a live order, kept only in
// the open-orders map and its insertion-ordered index.
type order struct {
	systemID  uuid.UUID
	symbol    string
	orderType events.OrderType
	side      events.TradeSide
	quantity  float64
	limit     *float64
	stop      *float64
	triggered bool
}

// SimulatedBroker is a subscriber for BarReceived, OrderSubmissionRequest,
// OrderCancellationRequest, and OrderModificationRequest, and a publisher
// of the corresponding responses and of FillEvent. State is touched only
// from its own worker goroutine (per §4.5), so the open-orders map needs
// no additional synchronization beyond what subscriber.Base already gives
// every subscriber (single-threaded event processing).
type SimulatedBroker struct {
	*subscriber.Base

	logger *zap.Logger
	bus    *bus.EventBus
	cfg    config.BrokerConfig

	openOrders     map[uuid.UUID]*order
	insertionOrder []uuid.UUID
}

// New constructs a simulated broker and subscribes it to the event types
// it consumes. It must still be started with Connect before it processes
// events.
func New(logger *zap.Logger, eventBus *bus.EventBus, cfg config.BrokerConfig, inboxCapacity int) *SimulatedBroker {
	b := &SimulatedBroker{
		logger:         logger,
		bus:            eventBus,
		cfg:            cfg,
		openOrders:     make(map[uuid.UUID]*order),
		insertionOrder: make([]uuid.UUID, 0),
	}
	b.Base = subscriber.New("SimulatedBroker", logger, inboxCapacity)
	eventBus.SubscribeMany(b,
		bus.TypeOf[events.BarReceived](),
		bus.TypeOf[events.OrderSubmissionRequest](),
		bus.TypeOf[events.OrderCancellationRequest](),
		bus.TypeOf[events.OrderModificationRequest](),
	)
	return b
}

// Connect starts the broker's worker goroutine. Matches the teacher and
// source's connect() lifecycle hook; the simulated broker has no external
// resource to open, so this is just Start.
func (b *SimulatedBroker) Connect() error {
	b.Start(b)
	return nil
}

// Disconnect unsubscribes from the bus and shuts the broker down.
// Idempotent per subscriber.Base.
func (b *SimulatedBroker) Disconnect() {
	b.bus.Unsubscribe(b)
	b.Shutdown()
}

// OnEvent implements subscriber.Handler.
func (b *SimulatedBroker) OnEvent(raw any) {
	switch e := raw.(type) {
	case events.BarReceived:
		b.onBar(e)
	case events.OrderSubmissionRequest:
		b.onSubmission(e)
	case events.OrderCancellationRequest:
		b.onCancellation(e)
	case events.OrderModificationRequest:
		b.onModification(e)
	}
}

// OnException swallows handler errors by default, per §7; the broker has
// no user code to misbehave (its own logic is the thing under test), so
// this path only fires on a genuine broker bug.
func (b *SimulatedBroker) OnException(err error) {
	if b.logger != nil {
		b.logger.Error("broker handler error", zap.Error(err))
	}
}

// OnShutdown has nothing to flush; the broker owns no durable resource.
func (b *SimulatedBroker) OnShutdown() {}

func now() int64 { return time.Now().UnixNano() }

func (b *SimulatedBroker) onSubmission(req events.OrderSubmissionRequest) {
	if reason, msg, ok := validateSubmission(req); !ok {
		b.publishOrderRejected(req.SystemOrderID, req.TsEventNs, reason, msg)
		return
	}

	o := &order{
		systemID:  req.SystemOrderID,
		symbol:    req.Symbol,
		orderType: req.OrderType,
		side:      req.Side,
		quantity:  req.Quantity,
		limit:     req.LimitPrice,
		stop:      req.StopPrice,
		triggered: req.OrderType == events.OrderTypeMarket || req.OrderType == events.OrderTypeLimit,
	}
	b.openOrders[o.systemID] = o
	b.insertionOrder = append(b.insertionOrder, o.systemID)

	b.bus.Publish(events.OrderAccepted{
		TsEventNs:         req.TsEventNs,
		TsCreatedNs:       now(),
		TsBrokerNs:        req.TsEventNs,
		AssociatedOrderID: req.SystemOrderID,
	})
	if b.logger != nil {
		b.logger.Debug("order accepted",
			zap.String("order_id", req.SystemOrderID.String()),
			zap.String("symbol", req.Symbol),
			zap.String("type", req.OrderType.String()),
		)
	}
}

func validateSubmission(req events.OrderSubmissionRequest) (events.RejectionReason, string, bool) {
	if req.Quantity <= 0 {
		return events.ReasonUnknown, "quantity must be > 0", false
	}
	switch req.OrderType {
	case events.OrderTypeMarket:
		// No price fields required.
	case events.OrderTypeLimit:
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return events.ReasonUnknown, "limit_price must be present and > 0", false
		}
	case events.OrderTypeStop:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return events.ReasonUnknown, "stop_price must be present and > 0", false
		}
	case events.OrderTypeStopLimit:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return events.ReasonUnknown, "stop_price must be present and > 0", false
		}
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return events.ReasonUnknown, "limit_price must be present and > 0", false
		}
	}
	return events.ReasonUnknown, "", true
}

func (b *SimulatedBroker) publishOrderRejected(orderID uuid.UUID, tsEvent int64, reason events.RejectionReason, msg string) {
	b.bus.Publish(events.OrderRejected{
		TsEventNs:         tsEvent,
		TsCreatedNs:       now(),
		TsBrokerNs:        tsEvent,
		AssociatedOrderID: orderID,
		RejectionReason:   reason,
		RejectionMessage:  msg,
	})
}

func (b *SimulatedBroker) onCancellation(req events.OrderCancellationRequest) {
	if _, ok := b.openOrders[req.SystemOrderID]; !ok {
		b.bus.Publish(events.CancellationRejected{
			TsEventNs:         req.TsEventNs,
			TsCreatedNs:       now(),
			TsBrokerNs:        req.TsEventNs,
			AssociatedOrderID: req.SystemOrderID,
			RejectionReason:   events.ReasonNotFound,
			RejectionMessage:  "order not found",
		})
		return
	}

	b.removeOrder(req.SystemOrderID)
	b.bus.Publish(events.CancellationAccepted{
		TsEventNs:         req.TsEventNs,
		TsCreatedNs:       now(),
		TsBrokerNs:        req.TsEventNs,
		AssociatedOrderID: req.SystemOrderID,
	})
}

func (b *SimulatedBroker) onModification(req events.OrderModificationRequest) {
	o, ok := b.openOrders[req.SystemOrderID]
	if !ok {
		b.bus.Publish(events.ModificationRejected{
			TsEventNs:         req.TsEventNs,
			TsCreatedNs:       now(),
			TsBrokerNs:        req.TsEventNs,
			AssociatedOrderID: req.SystemOrderID,
			RejectionReason:   events.ReasonNotFound,
			RejectionMessage:  "order not found",
		})
		return
	}

	if req.Quantity != nil && *req.Quantity <= 0 {
		b.publishModificationRejected(req.SystemOrderID, req.TsEventNs, "quantity must be > 0")
		return
	}
	if req.LimitPrice != nil && *req.LimitPrice <= 0 {
		b.publishModificationRejected(req.SystemOrderID, req.TsEventNs, "limit_price must be > 0")
		return
	}
	if req.StopPrice != nil && *req.StopPrice <= 0 {
		b.publishModificationRejected(req.SystemOrderID, req.TsEventNs, "stop_price must be > 0")
		return
	}

	if req.Quantity != nil {
		o.quantity = *req.Quantity
	}
	if req.LimitPrice != nil {
		o.limit = req.LimitPrice
	}
	if req.StopPrice != nil {
		o.stop = req.StopPrice
	}

	b.bus.Publish(events.ModificationAccepted{
		TsEventNs:         req.TsEventNs,
		TsCreatedNs:       now(),
		TsBrokerNs:        req.TsEventNs,
		AssociatedOrderID: req.SystemOrderID,
	})
}

func (b *SimulatedBroker) publishModificationRejected(orderID uuid.UUID, tsEvent int64, msg string) {
	b.bus.Publish(events.ModificationRejected{
		TsEventNs:         tsEvent,
		TsCreatedNs:       now(),
		TsBrokerNs:        tsEvent,
		AssociatedOrderID: orderID,
		RejectionReason:   events.ReasonValidationFailed,
		RejectionMessage:  msg,
	})
}

func (b *SimulatedBroker) removeOrder(id uuid.UUID) {
	delete(b.openOrders, id)
	for i, oid := range b.insertionOrder {
		if oid == id {
			b.insertionOrder = append(b.insertionOrder[:i], b.insertionOrder[i+1:]...)
			break
		}
	}
}

// onBar runs the per-bar matching pass in insertion order, per §4.5's
// exact table. A filled order is removed from open-orders immediately so
// it cannot match twice within the same bar.
func (b *SimulatedBroker) onBar(bar events.BarReceived) {
	pass := make([]uuid.UUID, len(b.insertionOrder))
	copy(pass, b.insertionOrder)

	for _, id := range pass {
		o, ok := b.openOrders[id]
		if !ok || o.symbol != bar.Symbol {
			continue
		}
		filled, fillPrice := b.evaluate(o, bar)
		if !filled {
			continue
		}
		b.fill(o, bar, fillPrice)
	}
}

// evaluate applies §4.5's matching table to a single order against a
// single bar. It may mutate o.triggered (STOP/STOP_LIMIT arming) even when
// it returns filled=false.
func (b *SimulatedBroker) evaluate(o *order, bar events.BarReceived) (filled bool, fillPrice float64) {
	switch o.orderType {
	case events.OrderTypeMarket:
		return true, bar.Open

	case events.OrderTypeLimit:
		return evaluateLimit(o.side, *o.limit, bar)

	case events.OrderTypeStop:
		if !o.triggered {
			triggeredNow, price, ok := evaluateStopTrigger(o.side, *o.stop, bar)
			if !ok {
				return false, 0
			}
			o.triggered = triggeredNow
			return true, price
		}
		// Already triggered on a previous bar: behaves as plain MARKET.
		return true, bar.Open

	case events.OrderTypeStopLimit:
		if !o.triggered {
			triggeredNow, _, ok := evaluateStopTrigger(o.side, *o.stop, bar)
			if !ok {
				return false, 0
			}
			o.triggered = triggeredNow
			// Once triggered, behaves as LIMIT from the current bar
			// onward (§4.5) — fall through to the limit evaluation below
			// using this same bar, since triggering and limit-matching
			// both happen in the same matching pass.
		}
		return evaluateLimit(o.side, *o.limit, bar)
	}
	return false, 0
}

// evaluateLimit implements the LIMIT BUY/SELL rows of §4.5's table.
func evaluateLimit(side events.TradeSide, limit float64, bar events.BarReceived) (bool, float64) {
	if side == events.SideBuy {
		if bar.Low <= limit {
			if bar.Open <= limit {
				return true, bar.Open
			}
			return true, limit
		}
		return false, 0
	}
	// SELL
	if bar.High >= limit {
		if bar.Open >= limit {
			return true, bar.Open
		}
		return true, limit
	}
	return false, 0
}

// evaluateStopTrigger implements the STOP BUY/SELL trigger-and-convert
// rows of §4.5's table, for the bar on which triggering occurs. Returns
// ok=false if the stop does not trigger on this bar.
func evaluateStopTrigger(side events.TradeSide, stop float64, bar events.BarReceived) (triggered bool, fillPrice float64, ok bool) {
	if side == events.SideBuy {
		if bar.High >= stop {
			if bar.Open >= stop {
				return true, bar.Open, true
			}
			return true, stop, true
		}
		return false, 0, false
	}
	// SELL
	if bar.Low <= stop {
		if bar.Open <= stop {
			return true, bar.Open, true
		}
		return true, stop, true
	}
	return false, 0, false
}

func (b *SimulatedBroker) fill(o *order, bar events.BarReceived, fillPrice float64) {
	commission := decimal.NewFromFloat(o.quantity).Mul(decimal.NewFromFloat(b.cfg.CommissionPerUnit))
	minimum := decimal.NewFromFloat(b.cfg.MinimumCommissionPerOrder)
	if commission.LessThan(minimum) {
		commission = minimum
	}

	b.removeOrder(o.systemID)

	b.bus.Publish(events.FillEvent{
		TsEventNs:         bar.TsEventNs,
		TsCreatedNs:       now(),
		TsBrokerNs:        bar.TsEventNs,
		FillID:            ids.NewFillID(),
		AssociatedOrderID: o.systemID,
		Symbol:            o.symbol,
		Side:              o.side,
		QuantityFilled:    o.quantity,
		FillPrice:         fillPrice,
		Commission:        commission,
		Exchange:          "SIMULATED",
	})

	if b.logger != nil {
		b.logger.Debug("order filled",
			zap.String("order_id", o.systemID.String()),
			zap.Float64("price", fillPrice),
			zap.String("commission", commission.String()),
		)
	}
}
