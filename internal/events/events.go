// Package events defines the closed set of event types exchanged over the
// system event bus: market data, order requests, broker responses, fills,
// and expirations. Every concrete type is an immutable value constructed
// once at its publish site and implements Event by exact type identity —
// there is no inheritance-based dispatch.
package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is implemented by every concrete event type in this package and by
// no other type. Subscribers type-switch on the concrete type, never on
// this interface's methods, which exist only to let the bus key its
// subscription map on a closed set of types.
type Event interface {
	isEvent()
}

// BarPeriod is the aggregation period of an OHLCV bar.
type BarPeriod int

const (
	BarPeriodSecond BarPeriod = iota
	BarPeriodMinute
	BarPeriodHour
	BarPeriodDay
)

func (p BarPeriod) String() string {
	switch p {
	case BarPeriodSecond:
		return "SECOND"
	case BarPeriodMinute:
		return "MINUTE"
	case BarPeriodHour:
		return "HOUR"
	case BarPeriodDay:
		return "DAY"
	default:
		return "UNKNOWN"
	}
}

// Rtype returns the vendor-specific numeric code for the bar period:
// 32=SECOND, 33=MINUTE, 34=HOUR, 35=DAY.
func (p BarPeriod) Rtype() int32 {
	return int32(p) + 32
}

// BarPeriodFromRtype inverts BarPeriod.Rtype.
func BarPeriodFromRtype(rtype int32) (BarPeriod, bool) {
	p := BarPeriod(rtype - 32)
	if p < BarPeriodSecond || p > BarPeriodDay {
		return 0, false
	}
	return p, true
}

// OrderType is the closed set of order types the simulated broker accepts.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TradeSide is buy or sell.
type TradeSide int

const (
	SideBuy TradeSide = iota
	SideSell
)

func (s TradeSide) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// ActionType is advisory metadata attached to an order submission for the
// recorder's benefit; the broker never inspects it.
type ActionType int

const (
	ActionEntry ActionType = iota
	ActionEntryLong
	ActionEntryShort
	ActionExit
	ActionExitLong
	ActionExitShort
	ActionAdd
	ActionReduce
	ActionReverse
)

func (a ActionType) String() string {
	switch a {
	case ActionEntry:
		return "ENTRY"
	case ActionEntryLong:
		return "ENTRY_LONG"
	case ActionEntryShort:
		return "ENTRY_SHORT"
	case ActionExit:
		return "EXIT"
	case ActionExitLong:
		return "EXIT_LONG"
	case ActionExitShort:
		return "EXIT_SHORT"
	case ActionAdd:
		return "ADD"
	case ActionReduce:
		return "REDUCE"
	case ActionReverse:
		return "REVERSE"
	default:
		return "UNKNOWN"
	}
}

// RejectionReason enumerates why the broker declined a submission,
// modification, or cancellation. The simulated broker emits ReasonUnknown
// for rejected submissions, ReasonValidationFailed for rejected
// modifications, and ReasonNotFound, but the full set is kept
// closed here so a live-broker implementation has somewhere to put its
// own reasons without widening the wire contract.
type RejectionReason int

const (
	ReasonUnknown RejectionReason = iota
	ReasonValidationFailed
	ReasonNotFound
	ReasonAlreadyTerminal
)

func (r RejectionReason) String() string {
	switch r {
	case ReasonValidationFailed:
		return "VALIDATION_FAILED"
	case ReasonNotFound:
		return "NOT_FOUND"
	case ReasonAlreadyTerminal:
		return "ALREADY_TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// BarReceived is published by the datafeed for every bar in non-decreasing
// ts_event_ns order.
type BarReceived struct {
	TsEventNs   int64
	TsCreatedNs int64
	Symbol      string
	BarPeriod   BarPeriod
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      *int64
}

func (BarReceived) isEvent() {}

// BarProcessed is published by a strategy after it has updated every
// registered indicator for a bar and is keyed identically to the upstream
// BarReceived (invariant 1, §3).
type BarProcessed struct {
	TsEventNs   int64
	TsCreatedNs int64
	Symbol      string
	BarPeriod   BarPeriod
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      *int64
	Indicators  map[string]float64
}

func (BarProcessed) isEvent() {}

// OrderSubmissionRequest is emitted by a strategy's submit_order.
type OrderSubmissionRequest struct {
	TsEventNs    int64
	TsCreatedNs  int64
	SystemOrderID uuid.UUID
	Symbol        string
	OrderType     OrderType
	Side          TradeSide
	Quantity      float64
	LimitPrice    *float64
	StopPrice     *float64
	Action        *ActionType
	Signal        *string
}

func (OrderSubmissionRequest) isEvent() {}

// OrderCancellationRequest is emitted by a strategy's submit_cancellation.
type OrderCancellationRequest struct {
	TsEventNs     int64
	TsCreatedNs   int64
	SystemOrderID uuid.UUID
	Symbol        string
}

func (OrderCancellationRequest) isEvent() {}

// OrderModificationRequest is emitted by a strategy's submit_modification.
type OrderModificationRequest struct {
	TsEventNs     int64
	TsCreatedNs   int64
	SystemOrderID uuid.UUID
	Symbol        string
	Quantity      *float64
	LimitPrice    *float64
	StopPrice     *float64
}

func (OrderModificationRequest) isEvent() {}

// OrderAccepted acknowledges a submission.
type OrderAccepted struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	BrokerOrderID     *string
}

func (OrderAccepted) isEvent() {}

// ModificationAccepted acknowledges a modification.
type ModificationAccepted struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	BrokerOrderID     *string
}

func (ModificationAccepted) isEvent() {}

// CancellationAccepted acknowledges a cancellation.
type CancellationAccepted struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	BrokerOrderID     *string
}

func (CancellationAccepted) isEvent() {}

// OrderRejected declines a submission.
type OrderRejected struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	RejectionReason   RejectionReason
	RejectionMessage  string
}

func (OrderRejected) isEvent() {}

// ModificationRejected declines a modification.
type ModificationRejected struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	RejectionReason   RejectionReason
	RejectionMessage  string
}

func (ModificationRejected) isEvent() {}

// CancellationRejected declines a cancellation.
type CancellationRejected struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	RejectionReason   RejectionReason
	RejectionMessage  string
}

func (CancellationRejected) isEvent() {}

// FillEvent reports a completed (never partial) trade against an accepted
// order.
type FillEvent struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	FillID            uuid.UUID
	BrokerFillID      *string
	AssociatedOrderID uuid.UUID
	Symbol            string
	Side              TradeSide
	QuantityFilled    float64
	FillPrice         float64
	// Commission carries exact decimal semantics: it is money, derived
	// from float64 config coefficients but never itself compared against
	// a NaN sentinel, so it does not need float64's IEEE-754 domain.
	Commission decimal.Decimal
	Exchange   string
}

func (FillEvent) isEvent() {}

// OrderExpired reports that the broker has removed an order without a
// fill or an explicit cancellation. The simulated broker never emits this;
// it exists for a live-broker implementation to reuse the same taxonomy.
type OrderExpired struct {
	TsEventNs         int64
	TsCreatedNs       int64
	TsBrokerNs        int64
	AssociatedOrderID uuid.UUID
	Symbol            string
	BrokerOrderID     *string
}

func (OrderExpired) isEvent() {}
