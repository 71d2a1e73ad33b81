package telemetry

import (
	"go.uber.org/zap"

	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/subscriber"
)

// Subscriber feeds bus events into a Metrics instance. It is a passive
// observer: it never publishes, never rejects anything, and a panic in
// its own handling (there should never be one) is swallowed like any
// other subscriber's.
type Subscriber struct {
	*subscriber.Base

	logger   *zap.Logger
	eventBus *bus.EventBus
	metrics  *Metrics

	submittedAt map[string]int64
}

// NewSubscriber constructs a telemetry subscriber bound to metrics and
// subscribes it to the event types it observes.
func NewSubscriber(logger *zap.Logger, eventBus *bus.EventBus, metrics *Metrics, inboxCapacity int) *Subscriber {
	s := &Subscriber{logger: logger, eventBus: eventBus, metrics: metrics, submittedAt: make(map[string]int64)}
	s.Base = subscriber.New("Telemetry", logger, inboxCapacity)
	eventBus.SubscribeMany(s,
		bus.TypeOf[events.BarProcessed](),
		bus.TypeOf[events.OrderSubmissionRequest](),
		bus.TypeOf[events.OrderAccepted](),
		bus.TypeOf[events.OrderRejected](),
		bus.TypeOf[events.FillEvent](),
	)
	return s
}

// Connect starts the subscriber's worker goroutine.
func (s *Subscriber) Connect() error {
	s.Start(s)
	return nil
}

// Disconnect unsubscribes from the bus and shuts the subscriber down.
func (s *Subscriber) Disconnect() {
	s.eventBus.Unsubscribe(s)
	s.Shutdown()
}

// OnEvent implements subscriber.Handler.
func (s *Subscriber) OnEvent(raw any) {
	switch e := raw.(type) {
	case events.BarProcessed:
		s.metrics.ObserveBarProcessed()
	case events.OrderSubmissionRequest:
		s.metrics.ObserveOrderSubmitted(e.OrderType.String())
		s.submittedAt[e.SystemOrderID.String()] = e.TsEventNs
	case events.OrderAccepted:
		s.metrics.ObserveOrderAccepted()
	case events.OrderRejected:
		s.metrics.ObserveOrderRejected(e.RejectionReason.String())
	case events.FillEvent:
		var latency int64
		if ts, ok := s.submittedAt[e.AssociatedOrderID.String()]; ok {
			latency = e.TsBrokerNs - ts
			delete(s.submittedAt, e.AssociatedOrderID.String())
		}
		s.metrics.ObserveFill(e.Commission, latency)
	}
}

// OnException logs and swallows.
func (s *Subscriber) OnException(err error) {
	if s.logger != nil {
		s.logger.Error("telemetry handler error", zap.Error(err))
	}
}

// OnShutdown has nothing to flush.
func (s *Subscriber) OnShutdown() {}
