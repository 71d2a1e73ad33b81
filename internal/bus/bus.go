// Package bus implements the in-process publish/subscribe event bus: a
// type-indexed dispatch surface with exact-type matching and no worker of
// its own. Every consumer is a subscriber.Base-backed component; the bus
// only ever touches subscription bookkeeping, never event processing.
package bus

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Subscriber is the surface the bus needs from a subscriber.Base: enqueue
// an event, and block until that subscriber's inbox has drained. Any type
// embedding subscriber.Base satisfies this automatically.
type Subscriber interface {
	Receive(event any)
	WaitUntilIdle()
	Name() string
}

// TypeOf returns the reflect.Type key the bus uses for T, so callers write
// bus.TypeOf[events.BarReceived]() instead of reflect.TypeOf(events.BarReceived{}).
func TypeOf[T any]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

// EventBus is the type-indexed pub/sub dispatcher described in §4.1.
type EventBus struct {
	logger *zap.Logger

	mu            sync.Mutex
	subscriptions map[reflect.Type]map[Subscriber]struct{}
	allSubscribers map[Subscriber]struct{}
}

// New constructs an empty bus.
func New(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger:         logger,
		subscriptions:  make(map[reflect.Type]map[Subscriber]struct{}),
		allSubscribers: make(map[Subscriber]struct{}),
	}
}

// Subscribe registers sub for eventType. Idempotent: subscribing the same
// (sub, eventType) pair twice has the same effect as once.
func (b *EventBus) Subscribe(sub Subscriber, eventType reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscriptions[eventType]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.subscriptions[eventType] = set
	}
	set[sub] = struct{}{}
	b.allSubscribers[sub] = struct{}{}
}

// SubscribeMany is a convenience for registering sub to several event
// types at once, mirroring the source's Component._subscribe(*event_types).
func (b *EventBus) SubscribeMany(sub Subscriber, eventTypes ...reflect.Type) {
	for _, t := range eventTypes {
		b.Subscribe(sub, t)
	}
}

// Unsubscribe removes sub from every per-type set and from the global
// subscriber set.
func (b *EventBus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, set := range b.subscriptions {
		delete(set, sub)
	}
	delete(b.allSubscribers, sub)
}

// Publish dispatches event to every subscriber registered for its exact
// concrete type. The subscriber set is copied under lock and the lock is
// released before any subscriber is touched, so a subscriber's Receive
// (which takes its own inbox lock) never contends with bus mutations and
// can never deadlock against a concurrent Subscribe/Unsubscribe.
func (b *EventBus) Publish(event any) {
	eventType := reflect.TypeOf(event)

	b.mu.Lock()
	set := b.subscriptions[eventType]
	snapshot := make([]Subscriber, 0, len(set))
	for sub := range set {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.Receive(event)
	}
}

// WaitUntilSystemIdle snapshots the full subscriber set under lock, releases
// the lock, then waits on each subscriber's idle barrier in snapshot order.
// This is the mechanism the datafeed uses to enforce bar-at-a-time
// determinism: releasing the lock before iterating avoids a re-entrancy
// deadlock if a subscriber's idle-wait path ever touches the bus again.
func (b *EventBus) WaitUntilSystemIdle() {
	b.mu.Lock()
	snapshot := make([]Subscriber, 0, len(b.allSubscribers))
	for sub := range b.allSubscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.WaitUntilIdle()
	}
}
