package bus

import (
	"sync"
	"testing"
)

type fakeSubscriber struct {
	name string

	mu       sync.Mutex
	received []any
	idle     chan struct{}
}

func newFakeSubscriber(name string) *fakeSubscriber {
	return &fakeSubscriber{name: name, idle: make(chan struct{}, 1)}
}

func (f *fakeSubscriber) Receive(event any) {
	f.mu.Lock()
	f.received = append(f.received, event)
	f.mu.Unlock()
}

func (f *fakeSubscriber) WaitUntilIdle() {}

func (f *fakeSubscriber) Name() string { return f.name }

type eventA struct{ n int }
type eventB struct{ s string }

func TestPublishDispatchesToExactTypeOnly(t *testing.T) {
	b := New(nil)
	a := newFakeSubscriber("a")
	other := newFakeSubscriber("other")

	b.Subscribe(a, TypeOf[eventA]())
	b.Subscribe(other, TypeOf[eventB]())

	b.Publish(eventA{n: 1})

	a.mu.Lock()
	if len(a.received) != 1 {
		t.Fatalf("expected 1 event delivered to a, got %d", len(a.received))
	}
	a.mu.Unlock()

	other.mu.Lock()
	if len(other.received) != 0 {
		t.Fatalf("expected 0 events delivered to other, got %d", len(other.received))
	}
	other.mu.Unlock()
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	a := newFakeSubscriber("a")

	b.Subscribe(a, TypeOf[eventA]())
	b.Subscribe(a, TypeOf[eventA]())

	b.Publish(eventA{n: 1})

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.received) != 1 {
		t.Fatalf("expected exactly 1 delivery despite duplicate subscribe, got %d", len(a.received))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	a := newFakeSubscriber("a")
	b.Subscribe(a, TypeOf[eventA]())
	b.Unsubscribe(a)

	b.Publish(eventA{n: 1})

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.received) != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", len(a.received))
	}
}

func TestWaitUntilSystemIdleVisitsEverySubscriber(t *testing.T) {
	b := New(nil)
	var visited []string
	a := newFakeSubscriberFunc("a", &visited)
	c := newFakeSubscriberFunc("c", &visited)
	b.Subscribe(a, TypeOf[eventA]())
	b.Subscribe(c, TypeOf[eventB]())

	b.WaitUntilSystemIdle()

	if len(visited) != 2 {
		t.Fatalf("expected WaitUntilIdle called on both subscribers, got %v", visited)
	}
}

type trackingSubscriber struct {
	*fakeSubscriber
	visited *[]string
}

func newFakeSubscriberFunc(name string, visited *[]string) *trackingSubscriber {
	return &trackingSubscriber{fakeSubscriber: newFakeSubscriber(name), visited: visited}
}

func (t *trackingSubscriber) WaitUntilIdle() {
	*t.visited = append(*t.visited, t.name)
}
