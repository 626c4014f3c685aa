// Package fabrictest provides a recording fabric.Publisher for handler tests.
package fabrictest

import (
	"context"
	"errors"
	"sync"

	"github.com/ahinestrog/ordersaga/internal/events"
)

// ErrInjected is returned for publishes failed through FailNext.
var ErrInjected = errors.New("fabrictest: injected publish failure")

type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	fail   map[string]int
	// Err, when set, is returned by Publish and nothing is recorded.
	Err error
}

// FailNext makes the next n publishes of routingKey fail with ErrInjected.
func (r *Recorder) FailNext(routingKey string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = map[string]int{}
	}
	r.fail[routingKey] += n
}

func (r *Recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if r.fail[ev.RoutingKey()] > 0 {
		r.fail[ev.RoutingKey()]--
		return ErrInjected
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Keys returns the routing keys published so far, in order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.events))
	for i, ev := range r.events {
		keys[i] = ev.RoutingKey()
	}
	return keys
}

// Count returns how many events with routingKey were published.
func (r *Recorder) Count(routingKey string) int {
	n := 0
	for _, k := range r.Keys() {
		if k == routingKey {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
