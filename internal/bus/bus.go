// Package bus implements the in-process publish/subscribe event bus
// decoupling the monitors, the action executor, and mode transitions.
// Emitters never block: each subscriber gets a buffered channel and
// events are dropped (and counted) when a subscriber falls behind.
package bus

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"familiar/internal/logging"
	"familiar/internal/types"
)

// Topics published on the bus.
const (
	TopicAlertInfo        = "alert.info"
	TopicAlertWarning     = "alert.warning"
	TopicAlertCritical    = "alert.critical"
	TopicPermissionReq    = "permission.request"
	TopicPermissionDenied = "permission.denied"
	TopicActionExecuted   = "action.executed"
	TopicModeChanged      = "mode.changed"
)

// AlertTopic maps an alert severity to its bus topic.
func AlertTopic(sev types.Severity) string {
	switch sev {
	case types.SeverityCritical:
		return TopicAlertCritical
	case types.SeverityWarning:
		return TopicAlertWarning
	default:
		return TopicAlertInfo
	}
}

// Event is one bus message. Alert is set for alert.* topics; Payload
// carries structured details for the rest.
type Event struct {
	Seq     uint64
	Topic   string
	Alert   *types.Alert
	Payload map[string]any
	Time    time.Time
}

type subscriber struct {
	ch     chan Event
	topics map[string]bool // empty means all
}

// Bus is the event bus. The zero value is not usable; call New.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool

	sequence atomic.Uint64
	dropped  atomic.Uint64
}

// New creates an event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel receiving events for the given
// topics. No topics means all topics. The channel is closed by
// Unsubscribe or Close.
func (b *Bus) Subscribe(topics ...string) <-chan Event {
	sub := &subscriber{
		ch:     make(chan Event, 64),
		topics: make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if reflect.ValueOf(sub.ch).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers. Safe to call
// from any goroutine; never blocks the emitter.
func (b *Bus) Publish(topic string, payload map[string]any) {
	b.publish(Event{Topic: topic, Payload: payload})
}

// PublishAlert publishes an alert on its severity topic.
func (b *Bus) PublishAlert(alert *types.Alert) {
	b.publish(Event{Topic: AlertTopic(alert.Severity), Alert: alert})
}

func (b *Bus) publish(ev Event) {
	ev.Seq = b.sequence.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if len(sub.topics) > 0 && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the emitter.
			n := b.dropped.Add(1)
			if n%100 == 1 {
				logging.Get(logging.CategoryBus).Warn("dropped %d events so far (slow subscriber, topic=%s)", n, ev.Topic)
			}
		}
	}
}

// Dropped returns the number of events dropped due to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
