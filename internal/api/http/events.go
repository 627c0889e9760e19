package httpapi

import (
	"sync"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

const defaultEventCapacity = 50

// EventLog keeps the most recent alert and success events for polling
// clients. Plain state transitions are not kept.
type EventLog struct {
	mu       sync.Mutex
	events   []weather.Event
	capacity int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &EventLog{capacity: capacity}
}

// Record is a weather.Service subscriber.
func (l *EventLog) Record(ev weather.Event) {
	if ev.Type == weather.EventState {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	if over := len(l.events) - l.capacity; over > 0 {
		l.events = append(l.events[:0], l.events[over:]...)
	}
}

// Recent returns the kept events, newest last.
func (l *EventLog) Recent() []weather.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]weather.Event, len(l.events))
	copy(out, l.events)
	return out
}
