package session

import (
	"log"
	"sync"
	"time"

	"github.com/skiff-ssh/skiff/internal/logutil"
)

// EventType identifies the type of connection event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventKeepaliveMissed EventType = "keepalive_missed"
	EventKeepaliveDead   EventType = "keepalive_dead"
	EventRateLimited     EventType = "rate_limited"
)

// Event represents a lifecycle event for a session, kept for the UI's
// connection status pane.
type Event struct {
	ID        string    `json:"identifier"`
	Type      EventType `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// maxEventsPerSession limits the number of stored events per session.
const maxEventsPerSession = 100

// eventLog stores recent events per session in a bounded ring.
type eventLog struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func newEventLog() *eventLog {
	return &eventLog{events: make(map[string][]Event)}
}

// emit records an event and writes it to the standard logger.
func (l *eventLog) emit(id string, eventType EventType, details string) {
	event := Event{ID: id, Type: eventType, Details: details, Timestamp: time.Now()}

	l.mu.Lock()
	events := append(l.events[id], event)
	if len(events) > maxEventsPerSession {
		events = events[len(events)-maxEventsPerSession:]
	}
	l.events[id] = events
	l.mu.Unlock()

	log.Printf("[session] event %s/%s: %s", id, eventType, logutil.Sanitize(details))
}

// get returns a copy of all stored events for id.
func (l *eventLog) get(id string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[id]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// clear removes all stored events for id.
func (l *eventLog) clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, id)
}

// prune drops event history for sessions that are no longer registered.
func (l *eventLog) prune(live map[string]struct{}) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id := range l.events {
		if _, ok := live[id]; !ok {
			delete(l.events, id)
			removed++
		}
	}
	return removed
}
