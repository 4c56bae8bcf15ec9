// Package netlog records request/response metadata from live pages into a
// bounded, append-only ring. The core never mutates the log; the task
// executor only queries it.
package netlog

import (
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Event is one captured network call. ElapsedMS is relative to attach
// time so the log stays deterministic across runs.
type Event struct {
	Kind         string  `json:"kind"` // request | response
	Method       string  `json:"method,omitempty"`
	URL          string  `json:"url"`
	Status       int     `json:"status,omitempty"`
	ResourceType string  `json:"resource_type"`
	ElapsedMS    float64 `json:"elapsed_ms"`
}

// Log is a fixed-capacity ring of events. Oldest entries are dropped once
// the capacity is reached.
type Log struct {
	mu     sync.Mutex
	events []Event
	max    int
}

// NewLog creates a log holding at most max events.
func NewLog(max int) *Log {
	if max < 100 {
		max = 100
	}
	return &Log{max: max}
}

// Record appends one event, evicting the oldest when full.
func (l *Log) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) >= l.max {
		copy(l.events, l.events[1:])
		l.events[len(l.events)-1] = e
		return
	}
	l.events = append(l.events, e)
}

// Recent returns the last limit events in arrival order.
func (l *Log) Recent(limit int) []Event {
	if limit < 1 {
		limit = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]Event, limit)
	copy(out, l.events[len(l.events)-limit:])
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// watchedTypes limits capture to calls that matter for extraction
// debugging; images and fonts would flood the ring.
var watchedTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeDocument: true,
	proto.NetworkResourceTypeXHR:      true,
	proto.NetworkResourceTypeFetch:    true,
}

// Attach subscribes to a page's network events and records them until the
// page closes. Non-blocking; events flow on rod's event goroutine.
func (l *Log) Attach(page *rod.Page) {
	go page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if !watchedTypes[e.Type] {
				return
			}
			l.Record(Event{
				Kind:         "request",
				Method:       e.Request.Method,
				URL:          e.Request.URL,
				ResourceType: string(e.Type),
				ElapsedMS:    float64(e.Timestamp) * 1000,
			})
		},
		func(e *proto.NetworkResponseReceived) {
			if !watchedTypes[e.Type] {
				return
			}
			l.Record(Event{
				Kind:         "response",
				URL:          e.Response.URL,
				Status:       e.Response.Status,
				ResourceType: string(e.Type),
				ElapsedMS:    float64(e.Timestamp) * 1000,
			})
		},
	)()
}
