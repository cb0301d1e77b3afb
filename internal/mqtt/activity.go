package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/korb/internal/events"
)

// Activity folds bus events into the values the sensors report. Daily
// counters reset at local midnight. It is safe for concurrent use.
type Activity struct {
	mu          sync.Mutex
	inFlight    int
	generations int64
	toolCalls   int64
	lastRequest time.Time
	lastEvent   *events.Event
	resetDay    int
	loc         *time.Location
}

// ActivitySnapshot is a point-in-time copy of an Activity.
type ActivitySnapshot struct {
	Generating  bool
	Generations int64
	ToolCalls   int64
	LastRequest time.Time
	LastEvent   *events.Event
}

// NewActivity creates an Activity using loc for midnight detection; nil
// means time.Local.
func NewActivity(loc *time.Location) *Activity {
	if loc == nil {
		loc = time.Local
	}
	return &Activity{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
	}
}

// Observe records one event.
func (a *Activity) Observe(e events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maybeReset()
	ev := e
	a.lastEvent = &ev

	if e.Source != events.SourceAgent {
		return
	}
	switch e.Kind {
	case events.KindRequestStart:
		a.inFlight++
	case events.KindToolCall:
		a.toolCalls++
	case events.KindRequestComplete:
		if a.inFlight > 0 {
			a.inFlight--
		}
		a.generations++
		a.lastRequest = e.Timestamp
	}
}

// Snapshot returns the current values after checking for midnight.
func (a *Activity) Snapshot() ActivitySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maybeReset()
	return ActivitySnapshot{
		Generating:  a.inFlight > 0,
		Generations: a.generations,
		ToolCalls:   a.toolCalls,
		LastRequest: a.lastRequest,
		LastEvent:   a.lastEvent,
	}
}

// maybeReset must be called with a.mu held.
func (a *Activity) maybeReset() {
	today := time.Now().In(a.loc).YearDay()
	if today != a.resetDay {
		a.generations = 0
		a.toolCalls = 0
		a.resetDay = today
	}
}
