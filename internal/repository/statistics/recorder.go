package statistics

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// HistoryCapacity is the number of events kept in the history.
const HistoryCapacity = 50

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithCapacity overrides HistoryCapacity.
func WithCapacity(capacity int) Option {
	return func(r *Recorder) {
		r.history = make([]alarm.Event, max(capacity, 1))
	}
}

// Recorder counts fired alarms and remembers the most recent ones.
// It is safe for concurrent use.
type Recorder struct {
	now func() time.Time

	// mu protects every field below.
	mu sync.RWMutex
	// history is a ring buffer; head is the index of the oldest event.
	history []alarm.Event
	head    int
	size    int

	totalAlarms    int
	sessionAlarms  int
	totalByClass   map[alarm.Class]int
	sessionByClass map[alarm.Class]int
	sessionStart   time.Time
}

// Snapshot is a consistent copy of the recorder state.
type Snapshot struct {
	// TotalAlarms counts every firing since the process started.
	TotalAlarms int
	// SessionAlarms counts firings since the last session reset.
	SessionAlarms int
	// TotalByClass splits TotalAlarms per class.
	TotalByClass map[alarm.Class]int
	// SessionByClass splits SessionAlarms per class.
	SessionByClass map[alarm.Class]int
	// SessionStart is when the current session began.
	SessionStart time.Time
	// SessionDuration is the session age at snapshot time.
	SessionDuration time.Duration
	// History holds the retained events, newest first.
	History []alarm.Event
}

// New creates an empty recorder whose session starts now.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		now:     time.Now,
		history: make([]alarm.Event, HistoryCapacity),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.totalByClass = zeroCounters()
	r.sessionByClass = zeroCounters()
	r.sessionStart = r.now()

	return r
}

func zeroCounters() map[alarm.Class]int {
	counters := make(map[alarm.Class]int, len(alarm.Classes()))
	for _, class := range alarm.Classes() {
		counters[class] = 0
	}

	return counters
}

// Record stores a firing of class at the current time and returns the event.
func (r *Recorder) Record(class alarm.Class) alarm.Event {
	event := alarm.NewEvent(class, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalAlarms++
	r.sessionAlarms++
	r.totalByClass[class]++
	r.sessionByClass[class]++

	capacity := len(r.history)
	if r.size < capacity {
		r.history[(r.head+r.size)%capacity] = event
		r.size++
	} else {
		r.history[r.head] = event
		r.head = (r.head + 1) % capacity
	}

	return event
}

// RecentHistory returns up to n most recent events, newest first.
// A non-positive n returns the whole history.
func (r *Recorder) RecentHistory(n int) []alarm.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.recentLocked(n)
}

func (r *Recorder) recentLocked(n int) []alarm.Event {
	if n <= 0 || n > r.size {
		n = r.size
	}

	capacity := len(r.history)
	result := make([]alarm.Event, 0, n)

	for i := range n {
		result = append(result, r.history[(r.head+r.size-1-i)%capacity])
	}

	return result
}

// ResetSession zeroes the session counters and restarts the session clock.
// Totals and history are kept.
func (r *Recorder) ResetSession() {
	start := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessionAlarms = 0
	r.sessionByClass = zeroCounters()
	r.sessionStart = start
}

// ClearHistory drops every retained event. Counters are kept.
func (r *Recorder) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.history)
	r.head = 0
	r.size = 0
}

// Snapshot returns a copy of the current state.
func (r *Recorder) Snapshot() Snapshot {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		TotalAlarms:     r.totalAlarms,
		SessionAlarms:   r.sessionAlarms,
		TotalByClass:    maps.Clone(r.totalByClass),
		SessionByClass:  maps.Clone(r.sessionByClass),
		SessionStart:    r.sessionStart,
		SessionDuration: max(now.Sub(r.sessionStart), 0),
		History:         r.recentLocked(0),
	}
}

// FormatDuration renders d as "2h 15m 30s", "4m 3s" or "9s".
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	hours := total / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
