package status

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/eve-alert/internal/logger"
)

// Severity classifies a status line.
type Severity string

const (
	// Info is a neutral line.
	Info Severity = "info"
	// Success reports a completed action.
	Success Severity = "success"
	// Warning reports suppression or a recoverable problem.
	Warning Severity = "warning"
	// Alert announces a detection.
	Alert Severity = "alert"
	// Error reports a failure that stopped something.
	Error Severity = "error"
)

// Sink receives user-visible status lines.
type Sink interface {
	Write(message string, severity Severity)
}

// Line is one recorded status line.
type Line struct {
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// LogSink writes status lines to the logger stored in its context.
type LogSink struct {
	ctx context.Context //nolint:containedctx // Carries the scoped logger only.
}

// NewLogSink creates a sink logging through ctx.
func NewLogSink(ctx context.Context) *LogSink {
	return &LogSink{ctx: logger.WithName(ctx, "status")}
}

// Write implements Sink.
func (s *LogSink) Write(message string, severity Severity) {
	switch severity {
	case Error:
		logger.Error(s.ctx, message)
	case Warning, Alert:
		logger.Warn(s.ctx, message)
	default:
		logger.Info(s.ctx, message)
	}
}

// DefaultBacklog is the number of lines a Hub remembers.
const DefaultBacklog = 100

// subscriberBuffer is the channel size of a subscriber; slow subscribers lose lines.
const subscriberBuffer = 32

// Hub records lines, forwards them to next and broadcasts them to subscribers.
type Hub struct {
	next Sink
	now  func() time.Time

	mu          sync.Mutex
	backlog     []Line
	limit       int
	subscribers map[chan Line]struct{}
}

// NewHub creates a hub forwarding to next, which may be nil.
func NewHub(next Sink) *Hub {
	return &Hub{
		next:        next,
		now:         time.Now,
		limit:       DefaultBacklog,
		subscribers: make(map[chan Line]struct{}),
	}
}

// Write implements Sink.
func (h *Hub) Write(message string, severity Severity) {
	line := Line{Time: h.now(), Message: message, Severity: severity}

	h.mu.Lock()

	h.backlog = append(h.backlog, line)
	if len(h.backlog) > h.limit {
		h.backlog = h.backlog[len(h.backlog)-h.limit:]
	}

	for ch := range h.subscribers {
		select {
		case ch <- line:
		default:
		}
	}

	h.mu.Unlock()

	if h.next != nil {
		h.next.Write(message, severity)
	}
}

// Recent returns up to n latest lines, oldest first. A non-positive n returns the whole backlog.
func (h *Hub) Recent(n int) []Line {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.recentLocked(n)
}

func (h *Hub) recentLocked(n int) []Line {
	if n <= 0 || n > len(h.backlog) {
		n = len(h.backlog)
	}

	return append([]Line(nil), h.backlog[len(h.backlog)-n:]...)
}

// Subscribe returns a channel receiving new lines and a function ending the subscription.
func (h *Hub) Subscribe() (<-chan Line, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.subscribeLocked()
}

// Follow returns up to n latest lines and subscribes to the following ones,
// so no line is lost or repeated between the two.
func (h *Hub) Follow(n int) ([]Line, <-chan Line, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	recent := h.recentLocked(n)
	ch, unsubscribe := h.subscribeLocked()

	return recent, ch, unsubscribe
}

func (h *Hub) subscribeLocked() (<-chan Line, func()) {
	ch := make(chan Line, subscriberBuffer)
	h.subscribers[ch] = struct{}{}

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()

			close(ch)
		})
	}
}
