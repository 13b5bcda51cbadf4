package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/logger"
)

const (
	// DefaultCooldown is the minimal interval between two episode messages.
	DefaultCooldown = 5 * time.Second
	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 10 * time.Second
)

// Kind distinguishes episode messages from reset messages.
type Kind string

const (
	// KindAppeared is sent when an episode starts.
	KindAppeared Kind = "appeared"
	// KindReset is sent when an episode that produced a message ends.
	KindReset Kind = "reset"
)

// Sender delivers a text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Options configures a Notifier.
type Options struct {
	// Sender delivers messages. Nil disables notifications.
	Sender Sender
	// SystemName is mentioned in every message.
	SystemName string
	// Classes lists the alarm classes that notify.
	Classes []alarm.Class
	// Cooldown is the minimal interval between episode messages. Defaults to DefaultCooldown.
	Cooldown time.Duration
	// Timeout bounds one delivery. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Now replaces time.Now.
	Now func() time.Time
	// OnResult is called after every delivery attempt.
	OnResult func(class alarm.Class, kind Kind, err error)
}

// Notifier tracks per-episode state and dispatches messages.
// It is safe for concurrent use.
type Notifier struct {
	timeout  time.Duration
	now      func() time.Time
	onResult func(class alarm.Class, kind Kind, err error)

	mu         sync.Mutex
	sender     Sender
	retired    []Sender
	limiter    *rate.Limiter
	systemName string
	classes    []alarm.Class
	sent       map[alarm.Class]bool

	// queueMu guards the delivery queue; one worker drains it in order.
	queueMu  sync.Mutex
	queue    []delivery
	draining bool

	wg sync.WaitGroup
}

// New creates a notifier.
func New(opts Options) *Notifier {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	n := &Notifier{
		sender:   opts.Sender,
		timeout:  opts.Timeout,
		now:      opts.Now,
		onResult: opts.OnResult,
		limiter:  rate.NewLimiter(rate.Every(opts.Cooldown), 1),
		sent:     make(map[alarm.Class]bool, len(alarm.Classes())),
	}

	n.Configure(opts.SystemName, opts.Classes)

	return n
}

// Configure updates the system name and the notifying classes.
func (n *Notifier) Configure(systemName string, classes []alarm.Class) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.systemName = systemName
	n.classes = slices.Clone(classes)
}

// Replace swaps the sender. The previous sender is closed by Close once
// its pending deliveries are done.
func (n *Notifier) Replace(sender Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sender != nil {
		n.retired = append(n.retired, n.sender)
	}

	n.sender = sender
}

// Enabled reports whether class would notify at all.
func (n *Notifier) Enabled(class alarm.Class) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.enabledLocked(class)
}

func (n *Notifier) enabledLocked(class alarm.Class) bool {
	return n.sender != nil && slices.Contains(n.classes, class)
}

// Sent reports whether a message was sent during the current episode of class.
func (n *Notifier) Sent(class alarm.Class) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.sent[class]
}

// Notify dispatches the episode message for class when allowed and reports whether it did.
// The episode flag and the cooldown are updated before delivery, so a failed
// delivery is not retried during the same episode.
func (n *Notifier) Notify(ctx context.Context, class alarm.Class) bool {
	n.mu.Lock()

	if !n.enabledLocked(class) || n.sent[class] || !n.limiter.AllowN(n.now(), 1) {
		n.mu.Unlock()

		return false
	}

	n.sent[class] = true
	text := AppearedMessage(class, n.systemName)
	sender := n.sender

	n.mu.Unlock()

	n.dispatch(ctx, sender, class, KindAppeared, text)

	return true
}

// EndEpisode clears the episode flag of class and sends the reset message
// when the episode produced one. It reports whether a reset was dispatched.
func (n *Notifier) EndEpisode(ctx context.Context, class alarm.Class) bool {
	n.mu.Lock()

	wasSent := n.sent[class]
	n.sent[class] = false
	text := ResetMessage(class, n.systemName)
	sender := n.sender

	n.mu.Unlock()

	if !wasSent || sender == nil {
		return false
	}

	n.dispatch(ctx, sender, class, KindReset, text)

	return true
}

// delivery is one queued message.
type delivery struct {
	ctx    context.Context //nolint:containedctx // Carries the scoped logger of the caller.
	sender Sender
	class  alarm.Class
	kind   Kind
	text   string
}

// dispatch queues a message. Messages are delivered one at a time in the order they were queued,
// so a reset never overtakes the appeared message of the next episode.
func (n *Notifier) dispatch(ctx context.Context, sender Sender, class alarm.Class, kind Kind, text string) {
	ctx = logger.WithKV(logger.WithName(ctx, "notifier"), "class", class, "kind", kind)

	n.wg.Add(1)

	n.queueMu.Lock()
	defer n.queueMu.Unlock()

	n.queue = append(n.queue, delivery{ctx: ctx, sender: sender, class: class, kind: kind, text: text})

	if !n.draining {
		n.draining = true

		go n.drain()
	}
}

// drain delivers queued messages until the queue is empty.
func (n *Notifier) drain() {
	for {
		n.queueMu.Lock()

		if len(n.queue) == 0 {
			n.draining = false
			n.queueMu.Unlock()

			return
		}

		d := n.queue[0]
		n.queue = n.queue[1:]

		n.queueMu.Unlock()

		n.deliver(d)
		n.wg.Done()
	}
}

func (n *Notifier) deliver(d delivery) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), n.timeout)
	defer cancel()

	err := d.sender.Send(sendCtx, d.text)
	if err != nil {
		logger.ErrorKV(d.ctx, "Failed to send notification", "error", err)
	} else {
		logger.InfoKV(d.ctx, "Notification sent", "text", d.text)
	}

	if n.onResult != nil {
		n.onResult(d.class, d.kind, err)
	}
}

// Wait blocks until every dispatched delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close waits for pending deliveries and closes every sender holding resources.
func (n *Notifier) Close() error {
	n.Wait()

	n.mu.Lock()
	senders := append(n.retired, n.sender)
	n.retired = nil
	n.mu.Unlock()

	var errs []error

	for _, sender := range senders {
		closer, ok := sender.(io.Closer)
		if !ok {
			continue
		}

		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notification sender: %w", err))
		}
	}

	return errors.Join(errs...)
}

// AppearedMessage is the text sent when an episode of class starts.
func AppearedMessage(class alarm.Class, systemName string) string {
	if class == alarm.Enemy {
		return fmt.Sprintf("Enemy Appears in %s!", systemName)
	}

	return fmt.Sprintf("%s Spawn in %s!", class, systemName)
}

// ResetMessage is the text sent when an episode of class ends.
func ResetMessage(class alarm.Class, systemName string) string {
	if class == alarm.Enemy {
		return fmt.Sprintf("Alarm Reset: %s!", systemName)
	}

	return fmt.Sprintf("%s Alarm Reset: %s!", class, systemName)
}
