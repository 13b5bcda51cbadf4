package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/eve-alert/internal/audio"
	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/domain/cooldown"
	"github.com/oshokin/eve-alert/internal/logger"
	"github.com/oshokin/eve-alert/internal/metrics"
	"github.com/oshokin/eve-alert/internal/repository/statistics"
	"github.com/oshokin/eve-alert/internal/service/detector"
	"github.com/oshokin/eve-alert/internal/service/notifier"
	"github.com/oshokin/eve-alert/internal/status"
)

const (
	// MinCycleDelay and MaxCycleDelay bound the random pause between two cycles.
	MinCycleDelay = 2 * time.Second
	MaxCycleDelay = 3 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("alarm detection is already running")
	// ErrNotRunning is returned by Stop when no run is active.
	ErrNotRunning = errors.New("alarm detection is not running")
	// ErrInternal wraps unexpected failures of a cycle, recovered panics included.
	ErrInternal = errors.New("internal alarm cycle error")
	// ErrMissingSource is returned when a class has no detection source.
	ErrMissingSource = errors.New("no detection source for alarm class")
)

// Loader reads the settings file.
type Loader func() (*config.Config, error)

// Player plays alarm sounds; *audio.Player implements it.
type Player interface {
	Play(ctx context.Context, req audio.Request) (audio.Result, error)
}

// SenderFactory builds a notification transport for an endpoint.
type SenderFactory func(endpoint string, timeout time.Duration) (notifier.Sender, error)

// Options wires the orchestrator to its collaborators.
type Options struct {
	// Load reads the settings on start and on every pending reload.
	Load Loader
	// Holder receives the active settings snapshot; a new one is created when nil.
	Holder *config.Holder
	// Sources samples the screen for each class.
	Sources map[alarm.Class]detector.Source
	// Player renders alarm sounds.
	Player Player
	// Stats outlives runs and receives every fired alarm.
	Stats *statistics.Recorder
	// NewSender builds the notification transport. Defaults to notifier.NewSender.
	NewSender SenderFactory
	// Sink receives user-visible status lines.
	Sink status.Sink
	// Metrics is optional.
	Metrics *metrics.Metrics
	// PollInterval is the detector sampling interval. Defaults to detector.DefaultInterval.
	PollInterval time.Duration
	// CycleDelay returns the pause between cycles. Defaults to a uniform value in [2s, 3s).
	CycleDelay func() time.Duration
	// Now replaces time.Now.
	Now func() time.Time
	// NotifyCooldown is the global notification cooldown. Defaults to notifier.DefaultCooldown.
	NotifyCooldown time.Duration
	// OnPhaseChange is called after every phase transition, may be nil.
	OnPhaseChange func(Phase)
}

// Orchestrator starts and stops detection runs.
type Orchestrator struct {
	opts Options

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex
	// cycleMu is held for the whole body of a cycle.
	cycleMu sync.Mutex

	current         atomic.Pointer[run]
	settingsChanged atomic.Bool
}

// New creates an orchestrator. No run is started.
func New(opts Options) *Orchestrator {
	if opts.Holder == nil {
		opts.Holder = config.NewHolder(nil)
	}

	if opts.NewSender == nil {
		opts.NewSender = notifier.NewSender
	}

	if opts.Sink == nil {
		opts.Sink = status.NewLogSink(context.Background())
	}

	if opts.Stats == nil {
		opts.Stats = statistics.New()
	}

	if opts.CycleDelay == nil {
		opts.CycleDelay = RandomCycleDelay
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NotifyCooldown <= 0 {
		opts.NotifyCooldown = notifier.DefaultCooldown
	}

	return &Orchestrator{opts: opts}
}

// RandomCycleDelay returns a uniform duration in [MinCycleDelay, MaxCycleDelay).
func RandomCycleDelay() time.Duration {
	//nolint:gosec // Jitter does not need a cryptographic source.
	return MinCycleDelay + rand.N(MaxCycleDelay-MinCycleDelay)
}

// Stats returns the statistics recorder shared by every run.
func (o *Orchestrator) Stats() *statistics.Recorder {
	return o.opts.Stats
}

// Settings returns the active settings snapshot, nil before the first start.
func (o *Orchestrator) Settings() *config.Config {
	return o.opts.Holder.Load()
}

// MarkSettingsChanged asks the running loop to reload the settings before its next evaluation.
func (o *Orchestrator) MarkSettingsChanged() {
	o.settingsChanged.Store(true)
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	r := o.current.Load()

	return r != nil && r.Phase() == Running
}

// Done returns a channel closed when the current run ends, nil when none was started.
func (o *Orchestrator) Done() <-chan struct{} {
	r := o.current.Load()
	if r == nil {
		return nil
	}

	return r.done
}

// Start validates the settings, checks that both regions can be captured and launches a run.
// The run is detached from ctx cancellation; use Stop to end it.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.Running() {
		return ErrAlreadyRunning
	}

	ctx = logger.WithName(ctx, "orchestrator")

	r, err := o.prepare(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Alarm detection refused to start", "error", err)

		return err
	}

	o.launch(ctx, r)

	return nil
}

// prepare builds the state of a new run without starting any goroutine.
func (o *Orchestrator) prepare(ctx context.Context) (*run, error) {
	// Load and validate settings eagerly, a run never starts half-configured.
	cfg, err := o.loadValid()
	if err != nil {
		return nil, err
	}

	o.settingsChanged.Store(false)
	o.opts.Holder.Store(cfg)
	o.opts.Sink.Write("Settings: Loaded.", status.Info)

	// Every class needs a source that can sample its region right now.
	for _, class := range alarm.Classes() {
		source, ok := o.opts.Sources[class]
		if !ok || source == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, class)
		}

		watch, watchErr := cfg.Watch(class)
		if watchErr != nil {
			return nil, watchErr
		}

		if err = detector.Preflight(ctx, source, class, watch.Region, watch.Threshold()); err != nil {
			o.opts.Sink.Write(fmt.Sprintf("%s region cannot be captured: %v", class, err), status.Error)

			return nil, err
		}
	}

	sender, err := o.opts.NewSender(cfg.Notify.Endpoint, cfg.Notify.Timeout)
	if err != nil {
		o.opts.Sink.Write("Wrong Alert Settings.", status.Error)
		o.opts.Sink.Write(err.Error(), status.Error)

		return nil, errors.Join(config.ErrInvalidConfig, err)
	}

	return o.newRun(cfg, sender), nil
}

// loadValid reads the settings and enumerates every validation problem to the sink.
func (o *Orchestrator) loadValid() (*config.Config, error) {
	cfg, err := o.opts.Load()
	if err != nil {
		o.opts.Sink.Write("Wrong Alert Settings.", status.Error)
		o.opts.Sink.Write(err.Error(), status.Error)

		return nil, errors.Join(config.ErrInvalidConfig, err)
	}

	errs := config.ValidationErrors(cfg)
	if len(errs) == 0 {
		return cfg, nil
	}

	o.opts.Sink.Write("Wrong Alert Settings.", status.Error)

	for _, validationErr := range errs {
		o.opts.Sink.Write(validationErr.Error(), status.Error)
	}

	return nil, errors.Join(append([]error{config.ErrInvalidConfig}, errs...)...)
}

func (o *Orchestrator) newRun(cfg *config.Config, sender notifier.Sender) *run {
	r := &run{
		id:         uuid.NewString(),
		startedAt:  o.opts.Now(),
		done:       make(chan struct{}),
		detections: detector.NewState(),
		policy:     cooldown.New(cfg.TriggerBudget, cfg.Cooldown()),
		warned:     make(map[alarm.Class]bool, len(alarm.Classes())),
		endpoint:   cfg.Notify.Endpoint,
	}

	r.notifier = notifier.New(notifier.Options{
		Sender:     sender,
		SystemName: cfg.SystemName,
		Classes:    cfg.Notify.Classes,
		Cooldown:   o.opts.NotifyCooldown,
		Timeout:    cfg.Notify.Timeout,
		Now:        o.opts.Now,
		OnResult: func(class alarm.Class, kind notifier.Kind, err error) {
			o.opts.Metrics.ObserveNotification(class, string(kind), err)
		},
	})

	r.publish(nil)

	return r
}

// launch starts the pollers and the loop of r.
func (o *Orchestrator) launch(ctx context.Context, r *run) {
	// The run must survive the caller's context, e.g. an HTTP request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logger.WithKV(runCtx, "run_id", r.id)
	r.cancel = cancel

	group, groupCtx := errgroup.WithContext(runCtx)

	for _, class := range alarm.Classes() {
		poller := &detector.Poller{
			Class:    class,
			Source:   o.opts.Sources[class],
			State:    r.detections,
			Target:   o.target(class),
			Interval: o.opts.PollInterval,
			OnSample: o.opts.Metrics.SetDetected,
		}

		group.Go(func() error {
			return poller.Run(groupCtx)
		})
	}

	group.Go(func() error {
		return o.loop(groupCtx, r)
	})

	r.setPhase(Running)
	o.current.Store(r)
	o.opts.Metrics.RunStarted()
	o.notifyPhase(Running)

	o.opts.Sink.Write("System: EVE Alert started.", status.Success)
	logger.InfoKV(runCtx, "Alarm detection started")

	go o.finish(runCtx, r, group)
}

// target resolves the region and threshold of class from the active snapshot.
func (o *Orchestrator) target(class alarm.Class) detector.Target {
	return func() (alarm.Region, float64, error) {
		cfg := o.opts.Holder.Load()
		if cfg == nil {
			return alarm.Region{}, 0, fmt.Errorf("%w: no active settings", ErrInternal)
		}

		watch, err := cfg.Watch(class)
		if err != nil {
			return alarm.Region{}, 0, err
		}

		return watch.Region, watch.Threshold(), nil
	}
}

// finish waits for the run to end and publishes the outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run, group *errgroup.Group) {
	err := group.Wait()
	r.cancel()

	if closeErr := r.notifier.Close(); closeErr != nil {
		logger.WarnKV(ctx, "Failed to close notifier", "error", closeErr)
	}

	reason := "stopped"

	if err != nil {
		reason = "failed"
		r.setErr(err)

		logger.ErrorKV(ctx, "Alarm detection stopped on error", "error", err)
		o.opts.Sink.Write(fmt.Sprintf("System: EVE Alert stopped: %v", err), status.Error)
	} else {
		logger.InfoKV(ctx, "Alarm detection stopped")
		o.opts.Sink.Write("System: EVE Alert stopped.", status.Info)
	}

	// Observers hear about the stop before Start can see the run as stopped,
	// so a restart never reports Running ahead of the old run's Stopped.
	o.opts.Metrics.RunStopped(reason)
	o.notifyPhase(Stopped)
	r.setPhase(Stopped)

	close(r.done)
}

// Stop cancels the active run and waits until it has fully ended or ctx is done.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	r := o.current.Load()
	if r == nil || r.Phase() != Running {
		return ErrNotRunning
	}

	r.cancel()

	// Wait for an in-flight cycle to leave its critical section.
	o.cycleMu.Lock()
	o.cycleMu.Unlock() //nolint:staticcheck // Empty critical section is a barrier.

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for alarm detection to stop: %w", ctx.Err())
	}
}

func (o *Orchestrator) notifyPhase(phase Phase) {
	if o.opts.OnPhaseChange != nil {
		o.opts.OnPhaseChange(phase)
	}
}
