package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oshokin/eve-alert/internal/audio"
	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/repository/statistics"
	"github.com/oshokin/eve-alert/internal/service/detector"
	"github.com/oshokin/eve-alert/internal/service/notifier"
	"github.com/oshokin/eve-alert/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

// fakeSource returns the stored verdict or error.
type fakeSource struct {
	detected atomic.Bool
	mu       sync.Mutex
	err      error
}

func (s *fakeSource) Sample(context.Context, alarm.Region, float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}

	return s.detected.Load(), nil
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// fakePlayer records requests.
type fakePlayer struct {
	mu       sync.Mutex
	requests []audio.Request
	err      error
	panicky  bool
	onPlay   func()
}

func (p *fakePlayer) Play(_ context.Context, req audio.Request) (audio.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panicky {
		panic("player exploded")
	}

	p.requests = append(p.requests, req)

	if p.onPlay != nil {
		p.onPlay()
	}

	if req.Mute {
		return audio.Muted, nil
	}

	return audio.Played, p.err
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.requests)
}

// recordingSink keeps every status line.
type recordingSink struct {
	mu    sync.Mutex
	lines []status.Line
}

func (s *recordingSink) Write(message string, severity status.Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, status.Line{Message: message, Severity: severity})
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]string, 0, len(s.lines))
	for _, line := range s.lines {
		result = append(result, line.Message)
	}

	return result
}

func (s *recordingSink) count(message string) int {
	var n int

	for _, m := range s.messages() {
		if m == message {
			n++
		}
	}

	return n
}

// outbox collects notification texts.
type outbox struct {
	mu    sync.Mutex
	texts []string
}

func (o *outbox) sender(string, time.Duration) (notifier.Sender, error) {
	return notifier.SenderFunc(func(_ context.Context, text string) error {
		o.mu.Lock()
		defer o.mu.Unlock()

		o.texts = append(o.texts, text)

		return nil
	}), nil
}

func (o *outbox) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.texts...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fixture struct {
	orchestrator *Orchestrator
	sources      map[alarm.Class]*fakeSource
	player       *fakePlayer
	sink         *recordingSink
	outbox       *outbox
	clock        *clock
	stats        *statistics.Recorder

	cfgMu sync.Mutex
	cfg   *config.Config
}

func (f *fixture) setConfig(cfg *config.Config) {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()

	f.cfg = cfg
}

func (f *fixture) load() (*config.Config, error) {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()

	return f.cfg.Clone(), nil
}

func validConfig() *config.Config {
	cfg := config.Default()
	cfg.SystemName = "Jita"
	cfg.Enemy.Region = alarm.Region{X1: 0, Y1: 0, X2: 100, Y2: 100}
	cfg.Faction.Region = alarm.Region{X1: 0, Y1: 100, X2: 100, Y2: 200}
	cfg.Notify.Endpoint = "https://example.com/hook"

	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sources: map[alarm.Class]*fakeSource{
			alarm.Enemy:   new(fakeSource),
			alarm.Faction: new(fakeSource),
		},
		player: new(fakePlayer),
		sink:   new(recordingSink),
		outbox: new(outbox),
		clock:  &clock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)},
		cfg:    validConfig(),
	}

	f.stats = statistics.New(statistics.WithClock(f.clock.Now))

	f.orchestrator = New(Options{
		Load: f.load,
		Sources: map[alarm.Class]detector.Source{
			alarm.Enemy:   f.sources[alarm.Enemy],
			alarm.Faction: f.sources[alarm.Faction],
		},
		Player:       f.player,
		Stats:        f.stats,
		NewSender:    f.outbox.sender,
		Sink:         f.sink,
		PollInterval: time.Millisecond,
		CycleDelay:   func() time.Duration { return 5 * time.Millisecond },
		Now:          f.clock.Now,
	})

	return f
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.orchestrator.Stop(ctx)
	if !errors.Is(err, ErrNotRunning) {
		require.NoError(t, err)
	}

	if done := f.orchestrator.Done(); done != nil {
		<-done
	}
}

func TestStartRefusesInvalidSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := validConfig()
	cfg.Enemy.Region = alarm.Region{X1: 100, Y1: 0, X2: 0, Y2: 100}
	cfg.Volume = 3
	f.setConfig(cfg)

	err := f.orchestrator.Start(context.Background())
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	require.ErrorIs(t, err, config.ErrRegionInvertedX)
	require.ErrorIs(t, err, config.ErrVolumeRange)
	require.False(t, f.orchestrator.Running())
	require.Equal(t, Idle.String(), f.orchestrator.Status().Phase)

	messages := f.sink.messages()
	require.Equal(t, "Wrong Alert Settings.", messages[0])
	require.Len(t, messages, 3)
}

func TestStartRefusesUncapturableRegion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sources[alarm.Faction].fail(errBoom)

	err := f.orchestrator.Start(context.Background())
	require.ErrorIs(t, err, detector.ErrCaptureFailed)
	require.ErrorIs(t, err, errBoom)
	require.False(t, f.orchestrator.Running())
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.orchestrator.Start(context.Background()))
	require.ErrorIs(t, f.orchestrator.Start(context.Background()), ErrAlreadyRunning)

	f.stop(t)
	require.ErrorIs(t, f.orchestrator.Stop(context.Background()), ErrNotRunning)
}

func TestBudgetCooldownAndEpisodes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	r, err := f.orchestrator.prepare(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, r.notifier.Close())
	})

	r.detections.Set(alarm.Enemy, true)

	// Three sounds, then the budget is spent.
	for range 3 {
		require.NoError(t, f.orchestrator.cycle(ctx, r))
		require.Equal(t, alarm.Allow, r.report.Load().Decisions[alarm.Enemy])
		f.clock.Advance(2 * time.Second)
	}

	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, alarm.SuppressedBudget, r.report.Load().Decisions[alarm.Enemy])
	require.Equal(t, 1, f.sink.count("Enemy Sound is now in cooldown for 60 seconds."))

	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, alarm.SuppressedCooldown, r.report.Load().Decisions[alarm.Enemy])
	require.Equal(t, 1, f.sink.count("Enemy Sound is in cooldown period."))

	// The episode ends but the cooldown survives it.
	r.detections.Set(alarm.Enemy, false)
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Empty(t, r.report.Load().Decisions)

	r.detections.Set(alarm.Enemy, true)
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, alarm.SuppressedCooldown, r.report.Load().Decisions[alarm.Enemy])

	f.clock.Advance(time.Minute)
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, alarm.Allow, r.report.Load().Decisions[alarm.Enemy])

	r.notifier.Wait()

	require.Equal(t, 4, f.player.count())
	require.Equal(t, 4, f.stats.Snapshot().SessionByClass[alarm.Enemy])
	require.Equal(t, 0, f.stats.Snapshot().SessionByClass[alarm.Faction])
	require.Equal(t, 4, f.sink.count(alarm.Enemy.Headline()))
	require.Equal(t, []string{
		"Enemy Appears in Jita!",
		"Alarm Reset: Jita!",
		"Enemy Appears in Jita!",
	}, f.outbox.all())
}

func TestFactionIsNotNotifiedByDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	r, err := f.orchestrator.prepare(ctx)
	require.NoError(t, err)

	r.detections.Set(alarm.Faction, true)
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.NoError(t, r.notifier.Close())

	require.Equal(t, 1, f.stats.Snapshot().SessionByClass[alarm.Faction])
	require.Equal(t, 1, f.sink.count("Faction Spawn!"))
	require.Empty(t, f.outbox.all())
}

func TestMuteStillCountsAlarm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := validConfig()
	cfg.Mute = true
	f.setConfig(cfg)

	ctx := context.Background()

	r, err := f.orchestrator.prepare(ctx)
	require.NoError(t, err)

	r.detections.Set(alarm.Enemy, true)
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.NoError(t, r.notifier.Close())

	require.Equal(t, 1, f.stats.Snapshot().TotalAlarms)
	require.True(t, f.player.requests[0].Mute)
}

func TestPlaybackFailureWarnsOncePerClass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.player.err = errBoom

	ctx := context.Background()

	r, err := f.orchestrator.prepare(ctx)
	require.NoError(t, err)

	r.detections.Set(alarm.Enemy, true)
	r.detections.Set(alarm.Faction, true)

	for range 2 {
		require.NoError(t, f.orchestrator.cycle(ctx, r))
	}

	require.NoError(t, r.notifier.Close())

	require.Equal(t, 2, f.sink.count(playbackWarning))
	require.Equal(t, 4, f.stats.Snapshot().TotalAlarms)
}

func TestStopDuringPlaybackSkipsRecordAndNotify(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	r, err := f.orchestrator.prepare(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.player.onPlay = cancel

	r.detections.Set(alarm.Enemy, true)

	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.NoError(t, r.notifier.Close())

	require.Equal(t, 1, f.player.count())
	require.Zero(t, f.stats.Snapshot().TotalAlarms)
	require.Empty(t, f.outbox.all())
}

func TestCyclePanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.player.panicky = true

	ctx := context.Background()

	r, err := f.orchestrator.prepare(ctx)
	require.NoError(t, err)

	r.detections.Set(alarm.Enemy, true)

	err = f.orchestrator.cycle(ctx, r)
	require.ErrorIs(t, err, ErrInternal)
	require.NoError(t, r.notifier.Close())

	// The lock is released after a panic.
	require.True(t, f.orchestrator.cycleMu.TryLock())
	f.orchestrator.cycleMu.Unlock()
}

func TestReloadOnRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	r, err := f.orchestrator.prepare(ctx)
	require.NoError(t, err)

	cfg := validConfig()
	cfg.TriggerBudget = 1
	cfg.SystemName = "Amarr"
	f.setConfig(cfg)

	// Nothing happens until the change is marked.
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, "Jita", f.orchestrator.Settings().SystemName)

	f.orchestrator.MarkSettingsChanged()
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, "Amarr", f.orchestrator.Settings().SystemName)
	require.Equal(t, 1, f.sink.count("Settings: Reloaded."))

	r.detections.Set(alarm.Enemy, true)
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, alarm.SuppressedBudget, r.report.Load().Decisions[alarm.Enemy])

	// Invalid settings keep the previous snapshot.
	broken := validConfig()
	broken.CooldownSeconds = -1
	f.setConfig(broken)
	f.orchestrator.MarkSettingsChanged()
	require.NoError(t, f.orchestrator.cycle(ctx, r))
	require.Equal(t, "Amarr", f.orchestrator.Settings().SystemName)
	require.Equal(t, 1, f.sink.count("Wrong Alert Settings."))

	require.NoError(t, r.notifier.Close())
	require.Equal(t, []string{"Enemy Appears in Amarr!"}, f.outbox.all())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var phases []Phase

	var phasesMu sync.Mutex

	f.orchestrator.opts.OnPhaseChange = func(p Phase) {
		phasesMu.Lock()
		defer phasesMu.Unlock()

		phases = append(phases, p)
	}

	f.sources[alarm.Enemy].detected.Store(true)

	require.NoError(t, f.orchestrator.Start(context.Background()))
	require.True(t, f.orchestrator.Running())

	require.Eventually(t, func() bool {
		return f.stats.Snapshot().TotalAlarms > 0
	}, 5*time.Second, 5*time.Millisecond)

	st := f.orchestrator.Status()
	require.Equal(t, Running.String(), st.Phase)
	require.NotEmpty(t, st.RunID)
	require.True(t, st.Classes[alarm.Enemy].Detected)

	f.stop(t)
	require.False(t, f.orchestrator.Running())
	require.Equal(t, Stopped.String(), f.orchestrator.Status().Phase)

	total := f.stats.Snapshot().TotalAlarms

	// A new run starts with a fresh budget, statistics carry over.
	require.NoError(t, f.orchestrator.Start(context.Background()))
	require.Eventually(t, func() bool {
		return f.stats.Snapshot().TotalAlarms > total
	}, 5*time.Second, 5*time.Millisecond)
	f.stop(t)

	phasesMu.Lock()
	defer phasesMu.Unlock()

	require.Equal(t, []Phase{Running, Stopped, Running, Stopped}, phases)
	require.Equal(t, 2, f.sink.count("System: EVE Alert started."))
	require.Equal(t, 2, f.sink.count("System: EVE Alert stopped."))
}

func TestCaptureFailureStopsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.orchestrator.Start(context.Background()))

	f.sources[alarm.Faction].fail(errBoom)

	select {
	case <-f.orchestrator.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	st := f.orchestrator.Status()
	require.Equal(t, Stopped.String(), st.Phase)
	require.Contains(t, st.LastError, "boom")
	require.False(t, f.orchestrator.Running())
	require.ErrorIs(t, f.orchestrator.Stop(context.Background()), ErrNotRunning)
}

func TestRestartAfterFailureKeepsPhaseOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var (
		phasesMu sync.Mutex
		phases   []Phase
	)

	f.orchestrator.opts.OnPhaseChange = func(p Phase) {
		phasesMu.Lock()
		defer phasesMu.Unlock()

		phases = append(phases, p)
	}

	require.NoError(t, f.orchestrator.Start(context.Background()))

	f.sources[alarm.Faction].fail(errBoom)

	// Restart the moment the failed run is seen as stopped.
	require.Eventually(t, func() bool {
		return !f.orchestrator.Running()
	}, 5*time.Second, time.Millisecond)

	f.sources[alarm.Faction].fail(nil)

	require.NoError(t, f.orchestrator.Start(context.Background()))
	f.stop(t)

	phasesMu.Lock()
	defer phasesMu.Unlock()

	require.Equal(t, []Phase{Running, Stopped, Running, Stopped}, phases)
}

func TestRandomCycleDelay(t *testing.T) {
	t.Parallel()

	for range 100 {
		d := RandomCycleDelay()
		require.GreaterOrEqual(t, d, MinCycleDelay)
		require.Less(t, d, MaxCycleDelay)
	}
}
