package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/eve-alert/internal/api/grpc/healthcheck"
	"github.com/oshokin/eve-alert/internal/api/rest"
	"github.com/oshokin/eve-alert/internal/audio"
	"github.com/oshokin/eve-alert/internal/audio/portaudio"
	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/logger"
	"github.com/oshokin/eve-alert/internal/metrics"
	"github.com/oshokin/eve-alert/internal/repository/statistics"
	"github.com/oshokin/eve-alert/internal/service/detector"
	"github.com/oshokin/eve-alert/internal/service/orchestrator"
	"github.com/oshokin/eve-alert/internal/status"
	"github.com/oshokin/eve-alert/internal/version"
	"github.com/oshokin/eve-alert/internal/vision"
)

// stopTimeout bounds the wait for the run to stop on shutdown.
const stopTimeout = 10 * time.Second

// Options controls the eve-alert process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// HTTPAddress overrides the HTTP API listen address; "-" disables the API.
	HTTPAddress string
	// GRPCAddress overrides the gRPC health listen address; "-" disables it.
	GRPCAddress string
	// AutoStart starts detection right away.
	AutoStart bool
	// AllowMultiple skips the single-instance check.
	AllowMultiple bool
	// ExportPath receives the statistics on shutdown when set.
	ExportPath string
}

// disabledAddress turns a listener off from the command line.
const disabledAddress = "-"

// Run starts the agent and blocks until ctx is cancelled or a listener fails.
//
//nolint:funlen // Wiring reads best top to bottom.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "agent")

	// Ambient settings (log, listeners) come from the file even when the
	// detection part of it is invalid; Start validates the rest.
	cfg := loadAmbientSettings(ctx, opts.ConfigPath)

	closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}

	defer func() {
		_ = closeLog()
	}()

	logger.InfoKV(ctx, "Starting eve-alert", "version", version.Full(), "settings", opts.ConfigPath)

	// Refuse to compete with another instance for the screen and the sound device.
	if !opts.AllowMultiple {
		if err = ensureSingleInstance(ps.Processes); err != nil {
			return err
		}
	}

	hub := status.NewHub(status.NewLogSink(ctx))
	collectors := metrics.New()
	stats := statistics.New()

	warnAboutSounds(cfg, hub)

	sources, closeSources, err := newSources(ctx, cfg)
	if err != nil {
		return err
	}

	defer closeSources()

	player, closePlayer := newPlayer(ctx, hub)
	defer closePlayer()

	health := healthcheck.New()

	orch := orchestrator.New(orchestrator.Options{
		Load: func() (*config.Config, error) {
			return config.Load(opts.ConfigPath)
		},
		Sources: sources,
		Player:  player,
		Stats:   stats,
		Sink:    hub,
		Metrics: collectors,
		OnPhaseChange: func(phase orchestrator.Phase) {
			health.SetRunning(phase == orchestrator.Running)
		},
	})

	group, groupCtx := errgroup.WithContext(ctx)

	// Settings edits are picked up by the loop on its next cycle.
	group.Go(func() error {
		return config.WatchFile(groupCtx, opts.ConfigPath, func() {
			logger.Debug(groupCtx, "Settings file changed")
			orch.MarkSettingsChanged()
		})
	})

	if address := pickAddress(opts.HTTPAddress, cfg.HTTPAddress); address != "" {
		handler := rest.NewHandler(rest.Options{
			Controller: orch,
			Hub:        hub,
			Metrics:    collectors,
		})

		group.Go(func() error {
			return rest.Serve(groupCtx, address, handler)
		})
	}

	if address := pickAddress(opts.GRPCAddress, cfg.GRPCAddress); address != "" {
		group.Go(func() error {
			return health.Serve(groupCtx, address)
		})
	}

	if opts.AutoStart {
		if err = orch.Start(groupCtx); err != nil {
			logger.WarnKV(ctx, "Auto start failed, waiting for a start request", "error", err)
		}
	}

	// Stop the run once the process is shutting down.
	group.Go(func() error {
		<-groupCtx.Done()

		return stopRun(context.WithoutCancel(ctx), orch)
	})

	err = group.Wait()

	if opts.ExportPath != "" {
		if exportErr := statistics.WriteFile(opts.ExportPath, stats.Snapshot()); exportErr != nil {
			logger.ErrorKV(ctx, "Failed to export statistics", "path", opts.ExportPath, "error", exportErr)
		} else {
			logger.InfoKV(ctx, "Statistics exported", "path", opts.ExportPath)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info(ctx, "Eve-alert stopped")

	return nil
}

// loadAmbientSettings reads the settings file, falling back to defaults when it cannot be read.
func loadAmbientSettings(ctx context.Context, path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		logger.WarnKV(ctx, "Settings cannot be read, using defaults until they are fixed", "error", err)

		return config.Default()
	}

	return cfg
}

// setupLogger applies the log level and the optional log file.
func setupLogger(settings config.Log) (func() error, error) {
	level, ok := logger.ParseLogLevel(settings.Level)
	if !ok {
		level = logger.Level()
	}

	logger.SetLevel(level)

	if settings.File == "" {
		return func() error { return nil }, nil
	}

	l, closeFile, err := logger.NewWithFile(logger.AtomicLevel(), settings.File)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger.SetLogger(l)

	return closeFile, nil
}

// warnAboutSounds reports unusable sound files; playback failures are not fatal.
func warnAboutSounds(cfg *config.Config, sink status.Sink) {
	for _, class := range alarm.Classes() {
		watch, err := cfg.Watch(class)
		if err != nil {
			continue
		}

		if err = audio.ValidateFile(watch.Sound); err != nil {
			sink.Write(fmt.Sprintf("%s sound file problem: %v", class, err), status.Warning)
		}
	}
}

// newSources builds one screen source per class sharing a single capturer.
func newSources(ctx context.Context, cfg *config.Config) (map[alarm.Class]detector.Source, func(), error) {
	matcher, err := vision.LoadTemplates(cfg.TemplatesDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load templates: %w", err)
	}

	for _, class := range alarm.Classes() {
		logger.InfoKV(ctx, "Templates loaded", "class", class, "count", matcher.Count(class))
	}

	screen, err := vision.NewScreen()
	if err != nil {
		return nil, nil, fmt.Errorf("prepare screen capture: %w", err)
	}

	sources := make(map[alarm.Class]detector.Source, len(alarm.Classes()))
	for _, class := range alarm.Classes() {
		sources[class] = vision.NewClassSource(screen, matcher, class)
	}

	return sources, func() {
		if closeErr := screen.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to clean up screen capture", "error", closeErr)
		}
	}, nil
}

// newPlayer opens the default audio device. Without one every alarm still
// fires and counts, and playback reports an error once per class and run.
func newPlayer(ctx context.Context, sink status.Sink) (*audio.Player, func()) {
	output, err := portaudio.New()
	if err != nil {
		logger.WarnKV(ctx, "Audio output is unavailable", "error", err)
		sink.Write("Audio output is unavailable. Check Logs for more information.", status.Warning)

		return audio.NewPlayer(audio.Unavailable{Cause: err}), func() {}
	}

	return audio.NewPlayer(output), func() {
		if closeErr := output.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to close audio output", "error", closeErr)
		}
	}
}

// pickAddress applies a command line override to the configured address.
func pickAddress(override, configured string) string {
	switch override {
	case "":
		return configured
	case disabledAddress:
		return ""
	default:
		return override
	}
}

// stopRun stops an active run. Shutdown proceeds even when the run does not stop in time.
func stopRun(ctx context.Context, orch *orchestrator.Orchestrator) error {
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if err := orch.Stop(ctx); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		logger.WarnKV(ctx, "Failed to stop detection cleanly", "error", err)
	}

	return nil
}
