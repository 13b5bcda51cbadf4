package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/eve-alert/internal/audio"
	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/logger"
	"github.com/oshokin/eve-alert/internal/status"
)

const playbackWarning = "Error Playing Sound. Check Logs for more information."

// loop runs cycles separated by a random delay until ctx is done or a cycle fails.
func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	ctx = logger.WithName(ctx, "loop")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := o.cycle(ctx, r); err != nil {
			return err
		}

		// The delay is taken outside the cycle lock so Stop never waits for it.
		timer.Reset(o.opts.CycleDelay())
	}
}

// cycle reloads pending settings and evaluates every class once.
func (o *Orchestrator) cycle(ctx context.Context, r *run) (err error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrInternal, recovered)
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	if o.settingsChanged.Swap(false) {
		o.reload(ctx, r)
	}

	cfg := o.opts.Holder.Load()
	if cfg == nil {
		return fmt.Errorf("%w: no active settings", ErrInternal)
	}

	report := &CycleReport{
		At:        o.opts.Now(),
		Decisions: make(map[alarm.Class]alarm.Decision, len(alarm.Classes())),
	}
	defer r.publish(report)

	for _, class := range alarm.Classes() {
		if ctx.Err() != nil {
			return nil
		}

		if err = o.evaluate(ctx, r, cfg, class, report); err != nil {
			return err
		}
	}

	return nil
}

// evaluate applies the cooldown policy to one class.
func (o *Orchestrator) evaluate(
	ctx context.Context,
	r *run,
	cfg *config.Config,
	class alarm.Class,
	report *CycleReport,
) error {
	if !r.detections.Detected(class) {
		// Episode over: refill the budget, keep any running cooldown.
		if err := r.policy.ResetBudget(class); err != nil {
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}

		r.notifier.EndEpisode(ctx, class)

		return nil
	}

	now := o.opts.Now()

	decision, err := r.policy.Fire(class, now)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}

	report.Decisions[class] = decision
	o.opts.Metrics.ObserveDecision(class, decision)

	switch decision {
	case alarm.SuppressedCooldown:
		o.opts.Sink.Write(fmt.Sprintf("%s Sound is in cooldown period.", class), status.Warning)

		return nil
	case alarm.SuppressedBudget:
		o.opts.Sink.Write(
			fmt.Sprintf("%s Sound is now in cooldown for %d seconds.", class, cfg.CooldownSeconds),
			status.Warning,
		)

		return nil
	case alarm.Allow:
	default:
		return fmt.Errorf("%w: unexpected decision %s", ErrInternal, decision)
	}

	o.opts.Sink.Write(class.Headline(), status.Alert)
	report.Played = append(report.Played, class)

	watch, err := cfg.Watch(class)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}

	o.play(ctx, r, class, audio.Request{
		Sound:  watch.Sound,
		Volume: cfg.Volume,
		Mute:   cfg.Mute,
	})

	// Stop arrived during playback: the alarm is abandoned.
	if ctx.Err() != nil {
		return nil
	}

	// A muted or failed sound is still a fired alarm.
	event := o.opts.Stats.Record(class)
	logger.InfoKV(ctx, "Alarm fired", "class", class, "time", event.FormattedTime())

	r.notifier.Notify(ctx, class)

	return nil
}

// play renders the alarm sound. Failures never stop the run; each class warns once per run.
func (o *Orchestrator) play(ctx context.Context, r *run, class alarm.Class, req audio.Request) {
	if o.opts.Player == nil {
		return
	}

	result, err := o.opts.Player.Play(ctx, req)
	if err == nil {
		logger.DebugKV(ctx, "Alarm sound handled", "class", class, "result", result)

		return
	}

	if ctx.Err() != nil {
		return
	}

	o.opts.Metrics.ObservePlaybackFailure(class)
	logger.ErrorKV(ctx, "Failed to play alarm sound", "class", class, "sound", req.Sound, "error", err)

	if !r.warned[class] {
		r.warned[class] = true
		o.opts.Sink.Write(playbackWarning, status.Warning)
	}
}

// reload swaps in freshly loaded settings. Invalid settings keep the previous snapshot.
func (o *Orchestrator) reload(ctx context.Context, r *run) {
	cfg, err := o.loadValid()
	if err != nil {
		logger.WarnKV(ctx, "Settings reload rejected, keeping previous settings", "error", err)

		return
	}

	if cfg.Notify.Endpoint != r.endpoint {
		sender, senderErr := o.opts.NewSender(cfg.Notify.Endpoint, cfg.Notify.Timeout)
		if senderErr != nil {
			o.opts.Sink.Write("Wrong Alert Settings.", status.Error)
			o.opts.Sink.Write(senderErr.Error(), status.Error)
			logger.WarnKV(ctx, "Settings reload rejected, keeping previous settings", "error", senderErr)

			return
		}

		r.notifier.Replace(sender)
		r.endpoint = cfg.Notify.Endpoint
	}

	o.opts.Holder.Store(cfg)
	r.policy.Configure(cfg.TriggerBudget, cfg.Cooldown())
	r.notifier.Configure(cfg.SystemName, cfg.Notify.Classes)

	o.opts.Sink.Write("Settings: Reloaded.", status.Info)
	logger.InfoKV(ctx, "Settings reloaded")
}
