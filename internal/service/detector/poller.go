package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/logger"
)

// DefaultInterval is the pause between two samples of a region.
const DefaultInterval = 100 * time.Millisecond

// ErrCaptureFailed is returned when a region cannot be sampled.
var ErrCaptureFailed = errors.New("capture failed")

// Source reports whether a known marker is visible in region with at least threshold similarity.
type Source interface {
	Sample(ctx context.Context, region alarm.Region, threshold float64) (bool, error)
}

// Target returns the region and threshold to sample. It is consulted on every
// tick so settings reloads take effect without restarting the poller.
type Target func() (alarm.Region, float64, error)

// Poller samples one region for one alarm class.
type Poller struct {
	// Class is the alarm class this poller writes.
	Class alarm.Class
	// Source performs the sampling.
	Source Source
	// State receives the verdicts.
	State *State
	// Target supplies the current region and threshold.
	Target Target
	// Interval is the pause between samples. Defaults to DefaultInterval.
	Interval time.Duration
	// OnSample is called with every verdict, may be nil.
	OnSample func(class alarm.Class, detected bool)
}

// Run samples until ctx is cancelled or a capture fails.
// A cancelled run returns nil and never writes a verdict after cancellation.
func (p *Poller) Run(ctx context.Context) error {
	ctx = logger.WithKV(logger.WithName(ctx, "poller"), "class", p.Class)

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger.DebugKV(ctx, "Poller started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.sample(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		select {
		case <-ctx.Done():
			logger.Debug(ctx, "Poller stopped")

			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) sample(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	region, threshold, err := p.Target()
	if err != nil {
		return fmt.Errorf("resolve %s target: %w", p.Class, err)
	}

	detected, err := p.Source.Sample(ctx, region, threshold)
	if err != nil {
		return fmt.Errorf("%w: %s region %s: %w", ErrCaptureFailed, p.Class, region, err)
	}

	// Stop may have happened while sampling.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if detected != p.State.Detected(p.Class) {
		logger.DebugKV(ctx, "Detection changed", "detected", detected)
	}

	p.State.Set(p.Class, detected)

	if p.OnSample != nil {
		p.OnSample(p.Class, detected)
	}

	return nil
}

// Preflight samples region once and wraps a failure in ErrCaptureFailed.
func Preflight(ctx context.Context, source Source, class alarm.Class, region alarm.Region, threshold float64) error {
	if _, err := source.Sample(ctx, region, threshold); err != nil {
		return fmt.Errorf("%w: %s region %s: %w", ErrCaptureFailed, class, region, err)
	}

	return nil
}
