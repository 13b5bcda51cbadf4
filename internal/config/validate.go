package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/logger"
)

const (
	// MinRegionSize is the minimal width and height of a watched region in pixels.
	MinRegionSize = 10
	// MaxCooldownSeconds caps the cooldown at one hour.
	MaxCooldownSeconds = 3600
	// MinDetectionScale and MaxDetectionScale bound the detection scale in percent.
	MinDetectionScale = 1
	MaxDetectionScale = 100
)

var (
	// ErrInvalidConfig wraps every validation failure returned by Validate.
	ErrInvalidConfig = errors.New("invalid settings")
	// ErrRegionInvertedX is returned when x1 is not less than x2.
	ErrRegionInvertedX = errors.New("x1 must be less than x2")
	// ErrRegionInvertedY is returned when y1 is not less than y2.
	ErrRegionInvertedY = errors.New("y1 must be less than y2")
	// ErrRegionTooSmall is returned for regions smaller than MinRegionSize.
	ErrRegionTooSmall = errors.New("region is too small")
	// ErrDetectionScaleRange is returned for scales outside (0, 100].
	ErrDetectionScaleRange = errors.New("detection scale must be between 1 and 100")
	// ErrCooldownRange is returned for cooldowns outside [0, 3600].
	ErrCooldownRange = errors.New("cooldown must be between 0 and 3600 seconds")
	// ErrTriggerBudgetRange is returned for a non-positive trigger budget.
	ErrTriggerBudgetRange = errors.New("trigger budget must be at least 1")
	// ErrVolumeRange is returned for volumes outside [0, 1].
	ErrVolumeRange = errors.New("volume must be between 0 and 1")
	// ErrInvalidEndpoint is returned for malformed notification endpoints.
	ErrInvalidEndpoint = errors.New("invalid notification endpoint")
	// ErrInvalidAddress is returned for malformed listen addresses.
	ErrInvalidAddress = errors.New("invalid listen address")
)

// ValidateRegion checks geometry of a watched region.
func ValidateRegion(r alarm.Region) error {
	if r.X1 >= r.X2 {
		return fmt.Errorf("%w: x1=%d, x2=%d", ErrRegionInvertedX, r.X1, r.X2)
	}

	if r.Y1 >= r.Y2 {
		return fmt.Errorf("%w: y1=%d, y2=%d", ErrRegionInvertedY, r.Y1, r.Y2)
	}

	if r.Width() < MinRegionSize || r.Height() < MinRegionSize {
		return fmt.Errorf("%w: %dx%d, minimum %dx%d",
			ErrRegionTooSmall, r.Width(), r.Height(), MinRegionSize, MinRegionSize)
	}

	return nil
}

// ValidateDetectionScale checks a similarity threshold given in percent.
func ValidateDetectionScale(scale int) error {
	if scale < MinDetectionScale || scale > MaxDetectionScale {
		return fmt.Errorf("%w: %d", ErrDetectionScaleRange, scale)
	}

	return nil
}

// ValidateCooldown checks the cooldown duration in seconds.
func ValidateCooldown(seconds int) error {
	if seconds < 0 || seconds > MaxCooldownSeconds {
		return fmt.Errorf("%w: %d", ErrCooldownRange, seconds)
	}

	return nil
}

// ValidateTriggerBudget checks the number of firings allowed before a cooldown.
func ValidateTriggerBudget(budget int) error {
	if budget < 1 {
		return fmt.Errorf("%w: %d", ErrTriggerBudgetRange, budget)
	}

	return nil
}

// ValidateVolume checks the output volume.
func ValidateVolume(volume float64) error {
	if math.IsNaN(volume) || volume < 0 || volume > 1 {
		return fmt.Errorf("%w: %v", ErrVolumeRange, volume)
	}

	return nil
}

// ValidateEndpoint checks a notification endpoint. Empty is valid.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	if u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return fmt.Errorf("%w: scheme and host are required", ErrInvalidEndpoint)
	}

	switch u.Scheme {
	case "http", "https":
		if strings.HasSuffix(u.Hostname(), "discord.com") && !strings.Contains(u.Path, "/api/webhooks/") {
			return fmt.Errorf("%w: discord webhook must contain /api/webhooks/", ErrInvalidEndpoint)
		}
	case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		if strings.Trim(u.Path, "/") == "" {
			return fmt.Errorf("%w: mqtt endpoint needs a topic path", ErrInvalidEndpoint)
		}
	}

	return nil
}

// validateAddress checks an optional host:port listen address.
func validateAddress(name, address string) error {
	if address == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidAddress, name, err)
	}

	return nil
}

// ValidationErrors returns every problem found in cfg, prefixed with the field name.
func ValidationErrors(cfg *Config) []error {
	if cfg == nil {
		return []error{errConfigIsNotSet}
	}

	var errs []error

	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	add("enemy region", ValidateRegion(cfg.Enemy.Region))
	add("faction region", ValidateRegion(cfg.Faction.Region))
	add("enemy detection scale", ValidateDetectionScale(cfg.Enemy.DetectionScale))
	add("faction detection scale", ValidateDetectionScale(cfg.Faction.DetectionScale))
	add("cooldown", ValidateCooldown(cfg.CooldownSeconds))
	add("trigger budget", ValidateTriggerBudget(cfg.TriggerBudget))
	add("volume", ValidateVolume(cfg.Volume))
	add("notify endpoint", ValidateEndpoint(cfg.Notify.Endpoint))
	add("http address", validateAddress("http_addr", cfg.HTTPAddress))
	add("grpc address", validateAddress("grpc_addr", cfg.GRPCAddress))

	for _, class := range cfg.Notify.Classes {
		if !class.Valid() {
			add("notify classes", fmt.Errorf("%w: %q", alarm.ErrUnknownClass, class))
		}
	}

	if _, ok := logger.ParseLogLevel(cfg.Log.Level); !ok {
		add("log level", fmt.Errorf("unknown level %q", cfg.Log.Level))
	}

	return errs
}

// Validate joins ValidationErrors under ErrInvalidConfig.
func Validate(cfg *Config) error {
	errs := ValidationErrors(cfg)
	if len(errs) == 0 {
		return nil
	}

	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}
