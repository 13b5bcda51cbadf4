package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// Watch describes how one alarm class is detected and announced.
type Watch struct {
	// Region is the screen rectangle sampled for this class.
	Region alarm.Region `yaml:"region"`
	// DetectionScale is the minimal template similarity in percent, (0, 100].
	DetectionScale int `yaml:"detection_scale"`
	// Sound is the path to the WAV or FLAC file played when the class fires.
	Sound string `yaml:"sound"`
}

// Notify configures outbound notifications.
type Notify struct {
	// Endpoint is a webhook, shoutrrr or MQTT URL. Empty disables notifications.
	Endpoint string `yaml:"endpoint"`
	// Classes lists the alarm classes that send notifications.
	Classes []alarm.Class `yaml:"classes"`
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// Log configures the application logger.
type Log struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// File is an optional path receiving JSON log lines.
	File string `yaml:"file"`
}

// Config is the complete eve-alert settings file.
// A loaded Config is treated as immutable; reloads produce a new value.
type Config struct {
	// SystemName is the solar system reported in notifications.
	SystemName string `yaml:"system_name"`
	// Enemy configures the local-list watch.
	Enemy Watch `yaml:"enemy"`
	// Faction configures the faction spawn watch.
	Faction Watch `yaml:"faction"`
	// CooldownSeconds is how long a class stays silent after exhausting its trigger budget.
	CooldownSeconds int `yaml:"cooldown_seconds"`
	// TriggerBudget is the number of consecutive firings allowed before a forced cooldown.
	TriggerBudget int `yaml:"trigger_budget"`
	// Volume scales alarm samples, [0, 1].
	Volume float64 `yaml:"volume"`
	// Mute disables audio output while still counting firings.
	Mute bool `yaml:"mute"`
	// Notify configures outbound notifications.
	Notify Notify `yaml:"notify"`
	// TemplatesDir holds the template images matched against the regions.
	TemplatesDir string `yaml:"templates_dir"`
	// HTTPAddress is the listen address of the control API. Empty disables it.
	HTTPAddress string `yaml:"http_addr"`
	// GRPCAddress is the listen address of the gRPC health service. Empty disables it.
	GRPCAddress string `yaml:"grpc_addr"`
	// Log configures logging.
	Log Log `yaml:"log"`
}

const (
	// DefaultConfigFilename is the default filename for eve-alert settings.
	DefaultConfigFilename = "eve-alert-settings.yaml"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultCooldownSeconds is the cooldown used when none is configured.
	DefaultCooldownSeconds = 60

	// DefaultTriggerBudget is the number of consecutive firings before a forced cooldown.
	DefaultTriggerBudget = 3

	// DefaultDetectionScale is the default similarity threshold in percent.
	DefaultDetectionScale = 90

	// DefaultNotifyTimeout bounds a notification delivery attempt.
	DefaultNotifyTimeout = 10 * time.Second

	// DefaultSystemName is used in notifications when no system is configured.
	DefaultSystemName = "Unknown"
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

// Default returns the settings used for fields missing from the file.
func Default() *Config {
	return &Config{
		SystemName: DefaultSystemName,
		Enemy: Watch{
			DetectionScale: DefaultDetectionScale,
			Sound:          filepath.Join("sound", "alarm.wav"),
		},
		Faction: Watch{
			DetectionScale: DefaultDetectionScale,
			Sound:          filepath.Join("sound", "faction.wav"),
		},
		CooldownSeconds: DefaultCooldownSeconds,
		TriggerBudget:   DefaultTriggerBudget,
		Volume:          1,
		Notify: Notify{
			Classes: []alarm.Class{alarm.Enemy},
			Timeout: DefaultNotifyTimeout,
		},
		TemplatesDir: "img",
		HTTPAddress:  "127.0.0.1:8790",
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the settings file at path on top of Default.
// The result is not validated; call Validate before using it for a run.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return cfg, nil
}

// Save validates cfg and writes it to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may contain webhook tokens.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Watch returns the watch settings of class.
func (c *Config) Watch(class alarm.Class) (Watch, error) {
	switch class {
	case alarm.Enemy:
		return c.Enemy, nil
	case alarm.Faction:
		return c.Faction, nil
	default:
		return Watch{}, fmt.Errorf("%w: %q", alarm.ErrUnknownClass, class)
	}
}

// Threshold converts the detection scale of w into a similarity in (0, 1].
func (w Watch) Threshold() float64 {
	return float64(w.DetectionScale) / 100 //nolint:mnd // Percent to ratio.
}

// Cooldown returns the cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// NotifyEnabled reports whether class sends notifications.
func (c *Config) NotifyEnabled(class alarm.Class) bool {
	return c.Notify.Endpoint != "" && slices.Contains(c.Notify.Classes, class)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Notify.Classes = slices.Clone(c.Notify.Classes)

	return &cloned
}
