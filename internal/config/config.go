// Package config loads the orchestrator's flat key-value configuration
// (spec.md §6.4) through a layered koanf pipeline: struct defaults, an
// optional YAML file, environment variables, then explicit CLI flags,
// each layer overriding the one before it. The loader itself is lifted
// nearly verbatim from the teacher's internal/config/loader.go — it is
// generic enough that the orchestrator's config struct is just another
// caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadBalancing is spec.md §6.4's load_balancing key. Its value is
// validated but not read outside this package: the Dispatcher always
// selects robots by capability score, whichever value is set.
type LoadBalancing string

const (
	LoadBalancingLeastLoaded     LoadBalancing = "least_loaded"
	LoadBalancingCapabilityScore LoadBalancing = "capability_score"
)

// Config holds every recognized option from spec.md §6.4.
type Config struct {
	DispatchIntervalSeconds       int           `koanf:"dispatch_interval_seconds"`
	HeartbeatTimeoutSeconds       int           `koanf:"heartbeat_timeout_seconds"`
	HeartbeatSweepIntervalSeconds int           `koanf:"heartbeat_sweep_interval_seconds"`
	DefaultJobTimeoutSeconds      int           `koanf:"default_job_timeout_seconds"`
	AssignAckTimeoutSeconds       int           `koanf:"assign_ack_timeout_seconds"`
	CancelGraceSeconds            int           `koanf:"cancel_grace_seconds"`
	MaxRejectRetries              int           `koanf:"max_reject_retries"`
	LoadBalancing                 LoadBalancing `koanf:"load_balancing"`
	WebsocketPort                 int           `koanf:"websocket_port"`
	WebhookPort                   int           `koanf:"webhook_port"`
	WebhookSharedSecret           string        `koanf:"webhook_shared_secret"`
	LogBufferSize                 int           `koanf:"log_buffer_size"`

	// AdminAPI/auth keys are ambient additions (SPEC_FULL.md §4.10), not
	// in spec.md's key list, grouped under the same flat namespace.
	AdminAPIPort      int    `koanf:"admin_api_port"`
	AdminJWTSecret    string `koanf:"admin_jwt_secret"`
	AdminPolicyPath   string `koanf:"admin_policy_path"`
	SQLitePath        string `koanf:"sqlite_path"`
	LogLevel          string `koanf:"log_level"`
	SchedulerTickMS   int    `koanf:"scheduler_tick_ms"`
}

// Defaults returns the documented defaults from spec.md §6.4, plus the
// ambient additions above.
func Defaults() Config {
	return Config{
		DispatchIntervalSeconds:       5,
		HeartbeatTimeoutSeconds:       90,
		HeartbeatSweepIntervalSeconds: 30,
		DefaultJobTimeoutSeconds:      3600,
		AssignAckTimeoutSeconds:       10,
		CancelGraceSeconds:            30,
		MaxRejectRetries:              3,
		LoadBalancing:                 LoadBalancingCapabilityScore,
		WebsocketPort:                 8765,
		WebhookPort:                   8766,
		LogBufferSize:                 1000,
		AdminAPIPort:                  8767,
		SQLitePath:                    "orchestrator.db",
		LogLevel:                      "info",
		SchedulerTickMS:               1000,
	}
}

// Validate checks invariants a malformed config file or environment
// override could otherwise smuggle past the type system.
func (c Config) Validate() error {
	var errs []error
	if c.DispatchIntervalSeconds <= 0 {
		errs = append(errs, errors.New("dispatch_interval_seconds must be positive"))
	}
	if c.HeartbeatTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("heartbeat_timeout_seconds must be positive"))
	}
	if c.MaxRejectRetries <= 0 {
		errs = append(errs, errors.New("max_reject_retries must be positive"))
	}
	if c.LoadBalancing != LoadBalancingLeastLoaded && c.LoadBalancing != LoadBalancingCapabilityScore {
		errs = append(errs, fmt.Errorf("load_balancing: unrecognized value %q", c.LoadBalancing))
	}
	if c.WebsocketPort == c.WebhookPort || c.WebsocketPort == c.AdminAPIPort || c.WebhookPort == c.AdminAPIPort {
		errs = append(errs, errors.New("websocket_port, webhook_port, and admin_api_port must be distinct"))
	}
	return errors.Join(errs...)
}

func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSeconds) * time.Second
}

func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c Config) HeartbeatSweepInterval() time.Duration {
	return time.Duration(c.HeartbeatSweepIntervalSeconds) * time.Second
}

func (c Config) DefaultJobTimeout() time.Duration {
	return time.Duration(c.DefaultJobTimeoutSeconds) * time.Second
}

func (c Config) AssignAckTimeout() time.Duration {
	return time.Duration(c.AssignAckTimeoutSeconds) * time.Second
}

func (c Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}

func (c Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMS) * time.Millisecond
}

// Loader handles configuration loading from multiple sources, in
// ascending priority: struct defaults, YAML file, environment variables,
// explicit CLI flags.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
}

// NewLoader creates a configuration loader. envPrefix should be like
// "CASARERPA" (without trailing delimiter). Environment variables use a
// double underscore for nesting: CASARERPA__WEBSOCKET_PORT -> websocket_port.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		k:         koanf.New("."),
		envPrefix: envPrefix + "__",
	}
}

// LoadWithDefaults loads configuration with the following priority
// (highest to lowest): environment variables, config file (YAML), struct
// defaults. If configPath is specified but the file does not exist, an
// error is returned; an empty configPath skips that layer.
func (l *Loader) LoadWithDefaults(defaults any, configPath string) error {
	if defaults != nil {
		if err := l.k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
			return fmt.Errorf("failed to load defaults: %w", err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		if err := l.k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	envProvider := env.Provider(l.envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := l.k.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	return nil
}

// LoadFlags applies CLI flag overrides using explicit mappings. Only
// flags that were explicitly set by the user are applied. Call this
// after LoadWithDefaults for highest priority.
func (l *Loader) LoadFlags(flags *pflag.FlagSet, mappings map[string]string) error {
	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := mappings[f.Name]; ok {
			if err := l.k.Set(key, f.Value.String()); err != nil {
				errs = append(errs, fmt.Errorf("flag %s: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}

// UnmarshalAndValidate unmarshals the loaded configuration into out and,
// if out implements Validator, calls Validate().
func (l *Loader) UnmarshalAndValidate(out any) error {
	if err := l.k.Unmarshal("", out); err != nil {
		return err
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

// DumpYAML writes the loaded configuration as YAML, for `orchestrator
// config dump`-style diagnostics.
func (l *Loader) DumpYAML(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(l.k.Raw())
}
