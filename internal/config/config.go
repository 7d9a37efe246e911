package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the dtnd configuration.
//
// This structure captures the static configuration of a bundle-processing
// node: logging, telemetry, the persistent bundle store, declarative links
// and routes, custody and fragmentation policy, bootstrap registrations,
// shutdown behavior, and metrics.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DTND_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// LocalEID is this node's administrative endpoint id, e.g.
	// "dtn://node-a" or "ipn:5.0".
	LocalEID string `mapstructure:"local_eid" validate:"required" yaml:"local_eid"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Storage configures the persistent bundle store
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" validate:"required"`

	// Links declares the static set of links this node knows about at startup.
	// Links added with dtnadmin are written to the config file and take
	// effect on the next daemon start.
	Links []LinkConfig `mapstructure:"links" yaml:"links"`

	// Routes declares the static route table.
	Routes []RouteConfig `mapstructure:"routes" yaml:"routes"`

	// Custody controls custody-timer and ACS batching policy.
	Custody CustodyConfig `mapstructure:"custody" yaml:"custody"`

	// Fragmentation controls proactive fragmentation policy.
	Fragmentation FragmentationConfig `mapstructure:"fragmentation" yaml:"fragmentation"`

	// Registrations declares bootstrap local registrations.
	Registrations []RegistrationConfig `mapstructure:"registrations" yaml:"registrations"`

	// Shutdown controls idle-shutdown and graceful-shutdown behavior.
	Shutdown ShutdownConfig `mapstructure:"shutdown" yaml:"shutdown"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// StorageConfig configures the persistent bundle store.
type StorageConfig struct {
	// Dir is the root directory for the badger database and payload files.
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// Quota is the maximum total durable payload size in bytes. Zero means
	// unlimited.
	Quota uint64 `mapstructure:"quota" yaml:"quota,omitempty"`

	// FDCacheSize bounds the number of concurrently open payload file
	// descriptors in the LRU fd cache.
	FDCacheSize int `mapstructure:"fd_cache_size" validate:"omitempty,gt=0" yaml:"fd_cache_size"`
}

// LinkConfig declares one link at startup, mirroring the parameters
// accepted by the link-creation admin command.
type LinkConfig struct {
	// Name is the unique link identifier.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Type is one of alwayson, ondemand, scheduled, opportunistic.
	Type string `mapstructure:"type" validate:"required,oneof=alwayson ondemand scheduled opportunistic" yaml:"type"`

	// RemoteEID is the expected remote endpoint id pattern for this link.
	RemoteEID string `mapstructure:"remote_eid" validate:"required" yaml:"remote_eid"`

	// NextHop is the convergence-layer-specific next-hop string.
	NextHop string `mapstructure:"nexthop" validate:"required" yaml:"nexthop"`

	// ConvergenceLayer names the convergence-layer adapter for this link.
	ConvergenceLayer string `mapstructure:"cl" yaml:"cl,omitempty"`

	// Reliable marks the convergence layer as providing reliable, in-order
	// delivery.
	Reliable bool `mapstructure:"reliable" yaml:"reliable,omitempty"`

	// MTU is the maximum transmission unit in bytes. Zero means unlimited.
	MTU uint64 `mapstructure:"mtu" yaml:"mtu,omitempty"`

	// MinRetryInterval is the retry interval after a successful open.
	MinRetryInterval time.Duration `mapstructure:"min_retry_interval" yaml:"min_retry_interval,omitempty"`

	// MaxRetryInterval caps the exponential retry backoff.
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval" yaml:"max_retry_interval,omitempty"`

	// IdleCloseTime closes an ondemand link after this many seconds without
	// transmission. Must be zero for alwayson links.
	IdleCloseTime time.Duration `mapstructure:"idle_close_time" yaml:"idle_close_time,omitempty"`

	// PotentialDowntime is a router hint about expected downtime duration.
	PotentialDowntime time.Duration `mapstructure:"potential_downtime" yaml:"potential_downtime,omitempty"`

	// PrevHopHeader controls whether outgoing bundles on this link carry a
	// previous-hop extension block.
	PrevHopHeader bool `mapstructure:"prevhop_hdr" yaml:"prevhop_hdr,omitempty"`

	// Cost is a router-visible link cost.
	Cost int `mapstructure:"cost" yaml:"cost,omitempty"`

	// QlimitEnabled turns on backpressure admission checks.
	QlimitEnabled bool `mapstructure:"qlimit_enabled" yaml:"qlimit_enabled,omitempty"`

	// QlimitBundlesHigh is the high watermark on bundles-queued.
	QlimitBundlesHigh int `mapstructure:"qlimit_bundles_high" yaml:"qlimit_bundles_high,omitempty"`

	// QlimitBytesHigh is the high watermark on bytes-queued.
	QlimitBytesHigh uint64 `mapstructure:"qlimit_bytes_high" yaml:"qlimit_bytes_high,omitempty"`

	// QlimitBundlesLow is the low watermark on bundles-queued.
	QlimitBundlesLow int `mapstructure:"qlimit_bundles_low" yaml:"qlimit_bundles_low,omitempty"`

	// QlimitBytesLow is the low watermark on bytes-queued.
	QlimitBytesLow uint64 `mapstructure:"qlimit_bytes_low" yaml:"qlimit_bytes_low,omitempty"`

	// CancelOnUnavailable, when set, cancels sends queued to an opportunistic
	// link while it is unavailable rather than holding them.
	CancelOnUnavailable bool `mapstructure:"cancel_on_unavailable" yaml:"cancel_on_unavailable,omitempty"`
}

// RouteConfig declares one static route table entry.
type RouteConfig struct {
	// Dest is the destination endpoint-id pattern matched against a bundle's
	// destination.
	Dest string `mapstructure:"dest" validate:"required" yaml:"dest"`

	// Link is the link name bundles matching Dest are forwarded to.
	Link string `mapstructure:"link" validate:"required" yaml:"link"`
}

// CustodyConfig controls custody-timer and ACS batching policy.
type CustodyConfig struct {
	// TimerBase is the base custody-timer interval.
	TimerBase time.Duration `mapstructure:"timer_base" yaml:"timer_base,omitempty"`

	// TimerMultiplier scales TimerBase linearly per retry.
	TimerMultiplier float64 `mapstructure:"timer_multiplier" yaml:"timer_multiplier,omitempty"`

	// TimerCap is the maximum custody-timer interval.
	TimerCap time.Duration `mapstructure:"timer_cap" yaml:"timer_cap,omitempty"`

	// ACSBatchSize is the custody-id count threshold that triggers emitting
	// a pending ACS.
	ACSBatchSize int `mapstructure:"acs_batch_size" yaml:"acs_batch_size,omitempty"`

	// ACSTimeout is the per-key timeout that triggers emitting a pending ACS
	// even below ACSBatchSize.
	ACSTimeout time.Duration `mapstructure:"acs_timeout" yaml:"acs_timeout,omitempty"`

	// AcceptLegacyCTEB controls whether a dotted-form (legacy) custody
	// transfer enhancement block is accepted as evidence of CTEB support, in
	// addition to the canonical form this node always emits.
	AcceptLegacyCTEB bool `mapstructure:"accept_legacy_cteb" yaml:"accept_legacy_cteb,omitempty"`

	// ReportFailureOnSecondTimeout controls whether a failure custody signal
	// is emitted upstream after a second timeout with no available route.
	ReportFailureOnSecondTimeout bool `mapstructure:"report_failure_on_second_timeout" yaml:"report_failure_on_second_timeout,omitempty"`
}

// FragmentationConfig controls proactive fragmentation policy.
type FragmentationConfig struct {
	// ProactiveEnabled controls whether bundles wider than a link's MTU are
	// proactively fragmented before transmission.
	ProactiveEnabled bool `mapstructure:"proactive_enabled" yaml:"proactive_enabled,omitempty"`

	// ReactiveEnabled controls whether partial transmissions reported by a
	// convergence layer are converted to a reactive fragment.
	ReactiveEnabled bool `mapstructure:"reactive_enabled" yaml:"reactive_enabled,omitempty"`
}

// RegistrationConfig declares one bootstrap local registration.
type RegistrationConfig struct {
	// EndpointPattern is the endpoint-id pattern this registration matches.
	EndpointPattern string `mapstructure:"endpoint_pattern" validate:"required" yaml:"endpoint_pattern"`

	// FailureAction controls what happens to bundles delivered while no
	// application is attached: drop, defer, or exec.
	FailureAction string `mapstructure:"failure_action" validate:"omitempty,oneof=drop defer exec" yaml:"failure_action,omitempty"`
}

// ShutdownConfig controls idle-shutdown and graceful-shutdown behavior.
type ShutdownConfig struct {
	// Timeout is the maximum time to wait for graceful shutdown.
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`

	// IdleShutdownSeconds, if nonzero, shuts the daemon down after this many
	// seconds without a processed event. Zero disables idle shutdown.
	IdleShutdownSeconds int `mapstructure:"idle_shutdown_seconds" yaml:"idle_shutdown_seconds,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DTND_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create a configuration file there first,\n"+
				"or specify a custom config file:\n"+
				"  dtnd start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DTND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind every config key explicitly: AutomaticEnv alone is only consulted
	// for keys viper already knows, so a key absent from the file would
	// otherwise ignore its environment variable during Unmarshal.
	var bindEnvs func(t reflect.Type, prefix string)
	bindEnvs = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			key := prefix + t.Field(i).Tag.Get("mapstructure")
			if t.Field(i).Type.Kind() == reflect.Struct {
				bindEnvs(t.Field(i).Type, key+".")
				continue
			}
			_ = v.BindEnv(key)
		}
	}
	bindEnvs(reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dtnd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dtnd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
