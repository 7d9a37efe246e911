package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	if cfg.LocalEID == "" {
		cfg.LocalEID = "dtn://localhost"
	}
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyStorageDefaults(&cfg.Storage)
	applyLinkDefaults(cfg.Links)
	applyCustodyDefaults(&cfg.Custody)
	applyFragmentationDefaults(&cfg.Fragmentation)
	applyShutdownDefaults(&cfg.Shutdown)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_space", "goroutines"}
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Dir == "" {
		cfg.Dir = "/var/lib/dtnd/store"
	}
	if cfg.FDCacheSize == 0 {
		cfg.FDCacheSize = 256
	}
	// Quota defaults to 0 (unlimited)
}

// applyLinkDefaults fills in per-link retry/backoff defaults. idle_close_time
// is left untouched here; parse-time validation rejects a nonzero value on
// an alwayson link rather than silently zeroing it.
func applyLinkDefaults(links []LinkConfig) {
	for i := range links {
		l := &links[i]

		if l.MinRetryInterval == 0 {
			l.MinRetryInterval = 5 * time.Second
		}
		if l.MaxRetryInterval == 0 {
			l.MaxRetryInterval = 10 * time.Minute
		}

		if l.QlimitEnabled {
			if l.QlimitBundlesHigh == 0 {
				l.QlimitBundlesHigh = 1000
			}
			if l.QlimitBytesHigh == 0 {
				l.QlimitBytesHigh = 64 << 20
			}
			if l.QlimitBundlesLow == 0 {
				l.QlimitBundlesLow = l.QlimitBundlesHigh / 2
			}
			if l.QlimitBytesLow == 0 {
				l.QlimitBytesLow = l.QlimitBytesHigh / 2
			}
		}
	}
}

func applyCustodyDefaults(cfg *CustodyConfig) {
	if cfg.TimerBase == 0 {
		cfg.TimerBase = 10 * time.Second
	}
	if cfg.TimerMultiplier == 0 {
		cfg.TimerMultiplier = 2.0
	}
	if cfg.TimerCap == 0 {
		cfg.TimerCap = 10 * time.Minute
	}
	if cfg.ACSBatchSize == 0 {
		cfg.ACSBatchSize = 64
	}
	if cfg.ACSTimeout == 0 {
		cfg.ACSTimeout = 5 * time.Second
	}
}

func applyFragmentationDefaults(cfg *FragmentationConfig) {
	// ProactiveEnabled/ReactiveEnabled default to true: the node should
	// fragment rather than drop an oversized bundle unless explicitly
	// disabled.
	cfg.ProactiveEnabled = true
	cfg.ReactiveEnabled = true
}

func applyShutdownDefaults(cfg *ShutdownConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	// IdleShutdownSeconds defaults to 0 (disabled)
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Storage: StorageConfig{
			Dir: "/var/lib/dtnd/store",
		},
		Custody:       CustodyConfig{},
		Fragmentation: FragmentationConfig{},
		Shutdown:      ShutdownConfig{},
	}

	ApplyDefaults(cfg)
	return cfg
}
