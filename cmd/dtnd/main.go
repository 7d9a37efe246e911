package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marmos91/dtnd/internal/config"
	"github.com/marmos91/dtnd/internal/logger"
	"github.com/marmos91/dtnd/internal/metrics"
	"github.com/marmos91/dtnd/internal/telemetry"
	"github.com/marmos91/dtnd/pkg/bpwire"
	"github.com/marmos91/dtnd/pkg/bundle"
	"github.com/marmos91/dtnd/pkg/bundlestore"
	"github.com/marmos91/dtnd/pkg/custody"
	"github.com/marmos91/dtnd/pkg/daemon"
	"github.com/marmos91/dtnd/pkg/eventbus"
	"github.com/marmos91/dtnd/pkg/link"
	"github.com/marmos91/dtnd/pkg/registration"
	"github.com/marmos91/dtnd/pkg/route"
	"github.com/marmos91/dtnd/pkg/router"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dtnd/internal/metrics/prometheus"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `dtnd - Delay-tolerant networking bundle daemon

Usage:
  dtnd <command> [flags]

Commands:
  start    Start the bundle daemon
  version  Show version information

Flags:
  --config string      Path to config file (default: $XDG_CONFIG_HOME/dtnd/config.yaml)
  --local-eid string   Override the node's endpoint id

Examples:
  # Start with default config location
  dtnd start

  # Start with custom config
  dtnd start --config /etc/dtnd/config.yaml

  # Use environment variables to override config
  DTND_LOGGING_LEVEL=DEBUG dtnd start

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: DTND_<SECTION>_<KEY> (use underscores for nested keys)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		runStart()
	case "help", "--help", "-h":
		fmt.Print(usage)
		os.Exit(0)
	case "version", "--version", "-v":
		fmt.Printf("dtnd %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runStart() {
	startFlags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := startFlags.String("config", "", "Path to config file")
	localEID := startFlags.String("local-eid", "", "Override the node's endpoint id")

	if err := startFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *localEID != "" {
		cfg.LocalEID = *localEID
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dtnd",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dtnd",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize profiling: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metrics.StartServer(ctx, cfg.Metrics.Port)
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	store, err := bundlestore.Open(bundlestore.Config{
		DBDir:       filepath.Join(cfg.Storage.Dir, "db"),
		PayloadDir:  filepath.Join(cfg.Storage.Dir, "payloads"),
		Quota:       cfg.Storage.Quota,
		FDCacheSize: cfg.Storage.FDCacheSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open bundle store: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	d := daemon.New(daemon.Config{
		LocalEID:               bpwire.EID(cfg.LocalEID),
		ProactiveFragmentation: cfg.Fragmentation.ProactiveEnabled,
		ReactiveFragmentation:  cfg.Fragmentation.ReactiveEnabled,
		IdleShutdown:           time.Duration(cfg.Shutdown.IdleShutdownSeconds) * time.Second,
		ShutdownGrace:          cfg.Shutdown.Timeout,
		Custody: custody.Config{
			TimerBase:                    cfg.Custody.TimerBase,
			TimerMultiplier:              cfg.Custody.TimerMultiplier,
			TimerCap:                     cfg.Custody.TimerCap,
			ACSBatchSize:                 cfg.Custody.ACSBatchSize,
			ACSTimeout:                   cfg.Custody.ACSTimeout,
			AcceptLegacyCTEB:             cfg.Custody.AcceptLegacyCTEB,
			ReportFailureOnSecondTimeout: cfg.Custody.ReportFailureOnSecondTimeout,
		},
	}, store)

	d.SetRouter(router.NewStatic(router.StaticConfig{AcceptCustody: true},
		d.Routes(), d, d, d.Actions()))

	if err := d.Restore(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to restore persistent state: %v\n", err)
		os.Exit(1)
	}

	for _, lc := range cfg.Links {
		typ, _ := link.ParseType(lc.Type)
		if _, err := d.AddLink(link.Config{
			Name:              lc.Name,
			Type:              typ,
			RemoteEID:         lc.RemoteEID,
			NextHop:           lc.NextHop,
			ConvergenceLayer:  lc.ConvergenceLayer,
			Reliable:          lc.Reliable,
			MTU:               lc.MTU,
			MinRetryInterval:  lc.MinRetryInterval,
			MaxRetryInterval:  lc.MaxRetryInterval,
			IdleCloseTime:     lc.IdleCloseTime,
			PotentialDowntime: lc.PotentialDowntime,
			PrevHopHeader:     lc.PrevHopHeader,
			Cost:              lc.Cost,
			QlimitEnabled:     lc.QlimitEnabled,
			QlimitBundlesHigh: lc.QlimitBundlesHigh,
			QlimitBytesHigh:   lc.QlimitBytesHigh,
			QlimitBundlesLow:  lc.QlimitBundlesLow,
			QlimitBytesLow:    lc.QlimitBytesLow,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create link %q: %v\n", lc.Name, err)
			os.Exit(1)
		}
	}

	for _, rc := range cfg.Routes {
		if err := d.Routes().Add(route.Entry{
			DestPattern: rc.Dest,
			LinkName:    rc.Link,
			Action:      bundle.ActionForward,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to add route %q: %v\n", rc.Dest, err)
			os.Exit(1)
		}
	}

	for _, rc := range cfg.Registrations {
		action, ok := registration.ParseFailureAction(rc.FailureAction)
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid failure action %q\n", rc.FailureAction)
			os.Exit(1)
		}
		d.AddRegistration(rc.EndpointPattern, action, "", 0)
	}

	// config reload: logging section only
	if *configFile != "" {
		watcher, err := config.WatchFile(*configFile, func(newCfg *config.Config) {
			logger.SetLevel(newCfg.Logging.Level)
			logger.SetFormat(newCfg.Logging.Format)
			logger.Info("logging configuration reloaded", "level", newCfg.Logging.Level)
		})
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", "signal", sig.String())
		d.Bus().Post(eventbus.NewShutdownRequest(sig.String()))
	}()

	logger.Info("dtnd starting", "local_eid", cfg.LocalEID, "version", version)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("dtnd stopped")
}
