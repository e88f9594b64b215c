// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// msrio samples MSR signals of the node and exports them
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/msrio/config"
	"github.com/sustainable-computing-io/msrio/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/msrio/internal/exporter/stdout"
	"github.com/sustainable-computing-io/msrio/internal/logger"
	"github.com/sustainable-computing-io/msrio/internal/monitor"
	"github.com/sustainable-computing-io/msrio/internal/platformio"
	"github.com/sustainable-computing-io/msrio/internal/server"
	"github.com/sustainable-computing-io/msrio/internal/service"
	"github.com/sustainable-computing-io/msrio/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	pio, err := platformio.Open(cfg, logger)
	if err != nil {
		logger.Error("failed to open platform", "error", err)
		os.Exit(1)
	}

	services, err := createServices(logger, cfg, pio)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		_ = pio.Close()
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting msrio")
	runErr := service.Run(context.Background(), logger, services)

	// runners were shut down by Run; release what remains
	if err := service.Shutdown(logger, passive(services)); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	if runErr != nil {
		logger.Error("msrio terminated with an error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("msrio version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "msrio"
	app := kingpin.New(appName, "Model specific register signal exporter.")
	app.Version(version.Info().String())

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	overlays := app.Flag("config.overlay", "YAML file merged over the configuration file; may be repeated").Strings()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		logger.Info("Loading configuration file", "path", *configFile)
		loadedCfg, err := config.FromFile(*configFile)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		cfg = loadedCfg
	}
	if len(*overlays) > 0 {
		logger.Info("Merging configuration overlays", "paths", *overlays)
		merged, err := (&config.Builder{}).Use(cfg).MergeFile(*overlays...).Build()
		if err != nil {
			logger.Error("Error merging config overlays", "error", err.Error())
			return nil, err
		}
		cfg = merged
	}

	// flags override the file
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}
	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createServices(logger *slog.Logger, cfg *config.Config, pio *platformio.PlatformIO) ([]service.Service, error) {
	logger.Debug("Creating all services")

	platform := newPlatformService(pio, ptr.Deref(cfg.MSR.SaveRestore, false), logger)

	sm := monitor.NewSignalMonitor(pio,
		monitor.WithLogger(logger),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithMaxStaleness(cfg.Monitor.Staleness),
		monitor.WithGroups(cfg.Monitor.Groups),
		monitor.WithSignals(cfg.Monitor.Signals...),
	)

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
		server.WithVersion(version.Info().String()),
	)

	services := []service.Service{
		platform,
		sm,
		apiServer,
		server.NewProbe(apiServer, sm),
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		nodeName, err := os.Hostname()
		if err != nil {
			logger.Warn("unable to determine node name", "error", err)
		}
		collectors, err := prometheus.CreateCollectors(sm,
			prometheus.WithLogger(logger),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
			prometheus.WithNodeName(nodeName),
			prometheus.WithCatalog(fmt.Sprintf("0x%X", pio.Catalog().ModelID()), len(pio.Catalog().Registers())),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus collectors: %w", err)
		}
		services = append(services, prometheus.NewExporter(sm, apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithCollectors(collectors),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
		))
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		services = append(services, stdout.NewExporter(sm,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Monitor.Interval),
		))
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	services = append(services, service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM))
	return services, nil
}

// passive returns the services Run does not shut down
func passive(services []service.Service) []service.Service {
	var rest []service.Service
	for _, s := range services {
		if _, ok := s.(service.Runner); !ok {
			rest = append(rest, s)
		}
	}
	return rest
}
