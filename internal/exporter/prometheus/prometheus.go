// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	collector "github.com/sustainable-computing-io/msrio/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/msrio/internal/monitor"
	"github.com/sustainable-computing-io/msrio/internal/service"
)

type (
	Initializer = service.Initializer
	Monitor     = monitor.Service
)

type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
	procfs          string
	nodeName        string
	catalog         *collector.CatalogInfo
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		collectors: map[string]prom.Collector{},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDebugCollectors sets the debug collectors
func WithDebugCollectors(c []string) OptionFn {
	return func(o *Opts) {
		// Reset existing collectors
		o.debugCollectors = make(map[string]bool)

		// Add each collector from the list
		for _, name := range c {
			o.debugCollectors[name] = true
		}
	}
}

func WithProcFSPath(procfs string) OptionFn {
	return func(o *Opts) {
		o.procfs = procfs
	}
}

func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

func WithNodeName(nodeName string) OptionFn {
	return func(o *Opts) {
		o.nodeName = nodeName
	}
}

// WithCatalog labels the build info with the register catalog in use
func WithCatalog(model string, registers int) OptionFn {
	return func(o *Opts) {
		o.catalog = &collector.CatalogInfo{Model: model, Registers: registers}
	}
}

// Exporter exports sampled signals to Prometheus
type Exporter struct {
	logger          *slog.Logger
	monitor         Monitor
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var _ Initializer = (*Exporter)(nil)

// NewExporter creates a new PrometheusExporter instance
func NewExporter(sm Monitor, s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	exporter := &Exporter{
		monitor:         sm,
		server:          s,
		logger:          opts.logger.With("service", "prometheus"),
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
		registry:        prom.NewRegistry(),
	}

	return exporter
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// CreateCollectors returns the build info, signal and cpu info collectors
func CreateCollectors(sm Monitor, applyOpts ...OptionFn) (map[string]prom.Collector, error) {
	opts := Opts{
		logger: slog.Default(),
		procfs: "/proc",
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}
	collectors := map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(opts.catalog),
		"signal":     collector.NewSignalCollector(sm, opts.nodeName, opts.logger),
	}
	cpuInfoCollector, err := collector.NewCPUInfoCollector(opts.procfs)
	if err != nil {
		return nil, err
	}
	collectors["cpu_info"] = cpuInfoCollector
	return collectors, nil
}

// Init registers the debug and signal collectors and exposes them on
// /metrics of the API server
func (e *Exporter) Init() error {
	e.logger.Info("Initializing Prometheus exporter")
	for name := range e.debugCollectors {
		c, err := collectorForName(name)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", name, "error", err)
			return err
		}
		if err := e.register(name, c); err != nil {
			return err
		}
	}
	for name, c := range e.collectors {
		if err := e.register(name, c); err != nil {
			return err
		}
	}

	handler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          e.registry,
	})
	return e.server.Register("/metrics", "Metrics", "Prometheus metrics", handler)
}

func (e *Exporter) register(name string, c prom.Collector) error {
	if err := e.registry.Register(c); err != nil {
		return fmt.Errorf("failed to register collector %s: %w", name, err)
	}
	e.logger.Info("Enabled collector", "collector", name)
	return nil
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "prometheus"
}
