// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/msrio/internal/monitor"
)

const nodeNameLabel = "node_name"

type SignalDataProvider = monitor.SignalDataProvider

// SignalCollector exports every sampled signal from one snapshot per scrape
type SignalCollector struct {
	sm     SignalDataProvider
	logger *slog.Logger

	mutex sync.RWMutex
	ready bool

	valueDesc *prometheus.Desc
	totalDesc *prometheus.Desc
	rateDesc  *prometheus.Desc
	ageDesc   *prometheus.Desc
}

// NewSignalCollector creates a collector reading snapshots from sm
func NewSignalCollector(sm SignalDataProvider, nodeName string, logger *slog.Logger) *SignalCollector {
	constLabels := prometheus.Labels{nodeNameLabel: nodeName}
	c := &SignalCollector{
		sm:     sm,
		logger: logger.With("collector", "signal"),

		valueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(msrioNS, "signal", "value"),
			"Value of an MSR signal for one instance of its domain",
			[]string{"signal", "domain", "index", "units"}, constLabels),
		totalDesc: prometheus.NewDesc(
			prometheus.BuildFQName(msrioNS, "signal", "board_value"),
			"Value of an MSR signal aggregated over the board",
			[]string{"signal", "units"}, constLabels),
		rateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(msrioNS, "signal", "rate"),
			"Change per second of a monotone MSR signal since the previous sample, in units per second",
			[]string{"signal", "domain", "index", "units"}, constLabels),
		ageDesc: prometheus.NewDesc(
			prometheus.BuildFQName(msrioNS, "signal", "sample_age_seconds"),
			"Age of the sampled values",
			nil, constLabels),
	}

	go c.waitForData()
	return c
}

func (c *SignalCollector) waitForData() {
	<-c.sm.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *SignalCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *SignalCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.valueDesc
	ch <- c.totalDesc
	ch <- c.rateDesc
	ch <- c.ageDesc
}

// Collect implements the prometheus.Collector interface
func (c *SignalCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	snapshot, err := c.sm.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect signal data", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.ageDesc, prometheus.GaugeValue,
		time.Since(snapshot.Timestamp).Seconds())

	for _, sig := range snapshot.Signals {
		domain := sig.Domain.String()
		for idx, v := range sig.Values {
			ch <- prometheus.MustNewConstMetric(c.valueDesc, prometheus.GaugeValue, v,
				sig.Name, domain, strconv.Itoa(idx), sig.Units)
		}
		ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, sig.Total, sig.Name, sig.Units)

		for idx, r := range sig.Rates {
			ch <- prometheus.MustNewConstMetric(c.rateDesc, prometheus.GaugeValue, r,
				sig.Name, domain, strconv.Itoa(idx), sig.Units)
		}
	}
}
