// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/msrio/internal/version"
)

const msrioNS = "msrio"

// CatalogInfo identifies the register table the exporter decodes with
type CatalogInfo struct {
	Model     string // hex model id
	Registers int
}

// BuildInfoCollector exports constant metrics describing the binary and,
// when known, the register catalog in use
type BuildInfoCollector struct {
	build   *prom.Desc
	catalog *prom.Desc
	info    *CatalogInfo
}

// NewBuildInfoCollector creates a collector for build information; a nil
// catalog omits msrio_msr_catalog_registers
func NewBuildInfoCollector(catalog *CatalogInfo) *BuildInfoCollector {
	return &BuildInfoCollector{
		build: prom.NewDesc(
			prom.BuildFQName(msrioNS, "build", "info"),
			"A metric with a constant '1' value labeled with version information",
			[]string{"arch", "branch", "revision", "version", "goversion"}, nil,
		),
		catalog: prom.NewDesc(
			prom.BuildFQName(msrioNS, "msr", "catalog_registers"),
			"Number of registers known for the CPU model",
			[]string{"model"}, nil,
		),
		info: catalog,
	}
}

func (c *BuildInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.build
	if c.info != nil {
		ch <- c.catalog
	}
}

func (c *BuildInfoCollector) Collect(ch chan<- prom.Metric) {
	v := version.Info()
	ch <- prom.MustNewConstMetric(c.build, prom.GaugeValue, 1,
		v.GoArch, v.GitBranch, v.GitCommit, v.Version, v.GoVersion)

	if c.info != nil {
		ch <- prom.MustNewConstMetric(c.catalog, prom.GaugeValue,
			float64(c.info.Registers), c.info.Model)
	}
}
