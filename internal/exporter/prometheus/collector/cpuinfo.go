// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"slices"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// procFS is the part of procfs.FS the cpu info collector reads
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

// cpuInfoCollector exports one series per physical package describing the
// processor the register tables were selected for; the value is the
// number of logical CPUs of the package
type cpuInfoCollector struct {
	mu   sync.Mutex
	fs   procFS
	desc *prom.Desc
}

// NewCPUInfoCollector creates a cpu info collector reading procPath
func NewCPUInfoCollector(procPath string) (*cpuInfoCollector, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("creating procfs failed: %w", err)
	}
	return newCPUInfoCollectorWithFS(fs), nil
}

func newCPUInfoCollectorWithFS(fs procFS) *cpuInfoCollector {
	return &cpuInfoCollector{
		fs: fs,
		desc: prom.NewDesc(
			prom.BuildFQName(msrioNS, "node", "package_info"),
			"Logical CPUs per package, labeled with the processor model from procfs",
			[]string{"package", "vendor_id", "cpu_family", "model", "model_name"},
			nil,
		),
	}
}

func (c *cpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *cpuInfoCollector) Collect(ch chan<- prom.Metric) {
	c.mu.Lock()
	infos, err := c.fs.CPUInfo()
	c.mu.Unlock()
	if err != nil {
		return
	}

	count := map[string]int{}
	first := map[string]procfs.CPUInfo{}
	for _, ci := range infos {
		if _, ok := first[ci.PhysicalID]; !ok {
			first[ci.PhysicalID] = ci
		}
		count[ci.PhysicalID]++
	}

	pkgs := make([]string, 0, len(first))
	for id := range first {
		pkgs = append(pkgs, id)
	}
	slices.Sort(pkgs)
	for _, id := range pkgs {
		ci := first[id]
		ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, float64(count[id]),
			id, ci.VendorID, ci.CPUFamily, ci.Model, ci.ModelName)
	}
}
