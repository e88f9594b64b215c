// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"log/slog"

	"github.com/jaypipes/ghw"
)

// hardwareSource is the part of ghw used for discovery
type hardwareSource interface {
	CPU() (*ghw.CPUInfo, error)
	Topology() (*ghw.TopologyInfo, error)
}

type ghwSource struct {
	root string
}

func (s ghwSource) CPU() (*ghw.CPUInfo, error) {
	return ghw.CPU(ghw.WithChroot(s.root))
}

func (s ghwSource) Topology() (*ghw.TopologyInfo, error) {
	return ghw.Topology(ghw.WithChroot(s.root))
}

// Discover builds the Topology of the host whose /sys and /proc live under root
func Discover(root string, logger *slog.Logger) (*Topology, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return discover(ghwSource{root: root}, logger.With("service", "topology"))
}

func discover(src hardwareSource, logger *slog.Logger) (*Topology, error) {
	cpuInfo, err := src.CPU()
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu info: %w", err)
	}

	packages := len(cpuInfo.Processors)
	if packages == 0 {
		return nil, fmt.Errorf("no processors found")
	}
	first := cpuInfo.Processors[0]
	if len(first.Cores) == 0 || len(first.Cores[0].LogicalProcessors) == 0 {
		return nil, fmt.Errorf("processor %d reports no cores", first.ID)
	}
	cores := len(first.Cores)
	threads := len(first.Cores[0].LogicalProcessors)

	online := 0
	for _, proc := range cpuInfo.Processors {
		if len(proc.Cores) != cores {
			return nil, fmt.Errorf("asymmetric packages: package %d has %d cores, expected %d",
				proc.ID, len(proc.Cores), cores)
		}
		for _, core := range proc.Cores {
			online += len(core.LogicalProcessors)
		}
	}
	if online != packages*cores*threads {
		return nil, fmt.Errorf("found %d online cpus, expected %d packages x %d cores x %d threads",
			online, packages, cores, threads)
	}

	var numa [][]int
	topoInfo, err := src.Topology()
	if err != nil {
		// fall back to a single memory node
		logger.Warn("NUMA topology unavailable, assuming one memory node", "error", err)
		all := make([]int, 0, online)
		for cpu := 0; cpu < online; cpu++ {
			all = append(all, cpu)
		}
		numa = [][]int{all}
	} else {
		for _, node := range topoInfo.Nodes {
			var cpus []int
			for _, core := range node.Cores {
				cpus = append(cpus, core.LogicalProcessors...)
			}
			numa = append(numa, cpus)
		}
	}

	logger.Info("Discovered topology",
		"packages", packages, "cores", cores, "threads", threads, "numa", len(numa))
	return New(packages, cores, threads, numa)
}
