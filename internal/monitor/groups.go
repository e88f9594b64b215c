// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"

	"github.com/sustainable-computing-io/msrio/config"
)

// groupSignals lists the signals sampled for each group. Names missing on
// the current model are skipped.
var groupSignals = []struct {
	group   config.Group
	signals []string
}{
	{config.GroupEnergy, []string{"ENERGY_PACKAGE", "ENERGY_DRAM"}},
	{config.GroupPower, []string{
		"POWER_PACKAGE_TDP",
		"POWER_PACKAGE_MIN",
		"POWER_PACKAGE_MAX",
		"PKG_POWER_LIMIT:PL1_POWER_LIMIT",
	}},
	{config.GroupFrequency, []string{"FREQUENCY", "FREQUENCY_MAX", "PERF_CTL:FREQ"}},
	{config.GroupCounters, []string{
		"TIMESTAMP_COUNTER",
		"INSTRUCTIONS_RETIRED",
		"CYCLES_THREAD",
		"CYCLES_REFERENCE",
	}},
	{config.GroupThermal, []string{"TEMPERATURE_CORE_UNDER", "TEMPERATURE_PKG_UNDER", "TEMPERATURE_MAX"}},
}

// signalNames returns the signals of the groups followed by extra, without
// duplicates
func signalNames(groups config.Group, extra []string) []string {
	var names []string
	for _, gs := range groupSignals {
		if groups.Has(gs.group) {
			names = append(names, gs.signals...)
		}
	}
	for _, name := range extra {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}
