// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

// signal aliases; the first existing target on the current model wins
var signalAliases = []struct {
	name    string
	targets []string
}{
	{"TIMESTAMP_COUNTER", []string{"TIME_STAMP_COUNTER:TIMESTAMP_COUNT"}},
	{"FREQUENCY", []string{"PERF_STATUS:FREQ"}},
	{"FREQUENCY_MAX", []string{
		"TURBO_RATIO_LIMIT:MAX_RATIO_LIMIT_0",
		"TURBO_RATIO_LIMIT:GROUP_0_MAX_RATIO_LIMIT",
		"TURBO_RATIO_LIMIT:MAX_RATIO_LIMIT_1CORE",
	}},
	{"ENERGY_PACKAGE", []string{"PKG_ENERGY_STATUS:ENERGY"}},
	{"ENERGY_DRAM", []string{"DRAM_ENERGY_STATUS:ENERGY"}},
	{"INSTRUCTIONS_RETIRED", []string{"FIXED_CTR0:INST_RETIRED_ANY"}},
	{"CYCLES_THREAD", []string{"FIXED_CTR1:CPU_CLK_UNHALTED_THREAD"}},
	{"CYCLES_REFERENCE", []string{"FIXED_CTR2:CPU_CLK_UNHALTED_REF_TSC"}},
	{"POWER_PACKAGE_MIN", []string{"PKG_POWER_INFO:MIN_POWER"}},
	{"POWER_PACKAGE_MAX", []string{"PKG_POWER_INFO:MAX_POWER"}},
	{"POWER_PACKAGE_TDP", []string{"PKG_POWER_INFO:THERMAL_SPEC_POWER"}},
	{"POWER_PACKAGE_MIN_TOTAL", []string{"PKG_POWER_INFO:MIN_POWER"}},
	{"POWER_PACKAGE_MAX_TOTAL", []string{"PKG_POWER_INFO:MAX_POWER"}},
	{"POWER_PACKAGE_TDP_TOTAL", []string{"PKG_POWER_INFO:THERMAL_SPEC_POWER"}},
	{"TEMPERATURE_CORE_UNDER", []string{"THERM_STATUS:DIGITAL_READOUT"}},
	{"TEMPERATURE_PKG_UNDER", []string{"PACKAGE_THERM_STATUS:DIGITAL_READOUT"}},
	{"TEMPERATURE_MAX", []string{"TEMPERATURE_TARGET:PROCHOT_MIN"}},
}

var controlAliases = []struct {
	name    string
	targets []string
}{
	{"POWER_PACKAGE_LIMIT", []string{"PKG_POWER_LIMIT:PL1_POWER_LIMIT"}},
	{"FREQUENCY", []string{"PERF_CTL:FREQ"}},
	{"POWER_PACKAGE_TIME_WINDOW", []string{"PKG_POWER_LIMIT:PL1_TIME_WINDOW"}},
}

// aliasAggregation overrides the aggregation of the alias target
var aliasAggregation = map[string]string{
	"POWER_PACKAGE_MIN_TOTAL": AggSum,
	"POWER_PACKAGE_MAX_TOTAL": AggSum,
	"POWER_PACKAGE_TDP_TOTAL": AggSum,
}

// defaultAggregation applies to fields whose table entry names none
var defaultAggregation = map[string]string{
	"PERF_STATUS:FREQ":                    AggAverage,
	"PKG_ENERGY_STATUS:ENERGY":            AggSum,
	"DRAM_ENERGY_STATUS:ENERGY":           AggSum,
	"FIXED_CTR0:INST_RETIRED_ANY":         AggSum,
	"FIXED_CTR1:CPU_CLK_UNHALTED_THREAD":  AggSum,
	"FIXED_CTR2:CPU_CLK_UNHALTED_REF_TSC": AggSum,
	"PKG_POWER_INFO:MIN_POWER":            AggExpectSame,
	"PKG_POWER_INFO:MAX_POWER":            AggExpectSame,
	"PKG_POWER_INFO:THERMAL_SPEC_POWER":   AggExpectSame,
	"THERM_STATUS:DIGITAL_READOUT":        AggAverage,
	"TEMPERATURE_TARGET:PROCHOT_MIN":      AggExpectSame,
}

func (r *registry) registerAliases() {
	for _, a := range signalAliases {
		if target, ok := firstValid(a.targets, r.signals); ok {
			r.signalAlias[a.name] = target
			continue
		}
		r.logger.Debug("Skipping signal alias, no target on this model", "alias", a.name)
	}
	for _, a := range controlAliases {
		if target, ok := firstValid(a.targets, r.controls); ok {
			r.controlAlias[a.name] = target
			continue
		}
		r.logger.Debug("Skipping control alias, no target on this model", "alias", a.name)
	}
}

func firstValid[E any](targets []string, entries map[string]E) (string, bool) {
	for _, t := range targets {
		if _, ok := entries[t]; ok {
			return t, true
		}
	}
	return "", false
}
