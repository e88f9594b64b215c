// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/msrio/config"
	"github.com/sustainable-computing-io/msrio/internal/device"
	"github.com/sustainable-computing-io/msrio/internal/msr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// Open builds a PlatformIO for the local node from configuration
func Open(cfg *config.Config, logger *slog.Logger) (*PlatformIO, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fake := ptr.Deref(cfg.Dev.FakeMSR.Enabled, false)

	topo, err := topology.Discover(filepath.Dir(cfg.Host.SysFS), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to discover topology: %w", err)
	}

	catalog, err := loadCatalog(cfg, fake, logger)
	if err != nil {
		return nil, err
	}

	var dev device.MSRIO
	if fake {
		logger.Warn("Using fake MSR device; values are synthetic")
		dev = NewFakeDevice(catalog, topo.NumCPU())
	} else {
		dev, err = device.NewMSRIO(topo.NumCPU(),
			device.WithDevicePaths(cfg.MSR.SafeDevicePath, cfg.MSR.DevicePath, cfg.MSR.BatchDevicePath),
			device.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create msr device: %w", err)
		}
	}

	return New(topo, dev, catalog,
		WithLogger(logger),
		WithSysFS(cfg.Host.SysFS),
		WithFixedCounters(ptr.Deref(cfg.MSR.FixedCounters, true)))
}

// loadCatalog selects the register table of the configured or detected
// model and merges the custom tables of the plugin directory
func loadCatalog(cfg *config.Config, fake bool, logger *slog.Logger) (*msr.Catalog, error) {
	modelID := msr.CurrentModelID()
	if cfg.MSR.CPUID != "" {
		id, err := msr.ParseModelID(cfg.MSR.CPUID)
		if err != nil {
			return nil, err
		}
		modelID = id
	}

	catalog, err := msr.Lookup(modelID)
	if err != nil && fake && cfg.MSR.CPUID == "" {
		logger.Warn("CPU model not supported, fake device uses the SKX register table",
			"model", modelString(modelID))
		catalog, err = msr.Lookup(msr.ModelSKX)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MSR.PluginPath != "" {
		files, err := catalog.LoadDir(cfg.MSR.PluginPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom registers: %w", err)
		}
		for _, f := range files {
			logger.Info("Loaded custom register table", "file", f)
		}
	}
	logger.Info("Register catalog loaded",
		"model", modelString(catalog.ModelID()), "registers", len(catalog.Registers()))
	return catalog, nil
}

func modelString(modelID int) string {
	return fmt.Sprintf("0x%X", modelID)
}

// fake register contents, chosen to decode to plausible values with the
// SKX tables
const (
	fakeRAPLUnit     = 0x000A0E03 // 1/8 W power unit, 2^-14 J energy unit
	fakePowerInfo    = 0x04B0     // 150 W thermal spec power
	fakePowerLimit   = 0x84B0     // 150 W with PL1 enabled
	fakePerfStatus   = 0x1800     // 2.4 GHz
	fakeThermTarget  = 0x00640000 // 100 C
	fakeTurboRatio   = 0x1E1E1E1E1E1E1E1E
	fakePkgEnergy    = 1 << 16
	fakeDramEnergy   = 1 << 14
	fakeTSCIncrement = 2_400_000_000
	fakeInstructions = 1_000_000_000
)

// NewFakeDevice returns an in-memory device holding every register of the
// catalog, with energy and cycle counters that advance on each read
func NewFakeDevice(catalog *msr.Catalog, numCPU int) *device.FakeMSRIO {
	opts := make([]device.FakeOptFn, 0, len(catalog.Registers()))
	for _, reg := range catalog.Registers() {
		opts = append(opts, device.WithFakeRegister(reg.Offset(), 0))
	}

	fixed := map[string]uint64{
		"RAPL_POWER_UNIT":    fakeRAPLUnit,
		"PKG_POWER_INFO":     fakePowerInfo,
		"PKG_POWER_LIMIT":    fakePowerLimit,
		"PERF_STATUS":        fakePerfStatus,
		"PERF_CTL":           fakePerfStatus,
		"TEMPERATURE_TARGET": fakeThermTarget,
		"TURBO_RATIO_LIMIT":  fakeTurboRatio,
	}
	for name, value := range fixed {
		if reg, ok := catalog.Register(name); ok {
			opts = append(opts, device.WithFakeRegister(reg.Offset(), value))
		}
	}

	counters := map[string]uint64{
		"PKG_ENERGY_STATUS":  fakePkgEnergy,
		"DRAM_ENERGY_STATUS": fakeDramEnergy,
		"TIME_STAMP_COUNTER": fakeTSCIncrement,
		"FIXED_CTR0":         fakeInstructions,
		"FIXED_CTR1":         fakeTSCIncrement,
		"FIXED_CTR2":         fakeTSCIncrement,
	}
	for name, inc := range counters {
		if reg, ok := catalog.Register(name); ok {
			opts = append(opts, device.WithFakeCounter(reg.Offset(), inc, 0.5))
		}
	}
	return device.NewFakeMSRIO(numCPU, opts...)
}
