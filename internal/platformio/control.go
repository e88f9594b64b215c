// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"errors"
	"fmt"

	"github.com/prometheus/procfs/sysfs"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// CpufreqReader reports the cpufreq driver and governor of every CPU
type CpufreqReader interface {
	SystemCpufreq() ([]sysfs.SystemCPUCpufreqStats, error)
}

const (
	frequencyControl  = "PERF_CTL:FREQ"
	powerLimitControl = "PKG_POWER_LIMIT:PL1_POWER_LIMIT"
	powerLimitEnable  = "PKG_POWER_LIMIT:PL1_LIMIT_ENABLE"
	powerLimitLock    = "PKG_POWER_LIMIT:LOCK"
	powerLimitAlias   = "POWER_PACKAGE_LIMIT"
)

const (
	requiredDriver   = "acpi-cpufreq"
	requiredGovernor = "performance"
)

// fixedCounterSetup enables the three fixed counters in both rings without
// interrupts and clears their overflow bits
var fixedCounterSetup = []struct {
	name  string
	value float64
}{
	{"PERF_GLOBAL_CTRL:EN_FIXED_CTR0", 1},
	{"PERF_GLOBAL_CTRL:EN_FIXED_CTR1", 1},
	{"PERF_GLOBAL_CTRL:EN_FIXED_CTR2", 1},
	{"FIXED_CTR_CTRL:EN0_OS", 1},
	{"FIXED_CTR_CTRL:EN0_USR", 1},
	{"FIXED_CTR_CTRL:EN0_PMI", 0},
	{"FIXED_CTR_CTRL:EN1_OS", 1},
	{"FIXED_CTR_CTRL:EN1_USR", 1},
	{"FIXED_CTR_CTRL:EN1_PMI", 0},
	{"FIXED_CTR_CTRL:EN2_OS", 1},
	{"FIXED_CTR_CTRL:EN2_USR", 1},
	{"FIXED_CTR_CTRL:EN2_PMI", 0},
	{"PERF_GLOBAL_OVF_CTRL:CLEAR_OVF_FIXED_CTR0", 0},
	{"PERF_GLOBAL_OVF_CTRL:CLEAR_OVF_FIXED_CTR1", 0},
	{"PERF_GLOBAL_OVF_CTRL:CLEAR_OVF_FIXED_CTR2", 0},
}

// savedRegister is the write-masked content of one register on one CPU
type savedRegister struct {
	cpu    int
	offset uint64
	value  uint64
	mask   uint64
}

// EnableFixedCounters programs the fixed function counters on every CPU.
// Controls missing from the catalog are skipped.
func (p *PlatformIO) EnableFixedCounters() error {
	var errs []error
	for _, fc := range fixedCounterSetup {
		e, ok := p.reg.controls[fc.name]
		if !ok {
			continue
		}
		for cpu := range e.bound {
			if err := p.writeOne(e, cpu, fc.value); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// enableFixedCountersOnce runs EnableFixedCounters before the first signal
// is pushed or read
func (p *PlatformIO) enableFixedCountersOnce() {
	if !p.fixedCounters || p.fixedEnabled {
		return
	}
	p.fixedEnabled = true
	if err := p.EnableFixedCounters(); err != nil {
		p.logger.Warn("Failed to enable fixed counters", "error", err)
	}
}

// CheckControl verifies the platform lets a control take effect. The
// frequency and package power limit controls warn once about the cpufreq
// setup, and the power limit also fails while any package has it locked.
// The other PKG_POWER_LIMIT fields are not checked.
func (p *PlatformIO) CheckControl(name string) error {
	canonical := p.reg.canonicalControl(name)
	if canonical == frequencyControl || canonical == powerLimitControl {
		p.checkGovernor()
	}
	if canonical == powerLimitControl {
		return p.checkPowerLock()
	}
	return nil
}

func (p *PlatformIO) checkGovernor() {
	if p.governorChecked || p.cpufreq == nil {
		return
	}
	p.governorChecked = true

	stats, err := p.cpufreq.SystemCpufreq()
	if err != nil {
		p.logger.Debug("Unable to read cpufreq settings", "error", err)
		return
	}
	for _, s := range stats {
		if s.Driver != requiredDriver || s.Governor != requiredGovernor {
			p.logger.Warn("Frequency and power limit controls may be overridden by the cpufreq governor",
				"cpu", s.Name, "driver", s.Driver, "governor", s.Governor)
			return
		}
	}
}

// checkPowerLock fails when the lock bit is set on any package. Only a
// completed read of every package is remembered; read errors are retried
// on the next call.
func (p *PlatformIO) checkPowerLock() error {
	if p.lockChecked {
		return p.lockErr
	}

	e, ok := p.reg.signals[powerLimitLock]
	if !ok {
		return nil
	}
	packages, err := p.topo.NumDomain(topology.DomainPackage)
	if err != nil {
		return err
	}
	locked := 0.0
	for pkg := 0; pkg < packages; pkg++ {
		cpus, err := p.topo.DomainCPUs(topology.DomainPackage, pkg)
		if err != nil {
			return err
		}
		v, err := p.readOne(e, cpus[0])
		if err != nil {
			return err
		}
		locked += v
	}

	p.lockChecked = true
	if locked != 0 {
		p.lockErr = pioerr.New(pioerr.KindRuntime, "CheckControl",
			"unable to control power while the package power limit is locked").
			With(pioerr.WithRegister("PKG_POWER_LIMIT"))
	}
	return p.lockErr
}

// SaveControl records the write-masked bits of every register holding a
// control on every CPU. Unreadable registers are skipped and reported.
func (p *PlatformIO) SaveControl() error {
	var saved []savedRegister
	var errs []error
	for _, reg := range p.catalog.Registers() {
		mask := reg.WriteMask()
		if mask == 0 {
			continue
		}
		for cpu := 0; cpu < p.topo.NumCPU(); cpu++ {
			raw, err := p.dev.Read(cpu, reg.Offset())
			if err != nil {
				errs = append(errs, err)
				break
			}
			saved = append(saved, savedRegister{cpu: cpu, offset: reg.Offset(), value: raw & mask, mask: mask})
		}
	}
	p.saved = saved
	p.logger.Debug("Saved control state", "registers", len(saved), "skipped", len(errs))
	return errors.Join(errs...)
}

// RestoreControl writes back the state recorded by SaveControl
func (p *PlatformIO) RestoreControl() error {
	if p.saved == nil {
		return pioerr.New(pioerr.KindRuntime, "RestoreControl", "no control state was saved")
	}
	var errs []error
	for _, s := range p.saved {
		if err := p.dev.Write(s.cpu, s.offset, s.value, s.mask); err != nil {
			p.logger.Warn("Failed to restore control register",
				"cpu", s.cpu, "offset", fmt.Sprintf("0x%x", s.offset), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
