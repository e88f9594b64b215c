// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"log/slog"
	"math"

	"github.com/prometheus/procfs/sysfs"

	"github.com/sustainable-computing-io/msrio/internal/device"
	"github.com/sustainable-computing-io/msrio/internal/msr"
	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// PlatformIO gives named access to the MSR signals and controls of one
// node. It owns a single batch session and is not safe for concurrent use.
type PlatformIO struct {
	topo    *topology.Topology
	dev     device.MSRIO
	catalog *msr.Catalog
	reg     *registry
	sess    *session
	logger  *slog.Logger
	cpufreq CpufreqReader

	fixedCounters bool
	fixedEnabled  bool

	governorChecked bool
	lockChecked     bool
	lockErr         error

	saved []savedRegister
}

// Opts configures a PlatformIO
type Opts struct {
	logger        *slog.Logger
	cpufreq       CpufreqReader
	fixedCounters bool
}

// OptionFn is a function that sets one or more options in Opts
type OptionFn func(*Opts)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithCpufreq sets the source of the cpufreq governor check; nil disables it
func WithCpufreq(r CpufreqReader) OptionFn {
	return func(o *Opts) {
		o.cpufreq = r
	}
}

// WithSysFS reads cpufreq settings below the given sysfs mount point
func WithSysFS(path string) OptionFn {
	return func(o *Opts) {
		fs, err := sysfs.NewFS(path)
		if err != nil {
			o.cpufreq = nil
			return
		}
		o.cpufreq = fs
	}
}

// WithFixedCounters controls whether the fixed counters are programmed
// before the first signal is used
func WithFixedCounters(enable bool) OptionFn {
	return func(o *Opts) {
		o.fixedCounters = enable
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	opts := Opts{
		logger:        slog.Default(),
		fixedCounters: true,
	}
	WithSysFS("/sys")(&opts)
	return opts
}

// New binds the catalog to the device over the given topology
func New(topo *topology.Topology, dev device.MSRIO, catalog *msr.Catalog, applyOpts ...OptionFn) (*PlatformIO, error) {
	if topo == nil || dev == nil || catalog == nil {
		return nil, pioerr.New(pioerr.KindInvalidArgument, "platformio.New", "topology, device and catalog are required")
	}
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	logger := opts.logger.With("service", "platformio")

	reg, err := newRegistry(catalog, topo.NumCPU(), logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Registered MSR signals and controls",
		"model", modelString(catalog.ModelID()), "signals", len(reg.signals), "controls", len(reg.controls))

	return &PlatformIO{
		topo:          topo,
		dev:           dev,
		catalog:       catalog,
		reg:           reg,
		sess:          newSession(dev),
		logger:        logger,
		cpufreq:       opts.cpufreq,
		fixedCounters: opts.fixedCounters,
	}, nil
}

// Topology of the node
func (p *PlatformIO) Topology() *topology.Topology { return p.topo }

// Catalog of registers in use
func (p *PlatformIO) Catalog() *msr.Catalog { return p.catalog }

// SignalNames returns every signal name and alias, sorted
func (p *PlatformIO) SignalNames() []string { return p.reg.signalNames() }

// ControlNames returns every control name and alias, sorted
func (p *PlatformIO) ControlNames() []string { return p.reg.controlNames() }

// IsValidSignal reports whether name is a known signal or alias
func (p *PlatformIO) IsValidSignal(name string) bool { return p.reg.isValidSignal(name) }

// IsValidControl reports whether name is a known control or alias
func (p *PlatformIO) IsValidControl(name string) bool { return p.reg.isValidControl(name) }

// SignalDomainType is the domain signals are pushed at: DomainCPU for every
// valid signal and DomainInvalid otherwise. SignalInfo carries the domain
// of the underlying register.
func (p *PlatformIO) SignalDomainType(name string) topology.DomainType {
	if !p.reg.isValidSignal(name) {
		return topology.DomainInvalid
	}
	return topology.DomainCPU
}

// ControlDomainType is the control counterpart of SignalDomainType
func (p *PlatformIO) ControlDomainType(name string) topology.DomainType {
	if !p.reg.isValidControl(name) {
		return topology.DomainInvalid
	}
	return topology.DomainCPU
}

// SignalInfo describes a signal
func (p *PlatformIO) SignalInfo(name string) (Info, error) { return p.reg.signalInfo(name) }

// ControlInfo describes a control
func (p *PlatformIO) ControlInfo(name string) (Info, error) { return p.reg.controlInfo(name) }

// AggFunc returns the function combining values of a signal across CPUs
func (p *PlatformIO) AggFunc(name string) (AggFunc, error) { return p.reg.aggFunc(name) }

// PushSignal adds a signal on one CPU to the batch and returns its handle.
// Pushing the same signal on the same CPU again returns the same handle.
func (p *PlatformIO) PushSignal(name string, domain topology.DomainType, idx int) (int, error) {
	const op = "PushSignal"
	if err := p.sess.checkPush(op, domain, idx, p.topo.NumCPU()); err != nil {
		return -1, err
	}
	e, err := p.reg.signal(op, name)
	if err != nil {
		return -1, err
	}
	p.enableFixedCountersOnce()
	return p.sess.pushSignal(e.info.Name, e.bound[idx]), nil
}

// PushControl adds a control on one CPU to the batch and returns its handle
func (p *PlatformIO) PushControl(name string, domain topology.DomainType, idx int) (int, error) {
	const op = "PushControl"
	if err := p.sess.checkPush(op, domain, idx, p.topo.NumCPU()); err != nil {
		return -1, err
	}
	e, err := p.reg.control(op, name)
	if err != nil {
		return -1, err
	}
	if err := p.CheckControl(e.info.Name); err != nil {
		return -1, err
	}
	if err := p.enablePowerLimit(name, idx); err != nil {
		return -1, err
	}
	return p.sess.pushControl(e.info.Name, e.bound[idx]), nil
}

// ReadBatch reads every pushed register in one device transaction
func (p *PlatformIO) ReadBatch() error { return p.sess.readBatch() }

// WriteBatch writes every pushed register in one device transaction. Every
// pushed control must have been adjusted since the previous write.
func (p *PlatformIO) WriteBatch() error { return p.sess.writeBatch() }

// Sample returns the value of a pushed signal as of the last ReadBatch
func (p *PlatformIO) Sample(handle int) (float64, error) { return p.sess.sample(handle) }

// Adjust sets the value a pushed control takes on the next WriteBatch
func (p *PlatformIO) Adjust(handle int, value float64) error { return p.sess.adjust(handle, value) }

// ReadSignal reads a signal immediately, outside of the batch. Domains
// coarser than the register's own are aggregated over their CPUs.
func (p *PlatformIO) ReadSignal(name string, domain topology.DomainType, idx int) (float64, error) {
	const op = "ReadSignal"
	e, err := p.reg.signal(op, name)
	if err != nil {
		return math.NaN(), err
	}
	cpus, err := p.representativeCPUs(e.info.Domain, domain, idx)
	if err != nil {
		return math.NaN(), err
	}
	p.enableFixedCountersOnce()

	values := make([]float64, 0, len(cpus))
	for _, cpu := range cpus {
		v, err := p.readOne(e, cpu)
		if err != nil {
			return math.NaN(), err
		}
		values = append(values, v)
	}
	if len(values) == 1 {
		return values[0], nil
	}
	agg, err := p.reg.aggFunc(name)
	if err != nil {
		return math.NaN(), err
	}
	return agg(values), nil
}

// WriteControl writes a control immediately, outside of the batch, on
// every register instance within the domain
func (p *PlatformIO) WriteControl(name string, domain topology.DomainType, idx int, value float64) error {
	const op = "WriteControl"
	e, err := p.reg.control(op, name)
	if err != nil {
		return err
	}
	cpus, err := p.representativeCPUs(e.info.Domain, domain, idx)
	if err != nil {
		return err
	}
	if err := p.CheckControl(e.info.Name); err != nil {
		return err
	}
	for _, cpu := range cpus {
		if err := p.enablePowerLimit(name, cpu); err != nil {
			return err
		}
		if err := p.writeOne(e, cpu, value); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the device
func (p *PlatformIO) Close() error {
	return p.dev.Close()
}

// representativeCPUs returns one CPU per register instance of the native
// domain found within domain idx
func (p *PlatformIO) representativeCPUs(native, domain topology.DomainType, idx int) ([]int, error) {
	if domain == topology.DomainCPU {
		if idx < 0 || idx >= p.topo.NumCPU() {
			return nil, pioerr.Errorf(pioerr.KindInvalidArgument, "representativeCPUs",
				"cpu index %d out of range [0, %d)", idx, p.topo.NumCPU())
		}
		return []int{idx}, nil
	}
	cpus, err := p.topo.DomainCPUs(domain, idx)
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	var result []int
	for _, cpu := range cpus {
		key, err := p.topo.DomainIdx(native, cpu)
		if err != nil {
			// register domains without a topology mapping are read per cpu
			key = cpu
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, cpu)
	}
	return result, nil
}

func (p *PlatformIO) readOne(e *signalEntry, cpu int) (float64, error) {
	raw, err := p.dev.Read(cpu, e.reg.Offset())
	if err != nil {
		return math.NaN(), err
	}
	if e.kind == boundRaw {
		return math.Float64frombits(raw), nil
	}
	return e.field.Decode(raw), nil
}

func (p *PlatformIO) writeOne(e *controlEntry, cpu int, value float64) error {
	raw, err := e.field.Encode(value)
	if err != nil {
		return err
	}
	return p.dev.Write(cpu, e.reg.Offset(), raw, e.field.Mask())
}

// enablePowerLimit turns on the package power limit before the power limit
// alias is first used
func (p *PlatformIO) enablePowerLimit(name string, cpu int) error {
	if trimName(name) != powerLimitAlias {
		return nil
	}
	e, ok := p.reg.controls[powerLimitEnable]
	if !ok {
		return nil
	}
	return p.writeOne(e, cpu, 1)
}
