// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// Default device locations of the msr and msr-safe kernel drivers
const (
	DefaultMSRPath      = "/dev/cpu/%d/msr"
	DefaultMSRSafePath  = "/dev/cpu/%d/msr_safe"
	DefaultMSRBatchPath = "/dev/cpu/msr_batch"
)

// ReadOp is one register read of a batch
type ReadOp struct {
	CPU    int
	Offset uint64
}

// WriteOp is one masked register write of a batch
type WriteOp struct {
	CPU    int
	Offset uint64
	Mask   uint64
}

// MSRIO reads and writes model specific registers of each CPU, one at a
// time or as a configured batch.
//
// Write is a read-modify-write of the register and is not atomic with
// respect to other writers of the same register.
type MSRIO interface {
	// Read returns the 64 bit value of the register at offset on cpu
	Read(cpu int, offset uint64) (uint64, error)

	// Write replaces the bits selected by mask with raw. raw must not have
	// bits set outside of mask.
	Write(cpu int, offset, raw, mask uint64) error

	// ConfigBatch replaces the batch configuration
	ConfigBatch(reads []ReadOp, writes []WriteOp) error

	// ReadBatch reads every configured register into out, in configuration order
	ReadBatch(out []uint64) error

	// WriteBatch writes in to every configured register, in configuration order
	WriteBatch(in []uint64) error

	// Close releases every open device file
	Close() error
}

// Opts configures the MSR device
type Opts struct {
	numCPU    int
	safePath  string
	path      string
	batchPath string
	logger    *slog.Logger
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithDevicePaths sets the per cpu device templates and the batch device path
func WithDevicePaths(safePath, path, batchPath string) OptionFn {
	return func(o *Opts) {
		o.safePath = safePath
		o.path = path
		o.batchPath = batchPath
	}
}

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		safePath:  DefaultMSRSafePath,
		path:      DefaultMSRPath,
		batchPath: DefaultMSRBatchPath,
		logger:    slog.Default(),
	}
}

// msrIO accesses the registers through the msr_safe or msr device files.
// It is not safe for concurrent use.
type msrIO struct {
	numCPU    int
	safePath  string
	path      string
	batchPath string
	logger    *slog.Logger

	files map[int]*os.File

	batch         *os.File
	batchDisabled bool
	reads         []ReadOp
	writes        []WriteOp
	readOps       []batchOp
	writeOps      []batchOp
}

var _ MSRIO = (*msrIO)(nil)

// NewMSRIO returns the device for numCPU CPUs. Device files are opened on
// first use.
func NewMSRIO(numCPU int, applyOpts ...OptionFn) (*msrIO, error) {
	if numCPU <= 0 {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, "NewMSRIO", "invalid number of cpus %d", numCPU)
	}
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	return &msrIO{
		numCPU:    numCPU,
		safePath:  opts.safePath,
		path:      opts.path,
		batchPath: opts.batchPath,
		logger:    opts.logger.With("service", "msr-io"),
		files:     make(map[int]*os.File, numCPU),
	}, nil
}

// file returns the cached device file of cpu, opening msr_safe first and
// falling back to msr
func (m *msrIO) file(cpu int) (*os.File, error) {
	const op = "msrIO.open"
	if cpu < 0 || cpu >= m.numCPU {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op, "cpu %d out of range, num_cpu=%d", cpu, m.numCPU)
	}
	if f, ok := m.files[cpu]; ok {
		return f, nil
	}

	var errs []error
	for _, tmpl := range []string{m.safePath, m.path} {
		if tmpl == "" {
			continue
		}
		path := fmt.Sprintf(tmpl, cpu)
		f, err := openDevice(path)
		if err != nil {
			m.logger.Debug("Cannot open MSR device", "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		m.files[cpu] = f
		return f, nil
	}
	return nil, pioerr.Wrap(pioerr.KindIO, op, errors.Join(errs...), pioerr.WithCPU(cpu))
}

// openDevice opens read-write, and read only when writes are not permitted
func openDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrPermission) {
		return os.OpenFile(path, os.O_RDONLY, 0)
	}
	return f, err
}

func (m *msrIO) Read(cpu int, offset uint64) (uint64, error) {
	f, err := m.file(cpu)
	if err != nil {
		return 0, err
	}
	return pread(f, cpu, offset)
}

func pread(f *os.File, cpu int, offset uint64) (uint64, error) {
	var buf [8]byte
	n, err := unix.Pread(int(f.Fd()), buf[:], int64(offset))
	if err != nil {
		return 0, pioerr.Wrap(pioerr.KindIO, "msrIO.Read", err, pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	if n != len(buf) {
		return 0, pioerr.Errorf(pioerr.KindIO, "msrIO.Read", "short read of %d bytes", n).
			With(pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *msrIO) Write(cpu int, offset, raw, mask uint64) error {
	const op = "msrIO.Write"
	if raw&mask != raw {
		return pioerr.Errorf(pioerr.KindInvalidArgument, op,
			"raw value 0x%x does not obey write mask 0x%x", raw, mask).
			With(pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	f, err := m.file(cpu)
	if err != nil {
		return err
	}

	cur, err := pread(f, cpu, offset)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], (cur&^mask)|raw)
	n, err := unix.Pwrite(int(f.Fd()), buf[:], int64(offset))
	if err != nil {
		return pioerr.Wrap(pioerr.KindIO, op, err, pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	if n != len(buf) {
		return pioerr.Errorf(pioerr.KindIO, op, "short write of %d bytes", n).
			With(pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	return nil
}

func (m *msrIO) ConfigBatch(reads []ReadOp, writes []WriteOp) error {
	for _, r := range reads {
		if r.CPU < 0 || r.CPU >= m.numCPU {
			return pioerr.Errorf(pioerr.KindInvalidArgument, "msrIO.ConfigBatch",
				"cpu %d out of range, num_cpu=%d", r.CPU, m.numCPU)
		}
	}
	for _, w := range writes {
		if w.CPU < 0 || w.CPU >= m.numCPU {
			return pioerr.Errorf(pioerr.KindInvalidArgument, "msrIO.ConfigBatch",
				"cpu %d out of range, num_cpu=%d", w.CPU, m.numCPU)
		}
	}

	m.reads = append(m.reads[:0], reads...)
	m.writes = append(m.writes[:0], writes...)
	m.readOps = make([]batchOp, len(reads))
	for i, r := range reads {
		m.readOps[i] = batchOp{CPU: uint16(r.CPU), IsRdmsr: 1, MSR: uint32(r.Offset)}
	}
	m.writeOps = make([]batchOp, len(writes))
	for i, w := range writes {
		m.writeOps[i] = batchOp{CPU: uint16(w.CPU), MSR: uint32(w.Offset), WMask: w.Mask}
	}
	return nil
}

func (m *msrIO) ReadBatch(out []uint64) error {
	if len(out) < len(m.reads) {
		return pioerr.Errorf(pioerr.KindInvalidArgument, "msrIO.ReadBatch",
			"output of %d values is smaller than the %d configured reads", len(out), len(m.reads))
	}
	if len(m.reads) == 0 {
		return nil
	}

	if m.openBatch() {
		if err := m.ioctl(m.readOps); err != nil {
			return err
		}
		for i := range m.readOps {
			out[i] = m.readOps[i].MSRData
		}
		return nil
	}

	for i, r := range m.reads {
		v, err := m.Read(r.CPU, r.Offset)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func (m *msrIO) WriteBatch(in []uint64) error {
	if len(in) < len(m.writes) {
		return pioerr.Errorf(pioerr.KindInvalidArgument, "msrIO.WriteBatch",
			"input of %d values is smaller than the %d configured writes", len(in), len(m.writes))
	}
	if len(m.writes) == 0 {
		return nil
	}
	for i, w := range m.writes {
		if in[i]&w.Mask != in[i] {
			return pioerr.Errorf(pioerr.KindInvalidArgument, "msrIO.WriteBatch",
				"raw value 0x%x does not obey write mask 0x%x", in[i], w.Mask).
				With(pioerr.WithCPU(w.CPU), pioerr.WithOffset(w.Offset))
		}
	}

	if m.openBatch() {
		for i := range m.writeOps {
			m.writeOps[i].MSRData = in[i]
		}
		return m.ioctl(m.writeOps)
	}

	for i, w := range m.writes {
		if err := m.Write(w.CPU, w.Offset, in[i], w.Mask); err != nil {
			return err
		}
	}
	return nil
}

// openBatch reports whether the batch device can be used. A failed open
// disables batching for the lifetime of the device.
func (m *msrIO) openBatch() bool {
	if m.batch != nil {
		return true
	}
	if m.batchDisabled || m.batchPath == "" {
		return false
	}
	f, err := os.OpenFile(m.batchPath, os.O_RDWR, 0)
	if err != nil {
		m.logger.Info("MSR batch device unavailable, using per register access",
			"path", m.batchPath, "error", err)
		m.batchDisabled = true
		return false
	}
	m.batch = f
	return true
}

func (m *msrIO) Close() error {
	var errs []error
	for cpu, f := range m.files {
		if err := f.Close(); err != nil {
			m.logger.Warn("Failed to close MSR device", "cpu", cpu, "error", err)
			errs = append(errs, err)
		}
	}
	m.files = make(map[int]*os.File, m.numCPU)

	if m.batch != nil {
		if err := m.batch.Close(); err != nil {
			errs = append(errs, err)
		}
		m.batch = nil
	}
	return errors.Join(errs...)
}
