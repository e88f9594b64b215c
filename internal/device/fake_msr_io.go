// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"math/rand"
	"sync"
	"syscall"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// NOTE: FakeMSRIO is not intended to be used in production and is for testing
// and development only

type fakeCounter struct {
	increment    uint64
	randomFactor float64
}

// FakeMSRIO is an in-memory register file with the semantics of the msr
// device. Registers that were never set fail to read with EIO, as
// unsupported registers do on real hardware.
type FakeMSRIO struct {
	mu       sync.Mutex
	numCPU   int
	regs     map[int]map[uint64]uint64
	counters map[uint64]fakeCounter

	reads  []ReadOp
	writes []WriteOp

	readBatchCalls  int
	writeBatchCalls int
	closed          bool
}

var _ MSRIO = (*FakeMSRIO)(nil)

// FakeOptFn configures a FakeMSRIO
type FakeOptFn func(*FakeMSRIO)

// WithFakeRegister sets the initial value of a register on every cpu
func WithFakeRegister(offset, value uint64) FakeOptFn {
	return func(f *FakeMSRIO) {
		for cpu := 0; cpu < f.numCPU; cpu++ {
			f.regs[cpu][offset] = value
		}
	}
}

// WithFakeCounter makes the register at offset advance by about increment
// every time it is read
func WithFakeCounter(offset, increment uint64, randomFactor float64) FakeOptFn {
	return func(f *FakeMSRIO) {
		f.counters[offset] = fakeCounter{increment: increment, randomFactor: randomFactor}
		for cpu := 0; cpu < f.numCPU; cpu++ {
			if _, ok := f.regs[cpu][offset]; !ok {
				f.regs[cpu][offset] = 0
			}
		}
	}
}

// NewFakeMSRIO returns a fake device with numCPU CPUs
func NewFakeMSRIO(numCPU int, opts ...FakeOptFn) *FakeMSRIO {
	f := &FakeMSRIO{
		numCPU:   numCPU,
		regs:     make(map[int]map[uint64]uint64, numCPU),
		counters: map[uint64]fakeCounter{},
	}
	for cpu := 0; cpu < numCPU; cpu++ {
		f.regs[cpu] = map[uint64]uint64{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Set stores value in a register
func (f *FakeMSRIO) Set(cpu int, offset, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[cpu][offset] = value
}

// Get returns the stored value of a register, ignoring counters
func (f *FakeMSRIO) Get(cpu int, offset uint64) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.regs[cpu][offset]
	return v, ok
}

// BatchCalls returns the number of ReadBatch and WriteBatch calls that
// reached the device
func (f *FakeMSRIO) BatchCalls() (reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readBatchCalls, f.writeBatchCalls
}

// Closed reports whether Close was called
func (f *FakeMSRIO) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeMSRIO) lookup(op string, cpu int, offset uint64) (uint64, error) {
	if cpu < 0 || cpu >= f.numCPU {
		return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op, "cpu %d out of range, num_cpu=%d", cpu, f.numCPU)
	}
	v, ok := f.regs[cpu][offset]
	if !ok {
		return 0, pioerr.Wrap(pioerr.KindIO, op, syscall.EIO, pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	return v, nil
}

func (f *FakeMSRIO) read(cpu int, offset uint64) (uint64, error) {
	v, err := f.lookup("FakeMSRIO.Read", cpu, offset)
	if err != nil {
		return 0, err
	}
	if c, ok := f.counters[offset]; ok {
		v += c.increment + uint64(rand.Float64()*float64(c.increment)*c.randomFactor)
		f.regs[cpu][offset] = v
	}
	return v, nil
}

func (f *FakeMSRIO) write(cpu int, offset, raw, mask uint64) error {
	const op = "FakeMSRIO.Write"
	if raw&mask != raw {
		return pioerr.Errorf(pioerr.KindInvalidArgument, op,
			"raw value 0x%x does not obey write mask 0x%x", raw, mask).
			With(pioerr.WithCPU(cpu), pioerr.WithOffset(offset))
	}
	cur, err := f.lookup(op, cpu, offset)
	if err != nil {
		return err
	}
	f.regs[cpu][offset] = (cur &^ mask) | raw
	return nil
}

func (f *FakeMSRIO) Read(cpu int, offset uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(cpu, offset)
}

func (f *FakeMSRIO) Write(cpu int, offset, raw, mask uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(cpu, offset, raw, mask)
}

func (f *FakeMSRIO) ConfigBatch(reads []ReadOp, writes []WriteOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range reads {
		if r.CPU < 0 || r.CPU >= f.numCPU {
			return pioerr.Errorf(pioerr.KindInvalidArgument, "FakeMSRIO.ConfigBatch",
				"cpu %d out of range, num_cpu=%d", r.CPU, f.numCPU)
		}
	}
	for _, w := range writes {
		if w.CPU < 0 || w.CPU >= f.numCPU {
			return pioerr.Errorf(pioerr.KindInvalidArgument, "FakeMSRIO.ConfigBatch",
				"cpu %d out of range, num_cpu=%d", w.CPU, f.numCPU)
		}
	}
	f.reads = append([]ReadOp(nil), reads...)
	f.writes = append([]WriteOp(nil), writes...)
	return nil
}

func (f *FakeMSRIO) ReadBatch(out []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(out) < len(f.reads) {
		return pioerr.Errorf(pioerr.KindInvalidArgument, "FakeMSRIO.ReadBatch",
			"output of %d values is smaller than the %d configured reads", len(out), len(f.reads))
	}
	f.readBatchCalls++
	for i, r := range f.reads {
		v, err := f.read(r.CPU, r.Offset)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func (f *FakeMSRIO) WriteBatch(in []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(in) < len(f.writes) {
		return pioerr.Errorf(pioerr.KindInvalidArgument, "FakeMSRIO.WriteBatch",
			"input of %d values is smaller than the %d configured writes", len(in), len(f.writes))
	}
	f.writeBatchCalls++
	for i, w := range f.writes {
		if err := f.write(w.CPU, w.Offset, in[i], w.Mask); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeMSRIO) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
