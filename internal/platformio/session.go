// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"github.com/sustainable-computing-io/msrio/internal/device"
	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// pushKey identifies a pushed signal or control
type pushKey struct {
	name string // canonical name
	cpu  int
}

// regKey identifies one register instance in a batch
type regKey struct {
	cpu    int
	offset uint64
}

// session batches the pushed signals and controls into one device
// transaction per direction. It moves from configuring to active on the
// first ReadBatch, WriteBatch, Sample or Adjust and is not safe for
// concurrent use.
type session struct {
	dev device.MSRIO

	active    bool
	readReady bool

	signals    []*boundSignal
	signalIdx  map[pushKey]int
	controls   []*boundControl
	controlIdx map[pushKey]int
	adjusted   []bool

	readBuf  []uint64
	writeBuf []uint64
}

func newSession(dev device.MSRIO) *session {
	return &session{
		dev:        dev,
		signalIdx:  map[pushKey]int{},
		controlIdx: map[pushKey]int{},
	}
}

// checkPush validates the push arguments shared by signals and controls
func (s *session) checkPush(op string, domain topology.DomainType, idx, numCPU int) error {
	if s.active {
		return pioerr.New(pioerr.KindInvalidArgument, op, "cannot push after a batch has been read or written")
	}
	if domain != topology.DomainCPU {
		return pioerr.Errorf(pioerr.KindNotImplemented, op,
			"domain %s is not supported, signals and controls are pushed per cpu", domain)
	}
	if idx < 0 || idx >= numCPU {
		return pioerr.Errorf(pioerr.KindInvalidArgument, op, "cpu index %d out of range [0, %d)", idx, numCPU)
	}
	return nil
}

func (s *session) pushSignal(name string, b *boundSignal) int {
	key := pushKey{name: name, cpu: b.cpu}
	if h, ok := s.signalIdx[key]; ok {
		return h
	}
	h := len(s.signals)
	s.signals = append(s.signals, b)
	s.signalIdx[key] = h
	return h
}

func (s *session) pushControl(name string, b *boundControl) int {
	key := pushKey{name: name, cpu: b.cpu}
	if h, ok := s.controlIdx[key]; ok {
		return h
	}
	h := len(s.controls)
	s.controls = append(s.controls, b)
	s.controlIdx[key] = h
	return h
}

// activate freezes the pushed set: registers are flattened in push order
// with one entry per (cpu, offset) and direction, write masks of fields
// sharing a register are merged, and every bound instance learns its slot.
func (s *session) activate() error {
	if s.active {
		return nil
	}

	var reads []device.ReadOp
	readSlots := map[regKey]int{}
	for _, b := range s.signals {
		key := regKey{cpu: b.cpu, offset: b.reg.Offset()}
		slot, ok := readSlots[key]
		if !ok {
			slot = len(reads)
			readSlots[key] = slot
			reads = append(reads, device.ReadOp{CPU: b.cpu, Offset: key.offset})
		}
		b.slot = slot
	}

	var writes []device.WriteOp
	writeSlots := map[regKey]int{}
	for _, c := range s.controls {
		key := regKey{cpu: c.cpu, offset: c.reg.Offset()}
		slot, ok := writeSlots[key]
		if !ok {
			slot = len(writes)
			writeSlots[key] = slot
			writes = append(writes, device.WriteOp{CPU: c.cpu, Offset: key.offset})
		}
		writes[slot].Mask |= c.field.Mask()
		c.slot = slot
	}

	if err := s.dev.ConfigBatch(reads, writes); err != nil {
		return err
	}
	s.readBuf = make([]uint64, len(reads))
	s.writeBuf = make([]uint64, len(writes))
	s.adjusted = make([]bool, len(s.controls))
	s.active = true
	return nil
}

func (s *session) readBatch() error {
	if err := s.activate(); err != nil {
		return err
	}
	if len(s.readBuf) > 0 {
		if err := s.dev.ReadBatch(s.readBuf); err != nil {
			return err
		}
	}
	s.readReady = true
	return nil
}

func (s *session) writeBatch() error {
	const op = "WriteBatch"
	if err := s.activate(); err != nil {
		return err
	}
	for h, done := range s.adjusted {
		if !done {
			c := s.controls[h]
			return pioerr.Errorf(pioerr.KindInvalidArgument, op,
				"control %d was not adjusted since the last write", h).
				With(pioerr.WithRegister(c.reg.Name()+":"+c.field.Name), pioerr.WithCPU(c.cpu))
		}
	}
	if len(s.writeBuf) == 0 {
		return nil
	}
	if err := s.dev.WriteBatch(s.writeBuf); err != nil {
		return err
	}
	clear(s.adjusted)
	return nil
}

func (s *session) sample(handle int) (float64, error) {
	const op = "Sample"
	if handle < 0 || handle >= len(s.signals) {
		return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op,
			"signal handle %d out of range [0, %d)", handle, len(s.signals))
	}
	if !s.readReady {
		return 0, pioerr.New(pioerr.KindRuntime, op, "sample called before the first ReadBatch")
	}
	return s.signals[handle].sample(s.readBuf)
}

func (s *session) adjust(handle int, value float64) error {
	const op = "Adjust"
	if handle < 0 || handle >= len(s.controls) {
		return pioerr.Errorf(pioerr.KindInvalidArgument, op,
			"control handle %d out of range [0, %d)", handle, len(s.controls))
	}
	if err := s.activate(); err != nil {
		return err
	}
	if err := s.controls[handle].adjust(s.writeBuf, value); err != nil {
		return err
	}
	s.adjusted[handle] = true
	return nil
}
