// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package msr

import (
	"fmt"
	"strings"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// Field describes a contiguous bit range of a register
type Field struct {
	Name        string
	Begin       int // inclusive
	End         int // exclusive
	Function    Function
	Units       string
	Scalar      float64
	Behavior    string
	Aggregation string
	Description string
}

// Validate checks 0 <= Begin < End <= 64 and a usable scalar
func (f *Field) Validate() error {
	if f.Name == "" {
		return pioerr.New(pioerr.KindInvalidArgument, "Field.Validate", "empty field name")
	}
	if f.Begin < 0 || f.Begin >= f.End || f.End > 64 {
		return pioerr.Errorf(pioerr.KindInvalidArgument, "Field.Validate",
			"field %s has invalid bit range [%d, %d)", f.Name, f.Begin, f.End)
	}
	if f.Scalar == 0 {
		return pioerr.Errorf(pioerr.KindInvalidArgument, "Field.Validate", "field %s has zero scalar", f.Name)
	}
	return nil
}

// Mask returns the register bits covered by the field
func (f *Field) Mask() uint64 {
	return Mask(f.Begin, f.End)
}

// Decode returns the value of the field in raw
func (f *Field) Decode(raw uint64) float64 {
	return Decode(raw, f.Begin, f.End, f.Function, f.Scalar)
}

// Encode returns the raw bits, already in place, representing value
func (f *Field) Encode(value float64) (uint64, error) {
	raw, err := Encode(value, f.Begin, f.End, f.Function, f.Scalar)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return raw, nil
}

// Register is an MSR with its readable and writeable fields.
// A Register is immutable once built.
type Register struct {
	name     string
	offset   uint64
	domain   topology.DomainType
	signals  []Field
	controls []Field

	signalIdx  map[string]int
	controlIdx map[string]int
}

// NewRegister validates the fields and builds a Register. Field names must
// be unique within signals and within controls.
func NewRegister(name string, offset uint64, domain topology.DomainType, signals, controls []Field) (*Register, error) {
	const op = "NewRegister"
	if name == "" {
		return nil, pioerr.New(pioerr.KindInvalidArgument, op, "empty register name")
	}
	if strings.ContainsAny(name, ":#") {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op, "register name %q contains ':' or '#'", name)
	}

	r := &Register{
		name:       name,
		offset:     offset,
		domain:     domain,
		signals:    append([]Field(nil), signals...),
		controls:   append([]Field(nil), controls...),
		signalIdx:  make(map[string]int, len(signals)),
		controlIdx: make(map[string]int, len(controls)),
	}

	if err := indexFields(r.signals, r.signalIdx); err != nil {
		return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(name))
	}
	if err := indexFields(r.controls, r.controlIdx); err != nil {
		return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(name))
	}
	return r, nil
}

func indexFields(fields []Field, idx map[string]int) error {
	for i := range fields {
		if err := fields[i].Validate(); err != nil {
			return err
		}
		if _, dup := idx[fields[i].Name]; dup {
			return pioerr.Errorf(pioerr.KindInvalidArgument, "", "duplicate field %s", fields[i].Name)
		}
		idx[fields[i].Name] = i
	}
	return nil
}

func (r *Register) Name() string                { return r.name }
func (r *Register) Offset() uint64              { return r.offset }
func (r *Register) Domain() topology.DomainType { return r.domain }
func (r *Register) NumSignal() int              { return len(r.signals) }
func (r *Register) NumControl() int             { return len(r.controls) }

// Signal returns signal field i; it panics if i is out of range
func (r *Register) Signal(i int) *Field {
	return &r.signals[i]
}

// Control returns control field i; it panics if i is out of range
func (r *Register) Control(i int) *Field {
	return &r.controls[i]
}

// SignalIndex returns the index of the named signal field or -1
func (r *Register) SignalIndex(name string) int {
	if i, ok := r.signalIdx[name]; ok {
		return i
	}
	return -1
}

// ControlIndex returns the index of the named control field or -1
func (r *Register) ControlIndex(name string) int {
	if i, ok := r.controlIdx[name]; ok {
		return i
	}
	return -1
}

// WriteMask is the union of the masks of all control fields
func (r *Register) WriteMask() uint64 {
	var mask uint64
	for i := range r.controls {
		mask |= r.controls[i].Mask()
	}
	return mask
}

// InferDomain derives the domain of a register from its name:
// PKG_ registers are per package, DRAM_ registers per board memory, anything
// else per CPU.
func InferDomain(name string) topology.DomainType {
	switch {
	case strings.HasPrefix(name, "PKG_"):
		return topology.DomainPackage
	case strings.HasPrefix(name, "DRAM_"):
		return topology.DomainBoardMemory
	default:
		return topology.DomainCPU
	}
}
