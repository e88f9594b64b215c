// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/sustainable-computing-io/msrio/internal/msr"
	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// NamePrefix may precede any signal or control name
const NamePrefix = "MSR::"

const defaultDescription = "Refer to the Intel(R) 64 and IA-32 Architectures Software Developer's Manual for information about this MSR"

// boundKind tags what a bound signal decodes from its register
type boundKind int

const (
	// boundField decodes one bit field
	boundField boundKind = iota
	// boundRaw returns the whole register
	boundRaw
)

// boundSignal is one signal of one register on one CPU. slot is the index
// of its register in the read buffer of the session that pushed it, -1
// until the session activates.
type boundSignal struct {
	kind  boundKind
	reg   *msr.Register
	field *msr.Field
	cpu   int
	slot  int

	overflow msr.OverflowTracker
}

// decode converts a raw register value; overflow counters are tracked
// across calls
func (b *boundSignal) decode(raw uint64) float64 {
	switch b.kind {
	case boundRaw:
		return math.Float64frombits(raw)
	default:
		if b.field.Function == msr.FunctionOverflow {
			return b.overflow.Decode(b.field, raw)
		}
		return b.field.Decode(raw)
	}
}

func (b *boundSignal) sample(buf []uint64) (float64, error) {
	if b.slot < 0 {
		return 0, pioerr.New(pioerr.KindRuntime, "sample", "signal is not mapped to a batch",
			pioerr.WithRegister(b.reg.Name()), pioerr.WithCPU(b.cpu))
	}
	return b.decode(buf[b.slot]), nil
}

// boundControl is one control field of one register on one CPU
type boundControl struct {
	reg   *msr.Register
	field *msr.Field
	cpu   int
	slot  int
}

// adjust encodes value into the write buffer slot, leaving the bits of
// other fields sharing the slot alone
func (c *boundControl) adjust(buf []uint64, value float64) error {
	if c.slot < 0 {
		return pioerr.New(pioerr.KindRuntime, "adjust", "control is not mapped to a batch",
			pioerr.WithRegister(c.reg.Name()), pioerr.WithCPU(c.cpu))
	}
	raw, err := c.field.Encode(value)
	if err != nil {
		return err
	}
	buf[c.slot] = (buf[c.slot] &^ c.field.Mask()) | raw
	return nil
}

// Info describes a signal or control
type Info struct {
	Name        string
	Alias       string // target name when Name is an alias
	Description string
	Units       string
	Domain      topology.DomainType // domain of the underlying register
	Behavior    string
	Aggregation string
}

type signalEntry struct {
	info  Info
	kind  boundKind
	reg   *msr.Register
	field *msr.Field
	agg   AggFunc
	bound []*boundSignal
}

type controlEntry struct {
	info  Info
	reg   *msr.Register
	field *msr.Field
	bound []*boundControl
}

// registry binds signal and control names to catalog fields, one bound
// instance per CPU
type registry struct {
	catalog *msr.Catalog
	numCPU  int
	logger  *slog.Logger

	signals  map[string]*signalEntry
	controls map[string]*controlEntry
	// alias name -> canonical name
	signalAlias  map[string]string
	controlAlias map[string]string
}

func newRegistry(catalog *msr.Catalog, numCPU int, logger *slog.Logger) (*registry, error) {
	r := &registry{
		catalog:      catalog,
		numCPU:       numCPU,
		logger:       logger,
		signals:      map[string]*signalEntry{},
		controls:     map[string]*controlEntry{},
		signalAlias:  map[string]string{},
		controlAlias: map[string]string{},
	}

	for _, reg := range catalog.Registers() {
		for i := 0; i < reg.NumSignal(); i++ {
			if err := r.registerSignal(reg.Name() + ":" + reg.Signal(i).Name); err != nil {
				return nil, err
			}
		}
		for i := 0; i < reg.NumControl(); i++ {
			if err := r.registerControl(reg.Name() + ":" + reg.Control(i).Name); err != nil {
				return nil, err
			}
		}
		r.registerRawSignal(reg)
	}
	r.registerAliases()
	return r, nil
}

// trimName strips the optional name prefix
func trimName(name string) string {
	return strings.TrimPrefix(name, NamePrefix)
}

// splitName splits REGISTER:FIELD on the first colon and resolves both parts
func (r *registry) splitName(op, name string) (*msr.Register, string, error) {
	regName, fieldName, ok := strings.Cut(name, ":")
	if !ok {
		return nil, "", pioerr.Errorf(pioerr.KindInvalidArgument, op,
			"name %q must be of the form REGISTER:FIELD", name)
	}
	reg, ok := r.catalog.Register(regName)
	if !ok {
		return nil, "", pioerr.Errorf(pioerr.KindInvalidArgument, op, "register not found: %s", regName)
	}
	return reg, fieldName, nil
}

// registerSignal binds REGISTER:FIELD on every CPU, replacing an existing
// binding of the same name
func (r *registry) registerSignal(name string) error {
	const op = "registerSignal"
	name = trimName(name)
	reg, fieldName, err := r.splitName(op, name)
	if err != nil {
		return err
	}
	idx := reg.SignalIndex(fieldName)
	if idx < 0 {
		return pioerr.Errorf(pioerr.KindInvalidArgument, op, "field not found: %s", fieldName).
			With(pioerr.WithRegister(reg.Name()))
	}
	field := reg.Signal(idx)

	aggName := field.Aggregation
	if aggName == "" {
		aggName = defaultAggregation[name]
	}
	agg, err := ParseAgg(aggName)
	if err != nil {
		return pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(reg.Name()))
	}
	if aggName == "" {
		aggName = AggSelectFirst
	}

	e := &signalEntry{
		info: Info{
			Name:        name,
			Description: describe(field),
			Units:       field.Units,
			Domain:      reg.Domain(),
			Behavior:    field.Behavior,
			Aggregation: aggName,
		},
		kind:  boundField,
		reg:   reg,
		field: field,
		agg:   agg,
		bound: make([]*boundSignal, r.numCPU),
	}
	for cpu := range e.bound {
		e.bound[cpu] = &boundSignal{kind: boundField, reg: reg, field: field, cpu: cpu, slot: -1}
	}
	r.signals[name] = e
	return nil
}

// registerRawSignal binds REGISTER# to the whole register
func (r *registry) registerRawSignal(reg *msr.Register) {
	name := reg.Name() + "#"
	e := &signalEntry{
		info: Info{
			Name:        name,
			Description: "Raw value of the " + reg.Name() + " register",
			Units:       "none",
			Domain:      reg.Domain(),
			Aggregation: AggSelectFirst,
		},
		kind:  boundRaw,
		reg:   reg,
		agg:   aggSelectFirst,
		bound: make([]*boundSignal, r.numCPU),
	}
	for cpu := range e.bound {
		e.bound[cpu] = &boundSignal{kind: boundRaw, reg: reg, cpu: cpu, slot: -1}
	}
	r.signals[name] = e
}

// registerControl binds REGISTER:FIELD on every CPU, replacing an existing
// binding of the same name
func (r *registry) registerControl(name string) error {
	const op = "registerControl"
	name = trimName(name)
	reg, fieldName, err := r.splitName(op, name)
	if err != nil {
		return err
	}
	idx := reg.ControlIndex(fieldName)
	if idx < 0 {
		return pioerr.Errorf(pioerr.KindInvalidArgument, op, "field not found: %s", fieldName).
			With(pioerr.WithRegister(reg.Name()))
	}
	field := reg.Control(idx)

	e := &controlEntry{
		info: Info{
			Name:        name,
			Description: describe(field),
			Units:       field.Units,
			Domain:      reg.Domain(),
			Behavior:    field.Behavior,
		},
		reg:   reg,
		field: field,
		bound: make([]*boundControl, r.numCPU),
	}
	for cpu := range e.bound {
		e.bound[cpu] = &boundControl{reg: reg, field: field, cpu: cpu, slot: -1}
	}
	r.controls[name] = e
	return nil
}

func describe(f *msr.Field) string {
	if f.Description != "" {
		return f.Description
	}
	return defaultDescription
}

// canonicalSignal resolves prefixes and aliases to the registered name
func (r *registry) canonicalSignal(name string) string {
	name = trimName(name)
	if target, ok := r.signalAlias[name]; ok {
		return target
	}
	return name
}

func (r *registry) canonicalControl(name string) string {
	name = trimName(name)
	if target, ok := r.controlAlias[name]; ok {
		return target
	}
	return name
}

func (r *registry) signal(op, name string) (*signalEntry, error) {
	e, ok := r.signals[r.canonicalSignal(name)]
	if !ok {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op, "signal name %q not found", name)
	}
	return e, nil
}

func (r *registry) control(op, name string) (*controlEntry, error) {
	e, ok := r.controls[r.canonicalControl(name)]
	if !ok {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op, "control name %q not found", name)
	}
	return e, nil
}

func (r *registry) isValidSignal(name string) bool {
	_, ok := r.signals[r.canonicalSignal(name)]
	return ok
}

func (r *registry) isValidControl(name string) bool {
	_, ok := r.controls[r.canonicalControl(name)]
	return ok
}

// signalNames returns every signal and signal alias, sorted
func (r *registry) signalNames() []string {
	names := make([]string, 0, len(r.signals)+len(r.signalAlias))
	for name := range r.signals {
		names = append(names, name)
	}
	for name := range r.signalAlias {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// controlNames returns every control and control alias, sorted
func (r *registry) controlNames() []string {
	names := make([]string, 0, len(r.controls)+len(r.controlAlias))
	for name := range r.controls {
		names = append(names, name)
	}
	for name := range r.controlAlias {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *registry) signalInfo(name string) (Info, error) {
	name = trimName(name)
	e, err := r.signal("SignalInfo", name)
	if err != nil {
		return Info{}, err
	}
	info := e.info
	if target, ok := r.signalAlias[name]; ok {
		info.Name = name
		info.Alias = target
		info.Description = "Alias for " + target + ". " + info.Description
		if agg, ok := aliasAggregation[name]; ok {
			info.Aggregation = agg
		}
	}
	return info, nil
}

func (r *registry) controlInfo(name string) (Info, error) {
	name = trimName(name)
	e, err := r.control("ControlInfo", name)
	if err != nil {
		return Info{}, err
	}
	info := e.info
	if target, ok := r.controlAlias[name]; ok {
		info.Name = name
		info.Alias = target
		info.Description = "Alias for " + target + ". " + info.Description
	}
	return info, nil
}

// aggFunc returns the aggregation of a signal; aliases may override the
// aggregation of their target
func (r *registry) aggFunc(name string) (AggFunc, error) {
	name = trimName(name)
	if agg, ok := aliasAggregation[name]; ok && r.isValidSignal(name) {
		return ParseAgg(agg)
	}
	e, err := r.signal("AggFunc", name)
	if err != nil {
		return nil, err
	}
	return e.agg, nil
}
