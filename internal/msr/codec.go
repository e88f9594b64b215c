// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package msr

import (
	"fmt"
	"math"
	"strings"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// Function selects how the bits of a field map to a float64 value
type Function int

const (
	// FunctionScale: value = field * scalar
	FunctionScale Function = iota
	// FunctionLogHalf: value = scalar * 2^-field
	FunctionLogHalf
	// Function7BitFloat: value = scalar * 2^Y * (1 + Z/4), Y in bits [0,5), Z in bits [5,7)
	Function7BitFloat
	// FunctionOverflow: a wrapping counter, value = (field + (max+1)*wraps) * scalar
	FunctionOverflow
)

var functionNames = map[Function]string{
	FunctionScale:     "scale",
	FunctionLogHalf:   "log_half",
	Function7BitFloat: "7_bit_float",
	FunctionOverflow:  "overflow",
}

func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("function(%d)", int(f))
}

// ParseFunction maps the table spelling of a function to a Function
func ParseFunction(s string) (Function, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range functionNames {
		if name == s {
			return f, nil
		}
	}
	return 0, pioerr.Errorf(pioerr.KindInvalidArgument, "ParseFunction", "unknown function %q", s)
}

// MarshalYAML implements yaml.Marshaler
func (f Function) MarshalYAML() (any, error) {
	return f.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *Function) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	fn, err := ParseFunction(s)
	if err != nil {
		return err
	}
	*f = fn
	return nil
}

// Mask returns the mask covering bits [begin, end)
func Mask(begin, end int) uint64 {
	width := end - begin
	if width >= 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << width) - 1) << begin
}

func subfield(raw uint64, begin, end int) uint64 {
	return (raw & Mask(begin, end)) >> begin
}

// Decode converts the bits [begin, end) of raw to a float64.
// FunctionOverflow decodes like FunctionScale here; wrap tracking needs an
// OverflowTracker.
func Decode(raw uint64, begin, end int, fn Function, scalar float64) float64 {
	x := subfield(raw, begin, end)
	switch fn {
	case FunctionLogHalf:
		return scalar * math.Ldexp(1, -int(x))
	case Function7BitFloat:
		y := x & 0x1F
		z := (x >> 5) & 0x3
		return scalar * math.Ldexp(1, int(y)) * (1 + float64(z)/4)
	default:
		return float64(x) * scalar
	}
}

// Encode converts value to the raw bits of the field [begin, end).
// The result is already shifted and masked.
func Encode(value float64, begin, end int, fn Function, scalar float64) (uint64, error) {
	const op = "Encode"
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op, "value %v is not finite", value)
	}

	var result uint64
	switch fn {
	case FunctionScale, FunctionOverflow:
		v := value
		if fn == FunctionScale {
			v = value / scalar
		}
		if v < 0 {
			return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op, "negative value %v for %s field", value, fn)
		}
		result = uint64(v)

	case FunctionLogHalf:
		if value <= 0 {
			return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op, "value %v <= 0 for log_half field", value)
		}
		x := math.Log2(scalar / value)
		if x < 0 {
			return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op, "value %v exceeds scalar %v of log_half field", value, scalar)
		}
		result = uint64(x)

	case Function7BitFloat:
		if value <= 0 {
			return 0, pioerr.Errorf(pioerr.KindInvalidArgument, op, "value %v <= 0 for 7_bit_float field", value)
		}
		r, err := encode7BitFloat(value / scalar)
		if err != nil {
			return 0, err
		}
		result = r

	default:
		return 0, pioerr.Errorf(pioerr.KindNotImplemented, op, "unknown function %s", fn)
	}

	return (result << begin) & Mask(begin, end), nil
}

func encode7BitFloat(v float64) (uint64, error) {
	const op = "Encode"
	var y, z uint64
	if ly := math.Log2(v); ly > 0 {
		y = uint64(ly)
	}
	if fz := 4 * (math.Ldexp(v, -int(y)) - 1); fz > 0 {
		z = uint64(fz)
	}
	if y>>5 != 0 || z>>2 != 0 {
		return 0, pioerr.Errorf(pioerr.KindOverflow, op, "value %v does not fit a 7 bit float", v)
	}

	// two sided, so inputs below 0.8 are not raised to 1
	inferred := math.Ldexp(1, int(y)) * (1 + float64(z)/4)
	if math.Abs(v-inferred) > v*0.25 {
		return 0, pioerr.Errorf(pioerr.KindLogic, op, "encoded value %v is more than 25%% away from %v", inferred, v)
	}
	return y | z<<5, nil
}

// OverflowTracker extends a wrapping counter field past its bit width
type OverflowTracker struct {
	last  uint64
	wraps uint64
}

// Decode returns the unwrapped value of f in raw and remembers raw for the
// next call
func (o *OverflowTracker) Decode(f *Field, raw uint64) float64 {
	x := subfield(raw, f.Begin, f.End)
	if subfield(o.last, f.Begin, f.End) > x {
		o.wraps++
	}
	o.last = raw
	limit := float64(Mask(0, f.End-f.Begin)) + 1
	return (float64(x) + limit*float64(o.wraps)) * f.Scalar
}

// Wraps returns how many times the counter has wrapped
func (o *OverflowTracker) Wraps() uint64 {
	return o.wraps
}
