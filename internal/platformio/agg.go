// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"math"
	"slices"
	"strings"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// AggFunc combines the values of one signal read on several CPUs
type AggFunc func(values []float64) float64

// Aggregation function names usable in register tables
const (
	AggSum         = "sum"
	AggAverage     = "average"
	AggMedian      = "median"
	AggMin         = "min"
	AggMax         = "max"
	AggExpectSame  = "expect_same"
	AggLogicalAnd  = "logical_and"
	AggLogicalOr   = "logical_or"
	AggSelectFirst = "select_first"
)

var aggFuncs = map[string]AggFunc{
	AggSum:         aggSum,
	AggAverage:     aggAverage,
	AggMedian:      aggMedian,
	AggMin:         aggMin,
	AggMax:         aggMax,
	AggExpectSame:  aggExpectSame,
	AggLogicalAnd:  aggLogicalAnd,
	AggLogicalOr:   aggLogicalOr,
	AggSelectFirst: aggSelectFirst,
}

// ParseAgg returns the aggregation function with the given name. An empty
// name selects the first value.
func ParseAgg(name string) (AggFunc, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return aggSelectFirst, nil
	}
	fn, ok := aggFuncs[name]
	if !ok {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, "ParseAgg", "unknown aggregation function %q", name)
	}
	return fn, nil
}

func aggSum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

func aggAverage(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return aggSum(values) / float64(len(values))
}

func aggMedian(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func aggMin(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return slices.Min(values)
}

func aggMax(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return slices.Max(values)
}

// aggExpectSame returns the common value, or NaN when the values differ
func aggExpectSame(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return math.NaN()
		}
	}
	return values[0]
}

func aggLogicalAnd(values []float64) float64 {
	for _, v := range values {
		if v == 0 {
			return 0
		}
	}
	return 1
}

func aggLogicalOr(values []float64) float64 {
	for _, v := range values {
		if v != 0 {
			return 1
		}
	}
	return 0
}

func aggSelectFirst(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[0]
}
