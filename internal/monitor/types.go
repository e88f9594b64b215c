// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"
	"time"

	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// Signal holds the sampled values of one signal, one per instance of the
// domain of its register
type Signal struct {
	Name     string
	Units    string
	Behavior string
	Domain   topology.DomainType

	Values []float64 // indexed by domain index
	Total  float64   // board aggregate of Values

	// Rates is the change per second of Values since the previous snapshot,
	// set for monotone signals only
	Rates []float64
}

func (s *Signal) Clone() *Signal {
	ret := *s
	ret.Values = slices.Clone(s.Values)
	ret.Rates = slices.Clone(s.Rates)
	return &ret
}

// Monotone reports whether the signal only ever increases
func (s *Signal) Monotone() bool {
	return s.Behavior == "monotone"
}

// Signals maps signal names to their sampled values
type Signals = map[string]*Signal

// Snapshot encapsulates one batch read of every sampled signal
type Snapshot struct {
	Timestamp time.Time // Timestamp of the snapshot
	Signals   Signals
}

// NewSnapshot creates a new Snapshot instance
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Signals: make(Signals),
	}
}

func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Timestamp: s.Timestamp,
		Signals:   make(Signals, len(s.Signals)),
	}
	for name, sig := range s.Signals {
		clone.Signals[name] = sig.Clone()
	}
	return clone
}
