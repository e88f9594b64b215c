// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/msrio/config"
)

type Opts struct {
	logger       *slog.Logger
	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration
	groups       config.Group
	signals      []string
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:       slog.Default(),
		interval:     0 * time.Second, // no collection
		clock:        clock.RealClock{},
		maxStaleness: 500 * time.Millisecond,
		groups:       config.GroupEnergy | config.GroupPower | config.GroupFrequency,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithInterval sets the interval between batch reads
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithLogger sets the logger for the SignalMonitor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock of the SignalMonitor
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithMaxStaleness sets the age after which a snapshot is read again
func WithMaxStaleness(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxStaleness = d
	}
}

// WithGroups selects the signal groups to sample
func WithGroups(g config.Group) OptionFn {
	return func(o *Opts) {
		o.groups = g
	}
}

// WithSignals adds signals to sample on top of the groups
func WithSignals(names ...string) OptionFn {
	return func(o *Opts) {
		o.signals = append(o.signals, names...)
	}
}
