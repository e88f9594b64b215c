// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/msrio/internal/platformio"
	"github.com/sustainable-computing-io/msrio/internal/service"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// PlatformIO is the part of platformio.PlatformIO the monitor samples through
type PlatformIO interface {
	Topology() *topology.Topology
	IsValidSignal(name string) bool
	SignalInfo(name string) (platformio.Info, error)
	AggFunc(name string) (platformio.AggFunc, error)
	PushSignal(name string, domain topology.DomainType, idx int) (int, error)
	ReadBatch() error
	Sample(handle int) (float64, error)
}

type SignalDataProvider interface {
	// Snapshot returns the current signal values
	Snapshot() (*Snapshot, error)

	// DataChannel returns a channel that signals when new data is available
	DataChannel() <-chan struct{}

	// SignalNames returns the names of the sampled signals
	SignalNames() []string
}

// Service defines the interface for the signal monitoring service
type Service interface {
	service.Service
	SignalDataProvider
}

// sampled is one signal pushed once per instance of its domain
type sampled struct {
	info    platformio.Info
	agg     platformio.AggFunc
	handles []int // indexed by domain index
}

// SignalMonitor samples the configured signals through one batch session
type SignalMonitor struct {
	// passed externally
	logger *slog.Logger
	pio    PlatformIO

	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration
	names        []string

	// signals when a snapshot has been updated
	dataCh chan struct{}

	computeGroup singleflight.Group
	snapshot     atomic.Pointer[Snapshot]

	// set by Init, read-only afterwards
	sampled []*sampled

	// For managing the collection loop
	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var _ Service = (*SignalMonitor)(nil)

// NewSignalMonitor creates a new SignalMonitor instance
func NewSignalMonitor(pio PlatformIO, applyOpts ...OptionFn) *SignalMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SignalMonitor{
		logger:           opts.logger.With("service", "monitor"),
		pio:              pio,
		clock:            opts.clock,
		interval:         opts.interval,
		maxStaleness:     opts.maxStaleness,
		names:            signalNames(opts.groups, opts.signals),
		dataCh:           make(chan struct{}, 1),
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}
}

func (sm *SignalMonitor) Name() string {
	return "monitor"
}

// Init pushes every configured signal available on this platform
func (sm *SignalMonitor) Init() error {
	if err := sm.pushSignals(); err != nil {
		return fmt.Errorf("signal initialization failed: %w", err)
	}
	// signal now so that exporters can construct descriptors
	sm.signalNewData()
	return nil
}

func (sm *SignalMonitor) pushSignals() error {
	topo := sm.pio.Topology()
	for _, name := range sm.names {
		if !sm.pio.IsValidSignal(name) {
			sm.logger.Debug("Signal not available on this platform", "signal", name)
			continue
		}
		info, err := sm.pio.SignalInfo(name)
		if err != nil {
			return err
		}
		agg, err := sm.pio.AggFunc(name)
		if err != nil {
			return err
		}

		num, err := topo.NumDomain(info.Domain)
		if err != nil {
			sm.logger.Warn("Skipping signal with unsupported domain",
				"signal", name, "domain", info.Domain, "error", err)
			continue
		}
		s := &sampled{info: info, agg: agg, handles: make([]int, 0, num)}
		for idx := range num {
			cpus, err := topo.DomainCPUs(info.Domain, idx)
			if err != nil {
				return err
			}
			if len(cpus) == 0 {
				continue
			}
			h, err := sm.pio.PushSignal(name, topology.DomainCPU, cpus[0])
			if err != nil {
				return fmt.Errorf("failed to push %s: %w", name, err)
			}
			s.handles = append(s.handles, h)
		}
		sm.sampled = append(sm.sampled, s)
	}
	if len(sm.sampled) == 0 {
		return fmt.Errorf("none of the configured signals is available")
	}
	sm.logger.Info("Sampling signals", "count", len(sm.sampled))
	return nil
}

func (sm *SignalMonitor) signalNewData() {
	select {
	case sm.dataCh <- struct{}{}: // send signal to any waiting goroutine
		sm.logger.Debug("Data channel updated")
	default:
		sm.logger.Debug("Data channel is full")
	}
}

func (sm *SignalMonitor) Run(ctx context.Context) error {
	sm.logger.Info("Monitor is running...")
	sm.collectionLoop()
	<-ctx.Done()
	sm.collectionCancel()
	sm.logger.Info("Monitor has terminated.")
	return nil
}

func (sm *SignalMonitor) Shutdown() error {
	sm.logger.Info("shutting down monitor")
	sm.collectionCancel()
	return nil
}

func (sm *SignalMonitor) DataChannel() <-chan struct{} {
	return sm.dataCh
}

func (sm *SignalMonitor) SignalNames() []string {
	names := make([]string, len(sm.sampled))
	for i, s := range sm.sampled {
		names[i] = s.info.Name
	}
	return names
}

func (sm *SignalMonitor) Snapshot() (*Snapshot, error) {
	if err := sm.ensureFreshData(); err != nil {
		return nil, err
	}

	snapshot := sm.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

// collectionLoop handles periodic data collection
func (sm *SignalMonitor) collectionLoop() {
	if err := sm.synchronizedRefresh(); err != nil {
		sm.logger.Error("Failed to collect initial signal data", "error", err)
	}

	if sm.interval > 0 {
		sm.scheduleNextCollection()
	}
}

// scheduleNextCollection schedules the next data collection
func (sm *SignalMonitor) scheduleNextCollection() {
	timer := sm.clock.After(sm.interval)
	go func() {
		select {
		case <-timer:
			if err := sm.synchronizedRefresh(); err != nil {
				sm.logger.Error("Failed to collect signal data", "error", err)
			}
			sm.scheduleNextCollection()

		case <-sm.collectionCtx.Done():
			sm.logger.Info("Collection loop terminated")
			return
		}
	}()
}

// ensureFreshData ensures that the data returned is recent enough (< maxStaleness)
func (sm *SignalMonitor) ensureFreshData() error {
	if sm.isFresh() {
		return nil
	}
	return sm.synchronizedRefresh()
}

// synchronizedRefresh reads a new snapshot. The batch session is not safe
// for concurrent use, so only one goroutine reads at a time.
func (sm *SignalMonitor) synchronizedRefresh() error {
	_, err, _ := sm.computeGroup.Do("compute", func() (any, error) {
		// a concurrent caller may have refreshed while we waited
		if sm.isFresh() {
			return nil, nil
		}
		return nil, sm.refreshSnapshot()
	})
	return err
}

func (sm *SignalMonitor) isFresh() bool {
	snapshot := sm.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}

	age := sm.clock.Now().Sub(snapshot.Timestamp)
	return age <= sm.maxStaleness
}

// refreshSnapshot performs one batch read and publishes the samples
func (sm *SignalMonitor) refreshSnapshot() error {
	started := sm.clock.Now()
	defer func() {
		sm.logger.Debug("Sampled signals", "duration", sm.clock.Since(started))
	}()

	if err := sm.pio.ReadBatch(); err != nil {
		return fmt.Errorf("failed to read batch: %w", err)
	}

	now := sm.clock.Now()
	prev := sm.snapshot.Load()
	newSnapshot := NewSnapshot()
	for _, s := range sm.sampled {
		sig := &Signal{
			Name:     s.info.Name,
			Units:    s.info.Units,
			Behavior: s.info.Behavior,
			Domain:   s.info.Domain,
			Values:   make([]float64, len(s.handles)),
		}
		for i, h := range s.handles {
			v, err := sm.pio.Sample(h)
			if err != nil {
				return fmt.Errorf("failed to sample %s: %w", s.info.Name, err)
			}
			sig.Values[i] = v
		}
		sig.Total = s.agg(sig.Values)
		if prev != nil && sig.Monotone() {
			sig.Rates = rates(prev.Signals[sig.Name], sig, now.Sub(prev.Timestamp))
		}
		newSnapshot.Signals[sig.Name] = sig
	}

	newSnapshot.Timestamp = now
	sm.snapshot.Store(newSnapshot)
	sm.signalNewData()
	return nil
}

// rates returns the per second change of each value since prev
func rates(prev, cur *Signal, elapsed time.Duration) []float64 {
	if prev == nil || len(prev.Values) != len(cur.Values) || elapsed <= 0 {
		return nil
	}
	seconds := elapsed.Seconds()
	ret := make([]float64, len(cur.Values))
	for i := range cur.Values {
		ret[i] = (cur.Values[i] - prev.Values[i]) / seconds
	}
	return ret
}
