// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sustainable-computing-io/msrio/config"
	"github.com/sustainable-computing-io/msrio/internal/device"
	"github.com/sustainable-computing-io/msrio/internal/msr"
	"github.com/sustainable-computing-io/msrio/internal/platformio"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

const (
	offPerfStatus = 0x198
	offPkgEnergy  = 0x611
	offPowerInfo  = 0x614
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPIO returns a PlatformIO over two packages of two cores with
// energy, frequency and power info registers
func newTestPIO(t *testing.T) (*platformio.PlatformIO, *device.FakeMSRIO) {
	t.Helper()
	topo, err := topology.New(2, 2, 1, [][]int{{0, 1}, {2, 3}})
	require.NoError(t, err)
	catalog, err := msr.Lookup(msr.ModelSKX)
	require.NoError(t, err)

	dev := device.NewFakeMSRIO(topo.NumCPU(),
		device.WithFakeRegister(offPerfStatus, 0x1800),
		device.WithFakeRegister(offPkgEnergy, 0x10000),
		device.WithFakeRegister(offPowerInfo, 0x4B0),
	)
	dev.Set(3, offPerfStatus, 0x1000)

	pio, err := platformio.New(topo, dev, catalog,
		platformio.WithLogger(discardLogger()),
		platformio.WithFixedCounters(false),
		platformio.WithCpufreq(nil))
	require.NoError(t, err)
	return pio, dev
}

var testSignals = []string{"ENERGY_PACKAGE", "FREQUENCY", "POWER_PACKAGE_TDP_TOTAL"}

func TestNewSignalMonitor(t *testing.T) {
	pio, _ := newTestPIO(t)
	sm := NewSignalMonitor(pio, WithLogger(discardLogger()))

	assert.Equal(t, "monitor", sm.Name())
	assert.NotNil(t, sm.dataCh)
	assert.Nil(t, sm.snapshot.Load())
	assert.Equal(t, signalNames(DefaultOpts().groups, nil), sm.names)
}

func TestSignalNames(t *testing.T) {
	tests := []struct {
		name     string
		groups   config.Group
		extra    []string
		expected []string
	}{{
		name:     "no groups",
		extra:    []string{"FREQUENCY"},
		expected: []string{"FREQUENCY"},
	}, {
		name:     "energy",
		groups:   config.GroupEnergy,
		expected: []string{"ENERGY_PACKAGE", "ENERGY_DRAM"},
	}, {
		name:     "extra signals are not repeated",
		groups:   config.GroupEnergy | config.GroupThermal,
		extra:    []string{"ENERGY_DRAM", "PERF_STATUS:FREQ"},
		expected: []string{"ENERGY_PACKAGE", "ENERGY_DRAM", "TEMPERATURE_CORE_UNDER", "TEMPERATURE_PKG_UNDER", "TEMPERATURE_MAX", "PERF_STATUS:FREQ"},
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, signalNames(tc.groups, tc.extra))
		})
	}
}

func TestSignalMonitor_Init(t *testing.T) {
	t.Run("skips unknown signals", func(t *testing.T) {
		pio, _ := newTestPIO(t)
		sm := NewSignalMonitor(pio,
			WithLogger(discardLogger()),
			WithGroups(0),
			WithSignals(append([]string{"NOT_A_SIGNAL"}, testSignals...)...))

		require.NoError(t, sm.Init())
		assert.Equal(t, testSignals, sm.SignalNames())

		select {
		case <-sm.DataChannel():
		default:
			t.Fatal("expected data channel to be signalled after Init")
		}

		// one handle per instance of the register domain
		require.Len(t, sm.sampled, 3)
		assert.Len(t, sm.sampled[0].handles, 2)
		assert.Len(t, sm.sampled[1].handles, 4)
		assert.Len(t, sm.sampled[2].handles, 2)
	})

	t.Run("nothing to sample", func(t *testing.T) {
		pio, _ := newTestPIO(t)
		sm := NewSignalMonitor(pio, WithLogger(discardLogger()), WithGroups(0), WithSignals("NOPE"))
		assert.Error(t, sm.Init())
	})

	t.Run("push failure", func(t *testing.T) {
		topo, err := topology.New(1, 1, 1, nil)
		require.NoError(t, err)

		pio := &MockPlatformIO{}
		pio.On("Topology").Return(topo)
		pio.On("IsValidSignal", "FREQUENCY").Return(true)
		pio.On("SignalInfo", "FREQUENCY").Return(platformio.Info{Name: "FREQUENCY", Domain: topology.DomainCPU}, nil)
		pio.On("AggFunc", "FREQUENCY").Return(platformio.AggFunc(func([]float64) float64 { return 0 }), nil)
		pio.On("PushSignal", "FREQUENCY", topology.DomainCPU, 0).Return(-1, errors.New("push failed"))

		sm := NewSignalMonitor(pio, WithLogger(discardLogger()), WithGroups(0), WithSignals("FREQUENCY"))
		err = sm.Init()
		assert.ErrorContains(t, err, "push failed")
		pio.AssertExpectations(t)
	})
}

func TestSignalMonitor_Snapshot(t *testing.T) {
	pio, dev := newTestPIO(t)
	fakeClock := testingclock.NewFakeClock(time.Now())
	sm := NewSignalMonitor(pio,
		WithLogger(discardLogger()),
		WithClock(fakeClock),
		WithGroups(0),
		WithSignals(testSignals...))
	require.NoError(t, sm.Init())

	t.Run("first read", func(t *testing.T) {
		snapshot, err := sm.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, fakeClock.Now(), snapshot.Timestamp)

		energy := snapshot.Signals["ENERGY_PACKAGE"]
		require.NotNil(t, energy)
		assert.Equal(t, "joules", energy.Units)
		assert.Equal(t, topology.DomainPackage, energy.Domain)
		assert.True(t, energy.Monotone())
		assert.Equal(t, []float64{4, 4}, energy.Values)
		assert.Equal(t, 8.0, energy.Total)
		assert.Nil(t, energy.Rates)

		freq := snapshot.Signals["FREQUENCY"]
		require.NotNil(t, freq)
		assert.Equal(t, []float64{2.4e9, 2.4e9, 2.4e9, 1.6e9}, freq.Values)
		assert.InDelta(t, 2.2e9, freq.Total, 1)

		tdp := snapshot.Signals["POWER_PACKAGE_TDP_TOTAL"]
		require.NotNil(t, tdp)
		assert.Equal(t, []float64{150, 150}, tdp.Values)
		assert.Equal(t, 300.0, tdp.Total)
	})

	t.Run("fresh data is not read again", func(t *testing.T) {
		_, err := sm.Snapshot()
		require.NoError(t, err)
		reads, _ := dev.BatchCalls()
		assert.Equal(t, 1, reads)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		snapshot, err := sm.Snapshot()
		require.NoError(t, err)
		snapshot.Signals["FREQUENCY"].Values[0] = 0
		delete(snapshot.Signals, "ENERGY_PACKAGE")

		again, err := sm.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, 2.4e9, again.Signals["FREQUENCY"].Values[0])
		assert.Contains(t, again.Signals, "ENERGY_PACKAGE")
	})

	t.Run("stale data is read again", func(t *testing.T) {
		dev.Set(0, offPkgEnergy, 0x30000)
		dev.Set(2, offPkgEnergy, 0x20000)
		fakeClock.Step(2 * time.Second)

		snapshot, err := sm.Snapshot()
		require.NoError(t, err)
		reads, _ := dev.BatchCalls()
		assert.Equal(t, 2, reads)

		energy := snapshot.Signals["ENERGY_PACKAGE"]
		assert.Equal(t, []float64{12, 8}, energy.Values)
		assert.Equal(t, []float64{4, 2}, energy.Rates)
		assert.Nil(t, snapshot.Signals["POWER_PACKAGE_TDP_TOTAL"].Rates)
	})
}

func TestSignalMonitor_ReadFailure(t *testing.T) {
	topo, err := topology.New(1, 1, 1, nil)
	require.NoError(t, err)

	pio := &MockPlatformIO{}
	pio.On("Topology").Return(topo)
	pio.On("IsValidSignal", "FREQUENCY").Return(true)
	pio.On("SignalInfo", "FREQUENCY").Return(platformio.Info{Name: "FREQUENCY", Domain: topology.DomainCPU}, nil)
	pio.On("AggFunc", "FREQUENCY").Return(platformio.AggFunc(func(v []float64) float64 { return v[0] }), nil)
	pio.On("PushSignal", "FREQUENCY", topology.DomainCPU, 0).Return(0, nil)
	pio.On("ReadBatch").Return(errors.New("ioctl failed")).Once()
	pio.On("ReadBatch").Return(nil)
	pio.On("Sample", 0).Return(2.0e9, nil)

	sm := NewSignalMonitor(pio, WithLogger(discardLogger()), WithGroups(0), WithSignals("FREQUENCY"))
	require.NoError(t, sm.Init())

	_, err = sm.Snapshot()
	assert.ErrorContains(t, err, "ioctl failed")

	snapshot, err := sm.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2.0e9, snapshot.Signals["FREQUENCY"].Total)
	pio.AssertExpectations(t)
}

func TestSignalMonitor_Run(t *testing.T) {
	pio, dev := newTestPIO(t)
	fakeClock := testingclock.NewFakeClock(time.Now())
	sm := NewSignalMonitor(pio,
		WithLogger(discardLogger()),
		WithClock(fakeClock),
		WithInterval(time.Second),
		WithGroups(0),
		WithSignals(testSignals...))
	require.NoError(t, sm.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sm.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		reads, _ := dev.BatchCalls()
		return reads == 1 && fakeClock.HasWaiters()
	}, time.Second, 5*time.Millisecond)

	fakeClock.Step(time.Second)
	assert.Eventually(t, func() bool {
		reads, _ := dev.BatchCalls()
		return reads == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, sm.Shutdown())
}

func TestSignalMonitor_Options(t *testing.T) {
	opts := DefaultOpts()
	WithMaxStaleness(time.Minute)(&opts)
	WithInterval(3 * time.Second)(&opts)
	WithGroups(config.GroupCounters)(&opts)
	WithSignals("A", "B")(&opts)

	assert.Equal(t, time.Minute, opts.maxStaleness)
	assert.Equal(t, 3*time.Second, opts.interval)
	assert.Equal(t, config.GroupCounters, opts.groups)
	assert.Equal(t, []string{"A", "B"}, opts.signals)

}
