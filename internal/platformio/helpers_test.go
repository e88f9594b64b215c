// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package platformio

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/procfs/sysfs"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/msrio/internal/device"
	"github.com/sustainable-computing-io/msrio/internal/msr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// two packages of two single threaded cores
func newTestTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New(2, 2, 1, [][]int{{0, 1}, {2, 3}})
	require.NoError(t, err)
	return topo
}

func skxCatalog(t *testing.T) *msr.Catalog {
	t.Helper()
	c, err := msr.Lookup(msr.ModelSKX)
	require.NoError(t, err)
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPIO builds a PlatformIO over the SKX tables without fixed counter
// setup or cpufreq checks unless opts enable them
func newTestPIO(t *testing.T, dev device.MSRIO, opts ...OptionFn) *PlatformIO {
	t.Helper()
	return newTestPIOWithCatalog(t, dev, skxCatalog(t), opts...)
}

func newTestPIOWithCatalog(t *testing.T, dev device.MSRIO, catalog *msr.Catalog, opts ...OptionFn) *PlatformIO {
	t.Helper()
	all := append([]OptionFn{
		WithLogger(discardLogger()),
		WithFixedCounters(false),
		WithCpufreq(nil),
	}, opts...)
	p, err := New(newTestTopology(t), dev, catalog, all...)
	require.NoError(t, err)
	return p
}

type stubCpufreq struct {
	stats []sysfs.SystemCPUCpufreqStats
	err   error
	calls int
}

func (s *stubCpufreq) SystemCpufreq() ([]sysfs.SystemCPUCpufreqStats, error) {
	s.calls++
	return s.stats, s.err
}

// bufferLogger records log output for assertions
func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
