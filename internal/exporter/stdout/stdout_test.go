// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/msrio/internal/monitor"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// MockMonitor mocks the Monitor interface
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Init() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMonitor) Run(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMonitor) Shutdown() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMonitor) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMonitor) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*monitor.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMonitor) DataChannel() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockMonitor) SignalNames() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

// syncBuffer is a WriteCloser safe to read while the exporter writes
type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testSnapshot() *monitor.Snapshot {
	s := monitor.NewSnapshot()
	s.Signals["FREQUENCY"] = &monitor.Signal{
		Name:   "FREQUENCY",
		Units:  "hertz",
		Domain: topology.DomainCPU,
		Values: []float64{2.4e9, 1.6e9},
		Total:  2.0e9,
	}
	s.Signals["ENERGY_PACKAGE"] = &monitor.Signal{
		Name:     "ENERGY_PACKAGE",
		Units:    "joules",
		Behavior: "monotone",
		Domain:   topology.DomainPackage,
		Values:   []float64{12.5},
		Total:    12.5,
		Rates:    []float64{4.25},
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewExporter(t *testing.T) {
	sm := &MockMonitor{}

	exporter := NewExporter(sm)
	assert.Equal(t, "stdout", exporter.Name())
	assert.Same(t, sm, exporter.monitor)
	assert.Same(t, os.Stdout, exporter.out)
	assert.Equal(t, 2*time.Second, exporter.interval)

	out := &syncBuffer{}
	exporter = NewExporter(sm, WithLogger(discardLogger()), WithOutput(out), WithInterval(20*time.Second))
	assert.Same(t, out, exporter.out)
	assert.Equal(t, 20*time.Second, exporter.interval)
}

func TestExporter_Init(t *testing.T) {
	exporter := NewExporter(&MockMonitor{}, WithInterval(0), WithOutput(&syncBuffer{}))
	assert.Error(t, exporter.Init())
}

func TestExporter_InitRunShutdown(t *testing.T) {
	sm := &MockMonitor{}
	sm.On("Snapshot").Return(nil, errors.New("not ready")).Once()
	sm.On("Snapshot").Return(testSnapshot(), nil)

	out := &syncBuffer{}
	exporter := NewExporter(sm, WithLogger(discardLogger()), WithOutput(out), WithInterval(10*time.Millisecond))
	require.NoError(t, exporter.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exporter.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("ENERGY_PACKAGE"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, exporter.Shutdown())
	assert.True(t, out.closed)
}

func TestWrite(t *testing.T) {
	buf := bytes.Buffer{}
	write(&buf, testSnapshot())
	table := buf.String()

	assert.Contains(t, table, "2.4e+09")
	assert.Contains(t, table, "1.6e+09")
	assert.Contains(t, table, "4.25")
	assert.Contains(t, table, "12.5")
	assert.Contains(t, table, "hertz")

	// signals are sorted by name
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("ENERGY_PACKAGE")), bytes.Index(buf.Bytes(), []byte("FREQUENCY")))
}
