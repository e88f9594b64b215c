// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// fakeDevDir lays out dev/cpu/<N>/<name> files under a temp dir and returns
// the msr_safe, msr and batch device paths
type fakeDevDir struct {
	root string
}

func newFakeDevDir(t *testing.T) *fakeDevDir {
	t.Helper()
	return &fakeDevDir{root: t.TempDir()}
}

func (d *fakeDevDir) safePath() string  { return filepath.Join(d.root, "dev", "cpu", "%d", "msr_safe") }
func (d *fakeDevDir) msrPath() string   { return filepath.Join(d.root, "dev", "cpu", "%d", "msr") }
func (d *fakeDevDir) batchPath() string { return filepath.Join(d.root, "dev", "cpu", "msr_batch") }

// writeMSR stores value as little endian uint64 at the register offset,
// the way the msr driver exposes it
func writeMSR(t *testing.T, path string, offset, value uint64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer func() { assert.NoError(t, f.Close()) }()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	_, err = f.WriteAt(buf[:], int64(offset))
	require.NoError(t, err)
}

func readMSR(t *testing.T, path string, offset uint64) uint64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { assert.NoError(t, f.Close()) }()

	var buf [8]byte
	_, err = f.ReadAt(buf[:], int64(offset))
	require.NoError(t, err)
	return binary.LittleEndian.Uint64(buf[:])
}

func newTestMSRIO(t *testing.T, d *fakeDevDir, numCPU int) *msrIO {
	t.Helper()
	m, err := NewMSRIO(numCPU,
		WithDevicePaths(d.safePath(), d.msrPath(), d.batchPath()),
		WithLogger(slog.Default()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, m.Close()) })
	return m
}

func TestNewMSRIO(t *testing.T) {
	_, err := NewMSRIO(0)
	assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)

	m, err := NewMSRIO(4)
	require.NoError(t, err)
	assert.Equal(t, DefaultMSRSafePath, m.safePath)
	assert.Equal(t, DefaultMSRPath, m.path)
	assert.Equal(t, DefaultMSRBatchPath, m.batchPath)
}

func TestMSRIORead(t *testing.T) {
	tests := []struct {
		name     string
		safe     bool
		msr      bool
		expected uint64
		kind     pioerr.Kind
	}{
		{name: "prefers msr_safe", safe: true, msr: true, expected: 0x1111},
		{name: "falls back to msr", safe: false, msr: true, expected: 0x2222},
		{name: "no device", kind: pioerr.KindIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDevDir(t)
			if tt.safe {
				writeMSR(t, fmt.Sprintf(d.safePath(), 0), 0x611, 0x1111)
			}
			if tt.msr {
				writeMSR(t, fmt.Sprintf(d.msrPath(), 0), 0x611, 0x2222)
			}
			m := newTestMSRIO(t, d, 1)

			v, err := m.Read(0, 0x611)
			if tt.kind != pioerr.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.kind, pioerr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestMSRIOReadErrors(t *testing.T) {
	d := newFakeDevDir(t)
	writeMSR(t, fmt.Sprintf(d.msrPath(), 0), 0x10, 42)
	m := newTestMSRIO(t, d, 2)

	t.Run("cpu out of range", func(t *testing.T) {
		_, err := m.Read(2, 0x10)
		assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)
		_, err = m.Read(-1, 0x10)
		assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)
	})

	t.Run("short read", func(t *testing.T) {
		_, err := m.Read(0, 0x1000)
		require.Error(t, err)
		assert.Equal(t, pioerr.KindIO, pioerr.KindOf(err))
		assert.Contains(t, err.Error(), "offset 0x1000")
		assert.Contains(t, err.Error(), "cpu 0")
	})

	t.Run("cpu without device", func(t *testing.T) {
		_, err := m.Read(1, 0x10)
		assert.ErrorIs(t, err, pioerr.ErrIO)
	})
}

func TestMSRIOWrite(t *testing.T) {
	d := newFakeDevDir(t)
	path := fmt.Sprintf(d.safePath(), 0)
	writeMSR(t, path, 0x199, 0xFFFF_0000_0000_1234)
	m := newTestMSRIO(t, d, 1)

	// only the masked bits change
	require.NoError(t, m.Write(0, 0x199, 0x0A00, 0xFF00))
	assert.Equal(t, uint64(0xFFFF_0000_0000_0A34), readMSR(t, path, 0x199))

	v, err := m.Read(0, 0x199)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFFFF_0000_0000_0A34), v)

	err = m.Write(0, 0x199, 0x1_0000, 0xFF00)
	assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)
	assert.Equal(t, uint64(0xFFFF_0000_0000_0A34), readMSR(t, path, 0x199), "rejected write leaves the register untouched")
}

func TestMSRIOBatchFallback(t *testing.T) {
	d := newFakeDevDir(t)
	for cpu := 0; cpu < 2; cpu++ {
		path := fmt.Sprintf(d.msrPath(), cpu)
		writeMSR(t, path, 0x10, uint64(100+cpu))
		writeMSR(t, path, 0x618, uint64(200+cpu))
		writeMSR(t, path, 0x610, 0xFFFF_FFFF_FFFF_FFFF)
	}
	m := newTestMSRIO(t, d, 2)

	reads := []ReadOp{{CPU: 1, Offset: 0x618}, {CPU: 0, Offset: 0x10}, {CPU: 0, Offset: 0x618}}
	writes := []WriteOp{{CPU: 0, Offset: 0x610, Mask: 0x7FFF}, {CPU: 1, Offset: 0x610, Mask: 0xFF_0000}}
	require.NoError(t, m.ConfigBatch(reads, writes))

	out := make([]uint64, len(reads))
	require.NoError(t, m.ReadBatch(out))
	assert.Equal(t, []uint64{201, 100, 200}, out)
	assert.True(t, m.batchDisabled, "missing batch device disables batching")

	require.NoError(t, m.WriteBatch([]uint64{0x0123, 0x45_0000}))
	assert.Equal(t, uint64(0xFFFF_FFFF_FFFF_8123), readMSR(t, fmt.Sprintf(d.msrPath(), 0), 0x610))
	assert.Equal(t, uint64(0xFFFF_FFFF_FF45_FFFF), readMSR(t, fmt.Sprintf(d.msrPath(), 1), 0x610))

	t.Run("buffers too small", func(t *testing.T) {
		assert.ErrorIs(t, m.ReadBatch(make([]uint64, 2)), pioerr.ErrInvalidArgument)
		assert.ErrorIs(t, m.WriteBatch(nil), pioerr.ErrInvalidArgument)
	})

	t.Run("reconfigure replaces", func(t *testing.T) {
		require.NoError(t, m.ConfigBatch([]ReadOp{{CPU: 1, Offset: 0x10}}, nil))
		out := make([]uint64, 1)
		require.NoError(t, m.ReadBatch(out))
		assert.Equal(t, uint64(101), out[0])
		assert.NoError(t, m.WriteBatch(nil))
	})

	t.Run("cpu out of range", func(t *testing.T) {
		assert.ErrorIs(t, m.ConfigBatch([]ReadOp{{CPU: 2, Offset: 0x10}}, nil), pioerr.ErrInvalidArgument)
		assert.ErrorIs(t, m.ConfigBatch(nil, []WriteOp{{CPU: -1, Offset: 0x10}}), pioerr.ErrInvalidArgument)
	})
}

func TestMSRIOBatchDeviceError(t *testing.T) {
	d := newFakeDevDir(t)
	writeMSR(t, fmt.Sprintf(d.msrPath(), 0), 0x10, 1)
	// a regular file opens but rejects the ioctl
	require.NoError(t, os.WriteFile(d.batchPath(), nil, 0o644))
	m := newTestMSRIO(t, d, 1)

	require.NoError(t, m.ConfigBatch([]ReadOp{{CPU: 0, Offset: 0x10}}, nil))
	err := m.ReadBatch(make([]uint64, 1))
	require.Error(t, err)
	assert.Equal(t, pioerr.KindIO, pioerr.KindOf(err))
	assert.Contains(t, err.Error(), "msr_batch")
}

func TestMSRIOWriteBatchMask(t *testing.T) {
	tests := []struct {
		name  string
		batch bool
	}{
		{"per op", false},
		{"batch device", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newFakeDevDir(t)
			path := fmt.Sprintf(d.msrPath(), 0)
			writeMSR(t, path, 0x610, 0)
			writeMSR(t, path, 0x618, 0)
			if tc.batch {
				require.NoError(t, os.WriteFile(d.batchPath(), nil, 0o644))
			}
			m := newTestMSRIO(t, d, 1)

			writes := []WriteOp{{CPU: 0, Offset: 0x610, Mask: 0xFF}, {CPU: 0, Offset: 0x618, Mask: 0xFF}}
			require.NoError(t, m.ConfigBatch(nil, writes))

			err := m.WriteBatch([]uint64{0x12, 0x1FF})
			assert.Equal(t, pioerr.KindInvalidArgument, pioerr.KindOf(err))
			assert.Zero(t, readMSR(t, path, 0x610), "no register is written")
			assert.Zero(t, readMSR(t, path, 0x618))
		})
	}
}

func TestMSRBatchLayout(t *testing.T) {
	assert.Equal(t, uintptr(32), unsafe.Sizeof(batchOp{}))
	assert.Equal(t, uintptr(16), unsafe.Sizeof(batchArray{}))
	assert.Equal(t, uintptr(0x10), unsafe.Offsetof(batchOp{}.MSRData))
	// _IOWR('c', 0xA2, struct msr_batch_array)
	assert.Equal(t, uintptr(0xC01063A2), msrBatchRequest)
}

func TestMSRIOClose(t *testing.T) {
	d := newFakeDevDir(t)
	writeMSR(t, fmt.Sprintf(d.msrPath(), 0), 0x10, 7)
	m, err := NewMSRIO(1, WithDevicePaths(d.safePath(), d.msrPath(), d.batchPath()))
	require.NoError(t, err)

	_, err = m.Read(0, 0x10)
	require.NoError(t, err)
	assert.Len(t, m.files, 1)

	require.NoError(t, m.Close())
	assert.Empty(t, m.files)

	// handles are reopened on demand
	v, err := m.Read(0, 0x10)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
	assert.NoError(t, m.Close())
}
