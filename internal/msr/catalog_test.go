// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package msr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

const raplUnitJSON = `{
    "msrs": {
        "PKG_RAPL_UNIT": {
            "offset": "0x606",
            "fields": {
                "POWER": {
                    "begin_bit": 0,
                    "end_bit":   3,
                    "function":  "log_half",
                    "units":     "watts",
                    "scalar":    8.0,
                    "writeable": false
                }
            }
        }
    }
}`

func TestLookupSkylake(t *testing.T) {
	cat, err := Lookup(ModelSKX)
	require.NoError(t, err)
	assert.Equal(t, ModelSKX, cat.ModelID())

	regs := cat.Registers()
	require.NotEmpty(t, regs)
	assert.Equal(t, "TIME_STAMP_COUNTER", regs[0].Name(), "architectural registers come first")

	perfCtl, ok := cat.Register("PERF_CTL")
	require.True(t, ok)
	assert.Equal(t, uint64(0x199), perfCtl.Offset())
	assert.Equal(t, topology.DomainCore, perfCtl.Domain())

	idx := perfCtl.ControlIndex("FREQ")
	require.Equal(t, 0, idx)
	freq := perfCtl.Control(idx)
	assert.Equal(t, 8, freq.Begin)
	assert.Equal(t, 16, freq.End)
	assert.Equal(t, 1e8, freq.Scalar)
	assert.Equal(t, FunctionScale, freq.Function)
	assert.Equal(t, 0, perfCtl.SignalIndex("FREQ"), "writeable fields are also signals")
	assert.Equal(t, -1, perfCtl.ControlIndex("freq"), "lookup is case sensitive")

	limit, ok := cat.Register("PKG_POWER_LIMIT")
	require.True(t, ok)
	assert.Equal(t, topology.DomainPackage, limit.Domain())
	window := limit.Control(limit.ControlIndex("PL1_TIME_WINDOW"))
	assert.Equal(t, Function7BitFloat, window.Function)
	assert.Equal(t, 17, window.Begin)
	assert.Equal(t, 24, window.End)
	assert.Equal(t, -1, limit.ControlIndex("LOCK"), "read only field")
	assert.GreaterOrEqual(t, limit.SignalIndex("LOCK"), 0)

	energy, ok := cat.Register("PKG_ENERGY_STATUS")
	require.True(t, ok)
	assert.Equal(t, FunctionOverflow, energy.Signal(0).Function)
	assert.Equal(t, "sum", energy.Signal(0).Aggregation)

	_, ok = cat.Register("TURBO_RATIO_LIMIT")
	assert.True(t, ok)
}

func TestLookupKnightsLanding(t *testing.T) {
	cat, err := Lookup(ModelKNL)
	require.NoError(t, err)

	perfCtl, ok := cat.Register("PERF_CTL")
	require.True(t, ok)
	assert.Equal(t, 1, perfCtl.ControlIndex("TURBO_DISENGAGE"))
	assert.Equal(t, topology.DomainPackage, perfCtl.Domain())

	_, ok = cat.Register("PPERF")
	assert.False(t, ok)
}

func TestLookupUnsupported(t *testing.T) {
	for _, id := range []int{0, ModelSNB, ModelICX, 0x123} {
		_, err := Lookup(id)
		assert.ErrorIs(t, err, pioerr.ErrUnsupported, "model 0x%X", id)
	}
}

func TestLookupFromCPUID(t *testing.T) {
	// Kaby Lake desktop stepping 9
	id := ModelIDFromEAX(0x000906E9)
	assert.Equal(t, 0x69E, id)
	assert.Equal(t, ModelKBLClient, id)

	cat, err := Lookup(id)
	require.NoError(t, err)
	skx, err := Lookup(ModelSKX)
	require.NoError(t, err)

	require.Len(t, cat.Registers(), len(skx.Registers()))
	for i, r := range cat.Registers() {
		assert.Equal(t, skx.Registers()[i].Name(), r.Name())
	}
}

func TestSupportedModels(t *testing.T) {
	models := SupportedModels()
	assert.Contains(t, models, ModelSKX)
	assert.Contains(t, models, ModelKNL)
	for i := 1; i < len(models); i++ {
		assert.Less(t, models[i-1], models[i])
	}
}

func TestParseTable(t *testing.T) {
	t.Run("json custom table", func(t *testing.T) {
		regs, err := ParseTable(strings.NewReader(raplUnitJSON))
		require.NoError(t, err)
		require.Len(t, regs, 1)

		r := regs[0]
		assert.Equal(t, "PKG_RAPL_UNIT", r.Name())
		assert.Equal(t, topology.DomainPackage, r.Domain(), "domain inferred from PKG_ prefix")
		assert.Equal(t, 0, r.NumControl())

		power := r.Signal(r.SignalIndex("POWER"))
		assert.Equal(t, 0, power.Begin)
		assert.Equal(t, 4, power.End, "table end bit is inclusive")
		assert.Equal(t, 1.0, power.Decode(0x3))
	})

	t.Run("yaml keeps field order", func(t *testing.T) {
		regs, err := ParseTable(strings.NewReader(`
msrs:
  DRAM_THING:
    offset: "0x700"
    fields:
      ZETA: {begin_bit: 0, end_bit: 7, function: scale, writeable: true}
      ALPHA: {begin_bit: 8, end_bit: 15, function: scale, writeable: true}
  OTHER:
    offset: "1800"
    fields:
      X: {begin_bit: 0, end_bit: 63, function: overflow}
`))
		require.NoError(t, err)
		require.Len(t, regs, 2)
		assert.Equal(t, topology.DomainBoardMemory, regs[0].Domain())
		assert.Equal(t, "ZETA", regs[0].Control(0).Name)
		assert.Equal(t, "ALPHA", regs[0].Control(1).Name)
		assert.Equal(t, 1.0, regs[0].Control(0).Scalar, "scalar defaults to 1")
		assert.Equal(t, uint64(1800), regs[1].Offset())
		assert.Equal(t, topology.DomainCPU, regs[1].Domain())
		assert.Equal(t, 64, regs[1].Signal(0).End)
	})

	errCases := []struct {
		name  string
		table string
	}{
		{"not yaml", "msrs: [unterminated"},
		{"missing msrs", `{"registers": {}}`},
		{"bad offset", `{"msrs": {"A": {"offset": "zz", "fields": {"F": {"begin_bit": 0, "end_bit": 1, "function": "scale"}}}}}`},
		{"bad function", `{"msrs": {"A": {"offset": "0x1", "fields": {"F": {"begin_bit": 0, "end_bit": 1, "function": "cubic"}}}}}`},
		{"reversed bits", `{"msrs": {"A": {"offset": "0x1", "fields": {"F": {"begin_bit": 5, "end_bit": 2, "function": "scale"}}}}}`},
		{"bits past 64", `{"msrs": {"A": {"offset": "0x1", "fields": {"F": {"begin_bit": 60, "end_bit": 64, "function": "scale"}}}}}`},
		{"bad domain", `{"msrs": {"A": {"offset": "0x1", "domain": "socket", "fields": {"F": {"begin_bit": 0, "end_bit": 1, "function": "scale"}}}}}`},
		{"no fields", `{"msrs": {"A": {"offset": "0x1"}}}`},
		{"colon in name", `{"msrs": {"A:B": {"offset": "0x1", "fields": {"F": {"begin_bit": 0, "end_bit": 1, "function": "scale"}}}}}`},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTable(strings.NewReader(tc.table))
			assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)
		})
	}
}

func TestNewRegisterDuplicateField(t *testing.T) {
	f := Field{Name: "F", Begin: 0, End: 8, Scalar: 1}
	_, err := NewRegister("R", 0x10, topology.DomainCPU, []Field{f, f}, nil)
	assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)

	// the same name may be both a signal and a control
	r, err := NewRegister("R", 0x10, topology.DomainCPU, []Field{f}, []Field{f})
	require.NoError(t, err)
	assert.Equal(t, 0, r.SignalIndex("F"))
	assert.Equal(t, 0, r.ControlIndex("F"))
}

func TestCatalogLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msr_rapl.json"), []byte(raplUnitJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte("not a table"), 0o644))

	cat, err := Lookup(ModelSKX)
	require.NoError(t, err)
	before := len(cat.Registers())

	files, err := cat.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "msr_rapl.json")}, files)
	assert.Len(t, cat.Registers(), before+1)

	_, ok := cat.Register("PKG_RAPL_UNIT")
	assert.True(t, ok)

	t.Run("duplicate register", func(t *testing.T) {
		dup := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dup, "msr_dup.yaml"), []byte(`
msrs:
  PERF_CTL:
    offset: "0x199"
    fields:
      FREQ: {begin_bit: 8, end_bit: 15, function: scale, scalar: 1e8, writeable: true}
`), 0o644))
		_, err := cat.LoadDir(dup)
		assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, cat.LoadFile(filepath.Join(dir, "nope.json")))
	})
}

func TestInferDomain(t *testing.T) {
	assert.Equal(t, topology.DomainPackage, InferDomain("PKG_ENERGY_STATUS"))
	assert.Equal(t, topology.DomainBoardMemory, InferDomain("DRAM_POWER_LIMIT"))
	assert.Equal(t, topology.DomainCPU, InferDomain("PERF_CTL"))
	assert.Equal(t, topology.DomainCPU, InferDomain("pkg_lowercase"))
}

func TestModelIDFromEAX(t *testing.T) {
	tt := []struct {
		name     string
		eax      uint32
		expected int
	}{
		{"kaby lake client", 0x000906E9, 0x69E},
		{"skylake server", 0x00050654, ModelSKX},
		{"knights landing", 0x00050671, ModelKNL},
		{"sandy bridge server", 0x000206D7, ModelSNB},
		{"family 15 folds extended family", 0x00100F42, ((15 + 1) << 8) + 0x04},
		{"other family ignores extended model", 0x00810581, (5 << 8) + 0x08},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ModelIDFromEAX(tc.eax))
		})
	}
}

func TestParseModelID(t *testing.T) {
	for _, s := range []string{"0x655", "655", " 0X655 "} {
		id, err := ParseModelID(s)
		require.NoError(t, err)
		assert.Equal(t, ModelSKX, id)
	}
	_, err := ParseModelID("skylake")
	assert.ErrorIs(t, err, pioerr.ErrInvalidArgument)
}

func TestCurrentModelID(t *testing.T) {
	// whatever the host is, the id is built from family and model
	assert.GreaterOrEqual(t, CurrentModelID(), 0)
}
