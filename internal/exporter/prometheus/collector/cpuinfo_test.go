// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProcFS struct {
	infos []procfs.CPUInfo
	err   error
}

func (m *mockProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return m.infos, m.err
}

func skylakeCPUInfo() []procfs.CPUInfo {
	info := func(processor uint, core string) procfs.CPUInfo {
		return procfs.CPUInfo{
			Processor:  processor,
			VendorID:   "GenuineIntel",
			CPUFamily:  "6",
			Model:      "85",
			ModelName:  "Intel(R) Xeon(R) Gold 6148 CPU @ 2.40GHz",
			PhysicalID: "0",
			CoreID:     core,
		}
	}
	return []procfs.CPUInfo{info(0, "0"), info(1, "1")}
}

func twoPackageCPUInfo() []procfs.CPUInfo {
	infos := skylakeCPUInfo()
	for i, core := range []string{"0", "1"} {
		ci := infos[i]
		ci.Processor = uint(2 + i)
		ci.PhysicalID = "1"
		ci.CoreID = core
		infos = append(infos, ci)
	}
	infos = append(infos, infos[0])
	infos[len(infos)-1].Processor = 4
	return infos
}

func TestNewCPUInfoCollector(t *testing.T) {
	c, err := NewCPUInfoCollector(t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, c.fs)
	assert.Contains(t, c.desc.String(), "msrio_node_package_info")
}

func TestCPUInfoCollector_Collect(t *testing.T) {
	tt := []struct {
		name     string
		infos    []procfs.CPUInfo
		expected string
	}{{
		name:  "single package",
		infos: skylakeCPUInfo(),
		expected: `
# HELP msrio_node_package_info Logical CPUs per package, labeled with the processor model from procfs
# TYPE msrio_node_package_info gauge
msrio_node_package_info{cpu_family="6",model="85",model_name="Intel(R) Xeon(R) Gold 6148 CPU @ 2.40GHz",package="0",vendor_id="GenuineIntel"} 2
`,
	}, {
		name:  "two packages",
		infos: twoPackageCPUInfo(),
		expected: `
# HELP msrio_node_package_info Logical CPUs per package, labeled with the processor model from procfs
# TYPE msrio_node_package_info gauge
msrio_node_package_info{cpu_family="6",model="85",model_name="Intel(R) Xeon(R) Gold 6148 CPU @ 2.40GHz",package="0",vendor_id="GenuineIntel"} 3
msrio_node_package_info{cpu_family="6",model="85",model_name="Intel(R) Xeon(R) Gold 6148 CPU @ 2.40GHz",package="1",vendor_id="GenuineIntel"} 2
`,
	}}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			c := newCPUInfoCollectorWithFS(&mockProcFS{infos: tc.infos})
			assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(tc.expected)))
		})
	}
}

func TestCPUInfoCollector_CollectError(t *testing.T) {
	c := newCPUInfoCollectorWithFS(&mockProcFS{err: errors.New("failed to read CPU info")})
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCPUInfoCollector_ConcurrentCollect(t *testing.T) {
	c := newCPUInfoCollectorWithFS(&mockProcFS{infos: skylakeCPUInfo()})

	const goroutines = 10
	ch := make(chan prometheus.Metric, goroutines)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Collect(ch)
		}()
	}
	wg.Wait()
	close(ch)
	assert.Len(t, ch, goroutines)
}
