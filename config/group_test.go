// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseGroup(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected Group
		wantErr  bool
	}{
		{name: "empty selects all", input: nil, expected: GroupAll},
		{name: "single", input: []string{"energy"}, expected: GroupEnergy},
		{name: "case and spaces", input: []string{" Thermal ", "POWER"}, expected: GroupThermal | GroupPower},
		{name: "duplicates", input: []string{"counters", "counters"}, expected: GroupCounters},
		{name: "unknown", input: []string{"energy", "gpu"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseGroup(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestGroupString(t *testing.T) {
	assert.Equal(t, "energy,power,frequency,counters,thermal", GroupAll.String())
	assert.Equal(t, "frequency", GroupFrequency.String())
	assert.Equal(t, "", Group(0).String())
	assert.Equal(t, []string{"energy", "power", "frequency", "counters", "thermal"}, ValidGroups())
	assert.True(t, GroupAll.Has(GroupEnergy|GroupThermal))
	assert.False(t, GroupEnergy.Has(GroupEnergy|GroupThermal))
}

func TestGroupYAML(t *testing.T) {
	type wrapper struct {
		Groups Group `yaml:"groups"`
	}

	t.Run("single", func(t *testing.T) {
		var w wrapper
		require.NoError(t, yaml.Unmarshal([]byte("groups: power\n"), &w))
		assert.Equal(t, GroupPower, w.Groups)

		out, err := yaml.Marshal(w)
		require.NoError(t, err)
		assert.Equal(t, "groups: power\n", string(out))
	})

	t.Run("list round trip", func(t *testing.T) {
		in := wrapper{Groups: GroupEnergy | GroupCounters}
		out, err := yaml.Marshal(in)
		require.NoError(t, err)

		var w wrapper
		require.NoError(t, yaml.Unmarshal(out, &w))
		assert.Equal(t, in, w)
	})

	t.Run("invalid", func(t *testing.T) {
		var w wrapper
		assert.Error(t, yaml.Unmarshal([]byte("groups: [energy, gpu]\n"), &w))
		assert.Error(t, yaml.Unmarshal([]byte("groups: {a: b}\n"), &w))
	})
}

func TestGroupValue(t *testing.T) {
	g := GroupEnergy
	v := NewGroupValue(&g)
	assert.True(t, v.IsCumulative())

	require.NoError(t, v.Set("thermal"))
	assert.Equal(t, GroupThermal, g, "first value replaces the default")
	require.NoError(t, v.Set("power"))
	assert.Equal(t, GroupThermal|GroupPower, g)
	assert.Equal(t, "power,thermal", v.String())

	assert.Error(t, v.Set("bogus"))
}
