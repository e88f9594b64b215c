// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Group is a bit set of signal groups sampled by the monitor
type Group uint32

const (
	GroupEnergy    Group = 1 << iota // 1
	GroupPower                       // 2
	GroupFrequency                   // 4
	GroupCounters                    // 8
	GroupThermal                     // 16

	// GroupAll represents every signal group
	GroupAll = GroupEnergy | GroupPower | GroupFrequency | GroupCounters | GroupThermal
)

var groupNames = []struct {
	group Group
	name  string
}{
	{GroupEnergy, "energy"},
	{GroupPower, "power"},
	{GroupFrequency, "frequency"},
	{GroupCounters, "counters"},
	{GroupThermal, "thermal"},
}

// Has reports whether every group in g is enabled
func (l Group) Has(g Group) bool {
	return l&g == g
}

func (l Group) names() []string {
	var names []string
	for _, gn := range groupNames {
		if l.Has(gn.group) {
			names = append(names, gn.name)
		}
	}
	return names
}

// String returns the comma separated group names
func (l Group) String() string {
	return strings.Join(l.names(), ",")
}

// ParseGroup parses group names into a Group; no names selects all groups
func ParseGroup(names []string) (Group, error) {
	if len(names) == 0 {
		return GroupAll, nil
	}

	var result Group
	for _, name := range names {
		found := false
		for _, gn := range groupNames {
			if strings.EqualFold(strings.TrimSpace(name), gn.name) {
				result |= gn.group
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown signal group: %s", name)
		}
	}
	return result, nil
}

// ValidGroups returns the names of all signal groups
func ValidGroups() []string {
	return GroupAll.names()
}

// MarshalYAML implements yaml.Marshaler interface
func (l Group) MarshalYAML() (any, error) {
	names := l.names()
	if len(names) == 1 {
		return names[0], nil
	}
	return names, nil
}

// UnmarshalYAML implements yaml.Unmarshaler interface
func (l *Group) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, err := ParseGroup([]string{single})
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}

	var multiple []string
	if err := unmarshal(&multiple); err == nil {
		parsed, err := ParseGroup(multiple)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}

	return fmt.Errorf("cannot unmarshal signal groups: must be a string or array of strings")
}

// GroupValue is a kingpin.Value accumulating repeated group flags
type GroupValue struct {
	group *Group
	set   bool
}

// NewGroupValue creates a GroupValue writing into target
func NewGroupValue(target *Group) *GroupValue {
	return &GroupValue{group: target}
}

// Set implements kingpin.Value; the first value replaces the default
func (g *GroupValue) Set(value string) error {
	parsed, err := ParseGroup([]string{value})
	if err != nil {
		return err
	}
	if !g.set {
		*g.group = 0
		g.set = true
	}
	*g.group |= parsed
	return nil
}

// String implements kingpin.Value
func (g *GroupValue) String() string {
	return g.group.String()
}

// IsCumulative implements kingpin.repeatableFlag
func (g *GroupValue) IsCumulative() bool {
	return true
}
