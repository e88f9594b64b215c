// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"strings"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// DomainType is the topological scope of a signal or control
type DomainType int

const (
	DomainInvalid DomainType = iota - 1
	DomainBoard
	DomainPackage
	DomainCore
	DomainCPU
	DomainBoardMemory
	DomainPackageMemory
	DomainBoardNIC
	DomainPackageNIC
	DomainBoardAccelerator
	DomainPackageAccelerator
	numDomain
)

var domainNames = []string{
	"board",
	"package",
	"core",
	"cpu",
	"board_memory",
	"package_memory",
	"board_nic",
	"package_nic",
	"board_accelerator",
	"package_accelerator",
}

// AllDomains returns every valid domain type in order
func AllDomains() []DomainType {
	all := make([]DomainType, 0, numDomain)
	for d := DomainBoard; d < numDomain; d++ {
		all = append(all, d)
	}
	return all
}

func (d DomainType) String() string {
	if d < 0 || d >= numDomain {
		return "invalid"
	}
	return domainNames[d]
}

// ParseDomain maps a domain name such as "cpu" or "board_memory" to its type
func ParseDomain(name string) (DomainType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range domainNames {
		if n == name {
			return DomainType(i), nil
		}
	}
	return DomainInvalid, pioerr.Errorf(pioerr.KindInvalidArgument, "ParseDomain",
		"unknown domain %q, expected one of: %s", name, strings.Join(domainNames, ", "))
}

// MarshalYAML implements yaml.Marshaler
func (d DomainType) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *DomainType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDomain(s)
	if err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}
	*d = parsed
	return nil
}
