// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"slices"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// Topology is the validated numeric model of a node: package, core and
// hardware thread counts plus the CPU membership of each NUMA node.
//
// Logical CPUs are numbered the Linux way: the first hardware thread of every
// core on every package comes first, followed by the second thread of each,
// so cpu = core + thread*cores*packages.
type Topology struct {
	packages int
	cores    int // per package
	threads  int // per core
	numa     [][]int
}

// New validates counts and the NUMA map and returns the Topology
func New(packages, coresPerPackage, threadsPerCore int, numa [][]int) (*Topology, error) {
	const op = "topology.New"
	if packages <= 0 || coresPerPackage <= 0 || threadsPerCore <= 0 {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op,
			"counts must be positive: packages=%d cores=%d threads=%d", packages, coresPerPackage, threadsPerCore)
	}
	numCPU := packages * coresPerPackage * threadsPerCore

	// board memory domains enumerate the non-empty nodes only
	nodes := make([][]int, 0, len(numa))
	for i, cpus := range numa {
		for _, cpu := range cpus {
			if cpu < 0 || cpu >= numCPU {
				return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op,
					"numa node %d lists cpu %d outside [0, %d)", i, cpu, numCPU)
			}
		}
		if len(cpus) == 0 {
			continue
		}
		node := slices.Clone(cpus)
		slices.Sort(node)
		nodes = append(nodes, node)
	}

	return &Topology{
		packages: packages,
		cores:    coresPerPackage,
		threads:  threadsPerCore,
		numa:     nodes,
	}, nil
}

// NumCPU is NumDomain(DomainCPU) without the error
func (t *Topology) NumCPU() int {
	return t.packages * t.cores * t.threads
}

// NumDomain returns the number of domains of the given type on the node
func (t *Topology) NumDomain(domain DomainType) (int, error) {
	switch domain {
	case DomainBoard:
		return 1, nil
	case DomainPackage:
		return t.packages, nil
	case DomainCore:
		return t.packages * t.cores, nil
	case DomainCPU:
		return t.NumCPU(), nil
	case DomainBoardMemory:
		return len(t.numa), nil
	case DomainPackageMemory, DomainBoardNIC, DomainPackageNIC,
		DomainBoardAccelerator, DomainPackageAccelerator:
		return 0, pioerr.Errorf(pioerr.KindNotImplemented, "NumDomain", "%s domain", domain)
	default:
		return 0, pioerr.Errorf(pioerr.KindInvalidArgument, "NumDomain", "invalid domain type %d", int(domain))
	}
}

// DomainIdx returns the index of the domain of the given type containing cpu
func (t *Topology) DomainIdx(domain DomainType, cpu int) (int, error) {
	const op = "DomainIdx"
	if cpu < 0 || cpu >= t.NumCPU() {
		return -1, pioerr.Errorf(pioerr.KindInvalidArgument, op, "cpu %d outside [0, %d)", cpu, t.NumCPU())
	}

	switch domain {
	case DomainBoard:
		return 0, nil
	case DomainPackage:
		return (cpu % (t.packages * t.cores)) / t.cores, nil
	case DomainCore:
		return cpu % (t.packages * t.cores), nil
	case DomainCPU:
		return cpu, nil
	case DomainBoardMemory:
		for node, cpus := range t.numa {
			if _, found := slices.BinarySearch(cpus, cpu); found {
				return node, nil
			}
		}
		return -1, pioerr.Errorf(pioerr.KindInvalidArgument, op, "cpu %d is not in any numa node", cpu)
	case DomainPackageMemory, DomainBoardNIC, DomainPackageNIC,
		DomainBoardAccelerator, DomainPackageAccelerator:
		return -1, pioerr.Errorf(pioerr.KindNotImplemented, op, "%s domain", domain)
	default:
		return -1, pioerr.Errorf(pioerr.KindInvalidArgument, op, "invalid domain type %d", int(domain))
	}
}

// DomainCPUs returns the sorted logical CPUs contained in domain idx
func (t *Topology) DomainCPUs(domain DomainType, idx int) ([]int, error) {
	const op = "DomainCPUs"
	num, err := t.NumDomain(domain)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= num {
		return nil, pioerr.Errorf(pioerr.KindInvalidArgument, op, "%s index %d outside [0, %d)", domain, idx, num)
	}

	coresTotal := t.packages * t.cores
	var cpus []int
	switch domain {
	case DomainBoard:
		for cpu := 0; cpu < t.NumCPU(); cpu++ {
			cpus = append(cpus, cpu)
		}
	case DomainPackage:
		for core := idx * t.cores; core < (idx+1)*t.cores; core++ {
			for thread := 0; thread < t.threads; thread++ {
				cpus = append(cpus, core+thread*coresTotal)
			}
		}
	case DomainCore:
		for thread := 0; thread < t.threads; thread++ {
			cpus = append(cpus, idx+thread*coresTotal)
		}
	case DomainCPU:
		cpus = []int{idx}
	case DomainBoardMemory:
		cpus = slices.Clone(t.numa[idx])
	}
	slices.Sort(cpus)
	return cpus, nil
}
