// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"github.com/stretchr/testify/mock"

	"github.com/sustainable-computing-io/msrio/internal/platformio"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

type MockPlatformIO struct {
	mock.Mock
}

var _ PlatformIO = (*MockPlatformIO)(nil)

func (m *MockPlatformIO) Topology() *topology.Topology {
	args := m.Called()
	return args.Get(0).(*topology.Topology)
}

func (m *MockPlatformIO) IsValidSignal(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

func (m *MockPlatformIO) SignalInfo(name string) (platformio.Info, error) {
	args := m.Called(name)
	return args.Get(0).(platformio.Info), args.Error(1)
}

func (m *MockPlatformIO) AggFunc(name string) (platformio.AggFunc, error) {
	args := m.Called(name)
	return args.Get(0).(platformio.AggFunc), args.Error(1)
}

func (m *MockPlatformIO) PushSignal(name string, domain topology.DomainType, idx int) (int, error) {
	args := m.Called(name, domain, idx)
	return args.Int(0), args.Error(1)
}

func (m *MockPlatformIO) ReadBatch() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockPlatformIO) Sample(handle int) (float64, error) {
	args := m.Called(handle)
	return args.Get(0).(float64), args.Error(1)
}
