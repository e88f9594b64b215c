// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package service drives the lifecycle of the components of the daemon.
// A component implements Service and any of Initializer, Runner and
// Shutdowner.
package service

import "context"

// Service is a named component
type Service interface {
	Name() string
}

// Initializer is a Service that must be prepared before running
type Initializer interface {
	Service
	Init() error
}

// Runner is a Service that runs in the background until ctx is done
type Runner interface {
	Service
	// Run is expected to block
	Run(ctx context.Context) error
}

// Shutdowner is a Service that releases resources on exit
type Shutdowner interface {
	Service
	Shutdown() error
}
