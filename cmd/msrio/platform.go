// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"log/slog"

	"github.com/sustainable-computing-io/msrio/internal/service"
)

// controlState is the part of the PlatformIO owned by the daemon lifecycle
type controlState interface {
	SaveControl() error
	RestoreControl() error
	Close() error
}

// platformService saves the controls of the node at Init and restores them
// at Shutdown when asked to, then releases the device
type platformService struct {
	pio     controlState
	restore bool
	saved   bool
	logger  *slog.Logger
}

var (
	_ service.Initializer = (*platformService)(nil)
	_ service.Shutdowner  = (*platformService)(nil)
)

func newPlatformService(pio controlState, restore bool, logger *slog.Logger) *platformService {
	return &platformService{
		pio:     pio,
		restore: restore,
		logger:  logger.With("service", "platformio"),
	}
}

func (p *platformService) Name() string {
	return "platformio"
}

func (p *platformService) Init() error {
	if !p.restore {
		return nil
	}
	// registers that cannot be read are left out of the restore
	if err := p.pio.SaveControl(); err != nil {
		p.logger.Warn("Some controls could not be saved", "error", err)
	}
	p.saved = true
	return nil
}

func (p *platformService) Shutdown() error {
	var errs []error
	if p.saved {
		p.logger.Info("Restoring saved controls")
		if err := p.pio.RestoreControl(); err != nil {
			errs = append(errs, err)
		}
		p.saved = false
	}
	if err := p.pio.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
