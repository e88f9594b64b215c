// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"

	"github.com/oklog/run"
)

// Run runs every Runner in its own actor. The first one to return stops
// the others, each of which is then shut down if it is a Shutdowner.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	logger = defaultLogger(logger)

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Debug("skipping service", "service", s.Name(), "reason", "not a runner")
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", s.Name())
				return runner.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", s.Name(), "reason", err)
				}
				if shutdowner, ok := s.(Shutdowner); ok {
					logger.Info("shutting down", "service", s.Name())
					if err := shutdowner.Shutdown(); err != nil {
						logger.Warn("service shutdown failed", "service", s.Name(), "error", err)
					}
				}
			},
		)
	}

	logger.Info("Running all services")
	return g.Run()
}
