// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// journal records lifecycle calls across services in call order
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type named struct {
	name string
}

func (n *named) Name() string { return n.name }

// fullService implements every lifecycle interface
type fullService struct {
	named
	j          *journal
	initErr    error
	runFn      func(ctx context.Context) error
	shutdownFn func() error
}

func newFull(name string, j *journal) *fullService {
	return &fullService{named: named{name: name}, j: j}
}

func (f *fullService) Init() error {
	f.j.add("init:" + f.name)
	return f.initErr
}

func (f *fullService) Run(ctx context.Context) error {
	f.j.add("run:" + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fullService) Shutdown() error {
	f.j.add("shutdown:" + f.name)
	if f.shutdownFn != nil {
		return f.shutdownFn()
	}
	return nil
}

// initOnly implements Initializer only
type initOnly struct {
	named
	j *journal
}

func (i *initOnly) Init() error {
	i.j.add("init:" + i.name)
	return nil
}
