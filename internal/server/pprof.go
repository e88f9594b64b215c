// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/sustainable-computing-io/msrio/internal/service"
)

const pprofPrefix = "/debug/pprof/"

// Profiler exposes the Go runtime profiles of the daemon on the API server
type Profiler struct {
	api APIService
}

var _ service.Initializer = (*Profiler)(nil)

// NewPprof creates a Profiler registering on api
func NewPprof(api APIService) *Profiler {
	return &Profiler{api: api}
}

func (p *Profiler) Name() string {
	return "pprof"
}

// Init registers the profiling endpoints
func (p *Profiler) Init() error {
	return p.api.Register(pprofPrefix, "pprof", "Profiling Data", handlers())
}

// handlers routes the index, the interactive endpoints and the named
// runtime profiles below pprofPrefix
func handlers() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(pprofPrefix, pprof.Index)

	interactive := map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	}
	for name, fn := range interactive {
		mux.HandleFunc(pprofPrefix+name, fn)
	}
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle(pprofPrefix+name, pprof.Handler(name))
	}
	return mux
}
