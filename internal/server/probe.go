// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/sustainable-computing-io/msrio/internal/monitor"
	"github.com/sustainable-computing-io/msrio/internal/service"
)

type probe struct {
	api     APIService
	monitor monitor.SignalDataProvider
}

var (
	_ service.Service     = (*probe)(nil)
	_ service.Initializer = (*probe)(nil)
)

// NewProbe creates a new probe service that provides health check endpoints
func NewProbe(api APIService, sm monitor.SignalDataProvider) *probe {
	return &probe{
		api:     api,
		monitor: sm,
	}
}

func (p *probe) Name() string {
	return "probe"
}

func (p *probe) Init() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/probe/readyz", p.readyzHandler)
	mux.HandleFunc("/probe/livez", p.livezHandler)
	return p.api.Register("/probe/", "probe", "Health check endpoints", mux)
}

// readyzHandler reports ready once the monitor samples at least one signal
// and a batch read succeeds
func (p *probe) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(p.monitor.SignalNames()) == 0 {
		respond(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "reason": "no signals sampled"})
		return
	}
	snapshot, err := p.monitor.Snapshot()
	if err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "reason": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]any{"status": "ok", "signals": len(snapshot.Signals)})
}

// livezHandler reports alive while batch reads succeed
func (p *probe) livezHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := p.monitor.Snapshot(); err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]any{"status": "not alive", "reason": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]any{"status": "alive"})
}

func respond(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
