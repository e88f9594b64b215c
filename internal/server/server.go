// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/exporter-toolkit/web"

	"github.com/sustainable-computing-io/msrio/config"
	"github.com/sustainable-computing-io/msrio/internal/service"
)

// shutdownTimeout bounds how long in-flight requests may delay Shutdown
const shutdownTimeout = 5 * time.Second

// APIService defines the interface for the HTTP server providing API endpoints
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

// endpoint is one entry of the landing page
type endpoint struct {
	Path        string
	Summary     string
	Description string
}

var landingTemplate = template.Must(template.New("landing").Parse(`<html>
<head><title>msrio</title></head>
<body>
<h1>MSR signal exporter</h1>
<p>{{.Version}}</p>
<p>Available endpoints:</p>
<ul>
{{- range .Endpoints}}
	<li><a href="{{.Path}}">{{.Summary}}</a> {{.Description}}</li>
{{- end}}
</ul>
</body>
</html>
`))

// APIServer serves the registered endpoints behind a landing page
type APIServer struct {
	logger    *slog.Logger
	server    *http.Server
	mux       *http.ServeMux
	webConfig *web.FlagConfig
	version   string

	endpoints []endpoint
}

var (
	_ APIService          = (*APIServer)(nil)
	_ service.Initializer = (*APIServer)(nil)
	_ service.Runner      = (*APIServer)(nil)
	_ service.Shutdowner  = (*APIServer)(nil)
)

type Opts struct {
	logger    *slog.Logger
	webConfig *web.FlagConfig
	version   string
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the APIServer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListen sets the listen addresses and the exporter-toolkit web config
// file; an empty path serves plain HTTP
func WithListen(addr []string, path string) OptionFn {
	return func(o *Opts) {
		o.webConfig = &web.FlagConfig{
			WebListenAddresses: &addr,
			WebConfigFile:      &path,
		}
	}
}

// WithWebConfig sets the exporter-toolkit web configuration
func WithWebConfig(cfg *web.FlagConfig) OptionFn {
	return func(o *Opts) {
		o.webConfig = cfg
	}
}

// WithVersion sets the version line shown on the landing page
func WithVersion(v string) OptionFn {
	return func(o *Opts) {
		o.version = v
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		webConfig: &web.FlagConfig{
			WebListenAddresses: &[]string{config.DefaultListenAddress},
			WebConfigFile:      new(string),
		},
	}
}

// NewAPIServer creates a new APIServer
func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger:    opts.logger.With("service", "api-server"),
		mux:       mux,
		server:    &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		webConfig: opts.webConfig,
		version:   opts.version,
	}
}

func (s *APIServer) Name() string {
	return "api-server"
}

// Init installs the landing page on /
func (s *APIServer) Init() error {
	s.logger.Info("Initializing msrio server")
	s.mux.HandleFunc("/", s.landingPage)
	return nil
}

func (s *APIServer) landingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Version   string
		Endpoints []endpoint
	}{s.version, s.endpoints}
	if err := landingTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to write landing page", "error", err)
	}
}

// Run serves until ctx is cancelled or the listener fails
func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Running msrio server", "listen", *s.webConfig.WebListenAddresses)
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.webConfig, s.logger)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context done, stopping msrio server")
		return nil
	case err := <-errCh:
		s.logger.Error("msrio server failed", "error", err)
		return err
	}
}

// Shutdown stops the server, waiting up to shutdownTimeout for open requests
func (s *APIServer) Shutdown() error {
	s.logger.Info("Shutting down msrio server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Register serves handler on endpoint and lists it on the landing page.
// An endpoint can be registered once.
func (s *APIServer) Register(path, summary, description string, handler http.Handler) error {
	for _, e := range s.endpoints {
		if e.Path == path {
			return fmt.Errorf("endpoint %s is already registered", path)
		}
	}
	s.mux.Handle(path, handler)
	s.endpoints = append(s.endpoints, endpoint{Path: path, Summary: summary, Description: description})
	s.logger.Debug("Endpoint registered", "endpoint", path)
	return nil
}
