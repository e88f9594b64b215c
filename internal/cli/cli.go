// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli holds the pieces shared by the geopmread, geopmwrite and
// geopmadmin tools.
package cli

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/sustainable-computing-io/msrio/config"
	"github.com/sustainable-computing-io/msrio/internal/logger"
	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/platformio"
	"github.com/sustainable-computing-io/msrio/internal/topology"
	"github.com/sustainable-computing-io/msrio/internal/version"
)

// Exit codes of the tools
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitInvalid = 22 // EINVAL
)

// DefaultConfigPath is read by the tools when it exists and no other file
// is given
const DefaultConfigPath = "/etc/msrio/config.yaml"

// DefaultConfigDir holds *.yaml overlays merged over the default
// configuration in lexical order
const DefaultConfigDir = "/etc/msrio/config.d"

// ExitCode maps an error to the exit status of a tool
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, pioerr.ErrInvalidArgument):
		return ExitInvalid
	default:
		return ExitFailure
	}
}

// Fail prints err to w in the form "Error: <message>" and returns the exit
// code for it
func Fail(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error: %s\n", err)
	return ExitCode(err)
}

// Invalid returns an InvalidArgument error for bad command line input
func Invalid(op, format string, args ...any) error {
	return pioerr.Errorf(pioerr.KindInvalidArgument, op, format, args...)
}

// Request is a signal or control addressed at one domain instance
type Request struct {
	Name   string
	Domain topology.DomainType
	Index  int
}

// ParseRequest parses the NAME DOMAIN INDEX positional arguments
func ParseRequest(args []string) (Request, error) {
	const op = "ParseRequest"
	if len(args) < 3 {
		return Request{}, Invalid(op, "domain type and domain index are required")
	}
	domain, err := topology.ParseDomain(args[1])
	if err != nil {
		return Request{}, err
	}
	idx, err := strconv.Atoi(args[2])
	if err != nil {
		return Request{}, Invalid(op, "invalid domain index %q", args[2])
	}
	return Request{Name: args[0], Domain: domain, Index: idx}, nil
}

// ParseValue parses the value written to a control
func ParseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return math.NaN(), Invalid("ParseValue", "invalid write value %q", s)
	}
	return v, nil
}

// FormatValue renders a signal value; raw register signals print as hex
func FormatValue(name string, v float64) string {
	if strings.HasSuffix(name, "#") {
		return fmt.Sprintf("0x%016x", math.Float64bits(v))
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Platform is the part of platformio.PlatformIO the tools use
type Platform interface {
	Topology() *topology.Topology
	SignalNames() []string
	ControlNames() []string
	SignalInfo(name string) (platformio.Info, error)
	ControlInfo(name string) (platformio.Info, error)
	ReadSignal(name string, domain topology.DomainType, idx int) (float64, error)
	WriteControl(name string, domain topology.DomainType, idx int, value float64) error
	Close() error
}

var _ Platform = (*platformio.PlatformIO)(nil)

// Opener creates the Platform a tool works on
type Opener func() (Platform, error)

// App creates a kingpin application with the common flags of the tools and
// returns the Opener of the PlatformIO they select
func App(name, help string, stderr io.Writer) (*kingpin.Application, Opener) {
	app := kingpin.New(name, help)
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')
	app.ErrorWriter(stderr)

	configFile := app.Flag("config.file", "Path to YAML configuration file").
		Default("").String()
	cpuid := app.Flag("msr.cpuid", "CPU model id in hex selecting the register table").
		Default("").String()

	open := func() (Platform, error) {
		cfg, err := loadConfig(*configFile)
		if err != nil {
			return nil, err
		}
		if *cpuid != "" {
			cfg.MSR.CPUID = *cpuid
		}
		pio, err := platformio.Open(cfg, logger.ForTool(stderr))
		if err != nil {
			return nil, err
		}
		return pio, nil
	}
	return app, open
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err != nil {
			return (&config.Builder{}).MergeDir(DefaultConfigDir).Build()
		}
		path = DefaultConfigPath
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", path, err)
	}
	if path != DefaultConfigPath {
		return cfg, nil
	}
	return (&config.Builder{}).Use(cfg).MergeDir(DefaultConfigDir).Build()
}
