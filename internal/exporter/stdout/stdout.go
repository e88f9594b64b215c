// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sustainable-computing-io/msrio/internal/monitor"
	"github.com/sustainable-computing-io/msrio/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Monitor     = monitor.Service
)

// Exporter periodically prints the sampled signals as a table
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.WriteCloser
	ticker   *time.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func NewExporter(sm Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  sm,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid stdout interval %s", e.interval)
	}
	e.ticker = time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-e.ticker.C:
			snapshot, err := e.monitor.Snapshot()
			if err != nil {
				e.logger.Error("Failed to collect signal data", "error", err)
				continue
			}
			write(e.out, snapshot)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

// write renders one row per signal instance followed by the board value
func write(out io.Writer, snapshot *monitor.Snapshot) {
	names := make([]string, 0, len(snapshot.Signals))
	for name := range snapshot.Signals {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := [][]string{}
	for _, name := range names {
		sig := snapshot.Signals[name]
		for idx, v := range sig.Values {
			rate := ""
			if idx < len(sig.Rates) {
				rate = formatValue(sig.Rates[idx])
			}
			rows = append(rows, []string{
				name, sig.Domain.String(), strconv.Itoa(idx), formatValue(v), rate, sig.Units,
			})
		}
		rows = append(rows, []string{name, "board", "-", formatValue(sig.Total), "", sig.Units})
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Signal", "Domain", "Index", "Value", "Rate", "Units"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (e *Exporter) Shutdown() error {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
