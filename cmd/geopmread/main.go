// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// geopmread reads one signal through the MSR PlatformIO
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sustainable-computing-io/msrio/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run executes geopmread; a nil open uses the PlatformIO of the node
func run(args []string, stdout, stderr io.Writer, open cli.Opener) int {
	app, nodeOpen := cli.App("geopmread", "Read a signal of the node from its model specific registers.", stderr)
	showDomain := app.Flag("domain", "Print the number of instances of every domain, or the domain of SIGNAL").Short('d').Bool()
	info := app.Flag("info", "Print the description of SIGNAL, or of every signal").Short('i').Bool()
	infoAll := app.Flag("info-all", "Print a table describing every signal").Bool()
	asCSV := app.Flag("csv", "With --info-all, print CSV instead of a table").Bool()
	pos := app.Arg("request", "SIGNAL DOMAIN INDEX").Strings()

	if _, err := app.Parse(args); err != nil {
		return cli.Fail(stderr, cli.Invalid("geopmread", "%s", err))
	}
	if *showDomain && (*info || *infoAll) {
		return cli.Fail(stderr, cli.Invalid("geopmread", "info about domain not implemented"))
	}
	if open == nil {
		open = nodeOpen
	}

	pio, err := open()
	if err != nil {
		return cli.Fail(stderr, err)
	}
	defer func() { _ = pio.Close() }()

	switch {
	case *showDomain:
		if len(*pos) == 0 {
			cli.WriteDomains(stdout, pio.Topology())
			return cli.ExitOK
		}
		si, err := pio.SignalInfo((*pos)[0])
		if err != nil {
			return cli.Fail(stderr, err)
		}
		fmt.Fprintln(stdout, si.Domain)

	case *infoAll:
		write := cli.WriteInfoTable
		if *asCSV {
			write = cli.WriteInfoCSV
		}
		if err := write(stdout, cli.Infos(pio.SignalNames(), pio.SignalInfo)); err != nil {
			return cli.Fail(stderr, err)
		}

	case *info:
		names := pio.SignalNames()
		if len(*pos) > 0 {
			names = (*pos)[:1]
		}
		for _, name := range names {
			si, err := pio.SignalInfo(name)
			if err != nil {
				return cli.Fail(stderr, err)
			}
			cli.WriteInfo(stdout, si)
		}

	case len(*pos) == 0:
		cli.WriteNames(stdout, pio.SignalNames())

	default:
		req, err := cli.ParseRequest(*pos)
		if err != nil {
			return cli.Fail(stderr, err)
		}
		v, err := pio.ReadSignal(req.Name, req.Domain, req.Index)
		if err != nil {
			return cli.Fail(stderr, fmt.Errorf("cannot read signal: %w", err))
		}
		fmt.Fprintln(stdout, cli.FormatValue(req.Name, v))
	}
	return cli.ExitOK
}
