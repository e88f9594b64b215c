// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// geopmwrite writes one control through the MSR PlatformIO
package main

import (
	"io"
	"os"

	"github.com/sustainable-computing-io/msrio/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run executes geopmwrite; a nil open uses the PlatformIO of the node
func run(args []string, stdout, stderr io.Writer, open cli.Opener) int {
	app, nodeOpen := cli.App("geopmwrite", "Write a control of the node to its model specific registers.", stderr)
	info := app.Flag("info", "Print the description of CONTROL").Short('i').Bool()
	infoAll := app.Flag("info-all", "Print a table describing every control").Bool()
	pos := app.Arg("request", "CONTROL DOMAIN INDEX VALUE").Strings()

	if _, err := app.Parse(args); err != nil {
		return cli.Fail(stderr, cli.Invalid("geopmwrite", "%s", err))
	}
	if *info && len(*pos) == 0 {
		return cli.Fail(stderr, cli.Invalid("geopmwrite", "no control requested"))
	}
	if len(*pos) > 0 && len(*pos) < 4 && !*info && !*infoAll {
		return cli.Fail(stderr, cli.Invalid("geopmwrite",
			"domain type, domain index, and value are required to write control"))
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
	case *infoAll:
		if err := cli.WriteInfoTable(stdout, cli.Infos(pio.ControlNames(), pio.ControlInfo)); err != nil {
			return cli.Fail(stderr, err)
		}

	case *info:
		ci, err := pio.ControlInfo((*pos)[0])
		if err != nil {
			return cli.Fail(stderr, err)
		}
		cli.WriteInfo(stdout, ci)

	case len(*pos) == 0:
		cli.WriteNames(stdout, pio.ControlNames())

	default:
		req, err := cli.ParseRequest(*pos)
		if err != nil {
			return cli.Fail(stderr, err)
		}
		value, err := cli.ParseValue((*pos)[3])
		if err != nil {
			return cli.Fail(stderr, err)
		}
		if err := pio.WriteControl(req.Name, req.Domain, req.Index, value); err != nil {
			return cli.Fail(stderr, err)
		}
	}
	return cli.ExitOK
}
