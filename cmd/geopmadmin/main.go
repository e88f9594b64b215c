// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// geopmadmin prints the msr-safe allowlist and the settings the tools use
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/sustainable-computing-io/msrio/internal/cli"
	"github.com/sustainable-computing-io/msrio/internal/msr"
	"github.com/sustainable-computing-io/msrio/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, msr.CurrentModelID()))
}

// run executes geopmadmin for a node whose cpu model id is localModel
func run(args []string, stdout, stderr io.Writer, localModel int) int {
	app := kingpin.New("geopmadmin", "Print the msr-safe allowlist and configuration paths.")
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')
	app.ErrorWriter(stderr)

	allowlist := app.Flag("msr-allowlist", "Print the minimum msr-safe allowlist").Short('w').Bool()
	configDefault := app.Flag("config-default", "Print the path of the default configuration file").Short('d').Bool()
	cpuid := app.Flag("cpuid", "CPU model id in hex; defaults to the current platform").Short('c').Default("").String()

	if _, err := app.Parse(args); err != nil {
		return cli.Fail(stderr, cli.Invalid("geopmadmin", "%s", err))
	}
	if *allowlist && *configDefault {
		return cli.Fail(stderr, cli.Invalid("geopmadmin", "more than one action specified"))
	}

	modelID := localModel
	if *cpuid != "" {
		id, err := msr.ParseModelID(*cpuid)
		if err != nil {
			return cli.Fail(stderr, err)
		}
		modelID = id
	}

	switch {
	case *allowlist:
		catalog, err := msr.Lookup(modelID)
		if err != nil {
			return cli.Fail(stderr, err)
		}
		if err := catalog.WriteAllowlist(stdout); err != nil {
			return cli.Fail(stderr, err)
		}
	case *configDefault:
		fmt.Fprintln(stdout, cli.DefaultConfigPath)
	default:
		fmt.Fprintf(stdout, "0x%X\n", modelID)
	}
	return cli.ExitOK
}
