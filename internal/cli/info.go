// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sustainable-computing-io/msrio/internal/platformio"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

// WriteNames prints one name per line
func WriteNames(w io.Writer, names []string) {
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
}

// WriteInfo prints the description block of one signal or control
func WriteInfo(w io.Writer, info platformio.Info) {
	fmt.Fprintf(w, "%s:\n", info.Name)
	if info.Alias != "" {
		fmt.Fprintf(w, "    alias_for: %s\n", info.Alias)
	}
	fmt.Fprintf(w, "    description: %s\n", info.Description)
	fmt.Fprintf(w, "    units: %s\n", info.Units)
	fmt.Fprintf(w, "    domain: %s\n", info.Domain)
	if info.Aggregation != "" {
		fmt.Fprintf(w, "    aggregation: %s\n", info.Aggregation)
	}
	if info.Behavior != "" {
		fmt.Fprintf(w, "    behavior: %s\n", info.Behavior)
	}
}

// WriteInfoTable prints every description as one table
func WriteInfoTable(w io.Writer, infos []platformio.Info) error {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{
			info.Name, info.Domain.String(), info.Units, info.Aggregation, info.Behavior, info.Description,
		})
	}

	table := tablewriter.NewWriter(w)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.AutoWrap = tw.WrapNone
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	table.Header([]string{"Name", "Domain", "Units", "Aggregation", "Behavior", "Description"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// infoRecord is one CSV row of WriteInfoCSV
type infoRecord struct {
	Name        string `csv:"name"`
	AliasFor    string `csv:"alias_for"`
	Domain      string `csv:"domain"`
	Units       string `csv:"units"`
	Aggregation string `csv:"aggregation"`
	Behavior    string `csv:"behavior"`
	Description string `csv:"description"`
}

// WriteInfoCSV prints every description as CSV with a header row
func WriteInfoCSV(w io.Writer, infos []platformio.Info) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(infoRecord{}); err != nil {
		return err
	}
	for _, info := range infos {
		rec := infoRecord{
			Name:        info.Name,
			AliasFor:    info.Alias,
			Domain:      info.Domain.String(),
			Units:       info.Units,
			Aggregation: info.Aggregation,
			Behavior:    info.Behavior,
			Description: info.Description,
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDomains prints the number of instances of every domain type. Domains
// the node does not expose count as zero.
func WriteDomains(w io.Writer, topo *topology.Topology) {
	for _, d := range topology.AllDomains() {
		n, err := topo.NumDomain(d)
		if err != nil {
			n = 0
		}
		fmt.Fprintf(w, "%-24s%d\n", d, n)
	}
}

// Infos collects the descriptions of names with describe, skipping names
// it fails on
func Infos(names []string, describe func(string) (platformio.Info, error)) []platformio.Info {
	infos := make([]platformio.Info, 0, len(names))
	for _, n := range names {
		info, err := describe(n)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}
