// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package msr

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const allowlistHeader = "# MSR        Write Mask           # Comment"

// WriteAllowlist writes the msr-safe allowlist for every register of the
// catalog. Registers without controls get a zero write mask.
func (c *Catalog) WriteAllowlist(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, allowlistHeader); err != nil {
		return err
	}
	for _, r := range c.registers {
		if _, err := fmt.Fprintf(bw, "0x%08x   0x%016x   # \"%s\"\n", r.Offset(), r.WriteMask(), r.Name()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Allowlist returns the allowlist as a string
func (c *Catalog) Allowlist() string {
	var sb strings.Builder
	// writes to a strings.Builder do not fail
	_ = c.WriteAllowlist(&sb)
	return sb.String()
}
