// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package msr

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
	"github.com/sustainable-computing-io/msrio/internal/topology"
)

//go:embed tables/*.yaml
var tablesFS embed.FS

// table layout shared by the embedded tables and custom register files
type (
	tableField struct {
		BeginBit    int      `yaml:"begin_bit"`
		EndBit      int      `yaml:"end_bit"`
		Function    Function `yaml:"function"`
		Units       string   `yaml:"units"`
		Scalar      float64  `yaml:"scalar"`
		Behavior    string   `yaml:"behavior"`
		Writeable   bool     `yaml:"writeable"`
		Aggregation string   `yaml:"aggregation"`
		Description string   `yaml:"description"`
	}

	tableRegister struct {
		Offset string    `yaml:"offset"`
		Domain string    `yaml:"domain"`
		Fields yaml.Node `yaml:"fields"`
	}

	tableFile struct {
		MSRs yaml.Node `yaml:"msrs"`
	}
)

// ParseTable reads a register table. The YAML parser also accepts the JSON
// form of the same layout. Field bit ranges in the table are inclusive on
// both ends.
func ParseTable(r io.Reader) ([]*Register, error) {
	const op = "ParseTable"
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read register table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err)
	}
	if file.MSRs.Kind != yaml.MappingNode {
		return nil, pioerr.New(pioerr.KindInvalidArgument, op, `missing "msrs" mapping`)
	}

	// walk the nodes pairwise to keep the table order
	var regs []*Register
	for i := 0; i+1 < len(file.MSRs.Content); i += 2 {
		name := file.MSRs.Content[i].Value
		var tr tableRegister
		if err := file.MSRs.Content[i+1].Decode(&tr); err != nil {
			return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(name))
		}
		reg, err := tr.build(name)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (tr *tableRegister) build(name string) (*Register, error) {
	const op = "ParseTable"
	offset, err := strconv.ParseUint(strings.TrimSpace(tr.Offset), 0, 64)
	if err != nil {
		return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(name))
	}

	domain := InferDomain(name)
	if tr.Domain != "" {
		if domain, err = topology.ParseDomain(tr.Domain); err != nil {
			return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(name))
		}
	}

	if tr.Fields.Kind != yaml.MappingNode {
		return nil, pioerr.New(pioerr.KindInvalidArgument, op, `missing "fields" mapping`, pioerr.WithRegister(name))
	}

	var signals, controls []Field
	for i := 0; i+1 < len(tr.Fields.Content); i += 2 {
		tf := tableField{Scalar: 1, Units: "none"}
		if err := tr.Fields.Content[i+1].Decode(&tf); err != nil {
			return nil, pioerr.Wrap(pioerr.KindInvalidArgument, op, err, pioerr.WithRegister(name))
		}
		f := Field{
			Name:        tr.Fields.Content[i].Value,
			Begin:       tf.BeginBit,
			End:         tf.EndBit + 1,
			Function:    tf.Function,
			Units:       tf.Units,
			Scalar:      tf.Scalar,
			Behavior:    tf.Behavior,
			Aggregation: tf.Aggregation,
			Description: tf.Description,
		}
		signals = append(signals, f)
		if tf.Writeable {
			controls = append(controls, f)
		}
	}
	return NewRegister(name, offset, domain, signals, controls)
}

var builtinTables = map[string]func() ([]*Register, error){
	"arch": embeddedTable("arch"),
	"skx":  embeddedTable("skx"),
	"knl":  embeddedTable("knl"),
}

func embeddedTable(name string) func() ([]*Register, error) {
	return sync.OnceValues(func() ([]*Register, error) {
		f, err := tablesFS.Open("tables/" + name + ".yaml")
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		regs, err := ParseTable(f)
		if err != nil {
			return nil, fmt.Errorf("builtin table %s: %w", name, err)
		}
		return regs, nil
	})
}

// modelTables lists the tables making up the catalog of each model
var modelTables = map[int][]string{
	ModelSKX:       {"arch", "skx"},
	ModelSKLClient: {"arch", "skx"},
	ModelKBLClient: {"arch", "skx"},
	ModelSKLMobile: {"arch", "skx"},
	ModelKBLMobile: {"arch", "skx"},
	ModelKNL:       {"arch", "knl"},
}

// SupportedModels returns the model ids Lookup accepts, sorted
func SupportedModels() []int {
	ids := make([]int, 0, len(modelTables))
	for id := range modelTables {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Catalog is the ordered set of registers known for one CPU model.
// Custom registers may be added while the catalog is being assembled; it
// must not be modified once handed to a platformio context.
type Catalog struct {
	modelID   int
	registers []*Register
	byName    map[string]*Register
}

// NewCatalog builds a catalog from registers, rejecting duplicate names
func NewCatalog(modelID int, regs ...*Register) (*Catalog, error) {
	c := &Catalog{
		modelID: modelID,
		byName:  make(map[string]*Register, len(regs)),
	}
	if err := c.Add(regs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the catalog for a CPU model id
func Lookup(modelID int) (*Catalog, error) {
	tables, ok := modelTables[modelID]
	if !ok {
		return nil, pioerr.Errorf(pioerr.KindUnsupported, "Lookup", "no register table for cpu model 0x%X", modelID)
	}

	var regs []*Register
	for _, name := range tables {
		r, err := builtinTables[name]()
		if err != nil {
			return nil, err
		}
		regs = append(regs, r...)
	}
	return NewCatalog(modelID, regs...)
}

// Add appends registers; a name already in the catalog is an error
func (c *Catalog) Add(regs ...*Register) error {
	for _, r := range regs {
		if _, dup := c.byName[r.Name()]; dup {
			return pioerr.New(pioerr.KindInvalidArgument, "Catalog.Add", "register already defined",
				pioerr.WithRegister(r.Name()))
		}
		c.byName[r.Name()] = r
		c.registers = append(c.registers, r)
	}
	return nil
}

// LoadFile parses a custom register table and adds its registers
func (c *Catalog) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open register table: %w", err)
	}
	defer func() { _ = f.Close() }()

	regs, err := ParseTable(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := c.Add(regs...); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadDir loads every msr_*.json, msr_*.yaml and msr_*.yml file in dir in
// lexical order and returns the files loaded
func (c *Catalog) LoadDir(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"msr_*.json", "msr_*.yaml", "msr_*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	for _, f := range files {
		if err := c.LoadFile(f); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// ModelID is the CPU model the catalog was built for
func (c *Catalog) ModelID() int {
	return c.modelID
}

// Registers returns the registers in table order
func (c *Catalog) Registers() []*Register {
	return c.registers
}

// Register returns the named register
func (c *Catalog) Register(name string) (*Register, bool) {
	r, ok := c.byName[name]
	return r, ok
}
