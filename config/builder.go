// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML documents over a base configuration. Later layers
// take precedence; fields a layer leaves unset keep the value below them.
// The zero value builds on DefaultConfig.
type Builder struct {
	base   *Config
	layers []layer
	errs   []error
}

type layer struct {
	source string
	data   []byte
}

// Use sets the configuration the layers are merged into
func (b *Builder) Use(c *Config) *Builder {
	b.base = c
	return b
}

// Merge adds inline YAML documents as layers
func (b *Builder) Merge(yamls ...string) *Builder {
	for _, y := range yamls {
		b.layers = append(b.layers, layer{
			source: fmt.Sprintf("inline #%d", len(b.layers)),
			data:   []byte(y),
		})
	}
	return b
}

// MergeFile adds the content of each file as a layer
func (b *Builder) MergeFile(paths ...string) *Builder {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("failed to read overlay: %w", err))
			continue
		}
		b.layers = append(b.layers, layer{source: path, data: data})
	}
	return b
}

// MergeDir adds every *.yaml file of dir as a layer, in lexical order.
// A missing directory adds nothing.
func (b *Builder) MergeDir(dir string) *Builder {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("failed to list overlays in %s: %w", dir, err))
		return b
	}
	slices.Sort(matches)
	return b.MergeFile(matches...)
}

// Build merges every layer in order. Validation is left to the caller.
func (b *Builder) Build() (*Config, error) {
	cfg := b.base
	if cfg == nil {
		cfg = DefaultConfig()
	}

	errs := slices.Clone(b.errs)
	for _, l := range b.layers {
		overlay := &Config{}
		if err := yaml.Unmarshal(l.data, overlay); err != nil {
			errs = append(errs, fmt.Errorf("failed to parse YAML from %s: %w", l.source, err))
			continue
		}
		if err := mergo.Merge(cfg, overlay, mergo.WithOverride, mergo.WithTransformers(setPointers{})); err != nil {
			errs = append(errs, fmt.Errorf("failed to merge %s: %w", l.source, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.sanitize()
	return cfg, nil
}

// setPointers lets a layer that explicitly sets a *bool to false override
// the value below it; mergo would otherwise treat false as empty.
type setPointers struct{}

func (setPointers) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Bool {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
