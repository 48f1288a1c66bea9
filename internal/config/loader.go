// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	xlog "github.com/ManuGH/livefeed/internal/log"
)

// Loader resolves an AppConfig from defaults, a YAML file and the environment.
type Loader struct {
	path   string
	lookup LookupFunc
	logger zerolog.Logger
}

// NewLoader returns a Loader for path. An empty path loads defaults and
// environment only.
func NewLoader(path string) *Loader {
	return &Loader{
		path:   path,
		lookup: os.LookupEnv,
		logger: xlog.WithComponent("config"),
	}
}

// WithLookup replaces the environment source; used by tests.
func (l *Loader) WithLookup(lookup LookupFunc) *Loader {
	l.lookup = lookup
	return l
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// Load builds and validates the configuration.
func (l *Loader) Load() (*AppConfig, error) {
	cfg := Defaults()

	if l.path != "" {
		if err := l.loadFile(l.path, &cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.path, err)
		}
	}

	envReader{lookup: l.lookup, logger: l.logger}.mergeEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile decodes the YAML file at path over cfg with strict parsing.
// Keys absent from the file keep the values already in cfg.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

// Parse decodes YAML bytes over the defaults and validates the result. It
// does not consult the environment.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Defaults()
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}
