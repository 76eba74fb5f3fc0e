// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads srctrace settings from YAML.
//
// Resolution order, lowest to highest priority:
//
//  1. Built-in defaults (Default)
//  2. The file named by --config, or .srctrace.yaml in the working directory
//  3. Environment overrides (SRCTRACE_CALLEE)
//  4. Command-line flags, applied by the caller
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
)

// FileName is the config file looked up in the working directory.
const FileName = ".srctrace.yaml"

// EnvCallee overrides Config.Callee.
const EnvCallee = "SRCTRACE_CALLEE"

// MaxFileBytes caps the size of a config file.
const MaxFileBytes = 1 << 20

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full srctrace configuration.
type Config struct {
	// Callee is the function inserted trace statements call.
	Callee string `yaml:"callee" validate:"required,callee"`

	// PathStyle is "absolute" or "relative".
	PathStyle string `yaml:"path_style" validate:"oneof=absolute relative"`

	// Root is the base directory for relative paths. Empty means the
	// working directory.
	Root string `yaml:"root"`

	// Mode is the default placement for trace output: "copy" or "in-place".
	Mode string `yaml:"mode" validate:"oneof=copy in-place"`

	// Strict fails files with syntax errors instead of warning.
	Strict bool `yaml:"strict"`

	// SkipDirs are directory names skipped during directory runs.
	SkipDirs []string `yaml:"skip_dirs" validate:"dive,required,excludesall=/\\"`

	Markers   MarkersConfig   `yaml:"markers"`
	Lock      LockConfig      `yaml:"lock"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// MarkersConfig names the filename segments of trace artifacts.
type MarkersConfig struct {
	Traced string `yaml:"traced" validate:"required,marker,nefield=Backup"`
	Backup string `yaml:"backup" validate:"required,marker"`
}

// LockConfig controls per-file advisory locks.
type LockConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir holds the lock files. Empty means $TMPDIR/srctrace-locks.
	Dir string `yaml:"dir"`
}

// JournalConfig controls the operation journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the badger directory. Empty means the user cache dir.
	Path string `yaml:"path"`

	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`

	// Dir, when set, also writes JSON logs to a dated file there.
	Dir string `yaml:"dir"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("marker", validateMarker)
	_ = validate.RegisterValidation("callee", validateCallee)
}

// validateMarker accepts a single filename segment.
func validateMarker(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), `./\ `)
}

// validateCallee accepts a dotted identifier path such as console.log or
// window.__trace. Anything else would break the inserted statement.
func validateCallee(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_' || r == '$':
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Callee:    instrument.DefaultCallee,
		PathStyle: string(instrument.PathAbsolute),
		Mode:      "copy",
		SkipDirs:  []string{"node_modules"},
		Markers: MarkersConfig{
			Traced: instrument.DefaultTracedMarker,
			Backup: instrument.DefaultBackupMarker,
		},
		Lock: LockConfig{Enabled: true},
		Journal: JournalConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
		},
		Log: LogConfig{Level: "warn"},
	}
}

// Load resolves the configuration.
//
// # Description
//
// If path is non-empty the file must exist. Otherwise FileName in the
// working directory is used when present, and defaults when it is not.
// Keys missing from the file keep their default values. The result is
// validated before it is returned.
//
// # Outputs
//
//   - Config: The resolved configuration.
//   - string: The file that was read, or "" when defaults were used.
//   - error: Wraps ErrInvalidConfig on any failure.
func Load(path string) (Config, string, error) {
	cfg := Default()

	source := path
	if source == "" {
		if _, err := os.Stat(FileName); err == nil {
			source = FileName
		}
	}

	if source != "" {
		if err := cfg.readFile(source); err != nil {
			return Config{}, source, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, source, err
	}
	return cfg, source, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: config file %s not found", ErrInvalidConfig, path)
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if info.Size() > MaxFileBytes {
		return fmt.Errorf("%w: config file %s exceeds %d bytes", ErrInvalidConfig, path, MaxFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.decode(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvCallee); v != "" {
		c.Callee = v
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "marker":
		return fmt.Sprintf("%s %q must be a single filename segment", field, fe.Value())
	case "callee":
		return fmt.Sprintf("%s %q is not a dotted identifier", field, fe.Value())
	case "nefield":
		return "markers.traced and markers.backup must differ"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// InPlace reports whether Mode selects in-place tracing.
func (c Config) InPlace() bool {
	return c.Mode == "in-place"
}

// ToMarkers returns the instrument marker pair.
func (c Config) ToMarkers() instrument.Markers {
	return instrument.Markers{Traced: c.Markers.Traced, Backup: c.Markers.Backup}
}

// Formatter returns the statement formatter described by c.
func (c Config) Formatter() instrument.StatementFormatter {
	root := c.Root
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return instrument.StatementFormatter{
		Callee: c.Callee,
		Style:  instrument.PathStyle(c.PathStyle),
		Root:   root,
	}
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
