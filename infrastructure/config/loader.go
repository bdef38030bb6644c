// Package config loads run configuration from YAML or JSON files and builds
// the components a run needs.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/merlin-agent/domain/config"
)

// Format represents a configuration file format.
type Format string

const (
	// FormatYAML is the YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is the JSON format.
	FormatJSON Format = "json"
)

// Loader loads run configuration.
type Loader struct {
	// ExpandEnv enables environment variable expansion.
	ExpandEnv bool
	// StrictEnv fails if a referenced ${VAR} is unset.
	StrictEnv bool
	// Validate enables configuration validation.
	Validate bool
}

// NewLoader creates a new configuration loader with default settings.
func NewLoader() *Loader {
	return &Loader{
		ExpandEnv: true,
		Validate:  true,
	}
}

// LoaderOption configures the loader.
type LoaderOption func(*Loader)

// WithEnvExpansion enables or disables environment variable expansion.
func WithEnvExpansion(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.ExpandEnv = enabled
	}
}

// WithStrictEnv enables strict environment variable checking.
func WithStrictEnv(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.StrictEnv = enabled
	}
}

// WithValidation enables or disables configuration validation.
func WithValidation(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.Validate = enabled
	}
}

// NewLoaderWithOptions creates a loader with the specified options.
func NewLoaderWithOptions(opts ...LoaderOption) *Loader {
	l := NewLoader()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", config.ErrUnsupportedFormat, ext)
	}
}

// LoadFile loads configuration from a file path.
func (l *Loader) LoadFile(path string) (*config.Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return l.LoadBytes(data, format)
}

// Load loads configuration from a reader.
func (l *Loader) Load(r io.Reader, format Format) (*config.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return l.LoadBytes(data, format)
}

// LoadString loads configuration from a string.
func (l *Loader) LoadString(content string, format Format) (*config.Config, error) {
	return l.LoadBytes([]byte(content), format)
}

// LoadBytes parses, defaults and validates configuration.
func (l *Loader) LoadBytes(data []byte, format Format) (*config.Config, error) {
	if l.ExpandEnv {
		expanded, err := newEnvExpander(l.StrictEnv).Expand(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrEnvExpansionFailed, err)
		}
		data = []byte(expanded)
	}

	cfg := &config.Config{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidFormat, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidFormat, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnsupportedFormat, format)
	}

	cfg.ApplyDefaults()

	if l.Validate {
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate checks cfg and wraps any violations in ErrValidationFailed.
// The returned error also unwraps to config.ValidationErrors.
func Validate(cfg *config.Config) error {
	if errs := config.NewValidator().Validate(cfg); errs.HasErrors() {
		return fmt.Errorf("%w: %w", config.ErrValidationFailed, errs)
	}
	return nil
}
