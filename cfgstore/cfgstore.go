// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

// Package cfgstore provides a gpioirq.Store backed by layered configuration
// from the environment, a JSON config file and defaults.
//
// A path within a region maps to the key <region>.<path>, with the path
// separators replaced by dots, so the intcount of the default region may be
// set in the config file as
//
//	{"papsvc": {"gpioint": {"intcount": 2}}}
//
// or from the environment as GPIOIRQ_PAPSVC_GPIOINT_INTCOUNT=2.
// Arrays in the environment are comma separated, e.g.
// GPIOIRQ_PAPSVC_GPIOINT_CH0_PINCFG=4,7,2, so strings set there cannot
// contain commas.
package cfgstore

import (
	"fmt"
	"strings"

	"github.com/rfctl/gpioirq"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/cfgconv"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
	"github.com/warthog618/config/list"
)

// DefaultEnvPrefix is the prefix of environment variables read by the Store.
const DefaultEnvPrefix = "GPIOIRQ_"

// EnvListSeparator separates the elements of arrays set in the environment.
const EnvListSeparator = ","

// ConfigFileKey is the key that overrides the name of the config file.
const ConfigFileKey = "config.file"

// Store is a configuration database.
type Store struct {
	cfg *config.Config
}

type options struct {
	defaults  map[string]interface{}
	envPrefix string
	file      string
	override  config.Getter
}

// Option modifies the construction of a Store.
type Option func(*options)

// WithDefaults provides the values used when a key is not otherwise set.
func WithDefaults(d map[string]interface{}) Option {
	return func(o *options) {
		o.defaults = d
	}
}

// WithEnvPrefix overrides the prefix of environment variables.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithConfigFile reads the named JSON config file.
//
// The name can be overridden by the config.file key, e.g. by setting
// GPIOIRQ_CONFIG_FILE.
func WithConfigFile(name string) Option {
	return func(o *options) {
		o.file = name
	}
}

// WithOverride adds a source taking precedence over the environment and
// config file, such as command line flags.
func WithOverride(g config.Getter) Option {
	return func(o *options) {
		o.override = g
	}
}

// New creates a Store layering, in decreasing precedence, any override, the
// environment, the config file and the defaults.
func New(opts ...Option) *Store {
	o := options{
		defaults:  map[string]interface{}{},
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	def := dict.New(dict.WithMap(o.defaults))
	eg := env.New(
		env.WithEnvPrefix(o.envPrefix),
		env.WithListSplitter(list.NewSplitter(EnvListSeparator)))
	var cfg *config.Config
	if o.override != nil {
		cfg = config.New(o.override, eg, config.WithDefault(def))
	} else {
		cfg = config.New(eg, config.WithDefault(def))
	}
	if o.file != "" {
		cfg.Append(blob.NewConfigFile(cfg, ConfigFileKey, o.file, json.NewDecoder()))
	}
	return &Store{cfg: cfg}
}

// NewFromConfig creates a Store reading from an existing configuration.
func NewFromConfig(cfg *config.Config) *Store {
	return &Store{cfg: cfg}
}

// Key returns the configuration key for the path within the region.
func Key(region, path string) string {
	p := strings.Trim(path, "/")
	p = strings.ReplaceAll(p, "/", ".")
	if region == "" {
		return strings.ToLower(p)
	}
	return strings.ToLower(region + "." + p)
}

// U8Array returns count byte values stored at the path.
//
// A single value is accepted where count is 1.
func (s *Store) U8Array(region, path string, count int) ([]uint8, error) {
	k := Key(region, path)
	v, err := s.cfg.Get(k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, gpioirq.ErrConfigNotFound)
	}
	raw, err := cfgconv.IntSlice(v.Value())
	if err != nil && count == 1 {
		var x int64
		x, err = cfgconv.Int(v.Value())
		raw = []int64{x}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", gpioirq.ErrInvalidParameter, k, err)
	}
	if len(raw) < count {
		return nil, fmt.Errorf("%w: %s has %d values, expected %d",
			gpioirq.ErrInvalidParameter, k, len(raw), count)
	}
	u := make([]uint8, count)
	for i := range u {
		if raw[i] < 0 || raw[i] > 255 {
			return nil, fmt.Errorf("%w: %s[%d] value %d out of range",
				gpioirq.ErrInvalidParameter, k, i, raw[i])
		}
		u[i] = uint8(raw[i])
	}
	return u, nil
}

// String returns the string stored at the path.
func (s *Store) String(region, path string) (string, error) {
	k := Key(region, path)
	v, err := s.cfg.Get(k)
	if err != nil {
		return "", fmt.Errorf("%s: %w", k, gpioirq.ErrConfigNotFound)
	}
	return v.String(), nil
}
