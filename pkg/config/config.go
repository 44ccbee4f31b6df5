// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSymbolizerPath        = "llvm-symbolizer"
	DefaultSymbolizerTimeout     = time.Minute
	DefaultSymbolizerParallelism = 4
)

var ErrEmptyConfig = errors.New("empty config")

// Config holds the process-wide, read-only configuration of a run.
type Config struct {
	Symbolizer SymbolizerConfig `yaml:"symbolizer,omitempty"`
	// SymbolDirectories are the roots of the local symbol store, searched in order.
	SymbolDirectories []string `yaml:"symbol_directories,omitempty"`
	// ResolvableImagePatterns are Go regular expressions matching additional
	// image paths that should be sent to the symbolizer.
	ResolvableImagePatterns []string `yaml:"resolvable_image_patterns,omitempty"`
	// KallsymsPath is a copy of /proc/kallsyms from the profiled device used
	// to resolve kernel frames.
	KallsymsPath string `yaml:"kallsyms_path,omitempty"`
}

// SymbolizerConfig configures the external symbolizer.
type SymbolizerConfig struct {
	Path        string        `yaml:"path,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Parallelism int           `yaml:"parallelism,omitempty"`
}

func (c Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<error creating config string: %s>", err)
	}
	return string(b)
}

// Load parses the YAML input b into a Config.
func Load(b []byte) (*Config, error) {
	if len(b) == 0 {
		return nil, ErrEmptyConfig
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile parses the given YAML file into a Config.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(content)
	if err != nil {
		return nil, fmt.Errorf("parsing YAML file %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Symbolizer.Timeout < 0 {
		return fmt.Errorf("symbolizer timeout must not be negative, got %s", c.Symbolizer.Timeout)
	}
	if c.Symbolizer.Parallelism < 0 {
		return fmt.Errorf("symbolizer parallelism must not be negative, got %d", c.Symbolizer.Parallelism)
	}
	if _, err := c.ImagePatterns(); err != nil {
		return err
	}
	return nil
}

// ImagePatterns compiles ResolvableImagePatterns.
func (c Config) ImagePatterns() ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(c.ResolvableImagePatterns))
	for _, p := range c.ResolvableImagePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid resolvable image pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// Override returns a copy of c where every setting that is set in o wins.
func (c Config) Override(o Config) Config {
	if o.Symbolizer.Path != "" {
		c.Symbolizer.Path = o.Symbolizer.Path
	}
	if o.Symbolizer.Timeout != 0 {
		c.Symbolizer.Timeout = o.Symbolizer.Timeout
	}
	if o.Symbolizer.Parallelism != 0 {
		c.Symbolizer.Parallelism = o.Symbolizer.Parallelism
	}
	if len(o.SymbolDirectories) > 0 {
		c.SymbolDirectories = o.SymbolDirectories
	}
	if len(o.ResolvableImagePatterns) > 0 {
		c.ResolvableImagePatterns = o.ResolvableImagePatterns
	}
	if o.KallsymsPath != "" {
		c.KallsymsPath = o.KallsymsPath
	}
	return c
}

// WithDefaults fills in every unset symbolizer setting.
func (c Config) WithDefaults() Config {
	if c.Symbolizer.Path == "" {
		c.Symbolizer.Path = DefaultSymbolizerPath
	}
	if c.Symbolizer.Timeout == 0 {
		c.Symbolizer.Timeout = DefaultSymbolizerTimeout
	}
	if c.Symbolizer.Parallelism == 0 {
		c.Symbolizer.Parallelism = DefaultSymbolizerParallelism
	}
	return c
}
