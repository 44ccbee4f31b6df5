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

package flags

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/parca-dev/simpleperf-fold/pkg/config"
	"github.com/parca-dev/simpleperf-fold/pkg/fold"
)

var (
	version = "dev"
	commit  string
	date    string
)

const (
	OutputFormatFolded = "folded"
	OutputFormatPprof  = "pprof"
)

const description = `Fold the samples of a "simpleperf report-sample" text dump into
flamegraph-ready stacks, resolving native frames with llvm-symbolizer
against a local symbol store.`

// Parse parses the command line arguments and exits on errors.
func Parse() Flags {
	flags := Flags{}
	kong.Parse(&flags, options()...)
	return flags
}

func parse(args []string) (Flags, error) {
	flags := Flags{}
	parser, err := kong.New(&flags, options()...)
	if err != nil {
		return Flags{}, fmt.Errorf("create flag parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return Flags{}, err
	}
	return flags, nil
}

func options() []kong.Option {
	return []kong.Option{
		kong.Name("simpleperf-fold"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("%s (commit: %s, date: %s)", version, commit, date)},
	}
}

type Flags struct {
	Log     FlagsLogs        `embed:"" prefix:"log-"`
	Version kong.VersionFlag `help:"Show application version."`

	Input string `arg:"" help:"Path to the report-sample output, plain or gzip-compressed." name:"input"`

	ConfigPath string `default:"" help:"Path to config file."`

	SymbolsDir             []string `help:"Directory holding unstripped copies of the device binaries. Can be repeated, directories are searched in order." placeholder:"DIR"`
	ResolvableImagePattern []string `help:"Regular expression for additional image paths to symbolize, besides absolute library paths. Can be repeated." placeholder:"REGEXP"`
	KallsymsPath           string   `help:"Copy of /proc/kallsyms from the profiled device, used to resolve kernel frames." placeholder:"FILE"`

	Symbolizer FlagsSymbolizer `embed:"" prefix:"symbolizer-"`
	Output     FlagsOutput     `embed:"" prefix:"output-"`
	Fold       FlagsFold       `embed:"" prefix:"fold-"`

	MetricsFile string `default:"" help:"Write the run's metrics in the Prometheus text format to this file."`
}

// FlagsLogs contains flags for logging.
type FlagsLogs struct {
	Level  string `default:"info"   enum:"error,warn,info,debug" help:"Log level."`
	Format string `default:"logfmt" enum:"logfmt,json"           help:"Configure if structured logging as JSON or as logfmt"`
}

// FlagsSymbolizer contains flags for llvm-symbolizer. Unset flags fall back to
// the config file and then to the built-in defaults.
type FlagsSymbolizer struct {
	Path        string        `help:"Path to the llvm-symbolizer binary. (default: llvm-symbolizer)"`
	Timeout     time.Duration `help:"Maximum duration of a single llvm-symbolizer run. (default: 1m)"`
	Parallelism int           `help:"Number of images symbolized concurrently. (default: 4)"`
}

// FlagsOutput contains flags for the produced output.
type FlagsOutput struct {
	Format string `default:"folded" enum:"folded,pprof" help:"Output format."`
	File   string `default:""                           help:"Write the output to this file instead of stdout."`
}

// FlagsFold contains flags controlling how stacks are rendered.
type FlagsFold struct {
	Demangle      bool `default:"false" help:"Demangle recorded symbols that could not be resolved."`
	IncludeThread bool `default:"false" help:"Add the thread name as the root frame of every stack."`
}

// Config returns the configuration set on the command line.
func (f Flags) Config() config.Config {
	return config.Config{
		Symbolizer: config.SymbolizerConfig{
			Path:        f.Symbolizer.Path,
			Timeout:     f.Symbolizer.Timeout,
			Parallelism: f.Symbolizer.Parallelism,
		},
		SymbolDirectories:       f.SymbolsDir,
		ResolvableImagePatterns: f.ResolvableImagePattern,
		KallsymsPath:            f.KallsymsPath,
	}
}

// FoldOptions returns the options for rendering stacks.
func (f Flags) FoldOptions() fold.Options {
	return fold.Options{
		Demangle:      f.Fold.Demangle,
		IncludeThread: f.Fold.IncludeThread,
	}
}
