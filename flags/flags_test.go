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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parca-dev/simpleperf-fold/pkg/config"
)

func TestParseDefaults(t *testing.T) {
	flags, err := parse([]string{"perf.txt"})
	require.NoError(t, err)

	require.Equal(t, "perf.txt", flags.Input)
	require.Equal(t, "info", flags.Log.Level)
	require.Equal(t, "logfmt", flags.Log.Format)
	require.Equal(t, OutputFormatFolded, flags.Output.Format)
	require.Empty(t, flags.Output.File)
	require.False(t, flags.Fold.Demangle)

	// Unset symbolizer flags leave room for the config file.
	require.Equal(t, config.Config{}, flags.Config())
}

func TestParseAll(t *testing.T) {
	flags, err := parse([]string{
		"--log-level=debug",
		"--symbols-dir=/symbols",
		"--symbols-dir=/vendor-symbols",
		"--resolvable-image-pattern=\\.apk$",
		"--kallsyms-path=kallsyms.txt",
		"--symbolizer-path=/opt/llvm/bin/llvm-symbolizer",
		"--symbolizer-timeout=30s",
		"--symbolizer-parallelism=8",
		"--output-format=pprof",
		"--output-file=out.pb.gz",
		"--fold-demangle",
		"--fold-include-thread",
		"--metrics-file=metrics.prom",
		"perf.txt",
	})
	require.NoError(t, err)

	require.Equal(t, "debug", flags.Log.Level)
	require.Equal(t, OutputFormatPprof, flags.Output.Format)
	require.Equal(t, "out.pb.gz", flags.Output.File)
	require.Equal(t, "metrics.prom", flags.MetricsFile)
	require.True(t, flags.FoldOptions().Demangle)
	require.True(t, flags.FoldOptions().IncludeThread)

	require.Equal(t, config.Config{
		Symbolizer: config.SymbolizerConfig{
			Path:        "/opt/llvm/bin/llvm-symbolizer",
			Timeout:     30 * time.Second,
			Parallelism: 8,
		},
		SymbolDirectories:       []string{"/symbols", "/vendor-symbols"},
		ResolvableImagePatterns: []string{"\\.apk$"},
		KallsymsPath:            "kallsyms.txt",
	}, flags.Config())
}

func TestParseMissingInput(t *testing.T) {
	_, err := parse([]string{"--symbols-dir=/symbols"})
	require.Error(t, err)
}

func TestParseInvalidOutputFormat(t *testing.T) {
	_, err := parse([]string{"--output-format=svg", "perf.txt"})
	require.Error(t, err)
}
