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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/parca-dev/simpleperf-fold/flags"
	"github.com/parca-dev/simpleperf-fold/pkg/config"
	"github.com/parca-dev/simpleperf-fold/pkg/convert"
	"github.com/parca-dev/simpleperf-fold/pkg/debuginfo"
	"github.com/parca-dev/simpleperf-fold/pkg/fold"
	"github.com/parca-dev/simpleperf-fold/pkg/ksym"
	"github.com/parca-dev/simpleperf-fold/pkg/logger"
	"github.com/parca-dev/simpleperf-fold/pkg/simpleperf"
	"github.com/parca-dev/simpleperf-fold/pkg/symbol"
)

func main() {
	f := flags.Parse()

	logger := logger.NewLogger(f.Log.Level, f.Log.Format, "simpleperf-fold")

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		level.Debug(logger).Log("msg", fmt.Sprintf(format, a...))
	})); err != nil {
		level.Warn(logger).Log("msg", "failed to set GOMAXPROCS automatically", "err", err)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load configuration", "err", err)
		os.Exit(1)
	}
	level.Debug(logger).Log("msg", "configuration", "config", cfg.String())

	reg := prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return writeOutput(f.Output.File, func(w io.Writer) error {
			return foldProfile(ctx, logger, reg, f, cfg, w)
		})
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()

	if f.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(f.MetricsFile, reg); werr != nil {
			level.Warn(logger).Log("msg", "failed to write metrics", "file", f.MetricsFile, "err", werr)
		}
	}

	if err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			level.Info(logger).Log("msg", "interrupted", "signal", sigErr.Signal)
		} else {
			level.Error(logger).Log("msg", "failed to fold samples", "err", err)
		}
		os.Exit(1)
	}
}

// loadConfig combines the config file, if any, with the command line. Flags
// set on the command line take precedence.
func loadConfig(f flags.Flags) (config.Config, error) {
	cfg := config.Config{}
	if f.ConfigPath != "" {
		fileCfg, err := config.LoadFile(f.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *fileCfg
	}

	cfg = cfg.Override(f.Config()).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}

func foldProfile(
	ctx context.Context,
	logger log.Logger,
	reg prometheus.Registerer,
	f flags.Flags,
	cfg config.Config,
	w io.Writer,
) error {
	start := time.Now()

	samples, stats, err := simpleperf.ParseFile(logger, f.Input)
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}
	level.Info(logger).Log(
		"msg", "parsed sample dump",
		"lines", humanize.Comma(int64(stats.Lines)),
		"samples", humanize.Comma(int64(stats.Samples)),
		"dropped", stats.Dropped,
		"anomalies", stats.Anomalies,
	)

	var finder symbol.Finder = debuginfo.NoopFinder{}
	if len(cfg.SymbolDirectories) > 0 {
		df := debuginfo.NewFinder(logger, reg, cfg.SymbolDirectories)
		defer df.Close()
		finder = df
	} else {
		level.Info(logger).Log("msg", "no symbol directory configured, using recorded symbols only")
	}

	patterns, err := cfg.ImagePatterns()
	if err != nil {
		return err
	}

	var opts []symbol.Option
	if cfg.KallsymsPath != "" {
		opts = append(opts, symbol.WithKernelResolver(ksym.NewResolver(logger, cfg.KallsymsPath)))
	}

	symbolizer := symbol.NewSymbolizer(
		logger,
		reg,
		finder,
		symbol.NewLLVMSymbolizer(logger, cfg.Symbolizer.Path, cfg.Symbolizer.Timeout),
		symbol.NewImageFilter(patterns),
		cfg.Symbolizer.Parallelism,
		opts...,
	)
	cache, symStats, err := symbolizer.Symbolize(ctx, samples)
	if err != nil {
		return fmt.Errorf("symbolize: %w", err)
	}
	level.Info(logger).Log(
		"msg", "symbolized images",
		"images", symStats.Images,
		"resolved", symStats.ImagesResolved,
		"failed", symStats.ImagesFailed,
		"skipped", symStats.ImagesSkipped,
		"addresses", humanize.Comma(int64(symStats.AddressesRequested)),
		"names", humanize.Comma(int64(symStats.AddressesResolved)),
	)

	stacks := fold.Fold(samples, cache, f.FoldOptions())

	switch f.Output.Format {
	case flags.OutputFormatPprof:
		err = convert.WritePprof(w, stacks, start)
	default:
		_, err = stacks.WriteTo(w)
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	level.Info(logger).Log(
		"msg", "folded stacks",
		"stacks", humanize.Comma(int64(stacks.Len())),
		"total", humanize.Comma(int64(stacks.Total())),
		"format", f.Output.Format,
		"took", time.Since(start),
	)
	return nil
}
