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

package debuginfo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	burrow "github.com/goburrow/cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parca-dev/simpleperf-fold/pkg/cache"
)

var ErrNotFound = errors.New("not found")

// Finder locates local copies of binaries in the symbol store.
type Finder struct {
	logger  log.Logger
	metrics *metrics

	// Base name lookups, a found path (string) or ErrNotFound (error).
	cache burrow.Cache
	roots []symbolRoot
}

type symbolRoot struct {
	dir  string
	fsys fs.FS
}

// NewFinder creates a new Finder searching the given directories in order.
func NewFinder(logger log.Logger, reg prometheus.Registerer, dirs []string) *Finder {
	roots := make([]symbolRoot, 0, len(dirs))
	for _, dir := range dirs {
		roots = append(roots, symbolRoot{dir: dir, fsys: os.DirFS(dir)})
	}
	return newFinder(logger, reg, roots)
}

func newFinder(logger log.Logger, reg prometheus.Registerer, roots []symbolRoot) *Finder {
	c := burrow.New(
		burrow.WithMaximumSize(1024), // Arbitrary cache size.
		burrow.WithStatsCounter(cache.NewStatsCounter(reg, "debuginfo_find")),
	)
	return &Finder{
		logger:  log.With(logger, "component", "finder"),
		metrics: newMetrics(reg),
		cache:   c,
		roots:   roots,
	}
}

// Find returns the local file for the image recorded at the given path.
//
// The recorded path is first joined with each symbol directory. When none of
// them has it, the symbol directories are searched for a file with the same
// base name and the first one in walk order is used instead. ErrNotFound is
// returned when both strategies miss.
func (f *Finder) Find(ctx context.Context, image string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	logger := log.With(f.logger, "image", image)

	rel := strings.TrimLeft(filepath.ToSlash(image), "/")
	if fs.ValidPath(rel) && rel != "." {
		for _, root := range f.roots {
			info, err := fs.Stat(root.fsys, rel)
			if err == nil && !info.IsDir() {
				f.metrics.findDirect.Inc()
				return filepath.Join(root.dir, filepath.FromSlash(rel)), nil
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				level.Warn(logger).Log("msg", "failed to stat symbol file", "dir", root.dir, "err", err)
			}
		}
	}

	file, err := f.search(ctx, path.Base(rel))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			f.metrics.findMiss.Inc()
		}
		return "", err
	}

	f.metrics.findSubstitute.Inc()
	level.Info(logger).Log("msg", "using substitute path", "path", file)
	return file, nil
}

func (f *Finder) search(ctx context.Context, base string) (string, error) {
	if base == "" || base == "." || base == "/" {
		return "", ErrNotFound
	}

	if val, ok := f.cache.GetIfPresent(base); ok {
		switch v := val.(type) {
		case string:
			return v, nil
		case error:
			return "", v
		default:
			// We didn't put you there?!
			return "", errors.New("unexpected type")
		}
	}

	file, err := f.walk(ctx, base)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			f.cache.Put(base, err)
		}
		return "", err
	}

	f.cache.Put(base, file)
	return file, nil
}

func (f *Finder) walk(ctx context.Context, base string) (string, error) {
	for _, root := range f.roots {
		var found string
		err := fs.WalkDir(root.fsys, ".", func(p string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				level.Debug(f.logger).Log("msg", "skipping unreadable path", "dir", root.dir, "path", p, "err", err)
				return nil
			}
			if d.IsDir() || d.Name() != base {
				return nil
			}
			found = p
			return fs.SkipAll
		})
		if err != nil {
			return "", fmt.Errorf("search %s: %w", root.dir, err)
		}
		if found != "" {
			return filepath.Join(root.dir, filepath.FromSlash(found)), nil
		}
	}
	return "", ErrNotFound
}

// Close releases the resources of the lookup cache.
func (f *Finder) Close() error {
	return f.cache.Close()
}
