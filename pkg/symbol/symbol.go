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

package symbol

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/parca-dev/simpleperf-fold/pkg/debuginfo"
	"github.com/parca-dev/simpleperf-fold/pkg/simpleperf"
)

// Finder locates the local copy of a recorded image.
type Finder interface {
	Find(ctx context.Context, image string) (string, error)
}

// Stats summarizes a symbolization run.
type Stats struct {
	Images             int
	ImagesResolved     int
	ImagesFailed       int
	ImagesSkipped      int
	AddressesRequested int
	AddressesResolved  int
}

// Symbolizer resolves the addresses of the sampled frames to function names
// using the binaries found in the symbol store.
type Symbolizer struct {
	logger  log.Logger
	metrics *metrics

	finder      Finder
	resolver    Resolver
	kernel      Resolver
	filter      ImageFilter
	parallelism int
}

type Option func(*Symbolizer)

// WithKernelResolver resolves kernel frames with r. Kernel frames are left
// alone otherwise.
func WithKernelResolver(r Resolver) Option {
	return func(s *Symbolizer) {
		s.kernel = r
	}
}

func NewSymbolizer(
	logger log.Logger,
	reg prometheus.Registerer,
	finder Finder,
	resolver Resolver,
	filter ImageFilter,
	parallelism int,
	opts ...Option,
) *Symbolizer {
	if filter == nil {
		filter = DefaultImageFilter
	}
	if parallelism < 1 {
		parallelism = 1
	}
	s := &Symbolizer{
		logger:  log.With(logger, "component", "symbolizer"),
		metrics: newMetrics(reg),

		finder:      finder,
		resolver:    resolver,
		filter:      filter,
		parallelism: parallelism,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Symbolize resolves every resolvable frame of the given samples.
//
// Images that cannot be found or symbolized are logged and left out of the
// returned cache, their frames fall back to the recorded names. Only
// cancellation of ctx results in an error.
func (s *Symbolizer) Symbolize(ctx context.Context, samples []simpleperf.Sample) (*Cache, Stats, error) {
	filter := s.filter
	if s.kernel != nil {
		filter = func(image string) bool {
			return image == simpleperf.KernelImage || s.filter(image)
		}
	}
	byImage := CollectAddresses(samples, filter)

	images := make([]string, 0, len(byImage))
	for image := range byImage {
		images = append(images, image)
	}
	sort.Strings(images)

	var (
		cache   = NewCache()
		results = make([]imageResult, len(images))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, image := range images {
		i, image := i, image
		g.Go(func() error {
			res, err := s.symbolizeImage(ctx, image, byImage[image])
			if err != nil {
				return err
			}
			cache.add(image, res.names)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{Images: len(images)}
	for _, r := range results {
		stats.AddressesRequested += r.requested
		stats.AddressesResolved += len(r.names)
		switch r.result {
		case resultResolved:
			stats.ImagesResolved++
		case resultFailed:
			stats.ImagesFailed++
		case resultSkipped:
			stats.ImagesSkipped++
		}
	}
	return cache, stats, nil
}

type result int

const (
	resultResolved result = iota
	resultFailed
	resultSkipped
)

type imageResult struct {
	result    result
	requested int
	names     map[uint64]string
}

// symbolizeImage only returns an error when ctx is done.
func (s *Symbolizer) symbolizeImage(ctx context.Context, image string, addrs map[uint64]struct{}) (imageResult, error) {
	logger := log.With(s.logger, "image", image)

	if image == simpleperf.KernelImage && s.kernel != nil {
		return s.resolve(ctx, logger, s.kernel, image, addrs)
	}

	path, err := s.finder.Find(ctx, image)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return imageResult{}, ctxErr
		}
		s.metrics.imagesSkipped.Inc()
		if errors.Is(err, debuginfo.ErrNotFound) {
			level.Info(logger).Log("msg", "no local copy of image found, skipping")
		} else {
			level.Warn(logger).Log("msg", "failed to locate image, skipping", "err", err)
		}
		return imageResult{result: resultSkipped}, nil
	}

	return s.resolve(ctx, logger, s.resolver, path, addrs)
}

func (s *Symbolizer) resolve(ctx context.Context, logger log.Logger, resolver Resolver, path string, addrs map[uint64]struct{}) (imageResult, error) {
	s.metrics.addressesRequested.Add(float64(len(addrs)))
	start := time.Now()
	names, err := resolver.Resolve(ctx, path, addrs)
	s.metrics.resolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// A canceled parent context surfaces here as well.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return imageResult{}, ctxErr
		}
		s.metrics.imagesFailed.Inc()
		level.Warn(logger).Log("msg", "failed to symbolize image, using recorded names", "path", path, "err", err)
		return imageResult{result: resultFailed, requested: len(addrs)}, nil
	}

	s.metrics.imagesResolved.Inc()
	s.metrics.addressesResolved.Add(float64(len(names)))
	level.Debug(logger).Log("msg", "symbolized image", "path", path, "requested", len(addrs), "resolved", len(names))
	return imageResult{result: resultResolved, requested: len(addrs), names: names}, nil
}
