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

package cache

import (
	"time"

	burrow "github.com/goburrow/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// StatsCounter records the stats of a goburrow cache as Prometheus metrics.
// It is meant to be passed to the cache with burrow.WithStatsCounter.
type StatsCounter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	eviction prometheus.Counter
}

var _ burrow.StatsCounter = (*StatsCounter)(nil)

// NewStatsCounter creates a StatsCounter whose metrics carry the given cache
// name as the "cache" label.
func NewStatsCounter(reg prometheus.Registerer, name string) *StatsCounter {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"cache": name}, reg)
	requests := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "simpleperf_fold_cache_requests_total",
		Help: "Total number of cache requests.",
	}, []string{"result"})
	return &StatsCounter{
		hits:   requests.WithLabelValues("hit"),
		misses: requests.WithLabelValues("miss"),
		eviction: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "simpleperf_fold_cache_evictions_total",
			Help: "Total number of cache evictions.",
		}),
	}
}

func (c *StatsCounter) RecordHits(hits uint64) {
	c.hits.Add(float64(hits))
}

func (c *StatsCounter) RecordMisses(misses uint64) {
	c.misses.Add(float64(misses))
}

// RecordLoadSuccess is only called by loading caches, which are not tracked.
func (c *StatsCounter) RecordLoadSuccess(time.Duration) {}

// RecordLoadError is only called by loading caches, which are not tracked.
func (c *StatsCounter) RecordLoadError(time.Duration) {}

func (c *StatsCounter) RecordEviction() {
	c.eviction.Inc()
}

// Snapshot is called by the Stats method of the cache.
func (c *StatsCounter) Snapshot(s *burrow.Stats) {
	s.HitCount = counterValue(c.hits)
	s.MissCount = counterValue(c.misses)
	s.EvictionCount = counterValue(c.eviction)
}

func counterValue(c prometheus.Counter) uint64 {
	pb := &dto.Metric{}
	if err := c.Write(pb); err != nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}
