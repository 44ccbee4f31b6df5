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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	imagesResolved prometheus.Counter
	imagesFailed   prometheus.Counter
	imagesSkipped  prometheus.Counter

	addressesRequested prometheus.Counter
	addressesResolved  prometheus.Counter

	resolveDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	images := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleperf_fold_symbolizer_images_total",
			Help: "Number of images handled by the symbolizer by result.",
		},
		[]string{"result"},
	)
	return &metrics{
		imagesResolved: images.WithLabelValues("resolved"),
		imagesFailed:   images.WithLabelValues("failed"),
		imagesSkipped:  images.WithLabelValues("skipped"),
		addressesRequested: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "simpleperf_fold_symbolizer_addresses_requested_total",
			Help: "Number of distinct addresses sent to the symbolizer.",
		}),
		addressesResolved: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "simpleperf_fold_symbolizer_addresses_resolved_total",
			Help: "Number of addresses the symbolizer returned a name for.",
		}),
		resolveDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "simpleperf_fold_symbolizer_resolve_duration_seconds",
			Help:    "Duration of a single symbolizer invocation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}
