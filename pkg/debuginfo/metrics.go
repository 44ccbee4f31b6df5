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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	findDirect     prometheus.Counter
	findSubstitute prometheus.Counter
	findMiss       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	find := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleperf_fold_debuginfo_find_total",
			Help: "Number of image lookups in the symbol store by result.",
		},
		[]string{"result"},
	)
	return &metrics{
		findDirect:     find.WithLabelValues("direct"),
		findSubstitute: find.WithLabelValues("substitute"),
		findMiss:       find.WithLabelValues("miss"),
	}
}
