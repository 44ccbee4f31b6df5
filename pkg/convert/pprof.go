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

package convert

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/pprof/profile"

	"github.com/parca-dev/simpleperf-fold/pkg/fold"
)

// FoldedToPprof converts folded stacks to a pprof profile with a single
// "samples/count" value. Every distinct frame label becomes one function with
// one location.
func FoldedToPprof(stacks *fold.FoldedStacks, captureTime time.Time) (*profile.Profile, error) {
	sorted := stacks.Sorted()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{
			Type: "samples",
			Unit: "count",
		}},
		TimeNanos: captureTime.UnixNano(),
		PeriodType: &profile.ValueType{
			Type: "samples",
			Unit: "count",
		},
		Period: 1,
		Sample: make([]*profile.Sample, 0, len(sorted)),
	}

	var (
		locationIndex uint64
		locationCache = map[string]*profile.Location{}
	)
	createOrGetLocation := func(name string) *profile.Location {
		if l, ok := locationCache[name]; ok {
			return l
		}
		locationIndex++

		f := &profile.Function{
			ID:         locationIndex,
			Name:       name,
			SystemName: name,
		}
		l := &profile.Location{
			ID:   locationIndex,
			Line: []profile.Line{{Function: f}},
		}
		locationCache[name] = l

		p.Location = append(p.Location, l)
		p.Function = append(p.Function, f)
		return l
	}

	for _, s := range sorted {
		if s.Count > math.MaxInt64 {
			return nil, fmt.Errorf("count %d of stack %q overflows pprof value", s.Count, s.Key())
		}

		// pprof locations are leaf first.
		locations := make([]*profile.Location, len(s.Frames))
		for i, frame := range s.Frames {
			locations[len(s.Frames)-1-i] = createOrGetLocation(frame)
		}

		p.Sample = append(p.Sample, &profile.Sample{
			Location: locations,
			Value:    []int64{int64(s.Count)},
		})
	}

	return p, p.CheckValid()
}

// WritePprof converts the folded stacks and writes them gzip-compressed to w.
func WritePprof(w io.Writer, stacks *fold.FoldedStacks, captureTime time.Time) error {
	p, err := FoldedToPprof(stacks, captureTime)
	if err != nil {
		return fmt.Errorf("convert folded stacks: %w", err)
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("write pprof: %w", err)
	}
	return nil
}
