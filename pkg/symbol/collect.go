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
	"regexp"
	"strings"

	"github.com/parca-dev/simpleperf-fold/pkg/simpleperf"
)

// ImageFilter reports whether the image at the given recorded path is worth
// sending to the symbolizer.
type ImageFilter func(image string) bool

// DefaultImageFilter accepts absolute, library-like paths. Pseudo entries such
// as "[vdso]" or anonymous JIT regions have no backing file to symbolize.
func DefaultImageFilter(image string) bool {
	return strings.HasPrefix(image, "/") && strings.Contains(image, "lib")
}

// NewImageFilter extends DefaultImageFilter with additional patterns.
func NewImageFilter(patterns []*regexp.Regexp) ImageFilter {
	if len(patterns) == 0 {
		return DefaultImageFilter
	}
	return func(image string) bool {
		if DefaultImageFilter(image) {
			return true
		}
		for _, re := range patterns {
			if re.MatchString(image) {
				return true
			}
		}
		return false
	}
}

// CollectAddresses groups the distinct addresses of every resolvable frame by
// image.
func CollectAddresses(samples []simpleperf.Sample, filter ImageFilter) map[string]map[uint64]struct{} {
	if filter == nil {
		filter = DefaultImageFilter
	}

	res := map[string]map[uint64]struct{}{}
	for _, s := range samples {
		for _, f := range s.Stack {
			if f.Image == "" || !f.HasAddr || !filter(f.Image) {
				continue
			}
			addrs, ok := res[f.Image]
			if !ok {
				addrs = map[uint64]struct{}{}
				res[f.Image] = addrs
			}
			addrs[f.Addr] = struct{}{}
		}
	}
	return res
}
