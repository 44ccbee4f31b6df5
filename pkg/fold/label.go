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

package fold

import (
	"path"
	"strconv"

	"github.com/ianlancetaylor/demangle"

	"github.com/parca-dev/simpleperf-fold/pkg/simpleperf"
)

const unknownFrame = "unknown"

// Names provides resolved function names.
type Names interface {
	Lookup(image string, addr uint64) (string, bool)
}

// Label renders a single frame.
//
// A resolved name wins over the symbol recorded by the profiler, which in
// turn wins over a synthesized "<image base name>[+<hex address>]" label.
func Label(f simpleperf.Frame, names Names, opts Options) string {
	if f.HasAddr && f.Image != "" && names != nil {
		if name, ok := names.Lookup(f.Image, f.Addr); ok {
			return name
		}
	}

	if f.Symbol != "" {
		if opts.Demangle {
			return demangle.Filter(f.Symbol)
		}
		return f.Symbol
	}

	switch {
	case f.Image != "" && f.HasAddr:
		return path.Base(f.Image) + "[+" + strconv.FormatUint(f.Addr, 16) + "]"
	case f.Image != "":
		return path.Base(f.Image)
	case f.HasAddr:
		return "[+" + strconv.FormatUint(f.Addr, 16) + "]"
	}
	return unknownFrame
}
