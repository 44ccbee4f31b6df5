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
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/parca-dev/simpleperf-fold/pkg/simpleperf"
)

// Options control how stacks are rendered.
type Options struct {
	// Demangle recorded symbols that were not resolved.
	Demangle bool
	// IncludeThread prepends the sampled thread name as the root frame.
	IncludeThread bool
}

// Stack is a folded call stack, root first, with its accumulated count.
type Stack struct {
	Frames []string
	Count  uint64
}

// Key returns the semicolon-joined form of the stack.
func (s Stack) Key() string {
	return strings.Join(s.Frames, ";")
}

// FoldedStacks aggregates counts per distinct stack, keeping the order in
// which stacks were first seen.
type FoldedStacks struct {
	index  map[string]int
	stacks []Stack
	total  uint64
}

func NewFoldedStacks() *FoldedStacks {
	return &FoldedStacks{index: map[string]int{}}
}

// Add accounts count to the stack made of the given frames.
func (fs *FoldedStacks) Add(frames []string, count uint64) {
	key := strings.Join(frames, ";")
	fs.total += count
	if i, ok := fs.index[key]; ok {
		fs.stacks[i].Count += count
		return
	}
	fs.index[key] = len(fs.stacks)
	fs.stacks = append(fs.stacks, Stack{Frames: frames, Count: count})
}

// Len returns the number of distinct stacks.
func (fs *FoldedStacks) Len() int {
	return len(fs.stacks)
}

// Total returns the sum of all counts.
func (fs *FoldedStacks) Total() uint64 {
	return fs.total
}

// Sorted returns the stacks by descending count. Stacks with equal counts
// keep their first-seen order.
func (fs *FoldedStacks) Sorted() []Stack {
	res := make([]Stack, len(fs.stacks))
	copy(res, fs.stacks)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Count > res[j].Count
	})
	return res
}

// WriteTo writes one "<stack> <count>" line per stack in sorted order.
func (fs *FoldedStacks) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var (
		n   int64
		buf []byte
	)
	for _, s := range fs.Sorted() {
		buf = buf[:0]
		for i, f := range s.Frames {
			if i > 0 {
				buf = append(buf, ';')
			}
			buf = append(buf, f...)
		}
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, s.Count, 10)
		buf = append(buf, '\n')

		written, err := bw.Write(buf)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Fold renders and aggregates the given samples. Samples without frames do
// not contribute.
func Fold(samples []simpleperf.Sample, names Names, opts Options) *FoldedStacks {
	fs := NewFoldedStacks()
	for _, s := range samples {
		if len(s.Stack) == 0 {
			continue
		}
		frames := make([]string, 0, len(s.Stack)+1)
		if opts.IncludeThread {
			thread := s.Thread
			if thread == "" {
				thread = unknownFrame
			}
			frames = append(frames, thread)
		}
		for _, f := range s.Stack {
			frames = append(frames, Label(f, names, opts))
		}
		fs.Add(frames, s.Count)
	}
	return fs
}
