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

package simpleperf

// KernelImage is the image simpleperf records for kernel frames. Their
// addresses are kernel virtual addresses.
const KernelImage = "[kernel.kallsyms]"

// Frame is a single stack entry of a sample. Any of its fields may be absent:
// strings are empty and HasAddr is false when the dump did not record them.
type Frame struct {
	Symbol  string
	Image   string
	Addr    uint64
	HasAddr bool
}

func (f Frame) empty() bool {
	return f.Symbol == "" && f.Image == "" && !f.HasAddr
}

// Sample is one profiling event. Stack is ordered root first.
type Sample struct {
	Count  uint64
	Thread string
	Stack  []Frame
}

// Stats describes a single parser run.
type Stats struct {
	Lines     int
	Samples   int
	Dropped   int
	Anomalies int
}
