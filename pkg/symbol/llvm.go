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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// unknownSymbol is what llvm-symbolizer prints for addresses it cannot name.
const unknownSymbol = "??"

var ErrMisalignedResponse = errors.New("symbolizer response does not line up with the request")

// Resolver resolves addresses within a single image to function names.
// Addresses that cannot be named are absent from the result.
type Resolver interface {
	Resolve(ctx context.Context, image string, addrs map[uint64]struct{}) (map[uint64]string, error)
}

var _ Resolver = (*LLVMSymbolizer)(nil)

// LLVMSymbolizer resolves addresses by running llvm-symbolizer once per image
// with every address of the batch on its standard input.
type LLVMSymbolizer struct {
	logger  log.Logger
	path    string
	timeout time.Duration

	run func(ctx context.Context, obj string, input []byte) ([]byte, error)
}

// NewLLVMSymbolizer creates a resolver executing the llvm-symbolizer binary at
// path. A non-zero timeout bounds every invocation.
func NewLLVMSymbolizer(logger log.Logger, path string, timeout time.Duration) *LLVMSymbolizer {
	s := &LLVMSymbolizer{
		logger:  log.With(logger, "component", "llvm_symbolizer"),
		path:    path,
		timeout: timeout,
	}
	s.run = s.exec
	return s
}

func (s *LLVMSymbolizer) Resolve(ctx context.Context, image string, addrs map[uint64]struct{}) (map[uint64]string, error) {
	if len(addrs) == 0 {
		return map[uint64]string{}, nil
	}

	sorted := make([]uint64, 0, len(addrs))
	for addr := range addrs {
		sorted = append(sorted, addr)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	input := bytes.NewBuffer(make([]byte, 0, len(sorted)*12))
	for _, addr := range sorted {
		fmt.Fprintf(input, "0x%x\n", addr)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.run(ctx, image, input.Bytes())
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", s.path, err)
	}

	names, err := parseResponse(sorted, out)
	if err != nil {
		return nil, fmt.Errorf("symbolize %s: %w", image, err)
	}
	return names, nil
}

func (s *LLVMSymbolizer) exec(ctx context.Context, obj string, input []byte) ([]byte, error) {
	// Inlining is disabled so that every address yields exactly one
	// function/location pair.
	cmd := exec.CommandContext(ctx, s.path,
		"--obj="+obj,
		"--inlining=false",
		"--functions=linkage",
		"--demangle",
	)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		level.Debug(s.logger).Log(
			"msg", "external llvm-symbolizer command call failed",
			"output", strings.ReplaceAll(stderr.String(), "\n", " "),
			"file", obj,
		)
		return nil, err
	}
	return stdout.Bytes(), nil
}

// parseResponse maps the output of a batch back to the sorted request.
//
// The output is positional: a function line followed by a location line for
// every address, blank separator lines aside. A short response means the pairs
// cannot be attributed reliably, so none of them are used.
func parseResponse(addrs []uint64, out []byte) (map[uint64]string, error) {
	lines := make([]string, 0, 2*len(addrs))
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) < 2*len(addrs) {
		return nil, fmt.Errorf("%w: got %d lines for %d addresses", ErrMisalignedResponse, len(lines), len(addrs))
	}

	res := make(map[uint64]string, len(addrs))
	for i, addr := range addrs {
		name := strings.TrimSpace(lines[2*i])
		if name == unknownSymbol {
			continue
		}
		res[addr] = name
	}
	return res, nil
}
