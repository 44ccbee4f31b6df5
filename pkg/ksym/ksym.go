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

package ksym

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrHiddenAddresses is returned for a kallsyms dump taken without the
// privileges to see kernel addresses, every address then reads as zero.
var ErrHiddenAddresses = errors.New("kallsyms addresses are hidden")

type kernelSymbol struct {
	addr uint64
	name string
}

// Resolver resolves kernel addresses using a copy of /proc/kallsyms taken
// from the profiled device.
type Resolver struct {
	logger log.Logger
	fs     fs.FS
	name   string

	mtx     sync.Mutex
	loaded  bool
	loadErr error
	symbols []kernelSymbol
}

// NewResolver creates a Resolver reading the kallsyms dump at path. The file
// is read on first use.
func NewResolver(logger log.Logger, path string) *Resolver {
	return &Resolver{
		logger: log.With(logger, "component", "ksym"),
		fs:     os.DirFS(filepath.Dir(path)),
		name:   filepath.Base(path),
	}
}

// Resolve returns the name of the kernel function containing each address.
// The image argument is not used, kernel frames all share one symbol table.
func (r *Resolver) Resolve(ctx context.Context, _ string, addrs map[uint64]struct{}) (map[uint64]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	symbols, err := r.load()
	if err != nil {
		return nil, err
	}

	res := make(map[uint64]string, len(addrs))
	for addr := range addrs {
		i := sort.Search(len(symbols), func(i int) bool { return symbols[i].addr > addr }) - 1
		if i < 0 {
			// Below the first kernel symbol.
			continue
		}
		res[addr] = symbols[i].name
	}
	return res, nil
}

func (r *Resolver) load() ([]kernelSymbol, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.loaded {
		return r.symbols, r.loadErr
	}
	r.loaded = true

	var (
		symbols []kernelSymbol
		nonZero bool
	)
	err := r.loadKsyms(func(addr uint64, name string) {
		if addr != 0 {
			nonZero = true
		}
		symbols = append(symbols, kernelSymbol{addr: addr, name: name})
	})
	if err != nil {
		r.loadErr = fmt.Errorf("read kallsyms: %w", err)
		return nil, r.loadErr
	}
	if len(symbols) > 0 && !nonZero {
		r.loadErr = ErrHiddenAddresses
		return nil, r.loadErr
	}

	// Not every kernel lists its symbols in address order.
	sort.SliceStable(symbols, func(i, j int) bool { return symbols[i].addr < symbols[j].addr })
	r.symbols = symbols
	level.Debug(r.logger).Log("msg", "loaded kernel symbols", "count", len(symbols))
	return r.symbols, nil
}

func unsafeString(b []byte) string {
	return *((*string)(unsafe.Pointer(&b)))
}

// loadKsyms calls f for every well-formed line of the kallsyms dump, which
// looks like "<hex address> <type> <name> [<module>]".
func (r *Resolver) loadKsyms(f func(addr uint64, name string)) error {
	fd, err := r.fs.Open(r.name)
	if err != nil {
		return err
	}
	defer fd.Close()

	s := bufio.NewScanner(fd)
	for s.Scan() {
		fields := bytes.Fields(s.Bytes())
		if len(fields) < 3 {
			continue
		}

		addr, err := strconv.ParseUint(unsafeString(fields[0]), 16, 64)
		if err != nil {
			level.Debug(r.logger).Log("msg", "failed to parse kallsyms address", "line", s.Text())
			continue
		}
		f(addr, string(fields[2]))
	}
	return s.Err()
}
