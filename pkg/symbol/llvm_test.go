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
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		addrs   []uint64
		out     string
		want    map[uint64]string
		wantErr error
	}{
		{
			name:  "pairs",
			addrs: []uint64{0x10, 0x20},
			out:   "foo\n/src/foo.c:1:0\n\nbar\n/src/bar.c:2:0\n\n",
			want:  map[uint64]string{0x10: "foo", 0x20: "bar"},
		},
		{
			name:  "unknown is skipped",
			addrs: []uint64{0x10, 0x20},
			out:   "??\n??:0:0\n\nbar\n/src/bar.c:2:0\n",
			want:  map[uint64]string{0x20: "bar"},
		},
		{
			name:  "demangled names keep spaces",
			addrs: []uint64{0x1a2b},
			out:   "art::Thread::Run(void*)\n/src/thread.cc:10:0\n",
			want:  map[uint64]string{0x1a2b: "art::Thread::Run(void*)"},
		},
		{
			name:    "short response",
			addrs:   []uint64{0x10, 0x20},
			out:     "foo\n/src/foo.c:1:0\n\nbar\n",
			wantErr: ErrMisalignedResponse,
		},
		{
			name:    "empty response",
			addrs:   []uint64{0x10},
			out:     "",
			wantErr: ErrMisalignedResponse,
		},
		{
			name:  "crlf line endings",
			addrs: []uint64{0x10},
			out:   "foo\r\n/src/foo.c:1:0\r\n\r\n",
			want:  map[uint64]string{0x10: "foo"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(tt.addrs, []byte(tt.out))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseResponse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLLVMSymbolizerResolve(t *testing.T) {
	s := NewLLVMSymbolizer(log.NewNopLogger(), "llvm-symbolizer", time.Minute)

	var (
		gotObj   string
		gotInput string
	)
	s.run = func(_ context.Context, obj string, input []byte) ([]byte, error) {
		gotObj = obj
		gotInput = string(input)
		return []byte("first\na.c:1:0\n\n??\n??:0:0\n\nthird\nc.c:3:0\n\n"), nil
	}

	got, err := s.Resolve(context.Background(), "/symbols/libfoo.so", map[uint64]struct{}{
		0x300: {},
		0x10:  {},
		0x2a:  {},
	})
	require.NoError(t, err)
	require.Equal(t, "/symbols/libfoo.so", gotObj)
	require.Equal(t, "0x10\n0x2a\n0x300\n", gotInput)
	require.Equal(t, map[uint64]string{0x10: "first", 0x300: "third"}, got)
}

func TestLLVMSymbolizerResolveNoAddresses(t *testing.T) {
	s := NewLLVMSymbolizer(log.NewNopLogger(), "llvm-symbolizer", time.Minute)
	s.run = func(context.Context, string, []byte) ([]byte, error) {
		t.Fatal("symbolizer must not run without addresses")
		return nil, nil
	}

	got, err := s.Resolve(context.Background(), "/symbols/libfoo.so", nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLLVMSymbolizerResolveRunError(t *testing.T) {
	errBoom := errors.New("boom")
	s := NewLLVMSymbolizer(log.NewNopLogger(), "llvm-symbolizer", time.Minute)
	s.run = func(context.Context, string, []byte) ([]byte, error) {
		return nil, errBoom
	}

	_, err := s.Resolve(context.Background(), "/symbols/libfoo.so", map[uint64]struct{}{0x10: {}})
	require.ErrorIs(t, err, errBoom)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "llvm-symbolizer")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestLLVMSymbolizerExec(t *testing.T) {
	path := writeScript(t, `case "$1" in --obj=*) ;; *) exit 2 ;; esac
while read addr; do
  echo "func_$addr"
  echo "/src/file.c:1:0"
  echo
done
`)

	s := NewLLVMSymbolizer(log.NewNopLogger(), path, 10*time.Second)
	got, err := s.Resolve(context.Background(), "/symbols/libfoo.so", map[uint64]struct{}{
		0x1a2b: {},
		0x10:   {},
	})
	require.NoError(t, err)
	require.Equal(t, map[uint64]string{0x10: "func_0x10", 0x1a2b: "func_0x1a2b"}, got)
}

func TestLLVMSymbolizerExecFailure(t *testing.T) {
	path := writeScript(t, "echo 'cannot open file' >&2\nexit 1\n")

	s := NewLLVMSymbolizer(log.NewNopLogger(), path, 10*time.Second)
	_, err := s.Resolve(context.Background(), "/symbols/libfoo.so", map[uint64]struct{}{0x10: {}})
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
}

func TestLLVMSymbolizerExecMissingBinary(t *testing.T) {
	s := NewLLVMSymbolizer(log.NewNopLogger(), filepath.Join(t.TempDir(), "missing"), 10*time.Second)
	_, err := s.Resolve(context.Background(), "/symbols/libfoo.so", map[uint64]struct{}{0x10: {}})
	require.Error(t, err)
}

func TestLLVMSymbolizerExecTimeout(t *testing.T) {
	path := writeScript(t, "exec sleep 30\n")

	s := NewLLVMSymbolizer(log.NewNopLogger(), path, 100*time.Millisecond)
	_, err := s.Resolve(context.Background(), "/symbols/libfoo.so", map[uint64]struct{}{0x10: {}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
