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
	"bytes"
	"context"
	"testing"
	"testing/fstest"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

const kallsyms = `
ffffffff8f6d1140 t udp_bpf_prots
ffffffff8f6d1480 t udpv6_prot_lock
ffffffff8f6d1488 t cipso_v4_rbm_optfmt
ffffffff8f6d149c b __key.2
ffffffff8f6d14a0 t sock_id
ffffffff8f6d14a4 t tcp_sock_id
ffffffff8f6d15e0 t xfrm_km_lock
ffffffff8f6d15e4 t xfrm_state_gc_lock
ffffffff8f6d1600 T xfrm_state_afinfo
ffffffff8f6d1780 T binder_ioctl	[binder]
not-an-address T broken
ffffffff8f6d15c4 t not_in_order
`

func newTestResolver(content string) *Resolver {
	return &Resolver{
		logger: log.NewNopLogger(),
		fs:     fstest.MapFS{"kallsyms": {Data: []byte(content)}},
		name:   "kallsyms",
	}
}

func TestResolve(t *testing.T) {
	r := newTestResolver(kallsyms)

	addr1 := uint64(0xffffffff8f6d14a4)
	addr2 := uint64(0xffffffff8f6d15e0)
	addrFirst := uint64(0xffffffff8f6d1140)
	addrNotInOrder := uint64(0xffffffff8f6d15c4)
	addrModule := uint64(0xffffffff8f6d1780)

	tests := []struct {
		name  string
		addrs map[uint64]struct{}
		want  map[uint64]string
	}{
		{
			name:  "inside functions",
			addrs: map[uint64]struct{}{addr1 + 1: {}, addr2 + 1: {}},
			want:  map[uint64]string{addr1 + 1: "tcp_sock_id", addr2 + 1: "xfrm_km_lock"},
		},
		{
			name:  "exact matches",
			addrs: map[uint64]struct{}{addr1: {}, addr2: {}},
			want:  map[uint64]string{addr1: "tcp_sock_id", addr2: "xfrm_km_lock"},
		},
		{
			name:  "first symbol",
			addrs: map[uint64]struct{}{addrFirst: {}, addrFirst + 1: {}},
			want:  map[uint64]string{addrFirst: "udp_bpf_prots", addrFirst + 1: "udp_bpf_prots"},
		},
		{
			name:  "out of order entry",
			addrs: map[uint64]struct{}{addrNotInOrder + 4: {}},
			want:  map[uint64]string{addrNotInOrder + 4: "not_in_order"},
		},
		{
			name:  "module symbol",
			addrs: map[uint64]struct{}{addrModule + 0x10: {}},
			want:  map[uint64]string{addrModule + 0x10: "binder_ioctl"},
		},
		{
			name:  "below the kernel",
			addrs: map[uint64]struct{}{0x1000: {}},
			want:  map[uint64]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), "[kernel.kallsyms]", tt.addrs)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveLoadsOnce(t *testing.T) {
	r := newTestResolver(kallsyms)

	_, err := r.Resolve(context.Background(), "[kernel.kallsyms]", map[uint64]struct{}{0xffffffff8f6d14a4: {}})
	require.NoError(t, err)

	// Served from memory.
	r.fs = fstest.MapFS{}
	got, err := r.Resolve(context.Background(), "[kernel.kallsyms]", map[uint64]struct{}{0xffffffff8f6d15e1: {}})
	require.NoError(t, err)
	require.Equal(t, map[uint64]string{0xffffffff8f6d15e1: "xfrm_km_lock"}, got)
}

func TestResolveHiddenAddresses(t *testing.T) {
	r := newTestResolver(`0000000000000000 t udp_bpf_prots
0000000000000000 T xfrm_state_afinfo
`)

	_, err := r.Resolve(context.Background(), "[kernel.kallsyms]", map[uint64]struct{}{0x10: {}})
	require.ErrorIs(t, err, ErrHiddenAddresses)
}

func TestResolveMissingFile(t *testing.T) {
	r := NewResolver(log.NewNopLogger(), "/nonexistent/kallsyms")
	_, err := r.Resolve(context.Background(), "[kernel.kallsyms]", map[uint64]struct{}{0x10: {}})
	require.Error(t, err)
}

func TestResolveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestResolver(kallsyms).Resolve(ctx, "[kernel.kallsyms]", map[uint64]struct{}{0x10: {}})
	require.ErrorIs(t, err, context.Canceled)
}

// Prevent the compiler from optimizing the benchmark out.
var result string

func BenchmarkUnsafeString(b *testing.B) {
	lines := bytes.Split([]byte(kallsyms), []byte("\n"))
	for n := 0; n < b.N; n++ {
		for _, line := range lines {
			if len(line) >= 16 {
				result = unsafeString(line[:16])
			}
		}
	}
}
