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

import "sync"

// Cache holds the function names resolved during a single run, keyed by the
// image path as recorded in the sample dump and the address within it.
// Addresses the symbolizer could not name are never stored.
type Cache struct {
	mu    sync.RWMutex
	names map[cacheKey]string
}

type cacheKey struct {
	image string
	addr  uint64
}

func NewCache() *Cache {
	return &Cache{names: make(map[cacheKey]string)}
}

// Lookup returns the resolved name for addr in image.
func (c *Cache) Lookup(image string, addr uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[cacheKey{image, addr}]
	return name, ok
}

// Len returns the number of resolved addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

func (c *Cache) add(image string, names map[uint64]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, name := range names {
		c.names[cacheKey{image, addr}] = name
	}
}
