/*
Copyright 2025 The ktfsos Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package blockcache is the fixed-slot buffer pool sitting between KTFS and a
// storage.Device: it guarantees a single canonical buffer per (device,
// block position) while that buffer is pinned, and defers write-back to an
// explicit Flush.
package blockcache

import (
	"sync"

	"ktfsos/pkg/ioh"
	"ktfsos/pkg/kerr"
	"ktfsos/pkg/storage"
)

// NumSlots is the fixed slot count N from the source cache: 64 buffers, no
// more, no fewer.
const NumSlots = 64

// BlockSize is the fixed block size the cache requires of its backing
// device.
const BlockSize = 512

type slot struct {
	buf      []byte
	pos      int64
	valid    bool
	dirty    bool
	pin      int
	lastUsed uint64
}

// Cache is the fixed-capacity block cache. One Cache owns exactly one
// backing storage.Device.
type Cache struct {
	mu      sync.Mutex
	dev     storage.Device
	slots   [NumSlots]slot
	counter uint64

	hits    uint64
	misses  uint64
	evicts  uint64
}

// New allocates a Cache's NumSlots buffers over dev. dev's block size must
// equal BlockSize; that mismatch is kerr.NotSup, not kerr.Inval, because the
// cache itself is well-formed, it is simply incompatible with this device.
func New(dev storage.Device) (*Cache, error) {
	if dev == nil {
		return nil, kerr.Inval
	}
	if dev.Blksz() != BlockSize {
		return nil, kerr.NotSup
	}
	c := &Cache{dev: dev}
	for i := range c.slots {
		c.slots[i].buf = make([]byte, BlockSize)
	}
	return c, nil
}

// Stats is a read-only snapshot of cache counters, reintroduced from the
// source's debug counters for introspection and tests; it mutates nothing.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Evicts  uint64
	Pinned  int
}

// Stats returns the current hit/miss/eviction counts and the number of
// currently pinned slots.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	pinned := 0
	for i := range c.slots {
		if c.slots[i].pin > 0 {
			pinned++
		}
	}
	return Stats{Hits: c.hits, Misses: c.misses, Evicts: c.evicts, Pinned: pinned}
}

// GetBlock pins and returns the buffer for the block at byte position pos,
// fetching it from the backing device on a miss. The returned slice is the
// cache's own buffer; callers must Release it (and never hold it past
// Release).
func (c *Cache) GetBlock(pos int64) ([]byte, error) {
	if pos < 0 || pos%BlockSize != 0 {
		return nil, kerr.Inval
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.pos == pos {
			s.pin++
			c.counter++
			s.lastUsed = c.counter
			c.hits++
			return s.buf, nil
		}
	}

	victim := -1
	for i := range c.slots {
		if !c.slots[i].valid {
			victim = i
			break
		}
	}
	if victim < 0 {
		best := -1
		for i := range c.slots {
			if c.slots[i].pin != 0 {
				continue
			}
			if best < 0 || c.slots[i].lastUsed < c.slots[best].lastUsed {
				best = i
			}
		}
		if best < 0 {
			return nil, kerr.Busy
		}
		victim = best
	}

	s := &c.slots[victim]
	if s.valid && s.dirty {
		if _, err := c.dev.Store(s.pos, s.buf); err != nil {
			return nil, err
		}
		s.dirty = false
	}

	if _, err := c.dev.Fetch(pos, s.buf); err != nil {
		s.valid = false
		s.pin = 0
		return nil, err
	}

	wasValid := s.valid
	s.pos = pos
	s.valid = true
	s.dirty = false
	s.pin++
	c.counter++
	s.lastUsed = c.counter
	c.misses++
	if wasValid {
		c.evicts++
	}
	return s.buf, nil
}

// Release unpins buf, which must be a slice previously returned by
// GetBlock, and marks its slot dirty if dirty is true. The last-used stamp
// is intentionally not bumped here; freshness is set only at acquisition.
func (c *Cache) Release(buf []byte, dirty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		s := &c.slots[i]
		if sameBacking(s.buf, buf) {
			if dirty {
				s.dirty = true
			}
			if s.pin > 0 {
				s.pin--
			}
			return nil
		}
	}
	return kerr.Inval
}

// Flush walks every slot and writes back valid+dirty content. Pinned dirty
// slots are skipped (not written) and cause Flush to report kerr.Busy after
// finishing the rest of the walk; a store failure on an unpinned slot stops
// the walk immediately and that error is returned instead.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sawBusy := false
	for i := range c.slots {
		s := &c.slots[i]
		if !s.valid || !s.dirty {
			continue
		}
		if s.pin > 0 {
			sawBusy = true
			continue
		}
		if _, err := c.dev.Store(s.pos, s.buf); err != nil {
			return err
		}
		s.dirty = false
	}
	if sawBusy {
		return kerr.Busy
	}
	return nil
}

// sameBacking reports whether a and b are (possibly differently-sliced)
// views over the same underlying array, which is how Release recognizes
// "the buffer GetBlock handed out" without requiring callers to carry an
// opaque handle alongside their byte slice.
func sameBacking(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return &a[0] == &b[0]
}

// Control implements ioh.Ops.Control-compatible GetEnd for code that wants
// to expose the cache's backing device capacity through a uniform handle.
func (c *Cache) Control(op ioh.ControlOp, arg any) error {
	if op != ioh.GetEnd {
		return kerr.NotSup
	}
	return c.dev.Control(op, arg)
}
