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

package virtioblk

import (
	"sync"

	"ktfsos/pkg/kerr"
)

// Bus plays the device side of the split virtqueue protocol: it owns the
// raw backing bytes a real VirtIO-MMIO block device would expose through
// its shared-memory region, and answers descriptor chains a Driver
// publishes to the available ring. Bus and Driver share one address space,
// which is the one deliberate simplification from the real guest/host
// split documented in DESIGN.md.
type Bus struct {
	mu           sync.Mutex
	data         []byte
	features     FeatureBit
	lastAvailIdx uint16
}

// NewBus wraps data (must be a multiple of SectorSize) as the backing
// content of a simulated VirtIO block device offering the given feature
// bits.
func NewBus(data []byte, features FeatureBit) *Bus {
	return &Bus{data: data, features: features}
}

// Capacity reports the device's capacity in bytes, i.e. 512 * sector count.
func (b *Bus) Capacity() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// Features reports which feature bits this simulated device offers.
func (b *Bus) Features() FeatureBit {
	return b.features
}

// lastAvailIdxUnsafe and advanceAvail expose the device's own avail-ring
// consumption cursor to the service goroutine in driver.go, which always
// calls them with the driver's lock held; Driver.Close resets the cursor
// under that same lock, so it needs no locking of its own.
func (b *Bus) lastAvailIdxUnsafe() uint16 { return b.lastAvailIdx }

func (b *Bus) advanceAvail() { b.lastAvailIdx++ }

// service performs the actual transfer a request descriptor chain asks
// for: reqTypeIn copies from the backing bytes into data, reqTypeOut copies
// data into the backing bytes. Returns kerr.IO on an out-of-range sector.
func (b *Bus) service(typ uint32, sector uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := sector * SectorSize
	if pos+uint64(len(data)) > uint64(len(b.data)) {
		return kerr.IO
	}
	switch typ {
	case reqTypeIn:
		copy(data, b.data[pos:pos+uint64(len(data))])
	case reqTypeOut:
		copy(b.data[pos:pos+uint64(len(data))], data)
	default:
		return kerr.IO
	}
	return nil
}
