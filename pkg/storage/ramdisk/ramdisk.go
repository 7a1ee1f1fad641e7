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

// Package ramdisk is a plain in-memory storage.Device, the Go analogue of
// the original ramdisk.c memory-backed driver. Unlike the original (which is
// byte-granular and read-only), this one is block-granular and read/write so
// it can stand in directly for any cache/KTFS backing device in tests.
package ramdisk

import (
	"sync"

	"ktfsos/pkg/ioh"
	"ktfsos/pkg/kerr"
)

// Disk is a fixed-size byte buffer addressed at a configurable block size.
type Disk struct {
	mu     sync.Mutex
	blksz  int
	data   []byte
	opened bool

	// FetchCount and StoreCount record calls for test assertions (the
	// "Fetch count monotonicity" / dirty-propagation testable properties
	// need an observable count at the device, not just the cache).
	FetchCount int
	StoreCount int
}

// New returns a Disk of the given byte size with the given block size.
// size must be a multiple of blksz.
func New(size, blksz int) *Disk {
	return &Disk{blksz: blksz, data: make([]byte, size)}
}

// Fill runs fn over every byte index to seed a repeatable test pattern,
// e.g. d.Fill(func(i int) byte { return byte(i % 256) }).
func (d *Disk) Fill(fn func(i int) byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.data {
		d.data[i] = fn(i)
	}
}

// Bytes returns a copy of the current backing content, for assertions.
func (d *Disk) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

func (d *Disk) Blksz() int { return d.blksz }

func (d *Disk) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return kerr.Busy
	}
	d.opened = true
	return nil
}

func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

func (d *Disk) Fetch(pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || int(pos)+len(buf) > len(d.data) {
		return 0, kerr.Inval
	}
	n := copy(buf, d.data[pos:int(pos)+len(buf)])
	d.FetchCount++
	return n, nil
}

func (d *Disk) Store(pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || int(pos)+len(buf) > len(d.data) {
		return 0, kerr.Inval
	}
	n := copy(d.data[pos:int(pos)+len(buf)], buf)
	d.StoreCount++
	return n, nil
}

func (d *Disk) Control(op ioh.ControlOp, arg any) error {
	switch op {
	case ioh.GetEnd:
		end, ok := arg.(*int64)
		if !ok {
			return kerr.Inval
		}
		d.mu.Lock()
		*end = int64(len(d.data))
		d.mu.Unlock()
		return nil
	default:
		return kerr.NotSup
	}
}
