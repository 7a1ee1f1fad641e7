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

// Package storage defines the backing storage descriptor contract consumed
// by the block cache and produced by every concrete device: the simulated
// VirtIO driver, the in-memory RAM disk, and the mmap'd file disk.
package storage

import (
	"fmt"
	"sync"

	"ktfsos/pkg/ioh"
)

// Device is the storage device contract: a fixed block size, a capacity,
// and positional fetch/store. Immutable after registration; owned by the
// driver that produced it.
type Device interface {
	// Blksz returns the fixed block size in bytes, a power of two.
	Blksz() int
	// Open acquires whatever per-driver exclusive resource this device
	// needs before Fetch/Store are usable.
	Open() error
	// Close releases it.
	Close() error
	// Fetch reads len(buf) bytes at byte offset pos into buf.
	Fetch(pos int64, buf []byte) (int, error)
	// Store writes len(buf) bytes at byte offset pos.
	Store(pos int64, buf []byte) (int, error)
	// Control dispatches a small set of device control operations; every
	// device supports at least ioh.GetEnd.
	Control(op ioh.ControlOp, arg any) error
}

// Registry is a named directory of storage devices, modeled on the teacher's
// blobserver constructor registry: write-once-at-attach, read-many-at-open,
// no lock needed once attach precedes the first lookup by convention, but we
// still guard it since cmd/* tools attach devices from goroutine-free code
// paths only by contract, not by enforcement.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewRegistry returns an empty device directory.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Device)}
}

// Register installs dev under name. Re-registering an existing name is an
// error: the mount/device table is append-only after boot.
func (r *Registry) Register(name string, dev Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[name]; exists {
		return fmt.Errorf("storage: device %q already registered", name)
	}
	r.devices[name] = dev
	return nil
}

// Lookup returns the device registered under name, or nil, false.
func (r *Registry) Lookup(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[name]
	return dev, ok
}

// Capacity is a convenience that issues a GetEnd control call and returns
// the byte capacity most devices report through it.
func Capacity(dev Device) (int64, error) {
	var end int64
	if err := dev.Control(ioh.GetEnd, &end); err != nil {
		return 0, err
	}
	return end, nil
}
