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

// Package filedisk is a storage.Device backed by an mmap'd regular file, the
// way a real block driver maps device memory rather than issuing read/write
// syscalls per request.
package filedisk

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"ktfsos/pkg/ioh"
	"ktfsos/pkg/kerr"
)

// Disk mmaps an on-disk image file and exposes it as a block-addressable
// storage.Device.
type Disk struct {
	mu     sync.Mutex
	blksz  int
	path   string
	file   *os.File
	region []byte
	opened bool
}

// Open mmaps the file at path as a Disk with the given block size. The file
// must already exist and have a size that is a multiple of blksz.
func Open(path string, blksz int) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size == 0 || size%int64(blksz) != 0 {
		f.Close()
		return nil, kerr.BadFmt
	}
	region, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Disk{blksz: blksz, path: path, file: f, region: region}, nil
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

// Close unmaps the region and closes the underlying file descriptor. Safe to
// call once; callers that want to reuse the Disk should re-Open a fresh one.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	var err error
	if d.region != nil {
		err = unix.Munmap(d.region)
		d.region = nil
	}
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (d *Disk) Fetch(pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || int(pos)+len(buf) > len(d.region) {
		return 0, kerr.Inval
	}
	return copy(buf, d.region[pos:int(pos)+len(buf)]), nil
}

func (d *Disk) Store(pos int64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || int(pos)+len(buf) > len(d.region) {
		return 0, kerr.Inval
	}
	return copy(d.region[pos:int(pos)+len(buf)], buf), nil
}

func (d *Disk) Control(op ioh.ControlOp, arg any) error {
	switch op {
	case ioh.GetEnd:
		end, ok := arg.(*int64)
		if !ok {
			return kerr.Inval
		}
		d.mu.Lock()
		*end = int64(len(d.region))
		d.mu.Unlock()
		return nil
	default:
		return kerr.NotSup
	}
}

// Sync flushes the mmap'd region back to the file, for callers that want a
// synchronous durability point beyond the cache's own flush.
func (d *Disk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.region == nil {
		return nil
	}
	return unix.Msync(d.region, unix.MS_SYNC)
}
