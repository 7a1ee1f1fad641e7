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

package blockcache

import (
	"testing"

	"ktfsos/pkg/kerr"
	"ktfsos/pkg/storage/ramdisk"
)

func newTestDisk(t *testing.T, blocks int) *ramdisk.Disk {
	t.Helper()
	d := ramdisk.New(blocks*BlockSize, BlockSize)
	d.Fill(func(i int) byte { return byte(i % 256) })
	if err := d.Open(); err != nil {
		t.Fatalf("open ramdisk: %v", err)
	}
	return d
}

func TestCacheMissThenHit(t *testing.T) {
	d := newTestDisk(t, 2)
	c, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p1, err := c.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	for i := 0; i < 256; i++ {
		if p1[i] != byte(i) {
			t.Fatalf("byte %d: got %d want %d", i, p1[i], i)
		}
	}
	p2, err := c.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if !sameBacking(p1, p2) {
		t.Fatalf("hit identity violated: distinct buffers for same pos")
	}
	if d.FetchCount != 1 {
		t.Fatalf("fetch count = %d, want 1", d.FetchCount)
	}
}

func TestDirtyFlush(t *testing.T) {
	d := newTestDisk(t, 1)
	c, _ := New(d)

	buf, err := c.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	buf[0] = 0xAA
	buf[1] = 0x55
	if err := c.Release(buf, true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	data := d.Bytes()
	if data[0] != 0xAA || data[1] != 0x55 {
		t.Fatalf("backing bytes = %02x %02x, want aa 55", data[0], data[1])
	}
	if d.StoreCount != 1 {
		t.Fatalf("store count = %d, want 1", d.StoreCount)
	}
}

func TestCleanReleaseNoWriteback(t *testing.T) {
	d := newTestDisk(t, 1)
	c, _ := New(d)

	buf, _ := c.GetBlock(0)
	buf[0] = 0xFF
	if err := c.Release(buf, false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if d.StoreCount != 0 {
		t.Fatalf("store count = %d, want 0 for clean release", d.StoreCount)
	}
}

func TestPinnedDirtyFlushIsBusy(t *testing.T) {
	d := newTestDisk(t, 1)
	c, _ := New(d)

	if _, err := c.GetBlock(0); err != nil {
		t.Fatalf("GetBlock #1: %v", err)
	}
	buf, err := c.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock #2: %v", err)
	}
	buf[0] = 0x42
	if err := c.Release(buf, true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.Flush(); err != kerr.Busy {
		t.Fatalf("Flush = %v, want kerr.Busy", err)
	}
	if d.StoreCount != 0 {
		t.Fatalf("store count = %d, want 0", d.StoreCount)
	}

	if err := c.Release(buf, false); err != nil {
		t.Fatalf("Release remaining pin: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if d.StoreCount != 1 {
		t.Fatalf("store count = %d, want 1", d.StoreCount)
	}
}

func TestLRUOverflow(t *testing.T) {
	d := newTestDisk(t, NumSlots+1)
	c, _ := New(d)

	for i := 0; i < NumSlots; i++ {
		buf, err := c.GetBlock(int64(i) * BlockSize)
		if err != nil {
			t.Fatalf("GetBlock(%d): %v", i, err)
		}
		if err := c.Release(buf, false); err != nil {
			t.Fatalf("Release(%d): %v", i, err)
		}
	}
	buf, err := c.GetBlock(int64(NumSlots) * BlockSize)
	if err != nil {
		t.Fatalf("GetBlock(overflow): %v", err)
	}
	if err := c.Release(buf, false); err != nil {
		t.Fatalf("Release(overflow): %v", err)
	}
	if d.FetchCount != NumSlots+1 {
		t.Fatalf("fetch count = %d, want %d", d.FetchCount, NumSlots+1)
	}

	if _, err := c.GetBlock(0); err != nil {
		t.Fatalf("GetBlock(0) re-fetch: %v", err)
	}
	if d.FetchCount != NumSlots+2 {
		t.Fatalf("fetch count after re-get(0) = %d, want %d", d.FetchCount, NumSlots+2)
	}
}

func TestGetBlockMisaligned(t *testing.T) {
	d := newTestDisk(t, 1)
	c, _ := New(d)
	if _, err := c.GetBlock(1); err != kerr.Inval {
		t.Fatalf("GetBlock(1) = %v, want kerr.Inval", err)
	}
}

func TestNewRejectsBlockSizeMismatch(t *testing.T) {
	d := ramdisk.New(BlockSize, 256)
	if _, err := New(d); err != kerr.NotSup {
		t.Fatalf("New = %v, want kerr.NotSup", err)
	}
}

func TestAllSlotsPinnedIsBusy(t *testing.T) {
	d := newTestDisk(t, NumSlots+1)
	c, _ := New(d)
	for i := 0; i < NumSlots; i++ {
		if _, err := c.GetBlock(int64(i) * BlockSize); err != nil {
			t.Fatalf("GetBlock(%d): %v", i, err)
		}
	}
	if _, err := c.GetBlock(int64(NumSlots) * BlockSize); err != kerr.Busy {
		t.Fatalf("GetBlock(overflow) = %v, want kerr.Busy", err)
	}
}
