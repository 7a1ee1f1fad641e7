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

package ktfs

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ktfsos/pkg/blockcache"
	"ktfsos/pkg/ioh"
	"ktfsos/pkg/kerr"
	"ktfsos/pkg/storage/ramdisk"
)

// writeBlock stores buf (padded/truncated to blkSize) at block index idx.
func writeBlock(t *testing.T, d *ramdisk.Disk, idx int, buf []byte) {
	t.Helper()
	full := make([]byte, blkSize)
	copy(full, buf)
	if _, err := d.Store(int64(idx)*blkSize, full); err != nil {
		t.Fatalf("Store block %d: %v", idx, err)
	}
}

func superblockBytes(blockCount, k, b, n, rootIno uint32) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], blockCount)
	binary.LittleEndian.PutUint32(buf[4:8], k)
	binary.LittleEndian.PutUint32(buf[8:12], b)
	binary.LittleEndian.PutUint32(buf[12:16], n)
	binary.LittleEndian.PutUint32(buf[16:20], rootIno)
	return buf
}

func inodeBytes(size uint32, direct [numDirect]uint32, indirect uint32, dindirect [numDindirect]uint32) []byte {
	buf := make([]byte, inodeSize)
	binary.LittleEndian.PutUint32(buf[0:4], size)
	for i, v := range direct {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], v)
	}
	binary.LittleEndian.PutUint32(buf[20:24], indirect)
	for i, v := range dindirect {
		binary.LittleEndian.PutUint32(buf[24+4*i:28+4*i], v)
	}
	return buf
}

func direntBytes(ino uint32, name string) []byte {
	buf := make([]byte, direntSize)
	binary.LittleEndian.PutUint32(buf[0:4], ino)
	copy(buf[4:16], name)
	return buf
}

// simpleImage builds the scenario-5 fixture: K=B=N=1, root inode 0 is a
// directory with one entry "hello" -> inode 1, inode 1 is a 4-byte file
// "TEST" stored entirely in its first direct block.
func simpleImage(t *testing.T) *ramdisk.Disk {
	t.Helper()
	const numBlocks = 6 // 0:super 1:ibm 2:bbm 3:itable 4:dirblock 5:data
	d := ramdisk.New(numBlocks*blkSize, blkSize)
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	writeBlock(t, d, 0, superblockBytes(numBlocks, 1, 1, 1, 0))

	itable := make([]byte, blkSize)
	copy(itable[0:inodeSize], inodeBytes(direntSize, [numDirect]uint32{4, 0, 0, 0}, 0, [numDindirect]uint32{0, 0}))
	copy(itable[inodeSize:2*inodeSize], inodeBytes(4, [numDirect]uint32{5, 0, 0, 0}, 0, [numDindirect]uint32{0, 0}))
	writeBlock(t, d, 3, itable)

	writeBlock(t, d, 4, direntBytes(1, "hello"))
	writeBlock(t, d, 5, []byte("TEST"))

	return d
}

func mountDisk(t *testing.T, d *ramdisk.Disk) *FS {
	t.Helper()
	c, err := blockcache.New(d)
	if err != nil {
		t.Fatalf("blockcache.New: %v", err)
	}
	fs, err := Mount(c)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func TestSimpleReadRoundTrip(t *testing.T) {
	d := simpleImage(t)
	fs := mountDisk(t, d)

	h, err := fs.Open("hello")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 4)
	n, err := h.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 4 || string(buf) != "TEST" {
		t.Fatalf("Read = %q (n=%d), want TEST", buf[:n], n)
	}

	var pos, end int64
	if err := h.Control(ioh.GetPos, &pos); err != nil {
		t.Fatalf("GetPos: %v", err)
	}
	if pos != 4 {
		t.Fatalf("pos = %d, want 4", pos)
	}
	if err := h.Control(ioh.GetEnd, &end); err != nil {
		t.Fatalf("GetEnd: %v", err)
	}
	if end != 4 {
		t.Fatalf("end = %d, want 4", end)
	}

	n2, err := h.Read(buf)
	if err != nil {
		t.Fatalf("Read past end: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("Read past end = %d bytes, want 0", n2)
	}
}

func TestOpenRejectsBadNames(t *testing.T) {
	d := simpleImage(t)
	fs := mountDisk(t, d)

	for _, name := range []string{"", "/", "\\", "a/b"} {
		if _, err := fs.Open(name); err != kerr.NotSup {
			t.Fatalf("Open(%q) = %v, want kerr.NotSup", name, err)
		}
	}
	if _, err := fs.Open("missing"); err != kerr.NoEnt {
		t.Fatalf("Open(missing) = %v, want kerr.NoEnt", err)
	}
}

func TestSetPosBounds(t *testing.T) {
	d := simpleImage(t)
	fs := mountDisk(t, d)
	h, err := fs.Open("hello")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := h.Control(ioh.SetPos, int64(4)); err != nil {
		t.Fatalf("SetPos(4): %v", err)
	}
	if err := h.Control(ioh.SetPos, int64(5)); err != kerr.Inval {
		t.Fatalf("SetPos(5) = %v, want kerr.Inval", err)
	}
	var pos int64
	if err := h.Control(ioh.GetPos, &pos); err != nil {
		t.Fatalf("GetPos: %v", err)
	}
	if pos != 4 {
		t.Fatalf("pos after rejected SetPos = %d, want unchanged 4", pos)
	}
}

// indirectAndDindirectImage builds the scenario-6 fixture: inode 2 has 4
// direct blocks each filled with a distinct byte and one indirect block
// whose first target is filled with a fifth byte; inode 3 has a single
// double-indirect chain whose leaf block starts with "DOUBLE-INDIRECT!".
func indirectAndDindirectImage(t *testing.T) *ramdisk.Disk {
	t.Helper()
	// Layout: 0 super, 1 ibm, 2 bbm, 3 itable, 4 root dirblock,
	// 6-9 inode2 direct data (A..D), 10 indirect target (E),
	// 11 inode2 indirect block, 12 inode3 dindirect L1 block,
	// 13 inode3 dindirect L2 block, 14 double-indirect leaf data.
	const numBlocks = 15
	d := ramdisk.New(numBlocks*blkSize, blkSize)
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	writeBlock(t, d, 0, superblockBytes(numBlocks, 1, 1, 1, 0))

	itable := make([]byte, blkSize)
	// inode 0: root dir, two entries (indirect, dindir) at block 4
	copy(itable[0*inodeSize:1*inodeSize], inodeBytes(2*direntSize, [numDirect]uint32{4, 0, 0, 0}, 0, [numDindirect]uint32{0, 0}))
	// inode 2: 4 direct + 1 indirect, size covers direct+indirect span
	copy(itable[2*inodeSize:3*inodeSize], inodeBytes(
		uint32((numDirect+1)*blkSize), [numDirect]uint32{6, 7, 8, 9}, 11, [numDindirect]uint32{0, 0}))
	// inode 3: one double-indirect chain only
	copy(itable[3*inodeSize:4*inodeSize], inodeBytes(
		uint32((numDirect+entriesPerIndirect+1)*blkSize), [numDirect]uint32{0, 0, 0, 0}, 0, [numDindirect]uint32{12, 0}))
	writeBlock(t, d, 3, itable)

	dirblock := make([]byte, blkSize)
	copy(dirblock[0:direntSize], direntBytes(2, "indirect"))
	copy(dirblock[direntSize:2*direntSize], direntBytes(3, "dindir"))
	writeBlock(t, d, 4, dirblock)

	fillBlock := func(idx int, b byte) {
		buf := make([]byte, blkSize)
		for i := range buf {
			buf[i] = b
		}
		writeBlock(t, d, idx, buf)
	}
	fillBlock(6, 'A')
	fillBlock(7, 'B')
	fillBlock(8, 'C')
	fillBlock(9, 'D')
	fillBlock(10, 'E')

	// inode 2's indirect block: first uint32 entry points at block 10.
	indirectBlk := make([]byte, blkSize)
	binary.LittleEndian.PutUint32(indirectBlk[0:4], 10)
	writeBlock(t, d, 11, indirectBlk)

	// inode 3's dindirect[0] -> L1 block 12, L1[0] -> L2 block 13,
	// L2[0] -> data leaf block 14.
	l1 := make([]byte, blkSize)
	binary.LittleEndian.PutUint32(l1[0:4], 13)
	writeBlock(t, d, 12, l1)

	l2 := make([]byte, blkSize)
	binary.LittleEndian.PutUint32(l2[0:4], 14)
	writeBlock(t, d, 13, l2)

	leaf := make([]byte, blkSize)
	copy(leaf, "DOUBLE-INDIRECT!")
	for i := 16; i < len(leaf); i++ {
		leaf[i] = 'Z'
	}
	writeBlock(t, d, 14, leaf)

	return d
}

func TestDoubleIndirectRead(t *testing.T) {
	d := indirectAndDindirectImage(t)
	fs := mountDisk(t, d)

	h, err := fs.Open("dindir")
	if err != nil {
		t.Fatalf("Open(dindir): %v", err)
	}
	pos := int64(numDirect+entriesPerIndirect) * blkSize
	if err := h.Control(ioh.SetPos, pos); err != nil {
		t.Fatalf("SetPos: %v", err)
	}
	buf := make([]byte, 16)
	n, err := h.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 16 || string(buf) != "DOUBLE-INDIRECT!" {
		t.Fatalf("Read = %q (n=%d), want DOUBLE-INDIRECT!", buf[:n], n)
	}
}

func TestDirectThenIndirectBoundaryRead(t *testing.T) {
	d := indirectAndDindirectImage(t)
	fs := mountDisk(t, d)

	h, err := fs.Open("indirect")
	if err != nil {
		t.Fatalf("Open(indirect): %v", err)
	}
	pos := int64(4*blkSize - 8)
	if err := h.Control(ioh.SetPos, pos); err != nil {
		t.Fatalf("SetPos: %v", err)
	}
	buf := make([]byte, 16)
	n, err := h.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}
	want := "DDDDDDDDEEEEEEEE"
	if string(buf) != want {
		t.Fatalf("Read = %q, want %q", buf, want)
	}
}

func TestBlockMapHoleIsNoEnt(t *testing.T) {
	d := simpleImage(t)
	fs := mountDisk(t, d)
	in := inode{}
	if _, err := fs.blockMap(&in, 0); err != kerr.NoEnt {
		t.Fatalf("blockMap hole = %v, want kerr.NoEnt", err)
	}
}

func TestDecodeInodeRoundTrip(t *testing.T) {
	want := inode{
		size:      uint64((numDirect+1)*blkSize + 3),
		direct:    [numDirect]uint32{6, 7, 8, 9},
		indirect:  11,
		dindirect: [numDindirect]uint32{12, 0},
	}
	raw := inodeBytes(uint32(want.size), want.direct, want.indirect, want.dindirect)
	got := decodeInode(raw)
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(inode{})); diff != "" {
		t.Fatalf("decodeInode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDirentRoundTrip(t *testing.T) {
	want := dirent{ino: 3, name: "dindir"}
	raw := direntBytes(want.ino, want.name)
	got := decodeDirent(raw)
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(dirent{})); diff != "" {
		t.Fatalf("decodeDirent mismatch (-want +got):\n%s", diff)
	}
}

func TestMountRejectsBadSuperblock(t *testing.T) {
	d := ramdisk.New(blkSize, blkSize)
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	c, err := blockcache.New(d)
	if err != nil {
		t.Fatalf("blockcache.New: %v", err)
	}
	if _, err := Mount(c); err != kerr.BadFmt {
		t.Fatalf("Mount = %v, want kerr.BadFmt", err)
	}
}
