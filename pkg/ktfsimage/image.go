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

// Package ktfsimage encodes a KTFS disk image (superblock, bitmaps, inode
// table, root directory, data blocks) from a flat set of named byte blobs.
// Used by cmd/mkktfs and by integration tests that want a reproducible
// on-disk layout without hand-assembling bytes block by block, the way
// zchee-go-qcow2 builds its header and cluster tables with binary.Write
// into fixed-layout structs.
package ktfsimage

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	blkSize = 512

	numDirect    = 4
	numDindirect = 2

	inodeSize  = 32
	direntSize = 16

	inodesPerBlock  = blkSize / inodeSize
	direntsPerBlock = blkSize / direntSize

	entriesPerIndirect = blkSize / 4
	dindirectSpan      = entriesPerIndirect * entriesPerIndirect

	maxNameLen = 11

	rootIno = 0
)

// maxFileBlocks is the largest number of 512-byte blocks a single file can
// span under this layout: direct + one indirect block's worth + two
// double-indirect chains.
const maxFileBlocks = numDirect + entriesPerIndirect + numDindirect*dindirectSpan

// Build lays out a KTFS image containing files (name -> content), returning
// the complete image bytes. Every name must satisfy KTFS's flat-namespace,
// bounded-length contract; every file must fit within maxFileBlocks blocks.
func Build(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		if len(name) == 0 || len(name) > maxNameLen {
			return nil, fmt.Errorf("ktfsimage: name %q exceeds %d bytes", name, maxNameLen)
		}
		names = append(names, name)
	}
	sort.Strings(names) // deterministic layout

	b := &builder{}
	b.reserve(1) // block 0: superblock, filled in last

	const k, bbm = 1, 1
	b.reserve(k)   // inode bitmap
	b.reserve(bbm) // block bitmap

	numFiles := len(names)
	totalInodes := numFiles + 1 // + root directory inode
	n := (totalInodes + inodesPerBlock - 1) / inodesPerBlock
	if n == 0 {
		n = 1
	}
	inodeTblStart := b.nextBlock
	b.reserve(n)

	inodes := make([]inodeRec, totalInodes)

	dirEntries := make([]byte, 0, numFiles*direntSize)
	for i, name := range names {
		ino := i + 1
		content := files[name]
		blocks, err := b.layFile(content)
		if err != nil {
			return nil, err
		}
		inodes[ino] = blocks
		inodes[ino].size = uint32(len(content))
		dirEntries = append(dirEntries, direntBytes(uint32(ino), name)...)
	}

	rootBlocks, err := b.layFile(dirEntries)
	if err != nil {
		return nil, err
	}
	rootBlocks.size = uint32(len(dirEntries))
	inodes[rootIno] = rootBlocks

	itable := make([]byte, n*blkSize)
	for i, in := range inodes {
		copy(itable[i*inodeSize:(i+1)*inodeSize], in.encode())
	}
	b.writeAt(inodeTblStart, itable)

	total := b.nextBlock
	super := make([]byte, blkSize)
	binary.LittleEndian.PutUint32(super[0:4], uint32(total))
	binary.LittleEndian.PutUint32(super[4:8], uint32(k))
	binary.LittleEndian.PutUint32(super[8:12], uint32(bbm))
	binary.LittleEndian.PutUint32(super[12:16], uint32(n))
	binary.LittleEndian.PutUint32(super[16:20], uint32(rootIno))
	b.writeAt(0, super)

	return b.image, nil
}

// builder accumulates the growing image byte slice and hands out fresh
// block indices.
type builder struct {
	image     []byte
	nextBlock int
}

func (b *builder) reserve(n int) int {
	start := b.nextBlock
	b.image = append(b.image, make([]byte, n*blkSize)...)
	b.nextBlock += n
	return start
}

func (b *builder) writeAt(block int, data []byte) {
	copy(b.image[block*blkSize:], data)
}

// inodeRec is the in-memory staging form of an on-disk inode while the
// image is being built.
type inodeRec struct {
	size      uint32
	direct    [numDirect]uint32
	indirect  uint32
	dindirect [numDindirect]uint32
}

func (r inodeRec) encode() []byte {
	buf := make([]byte, inodeSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.size)
	for i, v := range r.direct {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], v)
	}
	binary.LittleEndian.PutUint32(buf[20:24], r.indirect)
	for i, v := range r.dindirect {
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

// layFile allocates and writes the data blocks (plus any indirect/
// double-indirect index blocks) needed to hold content, returning the
// inode fields that reference them.
func (b *builder) layFile(content []byte) (inodeRec, error) {
	nblocks := (len(content) + blkSize - 1) / blkSize
	if nblocks > maxFileBlocks {
		return inodeRec{}, fmt.Errorf("ktfsimage: file spans %d blocks, max is %d", nblocks, maxFileBlocks)
	}

	var rec inodeRec
	dataBlocks := make([]int, nblocks)
	for i := 0; i < nblocks; i++ {
		blk := b.reserve(1)
		dataBlocks[i] = blk
		start := i * blkSize
		end := start + blkSize
		if end > len(content) {
			end = len(content)
		}
		b.writeAt(blk, content[start:end])
	}

	idx := 0
	for ; idx < numDirect && idx < nblocks; idx++ {
		rec.direct[idx] = uint32(dataBlocks[idx])
	}
	if idx >= nblocks {
		return rec, nil
	}

	indirectBlk := b.reserve(1)
	rec.indirect = uint32(indirectBlk)
	entries := make([]byte, blkSize)
	for i := 0; idx < nblocks && i < entriesPerIndirect; i, idx = i+1, idx+1 {
		binary.LittleEndian.PutUint32(entries[i*4:i*4+4], uint32(dataBlocks[idx]))
	}
	b.writeAt(indirectBlk, entries)
	if idx >= nblocks {
		return rec, nil
	}

	for d := 0; d < numDindirect && idx < nblocks; d++ {
		l1Blk := b.reserve(1)
		rec.dindirect[d] = uint32(l1Blk)
		l1 := make([]byte, blkSize)
		for l1i := 0; idx < nblocks && l1i < entriesPerIndirect; l1i++ {
			l2Blk := b.reserve(1)
			binary.LittleEndian.PutUint32(l1[l1i*4:l1i*4+4], uint32(l2Blk))
			l2 := make([]byte, blkSize)
			for l2i := 0; idx < nblocks && l2i < entriesPerIndirect; l2i, idx = l2i+1, idx+1 {
				binary.LittleEndian.PutUint32(l2[l2i*4:l2i*4+4], uint32(dataBlocks[idx]))
			}
			b.writeAt(l2Blk, l2)
		}
		b.writeAt(l1Blk, l1)
	}
	return rec, nil
}
