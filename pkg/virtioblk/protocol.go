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
	"encoding/binary"
	"sync"
)

// SectorSize is the fixed sector granularity the block request protocol
// transfers, matching the cache's own BlockSize.
const SectorSize = 512

// Feature bits negotiated at Attach. Only the subset this driver cares
// about; real VirtIO devices offer many more.
type FeatureBit uint64

const (
	FeatureBlkSize     FeatureBit = 1 << 6  // VIRTIO_BLK_F_BLK_SIZE
	FeatureTopology    FeatureBit = 1 << 10 // VIRTIO_BLK_F_TOPOLOGY
	FeatureRingReset   FeatureBit = 1 << 40 // VIRTIO_F_RING_RESET
	FeatureIndirectDsc FeatureBit = 1 << 28 // VIRTIO_F_INDIRECT_DESC
)

// requiredFeatures must all be offered by the Bus or Attach fails.
const requiredFeatures = FeatureRingReset | FeatureIndirectDsc

// wantedFeatures are negotiated if offered but never required.
const wantedFeatures = FeatureBlkSize | FeatureTopology

// Request types carried in the 16-byte request header, matching
// VIRTIO_BLK_T_IN / VIRTIO_BLK_T_OUT.
const (
	reqTypeIn  uint32 = 0 // device reads from backing store into buffer
	reqTypeOut uint32 = 1 // device writes buffer into backing store
)

// Descriptor flag bits, matching the VirtIO split-queue descriptor layout.
const (
	descFNext  uint16 = 1
	descFWrite uint16 = 2
)

// reqHeader is the 16-byte request header: type, reserved, sector.
type reqHeader struct {
	typ      uint32
	reserved uint32
	sector   uint64
}

func encodeHeader(h reqHeader) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], h.typ)
	binary.LittleEndian.PutUint32(buf[4:8], h.reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.sector)
	return buf
}

func decodeHeader(buf []byte) (typ uint32, sector uint64) {
	typ = binary.LittleEndian.Uint32(buf[0:4])
	sector = binary.LittleEndian.Uint64(buf[8:16])
	return
}

// descriptor is one entry of the descriptor table. addr in the real
// protocol is a guest-physical address the device DMAs through; since this
// simulation runs driver and device in one Go address space, the
// descriptor instead holds the buffer slice directly — there is no second
// memory space to address into. See DESIGN.md for the full rationale.
type descriptor struct {
	buf   []byte
	flags uint16
	next  uint16
}

// usedElem is one entry of the used ring: which head descriptor completed,
// and how many bytes the device wrote.
type usedElem struct {
	id  uint32
	len uint32
}

// ticket is the per-in-flight-request completion record, keyed by its head
// descriptor index, exactly as the source reuses the head index as the
// ticket key so it doubles as the used ring's id field.
type ticket struct {
	done   bool
	status byte
	cond   *sync.Cond
}
