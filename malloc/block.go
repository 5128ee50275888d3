// Copyright 2025 CloudWeGo Authors
//
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

package malloc

import "unsafe"

const (
	// wordSize is the tag and link word width, one machine pointer.
	wordSize = int(unsafe.Sizeof(uintptr(0)))

	// dwordSize is the payload alignment quantum and size unit.
	dwordSize = 2 * wordSize

	// chunkSize is the default heap extension granularity.
	chunkSize = 1 << 12

	// minBlock holds header, footer and the two free-list links.
	minBlock = 4 * wordSize

	sizeMask = ^uintptr(dwordSize - 1)
)

// A block is laid out as
//
//	bp-wordSize:            header word (size | alloc bit)
//	bp:                     payload
//	bp+size-dwordSize:      footer word (identical to the header)
//	bp+size:                next block's header
//
// where bp is the payload address and size counts header and footer.
// Free blocks keep their list links in the first two payload words:
// the predecessor at bp, the successor at bp+wordSize.

func get(p unsafe.Pointer) uintptr    { return *(*uintptr)(p) }
func put(p unsafe.Pointer, v uintptr) { *(*uintptr)(p) = v }

// pack encodes a block size and its allocation bit into one tag word.
func pack(size int, alloc uintptr) uintptr { return uintptr(size) | alloc }

func tagSize(p unsafe.Pointer) int   { return int(get(p) & sizeMask) }
func tagAlloc(p unsafe.Pointer) bool { return get(p)&1 != 0 }

// hdr and ftr locate the tag words of the block whose payload starts
// at bp. ftr reads the size from the header, so the header must be
// written first.
func hdr(bp unsafe.Pointer) unsafe.Pointer { return unsafe.Add(bp, -wordSize) }
func ftr(bp unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(bp, blockSize(bp)-dwordSize)
}

// blockSize is the total size of the block at bp, tags included.
func blockSize(bp unsafe.Pointer) int { return tagSize(hdr(bp)) }

// nextBlock and prevBlock navigate in address order. prevBlock reads
// the previous block's footer, the word just before bp's header.
func nextBlock(bp unsafe.Pointer) unsafe.Pointer { return unsafe.Add(bp, blockSize(bp)) }
func prevBlock(bp unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(bp, -tagSize(unsafe.Add(bp, -dwordSize)))
}

func freePrev(bp unsafe.Pointer) unsafe.Pointer { return *(*unsafe.Pointer)(bp) }
func freeNext(bp unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Add(bp, wordSize))
}

func setFreePrev(bp, q unsafe.Pointer) { *(*unsafe.Pointer)(bp) = q }
func setFreeNext(bp, q unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Add(bp, wordSize)) = q
}
