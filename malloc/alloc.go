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

// Package malloc implements a dynamic memory allocator over a single
// contiguous heap obtained from a mem.Heap. Blocks carry boundary tags
// at both ends, free blocks form an explicit doubly-linked list threaded
// through their payloads, placement is first fit with splitting, and
// freed blocks are merged with their free neighbors immediately.
package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/mallocx/mem"
)

// Allocator manages one heap. It is not safe for concurrent use;
// callers that share one across goroutines must serialize externally.
type Allocator struct {
	heap *mem.Heap

	// base is the prologue payload; address-order walks start here.
	base unsafe.Pointer

	// head is the most recently freed block, nil when none is free.
	head unsafe.Pointer

	chunk int
}

// New lays down the prologue and epilogue sentinels on h and extends
// the heap by the default chunk size (4KB).
func New(h *mem.Heap) (*Allocator, error) {
	return NewWithChunkSize(h, chunkSize)
}

// NewWithChunkSize is New with a custom extension granularity. chunk
// must be a positive multiple of the double word. The initial extension
// is never smaller than one minimum block.
func NewWithChunkSize(h *mem.Heap, chunk int) (*Allocator, error) {
	if chunk <= 0 || chunk%dwordSize != 0 {
		return nil, fmt.Errorf("malloc: chunk size must be a positive multiple of %d, got %d", dwordSize, chunk)
	}
	p, err := h.Sbrk(4 * wordSize)
	if err != nil {
		return nil, err
	}
	put(p, 0)                                          // alignment padding
	put(unsafe.Add(p, 1*wordSize), pack(dwordSize, 1)) // prologue header
	put(unsafe.Add(p, 2*wordSize), pack(dwordSize, 1)) // prologue footer
	put(unsafe.Add(p, 3*wordSize), pack(0, 1))         // epilogue header
	a := &Allocator{heap: h, base: unsafe.Add(p, 2*wordSize), chunk: chunk}
	words := a.chunk / wordSize
	if words < minBlock/wordSize {
		// The first free block must have room for its list links.
		words = minBlock / wordSize
	}
	if _, err := a.extendHeap(words); err != nil {
		return nil, err
	}
	return a, nil
}

// Malloc allocates a block with at least size bytes of payload. The
// returned slice has len size; its cap is the block's usable payload,
// which may be larger. Returns nil when size <= 0 or when the heap
// cannot be extended far enough.
func (a *Allocator) Malloc(size int) []byte {
	if size <= 0 {
		return nil
	}

	// Adjust for tag overhead and round up to the alignment quantum.
	var asize int
	if size <= 2*wordSize {
		asize = minBlock
	} else {
		asize = dwordSize * ((size + dwordSize + (dwordSize - 1)) / dwordSize)
		if asize < size { // overflow
			return nil
		}
	}

	bp := a.findFit(asize)
	if bp == nil {
		extend := asize
		if extend < 2*a.chunk {
			extend = 2 * a.chunk
		}
		var err error
		if bp, err = a.extendHeap(extend / wordSize); err != nil {
			return nil
		}
	}
	a.place(bp, asize)
	return payload(bp)[:size]
}

// Free returns buf's block to the allocator and merges it with any free
// neighbors. buf must be a slice previously returned by Malloc or
// Realloc, not resliced at the front; nil is ignored. Freeing a foreign
// pointer or freeing twice panics.
func (a *Allocator) Free(buf []byte) {
	bp := sliceData(buf)
	if bp == nil {
		return
	}
	a.freeBlock(bp)
}

func (a *Allocator) freeBlock(bp unsafe.Pointer) {
	a.checkOwned(bp)
	size := blockSize(bp)
	put(hdr(bp), pack(size, 0))
	put(ftr(bp), pack(size, 0))
	setFreeNext(bp, nil)
	setFreePrev(bp, nil)
	a.coalesce(bp)
}

// Realloc resizes the allocation backing buf to at least size bytes of
// payload. A nil buf behaves as Malloc(size); size 0 frees buf and
// returns nil. The block is grown in place when its successor is free
// and large enough; otherwise the leading bytes move to a fresh block
// and the old one is freed.
func (a *Allocator) Realloc(buf []byte, size int) []byte {
	bp := sliceData(buf)
	if bp == nil {
		return a.Malloc(size)
	}
	if size <= 0 {
		a.freeBlock(bp)
		return nil
	}
	a.checkOwned(bp)

	newSize := size + dwordSize
	if newSize < size { // overflow
		return nil
	}
	oldSize := blockSize(bp)
	if newSize <= oldSize {
		// The block already holds size bytes; no shrink split.
		return payload(bp)[:size]
	}

	if nxt := nextBlock(bp); !tagAlloc(hdr(nxt)) && oldSize+blockSize(nxt) >= newSize {
		// Absorb the free successor. Any residual stays inside the
		// allocated block.
		total := oldSize + blockSize(nxt)
		a.removeFree(nxt)
		put(hdr(bp), pack(total, 1))
		put(ftr(bp), pack(total, 1))
		return payload(bp)[:size]
	}

	nbuf := a.Malloc(newSize)
	if nbuf == nil {
		return nil
	}
	n := oldSize - dwordSize
	if n > size {
		n = size
	}
	copy(nbuf, unsafe.Slice((*byte)(bp), n))
	a.freeBlock(bp)
	return nbuf[:size]
}

// UsableSize reports the payload capacity of the block backing buf,
// which can exceed the requested size when the block was not split.
func (a *Allocator) UsableSize(buf []byte) int {
	bp := sliceData(buf)
	if bp == nil {
		return 0
	}
	a.checkOwned(bp)
	return blockSize(bp) - dwordSize
}

// HeapSize returns the current extent of the managed heap in bytes.
func (a *Allocator) HeapSize() int { return a.heap.Size() }

// Available returns the total payload bytes held by free blocks.
func (a *Allocator) Available() int {
	total := 0
	for bp := a.head; bp != nil; bp = freeNext(bp) {
		total += blockSize(bp) - dwordSize
	}
	return total
}

// findFit scans the free list from the head and returns the first
// block that can hold asize bytes, or nil.
func (a *Allocator) findFit(asize int) unsafe.Pointer {
	for bp := a.head; bp != nil; bp = freeNext(bp) {
		if blockSize(bp) >= asize {
			return bp
		}
	}
	return nil
}

// place carves an allocated block of asize bytes out of the free block
// at bp, splitting off the remainder as a new free block when it can
// still hold a minimum block.
func (a *Allocator) place(bp unsafe.Pointer, asize int) {
	csize := blockSize(bp)
	if csize-asize >= minBlock {
		put(hdr(bp), pack(asize, 1))
		put(ftr(bp), pack(asize, 1))
		a.removeFree(bp)
		rp := nextBlock(bp)
		put(hdr(rp), pack(csize-asize, 0))
		put(ftr(rp), pack(csize-asize, 0))
		setFreeNext(rp, nil)
		setFreePrev(rp, nil)
		a.coalesce(rp)
	} else {
		put(hdr(bp), pack(csize, 1))
		put(ftr(bp), pack(csize, 1))
		a.removeFree(bp)
	}
}

// coalesce merges the unlinked free block at bp with its free
// neighbors and pushes the result onto the free list. Every free block
// enters the list through here.
func (a *Allocator) coalesce(bp unsafe.Pointer) unsafe.Pointer {
	prevAlloc := tagAlloc(ftr(prevBlock(bp)))
	nextAlloc := tagAlloc(hdr(nextBlock(bp)))
	size := blockSize(bp)

	switch {
	case prevAlloc && nextAlloc:

	case prevAlloc && !nextAlloc:
		nxt := nextBlock(bp)
		size += blockSize(nxt)
		a.removeFree(nxt)
		put(hdr(bp), pack(size, 0))
		put(ftr(bp), pack(size, 0))

	case !prevAlloc && nextAlloc:
		prv := prevBlock(bp)
		size += blockSize(prv)
		a.removeFree(prv)
		// Footer first: its position still derives from bp's old header.
		put(ftr(bp), pack(size, 0))
		put(hdr(prv), pack(size, 0))
		bp = prv

	default:
		prv, nxt := prevBlock(bp), nextBlock(bp)
		size += blockSize(prv) + blockSize(nxt)
		a.removeFree(prv)
		a.removeFree(nxt)
		put(ftr(nxt), pack(size, 0))
		put(hdr(prv), pack(size, 0))
		bp = prv
	}

	a.insertFree(bp)
	return bp
}

// extendHeap grows the heap by words machine words, rounded up to keep
// double-word alignment. The new region's first byte coincides with the
// old epilogue header's payload position, so the old epilogue becomes
// the new free block's header slot and a fresh epilogue is written at
// the new end.
func (a *Allocator) extendHeap(words int) (unsafe.Pointer, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize
	bp, err := a.heap.Sbrk(size)
	if err != nil {
		return nil, err
	}
	put(hdr(bp), pack(size, 0))
	put(ftr(bp), pack(size, 0))
	put(hdr(nextBlock(bp)), pack(0, 1)) // new epilogue
	setFreeNext(bp, nil)
	setFreePrev(bp, nil)
	return a.coalesce(bp), nil
}

// checkOwned panics when bp cannot be a live allocated payload of this
// heap. Full structural validation is Check's job, not the hot path's.
func (a *Allocator) checkOwned(bp unsafe.Pointer) {
	if uintptr(bp) <= uintptr(a.heap.Lo()) || uintptr(bp) >= uintptr(a.heap.Hi()) {
		panic("malloc: block not in heap")
	}
	if !tagAlloc(hdr(bp)) {
		panic("malloc: double free or invalid block")
	}
}

// payload returns the full usable payload of the block at bp.
func payload(bp unsafe.Pointer) []byte {
	return unsafe.Slice((*byte)(bp), blockSize(bp)-dwordSize)
}

// sliceData recovers the block pointer from a payload slice. Reading
// the slice header directly keeps zero-length payloads valid.
func sliceData(buf []byte) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&buf))
}
