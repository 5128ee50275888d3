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

import (
	"fmt"
	"strings"
	"unsafe"
)

// Check walks the whole heap and the free list and verifies the
// allocator's structural invariants: sentinel shape, header/footer
// agreement, alignment, minimum size, full coalescing, and a faithful,
// symmetric free list. It returns an error naming the first violating
// block, or nil. Check never mutates the heap; it is a diagnostic, not
// part of the allocation path.
func (a *Allocator) Check() error {
	lo, hi := uintptr(a.heap.Lo()), uintptr(a.heap.Hi())

	if blockSize(a.base) != dwordSize || !tagAlloc(hdr(a.base)) {
		return fmt.Errorf("malloc: bad prologue tag %#x", get(hdr(a.base)))
	}
	if uintptr(a.base) != lo+uintptr(2*wordSize) {
		return fmt.Errorf("malloc: prologue payload %p not at heap base", a.base)
	}

	// Pass 1: address-order walk from the prologue to the epilogue.
	nfree := 0
	prevFree := false
	bp := nextBlock(a.base)
	for ; tagSize(hdr(bp)) != 0; bp = nextBlock(bp) {
		if uintptr(bp) >= hi {
			return fmt.Errorf("malloc: walk escaped the heap at %p", bp)
		}
		if err := checkBlock(bp); err != nil {
			return err
		}
		free := !tagAlloc(hdr(bp))
		if free && prevFree {
			return fmt.Errorf("malloc: adjacent free blocks at %p escaped coalescing", bp)
		}
		if free {
			nfree++
		}
		prevFree = free
	}
	if !tagAlloc(hdr(bp)) || uintptr(hdr(bp)) != hi-uintptr(wordSize) {
		return fmt.Errorf("malloc: bad epilogue at %p", bp)
	}

	// Pass 2: free-list walk from the head.
	if a.head != nil && freePrev(a.head) != nil {
		return fmt.Errorf("malloc: free-list head %p has a predecessor link", a.head)
	}
	seen := make(map[unsafe.Pointer]bool, nfree)
	visited := 0
	for fp := a.head; fp != nil; fp = freeNext(fp) {
		if visited++; visited > nfree {
			return fmt.Errorf("malloc: free list visits %d nodes but the heap has %d free blocks", visited, nfree)
		}
		if uintptr(fp) < lo || uintptr(fp) >= hi {
			return fmt.Errorf("malloc: free-list node %p outside the heap", fp)
		}
		if tagAlloc(hdr(fp)) {
			return fmt.Errorf("malloc: allocated block %p on the free list", fp)
		}
		if err := checkBlock(fp); err != nil {
			return err
		}
		if next := freeNext(fp); next != nil && freePrev(next) != fp {
			return fmt.Errorf("malloc: asymmetric free links between %p and %p", fp, next)
		}
		seen[fp] = true
	}

	// Pass 3: every free block in the heap is reachable from the head.
	if len(seen) != nfree {
		for bp := nextBlock(a.base); tagSize(hdr(bp)) != 0; bp = nextBlock(bp) {
			if !tagAlloc(hdr(bp)) && !seen[bp] {
				return fmt.Errorf("malloc: free block %p missing from the free list", bp)
			}
		}
		return fmt.Errorf("malloc: free list and heap disagree: %d listed, %d free blocks", len(seen), nfree)
	}
	return nil
}

// checkBlock verifies the per-block invariants: payload alignment,
// header/footer agreement and a legal size.
func checkBlock(bp unsafe.Pointer) error {
	if uintptr(bp)%uintptr(dwordSize) != 0 {
		return fmt.Errorf("malloc: payload %p is not double-word aligned", bp)
	}
	if get(hdr(bp)) != get(ftr(bp)) {
		return fmt.Errorf("malloc: block %p header %#x does not match footer %#x", bp, get(hdr(bp)), get(ftr(bp)))
	}
	if size := blockSize(bp); size%dwordSize != 0 || size < minBlock {
		return fmt.Errorf("malloc: block %p has illegal size %d", bp, size)
	}
	return nil
}

// DumpBlocks renders every block in address order, then the free list,
// for debugging. It does not validate; pair it with Check.
func (a *Allocator) DumpBlocks() string {
	var b strings.Builder
	fmt.Fprintf(&b, "heap (%p):\n", a.base)
	bp := a.base
	for ; tagSize(hdr(bp)) != 0; bp = nextBlock(bp) {
		fmt.Fprintf(&b, "%p: header [%d:%c] footer [%d:%c]\n", bp,
			tagSize(hdr(bp)), allocChar(tagAlloc(hdr(bp))),
			tagSize(ftr(bp)), allocChar(tagAlloc(ftr(bp))))
	}
	fmt.Fprintf(&b, "%p: epilogue [0:%c]\n", bp, allocChar(tagAlloc(hdr(bp))))
	b.WriteString("free list:")
	for fp := a.head; fp != nil; fp = freeNext(fp) {
		fmt.Fprintf(&b, " %p", fp)
	}
	b.WriteByte('\n')
	return b.String()
}

func allocChar(alloc bool) byte {
	if alloc {
		return 'a'
	}
	return 'f'
}
