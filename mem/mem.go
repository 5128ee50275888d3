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

// Package mem provides the page-level memory that the malloc package
// manages. A Heap reserves a fixed arena once and grows the managed
// region inside it with Sbrk, so addresses handed out never move.
package mem

import (
	"errors"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

const (
	// DefaultMaxHeap is the reservation size used when New is given a
	// non-positive max (20MB).
	DefaultMaxHeap = 20 << 20

	// align is the payload alignment quantum, two machine words. The
	// managed region starts on an align boundary.
	align = 2 * int(unsafe.Sizeof(uintptr(0)))
)

var (
	ErrOutOfMemory       = errors.New("mem: out of heap memory")
	ErrNegativeIncrement = errors.New("mem: negative sbrk increment")
)

// Heap is a monotonically-growing memory region carved out of a single
// reservation. The zero value is not usable; call New.
type Heap struct {
	arena      []byte
	arenaStart unsafe.Pointer
	brk        int
}

// New reserves max bytes and returns a Heap whose managed region is
// empty. The reservation is not zeroed; like sbrk memory, its contents
// are dirty until written.
func New(max int) *Heap {
	if max <= 0 {
		max = DefaultMaxHeap
	}
	// Over-reserve by one quantum so the region can start aligned.
	raw := dirtmake.Bytes(max+align, max+align)
	if off := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(align-1)); off != 0 {
		raw = raw[align-off:]
	}
	raw = raw[:max]
	return &Heap{arena: raw, arenaStart: unsafe.Pointer(&raw[0])}
}

// Sbrk grows the managed region by incr bytes and returns the address
// of the first new byte. The region never moves and prior contents are
// preserved. Returns ErrOutOfMemory once the reservation is exhausted.
func (h *Heap) Sbrk(incr int) (unsafe.Pointer, error) {
	if incr < 0 {
		return nil, ErrNegativeIncrement
	}
	if h.brk+incr > len(h.arena) {
		return nil, ErrOutOfMemory
	}
	p := unsafe.Add(h.arenaStart, h.brk)
	h.brk += incr
	return p, nil
}

// Lo returns the address of the first byte of the managed region.
func (h *Heap) Lo() unsafe.Pointer { return h.arenaStart }

// Hi returns the address one past the last managed byte, the current
// high-water mark.
func (h *Heap) Hi() unsafe.Pointer { return unsafe.Add(h.arenaStart, h.brk) }

// Size returns the current extent of the managed region in bytes.
func (h *Heap) Size() int { return h.brk }

// Reset rewinds the break to zero so one reservation can back several
// allocator runs in turn.
func (h *Heap) Reset() { h.brk = 0 }
