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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/mallocx/mem"
)

// scratch returns an aligned raw region for fabricating blocks by hand.
func scratch(t *testing.T, size int) unsafe.Pointer {
	t.Helper()
	p, err := mem.New(size).Sbrk(size)
	require.NoError(t, err)
	return p
}

func TestPack(t *testing.T) {
	tests := []struct {
		size  int
		alloc uintptr
		want  uintptr
	}{
		{0, 1, 1},
		{dwordSize, 1, uintptr(dwordSize) | 1},
		{96, 0, 96},
		{96, 1, 97},
		{chunkSize, 0, chunkSize},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pack(tt.size, tt.alloc))
	}
}

func TestTagDecode(t *testing.T) {
	p := scratch(t, 64)
	put(p, pack(96, 1))
	assert.Equal(t, 96, tagSize(p))
	assert.True(t, tagAlloc(p))

	put(p, pack(4096, 0))
	assert.Equal(t, 4096, tagSize(p))
	assert.False(t, tagAlloc(p))
}

func TestBlockNavigation(t *testing.T) {
	p := scratch(t, 256)
	// Two adjacent hand-written blocks of 64 and 32 bytes, starting far
	// enough in that both tags of the first block fit.
	bp := unsafe.Add(p, 2*wordSize)
	put(hdr(bp), pack(64, 1))
	put(ftr(bp), pack(64, 1))
	require.Equal(t, 64, blockSize(bp))

	np := nextBlock(bp)
	assert.Equal(t, unsafe.Add(bp, 64), np)
	put(hdr(np), pack(32, 0))
	put(ftr(np), pack(32, 0))

	assert.Equal(t, bp, prevBlock(np))
	assert.Equal(t, unsafe.Add(np, 32), nextBlock(np))
	assert.False(t, tagAlloc(hdr(np)))
	assert.True(t, tagAlloc(ftr(bp)))
}

func TestFreeLinks(t *testing.T) {
	p := scratch(t, 256)
	x := unsafe.Add(p, 2*wordSize)
	y := unsafe.Add(p, 16*wordSize)

	setFreePrev(x, nil)
	setFreeNext(x, y)
	setFreePrev(y, x)
	setFreeNext(y, nil)

	assert.True(t, freePrev(x) == nil)
	assert.Equal(t, y, freeNext(x))
	assert.Equal(t, x, freePrev(y))
	assert.True(t, freeNext(y) == nil)
}

func TestFreeListOps(t *testing.T) {
	p := scratch(t, 512)
	a := &Allocator{}
	// Three fake free blocks; only their payload link words matter here.
	x := unsafe.Add(p, 2*wordSize)
	y := unsafe.Add(p, 16*wordSize)
	z := unsafe.Add(p, 32*wordSize)

	a.insertFree(x)
	a.insertFree(y)
	a.insertFree(z)
	assert.Equal(t, z, a.head) // LIFO
	assert.Equal(t, y, freeNext(z))
	assert.Equal(t, x, freeNext(y))
	assert.True(t, freeNext(x) == nil)

	a.removeFree(y) // middle
	assert.Equal(t, x, freeNext(z))
	assert.Equal(t, z, freePrev(x))

	a.removeFree(z) // head
	assert.Equal(t, x, a.head)
	assert.True(t, freePrev(x) == nil)

	a.removeFree(x) // last
	assert.True(t, a.head == nil)
}
