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

// The free list is unsorted and LIFO: the head is always the most
// recently freed or coalesced block. Membership is exactly the blocks
// whose alloc bit is clear.

// insertFree pushes the unlinked free block bp at the head.
func (a *Allocator) insertFree(bp unsafe.Pointer) {
	if a.head != nil {
		setFreePrev(a.head, bp)
	}
	setFreeNext(bp, a.head)
	setFreePrev(bp, nil)
	a.head = bp
}

// removeFree splices bp out of the list and clears its links.
func (a *Allocator) removeFree(bp unsafe.Pointer) {
	prev, next := freePrev(bp), freeNext(bp)
	if prev != nil {
		setFreeNext(prev, next)
	} else {
		a.head = next
	}
	if next != nil {
		setFreePrev(next, prev)
	}
	setFreeNext(bp, nil)
	setFreePrev(bp, nil)
}
