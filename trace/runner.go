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

package trace

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cloudwego/mallocx/malloc"
	"github.com/cloudwego/mallocx/mem"
)

// Result summarizes one replay.
type Result struct {
	Name string

	// Ops is the number of operations replayed.
	Ops int

	// PeakPayload is the largest aggregate payload live at once.
	PeakPayload int

	// HeapSize is the final heap extent.
	HeapSize int

	// Utilization is PeakPayload over HeapSize.
	Utilization float64
}

// Summary aggregates one batch of replays.
type Summary struct {
	Results  []*Result
	TotalOps int64

	// AvgUtilization is the weight-averaged peak utilization;
	// zero-weight traces do not count toward it.
	AvgUtilization float64
}

// Run replays tr against a fresh allocator. Every payload is filled
// with a pattern derived from its id and re-verified before each free
// and across each realloc, so a lost byte or overlapping blocks fail
// the replay. The heap is checked for structural consistency once the
// trace drains.
func Run(tr *Trace) (*Result, error) {
	budget := 0 // mem default
	if tr.SuggestedHeap > mem.DefaultMaxHeap {
		budget = tr.SuggestedHeap
	}
	a, err := malloc.New(mem.New(budget))
	if err != nil {
		return nil, err
	}

	blocks := make([][]byte, tr.IDs)
	shadow := make([][]byte, tr.IDs) // expected contents, mcache-backed
	live, peak := 0, 0

	for i, op := range tr.Ops {
		switch op.Kind {
		case OpAlloc:
			if op.Size == 0 {
				continue
			}
			buf := a.Malloc(op.Size)
			if buf == nil {
				return nil, fmt.Errorf("trace %s: op %d: malloc(%d) failed", tr.Name, i, op.Size)
			}
			fill(buf, op.ID)
			blocks[op.ID] = buf
			shadow[op.ID] = snapshot(buf)
			live += op.Size

		case OpRealloc:
			old, oldShadow := blocks[op.ID], shadow[op.ID]
			buf := a.Realloc(old, op.Size)
			if op.Size == 0 {
				release(oldShadow)
				blocks[op.ID], shadow[op.ID] = nil, nil
				live -= len(old)
				break
			}
			if buf == nil {
				return nil, fmt.Errorf("trace %s: op %d: realloc(%d) failed", tr.Name, i, op.Size)
			}
			n := len(oldShadow)
			if n > op.Size {
				n = op.Size
			}
			if n > 0 && xxhash3.Hash(buf[:n]) != xxhash3.Hash(oldShadow[:n]) {
				return nil, fmt.Errorf("trace %s: op %d: realloc dropped content of id %d", tr.Name, i, op.ID)
			}
			fill(buf, op.ID)
			release(oldShadow)
			blocks[op.ID] = buf
			shadow[op.ID] = snapshot(buf)
			live += op.Size - len(old)

		case OpFree:
			buf := blocks[op.ID]
			if buf != nil {
				if xxhash3.Hash(buf) != xxhash3.Hash(shadow[op.ID]) {
					return nil, fmt.Errorf("trace %s: op %d: id %d corrupted before free", tr.Name, i, op.ID)
				}
				release(shadow[op.ID])
				shadow[op.ID] = nil
				live -= len(buf)
			}
			a.Free(buf)
			blocks[op.ID] = nil

		default:
			return nil, fmt.Errorf("trace %s: op %d: unknown op kind %q", tr.Name, i, op.Kind)
		}
		if live > peak {
			peak = live
		}
	}

	if err := a.Check(); err != nil {
		return nil, fmt.Errorf("trace %s: %v", tr.Name, err)
	}
	for _, s := range shadow {
		release(s)
	}

	res := &Result{Name: tr.Name, Ops: len(tr.Ops), PeakPayload: peak, HeapSize: a.HeapSize()}
	if res.HeapSize > 0 {
		res.Utilization = float64(res.PeakPayload) / float64(res.HeapSize)
	}
	return res, nil
}

// RunAll replays every trace on its own goroutine with its own heap;
// each allocator instance stays single threaded. Results come back in
// input order; the first failure wins.
func RunAll(traces []*Trace) (*Summary, error) {
	results := make([]*Result, len(traces))
	errs := make([]error, len(traces))
	ops := xsync.NewCounter()

	var wg sync.WaitGroup
	for i := range traces {
		i := i
		wg.Add(1)
		gopool.Go(func() {
			defer wg.Done()
			res, err := Run(traces[i])
			if err != nil {
				errs[i] = err
				return
			}
			ops.Add(int64(res.Ops))
			results[i] = res
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	s := &Summary{Results: results, TotalOps: ops.Value()}
	var wsum, usum float64
	for i, res := range results {
		w := float64(traces[i].Weight)
		wsum += w
		usum += w * res.Utilization
	}
	if wsum > 0 {
		s.AvgUtilization = usum / wsum
	}
	return s, nil
}

// fill writes a deterministic pattern keyed by id and position, so
// verification detects both cross-block writes and shifted content.
func fill(buf []byte, id int) {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(id))
	seed := xxhash3.Hash(key[:])
	for i := range buf {
		buf[i] = byte(seed>>(uint(i%8)*8)) ^ byte(i)
	}
}

// snapshot copies buf into an mcache-backed shadow buffer.
func snapshot(buf []byte) []byte {
	s := mcache.Malloc(len(buf))
	copy(s, buf)
	return s
}

func release(s []byte) {
	if s != nil {
		mcache.Free(s)
	}
}
