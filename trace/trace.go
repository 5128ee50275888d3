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

// Package trace parses allocation traces and replays them against the
// malloc package, measuring peak heap utilization and verifying that
// payload contents survive every operation.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Op kinds as they appear in trace files.
const (
	OpAlloc   = 'a'
	OpFree    = 'f'
	OpRealloc = 'r'
)

// Op is one allocator call. Size is meaningful for OpAlloc and
// OpRealloc only.
type Op struct {
	Kind byte
	ID   int
	Size int
}

// Trace is one parsed allocation trace.
type Trace struct {
	Name string

	// SuggestedHeap is the heap reservation hint from the header; zero
	// means no hint.
	SuggestedHeap int

	// IDs is the number of distinct block ids the ops refer to.
	IDs int

	// Weight scales this trace's contribution to a batch average; zero
	// excludes it.
	Weight int

	Ops []Op
}

var errShortHeader = errors.New("trace: truncated header")

// Parse reads a trace: four header lines (suggested heap size, distinct
// id count, op count, weight) followed by one op per line, "a id size",
// "r id size" or "f id". Blank lines are skipped.
func Parse(r io.Reader) (*Trace, error) {
	sc := bufio.NewScanner(r)
	line := 0

	var header [4]int
	for i := range header {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, errShortHeader
		}
		line++
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			return nil, fmt.Errorf("trace: line %d: bad header value %q", line, sc.Text())
		}
		header[i] = n
	}
	if header[1] < 0 || header[2] < 0 {
		return nil, fmt.Errorf("trace: negative header counts %d/%d", header[1], header[2])
	}

	tr := &Trace{SuggestedHeap: header[0], IDs: header[1], Weight: header[3]}
	tr.Ops = make([]Op, 0, header[2])
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields[0]) != 1 {
			return nil, fmt.Errorf("trace: line %d: malformed op %q", line, sc.Text())
		}
		op := Op{Kind: fields[0][0]}
		var err error
		switch {
		case (op.Kind == OpAlloc || op.Kind == OpRealloc) && len(fields) == 3:
			if op.ID, err = strconv.Atoi(fields[1]); err == nil {
				op.Size, err = strconv.Atoi(fields[2])
			}
			if err == nil && op.Size < 0 {
				err = fmt.Errorf("negative size %d", op.Size)
			}
		case op.Kind == OpFree && len(fields) == 2:
			op.ID, err = strconv.Atoi(fields[1])
		default:
			return nil, fmt.Errorf("trace: line %d: malformed op %q", line, sc.Text())
		}
		if err != nil {
			return nil, fmt.Errorf("trace: line %d: %q: %v", line, sc.Text(), err)
		}
		if op.ID < 0 || op.ID >= tr.IDs {
			return nil, fmt.Errorf("trace: line %d: id %d out of range [0,%d)", line, op.ID, tr.IDs)
		}
		tr.Ops = append(tr.Ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(tr.Ops) != header[2] {
		return nil, fmt.Errorf("trace: header promises %d ops, found %d", header[2], len(tr.Ops))
	}
	return tr, nil
}

// ParseFile reads the trace at path; the file's base name becomes the
// trace name.
func ParseFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tr, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("trace: %s: %v", path, err)
	}
	tr.Name = filepath.Base(path)
	return tr, nil
}
