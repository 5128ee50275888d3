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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `20000
3
8
1
a 0 512
a 1 128
r 0 1024
f 1
a 2 16
f 0
r 2 64
f 2
`

func TestParse(t *testing.T) {
	tr, err := Parse(strings.NewReader(sampleTrace))
	require.NoError(t, err)
	assert.Equal(t, 20000, tr.SuggestedHeap)
	assert.Equal(t, 3, tr.IDs)
	assert.Equal(t, 1, tr.Weight)
	require.Len(t, tr.Ops, 8)
	assert.Equal(t, Op{Kind: OpAlloc, ID: 0, Size: 512}, tr.Ops[0])
	assert.Equal(t, Op{Kind: OpRealloc, ID: 0, Size: 1024}, tr.Ops[2])
	assert.Equal(t, Op{Kind: OpFree, ID: 1}, tr.Ops[3])
}

func TestParseSkipsBlankLines(t *testing.T) {
	in := "100\n1\n2\n0\n\na 0 8\n\nf 0\n"
	tr, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, tr.Ops, 2)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "truncated header"},
		{"short_header", "100\n2\n", "truncated header"},
		{"bad_header", "100\nx\n2\n0\n", "bad header value"},
		{"malformed_op", "100\n1\n1\n0\nq 0 8\n", "malformed op"},
		{"free_with_size", "100\n1\n1\n0\nf 0 8\n", "malformed op"},
		{"alloc_without_size", "100\n1\n1\n0\na 0\n", "malformed op"},
		{"negative_size", "100\n1\n1\n0\na 0 -5\n", "negative size"},
		{"id_out_of_range", "100\n1\n1\n0\na 3 8\n", "out of range"},
		{"op_count_mismatch", "100\n1\n3\n0\na 0 8\nf 0\n", "promises 3 ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short1.rep")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o644))

	tr, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short1.rep", tr.Name)
	assert.Len(t, tr.Ops, 8)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.rep"))
	assert.Error(t, err)
}
