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

package malloc_test

import (
	"fmt"

	"github.com/cloudwego/mallocx/malloc"
	"github.com/cloudwego/mallocx/mem"
)

func Example() {
	a, err := malloc.New(mem.New(0))
	if err != nil {
		panic(err)
	}

	buf := a.Malloc(64)
	copy(buf, "hello")

	// Growing may move the block; the leading bytes survive either way.
	buf = a.Realloc(buf, 4096)
	fmt.Println(string(buf[:5]))
	fmt.Println(len(buf))

	a.Free(buf)
	if err := a.Check(); err != nil {
		panic(err)
	}

	// Output:
	// hello
	// 4096
}
