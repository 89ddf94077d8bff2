// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package swappy

import (
	"os"
)

// Kernel is the memory mapping interface of the kernel.
type Kernel interface {
	// Mmap creates an anonymous, private, read-write mapping of the given
	// size. With noReserve set, no swap space is reserved for it.
	Mmap(size int, noReserve bool) ([]byte, error)
	// Munmap removes a mapping created by Mmap.
	Munmap(region []byte) error
	// PageSize returns the size of a page in bytes.
	PageSize() int
}

type kernel struct{}

// HostKernel returns the Kernel of the running host.
func HostKernel() Kernel {
	return kernel{}
}

func (kernel) PageSize() int {
	return os.Getpagesize()
}
