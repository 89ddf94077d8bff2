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

package kstat

import (
	"fmt"
	"os"
	"sync"

	"github.com/containers/swappy/pkg/utils/bytesize"
)

const (
	// SystemPagesModule is the module of the system-wide page counters.
	SystemPagesModule = "unix"
	// SystemPagesInstance is the instance of the system-wide page counters.
	SystemPagesInstance = 0
	// SystemPagesName is the name of the system-wide page counters.
	SystemPagesName = "system_pages"
)

// PhysicalMemoryStats are the system-wide physical memory page counters.
type PhysicalMemoryStats struct {
	Physmem   uint64 `json:"physmem"`   // total physical pages
	Freemem   uint64 `json:"freemem"`   // free pages
	Availrmem uint64 `json:"availrmem"` // available resident pages
	Lotsfree  uint64 `json:"lotsfree"`  // page scanning starts below this
	Desfree   uint64 `json:"desfree"`   // desired free pages
	Minfree   uint64 `json:"minfree"`   // minimum acceptable free pages
	PageSize  uint64 `json:"pageSize"`
}

// ReadPhysicalMemoryStats reads the system-wide page counters.
func (r *Reader) ReadPhysicalMemoryStats() (*PhysicalMemoryStats, error) {
	st, err := r.Lookup(SystemPagesModule, SystemPagesInstance, SystemPagesName)
	if err != nil {
		return nil, err
	}

	v, err := Uint64Fields(st, "physmem", "freemem", "availrmem", "lotsfree", "desfree", "minfree")
	if err != nil {
		return nil, err
	}

	pageSize := uint64(os.Getpagesize())
	if ps, err := Uint64Fields(st, "pagesize"); err == nil && ps["pagesize"] != 0 {
		pageSize = ps["pagesize"]
	}

	return &PhysicalMemoryStats{
		Physmem:   v["physmem"],
		Freemem:   v["freemem"],
		Availrmem: v["availrmem"],
		Lotsfree:  v["lotsfree"],
		Desfree:   v["desfree"],
		Minfree:   v["minfree"],
		PageSize:  pageSize,
	}, nil
}

// FreeBytes returns free physical memory in bytes.
func (s *PhysicalMemoryStats) FreeBytes() uint64 {
	return s.Freemem * s.PageSize
}

// String returns a short summary of the stats.
func (s *PhysicalMemoryStats) String() string {
	return fmt.Sprintf("physmem %s, free %s, availrmem %s (lotsfree %d, desfree %d, minfree %d pages)",
		bytesize.HumanReadable(s.Physmem*s.PageSize), bytesize.HumanReadable(s.FreeBytes()),
		bytesize.HumanReadable(s.Availrmem*s.PageSize), s.Lotsfree, s.Desfree, s.Minfree)
}

var (
	defaultReader *Reader
	defaultOnce   sync.Once
)

// Default returns a Reader for the host kernel.
func Default() *Reader {
	defaultOnce.Do(func() {
		defaultReader = NewReader(NewProcSource(""))
	})
	return defaultReader
}

// ReadPhysicalMemoryStats reads the host kernel's physical memory counters.
func ReadPhysicalMemoryStats() (*PhysicalMemoryStats, error) {
	return Default().ReadPhysicalMemoryStats()
}
