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

package swap

import (
	"fmt"
	"os"

	"github.com/prometheus/procfs"
)

// ProcQuerier derives the anonymous memory counters from /proc/meminfo.
//
// Linux has no direct equivalent of swapctl(SC_AINFO). The backing store
// for anonymous memory is physical memory plus swap devices, the
// allocated part is the swap in use and the reserved part is the
// committed address space.
type ProcQuerier struct {
	mountPoint string
	pageSize   uint64
}

// NewProcQuerier creates a querier for the procfs mounted at mountPoint,
// or at the default location if mountPoint is empty.
func NewProcQuerier(mountPoint string) *ProcQuerier {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	return &ProcQuerier{
		mountPoint: mountPoint,
		pageSize:   uint64(os.Getpagesize()),
	}
}

// WithPageSize overrides the page size used for page counts.
func (q *ProcQuerier) WithPageSize(pageSize uint64) *ProcQuerier {
	q.pageSize = pageSize
	return q
}

// QueryAnonInfo implements Querier.
func (q *ProcQuerier) QueryAnonInfo() (max, free, resv, pageSize uint64, err error) {
	fs, err := procfs.NewFS(q.mountPoint)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	mi, err := fs.Meminfo()
	if err != nil {
		return 0, 0, 0, 0, err
	}

	var memTotal, swapTotal, swapFree, committed uint64
	for _, f := range []struct {
		name string
		src  *uint64
		dst  *uint64
	}{
		{"MemTotal", mi.MemTotal, &memTotal},
		{"SwapTotal", mi.SwapTotal, &swapTotal},
		{"SwapFree", mi.SwapFree, &swapFree},
		{"Committed_AS", mi.CommittedAS, &committed},
	} {
		if f.src == nil {
			return 0, 0, 0, 0, fmt.Errorf("%s: missing %s", q.meminfoPath(), f.name)
		}
		*f.dst = *f.src * 1024 / q.pageSize
	}

	if swapFree > swapTotal {
		swapFree = swapTotal
	}

	max = memTotal + swapTotal
	free = max - (swapTotal - swapFree)

	// With heuristic or unlimited overcommit the committed address space
	// can exceed memory plus swap. Everything beyond max is reported as
	// reserved, leaving nothing available.
	resv = min(committed, max)

	return max, free, resv, q.pageSize, nil
}

func (q *ProcQuerier) meminfoPath() string {
	return q.mountPoint + "/meminfo"
}
