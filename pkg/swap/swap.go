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

// Package swap exposes system-wide swap accounting, in the spirit of
// `swap -s`. The kernel reports three page counters, the maximum amount
// of anonymous memory backing store, the part of it not yet allocated
// and the part reserved. Everything else is derived from these.
package swap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/containers/swappy/pkg/utils/bytesize"
)

var (
	// ErrQueryFailed is returned when the kernel swap query fails.
	ErrQueryFailed = fmt.Errorf("swap: accounting query failed")
	// ErrInconsistentAccounting is returned for counters which would
	// produce negative derived quantities.
	ErrInconsistentAccounting = fmt.Errorf("swap: inconsistent accounting")
)

// AnonInfo is a point-in-time snapshot of the anonymous memory counters.
type AnonInfo struct {
	Max      uint64 // maximum swap pages
	Free     uint64 // unallocated swap pages
	Resv     uint64 // reserved swap pages
	PageSize uint64 // bytes per page
}

// NewAnonInfo validates the raw counters and returns them as an AnonInfo.
func NewAnonInfo(max, free, resv, pageSize uint64) (*AnonInfo, error) {
	switch {
	case pageSize == 0:
		return nil, fmt.Errorf("%w: zero page size", ErrInconsistentAccounting)
	case free > max:
		return nil, fmt.Errorf("%w: free pages %d > max pages %d",
			ErrInconsistentAccounting, free, max)
	case resv > max:
		return nil, fmt.Errorf("%w: reserved pages %d > max pages %d",
			ErrInconsistentAccounting, resv, max)
	case resv < max-free:
		return nil, fmt.Errorf("%w: reserved pages %d < allocated pages %d",
			ErrInconsistentAccounting, resv, max-free)
	}

	return &AnonInfo{
		Max:      max,
		Free:     free,
		Resv:     resv,
		PageSize: pageSize,
	}, nil
}

// Allocated returns the bytes of swap actually allocated.
func (a *AnonInfo) Allocated() uint64 {
	return (a.Max - a.Free) * a.PageSize
}

// Reserved returns the bytes of swap reserved but not yet allocated.
func (a *AnonInfo) Reserved() uint64 {
	return a.Resv*a.PageSize - a.Allocated()
}

// Used returns the bytes of swap either allocated or reserved.
func (a *AnonInfo) Used() uint64 {
	return a.Allocated() + a.Reserved()
}

// Available returns the bytes of swap available for new reservations.
func (a *AnonInfo) Available() uint64 {
	return (a.Max - a.Resv) * a.PageSize
}

// Total returns the total bytes of swap.
func (a *AnonInfo) Total() uint64 {
	return a.Max * a.PageSize
}

// Format returns a multi-line summary of the swap accounting.
func (a *AnonInfo) Format() string {
	var (
		b    strings.Builder
		rows = []struct {
			name  string
			bytes uint64
		}{
			{"allocated:", a.Allocated()},
			{"reserved (not allocated):", a.Reserved()},
			{"used:", a.Used()},
			{"available:", a.Available()},
			{"total:", a.Total()},
		}
	)

	b.WriteString("SWAP ACCOUNTING")
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%-27s %9d KiB  %5.1f GiB", r.name,
			bytesize.KiBCount(r.bytes), float64(r.bytes)/float64(bytesize.GiB))
	}

	return b.String()
}

// String returns a single-line summary of the swap accounting.
func (a *AnonInfo) String() string {
	return fmt.Sprintf("swap allocated %s, reserved %s, available %s, total %s",
		bytesize.HumanReadable(a.Allocated()), bytesize.HumanReadable(a.Reserved()),
		bytesize.HumanReadable(a.Available()), bytesize.HumanReadable(a.Total()))
}

// Querier issues the kernel swap accounting query.
type Querier interface {
	// QueryAnonInfo returns the raw max, free and reserved page counters
	// and the page size they are counted in.
	QueryAnonInfo() (max, free, resv, pageSize uint64, err error)
}

// Reader fetches swap accounting using a Querier.
type Reader struct {
	q Querier
}

// NewReader creates a Reader for the given Querier.
func NewReader(q Querier) *Reader {
	return &Reader{q: q}
}

// Fetch queries the kernel once and returns the accounting snapshot.
func (r *Reader) Fetch() (*AnonInfo, error) {
	max, free, resv, pageSize, err := r.q.QueryAnonInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return NewAnonInfo(max, free, resv, pageSize)
}

var (
	defaultReader *Reader
	defaultOnce   sync.Once
)

// Default returns a Reader for the host kernel.
func Default() *Reader {
	defaultOnce.Do(func() {
		defaultReader = NewReader(NewProcQuerier(""))
	})
	return defaultReader
}

// Fetch fetches swap accounting from the host kernel.
func Fetch() (*AnonInfo, error) {
	return Default().Fetch()
}
