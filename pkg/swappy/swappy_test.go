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

package swappy_test

import (
	"bytes"
	"context"
	"math"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/swappy/pkg/kstat"
	"github.com/containers/swappy/pkg/memstat"
	"github.com/containers/swappy/pkg/swap"
	"github.com/containers/swappy/pkg/swappy"
)

const pageSize = 4096

type mmapCall struct {
	size      int
	noReserve bool
}

type fakeKernel struct {
	mmaps     []mmapCall
	munmaps   int
	mmapErr   error
	munmapErr error
	regions   [][]byte
}

func (k *fakeKernel) Mmap(size int, noReserve bool) ([]byte, error) {
	k.mmaps = append(k.mmaps, mmapCall{size: size, noReserve: noReserve})
	if k.mmapErr != nil {
		return nil, k.mmapErr
	}
	if size <= 0 {
		return nil, syscall.EINVAL
	}
	region := make([]byte, size)
	k.regions = append(k.regions, region)
	return region, nil
}

func (k *fakeKernel) Munmap([]byte) error {
	k.munmaps++
	return k.munmapErr
}

func (k *fakeKernel) PageSize() int {
	return pageSize
}

type fakeMonitor struct {
	events  []string
	onTouch func()
	drop    bool
}

func (m *fakeMonitor) Enable() bool {
	m.events = append(m.events, "enable")
	if m.onTouch != nil {
		m.onTouch()
	}
	return !m.drop
}

func (m *fakeMonitor) Disable() {
	m.events = append(m.events, "disable")
}

type fakeSwap struct{}

func (fakeSwap) Fetch() (*swap.AnonInfo, error) {
	return swap.NewAnonInfo(1000, 900, 500, pageSize)
}

type fakeStats struct{}

func (fakeStats) ReadPhysicalMemoryStats() (*kstat.PhysicalMemoryStats, error) {
	return &kstat.PhysicalMemoryStats{Physmem: 1000, Freemem: 500, PageSize: pageSize}, nil
}

func newTestSwappy(k *fakeKernel, m *fakeMonitor) *swappy.Swappy {
	return swappy.New(
		swappy.WithKernel(k),
		swappy.WithMonitor(m),
		swappy.WithSwapReader(fakeSwap{}),
		swappy.WithStatReader(fakeStats{}),
	)
}

func TestMappingLifecycle(t *testing.T) {
	var (
		k   = &fakeKernel{}
		mon = &fakeMonitor{}
		s   = newTestSwappy(k, mon)
		ctx = context.Background()
	)
	defer s.Close()

	addr, err := s.Reserve(1048576)
	require.NoError(t, err)
	require.NotZero(t, addr)
	require.Equal(t, []swappy.Mapping{
		{Addr: addr, Size: 1048576, Reserved: true, Allocated: false},
	}, s.Mappings())
	require.Equal(t, []mmapCall{{size: 1048576, noReserve: false}}, k.mmaps)

	first, err := s.Touch(ctx, addr)
	require.NoError(t, err)
	require.True(t, first)
	require.True(t, s.Mappings()[0].Allocated)

	expected := make([]byte, 1048576)
	for offs := 0; offs < len(expected); offs += pageSize {
		expected[offs] = 1
	}
	require.True(t, bytes.Equal(expected, k.regions[0]), "first byte of each page written")

	first, err = s.Touch(ctx, addr)
	require.NoError(t, err)
	require.False(t, first)
	require.True(t, s.Mappings()[0].Allocated)

	require.NoError(t, s.Remove(addr))
	require.Empty(t, s.Mappings())

	err = s.Remove(addr)
	require.ErrorIs(t, err, swappy.ErrUnknownMapping)
	_, err = s.Touch(ctx, addr)
	require.ErrorIs(t, err, swappy.ErrUnknownMapping)
}

func TestNoReserve(t *testing.T) {
	var (
		k = &fakeKernel{}
		s = newTestSwappy(k, &fakeMonitor{})
	)

	r, err := s.Reserve(pageSize)
	require.NoError(t, err)
	n, err := s.NoReserve(3 * pageSize)
	require.NoError(t, err)

	require.Equal(t, []swappy.Mapping{
		{Addr: r, Size: pageSize, Reserved: true},
		{Addr: n, Size: 3 * pageSize, Reserved: false},
	}, s.Mappings())
	require.Equal(t, []mmapCall{
		{size: pageSize, noReserve: false},
		{size: 3 * pageSize, noReserve: true},
	}, k.mmaps)
}

func TestMappingFailures(t *testing.T) {
	type testCase struct {
		name    string
		size    uint64
		mmapErr error
		errIs   []error
		calls   int
	}

	for _, tc := range []*testCase{
		{
			name:    "kernel failure",
			size:    pageSize,
			mmapErr: syscall.ENOMEM,
			errIs:   []error{swappy.ErrMappingFailed, syscall.ENOMEM},
			calls:   1,
		},
		{
			name:  "zero size",
			size:  0,
			errIs: []error{swappy.ErrMappingFailed, syscall.EINVAL},
			calls: 1,
		},
		{
			name:  "size too large",
			size:  math.MaxUint64,
			errIs: []error{swappy.ErrMappingFailed, swappy.ErrSizeTooLarge},
			calls: 0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				k = &fakeKernel{mmapErr: tc.mmapErr}
				s = newTestSwappy(k, &fakeMonitor{})
			)

			addr, err := s.Reserve(tc.size)
			require.Zero(t, addr)
			for _, target := range tc.errIs {
				require.ErrorIs(t, err, target)
			}
			require.Empty(t, s.Mappings())
			require.Len(t, k.mmaps, tc.calls)
		})
	}
}

func TestUnmapFailureKeepsMapping(t *testing.T) {
	var (
		k   = &fakeKernel{}
		mon = &fakeMonitor{}
		s   = newTestSwappy(k, mon)
	)

	addr, err := s.NoReserve(2 * pageSize)
	require.NoError(t, err)
	_, err = s.Touch(context.Background(), addr)
	require.NoError(t, err)

	before := s.Mappings()
	mon.events = nil
	k.munmapErr = syscall.EINVAL

	err = s.Remove(addr)
	require.ErrorIs(t, err, swappy.ErrUnmapFailed)
	require.ErrorIs(t, err, syscall.EINVAL)
	require.Contains(t, err.Error(), "0x")
	require.Equal(t, before, s.Mappings())
	require.Equal(t, []string{"enable", "disable"}, mon.events, "disable even on failure")

	k.munmapErr = nil
	require.NoError(t, s.Remove(addr))
	require.Empty(t, s.Mappings())
}

func TestMonitorBracketing(t *testing.T) {
	var (
		k   = &fakeKernel{}
		mon = &fakeMonitor{}
		s   = newTestSwappy(k, mon)
		ctx = context.Background()
	)

	untouched, err := s.Reserve(pageSize)
	require.NoError(t, err)
	touched, err := s.Reserve(pageSize)
	require.NoError(t, err)
	require.Empty(t, mon.events, "no monitoring for creating mappings")

	_, err = s.Touch(ctx, touched)
	require.NoError(t, err)
	require.Equal(t, []string{"enable", "disable"}, mon.events)

	mon.events = nil
	require.NoError(t, s.Remove(untouched))
	require.Empty(t, mon.events, "no monitoring for removing untouched mappings")

	require.NoError(t, s.Remove(touched))
	require.Equal(t, []string{"enable", "disable"}, mon.events)
}

func TestTouchCancellation(t *testing.T) {
	var (
		k           = &fakeKernel{}
		ctx, cancel = context.WithCancel(context.Background())
		mon         = &fakeMonitor{onTouch: cancel}
		s           = newTestSwappy(k, mon)
	)
	defer cancel()

	addr, err := s.Reserve(2 * pageSize)
	require.NoError(t, err)

	first, err := s.Touch(ctx, addr)
	require.False(t, first)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"enable", "disable"}, mon.events)
	require.False(t, s.Mappings()[0].Allocated, "nothing written before cancellation")

	mon.onTouch = nil
	first, err = s.Touch(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, first)
}

// countdownContext reports cancellation once Err has been called n times.
type countdownContext struct {
	context.Context
	n int
}

func (c *countdownContext) Err() error {
	if c.n == 0 {
		return context.Canceled
	}
	c.n--
	return nil
}

func TestPartialTouchIsNotAllocation(t *testing.T) {
	var (
		k   = &fakeKernel{}
		mon = &fakeMonitor{}
		s   = newTestSwappy(k, mon)
		ctx = &countdownContext{Context: context.Background(), n: 1}
	)

	// cancellation is checked every 4096 pages
	addr, err := s.Reserve(2 * 4096 * pageSize)
	require.NoError(t, err)

	first, err := s.Touch(ctx, addr)
	require.False(t, first)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"enable", "disable"}, mon.events)
	require.False(t, s.Mappings()[0].Allocated)

	region := k.regions[0]
	require.Equal(t, byte(1), region[4095*pageSize])
	require.Equal(t, byte(0), region[4096*pageSize])

	first, err = s.Touch(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, first, "an interrupted touch does not count as the first one")
	require.True(t, s.Mappings()[0].Allocated)

	first, err = s.Touch(context.Background(), addr)
	require.NoError(t, err)
	require.False(t, first)
}

func TestRemovePartiallyTouched(t *testing.T) {
	var (
		k   = &fakeKernel{}
		mon = &fakeMonitor{}
		s   = newTestSwappy(k, mon)
		ctx = &countdownContext{Context: context.Background(), n: 1}
	)

	addr, err := s.Reserve(2 * 4096 * pageSize)
	require.NoError(t, err)

	_, err = s.Touch(ctx, addr)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, s.Mappings()[0].Allocated)

	mon.events = nil
	require.NoError(t, s.Remove(addr))
	require.Equal(t, []string{"enable", "disable"}, mon.events,
		"removing a partially touched mapping is monitored")
}

func TestDroppedEnable(t *testing.T) {
	var (
		k   = &fakeKernel{}
		mon = &fakeMonitor{drop: true}
		s   = newTestSwappy(k, mon)
	)

	addr, err := s.Reserve(4 * pageSize)
	require.NoError(t, err)

	first, err := s.Touch(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, first)
	require.Equal(t, []string{"enable"}, mon.events, "no disable without an accepted enable")

	mon.events = nil
	require.NoError(t, s.Remove(addr))
	require.Equal(t, []string{"enable"}, mon.events)
	require.Empty(t, s.Mappings())
}

func TestForeachMapping(t *testing.T) {
	s := newTestSwappy(&fakeKernel{}, &fakeMonitor{})

	var addrs []uintptr
	for i := 1; i <= 3; i++ {
		addr, err := s.Reserve(uint64(i * pageSize))
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	for round := 0; round < 2; round++ {
		var seen []uintptr
		s.ForeachMapping(func(m swappy.Mapping) bool {
			seen = append(seen, m.Addr)
			return true
		})
		require.Equal(t, addrs, seen, "round %d", round)
	}

	var first []uintptr
	s.ForeachMapping(func(m swappy.Mapping) bool {
		first = append(first, m.Addr)
		return false
	})
	require.Equal(t, addrs[:1], first)
	require.Len(t, s.Mappings(), 3)
}

func TestMappingsIsASnapshot(t *testing.T) {
	s := newTestSwappy(&fakeKernel{}, &fakeMonitor{})

	addr, err := s.Reserve(pageSize)
	require.NoError(t, err)

	snapshot := s.Mappings()
	_, err = s.Touch(context.Background(), addr)
	require.NoError(t, err)
	require.False(t, snapshot[0].Allocated)
	require.True(t, s.Mappings()[0].Allocated)

	snapshot = s.Mappings()
	snapshot[0].Size = 0
	require.Equal(t, uint64(pageSize), s.Mappings()[0].Size)
}

func TestReaders(t *testing.T) {
	s := newTestSwappy(&fakeKernel{}, &fakeMonitor{})

	ai, err := s.SwapInfo()
	require.NoError(t, err)
	require.Equal(t, uint64(1000*pageSize), ai.Total())

	pm, err := s.PhysicalMemory()
	require.NoError(t, err)
	require.Equal(t, uint64(500*pageSize), pm.FreeBytes())
}

func TestMemstat(t *testing.T) {
	s := swappy.New(
		swappy.WithKernel(&fakeKernel{}),
		swappy.WithMonitor(&fakeMonitor{}),
		swappy.WithMemstatCommand("sh", "-c", "echo swapped"),
	)

	out, err := s.Memstat(context.Background())
	require.NoError(t, err)
	require.Equal(t, "swapped\n", out)

	s = swappy.New(
		swappy.WithKernel(&fakeKernel{}),
		swappy.WithMonitor(&fakeMonitor{}),
		swappy.WithMemstatCommand("sh", "-c", "exit 1"),
	)
	_, err = s.Memstat(context.Background())
	require.ErrorIs(t, err, memstat.ErrFailed)
}
