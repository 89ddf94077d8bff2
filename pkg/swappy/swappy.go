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

// Package swappy keeps track of the anonymous memory mappings created in
// a session. It is the only component which maps or unmaps memory. Slow
// operations which affect memory pressure, touching a mapping or removing
// a touched one, are bracketed by enabling and disabling a Monitor.
package swappy

import (
	"context"
	"fmt"
	"io"
	"math"
	"unsafe"

	"github.com/containers/swappy/pkg/kstat"
	logger "github.com/containers/swappy/pkg/log"
	"github.com/containers/swappy/pkg/memstat"
	"github.com/containers/swappy/pkg/monitor"
	"github.com/containers/swappy/pkg/swap"
	"github.com/containers/swappy/pkg/utils/bytesize"
)

const (
	// Pages touched between two checks for cancellation.
	touchCheckPages = 4096
)

var (
	log = logger.NewLogger("swappy")
)

// Mapping describes an anonymous mapping created by a session.
type Mapping struct {
	Addr      uintptr `json:"addr"`
	Size      uint64  `json:"size"`
	Reserved  bool    `json:"reserved"`
	Allocated bool    `json:"allocated"`
}

// Monitor is enabled for the duration of slow memory operations. Enable
// reports whether the monitor accepted the request, and only an accepted
// Enable is followed by Disable.
type Monitor interface {
	Enable() bool
	Disable()
}

// SwapReader fetches swap accounting.
type SwapReader interface {
	Fetch() (*swap.AnonInfo, error)
}

// StatReader reads physical memory statistics.
type StatReader interface {
	ReadPhysicalMemoryStats() (*kstat.PhysicalMemoryStats, error)
}

// Option is an opaque option which can be applied to a Swappy session.
type Option func(*Swappy)

// WithKernel sets the kernel used to map and unmap memory.
func WithKernel(k Kernel) Option {
	return func(s *Swappy) {
		s.kernel = k
	}
}

// WithMonitor sets the monitor used to bracket slow operations.
func WithMonitor(m Monitor) Option {
	return func(s *Swappy) {
		s.monitor = m
	}
}

// WithSwapReader sets the reader used for swap accounting.
func WithSwapReader(r SwapReader) Option {
	return func(s *Swappy) {
		s.swap = r
	}
}

// WithStatReader sets the reader used for physical memory statistics.
func WithStatReader(r StatReader) Option {
	return func(s *Swappy) {
		s.stats = r
	}
}

// WithMemstatCommand sets the command used for the memory breakdown.
func WithMemstatCommand(argv ...string) Option {
	return func(s *Swappy) {
		s.memstatCmd = argv
	}
}

// Swappy is a session of anonymous memory mappings. It is not safe for
// concurrent use.
type Swappy struct {
	kernel     Kernel
	monitor    Monitor
	swap       SwapReader
	stats      StatReader
	memstatCmd []string
	mappings   []*mapping
}

// mapping is a registry entry. The region is owned by the registry and
// released only by unmapping it. resident is set once any page has been
// written, Allocated only once all of them have.
type mapping struct {
	Mapping
	region   []byte
	resident bool
}

// New creates a new session with the given options.
func New(options ...Option) *Swappy {
	s := &Swappy{}

	for _, o := range options {
		o(s)
	}

	if s.kernel == nil {
		s.kernel = HostKernel()
	}
	if s.swap == nil {
		s.swap = swap.Default()
	}
	if s.stats == nil {
		s.stats = kstat.Default()
	}
	if s.monitor == nil {
		s.monitor = monitor.New(monitor.SamplerFunc(s.sample))
	}

	return s
}

// Reserve creates a mapping of size bytes with swap space reserved for it.
func (s *Swappy) Reserve(size uint64) (uintptr, error) {
	return s.create(size, true)
}

// NoReserve creates a mapping of size bytes without reserving swap space.
func (s *Swappy) NoReserve(size uint64) (uintptr, error) {
	return s.create(size, false)
}

func (s *Swappy) create(size uint64, reserved bool) (addr uintptr, retErr error) {
	op := mappingKind(reserved)
	defer func() {
		countOperation(op, retErr)
	}()

	if size > math.MaxInt {
		return 0, fmt.Errorf("%w: %d bytes: %w", ErrMappingFailed, size, ErrSizeTooLarge)
	}

	region, err := s.kernel.Mmap(int(size), !reserved)
	if err != nil {
		return 0, fmt.Errorf("%w: %d bytes: %w", ErrMappingFailed, size, err)
	}

	m := &mapping{
		Mapping: Mapping{
			Addr:     regionAddr(region),
			Size:     size,
			Reserved: reserved,
		},
		region: region,
	}
	s.mappings = append(s.mappings, m)
	mappingsGauge.WithLabelValues(op).Inc()

	log.Debug("created %s mapping 0x%x (%s)", op, m.Addr, bytesize.HumanReadable(size))

	return m.Addr, nil
}

// Touch writes to every page of the mapping at addr, forcing the kernel
// to allocate memory for it. It returns true if the mapping had not been
// fully touched before. Touching can be cancelled with ctx. A cancelled
// touch leaves the mapping unallocated.
func (s *Swappy) Touch(ctx context.Context, addr uintptr) (firstTouch bool, retErr error) {
	defer func() {
		countOperation("touch", retErr)
	}()

	m := s.lookup(addr)
	if m == nil {
		return false, fmt.Errorf("%w: 0x%x", ErrUnknownMapping, addr)
	}

	var (
		pageSize = s.kernel.PageSize()
		written  uint64
		err      error
	)

	monitored := s.monitor.Enable()
	written, err = touchPages(ctx, m.region, pageSize)
	if monitored {
		s.monitor.Disable()
	}

	touchedBytes.Add(float64(min(written*uint64(pageSize), m.Size)))

	if err != nil {
		if written > 0 {
			m.resident = true
		}
		return false, fmt.Errorf("touching 0x%x interrupted after %d pages: %w", addr, written, err)
	}

	firstTouch = !m.Allocated
	m.Allocated = true
	m.resident = true

	log.Debug("touched mapping 0x%x, %d pages", addr, written)

	return firstTouch, nil
}

func touchPages(ctx context.Context, region []byte, pageSize int) (uint64, error) {
	var pages uint64
	for offs := 0; offs < len(region); offs += pageSize {
		if pages%touchCheckPages == 0 {
			if err := ctx.Err(); err != nil {
				return pages, err
			}
		}
		region[offs] = 1
		pages++
	}
	return pages, nil
}

// Remove unmaps the mapping at addr and removes it from the registry. If
// unmapping fails the mapping is kept.
func (s *Swappy) Remove(addr uintptr) (retErr error) {
	defer func() {
		countOperation("remove", retErr)
	}()

	idx := s.index(addr)
	if idx < 0 {
		return fmt.Errorf("%w: 0x%x", ErrUnknownMapping, addr)
	}

	m := s.mappings[idx]

	monitored := m.resident && s.monitor.Enable()
	err := s.kernel.Munmap(m.region)
	if monitored {
		s.monitor.Disable()
	}

	if err != nil {
		return fmt.Errorf("%w: 0x%x: %w", ErrUnmapFailed, addr, err)
	}

	s.mappings = append(s.mappings[:idx], s.mappings[idx+1:]...)
	mappingsGauge.WithLabelValues(mappingKind(m.Reserved)).Dec()

	log.Debug("removed mapping 0x%x", addr)

	return nil
}

// Mappings returns a snapshot of the mappings in creation order.
func (s *Swappy) Mappings() []Mapping {
	mappings := make([]Mapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		mappings = append(mappings, m.Mapping)
	}
	return mappings
}

// ForeachMapping calls fn for each mapping in creation order until fn
// returns false.
func (s *Swappy) ForeachMapping(fn func(Mapping) bool) {
	for _, m := range s.mappings {
		if !fn(m.Mapping) {
			return
		}
	}
}

// SwapInfo fetches the current swap accounting.
func (s *Swappy) SwapInfo() (*swap.AnonInfo, error) {
	return s.swap.Fetch()
}

// PhysicalMemory reads the current physical memory statistics.
func (s *Swappy) PhysicalMemory() (*kstat.PhysicalMemoryStats, error) {
	return s.stats.ReadPhysicalMemoryStats()
}

// Memstat runs the memory breakdown command and returns its output.
func (s *Swappy) Memstat(ctx context.Context) (string, error) {
	return memstat.Run(ctx, s.memstatCmd...)
}

// Close stops the monitor, if it can be stopped. Mappings are left in
// place and go away with the process.
func (s *Swappy) Close() error {
	if c, ok := s.monitor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Swappy) sample() (*kstat.PhysicalMemoryStats, *swap.AnonInfo, error) {
	physmem, err := s.stats.ReadPhysicalMemoryStats()
	if err != nil {
		return nil, nil, err
	}
	swapinfo, err := s.swap.Fetch()
	if err != nil {
		return nil, nil, err
	}
	return physmem, swapinfo, nil
}

func (s *Swappy) lookup(addr uintptr) *mapping {
	if idx := s.index(addr); idx >= 0 {
		return s.mappings[idx]
	}
	return nil
}

func (s *Swappy) index(addr uintptr) int {
	for i, m := range s.mappings {
		if m.Addr == addr {
			return i
		}
	}
	return -1
}

func regionAddr(region []byte) uintptr {
	if len(region) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(region)))
}
