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
	"strconv"

	"github.com/prometheus/procfs"
)

// ProcSource synthesizes statistics records from procfs.
//
// The system_pages record is built from /proc/meminfo and the per-zone
// watermarks in /proc/zoneinfo. The page scanner thresholds map to the
// sums of the zone watermarks: lotsfree to high, desfree to low and
// minfree to min. Every populated zone is also exported on its own as
// unix:<node>:zone_<name>.
type ProcSource struct {
	mountPoint string
	pageSize   uint64
}

// NewProcSource creates a source for the procfs mounted at mountPoint, or
// at the default location if mountPoint is empty.
func NewProcSource(mountPoint string) *ProcSource {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	return &ProcSource{
		mountPoint: mountPoint,
		pageSize:   uint64(os.Getpagesize()),
	}
}

// WithPageSize overrides the page size used to convert byte counts.
func (s *ProcSource) WithPageSize(pageSize uint64) *ProcSource {
	s.pageSize = pageSize
	return s
}

// Lookup implements Source.
func (s *ProcSource) Lookup(module string, instance int, name string) ([]*Stat, error) {
	all, err := s.collect()
	if err != nil {
		return nil, err
	}

	var matching []*Stat
	for _, st := range all {
		if st.Matches(module, instance, name) {
			matching = append(matching, st)
		}
	}

	return matching, nil
}

func (s *ProcSource) collect() ([]*Stat, error) {
	fs, err := procfs.NewFS(s.mountPoint)
	if err != nil {
		return nil, err
	}

	mi, err := fs.Meminfo()
	if err != nil {
		return nil, err
	}
	zones, err := fs.Zoneinfo()
	if err != nil {
		return nil, err
	}

	var (
		stats   []*Stat
		lots    uint64
		des     uint64
		min     uint64
		present bool
	)

	for _, z := range zones {
		if z.Zone == "" || z.Min == nil || z.Low == nil || z.High == nil {
			continue
		}
		node, err := strconv.Atoi(z.Node)
		if err != nil {
			return nil, fmt.Errorf("%s/zoneinfo: invalid node %q: %w", s.mountPoint, z.Node, err)
		}

		zst := &Stat{
			Module:   SystemPagesModule,
			Instance: node,
			Name:     "zone_" + z.Zone,
			Class:    "vm",
			Type:     TypeNamed,
		}
		for _, f := range []struct {
			name  string
			value *int64
		}{
			{"nr_free_pages", z.NrFreePages},
			{"min", z.Min},
			{"low", z.Low},
			{"high", z.High},
			{"spanned", z.Spanned},
			{"present", z.Present},
			{"managed", z.Managed},
		} {
			if f.value != nil && *f.value >= 0 {
				zst.Named = append(zst.Named, uint64Named(f.name, uint64(*f.value)))
			}
		}
		stats = append(stats, zst)

		lots += uint64(*z.High)
		des += uint64(*z.Low)
		min += uint64(*z.Min)
		present = true
	}

	sys := &Stat{
		Module:   SystemPagesModule,
		Instance: SystemPagesInstance,
		Name:     SystemPagesName,
		Class:    "pages",
		Type:     TypeNamed,
	}
	for _, f := range []struct {
		name string
		kb   *uint64
	}{
		{"physmem", mi.MemTotal},
		{"freemem", mi.MemFree},
		{"availrmem", mi.MemAvailable},
	} {
		if f.kb != nil {
			sys.Named = append(sys.Named, uint64Named(f.name, *f.kb*1024/s.pageSize))
		}
	}
	if present {
		sys.Named = append(sys.Named,
			uint64Named("lotsfree", lots),
			uint64Named("desfree", des),
			uint64Named("minfree", min),
		)
	}
	sys.Named = append(sys.Named, uint64Named("pagesize", s.pageSize))

	return append([]*Stat{sys}, stats...), nil
}

func uint64Named(name string, value uint64) Named {
	return Named{Name: name, Type: DataUint64, Value: value}
}
