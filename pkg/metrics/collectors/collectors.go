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

// Package collectors registers the standard process collectors and the
// system memory and swap collectors.
package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/containers/swappy/pkg/kstat"
	logger "github.com/containers/swappy/pkg/log"
	"github.com/containers/swappy/pkg/metrics"
	"github.com/containers/swappy/pkg/swap"
)

var (
	log = logger.Get("metrics")
)

// SwapFetcher fetches swap accounting.
type SwapFetcher interface {
	Fetch() (*swap.AnonInfo, error)
}

// PhysmemReader reads physical memory statistics.
type PhysmemReader interface {
	ReadPhysicalMemoryStats() (*kstat.PhysicalMemoryStats, error)
}

type memoryCollector struct {
	swap    SwapFetcher
	physmem PhysmemReader

	swapBytes    *prometheus.Desc
	physmemBytes *prometheus.Desc
	physmemPages *prometheus.Desc
}

// NewMemoryCollector creates a collector for swap accounting and physical
// memory statistics.
func NewMemoryCollector(s SwapFetcher, p PhysmemReader) prometheus.Collector {
	return &memoryCollector{
		swap:    s,
		physmem: p,
		swapBytes: prometheus.NewDesc(
			"swap_bytes",
			"Swap accounting in bytes.",
			[]string{"state"}, nil,
		),
		physmemBytes: prometheus.NewDesc(
			"physical_bytes",
			"Physical memory in bytes.",
			[]string{"state"}, nil,
		),
		physmemPages: prometheus.NewDesc(
			"threshold_pages",
			"Page scanner thresholds in pages.",
			[]string{"threshold"}, nil,
		),
	}
}

func (c *memoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.swapBytes
	ch <- c.physmemBytes
	ch <- c.physmemPages
}

func (c *memoryCollector) Collect(ch chan<- prometheus.Metric) {
	if ai, err := c.swap.Fetch(); err != nil {
		log.Warn("failed to collect swap accounting: %v", err)
	} else {
		for state, v := range map[string]uint64{
			"allocated": ai.Allocated(),
			"reserved":  ai.Reserved(),
			"available": ai.Available(),
			"total":     ai.Total(),
		} {
			ch <- prometheus.MustNewConstMetric(c.swapBytes, prometheus.GaugeValue, float64(v), state)
		}
	}

	if pm, err := c.physmem.ReadPhysicalMemoryStats(); err != nil {
		log.Warn("failed to collect physical memory statistics: %v", err)
	} else {
		for state, v := range map[string]uint64{
			"total":     pm.Physmem * pm.PageSize,
			"free":      pm.FreeBytes(),
			"available": pm.Availrmem * pm.PageSize,
		} {
			ch <- prometheus.MustNewConstMetric(c.physmemBytes, prometheus.GaugeValue, float64(v), state)
		}
		for threshold, v := range map[string]uint64{
			"lotsfree": pm.Lotsfree,
			"desfree":  pm.Desfree,
			"minfree":  pm.Minfree,
		} {
			ch <- prometheus.MustNewConstMetric(c.physmemPages, prometheus.GaugeValue, float64(v), threshold)
		}
	}
}

// Register registers the standard and memory collectors with the given
// registry.
func Register(r *metrics.Registry, s SwapFetcher, p PhysmemReader) error {
	standard := map[string]prometheus.Collector{
		"buildinfo": collectors.NewBuildInfoCollector(),
		"golang":    collectors.NewGoCollector(),
		"process":   collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for name, c := range standard {
		err := r.Register(name, c,
			metrics.WithGroup("standard"),
			metrics.WithCollectorOptions(
				metrics.WithoutNamespace(),
				metrics.WithoutSubsystem(),
			),
		)
		if err != nil {
			return err
		}
	}

	return r.Register("memory", NewMemoryCollector(s, p), metrics.WithGroup("memory"))
}

func init() {
	if err := Register(metrics.Default(), swap.Default(), kstat.Default()); err != nil {
		log.Error("failed to register collectors: %v", err)
	}
}
