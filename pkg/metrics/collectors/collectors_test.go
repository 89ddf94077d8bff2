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

package collectors_test

import (
	"fmt"
	"testing"

	model "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/containers/swappy/pkg/kstat"
	"github.com/containers/swappy/pkg/metrics"
	"github.com/containers/swappy/pkg/metrics/collectors"
	"github.com/containers/swappy/pkg/swap"
)

type fakeSwap struct {
	err error
}

func (f fakeSwap) Fetch() (*swap.AnonInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return swap.NewAnonInfo(1000, 900, 500, 4096)
}

type fakePhysmem struct{}

func (fakePhysmem) ReadPhysicalMemoryStats() (*kstat.PhysicalMemoryStats, error) {
	return &kstat.PhysicalMemoryStats{
		Physmem:   4096,
		Freemem:   1024,
		Availrmem: 2048,
		Lotsfree:  64,
		Desfree:   32,
		Minfree:   16,
		PageSize:  4096,
	}, nil
}

func gather(t *testing.T, s collectors.SwapFetcher) map[string]float64 {
	r := metrics.NewRegistry()
	require.NoError(t, collectors.Register(r, s, fakePhysmem{}))

	g, err := r.NewGatherer(
		metrics.WithNamespace("swappy"),
		metrics.WithoutPolling(),
		metrics.WithMetrics([]string{"memory"}, nil),
	)
	require.NoError(t, err)
	defer g.Stop()

	mfs, err := g.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			values[metricKey(mf, m)] = m.GetGauge().GetValue()
		}
	}
	return values
}

func metricKey(mf *model.MetricFamily, m *model.Metric) string {
	key := mf.GetName()
	for _, l := range m.GetLabel() {
		key += fmt.Sprintf(",%s=%s", l.GetName(), l.GetValue())
	}
	return key
}

func TestMemoryCollector(t *testing.T) {
	values := gather(t, fakeSwap{})

	require.Equal(t, map[string]float64{
		"swappy_memory_swap_bytes,state=allocated":         100 * 4096,
		"swappy_memory_swap_bytes,state=reserved":          400 * 4096,
		"swappy_memory_swap_bytes,state=available":         500 * 4096,
		"swappy_memory_swap_bytes,state=total":             1000 * 4096,
		"swappy_memory_physical_bytes,state=total":         4096 * 4096,
		"swappy_memory_physical_bytes,state=free":          1024 * 4096,
		"swappy_memory_physical_bytes,state=available":     2048 * 4096,
		"swappy_memory_threshold_pages,threshold=lotsfree": 64,
		"swappy_memory_threshold_pages,threshold=desfree":  32,
		"swappy_memory_threshold_pages,threshold=minfree":  16,
	}, values)
}

func TestMemoryCollectorSwapFailure(t *testing.T) {
	values := gather(t, fakeSwap{err: swap.ErrQueryFailed})

	require.Len(t, values, 6)
	require.NotContains(t, values, "swappy_memory_swap_bytes,state=total")
	require.Contains(t, values, "swappy_memory_physical_bytes,state=free")
}
