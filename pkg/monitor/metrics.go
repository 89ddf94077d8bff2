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

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/swappy/pkg/metrics"
)

var (
	samples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "samples_total",
			Help: "Number of statistics lines printed by the monitor.",
		},
	)
	sampleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sample_errors_total",
			Help: "Number of failed statistics samples.",
		},
	)
)

func init() {
	for name, c := range map[string]prometheus.Collector{
		"samples":       samples,
		"sample-errors": sampleErrors,
	} {
		if err := metrics.Register(name, c, metrics.WithGroup("monitor")); err != nil {
			log.Error("failed to register %s collector: %v", name, err)
		}
	}
}
