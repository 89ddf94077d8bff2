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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/swappy/pkg/metrics"
)

var (
	mappingsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mappings",
			Help: "Number of mappings in the registry.",
		},
		[]string{"kind"},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapping_operations_total",
			Help: "Number of mapping operations by operation and result.",
		},
		[]string{"operation", "result"},
	)
	touchedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "touched_bytes_total",
			Help: "Number of bytes of mappings touched.",
		},
	)
)

func mappingKind(reserved bool) string {
	if reserved {
		return "reserve"
	}
	return "noreserve"
}

func countOperation(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	operations.WithLabelValues(op, result).Inc()
}

func init() {
	for name, c := range map[string]prometheus.Collector{
		"mappings":      mappingsGauge,
		"operations":    operations,
		"touched-bytes": touchedBytes,
	} {
		err := metrics.Register(name, c,
			metrics.WithGroup("swappy"),
			metrics.WithCollectorOptions(metrics.WithoutSubsystem()),
		)
		if err != nil {
			log.Error("failed to register %s collector: %v", name, err)
		}
	}
}
