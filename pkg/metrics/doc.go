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

// Package metrics is a thin layer over prometheus collectors. Collectors
// are registered in named groups, enabled or disabled at runtime by glob
// patterns, and prefixed with a common namespace and their group name.
// Collectors which are expensive to collect can be put in polled mode, in
// which case they are collected periodically and gathering returns the
// result of the last polling round.
//
// Usage:
//
//	metrics.MustRegister("mappings", gauge, metrics.WithGroup("swappy"))
//
//	g, err := metrics.NewGatherer(
//	    metrics.WithNamespace("swappy"),
//	    metrics.WithMetrics([]string{"*"}, nil),
//	)
//	if err != nil {
//	    ...
//	}
//	http.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
