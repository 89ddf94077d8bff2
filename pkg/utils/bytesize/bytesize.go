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

// Package bytesize formats and parses byte counts.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	KiB = uint64(1) << 10
	MiB = uint64(1) << 20
	GiB = uint64(1) << 30
	TiB = uint64(1) << 40
)

// HumanReadable returns size in a short human readable form, for instance
// 1.5G or 640k.
func HumanReadable(size uint64) string {
	if size >= 1024 {
		units := []string{"k", "M", "G", "T"}

		for i, d := 0, uint64(1024); i < len(units); i, d = i+1, d<<10 {
			if val := size / d; 1 <= val && (val < 1024 || i == len(units)-1) {
				if fval := float64(size) / float64(d); math.Floor(fval) != fval {
					return strings.TrimRight(fmt.Sprintf("%.3f", fval), "0") + units[i]
				}
				return fmt.Sprintf("%d%s", val, units[i])
			}
		}
	}

	return strconv.FormatUint(size, 10)
}

// GiBString formats size as a number of gibibytes with one decimal.
func GiBString(size uint64) string {
	return strconv.FormatFloat(float64(size)/float64(GiB), 'f', 1, 64)
}

// KiBCount returns size as a whole number of kibibytes.
func KiBCount(size uint64) uint64 {
	return size / KiB
}

// Parse parses a size given as a plain byte count or as a quantity with a
// binary (Ki, Mi, Gi, Ti) or decimal (k, M, G, T) suffix.
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty size")
	}

	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}

	q, err := resource.ParseQuantity(strings.TrimSuffix(s, "B"))
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid size %q: %w", s, err)
	}
	if q.Sign() < 0 {
		return 0, fmt.Errorf("bytesize: negative size %q", s)
	}

	// Value rounds fractional byte counts up.
	return uint64(q.Value()), nil
}
