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

package bytesize_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/swappy/pkg/utils/bytesize"
)

func TestParse(t *testing.T) {
	type testCase struct {
		name   string
		input  string
		result uint64
		fail   bool
	}
	for _, tc := range []*testCase{
		{name: "plain bytes", input: "4096", result: 4096},
		{name: "hexadecimal bytes", input: "0x1000", result: 4096},
		{name: "binary suffix", input: "1Gi", result: bytesize.GiB},
		{name: "binary suffix with B", input: "1GiB", result: bytesize.GiB},
		{name: "decimal suffix", input: "512M", result: 512000000},
		{name: "decimal suffix with B", input: "2kB", result: 2000},
		{name: "fraction", input: "1.5Gi", result: bytesize.GiB + bytesize.GiB/2},
		{name: "surrounding space", input: " 1Mi ", result: bytesize.MiB},
		{name: "empty", input: "", fail: true},
		{name: "garbage", input: "lots", fail: true},
		{name: "negative", input: "-1Gi", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			result, err := bytesize.Parse(tc.input)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, result)
		})
	}
}

func TestHumanReadable(t *testing.T) {
	type testCase struct {
		size   uint64
		result string
	}
	for _, tc := range []*testCase{
		{size: 0, result: "0"},
		{size: 1023, result: "1023"},
		{size: 1024, result: "1k"},
		{size: 1536, result: "1.5k"},
		{size: 4 * bytesize.MiB, result: "4M"},
		{size: 3 * bytesize.GiB, result: "3G"},
		{size: 2048 * bytesize.TiB, result: "2048T"},
	} {
		require.Equal(t, tc.result, bytesize.HumanReadable(tc.size), "size %d", tc.size)
	}
}

func TestGiBString(t *testing.T) {
	require.Equal(t, "0.0", bytesize.GiBString(0))
	require.Equal(t, "1.0", bytesize.GiBString(bytesize.GiB))
	require.Equal(t, "2.5", bytesize.GiBString(2*bytesize.GiB+bytesize.GiB/2))
	require.Equal(t, uint64(4), bytesize.KiBCount(4096))
}
