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

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(DefaultLevel)

	require.True(t, log.enabled(LevelInfo))

	SetLevel(LevelWarn)
	require.False(t, log.enabled(LevelInfo))
	require.True(t, log.enabled(LevelWarn))
	require.True(t, log.enabled(LevelError))
}

func TestEnableDebug(t *testing.T) {
	defer func() {
		EnableDebug("*", false)
		EnableDebug("debug-test-b", false)
	}()

	a, b := Get("debug-test-a"), Get("debug-test-b")
	require.False(t, a.DebugEnabled())

	EnableDebug("debug-test-a", true)
	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())

	EnableDebug("*", true)
	EnableDebug("debug-test-b", false)
	require.True(t, Get("debug-test-c").DebugEnabled())
	require.False(t, b.DebugEnabled(), "explicit setting overrides the wildcard")
}

func TestSourceMap(t *testing.T) {
	for _, tc := range []struct {
		name   string
		value  string
		result string
		fail   bool
	}{
		{name: "sources default to on", value: "monitor,swappy", result: "on:monitor,swappy"},
		{name: "state carries over", value: "off:monitor,swappy", result: "off:monitor,swappy"},
		{name: "all is a wildcard", value: "on:all", result: "on:*"},
		{name: "mixed", value: "on:swappy,off:monitor", result: "on:swappy,off:monitor"},
		{name: "invalid state", value: "maybe:swappy", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := make(srcmap)
			err := m.parse(tc.value)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, m.String())
		})
	}
}
