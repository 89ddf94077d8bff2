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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/containers/swappy/pkg/apis/config/v1alpha1"
	logger "github.com/containers/swappy/pkg/log"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swappy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apiVersion: config.swappy.io/v1alpha1
kind: SwappyConfig
memstat:
  command: ["cat", "/proc/meminfo"]
`), 0o644))

	cfg, err := loadConfig("", "", "")
	require.NoError(t, err)
	require.Equal(t, cfgapi.DefaultMemstatCommand, cfg.Memstat.Command)
	require.Empty(t, cfg.Instrumentation.HTTPEndpoint)

	cfg, err = loadConfig(path, "", "")
	require.NoError(t, err)
	require.Equal(t, []string{"cat", "/proc/meminfo"}, cfg.Memstat.Command)

	cfg, err = loadConfig(path, "localhost:0", "free -m")
	require.NoError(t, err)
	require.Equal(t, []string{"free", "-m"}, cfg.Memstat.Command)
	require.Equal(t, "localhost:0", cfg.Instrumentation.HTTPEndpoint)
	require.True(t, cfg.Instrumentation.PrometheusExport)

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"), "", "")
	require.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	defer func() {
		logger.SetLevel(logger.DefaultLevel)
		logger.EnableDebug("*", false)
	}()

	lg := logger.Get("setup-logging-test")
	require.False(t, lg.DebugEnabled())

	setupLogging(true, false)
	require.True(t, lg.DebugEnabled())
}
