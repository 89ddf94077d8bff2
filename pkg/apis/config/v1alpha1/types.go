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

package v1alpha1

import (
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/containers/swappy/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/swappy/pkg/apis/config/v1alpha1/log"
)

const (
	// APIVersion is the expected apiVersion of configuration files.
	APIVersion = "config.swappy.io/v1alpha1"
	// Kind is the expected kind of configuration files.
	Kind = "SwappyConfig"
	// DefaultReportPeriod is the default interval for polled metrics.
	DefaultReportPeriod = 30 * time.Second
)

// DefaultMemstatCommand is the default command for the memory breakdown.
var DefaultMemstatCommand = []string{"sudo", "-n", "smem", "-w", "-k"}

// Config is the configuration for swappy.
type Config struct {
	metav1.TypeMeta `json:",inline"`

	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
	// +optional
	Memstat MemstatConfig `json:"memstat,omitempty"`
}

// MemstatConfig configures the external memory breakdown command.
type MemstatConfig struct {
	// Command is the argv of the command whose output is shown by memstat.
	// +optional
	Command []string `json:"command,omitempty"`
}

// NewConfig returns a configuration with all defaults filled in.
func NewConfig() *Config {
	cfg := &Config{
		TypeMeta: metav1.TypeMeta{
			APIVersion: APIVersion,
			Kind:       Kind,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in defaults for unset fields.
func (c *Config) SetDefaults() {
	if len(c.Memstat.Command) == 0 {
		c.Memstat.Command = append([]string{}, DefaultMemstatCommand...)
	}
	if c.Instrumentation.ReportPeriod.Duration == 0 {
		c.Instrumentation.ReportPeriod = metav1.Duration{Duration: DefaultReportPeriod}
	}
	if c.Instrumentation.Metrics == nil {
		c.Instrumentation.Metrics = &instrumentation.MetricsConfig{
			Enabled: []string{"swappy", "monitor", "memory"},
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIVersion != "" && c.APIVersion != APIVersion {
		return fmt.Errorf("config: unsupported apiVersion %q, expected %q", c.APIVersion, APIVersion)
	}
	if c.Kind != "" && c.Kind != Kind {
		return fmt.Errorf("config: unsupported kind %q, expected %q", c.Kind, Kind)
	}
	if len(c.Memstat.Command) == 0 || c.Memstat.Command[0] == "" {
		return fmt.Errorf("config: empty memstat command")
	}
	if c.Instrumentation.ReportPeriod.Duration < 0 {
		return fmt.Errorf("config: negative instrumentation report period %s",
			c.Instrumentation.ReportPeriod.Duration)
	}
	return nil
}

// Parse parses YAML (or JSON) configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}
