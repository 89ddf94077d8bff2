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
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	cfgapi "github.com/containers/swappy/pkg/apis/config/v1alpha1"
	"github.com/containers/swappy/pkg/healthz"
	"github.com/containers/swappy/pkg/instrumentation"
	logger "github.com/containers/swappy/pkg/log"
	_ "github.com/containers/swappy/pkg/metrics/collectors"
	"github.com/containers/swappy/pkg/swap"
	"github.com/containers/swappy/pkg/swappy"
)

const (
	ps1 = "swappy> "
)

var (
	log = logger.Default()
)

func main() {
	var (
		configFile     string
		metricsAddress string
		memstatCommand string
		debug          bool
		quiet          bool
		echo           bool
	)

	flag.StringVar(&configFile, "config", "", "configuration file name")
	flag.StringVar(&metricsAddress, "metrics-address", "", "serve /metrics and /healthz on this address")
	flag.StringVar(&memstatCommand, "memstat-command", "", "command used to show physical memory usage")
	flag.BoolVar(&debug, "debug", false, "enable debug logging for all sources")
	flag.BoolVar(&quiet, "quiet", false, "only log warnings and errors")
	flag.BoolVar(&echo, "echo", false, "echo commands read from the input")
	flag.Parse()

	cfg, err := loadConfig(configFile, metricsAddress, memstatCommand)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swappy: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		log.Fatal("failed to configure logging: %v", err)
	}
	setupLogging(debug, quiet)

	healthz.RegisterHealthChecker("swap-accounting", checkSwapAccounting)
	if err := instrumentation.Reconfigure(&cfg.Instrumentation); err != nil {
		log.Fatal("failed to start instrumentation: %v", err)
	}

	session := swappy.New(swappy.WithMemstatCommand(cfg.Memstat.Command...))

	prompt := NewPrompt("", os.Stdin, os.Stdout, session)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompt.ps1 = ps1
	}
	prompt.SetEcho(echo)
	prompt.Interact()

	if err := session.Close(); err != nil {
		log.Error("failed to close session: %v", err)
	}
	instrumentation.Stop()
	logger.Flush()
}

func loadConfig(path, metricsAddress, memstatCommand string) (*cfgapi.Config, error) {
	var (
		cfg *cfgapi.Config
		err error
	)

	if path != "" {
		if cfg, err = cfgapi.Load(path); err != nil {
			return nil, err
		}
	} else {
		cfg = cfgapi.NewConfig()
	}

	if metricsAddress != "" {
		cfg.Instrumentation.HTTPEndpoint = metricsAddress
		cfg.Instrumentation.PrometheusExport = true
	}
	if memstatCommand != "" {
		cfg.Memstat.Command = strings.Fields(memstatCommand)
	}

	return cfg, cfg.Validate()
}

func setupLogging(debug, quiet bool) {
	if quiet {
		logger.SetLevel(logger.LevelWarn)
	}
	if debug {
		logger.EnableDebug("*", true)
	}
}

func checkSwapAccounting() (healthz.Status, error) {
	if _, err := swap.Fetch(); err != nil {
		return healthz.Degraded, err
	}
	return healthz.Healthy, nil
}
