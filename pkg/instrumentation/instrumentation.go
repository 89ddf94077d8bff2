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

// Package instrumentation runs the optional HTTP endpoint which serves
// Prometheus metrics and health checks.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/containers/swappy/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/swappy/pkg/healthz"
	logger "github.com/containers/swappy/pkg/log"
	"github.com/containers/swappy/pkg/metrics"
)

const (
	// Namespace is the common prefix of our metrics.
	Namespace = "swappy"

	shutdownTimeout = 5 * time.Second
)

var (
	// Our runtime configuration.
	cfg = &cfgapi.Config{}
	// Lock to protect against reconfiguration.
	lock sync.Mutex
	// Our HTTP server, if running.
	srv *server
	// The registry we serve metrics from.
	registry = metrics.Default()
	// Our logger instance.
	log = logger.NewLogger("instrumentation")
)

type server struct {
	http     *http.Server
	listener net.Listener
	gatherer *metrics.Gatherer
	doneCh   chan struct{}
}

// SetRegistry sets the metrics registry to serve metrics from.
func SetRegistry(r *metrics.Registry) {
	lock.Lock()
	defer lock.Unlock()
	registry = r
}

// Start starts instrumentation services.
func Start() error {
	lock.Lock()
	defer lock.Unlock()
	return start()
}

// Stop stops instrumentation services.
func Stop() {
	lock.Lock()
	defer lock.Unlock()
	stop()
}

// Reconfigure restarts instrumentation services with the given configuration.
func Reconfigure(newCfg *cfgapi.Config) error {
	lock.Lock()
	defer lock.Unlock()

	stop()
	cfg = newCfg

	if err := start(); err != nil {
		log.Error("failed to start instrumentation: %v", err)
		return err
	}

	return nil
}

// HTTPAddress returns the address our HTTP server listens on, or an empty
// string if it is not running.
func HTTPAddress() string {
	lock.Lock()
	defer lock.Unlock()

	if srv == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

func start() error {
	if cfg.HTTPEndpoint == "" {
		log.Debug("no HTTP endpoint configured, instrumentation disabled")
		return nil
	}

	mux := http.NewServeMux()
	healthz.Setup(mux)

	s := &server{
		doneCh: make(chan struct{}),
	}

	if cfg.PrometheusExport {
		var enabled, polled []string
		if cfg.Metrics != nil {
			enabled, polled = cfg.Metrics.Enabled, cfg.Metrics.Polled
		}

		g, err := registry.NewGatherer(
			metrics.WithNamespace(Namespace),
			metrics.WithMetrics(enabled, polled),
			metrics.WithPollInterval(cfg.ReportPeriod.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		s.gatherer = g

		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}

	l, err := net.Listen("tcp", cfg.HTTPEndpoint)
	if err != nil {
		if s.gatherer != nil {
			s.gatherer.Stop()
		}
		return fmt.Errorf("failed to start HTTP server on %q: %w", cfg.HTTPEndpoint, err)
	}

	s.listener = l
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(s.doneCh)
		if err := s.http.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}()

	log.Info("serving instrumentation at http://%s", l.Addr())
	srv = s

	return nil
}

func stop() {
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.http.Shutdown(ctx); err != nil {
		log.Warn("failed to shut down HTTP server: %v", err)
	}
	<-srv.doneCh

	if srv.gatherer != nil {
		srv.gatherer.Stop()
	}

	srv = nil
}
