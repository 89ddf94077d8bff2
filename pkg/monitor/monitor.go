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

// Package monitor prints periodic memory and swap statistics while it is
// enabled. Enabling and disabling is done by message passing to a single
// background worker. Disable returns only once the worker has stopped
// printing, so no statistics line can show up after it returns.
package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/containers/swappy/pkg/kstat"
	logger "github.com/containers/swappy/pkg/log"
	"github.com/containers/swappy/pkg/swap"
	"github.com/containers/swappy/pkg/utils/bytesize"
)

const (
	// Interval is the time between two statistics lines.
	Interval = time.Second

	signalQueueSize = 4
)

var (
	log = logger.NewLogger("monitor")
)

// Sampler takes one sample of the monitored statistics.
type Sampler interface {
	Sample() (*kstat.PhysicalMemoryStats, *swap.AnonInfo, error)
}

// SamplerFunc adapts a function to a Sampler.
type SamplerFunc func() (*kstat.PhysicalMemoryStats, *swap.AnonInfo, error)

// Sample implements Sampler.
func (fn SamplerFunc) Sample() (*kstat.PhysicalMemoryStats, *swap.AnonInfo, error) {
	return fn()
}

// Option is an opaque option which can be applied to a Monitor.
type Option func(*Monitor)

// WithOutput returns an Option for setting the output of the Monitor.
func WithOutput(w io.Writer) Option {
	return func(m *Monitor) {
		m.out = w
	}
}

// Monitor is a handle to the statistics worker.
type Monitor struct {
	sampler Sampler
	out     io.Writer
	limiter *rate.Limiter

	lock    sync.RWMutex
	closed  bool
	signals chan *signal
	doneCh  chan struct{}
}

type signal struct {
	enable bool
	reply  chan struct{}
}

// New creates a Monitor with the given options and starts its worker.
func New(sampler Sampler, options ...Option) *Monitor {
	m := &Monitor{
		sampler: sampler,
		out:     os.Stdout,
		limiter: rate.NewLimiter(rate.Every(10*Interval), 1),
		signals: make(chan *signal, signalQueueSize),
		doneCh:  make(chan struct{}),
	}

	for _, o := range options {
		o(m)
	}

	go m.worker()

	return m
}

// Enable starts periodic reporting. It does not wait for the worker. It
// returns false if the request was dropped, in which case the caller must
// not call Disable for it.
func (m *Monitor) Enable() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.closed {
		log.Warn("failed to enable monitor: monitor closed")
		return false
	}

	select {
	case m.signals <- &signal{enable: true}:
		return true
	default:
		log.Warn("failed to enable monitor: signal queue full")
		return false
	}
}

// Disable stops periodic reporting. Once Disable returns no further
// statistics line is printed for the current activation.
func (m *Monitor) Disable() {
	reply := make(chan struct{})

	if !m.send(&signal{reply: reply}) {
		return
	}

	select {
	case <-reply:
	case <-m.doneCh:
		log.Warn("failed to wait for monitor: worker exited")
	}
}

func (m *Monitor) send(sig *signal) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.closed {
		log.Warn("failed to disable monitor: monitor closed")
		return false
	}

	select {
	case m.signals <- sig:
		return true
	case <-m.doneCh:
		log.Warn("failed to disable monitor: worker exited")
		return false
	}
}

// Close stops the worker and waits for it to exit.
func (m *Monitor) Close() error {
	m.lock.Lock()
	if !m.closed {
		m.closed = true
		close(m.signals)
	}
	m.lock.Unlock()

	<-m.doneCh

	return nil
}

func (m *Monitor) worker() {
	defer close(m.doneCh)

	var (
		active bool
		timer  *time.Timer
	)

	for {
		var timeout <-chan time.Time
		if active {
			timer = time.NewTimer(Interval)
			timeout = timer.C
		}

		select {
		case sig, ok := <-m.signals:
			if timer != nil {
				timer.Stop()
				timer = nil
			}
			if !ok {
				log.Debug("signal channel closed, exiting")
				return
			}

			if sig.enable {
				if active {
					log.Panic("monitor already enabled")
				}
				active = true
				m.printf("%-5s %-10s %-9s %-10s\n", "FREE", "SWAP_ALLOC", "SWAP_RESV", "SWAP_TOTAL")
			} else {
				if !active {
					log.Panic("monitor already disabled")
				}
				active = false
				close(sig.reply)
			}

		case <-timeout:
			timer = nil
			m.report()
		}
	}
}

func (m *Monitor) report() {
	physmem, swapinfo, err := m.sampler.Sample()
	if err != nil {
		sampleErrors.Inc()
		if m.limiter.Allow() {
			log.Warn("failed to sample statistics: %v", err)
		}
		return
	}

	samples.Inc()

	m.printf("%5s %10s %9s %10s\n",
		bytesize.GiBString(physmem.FreeBytes()),
		bytesize.GiBString(swapinfo.Allocated()),
		bytesize.GiBString(swapinfo.Reserved()),
		bytesize.GiBString(swapinfo.Total()),
	)
}

func (m *Monitor) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(m.out, format, args...); err != nil {
		if m.limiter.Allow() {
			log.Warn("failed to write statistics: %v", err)
		}
	}
}
