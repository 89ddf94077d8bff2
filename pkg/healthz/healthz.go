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

package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	logger "github.com/containers/swappy/pkg/log"
)

var (
	lock     sync.Mutex
	checkers = map[string]CheckFn{}
	log      = logger.NewLogger("health-check")
)

// CheckFn checks the health of a single component.
type CheckFn func() (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("<unknown status %d>", int(s))
}

// Setup registers the /healthz handler with the given mux.
func Setup(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", serve)
}

func serve(w http.ResponseWriter, _ *http.Request) {
	status, details := Check()

	var body string
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		body = "ok"
	} else {
		w.WriteHeader(http.StatusInternalServerError)
		for _, name := range sortedKeys(details) {
			body += fmt.Sprintf("%s: %v\n", name, details[name])
		}
	}

	if _, err := w.Write([]byte(body)); err != nil {
		log.Error("failed to write response: %v", err)
	}
}

// RegisterHealthChecker registers the given health checker function.
func RegisterHealthChecker(name string, fn CheckFn) {
	lock.Lock()
	defer lock.Unlock()

	if _, conflict := checkers[name]; conflict {
		panic(fmt.Sprintf("checker %q already registered", name))
	}

	checkers[name] = fn
}

// UnregisterHealthChecker removes the named health checker.
func UnregisterHealthChecker(name string) {
	lock.Lock()
	defer lock.Unlock()
	delete(checkers, name)
}

// Check runs all health checkers and returns the worst status seen with
// the details reported by unhealthy components.
func Check() (Status, map[string]error) {
	lock.Lock()
	defer lock.Unlock()

	status := Healthy
	details := map[string]error{}

	for _, name := range sortedKeys(checkers) {
		s, err := checkers[name]()
		if s == Healthy {
			continue
		}
		status = max(status, s)
		if err == nil {
			err = fmt.Errorf("%s", s)
		}
		details[name] = err
		log.Warn("component %s reported %s: %v", name, s, strings.TrimSpace(err.Error()))
	}

	return status, details
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
