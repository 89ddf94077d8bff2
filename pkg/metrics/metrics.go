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

package metrics

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"

	logger "github.com/containers/swappy/pkg/log"
)

var (
	log = logger.Get("metrics")
)

// State is the configuration of a collector, or the union of the states
// of the collectors in a group.
type State int

const (
	// Enabled marks a collector as enabled.
	Enabled State = (1 << iota)
	// Polled collectors are collected periodically by the Gatherer. Gather
	// returns the metrics of the last polling round for them.
	Polled
	// NamespacePrefix prefixes metric names with the Gatherer namespace.
	NamespacePrefix
	// SubsystemPrefix prefixes metric names with the collector group name.
	SubsystemPrefix

	// DefaultName is the name of the default group.
	DefaultName = "default"
)

// IsEnabled returns true if the state is enabled.
func (s State) IsEnabled() bool { return s&Enabled != 0 }

// IsPolled returns true if the state is polled.
func (s State) IsPolled() bool { return s&Polled != 0 }

// NeedsNamespace returns true if the state calls for a namespace prefix.
func (s State) NeedsNamespace() bool { return s&NamespacePrefix != 0 }

// NeedsSubsystem returns true if the state calls for a group prefix.
func (s State) NeedsSubsystem() bool { return s&SubsystemPrefix != 0 }

func (s State) String() string {
	flags := []string{"disabled"}
	if s.IsEnabled() {
		flags[0] = "enabled"
	}
	if s.IsPolled() {
		flags = append(flags, "polled")
	}
	if s.NeedsNamespace() {
		flags = append(flags, "namespace-prefixed")
	}
	if s.NeedsSubsystem() {
		flags = append(flags, "subsystem-prefixed")
	}
	return strings.Join(flags, ",")
}

// Collector wraps a prometheus.Collector registered with a Registry.
type Collector struct {
	State
	collector prometheus.Collector
	name      string
	group     string
	lock      sync.Mutex
	lastpoll  []prometheus.Metric
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace disables namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.State &^= NamespacePrefix
	}
}

// WithoutSubsystem disables group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.State &^= SubsystemPrefix
	}
}

// WithPolled marks a collector polled.
func WithPolled() CollectorOption {
	return func(c *Collector) {
		c.State |= Polled
	}
}

// NewCollector wraps the given collector.
func NewCollector(name string, collector prometheus.Collector, options ...CollectorOption) *Collector {
	c := &Collector{
		State:     Enabled | NamespacePrefix | SubsystemPrefix,
		collector: collector,
		name:      name,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Name returns the group-qualified name of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// Matches returns true if the glob matches the group, the name or the
// qualified name of the collector.
func (c *Collector) Matches(glob string) bool {
	for _, name := range []string{c.group, c.name, c.Name()} {
		if glob == name {
			return true
		}
		ok, err := path.Match(glob, name)
		if err != nil {
			log.Warn("invalid glob pattern %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if !c.IsEnabled() {
		return
	}

	if !c.IsPolled() {
		c.collector.Collect(ch)
		return
	}

	c.lock.Lock()
	polled := c.lastpoll
	c.lock.Unlock()

	for _, m := range polled {
		ch <- m
	}
}

// Poll collects and caches the metrics of an enabled, polled collector.
func (c *Collector) Poll() {
	if !c.IsEnabled() || !c.IsPolled() {
		return
	}

	log.Debug("polling %q", c.Name())

	ch := make(chan prometheus.Metric, 16)
	go func() {
		c.collector.Collect(ch)
		close(ch)
	}()

	var polled []prometheus.Metric
	for m := range ch {
		polled = append(polled, m)
	}

	c.lock.Lock()
	c.lastpoll = polled
	c.lock.Unlock()
}

func (c *Collector) configure(enabled, polled bool) {
	if enabled || polled {
		c.State |= Enabled
	} else {
		c.State &^= Enabled
	}
	if polled {
		c.State |= Polled
	}
}

// Group is a named set of collectors.
type Group struct {
	name       string
	collectors []*Collector
}

func (g *Group) state() State {
	var s State
	for _, c := range g.collectors {
		s |= c.State
	}
	return s
}

func (g *Group) poll() {
	var wg sync.WaitGroup
	for _, c := range g.collectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Poll()
		}()
	}
	wg.Wait()
}

func (g *Group) register(namespace string, reg prometheus.Registerer) error {
	for _, c := range g.collectors {
		prefix := ""
		if c.NeedsNamespace() && namespace != "" {
			prefix = namespace + "_"
		}
		if c.NeedsSubsystem() {
			prefix += g.name + "_"
		}

		r := reg
		if prefix != "" {
			r = prometheus.WrapRegistererWithPrefix(prefix, reg)
		}
		if err := r.Register(c); err != nil {
			return fmt.Errorf("failed to register collector %q: %w", c.Name(), err)
		}
	}
	return nil
}

// Registry is a set of collector groups.
type Registry struct {
	lock   sync.Mutex
	groups map[string]*Group
}

// RegisterOptions are options for registering collectors.
type RegisterOptions struct {
	group string
	copts []CollectorOption
}

// RegisterOption is an option for registering collectors.
type RegisterOption func(*RegisterOptions)

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(o *RegisterOptions) {
		if name == "" {
			name = DefaultName
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(o *RegisterOptions) {
		o.copts = append(o.copts, opts...)
	}
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*Group),
	}
}

// Register registers a collector with the registry.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	o := &RegisterOptions{group: DefaultName}
	for _, opt := range opts {
		opt(o)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	grp, ok := r.groups[o.group]
	if !ok {
		grp = &Group{name: o.group}
		r.groups[grp.name] = grp
	}

	c := NewCollector(name, collector, o.copts...)
	for _, other := range grp.collectors {
		if other.name == name {
			return fmt.Errorf("collector %q already registered", c.Name())
		}
	}

	c.group = grp.name
	grp.collectors = append(grp.collectors, c)
	log.Debug("registered collector %q", c.Name())

	return nil
}

// Configure enables the collectors matching any glob in enabled or
// polled, and disables the rest. Collectors matching a glob in polled
// are also switched to polled mode. Globs matching no collector are
// reported as an error.
func (r *Registry) Configure(enabled, polled []string) (State, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	log.Info("configuring collectors enabled=[%s], polled=[%s]",
		strings.Join(enabled, ","), strings.Join(polled, ","))

	var (
		matched = map[string]bool{}
		state   State
	)

	for _, g := range r.sortedGroups() {
		for _, c := range g.collectors {
			en := matchAny(c, enabled, matched)
			po := matchAny(c, polled, matched)
			c.configure(en, po)
			log.Debug("collector %q now %s", c.Name(), c.State)
		}
		state |= g.state()
	}

	var unmatched []string
	for _, glob := range append(append([]string{}, enabled...), polled...) {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return state, fmt.Errorf("no collectors match %s", strings.Join(unmatched, ", "))
	}

	return state, nil
}

func matchAny(c *Collector, globs []string, matched map[string]bool) bool {
	match := false
	for _, glob := range globs {
		if c.Matches(glob) {
			matched[glob] = true
			match = true
		}
	}
	return match
}

// Poll polls all enabled polled collectors.
func (r *Registry) Poll() {
	r.lock.Lock()
	groups := r.sortedGroups()
	r.lock.Unlock()

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.poll()
		}()
	}
	wg.Wait()
}

// State returns the union of the states of all collectors.
func (r *Registry) State() State {
	r.lock.Lock()
	defer r.lock.Unlock()

	var s State
	for _, g := range r.groups {
		s |= g.state()
	}
	return s
}

func (r *Registry) sortedGroups() []*Group {
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].name < groups[j].name
	})
	return groups
}

const (
	// MinPollInterval is the shortest allowed polling interval.
	MinPollInterval = 5 * time.Second
	// DefaultPollInterval is the default polling interval.
	DefaultPollInterval = 30 * time.Second
)

// Gatherer is a prometheus.Gatherer for a Registry.
type Gatherer struct {
	*prometheus.Registry
	r            *Registry
	namespace    string
	pollInterval time.Duration
	enabled      []string
	polled       []string
	lock         sync.Mutex
	stopCh       chan chan struct{}
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the namespace prefix of gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithPollInterval sets the polling interval of the Gatherer.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = max(interval, MinPollInterval)
	}
}

// WithoutPolling disables periodic polling by the Gatherer.
func WithoutPolling() GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = 0
	}
}

// WithMetrics sets the globs of enabled and polled collectors.
func WithMetrics(enabled, polled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
		g.polled = polled
	}
}

// NewGatherer configures the registry and creates a Gatherer for it.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry:     prometheus.NewPedanticRegistry(),
		r:            r,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(g)
	}

	if _, err := r.Configure(g.enabled, g.polled); err != nil {
		return nil, err
	}

	r.lock.Lock()
	groups := r.sortedGroups()
	r.lock.Unlock()

	for _, grp := range groups {
		if err := grp.register(g.namespace, g.Registry); err != nil {
			return nil, err
		}
	}

	g.start()

	return g, nil
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.Registry.Gather()
}

// Poll polls all polled collectors of the registry.
func (g *Gatherer) Poll() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.r.Poll()
}

func (g *Gatherer) start() {
	if !g.r.State().IsPolled() {
		log.Debug("no collectors in polled mode")
		return
	}
	if g.pollInterval == 0 {
		log.Info("periodic polling disabled")
		return
	}

	g.Poll()

	g.stopCh = make(chan chan struct{})
	go g.poller(time.NewTicker(g.pollInterval))
}

func (g *Gatherer) poller(ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case doneCh := <-g.stopCh:
			close(doneCh)
			return
		case <-ticker.C:
			g.Poll()
		}
	}
}

// Stop stops periodic polling.
func (g *Gatherer) Stop() {
	if g.stopCh == nil {
		return
	}
	doneCh := make(chan struct{})
	g.stopCh <- doneCh
	<-doneCh
	g.stopCh = nil
}

var (
	defaultRegistry = NewRegistry()
)

// Default returns the default registry.
func Default() *Registry {
	return defaultRegistry
}

// Register registers a collector with the default registry.
func Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	return Default().Register(name, collector, opts...)
}

// MustRegister registers a collector with the default registry, panicking on error.
func MustRegister(name string, collector prometheus.Collector, opts ...RegisterOption) {
	if err := Register(name, collector, opts...); err != nil {
		panic(err)
	}
}

// NewGatherer creates a Gatherer for the default registry.
func NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	return Default().NewGatherer(opts...)
}
