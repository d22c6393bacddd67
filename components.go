// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Hook is a declarative wiring request returned by a component: observe
// these events, own these trigger words, run on this interval, parse
// these kinds, watch these signals. The manager installs them all at
// load time so components never touch the registries directly.
type Hook struct {
	kind string

	observer Observer
	events   []string

	trigger TriggerHandler
	words   []string

	every   time.Duration
	name    string
	timerFn TimerFunc

	parser ParserFunc
	chain  ChainMode
	kinds  []string

	signal  SignalFunc
	signals []string
}

// WatchEvent observes fn on each named event.
func WatchEvent(fn Observer, events ...string) Hook {
	return Hook{kind: "events", observer: fn, events: events}
}

// OnTrigger registers h under each trigger word.
func OnTrigger(h TriggerHandler, words ...string) Hook {
	return Hook{kind: "triggers", trigger: h, words: words}
}

// Every schedules fn on a recurring timer registered under name.
func Every(every time.Duration, name string, fn TimerFunc) Hook {
	return Hook{kind: "timers", every: every, name: name, timerFn: fn}
}

// ParseKind installs fn as a secondary parser for each kind.
func ParseKind(fn ParserFunc, chain ChainMode, kinds ...string) Hook {
	return Hook{kind: "parsers", parser: fn, chain: chain, kinds: kinds}
}

// OnSignal observes fn on each named signal.
func OnSignal(fn SignalFunc, names ...string) Hook {
	return Hook{kind: "signals", signal: fn, signals: names}
}

// Component is a loadable unit of bot behavior. Construction happens in
// its Factory; Hooks declares its wiring.
type Component interface {
	Hooks() []Hook
}

// Factory builds a component instance. conf is the component's own
// configuration scope, already carved out of the bot config.
type Factory func(irc *Context, conf *ConfigTree) (Component, error)

// Registration ties a component name to its factory. ContextName, when
// set, publishes the instance on the Context for other components to
// look up. Requires lists component base names that must finish loading
// first.
type Registration struct {
	Name        string
	ContextName string
	Requires    []string
	New         Factory
}

type registry struct {
	mu    sync.RWMutex
	table map[string]Registration
}

func (r *registry) add(reg Registration) {
	r.mu.Lock()
	r.table[reg.Name] = reg
	r.mu.Unlock()
}

func (r *registry) get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.table[name]
	return reg, ok
}

var (
	componentRegistry = &registry{table: make(map[string]Registration)}
	pluginRegistry    = &registry{table: make(map[string]Registration)}
)

// RegisterComponent adds a component to the build-time registry,
// usually from an init function in the component's own file.
func RegisterComponent(reg Registration) {
	componentRegistry.add(reg)
}

// RegisterPlugin adds a plugin under its full dotted name.
func RegisterPlugin(reg Registration) {
	pluginRegistry.add(reg)
}

// loadState is the set-once rendezvous for one component: created on
// first mention, closed exactly once when the load finishes, err fixed
// before the close. Requirers block on done without triggering a load.
type loadState struct {
	started bool
	done    chan struct{}
	err     error
}

// ComponentManager loads components by name, waits out their declared
// requirements and installs their hooks. Loads are idempotent by base
// name and safe to run concurrently.
type ComponentManager struct {
	irc *Context

	mu    sync.Mutex
	loads map[string]*loadState
	debug *log.Logger
}

func newComponentManager(irc *Context, debug *log.Logger) *ComponentManager {
	return &ComponentManager{
		irc:   irc,
		loads: make(map[string]*loadState),
		debug: debug,
	}
}

// slot returns the rendezvous for base, creating it unstarted.
func (cm *ComponentManager) slot(base string) *loadState {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	st := cm.loads[base]
	if st == nil {
		st = &loadState{done: make(chan struct{})}
		cm.loads[base] = st
	}
	return st
}

// Load loads the named component. A second Load of the same base name
// waits for the first and returns its result. Requirements must be
// loaded by somebody; Load waits for them but does not start them, so
// a requirement absent from the load list blocks forever rather than
// loading behind the operator's back.
func (cm *ComponentManager) Load(name string) error {
	base := baseName(name)

	cm.mu.Lock()
	st := cm.loads[base]
	if st == nil {
		st = &loadState{done: make(chan struct{})}
		cm.loads[base] = st
	}
	if st.started {
		cm.mu.Unlock()
		<-st.done
		return st.err
	}
	st.started = true
	cm.mu.Unlock()

	st.err = cm.load(base)
	close(st.done)
	return st.err
}

func (cm *ComponentManager) load(base string) error {
	reg, ok := componentRegistry.get(base)
	if !ok {
		return fmt.Errorf("components: unknown component %q", base)
	}

	for _, req := range reg.Requires {
		cm.debug.Printf("component %s waiting on %s", base, req)
		dep := cm.slot(baseName(req))
		<-dep.done
		if dep.err != nil {
			return fmt.Errorf("components: %s requires %s: %w", base, req, dep.err)
		}
	}

	comp, err := reg.New(cm.irc, cm.irc.Config.Sub(base))
	if err != nil {
		return fmt.Errorf("components: loading %s: %w", base, err)
	}

	installHooks(cm.irc, base, comp.Hooks())

	if reg.ContextName != "" {
		cm.irc.Set(reg.ContextName, comp)
	}
	cm.debug.Printf("component %s loaded", base)
	return nil
}

// LoadConfigured loads the autoload set plus everything the
// components.load config names, all concurrently so requirement
// ordering sorts itself out. The first error wins.
func (cm *ComponentManager) LoadConfigured(autoload ...string) error {
	names := append([]string{}, autoload...)
	names = append(names, cm.irc.Config.GetStringSlice("components.load")...)

	var wg sync.WaitGroup
	errs := make(chan error, len(names))

	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cm.Load(name); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func installHooks(irc *Context, base string, hooks []Hook) {
	for _, h := range hooks {
		switch h.kind {
		case "events":
			for _, name := range h.events {
				irc.Events.Observe(name, h.observer)
			}
		case "triggers":
			if irc.Triggers == nil {
				irc.debug.Printf("component %s: trigger hook with no trigger dispatcher loaded", base)
				continue
			}
			irc.Triggers.Observe(h.trigger, h.words...)
		case "timers":
			name := h.name
			if name == "" {
				name = base
			}
			if err := irc.Timers.Set(name, h.timerFn, TimerOptions{Every: h.every}); err != nil {
				irc.debug.Printf("component %s: bad timer hook: %v", base, err)
			}
		case "parsers":
			for _, kind := range h.kinds {
				irc.Parsers.Add(kind, h.parser, h.chain)
			}
		case "signals":
			for _, name := range h.signals {
				irc.Signals.Observe(name, h.signal)
			}
		}
	}
}

// baseName is the last segment of a dotted name.
func baseName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// PluginManager loads plugins: externally-registered components that
// live under the plugin.<base> config scope and resolve short names
// against the plugins.base dotted prefix. A leading "/" makes a name
// absolute, skipping the prefix.
type PluginManager struct {
	irc        *Context
	components *ComponentManager
	prefix     string

	mu    sync.Mutex
	loads map[string]*loadState
	debug *log.Logger
}

func newPluginManager(irc *Context, cm *ComponentManager, debug *log.Logger) *PluginManager {
	return &PluginManager{
		irc:        irc,
		components: cm,
		prefix:     irc.Config.GetString("plugins.base"),
		loads:      make(map[string]*loadState),
		debug:      debug,
	}
}

// Hooks implements Component; the manager itself wires nothing.
func (pm *PluginManager) Hooks() []Hook { return nil }

// resolve expands a configured plugin name to its registry name.
func (pm *PluginManager) resolve(name string) string {
	if strings.HasPrefix(name, "/") {
		return name[1:]
	}
	if pm.prefix != "" {
		return pm.prefix + "." + name
	}
	return name
}

// Load loads one plugin by configured name, idempotent by base name.
func (pm *PluginManager) Load(name string) error {
	full := pm.resolve(name)
	base := baseName(full)

	pm.mu.Lock()
	st := pm.loads[base]
	if st == nil {
		st = &loadState{done: make(chan struct{})}
		pm.loads[base] = st
	}
	if st.started {
		pm.mu.Unlock()
		<-st.done
		return st.err
	}
	st.started = true
	pm.mu.Unlock()

	st.err = pm.load(full, base)
	close(st.done)
	return st.err
}

func (pm *PluginManager) load(full, base string) error {
	reg, ok := pluginRegistry.get(full)
	if !ok {
		return fmt.Errorf("plugins: unknown plugin %q", full)
	}

	for _, req := range reg.Requires {
		dep := pm.components.slot(baseName(req))
		<-dep.done
		if dep.err != nil {
			return fmt.Errorf("plugins: %s requires %s: %w", base, req, dep.err)
		}
	}

	comp, err := reg.New(pm.irc, pm.irc.Config.Sub("plugin."+base))
	if err != nil {
		return fmt.Errorf("plugins: loading %s: %w", full, err)
	}

	installHooks(pm.irc, base, comp.Hooks())

	if reg.ContextName != "" {
		pm.irc.Set(reg.ContextName, comp)
	}
	pm.debug.Printf("plugin %s loaded", full)
	return nil
}

// LoadConfigured loads every plugin the plugins.load config names.
func (pm *PluginManager) LoadConfigured() error {
	names := pm.irc.Config.GetStringSlice("plugins.load")

	var wg sync.WaitGroup
	errs := make(chan error, len(names))

	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pm.Load(name); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func init() {
	RegisterComponent(Registration{
		Name:        "triggers",
		ContextName: "triggers",
		New: func(irc *Context, conf *ConfigTree) (Component, error) {
			tr := newTriggers(conf, irc.debug)
			irc.Triggers = tr
			return tr, nil
		},
	})

	RegisterComponent(Registration{
		Name:        "plugins",
		ContextName: "plugins",
		Requires:    []string{"triggers"},
		New: func(irc *Context, conf *ConfigTree) (Component, error) {
			pm := newPluginManager(irc, irc.Components, irc.debug)
			irc.Plugins = pm
			if err := pm.LoadConfigured(); err != nil {
				return nil, err
			}
			return pm, nil
		},
	})
}
