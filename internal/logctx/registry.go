package logctx

import (
	"sync"

	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
)

// Callback receives the request's Store just before record assembly and may
// add metadata or a loggable reference. It comes in two variants: a literal
// function, or a reference to a function registered by name.
type Callback struct {
	name string
	fn   func(*Store)
}

// Func wraps a literal callback function.
func Func(fn func(*Store)) Callback {
	return Callback{fn: fn}
}

// Named references a callback registered via RegisterNamedCallback. The name
// is resolved at controller-registration time.
func Named(name string) Callback {
	return Callback{name: name}
}

func (c Callback) zero() bool {
	return c.name == "" && c.fn == nil
}

type controllerEntry struct {
	parent   string
	callback func(*Store)
}

// Registry maps controller names to their optional context callback and an
// explicit parent pointer. Callback resolution walks the declared chain: use
// mine if set, else my parent's, else none. The chain is explicit composition
// declared at registration, not type reflection.
type Registry struct {
	mu          sync.RWMutex
	named       map[string]func(*Store)
	controllers map[string]controllerEntry
}

func NewRegistry() *Registry {
	return &Registry{
		named:       make(map[string]func(*Store)),
		controllers: make(map[string]controllerEntry),
	}
}

// RegisterNamedCallback makes fn referenceable as Named(name).
func (r *Registry) RegisterNamedCallback(name string, fn func(*Store)) error {
	if name == "" || fn == nil {
		return errdef.Configurationf("named callback requires a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = fn
	return nil
}

// RegisterController declares a controller, its optional parent and its
// optional callback. A Named callback must already be registered; a declared
// parent must already exist. Both are configuration errors otherwise;
// resolution happens here, loudly, not at request time.
func (r *Registry) RegisterController(name, parent string, cb Callback) error {
	if name == "" {
		return errdef.Configurationf("controller registration requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if parent != "" {
		if _, ok := r.controllers[parent]; !ok {
			return errdef.Configurationf("controller %q declares unknown parent %q", name, parent)
		}
	}
	entry := controllerEntry{parent: parent}
	if !cb.zero() {
		fn := cb.fn
		if fn == nil {
			resolved, ok := r.named[cb.name]
			if !ok {
				return errdef.Configurationf("controller %q references unknown callback %q", name, cb.name)
			}
			fn = resolved
		}
		entry.callback = fn
	}
	r.controllers[name] = entry
	return nil
}

// Resolve returns the effective callback for a controller: its own if set,
// else the nearest ancestor's, else nil.
func (r *Registry) Resolve(controller string) func(*Store) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := 0
	for controller != "" && seen < len(r.controllers)+1 {
		entry, ok := r.controllers[controller]
		if !ok {
			return nil
		}
		if entry.callback != nil {
			return entry.callback
		}
		controller = entry.parent
		seen++
	}
	return nil
}

// Reset drops all registrations. Test helper.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.named = make(map[string]func(*Store))
	r.controllers = make(map[string]controllerEntry)
	r.mu.Unlock()
}

// DefaultRegistry is the process-wide registry the middleware consults.
var DefaultRegistry = NewRegistry()
