package actions

import (
	"slices"

	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/logging"
)

// Registry is the immutable, ordered set of loaded actions.
type Registry struct {
	actions   []Action
	byName    map[string]Action
	children  map[string][]Action
	discovery bool
}

// New builds a registry from actions in the given order. Actions with a
// duplicate name or an unregistered parent are dropped and reported; a child
// whose parent was dropped is dropped too.
func New(list ...Action) (*Registry, []error) {
	var problems []error

	seen := make(map[string]bool, len(list))
	candidates := make([]Action, 0, len(list))
	for _, a := range list {
		if seen[a.Name()] {
			problems = append(problems, errors.ErrDuplicateAction(a.Name()))
			continue
		}
		seen[a.Name()] = true
		candidates = append(candidates, a)
	}

	// Drop orphans until the set is closed under the parent relation.
	for {
		names := make(map[string]bool, len(candidates))
		for _, a := range candidates {
			names[a.Name()] = true
		}
		kept := candidates[:0:0]
		for _, a := range candidates {
			if a.Parent() != "" && !names[a.Parent()] {
				problems = append(problems, errors.ErrMissingParent(a.Name(), a.Parent()))
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == len(candidates) {
			break
		}
		candidates = kept
	}

	r := &Registry{
		actions:  candidates,
		byName:   make(map[string]Action, len(candidates)),
		children: make(map[string][]Action),
	}
	for _, a := range candidates {
		r.byName[a.Name()] = a
		if a.Parent() != "" {
			r.children[a.Parent()] = append(r.children[a.Parent()], a)
		}
	}
	return r, problems
}

// Build instantiates records through the catalog and builds a registry.
// Records that fail validation or lookup are skipped and reported.
func Build(records []Record, catalog *Catalog) (*Registry, []error) {
	var problems []error
	var list []Action
	discovery := false

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			problems = append(problems, err)
			continue
		}
		if rec.Module == ModuleScanning {
			discovery = true
			continue
		}
		if rec.Module == ModuleVulnScanner {
			rec.Port = 0
		}

		factory, err := catalog.Lookup(rec.Module, rec.Class)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		action, err := factory(Spec{Name: rec.Class, Port: rec.Port, Parent: rec.Parent})
		if err != nil {
			problems = append(problems, errors.WrapConfigError(errors.CodeConfiguration,
				"cannot create action "+rec.Class, err))
			continue
		}
		list = append(list, action)
	}

	reg, more := New(list...)
	reg.discovery = discovery
	return reg, append(problems, more...)
}

// Load reads the registry source at path and builds the registry. Only an
// unreadable source is returned as an error; bad records are logged and
// skipped.
func Load(path string, catalog *Catalog, logger *logging.Logger) (*Registry, error) {
	records, err := LoadRecords(path)
	if err != nil {
		return nil, err
	}

	reg, problems := Build(records, catalog)
	for _, p := range problems {
		logger.Warn("Skipping action record", "error", p, "code", errors.GetCode(p))
	}
	logger.Info("Action registry loaded",
		"actions", reg.Len(), "skipped", len(problems), "discovery", reg.DiscoveryEnabled())
	return reg, nil
}

// Len returns the number of loaded actions.
func (r *Registry) Len() int { return len(r.actions) }

// All returns every action in registry order.
func (r *Registry) All() []Action {
	return slices.Clone(r.actions)
}

// Lookup returns the action named name.
func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// TopLevel returns actions without a parent, in registry order.
func (r *Registry) TopLevel() []Action {
	return r.filter(func(a Action) bool { return a.Parent() == "" })
}

// Dependent returns actions with a parent, in registry order.
func (r *Registry) Dependent() []Action {
	return r.filter(func(a Action) bool { return a.Parent() != "" })
}

// Children returns the direct children of parent, in registry order.
func (r *Registry) Children(parent string) []Action {
	return slices.Clone(r.children[parent])
}

// PortBound returns actions gated on a port, in registry order.
func (r *Registry) PortBound() []Action {
	return r.filter(func(a Action) bool { return !IsStandalone(a) })
}

// Standalone returns actions without port gating, in registry order.
func (r *Registry) Standalone() []Action {
	return r.filter(IsStandalone)
}

// DiscoveryEnabled reports whether the source asked for the network
// discoverer.
func (r *Registry) DiscoveryEnabled() bool { return r.discovery }

func (r *Registry) filter(keep func(Action) bool) []Action {
	var out []Action
	for _, a := range r.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
