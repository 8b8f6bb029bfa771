package actions

import (
	"slices"
	"sort"
	"sync"

	"github.com/anstrom/bifrost/internal/errors"
)

// Reserved module identifiers in the registry source.
const (
	// ModuleScanning enables the network discoverer instead of loading an action.
	ModuleScanning = "scanning"
	// ModuleVulnScanner loads a standalone action regardless of the record's port.
	ModuleVulnScanner = "nmap_vuln_scanner"
)

// Factory builds an action from its spec.
type Factory func(spec Spec) (Action, error)

// Catalog maps (module, class) identifiers to action factories. It replaces
// loading code by name: every action the daemon can run is registered here
// at startup.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]map[string]Factory)}
}

// Register adds a factory. Registering the same pair twice replaces it.
func (c *Catalog) Register(module, class string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modules[module] == nil {
		c.modules[module] = make(map[string]Factory)
	}
	c.modules[module][class] = f
}

// Lookup returns the factory for (module, class).
func (c *Catalog) Lookup(module, class string) (Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	classes, ok := c.modules[module]
	if !ok {
		return nil, errors.ErrUnknownModule(module)
	}
	f, ok := classes[class]
	if !ok {
		return nil, errors.ErrUnknownClass(module, class)
	}
	return f, nil
}

// Entry names one registered factory.
type Entry struct {
	Module string
	Class  string
}

// Entries lists every registered (module, class) pair, sorted.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for module, classes := range c.modules {
		for class := range classes {
			out = append(out, Entry{Module: module, Class: class})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Class < out[j].Class
	})
	return slices.Clip(out)
}
