package backend

import (
	"log"
	"sort"

	"github.com/ocp-media/ocp/internal/config"
)

// Factory constructs a Backend instance for one configured player entry.
// The registry of factories (module name -> Factory) is populated at
// startup, so a lookup can distinguish "unknown plugin" (no factory) from
// "construction failed" (factory returned an error).
type Factory func(name string, aliases []string) (Backend, error)

// Load instantiates the configured backends for this registry: inactive entries are skipped silently, unknown modules are
// skipped with an error log, construction failures are logged and
// excluded. Locals are registered before remotes so Select's
// ordered-first-match keeps locals first.
func (r *Registry) Load(specs map[string]config.BackendSpec, factories map[string]Factory) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	var locals, remotes []Backend
	for _, name := range names {
		spec := specs[name]
		if !spec.Active {
			continue
		}
		factory, ok := factories[spec.Module]
		if !ok {
			log.Printf("[%s-backend] player %q names unknown module %q, skipping", r.family, name, spec.Module)
			continue
		}
		b, err := factory(name, spec.Aliases)
		if err != nil {
			log.Printf("[%s-backend] player %q failed to load: %v", r.family, name, err)
			continue
		}
		if b.IsRemote() {
			remotes = append(remotes, b)
		} else {
			locals = append(locals, b)
		}
	}

	for _, b := range locals {
		r.Register(b)
	}
	for _, b := range remotes {
		r.Register(b)
	}
}
