// Package modules holds the task kinds a playbook can use. Every module splits
// its work into a read-only Check and a mutating Apply.
package modules

import (
	"context"
	"fmt"
	"sort"

	"github.com/c-r-lewis/plumbops/internal/modules/file"
	"github.com/c-r-lewis/plumbops/internal/modules/pkgmgr"
	"github.com/c-r-lewis/plumbops/internal/modules/service"
	"github.com/c-r-lewis/plumbops/internal/modules/shell"
	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/types"
)

// Module is one kind of task.
type Module interface {
	Name() string
	// Validate rejects bad parameters before any host is contacted.
	Validate(params types.Params) error
	// Idempotent reports whether Apply can be safely repeated after a
	// failure part-way through.
	Idempotent() bool
	// Check probes current state. It must not mutate the host.
	Check(ctx context.Context, sess remote.Session, params types.Params) (types.Verdict, error)
	// Apply converges the host to the desired state.
	Apply(ctx context.Context, sess remote.Session, params types.Params) types.ModuleResult
}

// Registry maps module names to implementations.
type Registry struct {
	modules map[string]Module
}

// NewRegistry returns a registry holding the given modules.
func NewRegistry(mods ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module, len(mods))}
	for _, m := range mods {
		r.Register(m)
	}
	return r
}

// Default returns a registry with the built-in modules.
func Default() *Registry {
	return NewRegistry(
		pkgmgr.PackageModule{},
		file.FileModule{},
		shell.ShellModule{},
		service.ServiceModule{},
	)
}

// Register adds or replaces a module.
func (r *Registry) Register(m Module) {
	r.modules[m.Name()] = m
}

// Lookup returns a module by name.
func (r *Registry) Lookup(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks the module exists and accepts params.
func (r *Registry) Validate(name string, params types.Params) error {
	m, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown module %q (available: %v)", name, r.Names())
	}
	return m.Validate(params)
}
