// Package graph builds the validated, ordered task list of a playbook.
package graph

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c-r-lewis/plumbops/internal/types"
)

// ModuleValidator checks that a module exists and accepts the parameters.
type ModuleValidator interface {
	Validate(module string, params types.Params) error
}

// Task is one immutable operation of the graph. Handlers are Tasks with
// Handler set.
type Task struct {
	Name       string
	Module     string
	Hosts      string
	Params     types.Params
	Notify     []string
	After      []string
	Become     bool
	BecomeUser string
	Handler    bool

	// Index is the declaration position within tasks or handlers.
	Index int
}

// Graph is a validated task graph. It is safe for concurrent read access.
type Graph struct {
	name          string
	forceHandlers bool

	tasks     []*Task // execution order
	byName    map[string]*Task
	handlers  []*Task // declaration order
	handlerBy map[string]*Task

	outgoing [][]int // by declaration index
	indeg    []int
}

// Load reads a playbook file and builds its graph. Relative "src" paths are
// resolved against the playbook's directory.
func Load(path string, modules ModuleValidator) (*Graph, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, invalidf("failed to read playbook: %v", err)
	}
	pb, err := decode(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for _, defs := range [][]types.TaskDefinition{pb.Tasks, pb.Handlers} {
		for _, def := range defs {
			if src := def.Params.String("src"); src != "" && !filepath.IsAbs(src) {
				def.Params["src"] = filepath.Join(dir, src)
			}
		}
	}
	return Build(pb, modules)
}

// Parse decodes a YAML playbook and builds its graph.
func Parse(data []byte, modules ModuleValidator) (*Graph, error) {
	pb, err := decode(data)
	if err != nil {
		return nil, err
	}
	return Build(pb, modules)
}

func decode(data []byte) (types.Playbook, error) {
	var pb types.Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return pb, invalidf("failed to parse playbook: %v", err)
	}
	return pb, nil
}

// Build validates a playbook and computes the execution order.
//
// Validation rejects:
//   - empty or duplicate task and handler names
//   - unknown modules and invalid module parameters
//   - prerequisites naming an unknown task, or the task itself
//   - notifications naming an undeclared handler
//   - any prerequisite cycle
func Build(pb types.Playbook, modules ModuleValidator) (*Graph, error) {
	if len(pb.Tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &Graph{
		name:          pb.Name,
		forceHandlers: pb.ForceHandlers,
		byName:        make(map[string]*Task, len(pb.Tasks)),
		handlerBy:     make(map[string]*Task, len(pb.Handlers)),
	}

	for i, def := range pb.Handlers {
		h, err := newTask(def, i, true, modules)
		if err != nil {
			return nil, err
		}
		if _, exists := g.handlerBy[h.Name]; exists {
			return nil, invalidf("duplicate handler name: %q", h.Name)
		}
		if len(h.Notify) > 0 || len(h.After) > 0 {
			return nil, invalidf("handler %q cannot declare notify or after", h.Name)
		}
		g.handlerBy[h.Name] = h
		g.handlers = append(g.handlers, h)
	}

	declared := make([]*Task, 0, len(pb.Tasks))
	for i, def := range pb.Tasks {
		t, err := newTask(def, i, false, modules)
		if err != nil {
			return nil, err
		}
		if _, exists := g.byName[t.Name]; exists {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		for _, h := range t.Notify {
			if _, ok := g.handlerBy[h]; !ok {
				return nil, undeclaredHandler(t.Name, h)
			}
		}
		g.byName[t.Name] = t
		declared = append(declared, t)
	}

	g.outgoing = make([][]int, len(declared))
	g.indeg = make([]int, len(declared))
	for _, t := range declared {
		seen := make(map[string]bool, len(t.After))
		for _, dep := range t.After {
			if dep == t.Name {
				return nil, invalidf("task %q lists itself in after", t.Name)
			}
			src, ok := g.byName[dep]
			if !ok {
				return nil, invalidf("task %q runs after unknown task %q", t.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.outgoing[src.Index] = append(g.outgoing[src.Index], t.Index)
			g.indeg[t.Index]++
		}
	}

	order := g.topoOrder()
	if len(order) != len(declared) {
		return nil, cycleError(g.findCycle(declared))
	}
	for _, idx := range order {
		g.tasks = append(g.tasks, declared[idx])
	}
	return g, nil
}

func newTask(def types.TaskDefinition, index int, handler bool, modules ModuleValidator) (*Task, error) {
	name := strings.TrimSpace(def.Name)
	kind := "task"
	if handler {
		kind = "handler"
	}
	if name == "" {
		return nil, invalidf("%s #%d has no name", kind, index+1)
	}
	if def.Module == "" {
		return nil, invalidf("%s %q has no module", kind, name)
	}
	if modules != nil {
		if err := modules.Validate(def.Module, def.Params); err != nil {
			return nil, invalidf("%s %q: %v", kind, name, err)
		}
	}

	hosts := strings.TrimSpace(def.Hosts)
	if hosts == "" {
		hosts = "all"
	}
	params := def.Params
	if params == nil {
		params = types.Params{}
	}

	return &Task{
		Name:       name,
		Module:     def.Module,
		Hosts:      hosts,
		Params:     params,
		Notify:     dedupe(def.Notify),
		After:      []string(def.After),
		Become:     def.Become,
		BecomeUser: def.BecomeUser,
		Handler:    handler,
		Index:      index,
	}, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Name returns the playbook name.
func (g *Graph) Name() string { return g.name }

// ForceHandlers reports whether handlers run even after a task failed.
func (g *Graph) ForceHandlers() bool { return g.forceHandlers }

// Tasks returns the tasks in execution order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Handlers returns the handlers in declaration order.
func (g *Graph) Handlers() []*Task {
	out := make([]*Task, len(g.handlers))
	copy(out, g.handlers)
	return out
}

// Task returns a task by name.
func (g *Graph) Task(name string) (*Task, bool) {
	t, ok := g.byName[name]
	return t, ok
}

// Handler returns a handler by name.
func (g *Graph) Handler(name string) (*Task, bool) {
	h, ok := g.handlerBy[name]
	return h, ok
}

// TasksFor returns the tasks applying to a host, in execution order. The
// match function decides whether a task's host selector includes the host.
func (g *Graph) TasksFor(match func(selector string) bool) []*Task {
	var out []*Task
	for _, t := range g.tasks {
		if match(t.Hosts) {
			out = append(out, t)
		}
	}
	return out
}
