package tasks

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

type hookKind int

const (
	hookBefore hookKind = iota
	hookAfter
)

type hook struct {
	kind hookKind
	task string
	run  string
}

// Graph holds registered tasks and the hooks between them. Edges point from
// the task that must finish first to the task that follows it.
type Graph struct {
	tasks map[string]Task
	index map[string]int // registration order
	names []string
	hooks []hook

	before map[string][]string
	after  map[string][]string

	validated bool
}

func NewGraph() *Graph {
	return &Graph{
		tasks:  make(map[string]Task),
		index:  make(map[string]int),
		before: make(map[string][]string),
		after:  make(map[string][]string),
	}
}

// Register adds a task. Names must be unique and non-empty.
func (g *Graph) Register(t Task) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return invalidf("task name is required")
	}
	if _, exists := g.tasks[name]; exists {
		return invalidf("duplicate task name: %q", name)
	}
	if t.Body == nil {
		return invalidf("task %q has no body", name)
	}
	t.Name = name
	g.index[name] = len(g.names)
	g.names = append(g.names, name)
	g.tasks[name] = t
	g.validated = false
	return nil
}

// After declares that run executes immediately after task completes.
func (g *Graph) After(task, run string) {
	g.hooks = append(g.hooks, hook{kind: hookAfter, task: task, run: run})
	g.validated = false
}

// Before declares that run executes immediately before task starts.
func (g *Graph) Before(task, run string) {
	g.hooks = append(g.hooks, hook{kind: hookBefore, task: task, run: run})
	g.validated = false
}

// Validate checks hooks against registered tasks and rejects cycles.
func (g *Graph) Validate() error {
	before := make(map[string][]string)
	after := make(map[string][]string)
	seen := make(map[hook]struct{}, len(g.hooks))

	for _, h := range g.hooks {
		if _, ok := g.tasks[h.task]; !ok {
			return invalidf("hook references unknown task: %q", h.task)
		}
		if _, ok := g.tasks[h.run]; !ok {
			return invalidf("hook references unknown task: %q", h.run)
		}
		if h.task == h.run {
			return invalidf("self-hook: %q", h.task)
		}
		if _, dup := seen[h]; dup {
			return invalidf("duplicate hook: %q -> %q", h.task, h.run)
		}
		seen[h] = struct{}{}

		switch h.kind {
		case hookBefore:
			before[h.task] = append(before[h.task], h.run)
		case hookAfter:
			after[h.task] = append(after[h.task], h.run)
		}
	}

	g.before = before
	g.after = after

	all := make([]string, len(g.names))
	copy(all, g.names)
	if order := g.topoOrder(all, nil); len(order) != len(all) {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(g.findCycle(), " -> "))
	}

	g.validated = true
	return nil
}

// Task returns a registered task by name.
func (g *Graph) Task(name string) (Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Tasks lists registered tasks sorted by name.
func (g *Graph) Tasks() []Task {
	out := make([]Task, 0, len(g.tasks))
	for _, name := range g.names {
		out = append(out, g.tasks[name])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Plan returns the execution order for invoking name: its before-hooks, the
// task itself, then its after-hooks, expanded transitively. Each task appears
// once; when paths disagree the hook edges win over discovery order.
func (g *Graph) Plan(name string) ([]string, error) {
	if !g.validated {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	if _, ok := g.tasks[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	rank := make(map[string]int)
	var discovered []string
	var visit func(n string)
	visit = func(n string) {
		if _, ok := rank[n]; ok {
			return
		}
		rank[n] = -1
		for _, b := range g.before[n] {
			visit(b)
		}
		rank[n] = len(discovered)
		discovered = append(discovered, n)
		for _, a := range g.after[n] {
			visit(a)
		}
	}
	visit(name)

	return g.topoOrder(discovered, rank), nil
}

// successors returns the tasks that must follow n, restricted to members.
func (g *Graph) successors(n string, members map[string]struct{}) []string {
	var out []string
	for _, a := range g.after[n] {
		if _, ok := members[a]; ok {
			out = append(out, a)
		}
	}
	for task, runs := range g.before {
		if _, ok := members[task]; !ok {
			continue
		}
		for _, r := range runs {
			if r == n {
				out = append(out, task)
			}
		}
	}
	return out
}

// topoOrder runs Kahn's algorithm over nodes. Ready nodes are taken by rank,
// falling back to registration order, so the result is deterministic. A
// result shorter than nodes means the subgraph has a cycle.
func (g *Graph) topoOrder(nodes []string, rank map[string]int) []string {
	members := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		members[n] = struct{}{}
	}

	priority := func(n string) int {
		if rank != nil {
			if r, ok := rank[n]; ok {
				return r
			}
		}
		return g.index[n]
	}

	indeg := make(map[string]int, len(nodes))
	succ := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indeg[n] += 0
		for _, m := range g.successors(n, members) {
			succ[n] = append(succ[n], m)
			indeg[m]++
		}
	}

	ready := &rankHeap{priority: priority}
	for _, n := range nodes {
		if indeg[n] == 0 {
			heap.Push(ready, n)
		}
	}

	out := make([]string, 0, len(nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		out = append(out, n)
		for _, m := range succ[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle extracts one deterministic cycle witness for error reporting.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	members := make(map[string]struct{}, len(g.names))
	for _, n := range g.names {
		members[n] = struct{}{}
	}

	color := make(map[string]int, len(g.names))
	parent := make(map[string]string, len(g.names))
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		next := g.successors(u, members)
		sort.Slice(next, func(i, j int) bool { return g.index[next[i]] < g.index[next[j]] })
		for _, v := range next {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				path := []string{u}
				for cur := u; cur != v; {
					cur = parent[cur]
					path = append(path, cur)
				}
				for i := len(path) - 1; i >= 0; i-- {
					cycle = append(cycle, path[i])
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range g.names {
		if color[n] == white && dfs(n) {
			break
		}
	}
	return cycle
}

type rankHeap struct {
	items    []string
	priority func(string) int
}

func (h *rankHeap) Len() int { return len(h.items) }
func (h *rankHeap) Less(i, j int) bool {
	return h.priority(h.items[i]) < h.priority(h.items[j])
}
func (h *rankHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rankHeap) Push(x any)    { h.items = append(h.items, x.(string)) }
func (h *rankHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
