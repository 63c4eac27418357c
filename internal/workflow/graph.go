// Package workflow runs searches through a small compiled step graph.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"azure-search-mcp/internal/tracing"
	"azure-search-mcp/pkg/models"
)

// ErrInvalidGraph is returned by Compile for a malformed graph.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// NodeFunc runs one step against the run state and returns the label used
// to pick the next step.
type NodeFunc func(ctx context.Context, st *models.WorkflowState) string

// Graph is a mutable graph under construction.
type Graph struct {
	nodes map[models.Step]NodeFunc
	order []models.Step
	edges map[models.Step]models.Step
	cond  map[models.Step]map[string]models.Step
	entry models.Step
	errs  []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[models.Step]NodeFunc),
		edges: make(map[models.Step]models.Step),
		cond:  make(map[models.Step]map[string]models.Step),
	}
}

// AddNode registers a step.
func (g *Graph) AddNode(name models.Step, fn NodeFunc) *Graph {
	switch {
	case name == models.StepEnd:
		g.errs = append(g.errs, "END is reserved")
	case fn == nil:
		g.errs = append(g.errs, fmt.Sprintf("node %s has no function", name))
	case g.nodes[name] != nil:
		g.errs = append(g.errs, fmt.Sprintf("node %s added twice", name))
	default:
		g.nodes[name] = fn
		g.order = append(g.order, name)
	}
	return g
}

// AddEdge adds an unconditional transition.
func (g *Graph) AddEdge(from, to models.Step) *Graph {
	if _, dup := g.edges[from]; dup {
		g.errs = append(g.errs, fmt.Sprintf("node %s has two unconditional edges", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a step by the label its function returns.
func (g *Graph) AddConditionalEdges(from models.Step, routes map[string]models.Step) *Graph {
	if _, dup := g.cond[from]; dup {
		g.errs = append(g.errs, fmt.Sprintf("node %s has two conditional edge sets", from))
		return g
	}
	copied := make(map[string]models.Step, len(routes))
	for label, to := range routes {
		copied[label] = to
	}
	g.cond[from] = copied
	return g
}

// SetEntry sets the first step.
func (g *Graph) SetEntry(s models.Step) *Graph {
	g.entry = s
	return g
}

// Compile validates the graph. A compiled graph has a known entry, only
// known targets, no cycles, and every step reachable and able to reach END.
func (g *Graph) Compile(opts ...CompileOption) (*Compiled, error) {
	problems := append([]string(nil), g.errs...)

	if g.entry == "" {
		problems = append(problems, "no entry step")
	} else if g.nodes[g.entry] == nil {
		problems = append(problems, fmt.Sprintf("entry %s is not a node", g.entry))
	}

	known := func(s models.Step) bool { return s == models.StepEnd || g.nodes[s] != nil }
	for _, from := range g.order {
		_, hasEdge := g.edges[from]
		_, hasCond := g.cond[from]
		switch {
		case hasEdge && hasCond:
			problems = append(problems, fmt.Sprintf("node %s has both conditional and unconditional edges", from))
		case !hasEdge && !hasCond:
			problems = append(problems, fmt.Sprintf("node %s has no outgoing edge", from))
		}
	}
	for from, to := range g.edges {
		if g.nodes[from] == nil {
			problems = append(problems, fmt.Sprintf("edge from unknown node %s", from))
		}
		if !known(to) {
			problems = append(problems, fmt.Sprintf("edge %s -> %s targets an unknown node", from, to))
		}
	}
	for from, routes := range g.cond {
		if g.nodes[from] == nil {
			problems = append(problems, fmt.Sprintf("edge from unknown node %s", from))
		}
		if len(routes) == 0 {
			problems = append(problems, fmt.Sprintf("node %s has an empty route table", from))
		}
		for label, to := range routes {
			if !known(to) {
				problems = append(problems, fmt.Sprintf("edge %s -[%s]-> %s targets an unknown node", from, label, to))
			}
		}
	}

	if len(problems) == 0 {
		problems = append(problems, g.checkShape()...)
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(problems, "; "))
	}

	c := &Compiled{
		nodes:  g.nodes,
		order:  append([]models.Step(nil), g.order...),
		edges:  g.edges,
		cond:   g.cond,
		entry:  g.entry,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (g *Graph) successors(s models.Step) []models.Step {
	if to, ok := g.edges[s]; ok {
		return []models.Step{to}
	}
	labels := make([]string, 0, len(g.cond[s]))
	for l := range g.cond[s] {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	out := make([]models.Step, 0, len(labels))
	for _, l := range labels {
		out = append(out, g.cond[s][l])
	}
	return out
}

// checkShape rejects cycles, unreachable steps and steps that cannot reach END.
func (g *Graph) checkShape() []string {
	const (
		white = iota
		grey
		black
	)
	var problems []string
	color := make(map[models.Step]int, len(g.nodes))
	reachesEnd := make(map[models.Step]bool, len(g.nodes))

	var visit func(s models.Step)
	visit = func(s models.Step) {
		color[s] = grey
		for _, next := range g.successors(s) {
			if next == models.StepEnd {
				reachesEnd[s] = true
				continue
			}
			switch color[next] {
			case grey:
				problems = append(problems, fmt.Sprintf("cycle through %s -> %s", s, next))
			case white:
				visit(next)
			}
			if reachesEnd[next] {
				reachesEnd[s] = true
			}
		}
		color[s] = black
	}
	visit(g.entry)

	for _, s := range g.order {
		if color[s] == white {
			problems = append(problems, fmt.Sprintf("node %s is unreachable from %s", s, g.entry))
		} else if !reachesEnd[s] && len(problems) == 0 {
			problems = append(problems, fmt.Sprintf("node %s cannot reach END", s))
		}
	}
	return problems
}

// CompileOption configures a compiled graph.
type CompileOption func(*Compiled)

// WithTracer wraps every step in a span from t.
func WithTracer(t trace.Tracer) CompileOption {
	return func(c *Compiled) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics records step latencies.
func WithMetrics(m *tracing.Metrics) CompileOption {
	return func(c *Compiled) { c.metrics = m }
}

// Compiled is an immutable, validated graph. It is safe for concurrent runs.
type Compiled struct {
	nodes   map[models.Step]NodeFunc
	order   []models.Step
	edges   map[models.Step]models.Step
	cond    map[models.Step]map[string]models.Step
	entry   models.Step
	tracer  trace.Tracer
	metrics *tracing.Metrics
}

// Execute walks the graph from the entry step until END. Path records every
// step taken, END included.
func (c *Compiled) Execute(ctx context.Context, st *models.WorkflowState) {
	visited := make(map[models.Step]bool, len(c.nodes))
	cur := c.entry

	for cur != models.StepEnd {
		if visited[cur] {
			st.Err = fmt.Errorf("workflow: step %s visited twice", cur)
			st.Output = ""
			return
		}
		visited[cur] = true
		st.Path = append(st.Path, cur)

		label := c.step(ctx, cur, st)

		next, ok := c.next(cur, label)
		if !ok {
			st.Err = fmt.Errorf("workflow: no route from %s for %q", cur, label)
			st.Output = ""
			return
		}
		cur = next
	}
	st.Path = append(st.Path, models.StepEnd)
}

func (c *Compiled) step(ctx context.Context, s models.Step, st *models.WorkflowState) string {
	ctx, span := c.tracer.Start(ctx, "workflow."+string(s))
	defer span.End()

	start := time.Now()
	label := c.nodes[s](ctx, st)
	failed := label == string(models.OutcomeError)

	span.SetAttributes(attribute.String("workflow.outcome", label))
	if failed && st.Err != nil {
		span.RecordError(st.Err)
		span.SetStatus(codes.Error, "step failed")
	}
	if c.metrics != nil {
		c.metrics.RecordStep(ctx, string(s), time.Since(start), failed)
	}
	return label
}

func (c *Compiled) next(from models.Step, label string) (models.Step, bool) {
	if to, ok := c.edges[from]; ok {
		return to, true
	}
	to, ok := c.cond[from][label]
	return to, ok
}

// Edge is one transition in a graph description.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Description is a serializable view of a compiled graph.
type Description struct {
	Entry string   `json:"entry"`
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Describe lists the graph's nodes in insertion order and its edges sorted
// by source and label.
func (c *Compiled) Describe() Description {
	d := Description{Entry: string(c.entry)}
	for _, s := range c.order {
		d.Nodes = append(d.Nodes, string(s))
		if to, ok := c.edges[s]; ok {
			d.Edges = append(d.Edges, Edge{From: string(s), To: string(to)})
			continue
		}
		labels := make([]string, 0, len(c.cond[s]))
		for l := range c.cond[s] {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			d.Edges = append(d.Edges, Edge{From: string(s), To: string(c.cond[s][l]), Label: l})
		}
	}
	return d
}

// String renders the description as one edge per line.
func (d Description) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entry: %s\n", d.Entry)
	for _, e := range d.Edges {
		if e.Label != "" {
			fmt.Fprintf(&b, "%s -[%s]-> %s\n", e.From, e.Label, e.To)
		} else {
			fmt.Fprintf(&b, "%s -> %s\n", e.From, e.To)
		}
	}
	return b.String()
}
