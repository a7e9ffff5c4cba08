package engine

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

// NodeKind tells scalar formulas from table row formulas.
type NodeKind uint8

const (
	NodeScalar NodeKind = iota
	NodeRowFormula
)

// DependencyNode represents one formula in the dependency graph. Data
// columns and scalars without a formula are leaves and have no node.
type DependencyNode struct {
	ID   int
	Kind NodeKind
	// Table is set for row formulas only.
	Table string
	Name  string

	Formula   string
	FormulaID FormulaID
	AST       formula.ASTNode

	Precedents []int    // formula nodes this node depends on, sorted by ID
	References []string // every name the formula reads, formulas and leaves
}

// QualifiedName is the scalar name, or table.column for row formulas.
func (n *DependencyNode) QualifiedName() string {
	if n.Kind == NodeRowFormula {
		return n.Table + "." + n.Name
	}
	return n.Name
}

// DependencyGraph manages formula dependencies across a model
type DependencyGraph struct {
	model        *model.ParsedModel
	nodes        []*DependencyNode
	index        map[string]int   // qualified name -> node ID
	referencedBy map[string][]int // any name -> nodes reading it
}

// Plan is a resolved model: its dependency graph and an evaluation order in
// which every node follows the nodes it references.
type Plan struct {
	graph *DependencyGraph
	order []*DependencyNode
}

// Resolve parses every formula of m through formulas, links references and
// orders the nodes. Unknown references, aggregations in row formulas and
// cycles fail here, before anything is evaluated.
func Resolve(m *model.ParsedModel, formulas *FormulaTable) (*Plan, error) {
	g := &DependencyGraph{
		model:        m,
		index:        make(map[string]int),
		referencedBy: make(map[string][]int),
	}
	if err := g.addNodes(formulas); err != nil {
		return nil, err
	}
	for _, node := range g.nodes {
		if err := g.link(node); err != nil {
			return nil, err
		}
	}
	order, err := g.GetCalculationOrder()
	if err != nil {
		return nil, err
	}
	return &Plan{graph: g, order: order}, nil
}

// addNodes assigns dense IDs: scalars by name, then tables by name and
// their row formulas by name.
func (g *DependencyGraph) addNodes(formulas *FormulaTable) error {
	add := func(node *DependencyNode) error {
		id, ast, err := formulas.Intern(node.Formula)
		if err != nil {
			return fmt.Errorf("%s: %w", node.QualifiedName(), err)
		}
		node.ID = len(g.nodes)
		node.FormulaID, node.AST = id, ast
		g.nodes = append(g.nodes, node)
		g.index[node.QualifiedName()] = node.ID
		return nil
	}

	for _, name := range g.model.ScalarNames() {
		v := g.model.Scalars[name]
		if !v.HasFormula() {
			continue
		}
		if err := add(&DependencyNode{Kind: NodeScalar, Name: name, Formula: v.Formula}); err != nil {
			return err
		}
	}
	for _, tableName := range g.model.TableNames() {
		t := g.model.Tables[tableName]
		if err := t.Validate(); err != nil {
			return err
		}
		for _, col := range t.RowFormulaNames() {
			node := &DependencyNode{Kind: NodeRowFormula, Table: tableName, Name: col, Formula: t.RowFormulas[col]}
			if err := add(node); err != nil {
				return err
			}
			if err := rejectAggregation(node); err != nil {
				return err
			}
		}
	}
	return nil
}

// rejectAggregation fails a row formula that calls a function reducing a
// whole column: the reduction cannot be indexed by row.
func rejectAggregation(node *DependencyNode) error {
	var err error
	formula.Inspect(node.AST, func(n formula.ASTNode) bool {
		call, ok := n.(*formula.FunctionCallNode)
		if ok && err == nil && IsAggregation(call.Name) {
			err = formula.Errorf(formula.ErrorCodeValue,
				"%s: aggregation function %s cannot be used in a row formula; compute it as a scalar and reference that instead",
				node.QualifiedName(), call.Name)
		}
		return err == nil
	})
	return err
}

// link collects the references of node and records its edges.
func (g *DependencyGraph) link(node *DependencyNode) error {
	refs := make(map[string]struct{})
	w := &refWalker{graph: g, node: node, refs: refs}
	if err := w.walk(node.AST, nil); err != nil {
		return fmt.Errorf("%s: %w", node.QualifiedName(), err)
	}

	node.References = slices.Sorted(maps.Keys(refs))
	for _, name := range node.References {
		g.referencedBy[name] = append(g.referencedBy[name], node.ID)
		if id, ok := g.index[name]; ok {
			node.Precedents = append(node.Precedents, id)
		}
	}
	slices.Sort(node.Precedents)
	return nil
}

// refWalker walks one formula, tracking names bound by LET and LAMBDA.
type refWalker struct {
	graph *DependencyGraph
	node  *DependencyNode
	refs  map[string]struct{}
}

func (w *refWalker) walk(n formula.ASTNode, scope map[string]bool) error {
	switch n := n.(type) {
	case *formula.ScalarRefNode:
		if scope[n.Name] {
			return nil
		}
		return w.add(w.resolveName(n.Name))
	case *formula.ColumnRefNode:
		return w.add(w.resolveQualified(n.Table, n.Column))
	case *formula.IndexedRefNode:
		if err := w.add(w.resolveQualified(n.Table, n.Column)); err != nil {
			return err
		}
		return w.walk(n.Index, scope)
	case *formula.BinaryOpNode:
		if err := w.walk(n.Left, scope); err != nil {
			return err
		}
		return w.walk(n.Right, scope)
	case *formula.UnaryOpNode:
		return w.walk(n.Operand, scope)
	case *formula.CallNode:
		if err := w.walk(n.Callee, scope); err != nil {
			return err
		}
		return w.walkAll(n.Args, scope)
	case *formula.FunctionCallNode:
		return w.walkCall(n, scope)
	}
	return nil
}

func (w *refWalker) walkAll(nodes []formula.ASTNode, scope map[string]bool) error {
	for _, arg := range nodes {
		if err := w.walk(arg, scope); err != nil {
			return err
		}
	}
	return nil
}

func (w *refWalker) walkCall(n *formula.FunctionCallNode, scope map[string]bool) error {
	switch n.Name {
	case "LET":
		inner := maps.Clone(scope)
		if inner == nil {
			inner = map[string]bool{}
		}
		for i := 0; i+1 < len(n.Args); i += 2 {
			name, ok := bindingName(n.Args[i])
			if !ok {
				if err := w.walk(n.Args[i], inner); err != nil {
					return err
				}
			}
			if err := w.walk(n.Args[i+1], inner); err != nil {
				return err
			}
			if ok {
				inner[name] = true
			}
		}
		if len(n.Args) > 0 {
			return w.walk(n.Args[len(n.Args)-1], inner)
		}
		return nil
	case "LAMBDA":
		if len(n.Args) == 0 {
			return nil
		}
		inner := maps.Clone(scope)
		if inner == nil {
			inner = map[string]bool{}
		}
		for _, param := range n.Args[:len(n.Args)-1] {
			if name, ok := bindingName(param); ok {
				inner[name] = true
			}
		}
		return w.walk(n.Args[len(n.Args)-1], inner)
	case "INDIRECT":
		// a literal target is a static reference; anything else resolves
		// at evaluation time
		if len(n.Args) == 1 {
			if lit, ok := n.Args[0].(*formula.LiteralNode); ok && lit.Value.IsText() {
				names, err := w.resolveText(strings.TrimSpace(lit.Value.Str()))
				if err == nil {
					return w.add(names, nil)
				}
				return nil
			}
		}
	case "ISREF":
		// an unresolvable reference is an answer here, not an error
		if len(n.Args) == 1 {
			sub := &refWalker{graph: w.graph, node: w.node, refs: map[string]struct{}{}}
			if sub.walk(n.Args[0], scope) == nil {
				maps.Copy(w.refs, sub.refs)
			}
			return nil
		}
	}
	return w.walkAll(n.Args, scope)
}

func (w *refWalker) add(names []string, err error) error {
	if err != nil {
		return err
	}
	for _, name := range names {
		w.refs[name] = struct{}{}
	}
	return nil
}

// resolveName resolves a bare identifier: the row formula's own table
// first, then scalars, then a whole table (ROWS(table), COLUMNS(table)).
func (w *refWalker) resolveName(name string) ([]string, error) {
	m := w.graph.model
	if strings.HasPrefix(name, "@") {
		return w.resolveInclude(name)
	}
	if w.node.Kind == NodeRowFormula {
		t := m.Tables[w.node.Table]
		_, isColumn := t.Columns[name]
		_, isFormula := t.RowFormulas[name]
		if isColumn || isFormula {
			return []string{w.node.Table + "." + name}, nil
		}
	}
	if _, ok := m.Scalars[name]; ok {
		return []string{name}, nil
	}
	if t, ok := m.Tables[name]; ok {
		names := []string{name}
		for _, col := range t.RowFormulaNames() {
			names = append(names, name+"."+col)
		}
		return names, nil
	}
	return nil, formula.Errorf(formula.ErrorCodeRef, "Unknown variable: %s", name)
}

// resolveQualified resolves table.column. A scalar with the dotted name
// wins over a table column.
func (w *refWalker) resolveQualified(table, column string) ([]string, error) {
	m := w.graph.model
	qualified := table + "." + column
	if _, ok := m.Scalars[qualified]; ok {
		return []string{qualified}, nil
	}
	t, ok := m.Tables[table]
	if !ok {
		return nil, formula.Errorf(formula.ErrorCodeRef, "Unknown table: %s", table)
	}
	_, isColumn := t.Columns[column]
	_, isFormula := t.RowFormulas[column]
	if !isColumn && !isFormula {
		return nil, formula.Errorf(formula.ErrorCodeRef, "Unknown column: %s", qualified)
	}
	return []string{qualified}, nil
}

func (w *refWalker) resolveInclude(name string) ([]string, error) {
	alias, scalar, _ := strings.Cut(strings.TrimPrefix(name, "@"), ".")
	if inc, ok := w.graph.model.Includes[alias]; ok {
		if _, ok := inc.Scalars[scalar]; ok {
			return []string{name}, nil
		}
	}
	return nil, formula.Errorf(formula.ErrorCodeRef, "Unknown include reference: %s", name)
}

// resolveText resolves an INDIRECT target the way INDIRECT does at
// evaluation time: a scalar first, then table.column.
func (w *refWalker) resolveText(ref string) ([]string, error) {
	if _, ok := w.graph.model.Scalars[ref]; ok {
		return []string{ref}, nil
	}
	if table, column, ok := strings.Cut(ref, "."); ok {
		return w.resolveQualified(table, column)
	}
	return nil, formula.Errorf(formula.ErrorCodeRef, "Unknown variable: %s", ref)
}

const (
	unvisited uint8 = iota
	inProgress
	done
)

// frame is one node on the explicit DFS stack.
type frame struct {
	id   int
	next int // index into Precedents of the next edge to follow
}

// GetCalculationOrder returns the nodes so that every node comes after its
// precedents. The traversal is an iterative depth-first search; reaching a
// node that is still in progress is a cycle, reported with its path.
func (g *DependencyGraph) GetCalculationOrder() ([]*DependencyNode, error) {
	state := make([]uint8, len(g.nodes))
	order := make([]*DependencyNode, 0, len(g.nodes))
	var stack []frame

	for root := range g.nodes {
		if state[root] != unvisited {
			continue
		}
		state[root] = inProgress
		stack = append(stack[:0], frame{id: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node := g.nodes[top.id]
			if top.next < len(node.Precedents) {
				dep := node.Precedents[top.next]
				top.next++
				switch state[dep] {
				case inProgress:
					return nil, g.cycleError(stack, dep)
				case unvisited:
					state[dep] = inProgress
					stack = append(stack, frame{id: dep})
				}
				continue
			}
			state[top.id] = done
			order = append(order, node)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

func (g *DependencyGraph) cycleError(stack []frame, closing int) error {
	start := slices.IndexFunc(stack, func(f frame) bool { return f.id == closing })
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, g.nodes[f.id].QualifiedName())
	}
	path = append(path, g.nodes[closing].QualifiedName())
	return formula.Errorf(formula.ErrorCodeCircular, "Circular dependency detected: %s", strings.Join(path, " → "))
}

// Order is the evaluation order.
func (p *Plan) Order() []*DependencyNode {
	return p.order
}

// Node looks up a formula node by qualified name.
func (p *Plan) Node(name string) (*DependencyNode, bool) {
	id, ok := p.graph.index[name]
	if !ok {
		return nil, false
	}
	return p.graph.nodes[id], true
}

// Dependencies returns the names a formula reads directly. Leaves have none.
func (p *Plan) Dependencies(name string) []string {
	node, ok := p.Node(name)
	if !ok {
		return nil
	}
	return node.References
}

// Dependents returns the formulas that read name directly, sorted.
func (p *Plan) Dependents(name string) []string {
	ids := p.graph.referencedBy[name]
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = p.graph.nodes[id].QualifiedName()
	}
	slices.Sort(out)
	return out
}

// AllDependents returns every formula affected by name (transitive
// closure), sorted.
func (p *Plan) AllDependents(name string) []string {
	visited := make(map[string]struct{})
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range p.Dependents(cur) {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	delete(visited, name)
	return slices.Sorted(maps.Keys(visited))
}
