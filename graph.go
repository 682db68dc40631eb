package nilsym

import (
	"bytes"
	"fmt"
)

// NodeID identifies a node within a Graph.
type NodeID int

// Node represents a conjunction of assertions recorded while executing a
// single basic block along a single path.
type Node struct {
	ID     NodeID
	Exprs  []Expr
	closed bool
	out    []Edge
	in     []Edge
}

// Edge represents a guarded transition. A nil guard is unconditional.
// For backward edges, Target refers to the predecessor node.
type Edge struct {
	Guard  Expr
	Target NodeID
}

// Graph represents the constraint graph for one analysis run. It owns the
// declaration table for every name allocated during that run.
type Graph struct {
	nodes []*Node
	decls []*Declaration
}

// NewGraph returns a new, empty instance of Graph.
func NewGraph() *Graph {
	return &Graph{}
}

// AddNode allocates a new open node.
func (g *Graph) AddNode() NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Node{ID: id})
	return id
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node {
	assert(id >= 0 && int(id) < len(g.nodes), "node out of range: %d", id)
	return g.nodes[id]
}

// NodeN returns the number of nodes in the graph.
func (g *Graph) NodeN() int { return len(g.nodes) }

// AddExprToNode appends an assertion to an open node.
func (g *Graph) AddExprToNode(id NodeID, expr Expr) {
	n := g.Node(id)
	assert(!n.closed, "add expr to closed node: %d", id)
	assert(ExprSort(expr) == SortBool, "non-boolean assertion: %s", expr)
	n.Exprs = append(n.Exprs, expr)
}

// CloseNode marks the node as complete. No further expressions may be added.
func (g *Graph) CloseNode(id NodeID) {
	g.Node(id).closed = true
}

// AddEdge records e as a successor of from and the reciprocal edge as a
// predecessor of e.Target.
func (g *Graph) AddEdge(from NodeID, e Edge) {
	src, dst := g.Node(from), g.Node(e.Target)
	src.out = append(src.out, e)
	dst.in = append(dst.in, Edge{Guard: e.Guard, Target: from})
}

// Successors returns the forward edges of a node.
func (g *Graph) Successors(id NodeID) []Edge { return g.Node(id).out }

// Predecessors returns the backward edges of a node.
func (g *Graph) Predecessors(id NodeID) []Edge { return g.Node(id).in }

// Formula returns the formula describing all behavior reachable from start:
//
//	(and stmts... (=> guard child)...)
func (g *Graph) Formula(start NodeID) Expr {
	n := g.Node(start)

	exprs := make([]Expr, 0, len(n.Exprs)+len(n.out))
	exprs = append(exprs, n.Exprs...)
	for _, e := range n.out {
		child := g.Formula(e.Target)
		if e.Guard == nil {
			exprs = append(exprs, child)
		} else {
			exprs = append(exprs, NewBinaryExpr(IMPLIES, e.Guard, child))
		}
	}
	return NewAndExpr(exprs...)
}

// PathConstraint returns the conjunction of guards from the root to id.
//
// Only the first recorded predecessor of each node is followed. This is
// exact as long as the graph remains a tree.
func (g *Graph) PathConstraint(id NodeID) Expr {
	var guards []Expr
	for n := g.Node(id); len(n.in) > 0; n = g.Node(n.in[0].Target) {
		if guard := n.in[0].Guard; guard != nil {
			guards = append(guards, guard)
		}
	}

	// Conjoin from the root downward.
	for i, j := 0, len(guards)-1; i < j; i, j = i+1, j-1 {
		guards[i], guards[j] = guards[j], guards[i]
	}
	return NewAndExpr(guards...)
}

// Declare allocates a new name of the given sort.
func (g *Graph) Declare(sort Sort, origin *Origin) Name {
	name := Name(len(g.decls))
	g.decls = append(g.decls, &Declaration{Name: name, Sort: sort, Origin: origin})
	return name
}

// Declaration returns the declaration for name.
func (g *Graph) Declaration(name Name) *Declaration {
	assert(uint64(name) < uint64(len(g.decls)), "undeclared name: %s", name)
	return g.decls[name]
}

// Declarations returns all declarations in allocation order.
func (g *Graph) Declarations() []*Declaration { return g.decls }

// AddPropertyToDeclaration attaches prop to the declaration of name.
func (g *Graph) AddPropertyToDeclaration(name Name, prop Property) {
	decl := g.Declaration(name)
	decl.Properties = append(decl.Properties, prop)
}

// Dump returns a textual representation of the graph.
func (g *Graph) Dump() string {
	var buf bytes.Buffer
	buf.WriteString("== DECLARATIONS\n")
	for _, decl := range g.decls {
		fmt.Fprintf(&buf, "%s: %s", decl.Name, decl.Sort)
		if decl.Origin != nil {
			fmt.Fprintf(&buf, " origin=%s", decl.Origin.Label)
		}
		for _, prop := range decl.DerefProperties() {
			fmt.Fprintf(&buf, " deref@%d", prop.Node)
		}
		buf.WriteString("\n")
	}

	buf.WriteString("== NODES\n")
	for _, n := range g.nodes {
		fmt.Fprintf(&buf, "node %d:\n", n.ID)
		for _, expr := range n.Exprs {
			fmt.Fprintf(&buf, "  %s\n", expr)
		}
		for _, e := range n.out {
			if e.Guard == nil {
				fmt.Fprintf(&buf, "  -> %d\n", e.Target)
			} else {
				fmt.Fprintf(&buf, "  -> %d if %s\n", e.Target, e.Guard)
			}
		}
	}
	return buf.String()
}
