package nilsym

import (
	"context"
	"fmt"
	"sort"
)

// Solver represents a satisfiability solver over the Int and Bool sorts.
type Solver interface {
	// Solve checks the conjunction of the query's assertions. Returns a model
	// assigning every declared name if satisfiable, or a nil model if not.
	Solve(ctx context.Context, q *Query) (Model, error)
}

// Query represents a single satisfiability check.
type Query struct {
	Declarations []*Declaration
	Assertions   []Expr
}

// NewQuery returns a query asserting extra and the formula reachable from entry.
func NewQuery(g *Graph, entry NodeID, extra ...Expr) *Query {
	assertions := make([]Expr, 0, len(extra)+1)
	assertions = append(assertions, extra...)
	assertions = append(assertions, g.Formula(entry))
	return &Query{
		Declarations: g.Declarations(),
		Assertions:   assertions,
	}
}

// Validate returns an error if an assertion is not boolean or references
// an undeclared name.
func (q *Query) Validate() error {
	declared := make(map[Name]Sort, len(q.Declarations))
	for _, decl := range q.Declarations {
		declared[decl.Name] = decl.Sort
	}

	for _, expr := range q.Assertions {
		if ExprSort(expr) != SortBool {
			return fmt.Errorf("non-boolean assertion: %s", expr)
		}
	}
	for _, name := range FindNames(q.Assertions...) {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("undeclared name: %s", name)
		}
	}
	return nil
}

// Model maps declared names to concrete values.
type Model map[Name]*ConstantExpr

// Witness is a satisfying assignment restricted to entry parameters.
type Witness struct {
	Bindings []Binding
}

// Binding is a concrete value for a single entry parameter.
type Binding struct {
	Label string `json:"label"`
	Local int    `json:"-"`
	Value string `json:"value"`
}

// String returns the witness as "a = 1, b = 0".
func (w *Witness) String() string {
	var s string
	for i, b := range w.Bindings {
		if i > 0 {
			s += ", "
		}
		s += b.Label + " = " + b.Value
	}
	return s
}

// Check asserts extra plus the formula reachable from entry. Returns nil if
// the query is unsatisfiable. Otherwise returns the model values of every
// name bound to an entry parameter.
func Check(ctx context.Context, s Solver, g *Graph, entry NodeID, extra ...Expr) (*Witness, error) {
	q := NewQuery(g, entry, extra...)
	if err := q.Validate(); err != nil {
		return nil, err
	}

	model, err := s.Solve(ctx, q)
	if err != nil {
		return nil, err
	} else if model == nil {
		return nil, nil
	}
	return NewWitness(g, model), nil
}

// NewWitness filters model down to names with an origin, ordered by
// parameter slot.
func NewWitness(g *Graph, model Model) *Witness {
	w := &Witness{Bindings: []Binding{}}
	for _, decl := range g.Declarations() {
		if decl.Origin == nil {
			continue
		}
		value, ok := model[decl.Name]
		if !ok {
			continue
		}
		w.Bindings = append(w.Bindings, Binding{
			Label: decl.Origin.Label,
			Local: decl.Origin.Local,
			Value: FormatValue(value),
		})
	}
	sort.SliceStable(w.Bindings, func(i, j int) bool { return w.Bindings[i].Local < w.Bindings[j].Local })
	return w
}

// FormatValue returns a concrete value in source form, e.g. "-1" or "true".
func FormatValue(v *ConstantExpr) string {
	if v.Sort == SortBool {
		return fmt.Sprint(v.IsTrue())
	}
	return v.Value.String()
}
