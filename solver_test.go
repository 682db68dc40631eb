package nilsym_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/nilsym"
	"github.com/google/go-cmp/cmp"
)

func TestQuery_Validate(t *testing.T) {
	g := nilsym.NewGraph()
	x := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()

	t.Run("OK", func(t *testing.T) {
		q := &nilsym.Query{Declarations: g.Declarations(), Assertions: []nilsym.Expr{nilsym.NewIsZeroExpr(x)}}
		if err := q.Validate(); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("ErrNonBoolean", func(t *testing.T) {
		q := &nilsym.Query{Declarations: g.Declarations(), Assertions: []nilsym.Expr{x}}
		if err := q.Validate(); err == nil || err.Error() != `non-boolean assertion: x0` {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	t.Run("ErrUndeclared", func(t *testing.T) {
		q := &nilsym.Query{Assertions: []nilsym.Expr{nilsym.NewIsZeroExpr(x)}}
		if err := q.Validate(); err == nil || err.Error() != `undeclared name: x0` {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestCheck(t *testing.T) {
	t.Run("Sat", func(t *testing.T) {
		g := nilsym.NewGraph()
		b := g.Declare(nilsym.SortBool, &nilsym.Origin{Function: "f", Local: 2, Label: "ok"})
		p := g.Declare(nilsym.SortInt, &nilsym.Origin{Function: "f", Local: 1, Label: "p"})
		tmp := g.Declare(nilsym.SortInt, nil)

		root := g.AddNode()
		g.AddExprToNode(root, nilsym.NewBinaryExpr(nilsym.EQ, g.Declaration(tmp).Expr(), g.Declaration(p).Expr()))

		w, err := nilsym.Check(context.Background(), NewBruteForceSolver(), g, root,
			nilsym.NewIsZeroExpr(g.Declaration(p).Expr()),
			g.Declaration(b).Expr(),
		)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(w.Bindings, []nilsym.Binding{
			{Label: "p", Local: 1, Value: "0"},
			{Label: "ok", Local: 2, Value: "true"},
		}); diff != "" {
			t.Fatal(diff)
		} else if got, exp := w.String(), "p = 0, ok = true"; got != exp {
			t.Fatalf("String()=%q, expected %q", got, exp)
		}
	})

	t.Run("Unsat", func(t *testing.T) {
		g := nilsym.NewGraph()
		x := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()
		root := g.AddNode()
		g.AddExprToNode(root, nilsym.NewBinaryExpr(nilsym.EQ, x, nilsym.NewIntConstantExpr(1)))

		if w, err := nilsym.Check(context.Background(), NewBruteForceSolver(), g, root, nilsym.NewIsZeroExpr(x)); err != nil {
			t.Fatal(err)
		} else if w != nil {
			t.Fatalf("unexpected witness: %s", w)
		}
	})

	t.Run("ErrSolver", func(t *testing.T) {
		g := nilsym.NewGraph()
		root := g.AddNode()
		s := SolverFunc(func(ctx context.Context, q *nilsym.Query) (nilsym.Model, error) {
			return nil, nilsym.ErrSolverTimeout
		})
		if _, err := nilsym.Check(context.Background(), s, g, root); err != nilsym.ErrSolverTimeout {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestFormatValue(t *testing.T) {
	if got, exp := nilsym.FormatValue(nilsym.NewIntConstantExpr(-3)), "-3"; got != exp {
		t.Fatalf("FormatValue()=%s, expected %s", got, exp)
	} else if got, exp := nilsym.FormatValue(nilsym.NewBoolConstantExpr(false)), "false"; got != exp {
		t.Fatalf("FormatValue()=%s, expected %s", got, exp)
	}
}

// SolverFunc implements nilsym.Solver with a function.
type SolverFunc func(ctx context.Context, q *nilsym.Query) (nilsym.Model, error)

// Solve calls fn.
func (fn SolverFunc) Solve(ctx context.Context, q *nilsym.Query) (nilsym.Model, error) {
	return fn(ctx, q)
}

// BruteForceSolver enumerates every assignment of declared names over a
// small domain. It is only suitable for tiny queries.
type BruteForceSolver struct {
	Domain []int64
	SolveN int
}

// NewBruteForceSolver returns a solver over the domain {0, 1}.
func NewBruteForceSolver() *BruteForceSolver {
	return &BruteForceSolver{Domain: []int64{0, 1}}
}

// Solve returns the first satisfying assignment, in enumeration order.
func (s *BruteForceSolver) Solve(ctx context.Context, q *nilsym.Query) (nilsym.Model, error) {
	s.SolveN++
	if err := q.Validate(); err != nil {
		return nil, err
	}

	model := make(nilsym.Model, len(q.Declarations))
	var search func(i int) bool
	search = func(i int) bool {
		if i == len(q.Declarations) {
			ee := nilsym.NewExprEvaluator(model)
			for _, expr := range q.Assertions {
				if v, err := ee.Evaluate(expr); err != nil || !v.IsTrue() {
					return false
				}
			}
			return true
		}

		decl := q.Declarations[i]
		for _, v := range s.Domain {
			if decl.Sort == nilsym.SortBool {
				if v > 1 || v < 0 {
					continue
				}
				model[decl.Name] = nilsym.NewBoolConstantExpr(v != 0)
			} else {
				model[decl.Name] = nilsym.NewIntConstantExpr(v)
			}
			if search(i + 1) {
				return true
			}
		}
		return false
	}

	if !search(0) {
		return nil, nil
	}
	return model, nil
}
