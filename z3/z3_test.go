package z3_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/nilsym"
	"github.com/benbjohnson/nilsym/z3"
	"github.com/google/go-cmp/cmp"
)

func TestSolver_Solve(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if model, err := s.Solve(context.Background(), &nilsym.Query{
				Assertions: []nilsym.Expr{nilsym.NewBoolConstantExpr(true)},
			}); err != nil {
				t.Fatal(err)
			} else if model == nil {
				t.Fatal("expected satisfiable")
			}
		})
		t.Run("False", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if model, err := s.Solve(context.Background(), &nilsym.Query{
				Assertions: []nilsym.Expr{nilsym.NewBoolConstantExpr(false)},
			}); err != nil {
				t.Fatal(err)
			} else if model != nil {
				t.Fatal("expected unsatisfiable")
			}
		})
	})

	t.Run("Int", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		g := nilsym.NewGraph()
		x := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()
		y := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()

		// x + y = 10, x - y = -4
		model, err := s.Solve(context.Background(), &nilsym.Query{
			Declarations: g.Declarations(),
			Assertions: []nilsym.Expr{
				nilsym.NewBinaryExpr(nilsym.EQ, nilsym.NewBinaryExpr(nilsym.ADD, x, y), nilsym.NewIntConstantExpr(10)),
				nilsym.NewBinaryExpr(nilsym.EQ, nilsym.NewBinaryExpr(nilsym.SUB, x, y), nilsym.NewIntConstantExpr(-4)),
			},
		})
		if err != nil {
			t.Fatal(err)
		} else if model == nil {
			t.Fatal("expected satisfiable")
		} else if got, exp := model[x.Name].String(), "3"; got != exp {
			t.Fatalf("x=%s, expected %s", got, exp)
		} else if got, exp := model[y.Name].String(), "7"; got != exp {
			t.Fatalf("y=%s, expected %s", got, exp)
		}
	})

	t.Run("Negative", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		g := nilsym.NewGraph()
		x := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()

		model, err := s.Solve(context.Background(), &nilsym.Query{
			Declarations: g.Declarations(),
			Assertions: []nilsym.Expr{
				nilsym.NewBinaryExpr(nilsym.EQ, nilsym.NewNegExpr(x), nilsym.NewIntConstantExpr(12)),
			},
		})
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(nilsym.FormatValue(model[x.Name]), "-12"); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Bool", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		g := nilsym.NewGraph()
		b := g.Declaration(g.Declare(nilsym.SortBool, nil)).Expr()
		x := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()

		// x = ite(b, 1, 0) and x > 0
		model, err := s.Solve(context.Background(), &nilsym.Query{
			Declarations: g.Declarations(),
			Assertions: []nilsym.Expr{
				nilsym.NewBinaryExpr(nilsym.EQ, x, nilsym.NewIteExpr(b, nilsym.NewIntConstantExpr(1), nilsym.NewIntConstantExpr(0))),
				nilsym.NewBinaryExpr(nilsym.GT, x, nilsym.NewIntConstantExpr(0)),
			},
		})
		if err != nil {
			t.Fatal(err)
		} else if !model[b.Name].IsTrue() {
			t.Fatalf("unexpected b: %s", model[b.Name])
		}
	})

	t.Run("Unsat", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		g := nilsym.NewGraph()
		x := g.Declaration(g.Declare(nilsym.SortInt, nil)).Expr()

		if model, err := s.Solve(context.Background(), &nilsym.Query{
			Declarations: g.Declarations(),
			Assertions: []nilsym.Expr{
				nilsym.NewBinaryExpr(nilsym.LT, x, nilsym.NewIntConstantExpr(0)),
				nilsym.NewBinaryExpr(nilsym.GT, x, nilsym.NewIntConstantExpr(0)),
			},
		}); err != nil {
			t.Fatal(err)
		} else if model != nil {
			t.Fatalf("expected unsatisfiable: %v", model)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		s := z3.NewSolver()
		s.Timeout = 1 * time.Second
		defer MustCloseSolver(s)
		if _, err := s.Solve(context.Background(), &nilsym.Query{
			Assertions: []nilsym.Expr{nilsym.NewBoolConstantExpr(true)},
		}); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("ErrUndeclared", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)
		if _, err := s.Solve(context.Background(), &nilsym.Query{
			Assertions: []nilsym.Expr{nilsym.NewIsZeroExpr(nilsym.NewNameExpr(4, nilsym.SortInt))},
		}); err == nil || err.Error() != `z3.Context.toNameAST: undeclared name: x4` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)
		for i := 0; i < 2; i++ {
			if _, err := s.Solve(context.Background(), &nilsym.Query{}); err != nil {
				t.Fatal(err)
			}
		}
		if got, exp := s.Stats().SolveN, 2; got != exp {
			t.Fatalf("SolveN=%d, expected %d", got, exp)
		}
	})
}

// Ensure the solver decides the null dereference scenarios end to end.
func TestSolver_Check(t *testing.T) {
	t.Run("Unguarded", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		fn := &nilsym.Function{
			Name:     "f",
			Locals:   []*nilsym.Local{{Type: nilsym.IntType}, {Name: "p", Type: nilsym.PointerTo(nilsym.IntType)}},
			ArgCount: 1,
			Blocks: []*nilsym.BasicBlock{{
				Statements: []nilsym.Statement{
					&nilsym.Assign{Place: nilsym.Place{Local: 0}, Rvalue: &nilsym.Use{Operand: &nilsym.Copy{Place: nilsym.Place{Local: 1, Derefs: 1}}}},
				},
				Terminator: &nilsym.Return{},
			}},
		}

		e := nilsym.NewExecutor(nil, fn)
		if err := e.Run(context.Background()); err != nil {
			t.Fatal(err)
		}

		findings, unknowns, err := nilsym.NewSynthesizer(s).Synthesize(context.Background(), fn, e.Graph(), e.Root())
		if err != nil {
			t.Fatal(err)
		} else if len(unknowns) != 0 {
			t.Fatalf("unexpected unknowns: %v", unknowns)
		} else if len(findings) != 1 {
			t.Fatalf("unexpected findings: %d", len(findings))
		} else if diff := cmp.Diff(findings[0].Witness, []nilsym.Binding{{Label: "p", Local: 1, Value: "0"}}); diff != "" {
			t.Fatal(diff)
		}
	})
}

// MustCloseSolver closes s. Panic on error.
func MustCloseSolver(s *z3.Solver) {
	if err := s.Close(); err != nil {
		panic(err)
	}
}
