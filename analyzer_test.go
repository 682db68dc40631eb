package nilsym_test

import (
	"context"
	"errors"
	"testing"

	"github.com/benbjohnson/nilsym"
	"github.com/sirupsen/logrus"
)

func TestAnalyzer_Analyze(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		guarded, unguarded := GuardedDerefFunction(), UnguardedDerefFunction()
		guarded.Name, unguarded.Name = "guarded", "unguarded"

		a := NewTestAnalyzer(&nilsym.Program{Functions: []*nilsym.Function{guarded, unguarded}})
		a.Concurrency = 2
		results, err := a.Analyze(context.Background(), []*nilsym.Function{guarded, unguarded})
		if err != nil {
			t.Fatal(err)
		} else if len(results) != 2 {
			t.Fatalf("unexpected results: %d", len(results))
		}

		// Results are returned in input order.
		if r := results[0]; r.Function != guarded || r.Err != nil || len(r.Findings) != 0 {
			t.Fatalf("unexpected result: %#v", r)
		} else if r := results[1]; r.Function != unguarded || r.Err != nil || len(r.Findings) != 1 {
			t.Fatalf("unexpected result: %#v", r)
		} else if got, exp := r.Findings[0].Function, "unguarded"; got != exp {
			t.Fatalf("Function=%s, expected %s", got, exp)
		} else if r.Graph == nil {
			t.Fatal("expected graph")
		}
	})

	// Combined strategies reach the same findings.
	t.Run("Search", func(t *testing.T) {
		a := NewTestAnalyzer(nil)
		a.Search = "dfs+bfs"
		results, err := a.Analyze(context.Background(), []*nilsym.Function{InvertedGuardFunction(), GuardedDerefFunction()})
		if err != nil {
			t.Fatal(err)
		} else if r := results[0]; r.Err != nil || len(r.Findings) != 1 {
			t.Fatalf("unexpected result: %#v", r)
		} else if r := results[1]; r.Err != nil || len(r.Findings) != 0 {
			t.Fatalf("unexpected result: %#v", r)
		}
	})

	// Unsupported constructs only fail the function that uses them.
	t.Run("Unsupported", func(t *testing.T) {
		bad := &nilsym.Function{
			Name:     "bad",
			Locals:   []*nilsym.Local{{Type: nilsym.IntType}, {Name: "s", Type: &nilsym.Type{Name: "string"}}},
			ArgCount: 1,
			Blocks:   []*nilsym.BasicBlock{{Terminator: &nilsym.Return{}}},
		}
		good := UnguardedDerefFunction()

		results, err := NewTestAnalyzer(nil).Analyze(context.Background(), []*nilsym.Function{bad, good})
		if err != nil {
			t.Fatal(err)
		} else if !nilsym.IsUnsupported(results[0].Err) {
			t.Fatalf("unexpected error: %v", results[0].Err)
		} else if results[0].Graph != nil {
			t.Fatal("expected no graph")
		} else if results[1].Err != nil || len(results[1].Findings) != 1 {
			t.Fatalf("unexpected result: %#v", results[1])
		}
	})

	t.Run("Incomplete", func(t *testing.T) {
		fn := &nilsym.Function{
			Name:   "spin",
			Locals: []*nilsym.Local{{Type: nilsym.IntType}},
			Blocks: []*nilsym.BasicBlock{{Terminator: &nilsym.Goto{Target: 0}}},
		}
		results, err := NewTestAnalyzer(nil).Analyze(context.Background(), []*nilsym.Function{fn})
		if err != nil {
			t.Fatal(err)
		} else if !results[0].Incomplete {
			t.Fatal("expected incomplete")
		} else if got, exp := results[0].Stats.Pruned, 1; got != exp {
			t.Fatalf("Pruned=%d, expected %d", got, exp)
		}
	})

	t.Run("ErrNewSolver", func(t *testing.T) {
		a := NewTestAnalyzer(nil)
		a.NewSolver = func() (nilsym.Solver, error) { return nil, errors.New("marker") }

		results, err := a.Analyze(context.Background(), []*nilsym.Function{UnguardedDerefFunction()})
		if err != nil {
			t.Fatal(err)
		} else if err := results[0].Err; err == nil || err.Error() != `new solver: marker` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSearch", func(t *testing.T) {
		a := NewTestAnalyzer(nil)
		a.Search = "nope"

		results, err := a.Analyze(context.Background(), []*nilsym.Function{UnguardedDerefFunction()})
		if err != nil {
			t.Fatal(err)
		} else if results[0].Err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := NewTestAnalyzer(nil).Analyze(ctx, []*nilsym.Function{UnguardedDerefFunction()}); err != context.Canceled {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// NewTestAnalyzer returns an analyzer backed by a brute force solver that
// writes no logs.
func NewTestAnalyzer(prog *nilsym.Program) *nilsym.Analyzer {
	a := nilsym.NewAnalyzer(prog, func() (nilsym.Solver, error) { return NewBruteForceSolver(), nil })
	a.Logger = logrus.New()
	a.Logger.SetLevel(logrus.PanicLevel)
	return a
}
