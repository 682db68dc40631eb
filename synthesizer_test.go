package nilsym_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/nilsym"
	"github.com/google/go-cmp/cmp"
)

func TestSynthesizer_Synthesize(t *testing.T) {
	t.Run("GuardedDeref", func(t *testing.T) {
		findings, unknowns := MustSynthesize(t, NewBruteForceSolver(), GuardedDerefFunction())
		if len(findings) != 0 {
			t.Fatalf("unexpected findings: %v", findings)
		} else if len(unknowns) != 0 {
			t.Fatalf("unexpected unknowns: %v", unknowns)
		}
	})

	t.Run("UnguardedDeref", func(t *testing.T) {
		findings, unknowns := MustSynthesize(t, NewBruteForceSolver(), UnguardedDerefFunction())
		if len(unknowns) != 0 {
			t.Fatalf("unexpected unknowns: %v", unknowns)
		} else if len(findings) != 1 {
			t.Fatalf("unexpected findings: %v", findings)
		} else if got, exp := findings[0].Kind, nilsym.NullDereference; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if diff := cmp.Diff(findings[0].Witness, []nilsym.Binding{{Label: "p", Local: 1, Value: "0"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("InvertedGuard", func(t *testing.T) {
		findings, _ := MustSynthesize(t, NewBruteForceSolver(), InvertedGuardFunction())
		if len(findings) != 1 {
			t.Fatalf("unexpected findings: %v", findings)
		} else if diff := cmp.Diff(findings[0].Witness, []nilsym.Binding{{Label: "p", Local: 1, Value: "0"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	// A second allocation of the same local does not overwrite the object
	// reachable through the first address.
	t.Run("Realloc", func(t *testing.T) {
		findings, unknowns := MustSynthesize(t, NewBruteForceSolver(), ReallocFunction())
		if len(findings) != 0 {
			t.Fatalf("unexpected findings: %v", findings)
		} else if len(unknowns) != 0 {
			t.Fatalf("unexpected unknowns: %v", unknowns)
		}
	})

	// Solver failures are reported per dereference and do not abort.
	t.Run("Unknown", func(t *testing.T) {
		s := SolverFunc(func(ctx context.Context, q *nilsym.Query) (nilsym.Model, error) {
			return nil, nilsym.ErrSolverUnknown
		})
		findings, unknowns := MustSynthesize(t, s, UnguardedDerefFunction())
		if len(findings) != 0 {
			t.Fatalf("unexpected findings: %v", findings)
		} else if len(unknowns) != 1 {
			t.Fatalf("unexpected unknowns: %v", unknowns)
		} else if unknowns[0].Err != nilsym.ErrSolverUnknown {
			t.Fatalf("unexpected error: %v", unknowns[0].Err)
		}
	})

	// A site with a finding is only reported once, even when reached
	// along several paths.
	t.Run("DedupeSite", func(t *testing.T) {
		site := nilsym.Span{Filename: "main.go", Line: 4, Column: 9}
		fn := &nilsym.Function{
			Name: "f",
			Locals: []*nilsym.Local{
				{Type: nilsym.IntType},
				{Name: "p", Type: nilsym.PointerTo(nilsym.IntType)},
				{Name: "b", Type: nilsym.BoolType},
			},
			ArgCount: 2,
			Blocks: []*nilsym.BasicBlock{
				{Terminator: &nilsym.SwitchInt{Discr: CopyOf(Local(2)), Values: []int64{0}, Targets: []int{1, 1}}},
				{
					Statements: []nilsym.Statement{
						&nilsym.Assign{Place: Local(0), Rvalue: &nilsym.Use{Operand: CopyOf(Deref(1))}, Span: site},
					},
					Terminator: &nilsym.Return{},
				},
			},
		}

		s := NewBruteForceSolver()
		findings, unknowns := MustSynthesize(t, s, fn)
		if len(findings) != 1 {
			t.Fatalf("unexpected findings: %v", findings)
		} else if got, exp := findings[0].Site, site; got != exp {
			t.Fatalf("Site=%s, expected %s", got, exp)
		} else if got, exp := s.SolveN, 1; got != exp {
			t.Fatalf("SolveN=%d, expected %d", got, exp)
		} else if len(unknowns) != 0 {
			t.Fatalf("unexpected unknowns: %v", unknowns)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		e := MustRunExecutor(t, nil, UnguardedDerefFunction())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		syn := nilsym.NewSynthesizer(NewBruteForceSolver())
		syn.Logger = DiscardLogger()
		if _, _, err := syn.Synthesize(ctx, e.Function(), e.Graph(), e.Root()); err != context.Canceled {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// MustSynthesize runs the executor and synthesizer over fn. Fail on error.
func MustSynthesize(tb testing.TB, s nilsym.Solver, fn *nilsym.Function) ([]*nilsym.Finding, []*nilsym.Unknown) {
	tb.Helper()
	e := MustRunExecutor(tb, nil, fn)

	syn := nilsym.NewSynthesizer(s)
	syn.Logger = DiscardLogger()
	findings, unknowns, err := syn.Synthesize(context.Background(), fn, e.Graph(), e.Root())
	if err != nil {
		tb.Fatal(err)
	}
	return findings, unknowns
}
