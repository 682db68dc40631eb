package nilsym

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Analyzer runs the executor and synthesizer over a set of entry functions.
// Each function is analyzed with its own executor, graph and solver.
type Analyzer struct {
	Program *Program

	// Returns a solver for a single function. If the solver implements
	// io.Closer, it is closed when the function is done.
	NewSolver func() (Solver, error)

	MaxUnroll    int
	InlineCalls  bool
	MaxCallDepth int

	// Search strategy name and seed. See NewSearcher.
	Search string
	Seed   int64

	// Number of functions analyzed in parallel.
	Concurrency int

	Logger *logrus.Logger
}

// NewAnalyzer returns a new instance of Analyzer with default settings.
func NewAnalyzer(prog *Program, newSolver func() (Solver, error)) *Analyzer {
	return &Analyzer{
		Program:      prog,
		NewSolver:    newSolver,
		MaxUnroll:    MaxUnroll,
		MaxCallDepth: DefaultMaxCallDepth,
		Concurrency:  1,
		Logger:       logrus.StandardLogger(),
	}
}

// Result represents the outcome of analyzing a single function.
type Result struct {
	Function   *Function
	Findings   []*Finding
	Unknowns   []*Unknown
	Incomplete bool
	Stats      Stats

	// Graph and root node of the explored paths. Nil if exploration failed.
	Graph *Graph
	Root  NodeID

	// Error that aborted the analysis of this function, such as an
	// UnsupportedError.
	Err error
}

// Analyze analyzes each function and returns results in the same order.
// Per-function failures are reported in Result.Err. An error is only
// returned if ctx is done.
func (a *Analyzer) Analyze(ctx context.Context, fns []*Function) ([]*Result, error) {
	results := make([]*Result, len(fns))

	g, ctx := errgroup.WithContext(ctx)
	if a.Concurrency > 0 {
		g.SetLimit(a.Concurrency)
	}
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			results[i] = a.AnalyzeFunction(ctx, fn)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// AnalyzeFunction explores fn and synthesizes findings for every dereference.
func (a *Analyzer) AnalyzeFunction(ctx context.Context, fn *Function) *Result {
	result := &Result{Function: fn}
	log := a.Logger.WithField("fn", fn.Name)

	searcher, err := NewSearcher(a.Search, a.Seed)
	if err != nil {
		result.Err = err
		return result
	}

	e := NewExecutor(a.Program, fn)
	e.MaxUnroll = a.MaxUnroll
	e.InlineCalls = a.InlineCalls
	e.MaxCallDepth = a.MaxCallDepth
	e.Searcher = searcher
	e.Logger = log

	err = e.Run(ctx)
	result.Stats, result.Incomplete = e.Stats(), e.Incomplete()
	if err != nil {
		log.WithError(err).Info("[analyze] exploration aborted")
		result.Err = err
		return result
	}
	result.Graph, result.Root = e.Graph(), e.Root()

	if result.Incomplete {
		log.Infof("[analyze] exploration incomplete: %d paths pruned", result.Stats.Pruned)
	}

	s, err := a.NewSolver()
	if err != nil {
		result.Err = errors.Wrap(err, "new solver")
		return result
	}
	if closer, ok := s.(io.Closer); ok {
		defer closer.Close()
	}

	syn := NewSynthesizer(s)
	syn.Logger = log
	if result.Findings, result.Unknowns, err = syn.Synthesize(ctx, fn, e.Graph(), e.Root()); err != nil {
		result.Err = err
	}

	log.WithFields(logrus.Fields{
		"nodes":    result.Stats.Nodes,
		"findings": len(result.Findings),
		"unknowns": len(result.Unknowns),
	}).Info("[analyze] done")
	return result
}
