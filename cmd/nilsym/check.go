package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/nilsym"
	"github.com/benbjohnson/nilsym/loader"
	"github.com/benbjohnson/nilsym/report"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// CheckCommand represents a command for finding null dereferences.
type CheckCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewCheckCommand returns a new instance of CheckCommand.
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "check" subcommand.
func (cmd *CheckCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("nilsym-check", flag.ContinueOnError)
	fs.SetOutput(cmd.Stderr)
	verbose := fs.Bool("v", false, "verbose")
	configPath := fs.String("config", "", "config file")
	format := fs.String("format", "", "report format")
	unroll := fs.Int("unroll", 0, "unroll bound")
	inline := fs.Bool("inline", false, "inline calls")
	search := fs.String("search", "", "search strategy")
	solver := fs.String("solver", "", "solver backend")
	solverPath := fs.String("solver-path", "", "solver executable")
	timeout := fs.Duration("timeout", 0, "per-query timeout")
	concurrency := fs.Int("j", 0, "parallel functions")
	unsafeOnly := fs.Bool("unsafe", false, "unsafe functions only")
	tests := fs.Bool("tests", false, "include tests")
	smtDir := fs.String("smt-dir", "", "query output directory")
	dump := fs.Bool("dump", false, "dump lowered functions")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	}

	config := DefaultConfig()
	if *configPath != "" {
		if err := ReadConfigFile(*configPath, &config); err != nil {
			return err
		}
	}

	// Flags set on the command line override the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "format":
			config.Format = *format
		case "unroll":
			config.Unroll = *unroll
		case "inline":
			config.Inline = *inline
		case "search":
			config.Search = *search
		case "solver":
			config.Solver = *solver
		case "solver-path":
			config.SolverPath = *solverPath
		case "timeout":
			config.Timeout = *timeout
		case "j":
			config.Concurrency = *concurrency
		case "unsafe":
			config.UnsafeOnly = *unsafeOnly
		case "tests":
			config.Tests = *tests
		}
	})
	if err := config.Validate(); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	pkg, err := loader.Load(&loader.Config{
		Dir:        config.Dir,
		Tests:      config.Tests,
		UnsafeOnly: config.UnsafeOnly,
		Logger:     logger,
	}, fs.Args()...)
	if err != nil {
		return err
	}

	if *dump {
		for _, fn := range pkg.Candidates {
			fmt.Fprintf(cmd.Stdout, "%s\n%s\n", fn.Name, spew.Sdump(fn.Blocks))
		}
		return nil
	}

	a := nilsym.NewAnalyzer(pkg.Program, config.NewSolverFunc(*smtDir))
	a.MaxUnroll = config.Unroll
	a.InlineCalls = config.Inline
	a.MaxCallDepth = config.MaxCallDepth
	a.Search, a.Seed = config.Search, config.Seed
	a.Concurrency = config.Concurrency
	a.Logger = logger

	results, err := a.Analyze(ctx, pkg.Candidates)
	if err != nil {
		return err
	}

	// Functions that could not be lowered are reported as skipped.
	for _, e := range pkg.Errors {
		results = append(results, &nilsym.Result{
			Function: &nilsym.Function{Name: e.Function, Span: e.Span},
			Err:      e.Err,
		})
	}

	for _, result := range results {
		if result.Graph != nil {
			logger.WithField("fn", result.Function.Name).Debugf("[graph]\n%s", result.Graph.Dump())
		}
	}

	r := &report.Report{Results: results}
	w, err := report.NewWriter(config.Format)
	if err != nil {
		return err
	} else if err := w.WriteReport(cmd.Stdout, r); err != nil {
		return err
	}

	if len(r.Findings()) > 0 {
		return ErrFindings
	}
	return nil
}

func (cmd *CheckCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: nilsym check [arguments] [packages]

Arguments:

	-v
	    Enable verbose logging.
	-config PATH
	    Read settings from a YAML file. Flags override file settings.
	-format FORMAT
	    Report format: text, json, markdown or html. Defaults to text.
	-unroll N
	    Maximum visits of a block on a single path. Defaults to 5.
	-inline
	    Inline calls to functions in the loaded packages.
	-search STRATEGY
	    Path search order: dfs, bfs or random. Join names with "+",
	    such as dfs+bfs, to alternate between them. Defaults to dfs.
	-solver NAME
	    Solver backend: z3 (embedded) or smtlib (subprocess).
	-solver-path PATH
	    Solver executable for the smtlib backend. Defaults to z3.
	-timeout DURATION
	    Time limit per solver query. Defaults to 10s.
	-j N
	    Number of functions analyzed in parallel.
	-unsafe
	    Only check functions that use unsafe.Pointer.
	-tests
	    Include test files.
	-smt-dir DIR
	    Write every solver query to DIR as an SMT-LIB2 script.
	-dump
	    Print the lowered functions and exit.

The exit status is 3 if a null dereference is found.
`[1:])
}
