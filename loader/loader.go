// Package loader builds Go packages in SSA form and lowers their functions
// into control-flow graphs for the executor.
package loader

import (
	"fmt"
	"go/token"
	"go/types"
	"sort"

	"github.com/benbjohnson/nilsym"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Config represents the settings for loading packages.
type Config struct {
	// Directory to run the build system in. Defaults to the current directory.
	Dir string

	// If set, test files and test packages are loaded too.
	Tests bool

	// If set, only functions converting to or from unsafe.Pointer are
	// selected as candidates.
	UnsafeOnly bool

	Logger *logrus.Logger
}

// Package represents the lowered functions of a set of loaded packages.
type Package struct {
	// Every function that lowered successfully. Used for call inlining.
	Program *nilsym.Program

	// Functions selected for analysis, sorted by name.
	Candidates []*nilsym.Function

	// Candidate functions that could not be lowered.
	Errors []*LowerError
}

// LowerError is returned when a function cannot be lowered.
type LowerError struct {
	Function string
	Span     nilsym.Span
	Err      error
}

// Error returns the error message.
func (e *LowerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Err)
}

// Cause returns the underlying error.
func (e *LowerError) Cause() error { return e.Err }

// Load loads the packages matching patterns, builds them in SSA form and
// lowers every function declared in them.
func Load(cfg *Config, patterns ...string) (*Package, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	prog, pkgs, err := BuildProgram(cfg, patterns...)
	if err != nil {
		return nil, err
	}

	// Only lower functions that belong to the requested packages.
	initial := make(map[*ssa.Package]bool)
	for _, pkg := range pkgs {
		initial[pkg] = true
	}

	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Synthetic != "" || len(fn.Blocks) == 0 || !initial[fn.Pkg] {
			continue
		}
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })

	out := &Package{Program: &nilsym.Program{}}
	for _, fn := range fns {
		log := logger.WithField("fn", fn.String())

		candidate := IsCandidate(fn, cfg.UnsafeOnly)
		lowered, err := Lower(fn)
		if err != nil {
			log.WithError(err).Debug("[lower] skipped")
			if candidate {
				out.Errors = append(out.Errors, &LowerError{
					Function: fn.String(),
					Span:     spanOf(prog.Fset, fn.Pos()),
					Err:      err,
				})
			}
			continue
		}

		out.Program.Functions = append(out.Program.Functions, lowered)
		if candidate {
			log.Debug("[lower] candidate")
			out.Candidates = append(out.Candidates, lowered)
		}
	}
	return out, nil
}

// BuildProgram loads the packages matching patterns and builds them in SSA
// form. Returns the program and the SSA packages for the initial packages.
func BuildProgram(cfg *Config, patterns ...string) (*ssa.Program, []*ssa.Package, error) {
	if len(patterns) == 0 {
		return nil, nil, fmt.Errorf("package required")
	}

	// Load the initial set of packages.
	initial, err := packages.Load(&packages.Config{
		Mode:  packages.LoadAllSyntax,
		Dir:   cfg.Dir,
		Tests: cfg.Tests,
	}, patterns...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load packages")
	} else if packages.PrintErrors(initial) > 0 {
		return nil, nil, fmt.Errorf("packages contain errors")
	} else if len(initial) == 0 {
		return nil, nil, fmt.Errorf("no packages matched: %v", patterns)
	}

	// Build program in SSA form.
	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, nil, fmt.Errorf("cannot build SSA for package %s", initial[i])
		}
		pkg.SetDebugMode(true)
	}
	prog.Build()

	return prog, pkgs, nil
}

// IsCandidate returns true if fn loads from or stores through a pointer.
// If unsafeOnly is set, fn must also convert to or from unsafe.Pointer.
func IsCandidate(fn *ssa.Function, unsafeOnly bool) bool {
	var deref, unsafe bool
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			switch instr := instr.(type) {
			case *ssa.UnOp:
				if instr.Op == token.MUL {
					deref = true
				}
			case *ssa.Store:
				deref = true
			case *ssa.Convert:
				if isUnsafePointer(instr.Type()) || isUnsafePointer(instr.X.Type()) {
					unsafe = true
				}
			}
		}
	}
	if unsafeOnly {
		return deref && unsafe
	}
	return deref
}

func isUnsafePointer(typ types.Type) bool {
	basic, ok := typ.Underlying().(*types.Basic)
	return ok && basic.Kind() == types.UnsafePointer
}

// spanOf returns the source position of pos. Returns a zero span if pos is
// not valid.
func spanOf(fset *token.FileSet, pos token.Pos) nilsym.Span {
	if !pos.IsValid() {
		return nilsym.Span{}
	}
	p := fset.Position(pos)
	return nilsym.Span{Filename: p.Filename, Line: p.Line, Column: p.Column}
}
