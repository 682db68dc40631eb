package smtlib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/benbjohnson/nilsym"
	"github.com/pkg/errors"
)

// Ensure solver implements interface.
var _ nilsym.Solver = (*Solver)(nil)

// DefaultPath is the solver executable used by NewSolver.
const DefaultPath = "z3"

// Solver represents a solver that runs an external SMT-LIB2 solver process
// for each query.
type Solver struct {
	stats Stats

	// Executable and arguments. The solver must read commands from stdin.
	Path string
	Args []string

	// Wall clock budget per query. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver that runs "z3 -in -smt2".
func NewSolver() *Solver {
	return &Solver{
		Path: DefaultPath,
		Args: []string{"-in", "-smt2"},
	}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve runs the query in a new solver process.
func (s *Solver) Solve(ctx context.Context, q *nilsym.Query) (model nilsym.Model, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", s.Path)
	}
	defer func() {
		io.WriteString(stdin, "(exit)\n")
		stdin.Close()
		cmd.Wait()
	}()

	model, err = s.solve(stdin, NewReader(stdout), q)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nilsym.ErrSolverTimeout
		} else if ctx.Err() != nil {
			return nil, nilsym.ErrSolverCanceled
		} else if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrap(err, msg)
		}
		return nil, err
	}
	return model, nil
}

func (s *Solver) solve(w io.Writer, r *Reader, q *nilsym.Query) (nilsym.Model, error) {
	if err := WriteQuery(w, q); err != nil {
		return nil, err
	}

	resp, err := r.ReadSexp()
	if err != nil {
		return nil, errors.Wrap(err, "read check-sat response")
	}

	switch resp.Atom {
	case "sat":
	case "unsat":
		return nil, nil
	case "unknown":
		return nil, s.reasonUnknown(w, r)
	default:
		return nil, responseError(resp)
	}

	// Retrieve model values for every declared name.
	model := make(nilsym.Model, len(q.Declarations))
	if len(q.Declarations) == 0 {
		return model, nil
	}
	if err := writeGetValue(w, q.Declarations); err != nil {
		return nil, err
	}
	resp, err = r.ReadSexp()
	if err != nil {
		return nil, errors.Wrap(err, "read get-value response")
	} else if !resp.IsList || (len(resp.List) > 0 && resp.List[0].Atom == "error") {
		return nil, responseError(resp)
	}

	sorts := make(map[nilsym.Name]nilsym.Sort, len(q.Declarations))
	for _, decl := range q.Declarations {
		sorts[decl.Name] = decl.Sort
	}
	for _, pair := range resp.List {
		if !pair.IsList || len(pair.List) != 2 {
			return nil, fmt.Errorf("smtlib: invalid model entry: %s", pair)
		}
		name, err := nilsym.ParseName(pair.List[0].Atom)
		if err != nil {
			return nil, errors.Wrap(err, "smtlib")
		}
		sort, ok := sorts[name]
		if !ok {
			return nil, fmt.Errorf("smtlib: undeclared name in model: %s", name)
		}
		value, err := ParseValue(pair.List[1], sort)
		if err != nil {
			return nil, errors.Wrapf(err, "smtlib: %s", name)
		}
		model[name] = value
	}
	return model, nil
}

// reasonUnknown asks the solver why the result was unknown and maps the
// reason to a solver error.
func (s *Solver) reasonUnknown(w io.Writer, r *Reader) error {
	if _, err := io.WriteString(w, "(get-info :reason-unknown)\n"); err != nil {
		return err
	}
	resp, err := r.ReadSexp()
	if err != nil {
		return nilsym.ErrSolverUnknown
	}

	reason := resp.String()
	switch {
	case strings.Contains(reason, "timeout"):
		return nilsym.ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		return nilsym.ErrSolverCanceled
	case strings.Contains(reason, "resource"), strings.Contains(reason, "memout"):
		return nilsym.ErrSolverResourceLimit
	default:
		return nilsym.ErrSolverUnknown
	}
}

// responseError returns an error for an unexpected solver response.
func responseError(resp Sexp) error {
	if resp.IsList && len(resp.List) == 2 && resp.List[0].Atom == "error" {
		return fmt.Errorf("smtlib: %s", resp.List[1].Unquote())
	}
	return fmt.Errorf("smtlib: unexpected response: %s", resp)
}

// Stats represents statistics for the solver.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
