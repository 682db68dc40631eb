package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/nilsym"
	"github.com/benbjohnson/nilsym/report"
	"github.com/benbjohnson/nilsym/smtlib"
	"github.com/benbjohnson/nilsym/z3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the settings of the check command. It may be read from
// a YAML file and is then overridden by command line flags.
type Config struct {
	Dir        string `yaml:"dir"`
	Tests      bool   `yaml:"tests"`
	UnsafeOnly bool   `yaml:"unsafeOnly"`

	Unroll       int    `yaml:"unroll"`
	Inline       bool   `yaml:"inline"`
	MaxCallDepth int    `yaml:"maxCallDepth"`
	Search       string `yaml:"search"`
	Seed         int64  `yaml:"seed"`
	Concurrency  int    `yaml:"concurrency"`

	Solver     string        `yaml:"solver"`
	SolverPath string        `yaml:"solverPath"`
	Timeout    time.Duration `yaml:"timeout"`

	Format string `yaml:"format"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Unroll:       nilsym.MaxUnroll,
		MaxCallDepth: nilsym.DefaultMaxCallDepth,
		Search:       "dfs",
		Concurrency:  1,
		Solver:       "z3",
		SolverPath:   smtlib.DefaultPath,
		Timeout:      10 * time.Second,
		Format:       "text",
	}
}

// ReadConfigFile decodes the YAML file at filename into c. Fields missing
// from the file keep their current value.
func ReadConfigFile(filename string, c *Config) error {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	} else if err := yaml.Unmarshal(buf, c); err != nil {
		return errors.Wrapf(err, "parse config %s", filename)
	}
	return nil
}

// Validate returns an error if the settings are inconsistent.
func (c *Config) Validate() error {
	if c.Unroll <= 0 {
		return fmt.Errorf("unroll must be positive: %d", c.Unroll)
	} else if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive: %d", c.Concurrency)
	} else if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}

	switch c.Solver {
	case "z3", "smtlib":
	default:
		return fmt.Errorf("unknown solver: %q", c.Solver)
	}

	if _, err := nilsym.NewSearcher(c.Search, c.Seed); err != nil {
		return err
	} else if _, err := report.NewWriter(c.Format); err != nil {
		return err
	}
	return nil
}

// NewSolverFunc returns a factory for the configured solver backend. If
// smtDir is set, every query is also written to that directory as an
// SMT-LIB2 script.
func (c *Config) NewSolverFunc(smtDir string) func() (nilsym.Solver, error) {
	var seq uint64
	return func() (nilsym.Solver, error) {
		var s nilsym.Solver
		switch c.Solver {
		case "z3":
			zs := z3.NewSolver()
			zs.Timeout = c.Timeout
			s = zs
		case "smtlib":
			ss := smtlib.NewSolver()
			ss.Path = c.SolverPath
			ss.Timeout = c.Timeout
			s = ss
		default:
			return nil, fmt.Errorf("unknown solver: %q", c.Solver)
		}

		if smtDir == "" {
			return s, nil
		}
		if err := os.MkdirAll(smtDir, 0777); err != nil {
			return nil, err
		}
		return &RecordingSolver{Solver: s, Dir: smtDir, seq: &seq}, nil
	}
}

// RecordingSolver writes every query to Dir before passing it to Solver.
type RecordingSolver struct {
	nilsym.Solver
	Dir string

	seq *uint64
}

// Solve writes q as "query-NNNNNN.smt2" and solves it with the wrapped solver.
func (s *RecordingSolver) Solve(ctx context.Context, q *nilsym.Query) (nilsym.Model, error) {
	if err := s.record(q); err != nil {
		return nil, err
	}
	return s.Solver.Solve(ctx, q)
}

func (s *RecordingSolver) record(q *nilsym.Query) error {
	n := atomic.AddUint64(s.seq, 1)
	f, err := os.Create(filepath.Join(s.Dir, fmt.Sprintf("query-%06d.smt2", n)))
	if err != nil {
		return err
	}
	defer f.Close()

	if err := smtlib.WriteQuery(f, q); err != nil {
		return errors.Wrap(err, "record query")
	}
	return f.Close()
}

// Close closes the wrapped solver if it has a Close method.
func (s *RecordingSolver) Close() error {
	if c, ok := s.Solver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
