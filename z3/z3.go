package z3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/nilsym"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ nilsym.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
type Solver struct {
	ctx   *Context
	stats Stats

	// Per-query time limit. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve checks the query's assertions and returns a model on sat.
// Cancelling ctx interrupts the running check.
func (s *Solver) Solve(ctx context.Context, q *nilsym.Query) (model nilsym.Model, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	if s.Timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.Timeout); err != nil {
			return nil, err
		}
	}

	// Declare a constant for every name.
	consts := make(map[nilsym.Name]C.Z3_ast, len(q.Declarations))
	for _, decl := range q.Declarations {
		c, err := s.ctx.makeConst(decl.Name.String(), decl.Sort)
		if err != nil {
			return nil, err
		}
		consts[decl.Name] = c
	}
	s.ctx.consts = consts
	defer func() { s.ctx.consts = nil }()

	// Assert constraints.
	for _, expr := range q.Assertions {
		ast, err := s.ctx.toAST(expr)
		if err != nil {
			return nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return nil, err
		}
	}

	// Interrupt the check if the context is done before it returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			C.Z3_interrupt(s.ctx.raw)
		case <-done:
		}
	}()

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver encountered an error.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return nil, err
	} else if ret == C.Z3_L_FALSE {
		return nil, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return nil, nilsym.ErrSolverTimeout
		case strings.Contains(reason, "canceled"), strings.Contains(reason, "interrupted"):
			return nil, nilsym.ErrSolverCanceled
		case strings.Contains(reason, "(resource limits reached)"):
			return nil, nilsym.ErrSolverResourceLimit
		case strings.Contains(reason, "unknown"):
			return nil, nilsym.ErrSolverUnknown
		default:
			return nil, fmt.Errorf("z3: %s", reason)
		}
	}

	// Calculate a model for the given formula.
	m := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, m)
	defer C.Z3_model_dec_ref(s.ctx.raw, m)

	return s.ctx.eval(m, q.Declarations)
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context

	// Constants for the names declared by the current query.
	consts map[nilsym.Name]C.Z3_ast
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// setTimeout sets the "timeout" parameter of solver in milliseconds.
func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	if err := ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	ckey := C.CString("timeout")
	defer C.free(unsafe.Pointer(ckey))
	C.Z3_params_set_uint(ctx.raw, params, C.Z3_mk_string_symbol(ctx.raw, ckey), C.uint(d/time.Millisecond))
	if err := ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}

	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// toAST returns a new instance of Z3_ast from an expression.
func (ctx *Context) toAST(expr nilsym.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *nilsym.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *nilsym.NameExpr:
		return ctx.toNameAST(expr)
	case *nilsym.NotExpr:
		return ctx.toNotAST(expr)
	case *nilsym.NegExpr:
		return ctx.toNegAST(expr)
	case *nilsym.IteExpr:
		return ctx.toIteAST(expr)
	case *nilsym.BinaryExpr:
		return ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toConstantAST(expr *nilsym.ConstantExpr) (C.Z3_ast, error) {
	if expr.Sort == nilsym.SortBool {
		if expr.IsTrue() {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	}
	return ctx.makeInt(expr.Value)
}

func (ctx *Context) toNameAST(expr *nilsym.NameExpr) (C.Z3_ast, error) {
	c, ok := ctx.consts[expr.Name]
	if !ok {
		return nil, fmt.Errorf("z3.Context.toNameAST: undeclared name: %s", expr.Name)
	}
	return c, nil
}

func (ctx *Context) toNotAST(expr *nilsym.NotExpr) (C.Z3_ast, error) {
	x, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_not(ctx.raw, x), ctx.err("Z3_mk_not")
}

func (ctx *Context) toNegAST(expr *nilsym.NegExpr) (C.Z3_ast, error) {
	x, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unary_minus(ctx.raw, x), ctx.err("Z3_mk_unary_minus")
}

func (ctx *Context) toIteAST(expr *nilsym.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toBinaryAST(expr *nilsym.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	args := []C.Z3_ast{lhs, rhs}

	switch expr.Op {
	case nilsym.ADD:
		return C.Z3_mk_add(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_add")
	case nilsym.SUB:
		return C.Z3_mk_sub(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_sub")
	case nilsym.MUL:
		return C.Z3_mk_mul(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_mul")
	case nilsym.DIV:
		return C.Z3_mk_div(ctx.raw, lhs, rhs), ctx.err("Z3_mk_div")
	case nilsym.MOD:
		return C.Z3_mk_mod(ctx.raw, lhs, rhs), ctx.err("Z3_mk_mod")
	case nilsym.AND:
		return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
	case nilsym.OR:
		return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
	case nilsym.IMPLIES:
		return C.Z3_mk_implies(ctx.raw, lhs, rhs), ctx.err("Z3_mk_implies")
	case nilsym.EQ:
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	case nilsym.NE:
		return C.Z3_mk_distinct(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_distinct")
	case nilsym.LT:
		return C.Z3_mk_lt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_lt")
	case nilsym.LE:
		return C.Z3_mk_le(ctx.raw, lhs, rhs), ctx.err("Z3_mk_le")
	case nilsym.GT:
		return C.Z3_mk_gt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_gt")
	case nilsym.GE:
		return C.Z3_mk_ge(ctx.raw, lhs, rhs), ctx.err("Z3_mk_ge")
	default:
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
}

func (ctx *Context) makeSort(sort nilsym.Sort) (C.Z3_sort, error) {
	switch sort {
	case nilsym.SortBool:
		return C.Z3_mk_bool_sort(ctx.raw), ctx.err("Z3_mk_bool_sort")
	case nilsym.SortInt:
		return C.Z3_mk_int_sort(ctx.raw), ctx.err("Z3_mk_int_sort")
	default:
		return nil, fmt.Errorf("z3.Context.makeSort: invalid sort: %s", sort)
	}
}

func (ctx *Context) makeConst(name string, sort nilsym.Sort) (C.Z3_ast, error) {
	t, err := ctx.makeSort(sort)
	if err != nil {
		return nil, err
	}

	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)

	return C.Z3_mk_const(ctx.raw, nameSymbol, t), ctx.err("Z3_mk_const")
}

func (ctx *Context) makeInt(value *big.Int) (C.Z3_ast, error) {
	t, err := ctx.makeSort(nilsym.SortInt)
	if err != nil {
		return nil, err
	}

	cvalue := C.CString(value.String())
	defer C.free(unsafe.Pointer(cvalue))
	return C.Z3_mk_numeral(ctx.raw, cvalue, t), ctx.err("Z3_mk_numeral")
}

// eval evaluates every declared name against the model.
func (ctx *Context) eval(model C.Z3_model, decls []*nilsym.Declaration) (nilsym.Model, error) {
	m := make(nilsym.Model, len(decls))
	for _, decl := range decls {
		value, err := ctx.evalConst(model, decl)
		if err != nil {
			return nil, err
		}
		m[decl.Name] = value
	}
	return m, nil
}

// evalConst evaluates a single name with model completion enabled.
func (ctx *Context) evalConst(model C.Z3_model, decl *nilsym.Declaration) (*nilsym.ConstantExpr, error) {
	var out C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, ctx.consts[decl.Name], C.bool(true), &out)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return nil, err
	}

	if decl.Sort == nilsym.SortBool {
		v := C.Z3_get_bool_value(ctx.raw, out)
		if err := ctx.err("Z3_get_bool_value"); err != nil {
			return nil, err
		}
		return nilsym.NewBoolConstantExpr(v == C.Z3_L_TRUE), nil
	}

	s := C.GoString(C.Z3_get_numeral_string(ctx.raw, out))
	if err := ctx.err("Z3_get_numeral_string"); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("z3.Context.evalConst: invalid numeral for %s: %q", decl.Name, s)
	}
	return nilsym.NewBigIntConstantExpr(v), nil
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
