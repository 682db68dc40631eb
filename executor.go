package nilsym

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Executor symbolically executes a single entry function and records every
// explored path in a constraint graph.
type Executor struct {
	fn         *Function // entry function
	prog       *Program  // functions available for inlining
	graph      *Graph
	root       NodeID
	started    bool
	frameIDSeq int // autoincrementing frame ID
	stats      Stats

	// Maximum number of visits to a single location along one path.
	MaxUnroll int

	// If set, calls to functions in the program are inlined up to
	// MaxCallDepth. Otherwise call results are unconstrained.
	InlineCalls  bool
	MaxCallDepth int

	// Search strategy for the executor. Defaults to depth-first.
	Searcher Searcher

	Logger *logrus.Entry
}

// Stats holds exploration counters for one executor.
type Stats struct {
	Frames  int `json:"frames"`  // frames scheduled
	Nodes   int `json:"nodes"`   // graph nodes created
	Pruned  int `json:"pruned"`  // frames dropped by the unroll bound
	Havoced int `json:"havoced"` // calls summarized by a fresh result
	Inlined int `json:"inlined"` // calls inlined
}

// NewExecutor returns a new instance of Executor for the entry function fn.
// The program may be nil if calls are not inlined.
func NewExecutor(prog *Program, fn *Function) *Executor {
	return &Executor{
		fn:           fn,
		prog:         prog,
		graph:        NewGraph(),
		MaxUnroll:    MaxUnroll,
		MaxCallDepth: DefaultMaxCallDepth,
		Searcher:     NewDFSSearcher(),
		Logger:       logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Function returns the entry function.
func (e *Executor) Function() *Function { return e.fn }

// Graph returns the constraint graph built so far.
func (e *Executor) Graph() *Graph { return e.graph }

// Root returns the root node of the constraint graph.
func (e *Executor) Root() NodeID { return e.root }

// Stats returns exploration counters.
func (e *Executor) Stats() Stats { return e.stats }

// Incomplete returns true if any path was pruned by the unroll bound.
func (e *Executor) Incomplete() bool { return e.stats.Pruned > 0 }

// Run executes frames until none remain or ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.ExecuteNextFrame(); err == ErrNoFrameAvailable {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// ExecuteNextFrame executes the block of the next available frame. This can
// be called continually until ErrNoFrameAvailable is returned.
func (e *Executor) ExecuteNextFrame() (*Frame, error) {
	if !e.started {
		e.started = true
		if err := e.start(); err != nil {
			return nil, err
		}
	}

	frame := e.Searcher.SelectFrame()
	if frame == nil {
		return nil, ErrNoFrameAvailable
	}
	if err := e.executeFrame(frame); err != nil {
		return frame, errors.Wrapf(err, "%s: bb%d", frame.Function().Name, frame.Block())
	}
	return frame, nil
}

// start binds the entry parameters and schedules the root frame.
func (e *Executor) start() error {
	if len(e.fn.Locals) == 0 || len(e.fn.Blocks) == 0 {
		return fmt.Errorf("function has no body: %s", e.fn.Name)
	}

	memory := NewMemory()
	env := &MemoryEnv{Graph: e.graph, Function: e.fn}

	// Return slot. Functions without a result leave it unbound.
	if _, err := e.fn.Locals[0].Type.Sort(); err == nil {
		if _, err := memory.WriteFresh(env, Place{Local: 0}); err != nil {
			return errors.Wrap(err, "return slot")
		}
	}

	for i := 1; i <= e.fn.ArgCount; i++ {
		local := e.fn.Local(i)
		if local == nil {
			return fmt.Errorf("parameter out of range: _%d", i)
		}
		sort, err := local.Type.Sort()
		if err != nil {
			return errors.Wrapf(err, "parameter %s", local.Name)
		}

		label := local.Name
		if label == "" {
			label = fmt.Sprintf("_%d", i)
		}
		name := e.graph.Declare(sort, &Origin{Function: e.fn.Name, Local: i, Label: label})
		if err := memory.Bind(env, Place{Local: i}, name); err != nil {
			return err
		}
	}

	e.schedule(NewFrame(e.fn, memory))
	return nil
}

// schedule adds frame to the searcher unless its location has reached the
// unroll bound along its path.
func (e *Executor) schedule(frame *Frame) {
	if n := frame.Seen(frame.Function(), frame.Block()); n >= e.MaxUnroll {
		e.stats.Pruned++
		e.Logger.WithFields(logrus.Fields{
			"fn":    frame.Function().Name,
			"block": frame.Block(),
		}).Debugf("[prune] visited %d times", n)
		return
	}

	e.frameIDSeq++
	frame.id = e.frameIDSeq
	e.stats.Frames++
	e.Searcher.AddFrame(frame)
}

func (e *Executor) executeFrame(frame *Frame) error {
	fn := frame.Function()
	blk := fn.Block(frame.Block())
	if blk == nil {
		return fmt.Errorf("block out of range: bb%d", frame.Block())
	}
	frame.visit()

	// Allocate the node for this block and link it from its parent.
	node := e.graph.AddNode()
	e.stats.Nodes++
	if parent, ok := frame.Parent(); ok {
		e.graph.AddEdge(parent, Edge{Guard: frame.Guard(), Target: node})
	} else {
		e.root = node
	}
	defer e.graph.CloseNode(node)

	log := e.Logger.WithFields(logrus.Fields{"fn": fn.Name, "block": frame.Block(), "node": node})
	log.Debugf("[frame] begin: id=%d depth=%d", frame.ID(), frame.Depth())

	env := &MemoryEnv{Graph: e.graph, Function: fn, Depth: frame.Depth(), Node: node}
	for _, stmt := range blk.Statements {
		log.Debugf("[exec] %s", stmt)
		if err := e.executeStatement(frame, env, stmt); err != nil {
			return err
		}
	}

	log.Debugf("[exec] %s", blk.Terminator)
	return e.executeTerminator(frame, env, blk.Terminator)
}

func (e *Executor) executeStatement(frame *Frame, env *MemoryEnv, stmt Statement) error {
	switch stmt := stmt.(type) {
	case *Assign:
		return e.executeAssign(frame, env, stmt)
	case *StorageLive:
		// A new storage instance; earlier addresses keep the old value.
		frame.memory.Unbind(env, stmt.Local)
		if local := env.Function.Local(stmt.Local); local == nil {
			return fmt.Errorf("local out of range: _%d", stmt.Local)
		} else if _, err := local.Type.Sort(); err != nil {
			return nil
		}
		_, err := frame.memory.WriteFresh(env, Place{Local: stmt.Local})
		return err
	case *StorageDead:
		frame.memory.Unbind(env, stmt.Local)
		return nil
	case *Nop:
		return nil
	default:
		return unsupported("statement", "%T", stmt)
	}
}

func (e *Executor) executeAssign(frame *Frame, env *MemoryEnv, stmt *Assign) error {
	env.Span = stmt.Span
	defer func() { env.Span = Span{} }()

	// Evaluate before writing so the target may appear on the right side.
	value, err := e.evalRvalue(frame, env, stmt.Rvalue)
	if err != nil {
		return err
	}

	// Pointer copies share the source name so that the value behind the
	// pointer is the same through either place.
	if expr, ok := value.(*NameExpr); ok {
		if typ, err := env.Function.PlaceType(stmt.Place); err == nil && typ.Kind == TypePointer {
			return frame.memory.Bind(env, stmt.Place, expr.Name)
		}
	}

	name, err := frame.memory.WriteFresh(env, stmt.Place)
	if err != nil {
		return err
	}
	return e.assignName(env, name, value)
}

// assignName asserts that name equals value in the current node.
func (e *Executor) assignName(env *MemoryEnv, name Name, value Expr) error {
	decl := e.graph.Declaration(name)
	if ExprSort(value) != decl.Sort {
		return unsupported("assignment", "%s value to %s name", ExprSort(value), decl.Sort)
	}
	e.graph.AddExprToNode(env.Node, NewBinaryExpr(EQ, decl.Expr(), value))
	return nil
}

func (e *Executor) executeTerminator(frame *Frame, env *MemoryEnv, term Terminator) error {
	switch term := term.(type) {
	case *Goto:
		e.schedule(frame.fork(term.Target, nil, env.Node))
		return nil
	case *SwitchInt:
		return e.executeSwitchInt(frame, env, term)
	case *Assert:
		return e.executeAssert(frame, env, term)
	case *Call:
		return e.executeCall(frame, env, term)
	case *Return:
		return e.executeReturn(frame, env)
	case *Unreachable:
		return nil
	default:
		return unsupported("terminator", "%T", term)
	}
}

// executeSwitchInt forks one frame per value plus one for the otherwise
// target. Exactly one guard holds for any concrete discriminant.
func (e *Executor) executeSwitchInt(frame *Frame, env *MemoryEnv, term *SwitchInt) error {
	if len(term.Targets) != len(term.Values)+1 {
		return fmt.Errorf("switch has %d values but %d targets", len(term.Values), len(term.Targets))
	}

	env.Span = term.Span
	discr, err := e.evalOperand(frame, env, term.Discr)
	if err != nil {
		return err
	}

	negated := make([]Expr, 0, len(term.Values))
	for i, value := range term.Values {
		var v Expr = NewIntConstantExpr(value)
		if ExprSort(discr) == SortBool {
			v = NewBoolConstantExpr(value != 0)
		}

		guard := NewBinaryExpr(EQ, discr, v)
		negated = append(negated, NewNotExpr(guard))

		e.Logger.WithField("node", env.Node).Debugf("[fork] %s -> bb%d", guard, term.Targets[i])
		e.schedule(frame.fork(term.Targets[i], guard, env.Node))
	}

	otherwise := NewAndExpr(negated...)
	e.Logger.WithField("node", env.Node).Debugf("[fork] %s -> bb%d", otherwise, term.Targets[len(term.Values)])
	e.schedule(frame.fork(term.Targets[len(term.Values)], otherwise, env.Node))
	return nil
}

// executeAssert records the assertion as a fact on this path and continues.
func (e *Executor) executeAssert(frame *Frame, env *MemoryEnv, term *Assert) error {
	env.Span = term.Span
	cond, err := e.evalOperand(frame, env, term.Cond)
	if err != nil {
		return err
	} else if ExprSort(cond) != SortBool {
		return unsupported("assert", "non-boolean condition %s", term.Cond)
	}

	e.graph.AddExprToNode(env.Node, NewBinaryExpr(EQ, cond, NewBoolConstantExpr(term.Expected)))
	e.schedule(frame.fork(term.Target, nil, env.Node))
	return nil
}

func (e *Executor) executeCall(frame *Frame, env *MemoryEnv, term *Call) error {
	env.Span = term.Span

	// Arguments are always evaluated so moves and dereferences are observed.
	args := make([]Expr, len(term.Args))
	for i, arg := range term.Args {
		expr, err := e.evalOperand(frame, env, arg)
		if err != nil {
			return err
		}
		args[i] = expr
	}

	if callee := e.prog.Function(term.Func); e.InlineCalls && callee != nil && term.Dest != nil && frame.Depth() < e.MaxCallDepth {
		return e.inlineCall(frame, env, term, callee, args)
	}

	// Calls without a destination never return.
	if term.Dest == nil {
		e.Logger.WithField("node", env.Node).Debugf("[call] %s does not return", term.Func)
		return nil
	}

	e.stats.Havoced++
	if _, err := frame.memory.WriteFresh(env, *term.Dest); err != nil {
		return err
	}
	e.schedule(frame.fork(term.Next, nil, env.Node))
	return nil
}

// inlineCall continues the path in the callee with its parameters bound to
// fresh names equal to the argument values.
func (e *Executor) inlineCall(frame *Frame, env *MemoryEnv, term *Call, callee *Function, args []Expr) error {
	if len(args) != callee.ArgCount {
		return fmt.Errorf("call to %s: %d arguments, expected %d", callee.Name, len(args), callee.ArgCount)
	}

	child := frame.fork(frame.Block(), nil, env.Node)
	child.push(callee, term.Dest, term.Next)

	calleeEnv := &MemoryEnv{Graph: e.graph, Function: callee, Depth: child.Depth(), Node: env.Node}
	for i, arg := range args {
		name, err := child.memory.WriteFresh(calleeEnv, Place{Local: i + 1})
		if err != nil {
			return errors.Wrapf(err, "call to %s", callee.Name)
		} else if err := e.assignName(env, name, arg); err != nil {
			return errors.Wrapf(err, "call to %s", callee.Name)
		}
	}

	e.stats.Inlined++
	e.schedule(child)
	return nil
}

// executeReturn ends the path, or resumes the caller of an inlined call.
func (e *Executor) executeReturn(frame *Frame, env *MemoryEnv) error {
	if frame.Depth() == 0 {
		return nil
	}

	// Read the return value before the callee's locals are dropped.
	ret, retErr := frame.memory.ReadCopy(env, Place{Local: 0})

	child := frame.fork(frame.Block(), nil, env.Node)
	cf := child.pop()
	child.memory.Drop(env.Depth)

	if cf.Dest != nil {
		if retErr != nil {
			return errors.Wrapf(retErr, "return from %s", cf.Function.Name)
		}
		callerEnv := &MemoryEnv{Graph: e.graph, Function: child.Function(), Depth: child.Depth(), Node: env.Node}
		name, err := child.memory.WriteFresh(callerEnv, *cf.Dest)
		if err != nil {
			return err
		} else if err := e.assignName(env, name, e.graph.Declaration(ret).Expr()); err != nil {
			return err
		}
	}

	child.top().Block = cf.Next
	e.schedule(child)
	return nil
}

func (e *Executor) evalOperand(frame *Frame, env *MemoryEnv, op Operand) (Expr, error) {
	switch op := op.(type) {
	case *Copy:
		name, err := frame.memory.ReadCopy(env, op.Place)
		if err != nil {
			return nil, err
		}
		return e.graph.Declaration(name).Expr(), nil
	case *Move:
		name, err := frame.memory.ReadMove(env, op.Place)
		if err != nil {
			return nil, err
		}
		return e.graph.Declaration(name).Expr(), nil
	case *Constant:
		sort, err := op.Type.Sort()
		if err != nil {
			return nil, err
		} else if sort == SortBool {
			return NewBoolConstantExpr(op.Value != 0), nil
		}
		return NewIntConstantExpr(op.Value), nil
	default:
		return nil, unsupported("operand", "%T", op)
	}
}

func (e *Executor) evalRvalue(frame *Frame, env *MemoryEnv, rv Rvalue) (Expr, error) {
	switch rv := rv.(type) {
	case *Use:
		return e.evalOperand(frame, env, rv.Operand)
	case *BinaryOp:
		return e.evalBinaryOp(frame, env, rv)
	case *UnaryOp:
		return e.evalUnaryOp(frame, env, rv)
	case *Cast:
		return e.evalCast(frame, env, rv)
	case *Ref:
		name, isNew, err := frame.memory.Ref(env, rv.Place)
		if err != nil {
			return nil, err
		}
		expr := NewNameExpr(name, SortInt)
		if isNew {
			e.graph.AddExprToNode(env.Node, NewNotExpr(NewIsZeroExpr(expr)))
		}
		return expr, nil
	default:
		return nil, unsupported("rvalue", "%T", rv)
	}
}

func (e *Executor) evalBinaryOp(frame *Frame, env *MemoryEnv, rv *BinaryOp) (Expr, error) {
	lhs, err := e.evalOperand(frame, env, rv.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.evalOperand(frame, env, rv.RHS)
	if err != nil {
		return nil, err
	}

	sort := ExprSort(lhs)
	if ExprSort(rhs) != sort {
		return nil, unsupported("binary operation", "%s on %s and %s", rv.Op, sort, ExprSort(rhs))
	}

	switch rv.Op {
	case BinEq:
		return NewBinaryExpr(EQ, lhs, rhs), nil
	case BinNe:
		return NewBinaryExpr(NE, lhs, rhs), nil
	}

	if sort == SortBool {
		switch rv.Op {
		case BinBitAnd:
			return NewBinaryExpr(AND, lhs, rhs), nil
		case BinBitOr:
			return NewBinaryExpr(OR, lhs, rhs), nil
		case BinBitXor:
			return NewBinaryExpr(NE, lhs, rhs), nil
		default:
			return nil, unsupported("binary operation", "%s on Bool", rv.Op)
		}
	}

	switch rv.Op {
	case BinAdd, BinOffset:
		return NewBinaryExpr(ADD, lhs, rhs), nil
	case BinSub:
		return NewBinaryExpr(SUB, lhs, rhs), nil
	case BinMul:
		return NewBinaryExpr(MUL, lhs, rhs), nil
	case BinDiv:
		return NewBinaryExpr(DIV, lhs, rhs), nil
	case BinRem:
		return NewBinaryExpr(MOD, lhs, rhs), nil
	case BinLt:
		return NewBinaryExpr(LT, lhs, rhs), nil
	case BinLe:
		return NewBinaryExpr(LE, lhs, rhs), nil
	case BinGt:
		return NewBinaryExpr(GT, lhs, rhs), nil
	case BinGe:
		return NewBinaryExpr(GE, lhs, rhs), nil
	default:
		return nil, unsupported("binary operation", "%s on Int", rv.Op)
	}
}

func (e *Executor) evalUnaryOp(frame *Frame, env *MemoryEnv, rv *UnaryOp) (Expr, error) {
	x, err := e.evalOperand(frame, env, rv.Operand)
	if err != nil {
		return nil, err
	}

	switch sort := ExprSort(x); {
	case rv.Op == UnNot && sort == SortBool:
		return NewNotExpr(x), nil
	case rv.Op == UnNeg && sort == SortInt:
		return NewNegExpr(x), nil
	default:
		return nil, unsupported("unary operation", "%s on %s", rv.Op, sort)
	}
}

// evalCast converts between sorts. Casts within a sort are the identity.
func (e *Executor) evalCast(frame *Frame, env *MemoryEnv, rv *Cast) (Expr, error) {
	x, err := e.evalOperand(frame, env, rv.Operand)
	if err != nil {
		return nil, err
	}
	sort, err := rv.Type.Sort()
	if err != nil {
		return nil, err
	}

	switch src := ExprSort(x); {
	case src == sort:
		return x, nil
	case src == SortBool:
		return NewIteExpr(x, NewIntConstantExpr(1), NewIntConstantExpr(0)), nil
	default:
		return NewNotExpr(NewIsZeroExpr(x)), nil
	}
}
