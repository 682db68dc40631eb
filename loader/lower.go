package loader

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	"github.com/benbjohnson/nilsym"
	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"
)

// Lower converts an SSA function into a control-flow graph.
//
// Every SSA value gets its own local. Parameters are locals 1..n and local 0
// is the return slot. Calls end a block and continue in a new one. Phi nodes
// become copies at the end of each predecessor.
func Lower(fn *ssa.Function) (*nilsym.Function, error) {
	l := newLowerer(fn)
	if err := l.lower(); err != nil {
		return nil, err
	}
	return l.out, nil
}

type lowerer struct {
	fn   *ssa.Function
	out  *nilsym.Function
	fset *token.FileSet

	locals map[ssa.Value]int // SSA value to local slot
	heads  []int             // first lowered block of each SSA block

	// Current block being filled.
	blk *nilsym.BasicBlock
}

func newLowerer(fn *ssa.Function) *lowerer {
	return &lowerer{
		fn:     fn,
		fset:   fn.Prog.Fset,
		locals: make(map[ssa.Value]int),
	}
}

func (l *lowerer) lower() error {
	if len(l.fn.FreeVars) > 0 {
		return unsupported("closure", "%d free variables", len(l.fn.FreeVars))
	} else if len(l.fn.Blocks) == 0 {
		return unsupported("function", "no body")
	}

	l.out = &nilsym.Function{
		Name:     l.fn.String(),
		Span:     l.span(l.fn.Pos()),
		ArgCount: len(l.fn.Params),
	}

	// Return slot. Only single results are tracked.
	var ret *nilsym.Type
	if results := l.fn.Signature.Results(); results.Len() == 1 {
		ret = convertType(results.At(0).Type())
	} else {
		ret = &nilsym.Type{Name: results.String()}
	}
	l.out.Locals = append(l.out.Locals, &nilsym.Local{Type: ret})

	for _, param := range l.fn.Params {
		l.addLocal(param, param.Name())
	}

	// Reserve one lowered block per SSA block so jumps can be resolved
	// before their targets are filled.
	l.heads = make([]int, len(l.fn.Blocks))
	for i := range l.fn.Blocks {
		l.heads[i] = i
		l.out.Blocks = append(l.out.Blocks, &nilsym.BasicBlock{})
	}

	// Assign locals to every value first since phis may reference values
	// defined in later blocks.
	for _, b := range l.fn.Blocks {
		for _, instr := range b.Instrs {
			if v, ok := instr.(ssa.Value); ok {
				l.addLocal(v, v.Name())
			}
		}
	}

	for _, b := range l.fn.Blocks {
		l.blk = l.out.Blocks[b.Index]
		for _, instr := range b.Instrs {
			if err := l.lowerInstr(b, instr); err != nil {
				return errors.Wrapf(err, "%s", l.span(instr.Pos()))
			}
		}
	}
	return nil
}

func (l *lowerer) lowerInstr(b *ssa.BasicBlock, instr ssa.Instruction) error {
	switch instr := instr.(type) {
	case *ssa.DebugRef, *ssa.RunDefers:
		return nil
	case *ssa.Phi:
		// Copies are emitted by the predecessors.
		return nil
	case *ssa.Alloc:
		return l.lowerAlloc(instr)
	case *ssa.BinOp:
		return l.lowerBinOp(instr)
	case *ssa.UnOp:
		return l.lowerUnOp(instr)
	case *ssa.Convert:
		return l.lowerCast(instr, instr.X)
	case *ssa.ChangeType:
		return l.lowerCast(instr, instr.X)
	case *ssa.Store:
		val, err := l.operand(instr.Val)
		if err != nil {
			return err
		}
		addr, err := l.local(instr.Addr)
		if err != nil {
			return err
		}
		l.emit(&nilsym.Assign{
			Place:  nilsym.Place{Local: addr, Derefs: 1},
			Rvalue: &nilsym.Use{Operand: val},
			Span:   l.span(instr.Pos()),
		})
		return nil
	case *ssa.Call:
		return l.lowerCall(instr)
	case *ssa.If:
		cond, err := l.operand(instr.Cond)
		if err != nil {
			return err
		}
		if err := l.emitPhiCopies(b); err != nil {
			return err
		}
		l.blk.Terminator = &nilsym.SwitchInt{
			Discr:   cond,
			Values:  []int64{0},
			Targets: []int{l.edgeTarget(b, 1), l.edgeTarget(b, 0)},
			Span:    l.span(instr.Pos()),
		}
		return nil
	case *ssa.Jump:
		if err := l.emitPhiCopies(b); err != nil {
			return err
		}
		l.blk.Terminator = &nilsym.Goto{Target: l.edgeTarget(b, 0)}
		return nil
	case *ssa.Return:
		if len(instr.Results) == 1 {
			val, err := l.operand(instr.Results[0])
			if err != nil {
				return err
			}
			l.emit(&nilsym.Assign{
				Place:  nilsym.Place{Local: 0},
				Rvalue: &nilsym.Use{Operand: val},
				Span:   l.span(instr.Pos()),
			})
		}
		l.blk.Terminator = &nilsym.Return{}
		return nil
	case *ssa.Panic:
		l.blk.Terminator = &nilsym.Unreachable{}
		return nil
	default:
		return unsupported("instruction", "%T: %s", instr, instr)
	}
}

// lowerAlloc binds the allocated address to a new local. Every execution
// starts a new storage instance of that local, so addresses from earlier
// executions keep their own object. Elements of a supported type start at
// zero.
func (l *lowerer) lowerAlloc(instr *ssa.Alloc) error {
	addr := l.locals[instr]
	elem := convertType(instr.Type().(*types.Pointer).Elem())
	slot := len(l.out.Locals)
	l.out.Locals = append(l.out.Locals, &nilsym.Local{Name: instr.Comment, Type: elem})

	span := l.span(instr.Pos())
	l.emit(&nilsym.StorageLive{Local: slot})
	if _, err := elem.Sort(); err == nil {
		l.emit(&nilsym.Assign{
			Place:  nilsym.Place{Local: slot},
			Rvalue: &nilsym.Use{Operand: &nilsym.Constant{Value: 0, Type: elem}},
			Span:   span,
		})
	}
	l.emit(&nilsym.Assign{
		Place:  nilsym.Place{Local: addr},
		Rvalue: &nilsym.Ref{Place: nilsym.Place{Local: slot}},
		Span:   span,
	})
	return nil
}

var binOps = map[token.Token]nilsym.BinOp{
	token.ADD: nilsym.BinAdd,
	token.SUB: nilsym.BinSub,
	token.MUL: nilsym.BinMul,
	token.QUO: nilsym.BinDiv,
	token.REM: nilsym.BinRem,
	token.AND: nilsym.BinBitAnd,
	token.OR:  nilsym.BinBitOr,
	token.XOR: nilsym.BinBitXor,
	token.SHL: nilsym.BinShl,
	token.SHR: nilsym.BinShr,
	token.EQL: nilsym.BinEq,
	token.NEQ: nilsym.BinNe,
	token.LSS: nilsym.BinLt,
	token.LEQ: nilsym.BinLe,
	token.GTR: nilsym.BinGt,
	token.GEQ: nilsym.BinGe,
}

func (l *lowerer) lowerBinOp(instr *ssa.BinOp) error {
	op, ok := binOps[instr.Op]
	if !ok {
		return unsupported("binary operation", "%s", instr.Op)
	}
	lhs, err := l.operand(instr.X)
	if err != nil {
		return err
	}
	rhs, err := l.operand(instr.Y)
	if err != nil {
		return err
	}
	return l.assign(instr, &nilsym.BinaryOp{Op: op, LHS: lhs, RHS: rhs})
}

func (l *lowerer) lowerUnOp(instr *ssa.UnOp) error {
	if instr.CommaOk {
		return unsupported("unary operation", "%s with comma-ok", instr.Op)
	}

	switch instr.Op {
	case token.MUL:
		addr, err := l.local(instr.X)
		if err != nil {
			return err
		}
		return l.assign(instr, &nilsym.Use{Operand: &nilsym.Copy{Place: nilsym.Place{Local: addr, Derefs: 1}}})
	case token.NOT, token.SUB:
		x, err := l.operand(instr.X)
		if err != nil {
			return err
		}
		op := nilsym.UnNot
		if instr.Op == token.SUB {
			op = nilsym.UnNeg
		}
		return l.assign(instr, &nilsym.UnaryOp{Op: op, Operand: x})
	default:
		return unsupported("unary operation", "%s", instr.Op)
	}
}

func (l *lowerer) lowerCast(v ssa.Value, x ssa.Value) error {
	op, err := l.operand(x)
	if err != nil {
		return err
	}
	return l.assign(v, &nilsym.Cast{Operand: op, Type: convertType(v.Type())})
}

// lowerCall ends the current block with a call and continues in a new block.
// Calls with arguments the executor cannot represent are kept opaque.
func (l *lowerer) lowerCall(instr *ssa.Call) error {
	common := instr.Common()

	var name string
	if callee := common.StaticCallee(); callee != nil && !common.IsInvoke() {
		name = callee.String()
	}

	var args []nilsym.Operand
	for _, arg := range common.Args {
		op, err := l.operand(arg)
		if err != nil {
			args, name = nil, ""
			break
		}
		args = append(args, op)
	}
	if name == "" {
		name = common.String()
	}

	// Results that cannot be tracked are written to a scratch local.
	dest := nilsym.Place{Local: l.locals[instr]}
	if _, err := sortOf(instr.Type()); err != nil {
		dest.Local = len(l.out.Locals)
		l.out.Locals = append(l.out.Locals, &nilsym.Local{Type: nilsym.IntType})
	}

	next := len(l.out.Blocks)
	l.blk.Terminator = &nilsym.Call{
		Func: name,
		Args: args,
		Dest: &dest,
		Next: next,
		Span: l.span(instr.Pos()),
	}

	l.blk = &nilsym.BasicBlock{}
	l.out.Blocks = append(l.out.Blocks, l.blk)
	return nil
}

// edgeTarget returns the lowered block for the i-th successor of b. If the
// successor has phis and b has several successors, a block holding the phi
// copies is inserted on the edge.
func (l *lowerer) edgeTarget(b *ssa.BasicBlock, i int) int {
	succ := b.Succs[i]
	if len(b.Succs) == 1 || !hasPhis(succ) {
		return l.heads[succ.Index]
	}

	saved := l.blk
	defer func() { l.blk = saved }()

	idx := len(l.out.Blocks)
	l.blk = &nilsym.BasicBlock{}
	l.out.Blocks = append(l.out.Blocks, l.blk)
	l.copyPhis(b, succ)
	l.blk.Terminator = &nilsym.Goto{Target: l.heads[succ.Index]}
	return idx
}

// emitPhiCopies emits the phi copies for a block with a single successor.
func (l *lowerer) emitPhiCopies(b *ssa.BasicBlock) error {
	if len(b.Succs) != 1 {
		return l.checkPhis(b)
	}
	if err := l.checkPhis(b); err != nil {
		return err
	}
	l.copyPhis(b, b.Succs[0])
	return nil
}

// checkPhis returns an error if any phi fed by b has an operand that cannot
// be lowered.
func (l *lowerer) checkPhis(b *ssa.BasicBlock) error {
	for _, succ := range b.Succs {
		for _, phi := range phis(succ) {
			if _, err := l.operand(phi.Edges[predIndex(succ, b)]); err != nil {
				return err
			} else if _, err := sortOf(phi.Type()); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyPhis copies the incoming values of succ's phis through temporaries so
// that phis reading each other see the values from before the edge.
func (l *lowerer) copyPhis(pred, succ *ssa.BasicBlock) {
	list := phis(succ)
	idx := predIndex(succ, pred)

	tmps := make([]int, len(list))
	for i, phi := range list {
		op, _ := l.operand(phi.Edges[idx])
		tmps[i] = len(l.out.Locals)
		l.out.Locals = append(l.out.Locals, &nilsym.Local{Type: convertType(phi.Type())})
		l.emit(&nilsym.Assign{Place: nilsym.Place{Local: tmps[i]}, Rvalue: &nilsym.Use{Operand: op}})
	}
	for i, phi := range list {
		l.emit(&nilsym.Assign{
			Place:  nilsym.Place{Local: l.locals[phi]},
			Rvalue: &nilsym.Use{Operand: &nilsym.Copy{Place: nilsym.Place{Local: tmps[i]}}},
		})
	}
}

func (l *lowerer) assign(v ssa.Value, rv nilsym.Rvalue) error {
	if _, err := sortOf(v.Type()); err != nil {
		return err
	}
	l.emit(&nilsym.Assign{
		Place:  nilsym.Place{Local: l.locals[v]},
		Rvalue: rv,
		Span:   l.span(v.Pos()),
	})
	return nil
}

func (l *lowerer) emit(stmt nilsym.Statement) {
	l.blk.Statements = append(l.blk.Statements, stmt)
}

// operand returns the operand reading v.
func (l *lowerer) operand(v ssa.Value) (nilsym.Operand, error) {
	if c, ok := v.(*ssa.Const); ok {
		return constOperand(c)
	}
	local, err := l.local(v)
	if err != nil {
		return nil, err
	} else if _, err := l.out.Locals[local].Type.Sort(); err != nil {
		return nil, err
	}
	return &nilsym.Copy{Place: nilsym.Place{Local: local}}, nil
}

// local returns the local slot holding v.
func (l *lowerer) local(v ssa.Value) (int, error) {
	if i, ok := l.locals[v]; ok {
		return i, nil
	}
	return 0, unsupported("value", "%T: %s", v, v.Name())
}

func (l *lowerer) addLocal(v ssa.Value, name string) {
	l.locals[v] = len(l.out.Locals)
	l.out.Locals = append(l.out.Locals, &nilsym.Local{Name: name, Type: convertType(v.Type())})
}

func (l *lowerer) span(pos token.Pos) nilsym.Span {
	return spanOf(l.fset, pos)
}

// constOperand returns a constant operand for a boolean, integer or nil
// pointer constant.
func constOperand(c *ssa.Const) (nilsym.Operand, error) {
	typ := convertType(c.Type())
	sort, err := typ.Sort()
	if err != nil {
		return nil, err
	}

	// Zero values, including nil pointers, have no constant value.
	if c.Value == nil {
		return &nilsym.Constant{Value: 0, Type: typ}, nil
	}

	switch {
	case sort == nilsym.SortBool && c.Value.Kind() == constant.Bool:
		if constant.BoolVal(c.Value) {
			return &nilsym.Constant{Value: 1, Type: typ}, nil
		}
		return &nilsym.Constant{Value: 0, Type: typ}, nil
	case sort == nilsym.SortInt && c.Value.Kind() == constant.Int:
		v, exact := constant.Int64Val(c.Value)
		if !exact {
			return nil, unsupported("constant", "%s overflows int64", c.Value)
		}
		return &nilsym.Constant{Value: v, Type: typ}, nil
	default:
		return nil, unsupported("constant", "%s", c.Value)
	}
}

// convertType maps a Go type onto the executor's type model.
func convertType(typ types.Type) *nilsym.Type {
	name := types.TypeString(typ, nil)
	switch u := typ.Underlying().(type) {
	case *types.Basic:
		switch {
		case u.Info()&types.IsBoolean != 0:
			return &nilsym.Type{Kind: nilsym.TypeBool, Name: name}
		case u.Info()&types.IsInteger != 0:
			return &nilsym.Type{Kind: nilsym.TypeInt, Name: name}
		case u.Kind() == types.UnsafePointer:
			return &nilsym.Type{Kind: nilsym.TypePointer, Name: name, Elem: &nilsym.Type{Name: "byte"}}
		}
	case *types.Pointer:
		return &nilsym.Type{Kind: nilsym.TypePointer, Name: name, Elem: convertType(u.Elem())}
	}
	return &nilsym.Type{Name: name}
}

func sortOf(typ types.Type) (nilsym.Sort, error) {
	return convertType(typ).Sort()
}

func hasPhis(b *ssa.BasicBlock) bool {
	return len(phis(b)) > 0
}

// phis returns the phi nodes at the start of b.
func phis(b *ssa.BasicBlock) []*ssa.Phi {
	var a []*ssa.Phi
	for _, instr := range b.Instrs {
		if phi, ok := instr.(*ssa.Phi); ok {
			a = append(a, phi)
		} else if _, ok := instr.(*ssa.DebugRef); !ok {
			break
		}
	}
	return a
}

// predIndex returns the index of pred in b.Preds.
func predIndex(b, pred *ssa.BasicBlock) int {
	for i, p := range b.Preds {
		if p == pred {
			return i
		}
	}
	panic(fmt.Sprintf("block %d is not a predecessor of block %d", pred.Index, b.Index))
}

// unsupported returns an error for a construct the executor cannot model.
func unsupported(construct, format string, args ...interface{}) error {
	return &nilsym.UnsupportedError{Construct: construct, Detail: fmt.Sprintf(format, args...)}
}
