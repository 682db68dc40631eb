package nilsym

import (
	"fmt"
	"math/big"
	"sort"
)

// Expr represents a symbolic expression over the Int and Bool sorts.
type Expr interface {
	fmt.Stringer
	expr()
}

func (*BinaryExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*IteExpr) expr()      {}
func (*NameExpr) expr()     {}
func (*NegExpr) expr()      {}
func (*NotExpr) expr()      {}

// ExprSort returns the logical sort of the expression.
func ExprSort(expr Expr) Sort {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Sort
	case *NameExpr:
		return expr.Sort
	case *NotExpr:
		return SortBool
	case *NegExpr:
		return SortInt
	case *IteExpr:
		return ExprSort(expr.Then)
	case *BinaryExpr:
		if expr.Op.IsArithmetic() {
			return SortInt
		}
		return SortBool
	default:
		panic("unreachable")
	}
}

// ExprOp represents a binary expression operation.
type ExprOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = ExprOp(iota)
	ADD
	SUB
	MUL
	DIV
	MOD
	arithmetic_op_end

	logical_op_begin
	AND
	OR
	IMPLIES
	logical_op_end

	compare_op_begin
	EQ
	NE
	LT
	LE
	GT
	GE
	compare_op_end
)

// SMT-LIB2 function symbols for each operation.
var binaryOps = [...]string{
	ADD:     "+",
	SUB:     "-",
	MUL:     "*",
	DIV:     "div",
	MOD:     "mod",
	AND:     "and",
	OR:      "or",
	IMPLIES: "=>",
	EQ:      "=",
	NE:      "distinct",
	LT:      "<",
	LE:      "<=",
	GT:      ">",
	GE:      ">=",
}

// String returns the SMT-LIB2 symbol of the operation.
func (op ExprOp) String() string {
	if op >= 0 && op < ExprOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("ExprOp<%d>", op)
}

// IsArithmetic returns true if op is an integer arithmetic operator.
func (op ExprOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsLogical returns true if op is a boolean connective.
func (op ExprOp) IsLogical() bool {
	return op > logical_op_begin && op < logical_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op ExprOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  ExprOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a new binary expression. Constant operands are folded.
func NewBinaryExpr(op ExprOp, lhs, rhs Expr) Expr {
	switch op {
	case ADD, SUB, MUL, DIV, MOD:
		return newArithmeticExpr(op, lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)
	case IMPLIES:
		return newImpliesExpr(lhs, rhs)
	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewNotExpr(newEqExpr(lhs, rhs))
	case LT, LE:
		return newCompareExpr(op, lhs, rhs)
	case GT:
		return newCompareExpr(LT, rhs, lhs) // reverse
	case GE:
		return newCompareExpr(LE, rhs, lhs) // reverse
	default:
		panic("unreachable")
	}
}

// NewAndExpr returns the conjunction of exprs. Returns true if exprs is empty.
func NewAndExpr(exprs ...Expr) Expr {
	var ret Expr = NewBoolConstantExpr(true)
	for _, expr := range exprs {
		ret = NewBinaryExpr(AND, ret, expr)
	}
	return ret
}

// String returns the SMT-LIB2 representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

func newArithmeticExpr(op ExprOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if v, err := evalBinaryConstant(op, lhs, rhs); err == nil {
				return v
			}
		}
	}

	switch op {
	case ADD:
		if isIntConstant(lhs, 0) {
			return rhs
		} else if isIntConstant(rhs, 0) {
			return lhs
		}
	case SUB:
		if isIntConstant(rhs, 0) {
			return lhs
		}
	case MUL:
		if isIntConstant(lhs, 1) {
			return rhs
		} else if isIntConstant(rhs, 1) {
			return lhs
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

func newAndExpr(lhs, rhs Expr) Expr {
	if IsConstantTrue(lhs) {
		return rhs
	} else if IsConstantTrue(rhs) {
		return lhs
	} else if IsConstantFalse(lhs) || IsConstantFalse(rhs) {
		return NewBoolConstantExpr(false)
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

func newOrExpr(lhs, rhs Expr) Expr {
	if IsConstantFalse(lhs) {
		return rhs
	} else if IsConstantFalse(rhs) {
		return lhs
	} else if IsConstantTrue(lhs) || IsConstantTrue(rhs) {
		return NewBoolConstantExpr(true)
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

func newImpliesExpr(lhs, rhs Expr) Expr {
	if IsConstantTrue(lhs) {
		return rhs
	} else if IsConstantFalse(lhs) || IsConstantTrue(rhs) {
		return NewBoolConstantExpr(true)
	}
	return &BinaryExpr{Op: IMPLIES, LHS: lhs, RHS: rhs}
}

func newEqExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Eq(rhs)
		}

		if lhs.Sort == SortBool {
			if lhs.IsTrue() {
				return rhs // true == X => X
			}
			return NewNotExpr(rhs) // false == X => !X
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

func newCompareExpr(op ExprOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if v, err := evalBinaryConstant(op, lhs, rhs); err == nil {
				return v
			}
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// NameExpr represents a reference to a declared symbolic name.
type NameExpr struct {
	Name Name
	Sort Sort
}

// NewNameExpr returns a new instance of NameExpr.
func NewNameExpr(name Name, sort Sort) *NameExpr {
	return &NameExpr{Name: name, Sort: sort}
}

// String returns the solver label of the name.
func (e *NameExpr) String() string { return e.Name.String() }

// NotExpr represents a boolean negation.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns the negation of expr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the SMT-LIB2 representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// NegExpr represents an integer negation.
type NegExpr struct {
	Expr Expr
}

// NewNegExpr returns the integer negation of expr.
func NewNegExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Neg()
	case *NegExpr:
		return expr.Expr
	}
	return &NegExpr{Expr: expr}
}

// String returns the SMT-LIB2 representation of the expression.
func (e *NegExpr) String() string {
	return fmt.Sprintf("(- %s)", e.Expr)
}

// IteExpr represents an if-then-else expression.
type IteExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// NewIteExpr returns a new if-then-else expression.
func NewIteExpr(cond, then, els Expr) Expr {
	if IsConstantTrue(cond) {
		return then
	} else if IsConstantFalse(cond) {
		return els
	}
	return &IteExpr{Cond: cond, Then: then, Else: els}
}

// String returns the SMT-LIB2 representation of the expression.
func (e *IteExpr) String() string {
	return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
}

// ConstantExpr represents an integer or boolean literal.
// Booleans are stored as 0 or 1.
type ConstantExpr struct {
	Value *big.Int
	Sort  Sort
}

// NewIntConstantExpr returns a new integer constant.
func NewIntConstantExpr(value int64) *ConstantExpr {
	return &ConstantExpr{Value: big.NewInt(value), Sort: SortInt}
}

// NewBigIntConstantExpr returns a new integer constant. The value is copied.
func NewBigIntConstantExpr(value *big.Int) *ConstantExpr {
	return &ConstantExpr{Value: new(big.Int).Set(value), Sort: SortInt}
}

// NewBoolConstantExpr returns a new boolean constant.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: big.NewInt(1), Sort: SortBool}
	}
	return &ConstantExpr{Value: big.NewInt(0), Sort: SortBool}
}

// String returns the SMT-LIB2 literal. Negative integers use unary minus.
func (e *ConstantExpr) String() string {
	if e.Sort == SortBool {
		if e.IsTrue() {
			return "true"
		}
		return "false"
	} else if e.Value.Sign() < 0 {
		return fmt.Sprintf("(- %s)", new(big.Int).Neg(e.Value))
	}
	return e.Value.String()
}

// IsTrue returns true if the expression is a boolean true.
func (e *ConstantExpr) IsTrue() bool {
	return e.Sort == SortBool && e.Value.Sign() != 0
}

// IsFalse returns true if the expression is a boolean false.
func (e *ConstantExpr) IsFalse() bool {
	return e.Sort == SortBool && e.Value.Sign() == 0
}

// Int64 returns the value as an int64. Only valid if the value fits.
func (e *ConstantExpr) Int64() int64 { return e.Value.Int64() }

func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	return &ConstantExpr{Value: new(big.Int).Add(e.Value, other.Value), Sort: SortInt}
}

func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	return &ConstantExpr{Value: new(big.Int).Sub(e.Value, other.Value), Sort: SortInt}
}

func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	return &ConstantExpr{Value: new(big.Int).Mul(e.Value, other.Value), Sort: SortInt}
}

// Div returns the euclidean quotient, matching the SMT-LIB2 "div" function.
// Panics if other is zero.
func (e *ConstantExpr) Div(other *ConstantExpr) *ConstantExpr {
	assert(other.Value.Sign() != 0, "division by zero")
	return &ConstantExpr{Value: new(big.Int).Div(e.Value, other.Value), Sort: SortInt}
}

// Mod returns the euclidean modulus, matching the SMT-LIB2 "mod" function.
// Panics if other is zero.
func (e *ConstantExpr) Mod(other *ConstantExpr) *ConstantExpr {
	assert(other.Value.Sign() != 0, "modulus by zero")
	return &ConstantExpr{Value: new(big.Int).Mod(e.Value, other.Value), Sort: SortInt}
}

func (e *ConstantExpr) Neg() *ConstantExpr {
	return &ConstantExpr{Value: new(big.Int).Neg(e.Value), Sort: SortInt}
}

func (e *ConstantExpr) Not() *ConstantExpr {
	return NewBoolConstantExpr(!e.IsTrue())
}

func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) == 0)
}

func (e *ConstantExpr) Lt(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) < 0)
}

func (e *ConstantExpr) Le(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) <= 0)
}

// evalBinaryConstant computes op over two constants. Returns an error for
// division by zero, which SMT-LIB2 leaves unspecified.
func evalBinaryConstant(op ExprOp, lhs, rhs *ConstantExpr) (*ConstantExpr, error) {
	switch op {
	case ADD:
		return lhs.Add(rhs), nil
	case SUB:
		return lhs.Sub(rhs), nil
	case MUL:
		return lhs.Mul(rhs), nil
	case DIV, MOD:
		if rhs.Value.Sign() == 0 {
			return nil, fmt.Errorf("%s by zero", op)
		} else if op == DIV {
			return lhs.Div(rhs), nil
		}
		return lhs.Mod(rhs), nil
	case AND:
		return NewBoolConstantExpr(lhs.IsTrue() && rhs.IsTrue()), nil
	case OR:
		return NewBoolConstantExpr(lhs.IsTrue() || rhs.IsTrue()), nil
	case IMPLIES:
		return NewBoolConstantExpr(!lhs.IsTrue() || rhs.IsTrue()), nil
	case EQ:
		return lhs.Eq(rhs), nil
	case NE:
		return lhs.Eq(rhs).Not(), nil
	case LT:
		return lhs.Lt(rhs), nil
	case LE:
		return lhs.Le(rhs), nil
	case GT:
		return rhs.Lt(lhs), nil
	case GE:
		return rhs.Le(lhs), nil
	default:
		return nil, fmt.Errorf("invalid binary operator: %s", op)
	}
}

// IsConstantExpr returns true if expr is a constant.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is a constant boolean true.
func IsConstantTrue(expr Expr) bool {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr.IsTrue()
	}
	return false
}

// IsConstantFalse returns true if expr is a constant boolean false.
func IsConstantFalse(expr Expr) bool {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr.IsFalse()
	}
	return false
}

func isIntConstant(expr Expr, v int64) bool {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Sort == SortInt && expr.Value.IsInt64() && expr.Value.Int64() == v
	}
	return false
}

// NewIsZeroExpr returns an expression that is true when expr equals zero.
func NewIsZeroExpr(expr Expr) Expr {
	return NewBinaryExpr(EQ, expr, NewIntConstantExpr(0))
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *NameExpr:
		return compareNameExpr(a, b.(*NameExpr))
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *NegExpr:
		return CompareExpr(a.Expr, b.(*NegExpr).Expr)
	case *IteExpr:
		return compareIteExpr(a, b.(*IteExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	default:
		panic("unreachable")
	}
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if a.Sort < b.Sort {
		return -1
	} else if a.Sort > b.Sort {
		return 1
	}
	return a.Value.Cmp(b.Value)
}

func compareNameExpr(a, b *NameExpr) int {
	if a.Name < b.Name {
		return -1
	} else if a.Name > b.Name {
		return 1
	}
	return 0
}

func compareIteExpr(a, b *IteExpr) int {
	if cmp := CompareExpr(a.Cond, b.Cond); cmp != 0 {
		return cmp
	}
	if cmp := CompareExpr(a.Then, b.Then); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.Else, b.Else)
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.RHS, b.RHS)
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *NameExpr:
		return 2
	case *NotExpr:
		return 3
	case *NegExpr:
		return 4
	case *IteExpr:
		return 5
	case *BinaryExpr:
		return 6
	default:
		panic("unreachable")
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return nil to skip children.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses expr depth-first.
func WalkExpr(v ExprVisitor, expr Expr) {
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *IteExpr:
		WalkExpr(v, expr.Cond)
		WalkExpr(v, expr.Then)
		WalkExpr(v, expr.Else)
	case *NotExpr:
		WalkExpr(v, expr.Expr)
	case *NegExpr:
		WalkExpr(v, expr.Expr)
	case *ConstantExpr, *NameExpr:
		// nop
	default:
		panic("unreachable")
	}
}

// FindNames returns the sorted set of names referenced by exprs.
func FindNames(exprs ...Expr) []Name {
	v := &nameExprVisitor{m: make(map[Name]struct{})}
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}

	a := make([]Name, 0, len(v.m))
	for name := range v.m {
		a = append(a, name)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

type nameExprVisitor struct {
	m map[Name]struct{}
}

func (v *nameExprVisitor) Visit(expr Expr) ExprVisitor {
	if expr, ok := expr.(*NameExpr); ok {
		v.m[expr.Name] = struct{}{}
	}
	return v
}

// ExprEvaluator evaluates expressions against a model.
type ExprEvaluator struct {
	model Model
}

// NewExprEvaluator returns a new instance of ExprEvaluator for model.
func NewExprEvaluator(model Model) *ExprEvaluator {
	return &ExprEvaluator{model: model}
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if a name is missing from the model.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr, nil
	case *NameExpr:
		value, ok := ee.model[expr.Name]
		if !ok {
			return nil, fmt.Errorf("name not bound: %s", expr.Name)
		}
		return value, nil
	case *NotExpr:
		v, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return v.Not(), nil
	case *NegExpr:
		v, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return v.Neg(), nil
	case *IteExpr:
		cond, err := ee.Evaluate(expr.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return ee.Evaluate(expr.Then)
		}
		return ee.Evaluate(expr.Else)
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return evalBinaryConstant(expr.Op, lhs, rhs)
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}
