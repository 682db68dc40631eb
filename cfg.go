package nilsym

import (
	"bytes"
	"fmt"
	"strings"
)

// Program is the set of lowered functions available to the executor.
// Functions outside the program are treated as opaque when called.
type Program struct {
	Functions []*Function
}

// Function returns the function with the given name, if available.
func (p *Program) Function(name string) *Function {
	if p == nil {
		return nil
	}
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Span represents a source position.
type Span struct {
	Filename string `json:"filename,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// IsValid returns true if the span has a line number.
func (s Span) IsValid() bool { return s.Line > 0 }

// String returns the span formatted as "file:line:column".
func (s Span) String() string {
	if !s.IsValid() {
		if s.Filename != "" {
			return s.Filename
		}
		return "-"
	}
	if s.Column == 0 {
		return fmt.Sprintf("%s:%d", s.Filename, s.Line)
	}
	return fmt.Sprintf("%s:%d:%d", s.Filename, s.Line, s.Column)
}

// Function represents the control-flow graph of a single function.
//
// Local 0 holds the return value and locals 1 through ArgCount are the
// parameters. Execution starts at block 0.
type Function struct {
	Name     string
	Span     Span
	Locals   []*Local
	ArgCount int
	Blocks   []*BasicBlock
}

// Local returns the local slot at index i or nil if out of range.
func (fn *Function) Local(i int) *Local {
	if i < 0 || i >= len(fn.Locals) {
		return nil
	}
	return fn.Locals[i]
}

// Block returns the basic block at index i or nil if out of range.
func (fn *Function) Block(i int) *BasicBlock {
	if i < 0 || i >= len(fn.Blocks) {
		return nil
	}
	return fn.Blocks[i]
}

// PlaceType returns the static type stored at place.
func (fn *Function) PlaceType(place Place) (*Type, error) {
	local := fn.Local(place.Local)
	if local == nil {
		return nil, fmt.Errorf("local out of range: %s in %s", place, fn.Name)
	}

	typ := local.Type
	for i := 0; i < place.Derefs; i++ {
		if typ == nil || typ.Kind != TypePointer || typ.Elem == nil {
			return nil, unsupported("place", "cannot dereference %s of type %s", place, typ)
		}
		typ = typ.Elem
	}
	return typ, nil
}

// String returns a textual dump of the function.
func (fn *Function) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "fn %s(", fn.Name)
	for i := 1; i <= fn.ArgCount && i < len(fn.Locals); i++ {
		if i > 1 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "_%d: %s", i, fn.Locals[i].Type)
	}
	buf.WriteString(")")
	if len(fn.Locals) > 0 {
		fmt.Fprintf(&buf, " -> %s", fn.Locals[0].Type)
	}
	buf.WriteString(" {\n")
	for i, local := range fn.Locals {
		if i <= fn.ArgCount {
			continue
		}
		fmt.Fprintf(&buf, "    let _%d: %s; // %s\n", i, local.Type, local.Name)
	}
	for i, blk := range fn.Blocks {
		fmt.Fprintf(&buf, "  bb%d: {\n", i)
		for _, stmt := range blk.Statements {
			fmt.Fprintf(&buf, "    %s;\n", stmt)
		}
		fmt.Fprintf(&buf, "    %s;\n", blk.Terminator)
		buf.WriteString("  }\n")
	}
	buf.WriteString("}\n")
	return buf.String()
}

// Local represents a typed local variable slot.
type Local struct {
	Name string
	Type *Type
}

// TypeKind represents the category of a static type.
type TypeKind int

const (
	TypeOther TypeKind = iota
	TypeBool
	TypeInt
	TypePointer
)

// Type represents the static type of a local or place.
type Type struct {
	Kind TypeKind
	Name string // display name
	Elem *Type  // pointee, for pointers
}

// Common types.
var (
	BoolType = &Type{Kind: TypeBool, Name: "bool"}
	IntType  = &Type{Kind: TypeInt, Name: "int"}
)

// PointerTo returns a pointer type to elem.
func PointerTo(elem *Type) *Type {
	return &Type{Kind: TypePointer, Elem: elem}
}

// String returns the display name of the type.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	} else if t.Name != "" {
		return t.Name
	} else if t.Kind == TypePointer {
		return "*" + t.Elem.String()
	}
	return "?"
}

// Sort returns the logical sort of values of this type.
func (t *Type) Sort() (Sort, error) {
	if t == nil {
		return 0, unsupported("type", "untyped value")
	}
	switch t.Kind {
	case TypeBool:
		return SortBool, nil
	case TypeInt, TypePointer:
		return SortInt, nil
	default:
		return 0, unsupported("type", "%s", t)
	}
}

// Place represents a storage location: a base local dereferenced zero or
// more times.
type Place struct {
	Local  int
	Derefs int
}

// Deref returns the place that p points to.
func (p Place) Deref() Place {
	return Place{Local: p.Local, Derefs: p.Derefs + 1}
}

// Base returns the place being dereferenced. Panics if p is a base local.
func (p Place) Base() Place {
	assert(p.Derefs > 0, "base of local place: %s", p)
	return Place{Local: p.Local, Derefs: p.Derefs - 1}
}

// IsLocal returns true if p is a base local without projections.
func (p Place) IsLocal() bool { return p.Derefs == 0 }

// String returns the place in "(*_1)" notation.
func (p Place) String() string {
	return strings.Repeat("(*", p.Derefs) + fmt.Sprintf("_%d", p.Local) + strings.Repeat(")", p.Derefs)
}

// BasicBlock represents straight-line statements followed by a terminator.
type BasicBlock struct {
	Statements []Statement
	Terminator Terminator
}

// Statement represents a non-terminating statement in a basic block.
type Statement interface {
	fmt.Stringer
	statement()
}

func (*Assign) statement()      {}
func (*StorageLive) statement() {}
func (*StorageDead) statement() {}
func (*Nop) statement()         {}

// Assign writes the value of Rvalue to Place.
type Assign struct {
	Place  Place
	Rvalue Rvalue
	Span   Span
}

func (s *Assign) String() string { return fmt.Sprintf("%s = %s", s.Place, s.Rvalue) }

// StorageLive marks the beginning of a local's lifetime.
type StorageLive struct {
	Local int
}

func (s *StorageLive) String() string { return fmt.Sprintf("StorageLive(_%d)", s.Local) }

// StorageDead marks the end of a local's lifetime.
type StorageDead struct {
	Local int
}

func (s *StorageDead) String() string { return fmt.Sprintf("StorageDead(_%d)", s.Local) }

// Nop does nothing.
type Nop struct{}

func (s *Nop) String() string { return "nop" }

// Terminator represents the final instruction of a basic block.
type Terminator interface {
	fmt.Stringer
	terminator()
}

func (*Goto) terminator()        {}
func (*SwitchInt) terminator()   {}
func (*Assert) terminator()      {}
func (*Call) terminator()        {}
func (*Return) terminator()      {}
func (*Unreachable) terminator() {}

// Goto unconditionally transfers control to Target.
type Goto struct {
	Target int
}

func (t *Goto) String() string { return fmt.Sprintf("goto -> bb%d", t.Target) }

// SwitchInt transfers control to Targets[i] if Discr equals Values[i].
// The final target is taken when no value matches, so len(Targets) must
// be len(Values)+1.
type SwitchInt struct {
	Discr   Operand
	Values  []int64
	Targets []int
	Span    Span
}

func (t *SwitchInt) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "switchInt(%s) -> [", t.Discr)
	for i, target := range t.Targets {
		if i > 0 {
			buf.WriteString(", ")
		}
		if i < len(t.Values) {
			fmt.Fprintf(&buf, "%d: bb%d", t.Values[i], target)
		} else {
			fmt.Fprintf(&buf, "otherwise: bb%d", target)
		}
	}
	buf.WriteString("]")
	return buf.String()
}

// Assert continues at Target when Cond equals Expected.
type Assert struct {
	Cond     Operand
	Expected bool
	Target   int
	Span     Span
}

func (t *Assert) String() string {
	return fmt.Sprintf("assert(%s == %v) -> bb%d", t.Cond, t.Expected, t.Target)
}

// Call invokes Func and stores its result in Dest before continuing at Next.
// A nil Dest marks a call that never returns.
type Call struct {
	Func string
	Args []Operand
	Dest *Place
	Next int
	Span Span
}

func (t *Call) String() string {
	var buf bytes.Buffer
	if t.Dest != nil {
		fmt.Fprintf(&buf, "%s = ", t.Dest)
	}
	fmt.Fprintf(&buf, "%s(", t.Func)
	for i, arg := range t.Args {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(arg.String())
	}
	buf.WriteString(")")
	if t.Dest != nil {
		fmt.Fprintf(&buf, " -> bb%d", t.Next)
	}
	return buf.String()
}

// Return returns from the function with the value in local 0.
type Return struct{}

func (t *Return) String() string { return "return" }

// Unreachable marks the end of a path that cannot continue, such as a panic.
type Unreachable struct{}

func (t *Unreachable) String() string { return "unreachable" }

// Operand represents a value consumed by an rvalue or terminator.
type Operand interface {
	fmt.Stringer
	operand()
}

func (*Copy) operand()     {}
func (*Move) operand()     {}
func (*Constant) operand() {}

// Copy reads a place without invalidating it.
type Copy struct {
	Place Place
}

func (o *Copy) String() string { return o.Place.String() }

// Move reads a place and invalidates it.
type Move struct {
	Place Place
}

func (o *Move) String() string { return "move " + o.Place.String() }

// Constant represents a scalar literal. Booleans use 0 and 1.
type Constant struct {
	Value int64
	Type  *Type
}

func (o *Constant) String() string {
	if o.Type != nil && o.Type.Kind == TypeBool {
		return fmt.Sprint(o.Value != 0)
	}
	return fmt.Sprintf("const %d_%s", o.Value, o.Type)
}

// Rvalue represents the right-hand side of an assignment.
type Rvalue interface {
	fmt.Stringer
	rvalue()
}

func (*Use) rvalue()      {}
func (*BinaryOp) rvalue() {}
func (*UnaryOp) rvalue()  {}
func (*Cast) rvalue()     {}
func (*Ref) rvalue()      {}

// Use evaluates to its operand.
type Use struct {
	Operand Operand
}

func (r *Use) String() string { return r.Operand.String() }

// BinOp represents a source-level binary operator.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
	BinOffset
)

var binOps = [...]string{
	BinAdd:    "Add",
	BinSub:    "Sub",
	BinMul:    "Mul",
	BinDiv:    "Div",
	BinRem:    "Rem",
	BinEq:     "Eq",
	BinNe:     "Ne",
	BinLt:     "Lt",
	BinLe:     "Le",
	BinGt:     "Gt",
	BinGe:     "Ge",
	BinBitAnd: "BitAnd",
	BinBitOr:  "BitOr",
	BinBitXor: "BitXor",
	BinShl:    "Shl",
	BinShr:    "Shr",
	BinOffset: "Offset",
}

// String returns the name of the operator.
func (op BinOp) String() string {
	if op >= 0 && op < BinOp(len(binOps)) {
		return binOps[op]
	}
	return fmt.Sprintf("BinOp<%d>", op)
}

// BinaryOp applies Op to LHS and RHS.
type BinaryOp struct {
	Op  BinOp
	LHS Operand
	RHS Operand
}

func (r *BinaryOp) String() string { return fmt.Sprintf("%s(%s, %s)", r.Op, r.LHS, r.RHS) }

// UnOp represents a source-level unary operator.
type UnOp int

const (
	UnNot UnOp = iota
	UnNeg
)

// String returns the name of the operator.
func (op UnOp) String() string {
	switch op {
	case UnNot:
		return "Not"
	case UnNeg:
		return "Neg"
	default:
		return fmt.Sprintf("UnOp<%d>", op)
	}
}

// UnaryOp applies Op to Operand.
type UnaryOp struct {
	Op      UnOp
	Operand Operand
}

func (r *UnaryOp) String() string { return fmt.Sprintf("%s(%s)", r.Op, r.Operand) }

// Cast converts Operand to Type.
type Cast struct {
	Operand Operand
	Type    *Type
}

func (r *Cast) String() string { return fmt.Sprintf("%s as %s", r.Operand, r.Type) }

// Ref takes the address of Place.
type Ref struct {
	Place Place
}

func (r *Ref) String() string { return "&" + r.Place.String() }
