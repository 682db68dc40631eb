package nilsym

import (
	"fmt"
	"strconv"
	"strings"
)

// Name is a unique symbolic value identifier. Names are allocated by the
// constraint graph and never reused within one analysis run.
type Name uint64

// String returns the solver label for the name, e.g. "x12".
func (n Name) String() string {
	return "x" + strconv.FormatUint(uint64(n), 10)
}

// ParseName parses a solver label produced by Name.String.
func ParseName(s string) (Name, error) {
	if !strings.HasPrefix(s, "x") {
		return 0, fmt.Errorf("invalid name: %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid name: %q", s)
	}
	return Name(n), nil
}

// Sort represents the logical type of a symbolic value.
type Sort int

const (
	SortInt Sort = iota
	SortBool
)

// String returns the SMT-LIB2 sort name.
func (s Sort) String() string {
	switch s {
	case SortInt:
		return "Int"
	case SortBool:
		return "Bool"
	default:
		return fmt.Sprintf("Sort<%d>", int(s))
	}
}

// Declaration holds the sort and analysis facts for a single name.
type Declaration struct {
	Name       Name
	Sort       Sort
	Properties []Property
	Origin     *Origin
}

// Expr returns an expression referencing the declared name.
func (d *Declaration) Expr() *NameExpr {
	return NewNameExpr(d.Name, d.Sort)
}

// DerefProperties returns all dereference tags in insertion order.
func (d *Declaration) DerefProperties() []*DerefProperty {
	var a []*DerefProperty
	for _, prop := range d.Properties {
		if prop, ok := prop.(*DerefProperty); ok {
			a = append(a, prop)
		}
	}
	return a
}

// IsDerefedAt returns true if the name is tagged as dereferenced at node.
func (d *Declaration) IsDerefedAt(node NodeID) bool {
	for _, prop := range d.DerefProperties() {
		if prop.Node == node {
			return true
		}
	}
	return false
}

// Property represents an analysis fact attached to a declaration.
type Property interface {
	property()
}

func (*DerefProperty) property() {}

// DerefProperty records that a name was dereferenced while building Node.
type DerefProperty struct {
	Node NodeID
	Span Span
}

// Origin records the entry function parameter that a name was bound to.
type Origin struct {
	Function string
	Local    int
	Label    string
}
