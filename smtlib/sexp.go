package smtlib

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"strings"
	"unicode"

	"github.com/benbjohnson/nilsym"
	"github.com/pkg/errors"
)

// Sexp represents a parsed s-expression: either an atom or a list.
type Sexp struct {
	Atom   string
	List   []Sexp
	IsList bool
}

// String returns the s-expression in source form.
func (e Sexp) String() string {
	if !e.IsList {
		return e.Atom
	}
	a := make([]string, len(e.List))
	for i := range e.List {
		a[i] = e.List[i].String()
	}
	return "(" + strings.Join(a, " ") + ")"
}

// Reader reads s-expressions from a solver's output stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a new instance of Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadSexp reads the next complete s-expression.
func (r *Reader) ReadSexp() (Sexp, error) {
	if err := r.skipSpace(); err != nil {
		return Sexp{}, err
	}

	ch, _, err := r.r.ReadRune()
	if err != nil {
		return Sexp{}, err
	}

	switch ch {
	case '(':
		list := Sexp{IsList: true, List: []Sexp{}}
		for {
			if err := r.skipSpace(); err != nil {
				return Sexp{}, err
			}
			if ch, _, err := r.r.ReadRune(); err != nil {
				return Sexp{}, err
			} else if ch == ')' {
				return list, nil
			}
			r.r.UnreadRune()

			elem, err := r.ReadSexp()
			if err != nil {
				return Sexp{}, err
			}
			list.List = append(list.List, elem)
		}
	case ')':
		return Sexp{}, errors.New("unexpected ')'")
	case '"':
		return r.readString()
	default:
		r.r.UnreadRune()
		return r.readSymbol()
	}
}

func (r *Reader) skipSpace() error {
	for {
		ch, _, err := r.r.ReadRune()
		if err != nil {
			return err
		} else if ch == ';' {
			if _, err := r.r.ReadString('\n'); err != nil {
				return err
			}
			continue
		} else if !unicode.IsSpace(ch) {
			return r.r.UnreadRune()
		}
	}
}

// readString reads a quoted string. A doubled quote is an escaped quote.
func (r *Reader) readString() (Sexp, error) {
	var sb strings.Builder
	sb.WriteByte('"')
	for {
		ch, _, err := r.r.ReadRune()
		if err == io.EOF {
			return Sexp{}, io.ErrUnexpectedEOF
		} else if err != nil {
			return Sexp{}, err
		}

		sb.WriteRune(ch)
		if ch != '"' {
			continue
		}
		if next, _, err := r.r.ReadRune(); err == nil && next == '"' {
			sb.WriteRune(next)
			continue
		} else if err == nil {
			r.r.UnreadRune()
		}
		return Sexp{Atom: sb.String()}, nil
	}
}

func (r *Reader) readSymbol() (Sexp, error) {
	var sb strings.Builder
	for {
		ch, _, err := r.r.ReadRune()
		if err == io.EOF && sb.Len() > 0 {
			break
		} else if err != nil {
			return Sexp{}, err
		} else if unicode.IsSpace(ch) || ch == '(' || ch == ')' {
			r.r.UnreadRune()
			break
		}
		sb.WriteRune(ch)
	}
	return Sexp{Atom: sb.String()}, nil
}

// Unquote returns the contents of a string atom.
func (e Sexp) Unquote() string {
	if s := e.Atom; len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.Replace(s[1:len(s)-1], `""`, `"`, -1)
	}
	return e.Atom
}

// ParseValue parses a model value of the given sort, such as "12",
// "(- 3)" or "true".
func ParseValue(e Sexp, sort nilsym.Sort) (*nilsym.ConstantExpr, error) {
	if sort == nilsym.SortBool {
		switch e.Atom {
		case "true":
			return nilsym.NewBoolConstantExpr(true), nil
		case "false":
			return nilsym.NewBoolConstantExpr(false), nil
		}
		return nil, fmt.Errorf("invalid Bool value: %s", e)
	}

	if e.IsList {
		if len(e.List) != 2 || e.List[0].Atom != "-" {
			return nil, fmt.Errorf("invalid Int value: %s", e)
		}
		v, err := ParseValue(e.List[1], sort)
		if err != nil {
			return nil, err
		}
		return v.Neg(), nil
	}

	v, ok := new(big.Int).SetString(e.Atom, 10)
	if !ok {
		return nil, fmt.Errorf("invalid Int value: %s", e)
	}
	return nilsym.NewBigIntConstantExpr(v), nil
}
