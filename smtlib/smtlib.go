// Package smtlib prints queries as SMT-LIB2 scripts and solves them with an
// external solver process.
package smtlib

import (
	"bufio"
	"fmt"
	"io"

	"github.com/benbjohnson/nilsym"
)

// WriteQuery writes the declarations and assertions of q followed by a
// (check-sat) command.
func WriteQuery(w io.Writer, q *nilsym.Query) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "(set-option :produce-models true)")
	for _, decl := range q.Declarations {
		fmt.Fprintf(bw, "(declare-const %s %s)\n", decl.Name, decl.Sort)
	}
	for _, expr := range q.Assertions {
		fmt.Fprintf(bw, "(assert %s)\n", expr)
	}
	fmt.Fprintln(bw, "(check-sat)")
	return bw.Flush()
}

// writeGetValue writes a (get-value) command for every declared name.
func writeGetValue(w io.Writer, decls []*nilsym.Declaration) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("(get-value (")
	for i, decl := range decls {
		if i > 0 {
			bw.WriteByte(' ')
		}
		bw.WriteString(decl.Name.String())
	}
	bw.WriteString("))\n")
	return bw.Flush()
}
