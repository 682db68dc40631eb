// Package report formats analysis results as text, JSON, Markdown or HTML.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/benbjohnson/nilsym"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/util"
)

// Report represents the results of analyzing a set of functions.
type Report struct {
	Results []*nilsym.Result
}

// Findings returns all findings ordered by function and site.
func (r *Report) Findings() []*nilsym.Finding {
	var a []*nilsym.Finding
	for _, result := range r.Results {
		a = append(a, result.Findings...)
	}
	sort.SliceStable(a, func(i, j int) bool {
		if a[i].Function != a[j].Function {
			return a[i].Function < a[j].Function
		}
		return a[i].Site.Line < a[j].Site.Line
	})
	return a
}

// Unsupported returns results for functions that could not be analyzed.
func (r *Report) Unsupported() []*nilsym.Result {
	var a []*nilsym.Result
	for _, result := range r.Results {
		if result.Err != nil {
			a = append(a, result)
		}
	}
	return a
}

// Unknowns returns all undecided dereferences.
func (r *Report) Unknowns() []*nilsym.Unknown {
	var a []*nilsym.Unknown
	for _, result := range r.Results {
		a = append(a, result.Unknowns...)
	}
	return a
}

// Incomplete returns the names of functions whose exploration was cut short
// by the unroll bound.
func (r *Report) Incomplete() []string {
	var a []string
	for _, result := range r.Results {
		if result.Incomplete {
			a = append(a, result.Function.Name)
		}
	}
	return a
}

// Writer writes a report to an output stream.
type Writer interface {
	WriteReport(w io.Writer, r *Report) error
}

// NewWriter returns a writer by format name: "text", "json", "markdown" or "html".
func NewWriter(format string) (Writer, error) {
	switch format {
	case "", "text":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{Indent: "  "}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	case "html":
		return &HTMLWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown report format: %q", format)
	}
}

// TextWriter writes one line per finding followed by a summary.
type TextWriter struct{}

// WriteReport writes r to w.
func (*TextWriter) WriteReport(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, f := range r.Findings() {
		fmt.Fprintf(tw, "%s:\t%s in %s\t[%s]\n", f.Site, f.Kind, f.Function, witnessString(f.Witness))
	}
	for _, u := range r.Unknowns() {
		fmt.Fprintf(tw, "%s:\tundecided in %s\t(%s)\n", u.Site, u.Function, u.Err)
	}
	for _, result := range r.Unsupported() {
		fmt.Fprintf(tw, "%s:\tskipped %s\t(%s)\n", result.Function.Span, result.Function.Name, result.Err)
	}
	for _, name := range r.Incomplete() {
		fmt.Fprintf(tw, "-\tincomplete %s\t(unroll bound reached)\n", name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d functions, %d findings, %d undecided, %d skipped\n",
		len(r.Results), len(r.Findings()), len(r.Unknowns()), len(r.Unsupported()))
	return err
}

// JSONWriter writes the report as a single JSON document.
type JSONWriter struct {
	Indent string
}

// jsonReport is the JSON document layout.
type jsonReport struct {
	Findings    []*nilsym.Finding `json:"findings"`
	Unknowns    []jsonProblem     `json:"unknowns"`
	Unsupported []jsonProblem     `json:"unsupported"`
	Incomplete  []string          `json:"incomplete"`
	Stats       []jsonStats       `json:"stats"`
}

type jsonProblem struct {
	Function string      `json:"function"`
	Span     nilsym.Span `json:"span"`
	Error    string      `json:"error"`
}

type jsonStats struct {
	Function string `json:"function"`
	nilsym.Stats
}

// WriteReport writes r to w.
func (jw *JSONWriter) WriteReport(w io.Writer, r *Report) error {
	doc := jsonReport{
		Findings:    r.Findings(),
		Unknowns:    []jsonProblem{},
		Unsupported: []jsonProblem{},
		Incomplete:  r.Incomplete(),
	}
	if doc.Findings == nil {
		doc.Findings = []*nilsym.Finding{}
	}
	if doc.Incomplete == nil {
		doc.Incomplete = []string{}
	}
	for _, u := range r.Unknowns() {
		doc.Unknowns = append(doc.Unknowns, jsonProblem{Function: u.Function, Span: u.Site, Error: u.Err.Error()})
	}
	for _, result := range r.Unsupported() {
		doc.Unsupported = append(doc.Unsupported, jsonProblem{Function: result.Function.Name, Span: result.Function.Span, Error: result.Err.Error()})
	}
	for _, result := range r.Results {
		doc.Stats = append(doc.Stats, jsonStats{Function: result.Function.Name, Stats: result.Stats})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", jw.Indent)
	return enc.Encode(doc)
}

// MarkdownWriter writes the report as a Markdown document.
type MarkdownWriter struct{}

// WriteReport writes r to w.
func (*MarkdownWriter) WriteReport(w io.Writer, r *Report) error {
	var buf bytes.Buffer
	buf.WriteString("# Null dereference report\n\n")

	findings := r.Findings()
	fmt.Fprintf(&buf, "%d functions analyzed, %d findings.\n\n", len(r.Results), len(findings))

	if len(findings) > 0 {
		buf.WriteString("## Findings\n\n")
		buf.WriteString("| Site | Function | Witness |\n")
		buf.WriteString("|---|---|---|\n")
		for _, f := range findings {
			fmt.Fprintf(&buf, "| `%s` | `%s` | `%s` |\n", f.Site, f.Function, witnessString(f.Witness))
		}
		buf.WriteString("\n")
	}

	if unknowns := r.Unknowns(); len(unknowns) > 0 {
		buf.WriteString("## Undecided\n\n")
		for _, u := range unknowns {
			fmt.Fprintf(&buf, "- `%s` in `%s`: %s\n", u.Site, u.Function, u.Err)
		}
		buf.WriteString("\n")
	}

	if unsupported := r.Unsupported(); len(unsupported) > 0 {
		buf.WriteString("## Skipped\n\n")
		for _, result := range unsupported {
			fmt.Fprintf(&buf, "- `%s`: %s\n", result.Function.Name, result.Err)
		}
		buf.WriteString("\n")
	}

	if incomplete := r.Incomplete(); len(incomplete) > 0 {
		buf.WriteString("## Incomplete\n\n")
		buf.WriteString("The unroll bound was reached in these functions, so some paths were not explored.\n\n")
		for _, name := range incomplete {
			fmt.Fprintf(&buf, "- `%s`\n", name)
		}
		buf.WriteString("\n")
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// HTMLWriter renders the Markdown report as an HTML page.
type HTMLWriter struct {
	Title string
}

// WriteReport writes r to w.
func (hw *HTMLWriter) WriteReport(w io.Writer, r *Report) error {
	var src bytes.Buffer
	if err := (&MarkdownWriter{}).WriteReport(&src, r); err != nil {
		return err
	}

	title := hw.Title
	if title == "" {
		title = "nilsym"
	}

	var body bytes.Buffer
	if err := newMarkdown().Convert(src.Bytes(), &body); err != nil {
		return errors.Wrap(err, "render markdown")
	}

	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		util.EscapeHTML([]byte(title)), body.String())
	return err
}

// newMarkdown returns a converter with table support enabled.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.Table))
}

// witnessString returns the witness as "p = 0, n = 1".
func witnessString(bindings []nilsym.Binding) string {
	w := nilsym.Witness{Bindings: bindings}
	return w.String()
}
