package nilsym

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NullDereference is the kind of every finding produced by the synthesizer.
const NullDereference = "Null Dereference"

// Finding represents a reachable dereference of a pointer equal to zero.
type Finding struct {
	Kind     string    `json:"kind"`
	Function string    `json:"function"`
	Span     Span      `json:"span"`
	Site     Span      `json:"site"`
	Witness  []Binding `json:"witness"`

	Name Name   `json:"-"`
	Node NodeID `json:"-"`
}

// Unknown represents a dereference whose reachability could not be decided.
type Unknown struct {
	Function string
	Site     Span
	Node     NodeID
	Err      error
}

// Synthesizer turns dereference tags in a constraint graph into findings.
type Synthesizer struct {
	Solver Solver
	Logger *logrus.Entry
}

// NewSynthesizer returns a new instance of Synthesizer.
func NewSynthesizer(s Solver) *Synthesizer {
	return &Synthesizer{
		Solver: s,
		Logger: logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Synthesize queries, for every dereference tag in g, whether the pointer can
// be zero on the path to the dereferencing node.
//
// Solver failures are returned as unknowns. Only a canceled ctx aborts the
// whole synthesis. Once a source site has a finding, further tags at the
// same site are never queried, so they produce neither a finding nor an
// Unknown.
func (syn *Synthesizer) Synthesize(ctx context.Context, fn *Function, g *Graph, root NodeID) ([]*Finding, []*Unknown, error) {
	var findings []*Finding
	var unknowns []*Unknown
	reported := make(map[Span]bool)

	for _, decl := range g.Declarations() {
		for _, prop := range decl.DerefProperties() {
			if err := ctx.Err(); err != nil {
				return findings, unknowns, err
			} else if prop.Span.IsValid() && reported[prop.Span] {
				continue
			}

			log := syn.Logger.WithFields(logrus.Fields{"fn": fn.Name, "name": decl.Name, "node": prop.Node})
			witness, err := Check(ctx, syn.Solver, g, root,
				NewIsZeroExpr(decl.Expr()),
				g.PathConstraint(prop.Node),
			)
			if err != nil {
				if ctx.Err() != nil {
					return findings, unknowns, ctx.Err()
				}
				log.WithError(err).Warn("[synth] unable to determine")
				unknowns = append(unknowns, &Unknown{Function: fn.Name, Site: prop.Span, Node: prop.Node, Err: err})
				continue
			} else if witness == nil {
				log.Debug("[synth] unsat")
				continue
			}

			log.Debugf("[synth] sat: %s", witness)
			findings = append(findings, &Finding{
				Kind:     NullDereference,
				Function: fn.Name,
				Span:     fn.Span,
				Site:     prop.Span,
				Witness:  witness.Bindings,
				Name:     decl.Name,
				Node:     prop.Node,
			})
			reported[prop.Span] = true
		}
	}
	return findings, unknowns, nil
}
