package rdfio

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/quillgraph/quill/internal/rdfvalue"
)

// Encode writes quads to w in the given format. Quads are grouped by graph
// and sorted by subject and predicate; each triple is written as its own
// full `s p o .` statement (no `;`/`,` lists). The order is cosmetic; correctness
// only requires graph-isomorphism (spec testable property 1), not a
// specific layout. Quads whose Graph is "" go to the default graph; any
// other graph is wrapped in a TriG GRAPH block when format is FormatTriG,
// and silently flattened into the default graph when format is
// FormatTurtle (Turtle itself has no named-graph syntax).
func Encode(w io.Writer, format Format, quads []Quad, ns Namespaces) error {
	switch format {
	case FormatTurtle, FormatTriG:
		return encodeTurtleLike(w, format, quads, ns)
	case FormatJSONLD:
		return encodeJSONLD(w, quads, ns)
	default:
		return fmt.Errorf("rdfio: unsupported export format %q", format)
	}
}

// Namespaces is the subset of internal/sparql.Namespaces the encoder needs
// to compress IRIs to prefixed names; kept as an interface here so rdfio
// doesn't import internal/sparql (which would cycle back through rdfio's
// own callers in internal/engine).
type Namespaces interface {
	Compress(iri string) string
	Snapshot() map[string]string
}

func encodeTurtleLike(w io.Writer, format Format, quads []Quad, ns Namespaces) error {
	bw := bufio.NewWriter(w)
	for prefix, iri := range ns.Snapshot() {
		fmt.Fprintf(bw, "@prefix %s: <%s> .\n", prefix, iri)
	}
	bw.WriteByte('\n')

	byGraph := map[string][]Quad{}
	var graphOrder []string
	for _, q := range quads {
		g := q.Graph
		if format == FormatTurtle {
			g = ""
		}
		if _, ok := byGraph[g]; !ok {
			graphOrder = append(graphOrder, g)
		}
		byGraph[g] = append(byGraph[g], q)
	}
	sort.Strings(graphOrder)

	for _, g := range graphOrder {
		if g != "" {
			fmt.Fprintf(bw, "GRAPH <%s> {\n", g)
		}
		if err := writeTriples(bw, byGraph[g], ns); err != nil {
			return err
		}
		if g != "" {
			bw.WriteString("}\n")
		}
	}
	return bw.Flush()
}

func writeTriples(bw *bufio.Writer, quads []Quad, ns Namespaces) error {
	sort.Slice(quads, func(i, j int) bool {
		if quads[i].Subject != quads[j].Subject {
			return quads[i].Subject < quads[j].Subject
		}
		return quads[i].Predicate < quads[j].Predicate
	})
	for _, q := range quads {
		fmt.Fprintf(bw, "%s %s %s .\n", termRef(q.Subject, ns), termRef(q.Predicate, ns), literalRef(q.Object, ns))
	}
	return nil
}

func termRef(iri string, ns Namespaces) string {
	if compressed := ns.Compress(iri); compressed != iri {
		return compressed
	}
	return "<" + iri + ">"
}

func literalRef(v rdfvalue.Value, ns Namespaces) string {
	switch v.Kind {
	case rdfvalue.KindIRI:
		return termRef(v.IRI, ns)
	case rdfvalue.KindBlank:
		return "_:" + v.IRI
	case rdfvalue.KindString:
		return strconv.Quote(v.Str)
	case rdfvalue.KindLangString:
		return strconv.Quote(v.Str) + "@" + v.Lang
	case rdfvalue.KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case rdfvalue.KindDouble:
		// Force a decimal point so the reader lexes it back as a double.
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case rdfvalue.KindBoolean:
		return strconv.FormatBool(v.Bool)
	case rdfvalue.KindDateTime:
		return strconv.Quote(v.Time.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")) + `^^<http://www.w3.org/2001/XMLSchema#dateTime>`
	default:
		return `""`
	}
}
