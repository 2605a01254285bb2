// Package rdfio implements the streaming Turtle/TriG import and export
// named by spec §4.4/§6 ("Deserialise(stream, format)", "Connection.
// serialise(query, format) → stream") plus a JSON-LD codec for the third
// format §6 lists. No example in the retrieved pack parses or serialises
// RDF, so the lexer/parser shape here is original, grounded on the
// sibling internal/sparql front end's own hand-rolled, parser-generator-
// free recursive descent (byte-offset tokens feeding quillerr.ParseError)
// rather than introducing a different style for a closely related grammar.
package rdfio

import (
	"github.com/quillgraph/quill/internal/rdfvalue"
)

// Format names one of the three serialisations spec §6 recognises.
type Format string

const (
	FormatTurtle Format = "turtle"
	FormatTriG   Format = "trig"
	FormatJSONLD Format = "json-ld"
)

// Quad is one parsed or to-be-written statement. Graph is "" for the
// default graph.
type Quad struct {
	Graph     string
	Subject   string
	Predicate string
	Object    rdfvalue.Value
}
