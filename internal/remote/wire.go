// Package remote defines the JSON wire shapes shared by the HTTP and AMQP
// bindings of the engine's remote interface (spec §6: "Connection.
// open_remote(uri) / open_bus(service) return a client that forwards to a
// remote engine"), plus the typed-parameter wire format spec §6 specifies
// for prepared statements crossing the process boundary
// ("name:type:value", type one of i/d/b/s).
package remote

import (
	"github.com/quillgraph/quill/internal/engine"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
)

// QueryRequest is the body of POST /query and the AMQP "query" operation.
type QueryRequest struct {
	SPARQL string   `json:"sparql"`
	Params []string `json:"params,omitempty"`
}

// UpdateRequest is the body of POST /update, /update_blank, and the AMQP
// "update"/"update_blank" operations.
type UpdateRequest struct {
	SPARQL string   `json:"sparql"`
	Params []string `json:"params,omitempty"`
}

// SerialiseRequest is the body of POST /serialise.
type SerialiseRequest struct {
	SPARQL string   `json:"sparql"`
	Params []string `json:"params,omitempty"`
	Format string   `json:"format"`
}

// DeserialiseRequest is the body of POST /deserialise.
type DeserialiseRequest struct {
	Format   string `json:"format"`
	Document string `json:"document"`
}

// Value is rdfvalue.Value's wire representation: a kind tag plus whichever
// field that kind uses.
type Value struct {
	Kind string  `json:"kind"`
	Str  string  `json:"str,omitempty"`
	Lang string  `json:"lang,omitempty"`
	Int  int64   `json:"int,omitempty"`
	Flt  float64 `json:"flt,omitempty"`
	Bool bool    `json:"bool,omitempty"`
	Time string  `json:"time,omitempty"`
}

// FromValue converts an internal rdfvalue.Value to its wire form.
func FromValue(v rdfvalue.Value) Value {
	w := Value{}
	switch v.Kind {
	case rdfvalue.KindIRI:
		w.Kind, w.Str = "iri", v.IRI
	case rdfvalue.KindBlank:
		w.Kind, w.Str = "blank", v.IRI
	case rdfvalue.KindString:
		w.Kind, w.Str = "string", v.Str
	case rdfvalue.KindLangString:
		w.Kind, w.Str, w.Lang = "langstring", v.Str, v.Lang
	case rdfvalue.KindInteger:
		w.Kind, w.Int = "integer", v.Int
	case rdfvalue.KindDouble:
		w.Kind, w.Flt = "double", v.Float
	case rdfvalue.KindBoolean:
		w.Kind, w.Bool = "boolean", v.Bool
	case rdfvalue.KindDateTime:
		w.Kind, w.Time = "datetime", v.Time.Format("2006-01-02T15:04:05.999999999Z07:00")
	}
	return w
}

// QueryResult is the JSON shape returned by POST /query.
type QueryResult struct {
	Form  string              `json:"form"`
	Vars  []string            `json:"vars,omitempty"`
	Rows  []map[string]Value  `json:"rows,omitempty"`
	Ask   bool                `json:"ask,omitempty"`
	Graph []WireTriple        `json:"graph,omitempty"`
}

// WireTriple is one CONSTRUCT/DESCRIBE result triple.
type WireTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    Value  `json:"object"`
}

// FromCursor drains cur into a QueryResult.
func FromCursor(cur *engine.Cursor) QueryResult {
	res := QueryResult{}
	switch cur.Form() {
	case sparql.FormSelect:
		res.Form = "select"
		for _, v := range cur.Vars() {
			res.Vars = append(res.Vars, string(v))
		}
		for cur.Next() {
			row := cur.Row()
			wr := make(map[string]Value, len(row))
			for v, val := range row {
				wr[string(v)] = FromValue(val)
			}
			res.Rows = append(res.Rows, wr)
		}
	case sparql.FormAsk:
		res.Form = "ask"
		res.Ask = cur.Ask()
	default:
		res.Form = "graph"
		for _, t := range cur.Graph() {
			res.Graph = append(res.Graph, WireTriple{Subject: t.Subject, Predicate: t.Predicate, Object: FromValue(t.Object)})
		}
	}
	return res
}

// DecodeParams turns a request's wire-format parameter list into the
// map[string]engine.Param Connection.Query/Update expect.
func DecodeParams(wire []string) (map[string]engine.Param, error) {
	if len(wire) == 0 {
		return nil, nil
	}
	out := make(map[string]engine.Param, len(wire))
	for _, s := range wire {
		name, p, err := engine.DecodeWireParam(s)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}
