package engine

import (
	"strconv"
	"strings"
	"time"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/sparql"
)

// ParamKind names one of the six typed parameter shapes spec §6 allows
// for prepared statements: "int, double, bool, string, iri, datetime".
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamDouble
	ParamBool
	ParamString
	ParamIRI
	ParamDateTime
)

// Param is one bound value for a named parameter, as produced by
// Statement.bind_{int,double,bool,string} or by decoding the
// "name:type:value" remote wire format.
type Param struct {
	Kind ParamKind
	Int  int64
	Flt  float64
	Bool bool
	Str  string
	Time time.Time
}

// ParamInt64 builds an integer parameter.
func ParamInt64(v int64) Param { return Param{Kind: ParamInt, Int: v} }

// ParamFloat64 builds a double parameter.
func ParamFloat64(v float64) Param { return Param{Kind: ParamDouble, Flt: v} }

// ParamBoolean builds a boolean parameter.
func ParamBoolean(v bool) Param { return Param{Kind: ParamBool, Bool: v} }

// ParamText builds a string parameter.
func ParamText(v string) Param { return Param{Kind: ParamString, Str: v} }

// ParamResource builds an IRI parameter.
func ParamResource(v string) Param { return Param{Kind: ParamIRI, Str: v} }

// ParamTimestamp builds a datetime parameter.
func ParamTimestamp(v time.Time) Param { return Param{Kind: ParamDateTime, Time: v} }

// literal renders the parameter as SPARQL source text, in the position a
// bound variable previously occupied.
func (p Param) literal() string {
	switch p.Kind {
	case ParamInt:
		return strconv.FormatInt(p.Int, 10)
	case ParamDouble:
		return strconv.FormatFloat(p.Flt, 'g', -1, 64)
	case ParamBool:
		return strconv.FormatBool(p.Bool)
	case ParamString:
		return strconv.Quote(p.Str)
	case ParamIRI:
		return "<" + p.Str + ">"
	case ParamDateTime:
		return strconv.Quote(p.Time.UTC().Format(time.RFC3339Nano)) + `^^xsd:dateTime`
	default:
		return strconv.Quote(p.Str)
	}
}

// DecodeWireParam parses spec §6's remote parameter wire format
// "name:type:value" (type one of i, d, b, s) into a name and Param, used
// by internal/remote when a request crosses the process boundary.
func DecodeWireParam(s string) (string, Param, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", Param{}, quillerr.New(quillerr.KindParseError, nil, "malformed parameter %q, want name:type:value", s)
	}
	name, kind, raw := parts[0], parts[1], parts[2]
	switch kind {
	case "i":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", Param{}, quillerr.New(quillerr.KindTypeMismatch, err, "parameter %q is not a valid integer", name)
		}
		return name, ParamInt64(n), nil
	case "d":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", Param{}, quillerr.New(quillerr.KindTypeMismatch, err, "parameter %q is not a valid double", name)
		}
		return name, ParamFloat64(f), nil
	case "b":
		b := len(raw) > 0 && (raw[0] == 't' || raw[0] == 'T' || raw[0] == '1')
		return name, ParamBoolean(b), nil
	case "s":
		return name, ParamText(raw), nil
	default:
		return "", Param{}, quillerr.New(quillerr.KindTypeMismatch, nil, "parameter %q has unknown wire type %q", name, kind)
	}
}

// substituteParams rewrites every ?name/$name token bound in params into
// its literal text in one forward pass, copying the source between bound
// tokens unchanged into a new string. Parameters are a
// textual splice rather than a parser feature: spec §6 treats prepared
// statements as ordinary SPARQL text with named holes, and
// sparql.Tokenize already gives every variable token its byte offset, so
// there is no need to thread binding state through the parser itself.
func substituteParams(src string, params map[string]Param) (string, error) {
	if len(params) == 0 {
		return src, nil
	}
	toks := sparql.Tokenize(src)
	var b strings.Builder
	cursor := 0
	for _, tok := range toks {
		if tok.Kind != sparql.TokVariable {
			continue
		}
		// Token text carries the bare name; the byte at Offset is the ?/$
		// sigil, so the source span is one byte longer than the text.
		p, ok := params[tok.Text]
		if !ok {
			continue
		}
		b.WriteString(src[cursor:tok.Offset])
		b.WriteString(p.literal())
		cursor = tok.Offset + 1 + len(tok.Text)
	}
	if cursor == 0 {
		return src, nil
	}
	b.WriteString(src[cursor:])
	return b.String(), nil
}
