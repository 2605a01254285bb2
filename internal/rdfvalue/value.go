// Package rdfvalue is the typed-value representation shared by the triple
// mapper, the SPARQL front end/planner, and the RDF codecs — spec §3's
// object side of a triple (a resource reference, or one of the primitive
// ranges: string, integer, double, boolean, date-time, language-tagged
// string).
package rdfvalue

import (
	"fmt"
	"strconv"
	"time"
)

// Kind discriminates which field of Value is meaningful.
type Kind int

const (
	KindIRI Kind = iota
	KindBlank
	KindString
	KindLangString
	KindInteger
	KindDouble
	KindBoolean
	KindDateTime
)

// Value is a tagged union over every value an RDF term can take.
type Value struct {
	Kind Kind

	IRI   string // KindIRI / KindBlank (blank label, without "_:")
	Str   string // KindString / KindLangString
	Lang  string // KindLangString
	Int   int64  // KindInteger
	Float float64
	Bool  bool
	Time  time.Time
}

func IRIValue(iri string) Value     { return Value{Kind: KindIRI, IRI: iri} }
func BlankValue(label string) Value { return Value{Kind: KindBlank, IRI: label} }
func StringValue(s string) Value    { return Value{Kind: KindString, Str: s} }
func LangStringValue(s, lang string) Value {
	return Value{Kind: KindLangString, Str: s, Lang: lang}
}
func IntegerValue(i int64) Value   { return Value{Kind: KindInteger, Int: i} }
func DoubleValue(f float64) Value  { return Value{Kind: KindDouble, Float: f} }
func BooleanValue(b bool) Value    { return Value{Kind: KindBoolean, Bool: b} }
func DateTimeValue(t time.Time) Value { return Value{Kind: KindDateTime, Time: t} }

// IsResource reports whether this value names a resource (IRI or blank
// node) rather than holding a primitive literal.
func (v Value) IsResource() bool { return v.Kind == KindIRI || v.Kind == KindBlank }

// DBParam returns the driver value this should be bound as when stored in
// a primitive-typed column.
func (v Value) DBParam() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindLangString:
		return v.Str + "@" + v.Lang
	case KindInteger:
		return v.Int
	case KindDouble:
		return v.Float
	case KindBoolean:
		if v.Bool {
			return int64(1)
		}
		return int64(0)
	case KindDateTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// Canonical returns a string uniquely identifying this value for
// transaction-scoped cardinality comparisons (spec property 4: "two
// distinct non-deletion inserts... carry the same value").
func (v Value) Canonical() string {
	switch v.Kind {
	case KindIRI:
		return "iri:" + v.IRI
	case KindBlank:
		return "blank:" + v.IRI
	case KindString:
		return "str:" + v.Str
	case KindLangString:
		return "lstr:" + v.Str + "@" + v.Lang
	case KindInteger:
		return "int:" + strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return "dbl:" + strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBoolean:
		return "bool:" + strconv.FormatBool(v.Bool)
	case KindDateTime:
		return "dt:" + v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindIRI:
		return "<" + v.IRI + ">"
	case KindBlank:
		return "_:" + v.IRI
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindLangString:
		return fmt.Sprintf("%q@%s", v.Str, v.Lang)
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindDateTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// EncodeLiteral renders a primitive-kind value to the flat string form the
// journal frame and the wire binding format both use.
func EncodeLiteral(v Value) string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindLangString:
		return v.Str + "@" + v.Lang
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindDateTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// DecodeLiteral parses the flat string form back into a typed Value of the
// given primitive kind.
func DecodeLiteral(kind Kind, s string) (Value, error) {
	switch kind {
	case KindString:
		return StringValue(s), nil
	case KindLangString:
		for i := len(s) - 1; i >= 0; i-- {
			if s[i] == '@' {
				return LangStringValue(s[:i], s[i+1:]), nil
			}
		}
		return LangStringValue(s, ""), nil
	case KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("rdfvalue: cannot decode %q as integer: %w", s, err)
		}
		return IntegerValue(n), nil
	case KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("rdfvalue: cannot decode %q as double: %w", s, err)
		}
		return DoubleValue(f), nil
	case KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("rdfvalue: cannot decode %q as boolean: %w", s, err)
		}
		return BooleanValue(b), nil
	case KindDateTime:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, fmt.Errorf("rdfvalue: cannot decode %q as datetime: %w", s, err)
		}
		return DateTimeValue(t), nil
	default:
		return Value{}, fmt.Errorf("rdfvalue: unsupported literal kind %v", kind)
	}
}

// RangeKindOf maps an ontology primitive-range name to the matching Kind.
// Defined here (rather than importing ontology, which would cycle back
// through storage) as a tiny string switch the triple mapper and planner
// both call with the ontology descriptor's RangeKind string value.
func RangeKindOf(name string) Kind {
	switch name {
	case "integer":
		return KindInteger
	case "double":
		return KindDouble
	case "boolean":
		return KindBoolean
	case "datetime":
		return KindDateTime
	case "langString":
		return KindLangString
	default:
		return KindString
	}
}

// FromColumn decodes a raw database value (as returned by database/sql) into
// a typed Value of the given primitive kind. For object properties, decode
// the id separately and use IRIValue/BlankValue after a resource lookup.
func FromColumn(kind Kind, raw interface{}) (Value, error) {
	switch kind {
	case KindString:
		s, _ := raw.(string)
		return StringValue(s), nil
	case KindLangString:
		s, _ := raw.(string)
		for i := len(s) - 1; i >= 0; i-- {
			if s[i] == '@' {
				return LangStringValue(s[:i], s[i+1:]), nil
			}
		}
		return LangStringValue(s, ""), nil
	case KindInteger:
		switch n := raw.(type) {
		case int64:
			return IntegerValue(n), nil
		case float64:
			return IntegerValue(int64(n)), nil
		}
		return Value{}, fmt.Errorf("rdfvalue: cannot decode %T as integer", raw)
	case KindDouble:
		switch n := raw.(type) {
		case float64:
			return DoubleValue(n), nil
		case int64:
			return DoubleValue(float64(n)), nil
		}
		return Value{}, fmt.Errorf("rdfvalue: cannot decode %T as double", raw)
	case KindBoolean:
		switch n := raw.(type) {
		case int64:
			return BooleanValue(n != 0), nil
		case bool:
			return BooleanValue(n), nil
		}
		return Value{}, fmt.Errorf("rdfvalue: cannot decode %T as boolean", raw)
	case KindDateTime:
		s, _ := raw.(string)
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, fmt.Errorf("rdfvalue: cannot decode %q as datetime: %w", s, err)
		}
		return DateTimeValue(t), nil
	default:
		return Value{}, fmt.Errorf("rdfvalue: unsupported column kind %v", kind)
	}
}
