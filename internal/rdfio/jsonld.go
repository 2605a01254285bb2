package rdfio

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
)

// DecodeJSONLD parses a JSON-LD document (a single node object, or a
// top-level array/@graph of them) into Quads, expanding @context-bound
// compact IRIs the same way internal/sparql.Namespaces does. No pack
// example touches JSON-LD; encoding/json is the obvious, stdlib-sufficient
// choice for this narrow "@context/@id/@type plus flat properties" subset
// spec §6 asks for — there is no JSON-LD expansion/framing algorithm to
// justify a third-party library for.
func DecodeJSONLD(data []byte, prefixes map[string]string) ([]Quad, error) {
	var raw struct {
		Context json.RawMessage  `json:"@context"`
		Graph   []map[string]any `json:"@graph"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, quillerr.New(quillerr.KindParseError, err, "decode JSON-LD document")
	}

	ns := map[string]string{}
	for k, v := range prefixes {
		ns[k] = v
	}
	if len(raw.Context) > 0 {
		var ctx map[string]string
		if err := json.Unmarshal(raw.Context, &ctx); err == nil {
			for k, v := range ctx {
				ns[k] = v
			}
		}
	}

	var nodes []map[string]any
	if raw.Graph != nil {
		nodes = raw.Graph
	} else {
		var single map[string]any
		if err := json.Unmarshal(data, &single); err == nil && single != nil {
			nodes = []map[string]any{single}
		} else {
			var list []map[string]any
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, quillerr.New(quillerr.KindParseError, err, "JSON-LD document is neither an object nor an array of objects")
			}
			nodes = list
		}
	}

	var quads []Quad
	for _, node := range nodes {
		nq, err := decodeJSONLDNode(node, ns)
		if err != nil {
			return nil, err
		}
		quads = append(quads, nq...)
	}
	return quads, nil
}

func decodeJSONLDNode(node map[string]any, ns map[string]string) ([]Quad, error) {
	id, _ := node["@id"].(string)
	if id == "" {
		return nil, quillerr.New(quillerr.KindParseError, nil, "JSON-LD node missing @id")
	}
	id = expandCompact(id, ns)

	var quads []Quad
	if typ, ok := node["@type"].(string); ok {
		quads = append(quads, Quad{
			Subject:   id,
			Predicate: "http://www.w3.org/1999/02/22-rdf-syntax-ns#type",
			Object:    rdfvalue.IRIValue(expandCompact(typ, ns)),
		})
	}
	for key, val := range node {
		if key == "@id" || key == "@type" || key == "@context" {
			continue
		}
		pred := expandCompact(key, ns)
		values, _ := val.([]any)
		if values == nil {
			values = []any{val}
		}
		for _, v := range values {
			obj, err := decodeJSONLDValue(v, ns)
			if err != nil {
				return nil, err
			}
			quads = append(quads, Quad{Subject: id, Predicate: pred, Object: obj})
		}
	}
	return quads, nil
}

func decodeJSONLDValue(v any, ns map[string]string) (rdfvalue.Value, error) {
	switch t := v.(type) {
	case string:
		return rdfvalue.StringValue(t), nil
	case float64:
		if t == float64(int64(t)) {
			return rdfvalue.IntegerValue(int64(t)), nil
		}
		return rdfvalue.DoubleValue(t), nil
	case bool:
		return rdfvalue.BooleanValue(t), nil
	case map[string]any:
		if ref, ok := t["@id"].(string); ok {
			return rdfvalue.IRIValue(expandCompact(ref, ns)), nil
		}
		val, _ := t["@value"].(string)
		if lang, ok := t["@language"].(string); ok {
			return rdfvalue.LangStringValue(val, lang), nil
		}
		return rdfvalue.StringValue(val), nil
	default:
		return rdfvalue.Value{}, quillerr.New(quillerr.KindTypeMismatch, nil, "unsupported JSON-LD value %v", v)
	}
}

func expandCompact(s string, ns map[string]string) string {
	if strings.Contains(s, "://") {
		return s
	}
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return s
	}
	prefix, local := s[:idx], s[idx+1:]
	if full, ok := ns[prefix]; ok {
		return full + local
	}
	return s
}

// encodeJSONLD writes quads as a JSON-LD document: one node object per
// subject, @context built from ns, properties grouped by predicate (single
// value when a predicate occurs once per subject, an array otherwise).
func encodeJSONLD(w interface{ Write([]byte) (int, error) }, quads []Quad, ns Namespaces) error {
	type subj struct {
		typ   string
		props map[string][]any
		order []string
	}
	bySubj := map[string]*subj{}
	var subjOrder []string
	const rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

	for _, q := range quads {
		s, ok := bySubj[q.Subject]
		if !ok {
			s = &subj{props: map[string][]any{}}
			bySubj[q.Subject] = s
			subjOrder = append(subjOrder, q.Subject)
		}
		if q.Predicate == rdfType && q.Object.Kind == rdfvalue.KindIRI {
			s.typ = ns.Compress(q.Object.IRI)
			continue
		}
		key := ns.Compress(q.Predicate)
		if _, seen := s.props[key]; !seen {
			s.order = append(s.order, key)
		}
		s.props[key] = append(s.props[key], jsonldScalar(q.Object, ns))
	}

	var nodes []map[string]any
	for _, id := range subjOrder {
		s := bySubj[id]
		node := map[string]any{"@id": id}
		if s.typ != "" {
			node["@type"] = s.typ
		}
		for _, key := range s.order {
			vals := s.props[key]
			if len(vals) == 1 {
				node[key] = vals[0]
			} else {
				node[key] = vals
			}
		}
		nodes = append(nodes, node)
	}

	doc := map[string]any{"@context": ns.Snapshot(), "@graph": nodes}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("rdfio: encode JSON-LD: %w", err)
	}
	return nil
}

func jsonldScalar(v rdfvalue.Value, ns Namespaces) any {
	switch v.Kind {
	case rdfvalue.KindIRI:
		return map[string]any{"@id": ns.Compress(v.IRI)}
	case rdfvalue.KindBlank:
		return map[string]any{"@id": "_:" + v.IRI}
	case rdfvalue.KindString:
		return v.Str
	case rdfvalue.KindLangString:
		return map[string]any{"@value": v.Str, "@language": v.Lang}
	case rdfvalue.KindInteger:
		return v.Int
	case rdfvalue.KindDouble:
		return v.Float
	case rdfvalue.KindBoolean:
		return v.Bool
	case rdfvalue.KindDateTime:
		return v.Time.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	default:
		return nil
	}
}
