package plan

import (
	"context"

	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/resource"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/storage"
)

// Result is the materialized outcome of one SPARQL query, in whichever shape
// its form calls for.
type Result struct {
	Form  sparql.QueryForm
	Vars  []sparql.Variable
	Rows  []Row    // SELECT
	Ask   bool     // ASK
	Graph []Triple // CONSTRUCT / DESCRIBE
}

// Triple is one (subject, predicate, object) solution triple, named by IRI
// for resources and by rdfvalue.Value for literal objects.
type Triple struct {
	Subject   string
	Predicate string
	Object    rdfvalue.Value
}

// ExecuteQuery runs q's algebra to completion and shapes the result
// according to q.Form.
func (pl *Planner) ExecuteQuery(ctx context.Context, ex storage.Execer, q *sparql.Query) (*Result, error) {
	fresh := freshCounter()
	t, err := pl.compile(ctx, ex, q.Algebra, nil, fresh)
	if err != nil {
		return nil, err
	}

	switch q.Form {
	case sparql.FormAsk:
		return &Result{Form: q.Form, Ask: len(t.Rows) > 0}, nil

	case sparql.FormSelect:
		vars := q.Vars
		if q.Star {
			vars = t.Vars
		}
		return &Result{Form: q.Form, Vars: vars, Rows: t.Rows}, nil

	case sparql.FormConstruct:
		var triples []Triple
		for _, row := range t.Rows {
			for _, pat := range q.Template {
				tr, ok := instantiateTriple(pat, row)
				if ok {
					triples = append(triples, tr)
				}
			}
		}
		return &Result{Form: q.Form, Graph: dedupTriples(triples)}, nil

	case sparql.FormDescribe:
		var subjects []string
		if len(q.Describe) > 0 {
			for _, term := range q.Describe {
				if !term.IsVar {
					subjects = append(subjects, term.Val.IRI)
					continue
				}
				for _, row := range t.Rows {
					if v, ok := row[term.Var]; ok && v.IsResource() {
						subjects = append(subjects, v.IRI)
					}
				}
			}
		}
		triples, err := pl.describeSubjects(ctx, ex, subjects)
		if err != nil {
			return nil, err
		}
		return &Result{Form: q.Form, Graph: triples}, nil

	default:
		return nil, quillerr.New(quillerr.KindParseError, nil, "unsupported query form")
	}
}

func instantiateTriple(pat sparql.TriplePattern, row Row) (Triple, bool) {
	if pat.Path.Kind != sparql.PathIRI {
		return Triple{}, false
	}
	subj, ok := resolveTerm(pat.Subject, row)
	if !ok || !subj.IsResource() {
		return Triple{}, false
	}
	obj, ok := resolveTerm(pat.Object, row)
	if !ok {
		return Triple{}, false
	}
	return Triple{Subject: subj.IRI, Predicate: pat.Path.IRI, Object: obj}, true
}

func resolveTerm(term sparql.Term, row Row) (rdfvalue.Value, bool) {
	if !term.IsVar {
		return term.Val, true
	}
	v, ok := row[term.Var]
	return v, ok
}

func dedupTriples(in []Triple) []Triple {
	seen := map[string]bool{}
	var out []Triple
	for _, t := range in {
		key := t.Subject + "\x00" + t.Predicate + "\x00" + t.Object.Canonical()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// describeSubjects retrieves every ground triple this engine can produce for
// each subject IRI: one pass per property of every class the subject
// belongs to, mirroring how rdfio's exporter walks a subject's full
// ontology-mapped row.
func (pl *Planner) describeSubjects(ctx context.Context, ex storage.Execer, subjects []string) ([]Triple, error) {
	var out []Triple
	for _, iri := range subjects {
		subjID, ok, err := resource.Lookup(ctx, ex, iri)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, class := range pl.ont.Classes() {
			var exists bool
			row := ex.QueryRowContext(ctx, "SELECT 1 FROM "+class.Table+" WHERE subject_id = ?", subjID)
			if err := row.Scan(new(int)); err == nil {
				exists = true
			}
			if !exists {
				continue
			}
			out = append(out, Triple{Subject: iri, Predicate: "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", Object: rdfvalue.IRIValue(class.IRI)})
			for _, prop := range pl.ont.Properties() {
				if prop.Domain != class.IRI {
					continue
				}
				vals, err := pl.readProperty(ctx, ex, prop, subjID)
				if err != nil {
					return nil, err
				}
				for _, v := range vals {
					out = append(out, Triple{Subject: iri, Predicate: prop.IRI, Object: v})
				}
			}
		}
	}
	return out, nil
}

// readProperty reads every value prop holds for subjID, decoding resource
// columns through resource.IRI the same way decodeColumn does for BGP atoms.
func (pl *Planner) readProperty(ctx context.Context, ex storage.Execer, prop *ontology.PropertyDescriptor, subjID int64) ([]rdfvalue.Value, error) {
	var out []rdfvalue.Value
	switch prop.Kind {
	case ontology.TypeRow:
		return nil, nil // emitted once per class membership, not per property
	case ontology.SingleColumn:
		row := ex.QueryRowContext(ctx, "SELECT "+prop.Column+" FROM "+prop.Table+" WHERE subject_id = ?", subjID)
		var raw interface{}
		if err := row.Scan(&raw); err != nil || raw == nil {
			return nil, nil
		}
		v, err := decodeColumn(ctx, ex, atomCol{isObjectProp: prop.IsObjectProp, rangeKind: rdfvalue.RangeKindOf(string(prop.RangeKind))}, raw)
		if err != nil {
			return nil, err
		}
		return []rdfvalue.Value{v}, nil
	case ontology.MultiRow:
		rows, err := ex.QueryContext(ctx, "SELECT value FROM "+prop.Table+" WHERE subject_id = ?", subjID)
		if err != nil {
			return nil, quillerr.New(quillerr.KindIO, err, "read multi-row property %s", prop.IRI)
		}
		defer rows.Close()
		for rows.Next() {
			var raw interface{}
			if err := rows.Scan(&raw); err != nil {
				return nil, err
			}
			v, err := decodeColumn(ctx, ex, atomCol{isObjectProp: prop.IsObjectProp, rangeKind: rdfvalue.RangeKindOf(string(prop.RangeKind))}, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, rows.Err()
	default:
		return nil, nil
	}
}
