package plan

import (
	"context"

	"github.com/google/uuid"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/storage"
	"github.com/quillgraph/quill/internal/triple"
)

// ExecuteUpdate applies u against ex inside the caller's write transaction,
// returning every change.Op to journal and change.Event to notify, in
// application order. st carries the single-valued-property conflict check
// across every write this call makes (spec §4's same-transaction rule).
func (pl *Planner) ExecuteUpdate(ctx context.Context, ex storage.Execer, mapper *triple.Mapper, st *triple.TxnState, u *sparql.Update) ([]change.Op, []change.Event, error) {
	ops, events, _, err := pl.ExecuteUpdateBlank(ctx, ex, mapper, st, u)
	return ops, events, err
}

// ExecuteUpdateBlank is ExecuteUpdate plus the per-solution blank-node label
// to allocated IRI mapping spec §6 returns from Connection.update_blank: one
// map per WHERE solution row, in row order, empty (never nil) when a row's
// template minted no blank nodes, and an empty outer slice (spec's Open
// Questions: "an empty mapping list") when u.Form has no WHERE clause or the
// WHERE clause matched nothing.
func (pl *Planner) ExecuteUpdateBlank(ctx context.Context, ex storage.Execer, mapper *triple.Mapper, st *triple.TxnState, u *sparql.Update) ([]change.Op, []change.Event, []map[string]string, error) {
	switch u.Form {
	case sparql.FormInsertData:
		ops, events, err := pl.applyGroundTriples(ctx, ex, mapper, st, u.WithIRI, u.Insert, true)
		return ops, events, nil, err
	case sparql.FormDeleteData:
		ops, events, err := pl.applyGroundTriples(ctx, ex, mapper, st, u.WithIRI, u.Delete, false)
		return ops, events, nil, err
	case sparql.FormModify:
		return pl.applyModify(ctx, ex, mapper, st, u)
	default:
		return nil, nil, nil, quillerr.New(quillerr.KindParseError, nil, "unsupported update form")
	}
}

func (pl *Planner) applyGroundTriples(ctx context.Context, ex storage.Execer, mapper *triple.Mapper, st *triple.TxnState, graphIRI string, pats []sparql.TriplePattern, insert bool) ([]change.Op, []change.Event, error) {
	var ops []change.Op
	var events []change.Event
	for _, pat := range pats {
		t, ok := groundTriple(graphIRI, pat)
		if !ok {
			return nil, nil, quillerr.New(quillerr.KindParseError, nil, "INSERT/DELETE DATA requires fully ground triples")
		}
		var op *change.Op
		var evs []change.Event
		var err error
		if insert {
			op, evs, err = mapper.Insert(ctx, ex, st, t)
		} else {
			op, evs, err = mapper.Delete(ctx, ex, t)
		}
		if err != nil {
			return nil, nil, err
		}
		if op != nil {
			ops = append(ops, *op)
		}
		events = append(events, evs...)
	}
	return ops, events, nil
}

// applyModify runs u.Where to collect solutions, then applies u.Delete
// before u.Insert for every solution, per SPARQL 1.1's DELETE-then-INSERT
// ordering. A blank node in the INSERT template is minted fresh per
// solution row (never shared across rows), matching the "new blank node per
// solution" rule; a blank node in the DELETE or WHERE clause must already be
// bound by the pattern match, since it names existing data.
func (pl *Planner) applyModify(ctx context.Context, ex storage.Execer, mapper *triple.Mapper, st *triple.TxnState, u *sparql.Update) ([]change.Op, []change.Event, []map[string]string, error) {
	var ops []change.Op
	var events []change.Event
	blankMaps := []map[string]string{}

	fresh := freshCounter()
	t, err := pl.compile(ctx, ex, u.Where, nil, fresh)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, row := range t.Rows {
		blanks := map[sparql.Variable]string{}
		for _, pat := range u.Delete {
			tr, ok := instantiateUpdateTriple(u.WithIRI, pat, row, nil)
			if !ok {
				continue
			}
			op, evs, err := mapper.Delete(ctx, ex, tr)
			if err != nil {
				return nil, nil, nil, err
			}
			if op != nil {
				ops = append(ops, *op)
			}
			events = append(events, evs...)
		}
		for _, pat := range u.Insert {
			tr, ok := instantiateUpdateTriple(u.WithIRI, pat, row, blanks)
			if !ok {
				continue
			}
			op, evs, err := mapper.Insert(ctx, ex, st, tr)
			if err != nil {
				return nil, nil, nil, err
			}
			if op != nil {
				ops = append(ops, *op)
			}
			events = append(events, evs...)
		}
		labelled := make(map[string]string, len(blanks))
		for v, label := range blanks {
			labelled[string(v)] = label
		}
		blankMaps = append(blankMaps, labelled)
	}
	return ops, events, blankMaps, nil
}

// groundTriple resolves pat (no variables permitted) to a triple.Triple.
func groundTriple(graphIRI string, pat sparql.TriplePattern) (triple.Triple, bool) {
	if pat.Subject.IsVar || pat.Object.IsVar || pat.Path.Kind != sparql.PathIRI {
		return triple.Triple{}, false
	}
	return triple.Triple{
		Graph:     graphIRI,
		Subject:   pat.Subject.Val.IRI,
		Predicate: pat.Path.IRI,
		Object:    pat.Object.Val,
	}, true
}

// instantiateUpdateTriple resolves pat against row, minting a fresh blank
// node (memoized in blanks, when non-nil) for any template-only blank
// variable the WHERE clause never bound.
func instantiateUpdateTriple(graphIRI string, pat sparql.TriplePattern, row Row, blanks map[sparql.Variable]string) (triple.Triple, bool) {
	if pat.Path.Kind != sparql.PathIRI {
		return triple.Triple{}, false
	}
	subj, ok := resolveUpdateTerm(pat.Subject, row, blanks)
	if !ok || !subj.IsResource() {
		return triple.Triple{}, false
	}
	obj, ok := resolveUpdateTerm(pat.Object, row, blanks)
	if !ok {
		return triple.Triple{}, false
	}
	return triple.Triple{Graph: graphIRI, Subject: subj.IRI, Predicate: pat.Path.IRI, Object: obj}, true
}

func resolveUpdateTerm(term sparql.Term, row Row, blanks map[sparql.Variable]string) (rdfvalue.Value, bool) {
	if !term.IsVar {
		return term.Val, true
	}
	if v, ok := row[term.Var]; ok {
		return v, true
	}
	if blanks == nil {
		return rdfvalue.Value{}, false
	}
	label, ok := blanks[term.Var]
	if !ok {
		label = uuid.NewString()
		blanks[term.Var] = label
	}
	return rdfvalue.BlankValue(label), true
}
