package plan

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
)

// evalCtx carries the per-query state an expression evaluator needs beyond
// the row itself: the FTS membership cache (spec §4.6's fts:match exposed
// as a filter function) and the ontology for predicate-IRI lookups inside
// fts:match/snippet calls.
type evalCtx struct {
	fts *ftsCache
}

// eval evaluates e against row, returning the value and whether evaluation
// succeeded (an unbound variable or a type error both make e "error", which
// SPARQL semantics treat as FILTER-false rather than a hard failure).
func (ec *evalCtx) eval(e sparql.Expression, row Row) (rdfvalue.Value, bool) {
	switch x := e.(type) {
	case sparql.VarExpr:
		v, ok := row[x.Var]
		return v, ok
	case sparql.LitExpr:
		return x.Val, true
	case sparql.BinOp:
		return ec.evalBinOp(x, row)
	case sparql.UnaryOp:
		return ec.evalUnaryOp(x, row)
	case sparql.FuncCall:
		return ec.evalFuncCall(x, row)
	default:
		return rdfvalue.Value{}, false
	}
}

// truthy implements SPARQL's effective boolean value for the subset of
// types this engine stores.
func truthy(v rdfvalue.Value) bool {
	switch v.Kind {
	case rdfvalue.KindBoolean:
		return v.Bool
	case rdfvalue.KindString, rdfvalue.KindLangString:
		return v.Str != ""
	case rdfvalue.KindInteger:
		return v.Int != 0
	case rdfvalue.KindDouble:
		return v.Float != 0
	default:
		return true
	}
}

func numeric(v rdfvalue.Value) (float64, bool) {
	switch v.Kind {
	case rdfvalue.KindInteger:
		return float64(v.Int), true
	case rdfvalue.KindDouble:
		return v.Float, true
	default:
		return 0, false
	}
}

func (ec *evalCtx) evalBinOp(x sparql.BinOp, row Row) (rdfvalue.Value, bool) {
	switch x.Op {
	case "&&":
		l, ok := ec.eval(x.Left, row)
		if !ok || !truthy(l) {
			return rdfvalue.BooleanValue(false), ok
		}
		r, ok := ec.eval(x.Right, row)
		return rdfvalue.BooleanValue(ok && truthy(r)), true
	case "||":
		l, ok := ec.eval(x.Left, row)
		if ok && truthy(l) {
			return rdfvalue.BooleanValue(true), true
		}
		r, ok2 := ec.eval(x.Right, row)
		return rdfvalue.BooleanValue(ok2 && truthy(r)), true
	}

	l, lok := ec.eval(x.Left, row)
	r, rok := ec.eval(x.Right, row)
	if !lok || !rok {
		return rdfvalue.Value{}, false
	}

	switch x.Op {
	case "=":
		return rdfvalue.BooleanValue(l.Canonical() == r.Canonical()), true
	case "!=":
		return rdfvalue.BooleanValue(l.Canonical() != r.Canonical()), true
	}

	if lf, lok := numeric(l); lok {
		if rf, rok := numeric(r); rok {
			switch x.Op {
			case "<":
				return rdfvalue.BooleanValue(lf < rf), true
			case ">":
				return rdfvalue.BooleanValue(lf > rf), true
			case "<=":
				return rdfvalue.BooleanValue(lf <= rf), true
			case ">=":
				return rdfvalue.BooleanValue(lf >= rf), true
			case "+":
				return addResult(l, r, lf+rf), true
			case "-":
				return addResult(l, r, lf-rf), true
			case "*":
				return addResult(l, r, lf*rf), true
			case "/":
				if rf == 0 {
					return rdfvalue.Value{}, false
				}
				return rdfvalue.DoubleValue(lf / rf), true
			}
		}
	}

	// Ordering over strings and datetimes falls back to lexical/canonical
	// comparison, which matches RFC3339 datetime strings' natural order.
	switch x.Op {
	case "<":
		return rdfvalue.BooleanValue(compareOrd(l, r) < 0), true
	case ">":
		return rdfvalue.BooleanValue(compareOrd(l, r) > 0), true
	case "<=":
		return rdfvalue.BooleanValue(compareOrd(l, r) <= 0), true
	case ">=":
		return rdfvalue.BooleanValue(compareOrd(l, r) >= 0), true
	}
	return rdfvalue.Value{}, false
}

func addResult(l, r rdfvalue.Value, f float64) rdfvalue.Value {
	if l.Kind == rdfvalue.KindInteger && r.Kind == rdfvalue.KindInteger {
		return rdfvalue.IntegerValue(int64(f))
	}
	return rdfvalue.DoubleValue(f)
}

func compareOrd(l, r rdfvalue.Value) int {
	a, b := stringOrd(l), stringOrd(r)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringOrd(v rdfvalue.Value) string {
	switch v.Kind {
	case rdfvalue.KindDateTime:
		return v.Time.UTC().Format("20060102150405.999999999")
	default:
		return v.Str
	}
}

func (ec *evalCtx) evalUnaryOp(x sparql.UnaryOp, row Row) (rdfvalue.Value, bool) {
	v, ok := ec.eval(x.Expr, row)
	if !ok {
		return rdfvalue.Value{}, false
	}
	switch x.Op {
	case "!":
		return rdfvalue.BooleanValue(!truthy(v)), true
	case "-":
		if f, ok := numeric(v); ok {
			return addResult(v, v, -f), true
		}
		return rdfvalue.Value{}, false
	case "+":
		return v, true
	default:
		return rdfvalue.Value{}, false
	}
}

func (ec *evalCtx) evalFuncCall(x sparql.FuncCall, row Row) (rdfvalue.Value, bool) {
	switch x.Name {
	case "BOUND":
		if len(x.Args) != 1 {
			return rdfvalue.Value{}, false
		}
		if va, ok := x.Args[0].(sparql.VarExpr); ok {
			_, bound := row[va.Var]
			return rdfvalue.BooleanValue(bound), true
		}
		return rdfvalue.Value{}, false
	case "isIRI", "isURI":
		v, ok := ec.eval(x.Args[0], row)
		return rdfvalue.BooleanValue(ok && v.Kind == rdfvalue.KindIRI), true
	case "isBLANK":
		v, ok := ec.eval(x.Args[0], row)
		return rdfvalue.BooleanValue(ok && v.Kind == rdfvalue.KindBlank), true
	case "isLITERAL":
		v, ok := ec.eval(x.Args[0], row)
		return rdfvalue.BooleanValue(ok && !v.IsResource()), true
	case "STR":
		v, ok := ec.eval(x.Args[0], row)
		if !ok {
			return rdfvalue.Value{}, false
		}
		if v.IsResource() {
			return rdfvalue.StringValue(v.IRI), true
		}
		return rdfvalue.StringValue(v.Str), true
	case "LANG":
		v, ok := ec.eval(x.Args[0], row)
		if !ok {
			return rdfvalue.Value{}, false
		}
		return rdfvalue.StringValue(v.Lang), true
	case "REGEX":
		if len(x.Args) < 2 {
			return rdfvalue.Value{}, false
		}
		subj, ok := ec.eval(x.Args[0], row)
		if !ok {
			return rdfvalue.Value{}, false
		}
		pat, ok := ec.eval(x.Args[1], row)
		if !ok {
			return rdfvalue.Value{}, false
		}
		flags := ""
		if len(x.Args) > 2 {
			if fv, ok := ec.eval(x.Args[2], row); ok {
				flags = fv.Str
			}
		}
		expr := pat.Str
		if strings.Contains(flags, "i") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return rdfvalue.Value{}, false
		}
		return rdfvalue.BooleanValue(re.MatchString(subj.Str)), true
	case "fts:match":
		return ec.evalFTSMatch(x, row)
	case "fts:snippet":
		return ec.evalFTSSnippet(x, row)
	case "fts:offsets":
		return ec.evalFTSOffsets(x, row)
	case "EXISTS":
		return rdfvalue.Value{}, false
	default:
		return rdfvalue.Value{}, false
	}
}

// evalFTSMatch implements the filter form `fts:match(?subjectVar,
// <predicateIRI>, "query expression")` — spec §4.6's full-text predicate
// wired into generic FILTER evaluation, backed by internal/fts.Match
// results cached per (predicate, expr) for the life of one query.
func (ec *evalCtx) evalFTSMatch(x sparql.FuncCall, row Row) (rdfvalue.Value, bool) {
	if len(x.Args) != 3 || ec.fts == nil {
		return rdfvalue.Value{}, false
	}
	subjVar, ok := x.Args[0].(sparql.VarExpr)
	if !ok {
		return rdfvalue.Value{}, false
	}
	subj, ok := row[subjVar.Var]
	if !ok || !subj.IsResource() {
		return rdfvalue.BooleanValue(false), true
	}
	predLit, ok := x.Args[1].(sparql.LitExpr)
	if !ok {
		return rdfvalue.Value{}, false
	}
	exprLit, ok := x.Args[2].(sparql.LitExpr)
	if !ok {
		return rdfvalue.Value{}, false
	}
	ids, err := ec.fts.match(predLit.Val.IRI, exprLit.Val.Str)
	if err != nil {
		return rdfvalue.Value{}, false
	}
	id, ok := ec.fts.resourceID(subj.IRI)
	if !ok {
		return rdfvalue.BooleanValue(false), true
	}
	return rdfvalue.BooleanValue(ids[id]), true
}

// ftsSubjectAndArgs resolves the (subject, predicate IRI, expression)
// triple every fts:* built-in leads with. The subject must be a bound
// resource, the predicate a ground IRI, the expression a ground string.
func (ec *evalCtx) ftsSubjectAndArgs(x sparql.FuncCall, row Row) (subjID int64, predIRI, expr string, ok bool) {
	if len(x.Args) < 3 || ec.fts == nil {
		return 0, "", "", false
	}
	subj, sok := ec.eval(x.Args[0], row)
	if !sok || !subj.IsResource() {
		return 0, "", "", false
	}
	predLit, pok := x.Args[1].(sparql.LitExpr)
	exprLit, eok := x.Args[2].(sparql.LitExpr)
	if !pok || !eok {
		return 0, "", "", false
	}
	id, found := ec.fts.resourceID(subj.IRI)
	if !found {
		return 0, "", "", false
	}
	return id, predLit.Val.IRI, exprLit.Val.Str, true
}

// evalFTSSnippet implements `fts:snippet(?subject, <predicateIRI>,
// "terms" [, "beginTag", "endTag" [, maxTokens]])` — spec §4.6's snippet
// helper surfaced as a projectable expression (typically under BIND or a
// SELECT expression).
func (ec *evalCtx) evalFTSSnippet(x sparql.FuncCall, row Row) (rdfvalue.Value, bool) {
	subjID, predIRI, expr, ok := ec.ftsSubjectAndArgs(x, row)
	if !ok {
		return rdfvalue.Value{}, false
	}
	beginTag, endTag := "<b>", "</b>"
	maxTokens := 16
	if len(x.Args) >= 5 {
		b, bok := ec.eval(x.Args[3], row)
		e, eok := ec.eval(x.Args[4], row)
		if !bok || !eok {
			return rdfvalue.Value{}, false
		}
		beginTag, endTag = b.Str, e.Str
	}
	if len(x.Args) >= 6 {
		if n, nok := ec.eval(x.Args[5], row); nok && n.Kind == rdfvalue.KindInteger {
			maxTokens = int(n.Int)
		}
	}
	out, err := ec.fts.snippet(predIRI, subjID, expr, beginTag, endTag, maxTokens)
	if err != nil {
		return rdfvalue.Value{}, false
	}
	return rdfvalue.StringValue(out), true
}

// evalFTSOffsets implements `fts:offsets(?subject, <predicateIRI>,
// "terms")`, returning the matched byte spans as a "offset:length"
// space-separated string (the value model has no list kind to carry the
// pairs structurally; callers split on spaces and ':').
func (ec *evalCtx) evalFTSOffsets(x sparql.FuncCall, row Row) (rdfvalue.Value, bool) {
	subjID, predIRI, expr, ok := ec.ftsSubjectAndArgs(x, row)
	if !ok {
		return rdfvalue.Value{}, false
	}
	offs, err := ec.fts.offsets(predIRI, subjID, expr)
	if err != nil {
		return rdfvalue.Value{}, false
	}
	parts := make([]string, 0, len(offs))
	for _, o := range offs {
		parts = append(parts, strconv.Itoa(o.ByteOffset)+":"+strconv.Itoa(o.Length))
	}
	return rdfvalue.StringValue(strings.Join(parts, " ")), true
}
