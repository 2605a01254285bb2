package plan

import (
	"context"
	"strconv"

	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/storage"
)

// Planner lowers a parsed sparql.Query/Update against one ontology-mapped
// storage.Backend. One Planner is shared across a connection's queries; it
// holds no per-query state (that lives in the freshCounter closure and the
// ftsCache created inside ExecuteQuery).
type Planner struct {
	ont *ontology.Ontology
	be  *storage.Backend
}

// New returns a Planner bound to be's schema.
func New(be *storage.Backend) *Planner {
	return &Planner{ont: be.Ontology(), be: be}
}

func freshCounter() func() string {
	n := 0
	return func() string {
		n++
		return "cte" + strconv.Itoa(n)
	}
}

// compile lowers one algebra node to a Table, threading the active graph
// (nil for the default graph) and a CTE/variable name generator through
// recursive calls.
func (pl *Planner) compile(ctx context.Context, ex storage.Execer, node sparql.Node, graph *sparql.Term, fresh func() string) (*Table, error) {
	switch n := node.(type) {
	case sparql.Empty:
		return newTable(nil), nil

	case sparql.BGP:
		pats, err := pl.expandPaths(n.Patterns, fresh)
		if err != nil {
			return nil, err
		}
		return pl.compileBGPNode(ctx, ex, pats, graph, fresh)

	case sparql.GraphPattern:
		g := n.Graph
		return pl.compile(ctx, ex, n.Node, &g, fresh)

	case sparql.Join:
		left, err := pl.compile(ctx, ex, n.Left, graph, fresh)
		if err != nil {
			return nil, err
		}
		right, err := pl.compile(ctx, ex, n.Right, graph, fresh)
		if err != nil {
			return nil, err
		}
		return join(left, right), nil

	case sparql.LeftJoin:
		left, err := pl.compile(ctx, ex, n.Left, graph, fresh)
		if err != nil {
			return nil, err
		}
		right, err := pl.compile(ctx, ex, n.Right, graph, fresh)
		if err != nil {
			return nil, err
		}
		var extra func(Row) bool
		if n.Expr != nil {
			ec := &evalCtx{fts: pl.newFTSCache(ctx, ex)}
			f := n.Expr
			extra = func(r Row) bool {
				v, ok := ec.eval(f, r)
				return ok && truthy(v)
			}
		}
		return leftJoin(left, right, extra), nil

	case sparql.Union:
		left, err := pl.compile(ctx, ex, n.Left, graph, fresh)
		if err != nil {
			return nil, err
		}
		right, err := pl.compile(ctx, ex, n.Right, graph, fresh)
		if err != nil {
			return nil, err
		}
		return union(left, right), nil

	case sparql.Filter:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		ec := &evalCtx{fts: pl.newFTSCache(ctx, ex)}
		return filterTable(t, func(r Row) bool {
			v, ok := ec.eval(n.Expr, r)
			return ok && truthy(v)
		}), nil

	case sparql.Extend:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		ec := &evalCtx{fts: pl.newFTSCache(ctx, ex)}
		return extendTable(t, n.Var, func(r Row) (rdfvalue.Value, bool) { return ec.eval(n.Expr, r) }), nil

	case sparql.ValuesPattern:
		return pl.compileValues(n), nil

	case sparql.Project:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		return projectTable(t, n.Vars), nil

	case sparql.Distinct:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		return distinctTable(t), nil

	case sparql.Reduced:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		return distinctTable(t), nil

	case sparql.Slice:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		return sliceTable(t, n.Offset, n.Limit), nil

	case sparql.OrderBy:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		ec := &evalCtx{fts: pl.newFTSCache(ctx, ex)}
		less := func(a, b Row) bool {
			for _, cond := range n.Conditions {
				av, aok := ec.eval(cond.Expr, a)
				bv, bok := ec.eval(cond.Expr, b)
				if !aok || !bok {
					continue
				}
				c := compareNumericOrLexical(av, bv)
				if c == 0 {
					continue
				}
				if cond.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		}
		return orderByTable(t, less), nil

	case sparql.Group:
		t, err := pl.compile(ctx, ex, n.Node, graph, fresh)
		if err != nil {
			return nil, err
		}
		ec := &evalCtx{fts: pl.newFTSCache(ctx, ex)}
		return pl.groupTable(t, n, ec)

	default:
		return nil, quillerr.New(quillerr.KindParseError, nil, "unsupported algebra node %T", node)
	}
}

func compareNumericOrLexical(a, b rdfvalue.Value) int {
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return compareOrd(a, b)
}

func (pl *Planner) compileBGPNode(ctx context.Context, ex storage.Execer, pats []sparql.TriplePattern, graph *sparql.Term, fresh func() string) (*Table, error) {
	return pl.compileBGP(ctx, ex, pats, graph, fresh)
}

func (pl *Planner) compileValues(n sparql.ValuesPattern) *Table {
	t := newTable(n.Vars)
	for _, row := range n.Rows {
		r := make(Row, len(n.Vars))
		for i, v := range n.Vars {
			if i >= len(row) {
				continue
			}
			term := row[i]
			if term == (sparql.Term{}) { // UNDEF sentinel
				continue
			}
			r[v] = term.Val
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

// expandPaths rewrites Seq property paths into additional triple
// patterns joined via fresh intermediate variables (Alt paths are
// rejected with a ParseError), leaving the BGP
// compiler with only IRI/Inverse/recursive path shapes. Seq/Alt cannot be
// modeled as new sparql.Node types from this package (Node's isNode method
// is unexported, so only the sparql package can satisfy it); instead each
// expansion folds back into []sparql.TriplePattern, which buildAtom already
// knows how to lower.
func (pl *Planner) expandPaths(pats []sparql.TriplePattern, fresh func() string) ([]sparql.TriplePattern, error) {
	var out []sparql.TriplePattern
	for _, p := range pats {
		expanded, err := expandOne(p, fresh)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func expandOne(p sparql.TriplePattern, fresh func() string) ([]sparql.TriplePattern, error) {
	switch p.Path.Kind {
	case sparql.PathSeq:
		mid := sparql.Term{IsVar: true, Var: sparql.Variable("_" + fresh())}
		left := sparql.TriplePattern{Subject: p.Subject, Path: *p.Path.Left, Object: mid}
		right := sparql.TriplePattern{Subject: mid, Path: *p.Path.Right, Object: p.Object}
		a, err := expandOne(left, fresh)
		if err != nil {
			return nil, err
		}
		b, err := expandOne(right, fresh)
		if err != nil {
			return nil, err
		}
		return append(a, b...), nil
	case sparql.PathAlt:
		// An alternative (a|b) needs a Union at the Node level, which a
		// flat []TriplePattern inside one BGP cannot carry, and this
		// package cannot mint new Node values (see the unexported
		// isNode() constraint). Unsupported for now; see DESIGN.md.
		return nil, quillerr.New(quillerr.KindParseError, nil, "alternative property paths (|) are not supported")
	default:
		return []sparql.TriplePattern{p}, nil
	}
}

