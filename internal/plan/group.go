package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
)

// groupTable implements GROUP BY + aggregate projection over t. Groups with
// no GROUP BY vars form a single implicit group over the whole table, per
// SPARQL 1.1 semantics.
func (pl *Planner) groupTable(t *Table, n sparql.Group, ec *evalCtx) (*Table, error) {
	type bucket struct {
		key  string
		vars Row
		rows []Row
	}
	order := []string{}
	buckets := map[string]*bucket{}
	for _, r := range t.Rows {
		key := rowKey(r, n.Vars)
		b, ok := buckets[key]
		if !ok {
			vars := make(Row, len(n.Vars))
			for _, v := range n.Vars {
				if val, ok := r[v]; ok {
					vars[v] = val
				}
			}
			b = &bucket{key: key, vars: vars}
			buckets[key] = b
			order = append(order, key)
		}
		b.rows = append(b.rows, r)
	}
	sort.Strings(order)

	outVars := append([]sparql.Variable{}, n.Vars...)
	for _, agg := range n.Aggs {
		outVars = append(outVars, agg.As)
	}
	out := newTable(outVars)
	for _, key := range order {
		b := buckets[key]
		row := b.vars.clone()
		for _, agg := range n.Aggs {
			val, err := evalAggregate(agg, b.rows, ec)
			if err != nil {
				return nil, err
			}
			row[agg.As] = val
		}
		out.Rows = append(out.Rows, row)
	}
	if len(buckets) == 0 && len(n.Vars) == 0 {
		// COUNT(*) etc. over zero input rows still produces one row, per
		// SPARQL 1.1 aggregate semantics for an empty group.
		row := Row{}
		for _, agg := range n.Aggs {
			val, err := evalAggregate(agg, nil, ec)
			if err != nil {
				return nil, err
			}
			row[agg.As] = val
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func evalAggregate(agg sparql.Aggregate, rows []Row, ec *evalCtx) (rdfvalue.Value, error) {
	switch agg.Kind {
	case sparql.AggCount:
		if agg.Expr == nil {
			return rdfvalue.IntegerValue(int64(len(rows))), nil
		}
		seen := map[string]bool{}
		var n int64
		for _, r := range rows {
			v, ok := ec.eval(agg.Expr, r)
			if !ok {
				continue
			}
			if agg.Distinct {
				k := v.Canonical()
				if seen[k] {
					continue
				}
				seen[k] = true
			}
			n++
		}
		return rdfvalue.IntegerValue(n), nil

	case sparql.AggSum, sparql.AggAvg, sparql.AggMin, sparql.AggMax:
		var vals []rdfvalue.Value
		seen := map[string]bool{}
		for _, r := range rows {
			v, ok := ec.eval(agg.Expr, r)
			if !ok {
				continue
			}
			if agg.Distinct {
				k := v.Canonical()
				if seen[k] {
					continue
				}
				seen[k] = true
			}
			vals = append(vals, v)
		}
		return reduceNumeric(agg.Kind, vals), nil

	case sparql.AggGroupConcat:
		sep := agg.Separator
		if sep == "" {
			sep = " "
		}
		var parts []string
		seen := map[string]bool{}
		for _, r := range rows {
			v, ok := ec.eval(agg.Expr, r)
			if !ok {
				continue
			}
			k := v.Canonical()
			if agg.Distinct {
				if seen[k] {
					continue
				}
				seen[k] = true
			}
			parts = append(parts, v.Str)
		}
		return rdfvalue.StringValue(strings.Join(parts, sep)), nil

	default:
		return rdfvalue.Value{}, fmt.Errorf("unsupported aggregate %s", agg.Kind)
	}
}

func reduceNumeric(kind sparql.AggKind, vals []rdfvalue.Value) rdfvalue.Value {
	if len(vals) == 0 {
		if kind == sparql.AggSum {
			return rdfvalue.IntegerValue(0)
		}
		return rdfvalue.Value{}
	}
	allInt := true
	var sum float64
	var m float64
	for i, v := range vals {
		f, ok := numeric(v)
		if !ok {
			allInt = false
			continue
		}
		if v.Kind != rdfvalue.KindInteger {
			allInt = false
		}
		sum += f
		if i == 0 {
			m = f
		} else {
			switch kind {
			case sparql.AggMin:
				if f < m {
					m = f
				}
			case sparql.AggMax:
				if f > m {
					m = f
				}
			}
		}
	}
	switch kind {
	case sparql.AggSum:
		if allInt {
			return rdfvalue.IntegerValue(int64(sum))
		}
		return rdfvalue.DoubleValue(sum)
	case sparql.AggAvg:
		return rdfvalue.DoubleValue(sum / float64(len(vals)))
	case sparql.AggMin, sparql.AggMax:
		if allInt {
			return rdfvalue.IntegerValue(int64(m))
		}
		return rdfvalue.DoubleValue(m)
	default:
		return rdfvalue.Value{}
	}
}
