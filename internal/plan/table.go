// Package plan lowers the sparql package's algebra tree to execution
// against an ontology-mapped storage.Backend (spec §4.5). Each BGP is
// compiled to one cost-ordered SQL join (the one place the relational
// engine does real work); every node above a BGP — Join, LeftJoin, Union,
// Filter, Extend, Project, Distinct, Slice, OrderBy, Group — operates as an
// in-memory Table transform, the same way badwolf's bql/planner composes
// Executors that each produce a *table.Table and further algebra methods
// operate on that Table rather than re-entering SQL.
package plan

import (
	"sort"

	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
)

// Row is one solution: a partial binding from variable to value. A missing
// key means the variable is unbound in this row (the SPARQL "unbound",
// distinct from any literal value).
type Row map[sparql.Variable]rdfvalue.Value

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is the in-memory relation every non-BGP algebra node operates over.
type Table struct {
	Vars []sparql.Variable
	Rows []Row
}

func newTable(vars []sparql.Variable) *Table {
	return &Table{Vars: append([]sparql.Variable(nil), vars...)}
}

func (t *Table) addVar(v sparql.Variable) {
	for _, existing := range t.Vars {
		if existing == v {
			return
		}
	}
	t.Vars = append(t.Vars, v)
}

// join performs an inner nested-loop join on shared variables: two rows
// combine iff every variable bound in both agrees.
func join(left, right *Table) *Table {
	out := newTable(left.Vars)
	for _, v := range right.Vars {
		out.addVar(v)
	}
	for _, lr := range left.Rows {
		for _, rr := range right.Rows {
			if merged, ok := compatible(lr, rr); ok {
				out.Rows = append(out.Rows, merged)
			}
		}
	}
	return out
}

// leftJoin performs SPARQL OPTIONAL: every left row is kept, extended with a
// compatible right row if one exists (and, when extra is non-nil, the
// combined row also satisfies extra), else kept unextended.
func leftJoin(left, right *Table, extra func(Row) bool) *Table {
	out := newTable(left.Vars)
	for _, v := range right.Vars {
		out.addVar(v)
	}
	for _, lr := range left.Rows {
		matched := false
		for _, rr := range right.Rows {
			if merged, ok := compatible(lr, rr); ok && (extra == nil || extra(merged)) {
				out.Rows = append(out.Rows, merged)
				matched = true
			}
		}
		if !matched {
			out.Rows = append(out.Rows, lr.clone())
		}
	}
	return out
}

func compatible(a, b Row) (Row, bool) {
	for k, av := range a {
		if bv, ok := b[k]; ok && av.Canonical() != bv.Canonical() {
			return nil, false
		}
	}
	merged := a.clone()
	for k, v := range b {
		merged[k] = v
	}
	return merged, true
}

// union appends right's rows to left's, aligning on the union of both
// variable sets; rows carry no binding for a variable the other side didn't
// produce.
func union(left, right *Table) *Table {
	out := newTable(left.Vars)
	for _, v := range right.Vars {
		out.addVar(v)
	}
	out.Rows = append(out.Rows, left.Rows...)
	out.Rows = append(out.Rows, right.Rows...)
	return out
}

func filterTable(t *Table, keep func(Row) bool) *Table {
	out := newTable(t.Vars)
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

func extendTable(t *Table, v sparql.Variable, eval func(Row) (rdfvalue.Value, bool)) *Table {
	out := newTable(t.Vars)
	out.addVar(v)
	for _, r := range t.Rows {
		nr := r.clone()
		if val, ok := eval(r); ok {
			nr[v] = val
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

func projectTable(t *Table, vars []sparql.Variable) *Table {
	out := newTable(vars)
	for _, r := range t.Rows {
		nr := make(Row, len(vars))
		for _, v := range vars {
			if val, ok := r[v]; ok {
				nr[v] = val
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

func distinctTable(t *Table) *Table {
	out := newTable(t.Vars)
	seen := map[string]bool{}
	for _, r := range t.Rows {
		key := rowKey(r, t.Vars)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Rows = append(out.Rows, r)
	}
	return out
}

func rowKey(r Row, vars []sparql.Variable) string {
	var b []byte
	for _, v := range vars {
		if val, ok := r[v]; ok {
			b = append(b, val.Canonical()...)
		}
		b = append(b, 0)
	}
	return string(b)
}

func sliceTable(t *Table, offset, limit int) *Table {
	out := newTable(t.Vars)
	rows := t.Rows
	if offset > 0 {
		if offset >= len(rows) {
			return out
		}
		rows = rows[offset:]
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out.Rows = rows
	return out
}

func orderByTable(t *Table, less func(a, b Row) bool) *Table {
	out := newTable(t.Vars)
	out.Rows = append(out.Rows, t.Rows...)
	sort.SliceStable(out.Rows, func(i, j int) bool { return less(out.Rows[i], out.Rows[j]) })
	return out
}
