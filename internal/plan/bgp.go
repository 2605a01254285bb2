package plan

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/resource"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/storage"
)

const rdfTypeIRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// atomCol describes one exposed column of a BGP atom's derived-table SQL.
type atomCol struct {
	variable     sparql.Variable
	alias        string
	isObjectProp bool
	rangeKind    rdfvalue.Kind
}

// sqlAtom is one triple pattern lowered to a derived-table SELECT, ready to
// be combined with its siblings into one cost-ordered BGP query.
type sqlAtom struct {
	sql     string
	args    []interface{}
	cols    []atomCol
	estRows int64
	ctes    []string // WITH RECURSIVE bodies, hoisted to the outer query
}

// termBinding is the resolved treatment of one triple-pattern term (subject,
// object, or graph): either it contributes an output column (variable), a
// WHERE filter (bound term), or proves the whole atom empty (a bound
// resource that was never interned).
type termBinding struct {
	selectExpr string
	col        *atomCol
	where      string
	args       []interface{}
}

// bindTerm resolves term into a termBinding. column is the physical column
// (or CTE column) term occupies; isObjectProp marks whether that column
// holds a resource id needing IRI resolution at decode time; ok=false (nil
// error) means the pattern is known to match no rows.
func (pl *Planner) bindTerm(ctx context.Context, ex storage.Execer, term sparql.Term, column string, isObjectProp bool) (*termBinding, bool, error) {
	alias := "c_" + sanitizeAlias(column)
	if term.IsVar {
		return &termBinding{
			selectExpr: column + " AS " + alias,
			col:        &atomCol{variable: term.Var, alias: alias, isObjectProp: isObjectProp},
		}, true, nil
	}
	if term.Val.IsResource() {
		id, ok, err := resource.Lookup(ctx, ex, term.Val.IRI)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		return &termBinding{
			selectExpr: column + " AS " + alias,
			where:      column + " = ?",
			args:       []interface{}{id},
		}, true, nil
	}
	return &termBinding{
		selectExpr: column + " AS " + alias,
		where:      column + " = ?",
		args:       []interface{}{term.Val.DBParam()},
	}, true, nil
}

// buildAtom lowers one simple (non-Seq/Alt) triple pattern to a sqlAtom.
// Seq paths are folded into extra triple patterns by expandPaths (plan.go)
// before this function sees them; Alt paths are rejected there with a
// ParseError.
func (pl *Planner) buildAtom(ctx context.Context, ex storage.Execer, pat sparql.TriplePattern, graph *sparql.Term, fresh func() string) (*sqlAtom, bool, error) {
	switch pat.Path.Kind {
	case sparql.PathIRI:
		return pl.buildPredicateAtom(ctx, ex, pat.Subject, pat.Path.IRI, pat.Object, graph)
	case sparql.PathInverse:
		if pat.Path.Sub.Kind != sparql.PathIRI {
			return nil, false, quillerr.New(quillerr.KindParseError, nil, "unsupported nested inverse property path")
		}
		return pl.buildPredicateAtom(ctx, ex, pat.Object, pat.Path.Sub.IRI, pat.Subject, graph)
	case sparql.PathZeroOrMore, sparql.PathOneOrMore, sparql.PathZeroOrOne:
		return pl.buildRecursiveAtom(ctx, ex, pat, graph, fresh)
	default:
		return nil, false, quillerr.New(quillerr.KindParseError, nil, "property path must be expanded before atom construction")
	}
}

// buildPredicateAtom lowers a single bound-predicate pattern (subject, <iri>,
// object), honouring the ontology's physical storage for that predicate.
func (pl *Planner) buildPredicateAtom(ctx context.Context, ex storage.Execer, subj sparql.Term, predIRI string, obj sparql.Term, graph *sparql.Term) (*sqlAtom, bool, error) {
	if predIRI == "rdf:type" || predIRI == rdfTypeIRI {
		return pl.buildTypeAtom(ctx, ex, subj, obj, graph)
	}
	prop := pl.ont.PropertyOf(predIRI)
	if prop == nil {
		return nil, false, quillerr.New(quillerr.KindUnknownResource, nil, "unknown property %s", predIRI)
	}

	subjB, ok, err := pl.bindTerm(ctx, ex, subj, "subject_id", true)
	if err != nil || !ok {
		return nil, ok, err
	}

	objCol := prop.Column
	if prop.Kind == ontology.MultiRow {
		objCol = "value"
	}
	objB, ok, err := pl.bindTerm(ctx, ex, obj, objCol, prop.IsObjectProp)
	if err != nil || !ok {
		return nil, ok, err
	}
	if objB.col != nil && !prop.IsObjectProp {
		objB.col.rangeKind = rdfvalue.RangeKindOf(string(prop.RangeKind))
	}

	graphExpr, graphCol, graphWhere, graphArgs, gnf, err := pl.graphSelector(ctx, ex, graph)
	if err != nil {
		return nil, false, err
	}
	if gnf {
		return nil, false, nil
	}

	var cols []atomCol
	if subjB.col != nil {
		cols = append(cols, *subjB.col)
	}
	if objB.col != nil {
		cols = append(cols, *objB.col)
	}
	if graphCol != nil {
		cols = append(cols, *graphCol)
	}

	var args []interface{}
	args = append(args, subjB.args...)
	args = append(args, objB.args...)

	var where []string
	if subjB.where != "" {
		where = append(where, subjB.where)
	}
	if objB.where != "" {
		where = append(where, objB.where)
	} else {
		where = append(where, objCol+" IS NOT NULL")
	}
	if graphWhere != "" {
		where = append(where, graphWhere)
		args = append(args, graphArgs...)
	}

	sqlText := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s",
		subjB.selectExpr, objB.selectExpr, graphExpr, prop.Table, strings.Join(where, " AND "))
	est := pl.be.TableStat(ctx, prop.Table)
	return &sqlAtom{sql: sqlText, args: args, cols: cols, estRows: est}, true, nil
}

// buildTypeAtom lowers an rdf:type pattern. A bound class object resolves to
// that class's own table (membership is row existence); a variable object
// fans out, via UNION ALL, over every class currently holding at least one
// interned reference.
func (pl *Planner) buildTypeAtom(ctx context.Context, ex storage.Execer, subj, obj sparql.Term, graph *sparql.Term) (*sqlAtom, bool, error) {
	graphExpr, graphCol, graphWhere, graphArgs, gnf, err := pl.graphSelector(ctx, ex, graph)
	if err != nil {
		return nil, false, err
	}
	if gnf {
		return nil, false, nil
	}

	if !obj.IsVar {
		class := pl.ont.ClassOf(obj.Val.IRI)
		if class == nil {
			return nil, false, quillerr.New(quillerr.KindUnknownResource, nil, "unknown class %s", obj.Val.IRI)
		}
		subjB, ok, err := pl.bindTerm(ctx, ex, subj, "subject_id", true)
		if err != nil || !ok {
			return nil, ok, err
		}
		var cols []atomCol
		if subjB.col != nil {
			cols = append(cols, *subjB.col)
		}
		if graphCol != nil {
			cols = append(cols, *graphCol)
		}
		args := append([]interface{}{}, subjB.args...)
		where := []string{}
		if subjB.where != "" {
			where = append(where, subjB.where)
		}
		if graphWhere != "" {
			where = append(where, graphWhere)
			args = append(args, graphArgs...)
		}
		sqlText := fmt.Sprintf("SELECT %s, %s FROM %s", subjB.selectExpr, graphExpr, class.Table)
		if len(where) > 0 {
			sqlText += " WHERE " + strings.Join(where, " AND ")
		}
		est := pl.be.TableStat(ctx, class.Table)
		return &sqlAtom{sql: sqlText, args: args, cols: cols, estRows: est}, true, nil
	}

	var unions []string
	var args []interface{}
	var subjCol *atomCol
	for _, class := range pl.ont.Classes() {
		id, ok, err := resource.Lookup(ctx, ex, class.IRI)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		subjB, sok, err := pl.bindTerm(ctx, ex, subj, "subject_id", true)
		if err != nil || !sok {
			return nil, sok, err
		}
		subjCol = subjB.col
		where := ""
		if subjB.where != "" {
			where = " WHERE " + subjB.where
		}
		unions = append(unions, fmt.Sprintf("SELECT %s, %s, %d AS c_obj FROM %s%s", subjB.selectExpr, graphExpr, id, class.Table, where))
		args = append(args, subjB.args...)
	}
	if len(unions) == 0 {
		return nil, false, nil
	}
	var cols []atomCol
	if subjCol != nil {
		cols = append(cols, *subjCol)
	}
	if graphCol != nil {
		cols = append(cols, *graphCol)
	}
	cols = append(cols, atomCol{variable: obj.Var, alias: "c_obj", isObjectProp: true})
	if graphWhere != "" {
		// graph filtering for the variable-class fan-out is folded into
		// each UNION branch's WHERE via graphExpr already referencing
		// graph_id; a bound graph additionally needs the branch filtered.
		for i, u := range unions {
			unions[i] = strings.Replace(u, " FROM ", " FROM ", 1)
			if strings.Contains(u, "WHERE") {
				unions[i] = u + " AND " + graphWhere
			} else {
				unions[i] = u + " WHERE " + graphWhere
			}
			args = append(args, graphArgs...)
		}
	}
	return &sqlAtom{sql: strings.Join(unions, " UNION ALL "), args: args, cols: cols, estRows: 0}, true, nil
}

// buildRecursiveAtom lowers `pred*`, `pred+`, `pred?` (or their inverse) into
// a WITH RECURSIVE reachability relation.
func (pl *Planner) buildRecursiveAtom(ctx context.Context, ex storage.Execer, pat sparql.TriplePattern, graph *sparql.Term, fresh func() string) (*sqlAtom, bool, error) {
	sub := pat.Path.Sub
	inverse := false
	if sub.Kind == sparql.PathInverse {
		inverse = true
		sub = sub.Sub
	}
	if sub.Kind != sparql.PathIRI {
		return nil, false, quillerr.New(quillerr.KindParseError, nil, "recursive property paths only apply directly to a predicate IRI")
	}
	prop := pl.ont.PropertyOf(sub.IRI)
	if prop == nil || !prop.IsObjectProp {
		return nil, false, quillerr.New(quillerr.KindUnknownResource, nil, "unknown object property %s", sub.IRI)
	}
	valCol := prop.Column
	if prop.Kind == ontology.MultiRow {
		valCol = "value"
	}
	fromCol, toCol := "subject_id", valCol
	if inverse {
		fromCol, toCol = valCol, "subject_id"
	}

	cteName := fresh()
	base := fmt.Sprintf("SELECT %s AS c_from, %s AS c_to FROM %s WHERE %s IS NOT NULL", fromCol, toCol, prop.Table, toCol)
	step := fmt.Sprintf("SELECT r.c_from, t.%s AS c_to FROM %s r JOIN %s t ON t.%s = r.c_to WHERE t.%s IS NOT NULL",
		toCol, cteName, prop.Table, fromCol, toCol)

	var cte string
	switch pat.Path.Kind {
	case sparql.PathOneOrMore:
		cte = fmt.Sprintf("%s AS (%s UNION %s)", cteName, base, step)
	case sparql.PathZeroOrOne:
		identity := "SELECT id AS c_from, id AS c_to FROM resources"
		cte = fmt.Sprintf("%s AS (%s UNION %s)", cteName, identity, base)
	default: // PathZeroOrMore
		identity := "SELECT id AS c_from, id AS c_to FROM resources"
		cte = fmt.Sprintf("%s AS (%s UNION %s UNION %s)", cteName, identity, base, step)
	}

	subjB, ok, err := pl.bindTerm(ctx, ex, pat.Subject, "c_from", true)
	if err != nil || !ok {
		return nil, ok, err
	}
	objB, ok, err := pl.bindTerm(ctx, ex, pat.Object, "c_to", true)
	if err != nil || !ok {
		return nil, ok, err
	}
	var cols []atomCol
	if subjB.col != nil {
		cols = append(cols, *subjB.col)
	}
	if objB.col != nil {
		cols = append(cols, *objB.col)
	}

	var where []string
	var args []interface{}
	if subjB.where != "" {
		where = append(where, subjB.where)
		args = append(args, subjB.args...)
	}
	if objB.where != "" {
		where = append(where, objB.where)
		args = append(args, objB.args...)
	}

	sqlText := fmt.Sprintf("SELECT %s, %s FROM %s", subjB.selectExpr, objB.selectExpr, cteName)
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	return &sqlAtom{sql: sqlText, args: args, cols: cols, estRows: pl.be.TableStat(ctx, prop.Table), ctes: []string{cte}}, true, nil
}

// graphSelector returns the SELECT expression/atomCol/WHERE fragment for the
// graph dimension of a pattern. graph == nil means the default graph (id 0).
// A bound graph IRI is resolved to its interned resource id before being
// compared against the integer graph_id column; notFound reports a bound
// graph that was never interned, which proves the whole atom empty.
func (pl *Planner) graphSelector(ctx context.Context, ex storage.Execer, graph *sparql.Term) (expr string, col *atomCol, where string, args []interface{}, notFound bool, err error) {
	if graph == nil {
		return "0 AS c_graph", nil, "", nil, false, nil
	}
	if graph.IsVar {
		// GRAPH ?g only ranges over named graphs; default-graph rows
		// (graph_id 0) have no resource to bind ?g to.
		return "graph_id AS c_graph", &atomCol{variable: graph.Var, alias: "c_graph", isObjectProp: true}, "graph_id != 0", nil, false, nil
	}
	id, ok, err := resource.Lookup(ctx, ex, graph.Val.IRI)
	if err != nil {
		return "", nil, "", nil, false, err
	}
	if !ok {
		return "", nil, "", nil, true, nil
	}
	return "graph_id AS c_graph", nil, "graph_id = ?", []interface{}{id}, false, nil
}

func sanitizeAlias(s string) string { return strings.ReplaceAll(s, ".", "_") }

// compileBGP joins every atom in pats into one SQL statement ordered by
// ascending estimated row count (spec §4.5's cost-model join order), and
// executes it, decoding rows into a Table.
func (pl *Planner) compileBGP(ctx context.Context, ex storage.Execer, pats []sparql.TriplePattern, graph *sparql.Term, fresh func() string) (*Table, error) {
	if len(pats) == 0 {
		return newTable(nil), nil
	}
	atoms := make([]*sqlAtom, 0, len(pats))
	for _, pat := range pats {
		a, ok, err := pl.buildAtom(ctx, ex, pat, graph, fresh)
		if err != nil {
			return nil, err
		}
		if !ok {
			return newTable(nil), nil
		}
		atoms = append(atoms, a)
	}
	sort.SliceStable(atoms, func(i, j int) bool { return atoms[i].estRows < atoms[j].estRows })

	var ctes []string
	var from []string
	var args []interface{}
	var where []string
	var selectList []string
	seen := map[sparql.Variable]string{}

	for i, a := range atoms {
		alias := "t" + strconv.Itoa(i)
		ctes = append(ctes, a.ctes...)
		from = append(from, fmt.Sprintf("(%s) AS %s", a.sql, alias))
		args = append(args, a.args...)
		for _, c := range a.cols {
			ref := alias + "." + c.alias
			if prior, ok := seen[c.variable]; ok {
				where = append(where, ref+" = "+prior)
				continue
			}
			seen[c.variable] = ref
			selectList = append(selectList, ref+" AS out_"+sanitizeVar(string(c.variable)))
		}
	}

	if len(selectList) == 0 {
		selectList = []string{"1"}
	}
	sqlText := "SELECT " + strings.Join(selectList, ", ") + " FROM " + strings.Join(from, ", ")
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	if len(ctes) > 0 {
		sqlText = "WITH RECURSIVE " + strings.Join(ctes, ", ") + " " + sqlText
	}

	rows, err := ex.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "execute BGP query")
	}
	defer rows.Close()

	kindOf := map[sparql.Variable]atomCol{}
	var outVars []sparql.Variable
	for _, a := range atoms {
		for _, c := range a.cols {
			if _, ok := kindOf[c.variable]; !ok {
				kindOf[c.variable] = c
				outVars = append(outVars, c.variable)
			}
		}
	}

	table := newTable(outVars)
	rawVals := make([]interface{}, len(outVars))
	dest := make([]interface{}, len(outVars))
	for i := range dest {
		dest[i] = &rawVals[i]
	}
	if len(dest) == 0 {
		// A fully bound pattern selects the constant 1; scan it and discard.
		dest = []interface{}{new(interface{})}
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, quillerr.New(quillerr.KindIO, err, "scan BGP row")
		}
		row := make(Row, len(outVars))
		for i, v := range outVars {
			raw := rawVals[i]
			if raw == nil {
				continue
			}
			val, err := decodeColumn(ctx, ex, kindOf[v], raw)
			if err != nil {
				return nil, err
			}
			row[v] = val
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

func decodeColumn(ctx context.Context, ex storage.Execer, c atomCol, raw interface{}) (rdfvalue.Value, error) {
	if c.isObjectProp {
		var id int64
		switch n := raw.(type) {
		case int64:
			id = n
		case float64:
			id = int64(n)
		}
		iri, err := resource.IRI(ctx, ex, id)
		if err != nil {
			return rdfvalue.Value{}, err
		}
		return rdfvalue.IRIValue(iri), nil
	}
	return rdfvalue.FromColumn(c.rangeKind, raw)
}

func sanitizeVar(v string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, v)
}
