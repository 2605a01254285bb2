package plan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/plan"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/storage"
	"github.com/quillgraph/quill/internal/triple"
)

// fixture opens a backend over a small social-graph ontology and loads the
// same data set every query test runs against.
type fixture struct {
	be     *storage.Backend
	pl     *plan.Planner
	mapper *triple.Mapper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ont, err := ontology.LoadBundle(&ontology.Bundle{
		Classes: []ontology.ClassDef{
			{IRI: "ex:Person", Notify: true},
			{IRI: "ex:Document"},
		},
		Properties: []ontology.PropertyDef{
			{IRI: "ex:name", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle, FullText: true},
			{IRI: "ex:age", Domain: "ex:Person", Range: "integer", Cardinality: ontology.CardinalitySingle},
			{IRI: "ex:knows", Domain: "ex:Person", Range: "ex:Person", Cardinality: ontology.CardinalityMulti},
			{IRI: "ex:authorOf", Domain: "ex:Person", Range: "ex:Document", Cardinality: ontology.CardinalityMulti},
		},
	})
	require.NoError(t, err)

	cfg := config.Default()
	be, err := storage.Open(context.Background(), t.TempDir(), ont, cfg, config.NewLogger(cfg, "test"))
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })

	f := &fixture{be: be, pl: plan.New(be), mapper: triple.New(ont)}
	f.load(t)
	return f
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn := f.be.WriteConn()
	st := triple.NewTxnState()
	for _, tr := range []triple.Triple{
		{Subject: "urn:ada", Predicate: "rdf:type", Object: rdfvalue.IRIValue("ex:Person")},
		{Subject: "urn:grace", Predicate: "rdf:type", Object: rdfvalue.IRIValue("ex:Person")},
		{Subject: "urn:heidi", Predicate: "rdf:type", Object: rdfvalue.IRIValue("ex:Person")},
		{Subject: "urn:doc1", Predicate: "rdf:type", Object: rdfvalue.IRIValue("ex:Document")},
		{Subject: "urn:ada", Predicate: "ex:name", Object: rdfvalue.StringValue("Ada")},
		{Subject: "urn:ada", Predicate: "ex:age", Object: rdfvalue.IntegerValue(36)},
		{Subject: "urn:grace", Predicate: "ex:name", Object: rdfvalue.StringValue("Grace")},
		{Subject: "urn:grace", Predicate: "ex:age", Object: rdfvalue.IntegerValue(41)},
		{Subject: "urn:heidi", Predicate: "ex:name", Object: rdfvalue.StringValue("Heidi")},
		{Subject: "urn:ada", Predicate: "ex:knows", Object: rdfvalue.IRIValue("urn:grace")},
		{Subject: "urn:grace", Predicate: "ex:knows", Object: rdfvalue.IRIValue("urn:heidi")},
		{Subject: "urn:ada", Predicate: "ex:authorOf", Object: rdfvalue.IRIValue("urn:doc1")},
	} {
		_, _, err := f.mapper.Insert(ctx, conn, st, tr)
		require.NoError(t, err)
	}
}

func (f *fixture) query(t *testing.T, src string) *plan.Result {
	t.Helper()
	q, err := sparql.Parse(src, nil)
	require.NoError(t, err)
	res, err := f.pl.ExecuteQuery(context.Background(), f.be.WriteConn(), q)
	require.NoError(t, err)
	return res
}

func bindings(res *plan.Result, v sparql.Variable) []string {
	var out []string
	for _, row := range res.Rows {
		if val, ok := row[v]; ok {
			out = append(out, val.Canonical())
		}
	}
	return out
}

func TestSelectSingleValuedProperty(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?n WHERE { <urn:ada> ex:name ?n }`)
	require.Equal(t, []string{"str:Ada"}, bindings(res, "n"))
}

func TestSelectJoinsPatternsOnSharedSubject(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?n ?a WHERE { ?p ex:name ?n . ?p ex:age ?a }`)
	require.ElementsMatch(t, []string{"str:Ada", "str:Grace"}, bindings(res, "n"))
}

func TestSelectTypePatternWithBoundClass(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?p WHERE { ?p a <ex:Person> }`)
	require.ElementsMatch(t,
		[]string{"iri:urn:ada", "iri:urn:grace", "iri:urn:heidi"},
		bindings(res, "p"))
}

func TestSelectTypePatternWithVariableClass(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?c WHERE { <urn:doc1> a ?c }`)
	require.Equal(t, []string{"iri:ex:Document"}, bindings(res, "c"))
}

func TestFilterComparesNumerics(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?n WHERE { ?p ex:name ?n . ?p ex:age ?a . FILTER(?a > 36) }`)
	require.Equal(t, []string{"str:Grace"}, bindings(res, "n"))
}

func TestOptionalLeavesUnmatchedRowsUnbound(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?p ?d WHERE { ?p ex:name ?n . OPTIONAL { ?p ex:authorOf ?d } }`)
	require.Len(t, res.Rows, 3)
	bound := 0
	for _, row := range res.Rows {
		if _, ok := row["d"]; ok {
			bound++
			require.Equal(t, "iri:urn:ada", row["p"].Canonical())
		}
	}
	require.Equal(t, 1, bound)
}

func TestUnionMergesBothBranches(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?x WHERE {
		{ <urn:ada> ex:knows ?x } UNION { <urn:grace> ex:knows ?x }
	}`)
	require.ElementsMatch(t, []string{"iri:urn:grace", "iri:urn:heidi"}, bindings(res, "x"))
}

func TestOrderByDescendingWithLimit(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?n WHERE { ?p ex:name ?n . ?p ex:age ?a } ORDER BY DESC(?a) LIMIT 1`)
	require.Equal(t, []string{"str:Grace"}, bindings(res, "n"))
}

func TestCountAggregateOverImplicitGroup(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT (COUNT(?p) AS ?n) WHERE { ?p a <ex:Person> }`)
	require.Equal(t, []string{"int:3"}, bindings(res, "n"))
}

func TestValuesRestrictsBindings(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?n WHERE { VALUES ?p { <urn:ada> } ?p ex:name ?n }`)
	require.Equal(t, []string{"str:Ada"}, bindings(res, "n"))
}

func TestTransitivePathReachesIndirectNeighbours(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?x WHERE { <urn:ada> ex:knows+ ?x }`)
	require.ElementsMatch(t, []string{"iri:urn:grace", "iri:urn:heidi"}, bindings(res, "x"))
}

func TestSequencePathExpandsThroughIntermediate(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?x WHERE { <urn:ada> ex:knows/ex:knows ?x }`)
	require.Equal(t, []string{"iri:urn:heidi"}, bindings(res, "x"))
}

func TestFTSSnippetAndOffsetsProjectAsBindings(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?snip ?offs WHERE {
		?p ex:name ?n . FILTER(?n = "Ada")
		BIND(fts:snippet(?p, <ex:name>, "Ada") AS ?snip)
		BIND(fts:offsets(?p, <ex:name>, "Ada") AS ?offs)
	}`)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "<b>Ada</b>", res.Rows[0]["snip"].Str)
	require.Equal(t, "0:3", res.Rows[0]["offs"].Str)
}

func TestFTSSnippetHonoursCustomTags(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `SELECT ?snip WHERE {
		?p ex:name ?n . FILTER(?n = "Grace")
		BIND(fts:snippet(?p, <ex:name>, "Grace", "[", "]") AS ?snip)
	}`)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "[Grace]", res.Rows[0]["snip"].Str)
}

func TestAskReflectsPatternPresence(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.query(t, `ASK { <urn:ada> ex:knows <urn:grace> }`).Ask)
	require.False(t, f.query(t, `ASK { <urn:heidi> ex:knows <urn:ada> }`).Ask)
}

func TestConstructInstantiatesTemplate(t *testing.T) {
	f := newFixture(t)
	res := f.query(t, `CONSTRUCT { ?p ex:name ?n } WHERE { ?p ex:name ?n . FILTER(?n = "Ada") }`)
	require.Len(t, res.Graph, 1)
	require.Equal(t, plan.Triple{Subject: "urn:ada", Predicate: "ex:name", Object: rdfvalue.StringValue("Ada")}, res.Graph[0])
}

func TestUnknownPredicateSurfacesAsError(t *testing.T) {
	f := newFixture(t)
	q, err := sparql.Parse(`SELECT ?x WHERE { ?x ex:nonexistent ?y }`, nil)
	require.NoError(t, err)
	_, err = f.pl.ExecuteQuery(context.Background(), f.be.WriteConn(), q)
	require.Error(t, err)
}

func TestExecuteUpdateModifyRewritesMatchedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := sparql.ParseUpdate(`
		DELETE { ?p ex:name ?old }
		INSERT { ?p ex:name "Ada Lovelace" }
		WHERE { ?p ex:name ?old . FILTER(?old = "Ada") }`, nil)
	require.NoError(t, err)

	ops, _, err := f.pl.ExecuteUpdate(ctx, f.be.WriteConn(), f.mapper, triple.NewTxnState(), u)
	require.NoError(t, err)
	require.NotEmpty(t, ops)

	res := f.query(t, `SELECT ?n WHERE { <urn:ada> ex:name ?n }`)
	require.Equal(t, []string{"str:Ada Lovelace"}, bindings(res, "n"))
}

func TestExecuteUpdateBlankMintsLabelsPerSolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := sparql.ParseUpdate(`
		INSERT { ?p ex:authorOf ?doc }
		WHERE { ?p ex:name "Grace" }`, nil)
	require.NoError(t, err)

	_, _, blanks, err := f.pl.ExecuteUpdateBlank(ctx, f.be.WriteConn(), f.mapper, triple.NewTxnState(), u)
	require.NoError(t, err)
	require.Len(t, blanks, 1)
	require.Contains(t, blanks[0], "doc")
}

func TestExecuteUpdateBlankWithNoMatchesReturnsEmptyList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := sparql.ParseUpdate(`
		INSERT { ?p ex:authorOf ?doc }
		WHERE { ?p ex:name "Nobody" }`, nil)
	require.NoError(t, err)

	ops, _, blanks, err := f.pl.ExecuteUpdateBlank(ctx, f.be.WriteConn(), f.mapper, triple.NewTxnState(), u)
	require.NoError(t, err)
	require.Empty(t, ops)
	require.Empty(t, blanks)
}
