package triple_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/storage"
	"github.com/quillgraph/quill/internal/triple"
)

func testOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	o, err := ontology.LoadBundle(&ontology.Bundle{
		Classes: []ontology.ClassDef{
			{IRI: "ex:Person", Notify: true},
			{IRI: "ex:Document"},
		},
		Properties: []ontology.PropertyDef{
			{IRI: "ex:name", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle, Indexed: true},
			{IRI: "ex:age", Domain: "ex:Person", Range: "integer", Cardinality: ontology.CardinalitySingle},
			{IRI: "ex:authorOf", Domain: "ex:Person", Range: "ex:Document", Cardinality: ontology.CardinalityMulti},
		},
	})
	require.NoError(t, err)
	return o
}

func testBackend(t *testing.T, o *ontology.Ontology) *storage.Backend {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	log := config.NewLogger(cfg, "test")
	be, err := storage.Open(context.Background(), dir, o, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })
	return be
}

func TestInsertSingleColumnCreatesRowAndRefcounts(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()
	st := triple.NewTxnState()

	op, events, err := m.Insert(ctx, conn, st, triple.Triple{
		Subject: "ex:alice", Predicate: "ex:name", Object: rdfvalue.StringValue("Alice"),
	})
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Len(t, events, 1)
	require.Equal(t, "add", string(events[0].Kind))

	var name string
	err = conn.QueryRowContext(ctx, `SELECT p_ex_name FROM class_ex_Person WHERE subject_id = (SELECT id FROM resources WHERE iri = 'ex:alice')`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "Alice", name)

	var refcount int
	err = conn.QueryRowContext(ctx, `SELECT refcount FROM resources WHERE iri = 'ex:alice'`).Scan(&refcount)
	require.NoError(t, err)
	require.Equal(t, 1, refcount)
}

func TestInsertSingleColumnSameValueTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()

	tr := triple.Triple{Subject: "ex:bob", Predicate: "ex:name", Object: rdfvalue.StringValue("Bob")}
	_, _, err := m.Insert(ctx, conn, triple.NewTxnState(), tr)
	require.NoError(t, err)
	_, events, err := m.Insert(ctx, conn, triple.NewTxnState(), tr)
	require.NoError(t, err)
	require.Equal(t, change.EventUpdate, firstKind(events))

	var refcount int
	err = conn.QueryRowContext(ctx, `SELECT refcount FROM resources WHERE iri = 'ex:bob'`).Scan(&refcount)
	require.NoError(t, err)
	require.Equal(t, 1, refcount, "re-inserting the identical value must not double the refcount")
}

func TestInsertSingleColumnConflictingValueSameTxnRollsBack(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()
	st := triple.NewTxnState()

	_, _, err := m.Insert(ctx, conn, st, triple.Triple{Subject: "ex:carol", Predicate: "ex:age", Object: rdfvalue.IntegerValue(30)})
	require.NoError(t, err)

	_, _, err = m.Insert(ctx, conn, st, triple.Triple{Subject: "ex:carol", Predicate: "ex:age", Object: rdfvalue.IntegerValue(31)})
	require.Error(t, err)
	require.ErrorIs(t, err, quillerr.ConstraintViolated)
}

func TestInsertSingleColumnConflictingValueSeparateTxnReplaces(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()

	_, _, err := m.Insert(ctx, conn, triple.NewTxnState(), triple.Triple{Subject: "ex:dave", Predicate: "ex:age", Object: rdfvalue.IntegerValue(20)})
	require.NoError(t, err)
	_, _, err = m.Insert(ctx, conn, triple.NewTxnState(), triple.Triple{Subject: "ex:dave", Predicate: "ex:age", Object: rdfvalue.IntegerValue(21)})
	require.NoError(t, err)

	var age int64
	err = conn.QueryRowContext(ctx, `SELECT p_ex_age FROM class_ex_Person WHERE subject_id = (SELECT id FROM resources WHERE iri = 'ex:dave')`).Scan(&age)
	require.NoError(t, err)
	require.EqualValues(t, 21, age)
}

func TestInsertMultiRowIdempotentAndDeletable(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()

	tr := triple.Triple{Subject: "ex:erin", Predicate: "ex:authorOf", Object: rdfvalue.IRIValue("ex:doc1")}
	_, _, err := m.Insert(ctx, conn, triple.NewTxnState(), tr)
	require.NoError(t, err)
	_, _, err = m.Insert(ctx, conn, triple.NewTxnState(), tr)
	require.NoError(t, err)

	var count int
	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM prop_ex_authorOf`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	op, events, err := m.Delete(ctx, conn, tr)
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Len(t, events, 1)

	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM prop_ex_authorOf`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestDeleteNonExistentTripleIsNoOp(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()

	op, events, err := m.Delete(ctx, conn, triple.Triple{Subject: "ex:ghost", Predicate: "ex:name", Object: rdfvalue.StringValue("Nobody")})
	require.NoError(t, err)
	require.Nil(t, op)
	require.Nil(t, events)
}

func TestInsertUnknownPropertyFails(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	be := testBackend(t, o)
	m := triple.New(o)
	conn := be.WriteConn()

	_, _, err := m.Insert(ctx, conn, triple.NewTxnState(), triple.Triple{
		Subject: "ex:frank", Predicate: "ex:nosuch", Object: rdfvalue.StringValue("x"),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, quillerr.UnknownResource)
}

func firstKind(events []change.Event) change.EventKind {
	if len(events) == 0 {
		return ""
	}
	return events[0].Kind
}
