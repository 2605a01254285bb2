package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/engine"
	"github.com/quillgraph/quill/internal/quillerr"
)

// countRows drains cur and reports how many rows it yielded.
func countRows(cur *engine.Cursor) int {
	n := 0
	for cur.Next() {
		n++
	}
	return n
}

func TestScenarioInsertQueryAndFullTextMatch(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:a> a nfo:FileDataObject . <urn:a> nie:title "hello" }`, nil))

	cur, err := c.Query(ctx, `SELECT ?t WHERE { <urn:a> nie:title ?t }`, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	v, ok := cur.Value("t")
	require.True(t, ok)
	require.Equal(t, "hello", v.Str)
	require.False(t, cur.Next())

	cur, err = c.Query(ctx, `SELECT ?s WHERE { ?s nie:title ?t . FILTER(fts:match(?s, <nie:title>, "hel*")) }`, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	v, ok = cur.Value("s")
	require.True(t, ok)
	require.Equal(t, "urn:a", v.IRI)
	require.False(t, cur.Next())
}

func TestScenarioSingleValuedPropertyReplacesAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:track> nmm:trackNumber 3 }`, nil))
	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:track> nmm:trackNumber 4 }`, nil))

	cur, err := c.Query(ctx, `SELECT ?n WHERE { <urn:track> nmm:trackNumber ?n }`, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	v, _ := cur.Value("n")
	require.EqualValues(t, 4, v.Int)
	require.False(t, cur.Next())
}

func TestCardinalityConflictInOneTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	err := c.Update(ctx, `INSERT DATA { <urn:t2> nmm:trackNumber 3 . <urn:t2> nmm:trackNumber 4 }`, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, quillerr.ConstraintViolated))

	cur, err := c.Query(ctx, `SELECT ?n WHERE { <urn:t2> nmm:trackNumber ?n }`, nil)
	require.NoError(t, err)
	require.Equal(t, 0, countRows(cur))
}

func TestIdempotentInsertLeavesOneRow(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:i> nie:title "once" }`, nil))
	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:i> nie:title "once" }`, nil))

	cur, err := c.Query(ctx, `SELECT ?t WHERE { <urn:i> nie:title ?t }`, nil)
	require.NoError(t, err)
	require.Equal(t, 1, countRows(cur))
}

func TestDeleteInvertsInsert(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:d> nie:title "ephemeral" }`, nil))
	require.NoError(t, c.Update(ctx, `DELETE DATA { <urn:d> nie:title "ephemeral" }`, nil))

	cur, err := c.Query(ctx, `SELECT ?t WHERE { <urn:d> nie:title ?t }`, nil)
	require.NoError(t, err)
	require.Equal(t, 0, countRows(cur))
}

func TestScenarioSubscribersSeeAddThenDelete(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	kinds := make(chan change.EventKind, 2)
	id := c.Subscribe("nfo:FileDataObject", func(classIRI string, subjectID int64, kind change.EventKind) {
		kinds <- kind
	})
	defer c.Unsubscribe(id)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:f> a nfo:FileDataObject }`, nil))
	select {
	case k := <-kinds:
		require.Equal(t, change.EventAdd, k)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for add event")
	}

	require.NoError(t, c.Update(ctx, `DELETE DATA { <urn:f> a nfo:FileDataObject }`, nil))
	select {
	case k := <-kinds:
		require.Equal(t, change.EventDelete, k)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

func TestScenarioNewReaderSeesCommittedWrite(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:r1> a nfo:FileDataObject }`, nil))
	cur, err := c.Query(ctx, `SELECT ?x WHERE { ?x a nfo:FileDataObject }`, nil)
	require.NoError(t, err)
	require.Equal(t, 1, countRows(cur))

	// The already-returned cursor is a snapshot of its own execution; a
	// later write only shows up in a query issued after the commit.
	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:r2> a nfo:FileDataObject }`, nil))
	require.False(t, cur.Next())

	cur, err = c.Query(ctx, `SELECT ?x WHERE { ?x a nfo:FileDataObject }`, nil)
	require.NoError(t, err)
	require.Equal(t, 2, countRows(cur))
}

func TestScenarioDurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	c, err := engine.Open(ctx, engine.Flags{}, dataDir, "../../testdata/ontology")
	require.NoError(t, err)
	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:p> nie:title "persistent" }`, nil))
	require.NoError(t, c.Close())

	c, err = engine.Open(ctx, engine.Flags{}, dataDir, "../../testdata/ontology")
	require.NoError(t, err)
	defer c.Close()

	cur, err := c.Query(ctx, `SELECT ?t WHERE { <urn:p> nie:title ?t }`, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	v, _ := cur.Value("t")
	require.Equal(t, "persistent", v.Str)
}

func TestScenarioOntologyVersionGateReplaysAndReopens(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	ontDir := t.TempDir()

	seed, err := os.ReadFile("../../testdata/ontology/core.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ontDir, "core.yaml"), seed, 0o644))

	c, err := engine.Open(ctx, engine.Flags{}, dataDir, ontDir)
	require.NoError(t, err)
	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:v> nie:title "survives" }`, nil))
	require.NoError(t, c.Close())

	// An additive bundle edit changes the schema version; the reopen must
	// take the replay path and come back usable with the data intact.
	extra := `properties:
  - iri: nie:comment
    domain: nie:InformationElement
    range: string
    cardinality: single
`
	require.NoError(t, os.WriteFile(filepath.Join(ontDir, "extra.yaml"), []byte(extra), 0o644))

	c, err = engine.Open(ctx, engine.Flags{}, dataDir, ontDir)
	require.NoError(t, err)
	defer c.Close()

	cur, err := c.Query(ctx, `SELECT ?t WHERE { <urn:v> nie:title ?t }`, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:v> nie:comment "new property works" }`, nil))
}

func TestReadOnlyConnectionRejectsWrites(t *testing.T) {
	ctx := context.Background()
	c, err := engine.Open(ctx, engine.Flags{ReadOnly: true}, t.TempDir(), "../../testdata/ontology")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	err = c.Update(ctx, `INSERT DATA { <urn:x> nie:title "nope" }`, nil)
	require.Error(t, err)

	_, err = c.Query(ctx, `SELECT ?t WHERE { <urn:x> nie:title ?t }`, nil)
	require.NoError(t, err)
}
