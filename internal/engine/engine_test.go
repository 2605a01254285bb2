package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/engine"
	"github.com/quillgraph/quill/internal/rdfio"
)

func openTestConnection(t *testing.T) *engine.Connection {
	t.Helper()
	c, err := engine.Open(context.Background(), engine.Flags{}, t.TempDir(), "../../testdata/ontology")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUpdateThenQueryRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	err := c.Update(ctx, `INSERT DATA { <urn:f1> nie:title "Song One" }`, nil)
	require.NoError(t, err)

	cur, err := c.Query(ctx, `SELECT ?title WHERE { <urn:f1> nie:title ?title }`, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	v, ok := cur.Value("title")
	require.True(t, ok)
	require.Equal(t, "Song One", v.Str)
	require.False(t, cur.Next())
}

func TestUpdateBlankReportsAllocatedLabels(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:f2> nie:title "Another" }`, nil))

	blanks, err := c.UpdateBlank(ctx, `
		INSERT { ?f nie:isLogicalPartOf ?part }
		WHERE { ?f nie:title "Another" }
	`, nil)
	require.NoError(t, err)
	require.Len(t, blanks, 1)
	require.Len(t, blanks[0], 1)
}

func TestBoundParameterSubstitution(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	stmt := c.Statement(`INSERT DATA { <urn:f3> nie:title ?title }`).BindString("title", "Parametric")
	require.NoError(t, stmt.Update(ctx))

	cur, err := c.Statement(`SELECT ?t WHERE { <urn:f3> nie:title ?t }`).Execute(ctx)
	require.NoError(t, err)
	require.True(t, cur.Next())
	v, _ := cur.Value("t")
	require.Equal(t, "Parametric", v.Str)
}

func TestSubscribeReceivesNotifyClassEvents(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	events := make(chan string, 1)
	id := c.Subscribe("nfo:FileDataObject", func(classIRI string, subjectID int64, kind change.EventKind) {
		events <- string(kind)
	})
	defer c.Unsubscribe(id)

	require.NoError(t, c.Update(ctx, `INSERT DATA { <urn:f4> nfo:fileName "a.mp3" }`, nil))

	select {
	case kind := <-events:
		require.Equal(t, "add", kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestDeserialiseThenSerialiseTurtleRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := openTestConnection(t)

	doc := `<urn:f5> nie:title "Imported" .`
	require.NoError(t, c.Deserialise(ctx, strings.NewReader(doc), rdfio.FormatTurtle))

	var buf strings.Builder
	err := c.Serialise(ctx, &buf, `CONSTRUCT { ?s nie:title ?t } WHERE { ?s nie:title ?t }`, nil, rdfio.FormatTurtle)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "urn:f5")
}
