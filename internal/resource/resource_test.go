package resource_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quillgraph/quill/internal/resource"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "resources.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(resource.Schema)
	require.NoError(t, err)
	return db
}

func TestInternReturnsStableID(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	id, err := resource.Intern(ctx, conn, "urn:a")
	require.NoError(t, err)
	require.NotZero(t, id)

	again, err := resource.Intern(ctx, conn, "urn:a")
	require.NoError(t, err)
	require.Equal(t, id, again)

	other, err := resource.Intern(ctx, conn, "urn:b")
	require.NoError(t, err)
	require.NotEqual(t, id, other)
}

func TestLookupAndIRIRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, ok, err := resource.Lookup(ctx, conn, "urn:missing")
	require.NoError(t, err)
	require.False(t, ok)

	id, err := resource.Intern(ctx, conn, "urn:a")
	require.NoError(t, err)

	got, ok, err := resource.Lookup(ctx, conn, "urn:a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)

	iri, err := resource.IRI(ctx, conn, id)
	require.NoError(t, err)
	require.Equal(t, "urn:a", iri)
}

func TestSweepCollectsOnlyZeroRefcounts(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	kept, err := resource.Intern(ctx, conn, "urn:kept")
	require.NoError(t, err)
	require.NoError(t, resource.AdjustRefcount(ctx, conn, kept, 1))

	freed, err := resource.Intern(ctx, conn, "urn:freed")
	require.NoError(t, err)
	require.NoError(t, resource.AdjustRefcount(ctx, conn, freed, 1))
	require.NoError(t, resource.AdjustRefcount(ctx, conn, freed, -1))

	ids, err := resource.Sweep(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, []int64{freed}, ids)

	_, ok, err := resource.Lookup(ctx, conn, "urn:freed")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = resource.Lookup(ctx, conn, "urn:kept")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSweepWithNothingToCollect(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	id, err := resource.Intern(ctx, conn, "urn:live")
	require.NoError(t, err)
	require.NoError(t, resource.AdjustRefcount(ctx, conn, id, 2))

	ids, err := resource.Sweep(ctx, conn)
	require.NoError(t, err)
	require.Empty(t, ids)
}
