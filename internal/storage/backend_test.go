package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/storage"
)

func testOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	o, err := ontology.LoadBundle(&ontology.Bundle{
		Classes: []ontology.ClassDef{
			{IRI: "ex:Person", Notify: true},
			{IRI: "ex:Document"},
		},
		Properties: []ontology.PropertyDef{
			{IRI: "ex:name", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle, FullText: true, Indexed: true},
			{IRI: "ex:age", Domain: "ex:Person", Range: "integer", Cardinality: ontology.CardinalitySingle},
			{IRI: "ex:tag", Domain: "ex:Document", Range: "string", Cardinality: ontology.CardinalityMulti, Indexed: true},
		},
	})
	require.NoError(t, err)
	return o
}

func TestBuildSchemaCoversEveryStorageShape(t *testing.T) {
	o := testOntology(t)
	ddl := storage.BuildSchema(o)

	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS resources")
	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS journal_applied")
	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS engine_meta")
	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS table_stats")

	// One table per class, keyed (subject_id, graph_id).
	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS class_ex_Person")
	require.Contains(t, ddl, "PRIMARY KEY (subject_id, graph_id)")

	// Single-valued properties become columns on the domain class table;
	// multi-valued ones get their own table.
	require.Contains(t, ddl, "p_ex_name TEXT")
	require.Contains(t, ddl, "p_ex_age INTEGER")
	require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS prop_ex_tag")

	// Indexed flag -> secondary index; fulltext flag -> FTS5 virtual table
	// with synchronous triggers.
	require.Contains(t, ddl, "CREATE INDEX IF NOT EXISTS idx_class_ex_Person_p_ex_name")
	require.Contains(t, ddl, "USING fts5")
	require.Contains(t, ddl, "unicode61 remove_diacritics 2")
	require.Contains(t, ddl, "CREATE TRIGGER IF NOT EXISTS class_ex_Person_p_ex_name_fts_ai")
}

func TestOpenSeedsAndAcceptsMatchingVersion(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	dir := t.TempDir()
	cfg := config.Default()
	log := config.NewLogger(cfg, "test")

	be, err := storage.Open(ctx, dir, o, cfg, log)
	require.NoError(t, err)
	require.NoError(t, be.Close())

	// Same ontology, second open: the stored version matches, no error.
	be, err = storage.Open(ctx, dir, o, cfg, log)
	require.NoError(t, err)
	require.NoError(t, be.Close())
}

func TestOpenFlagsStaleOntologyVersion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	log := config.NewLogger(cfg, "test")

	be, err := storage.Open(ctx, dir, testOntology(t), cfg, log)
	require.NoError(t, err)
	require.NoError(t, be.Close())

	grown, err := ontology.LoadBundle(&ontology.Bundle{
		Classes: []ontology.ClassDef{
			{IRI: "ex:Person", Notify: true},
			{IRI: "ex:Document"},
		},
		Properties: []ontology.PropertyDef{
			{IRI: "ex:name", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle},
		},
	})
	require.NoError(t, err)

	be, err = storage.Open(ctx, dir, grown, cfg, log)
	require.Error(t, err)
	require.True(t, errors.Is(err, quillerr.StorageCorrupt))
	// The backend comes back usable so the caller can replay the journal
	// into it and re-stamp, rather than reopening the database.
	require.NotNil(t, be)
	require.NoError(t, be.StampVersion(ctx, grown))
	require.NoError(t, be.CheckVersionGate(ctx, grown))
	require.NoError(t, be.Close())
}

func TestReopenAddsColumnsForNewSingleValuedProperties(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	log := config.NewLogger(cfg, "test")

	be, err := storage.Open(ctx, dir, testOntology(t), cfg, log)
	require.NoError(t, err)
	require.NoError(t, be.Close())

	grown, err := ontology.LoadBundle(&ontology.Bundle{
		Classes: []ontology.ClassDef{
			{IRI: "ex:Person", Notify: true},
			{IRI: "ex:Document"},
		},
		Properties: []ontology.PropertyDef{
			{IRI: "ex:name", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle, FullText: true, Indexed: true},
			{IRI: "ex:age", Domain: "ex:Person", Range: "integer", Cardinality: ontology.CardinalitySingle},
			{IRI: "ex:tag", Domain: "ex:Document", Range: "string", Cardinality: ontology.CardinalityMulti, Indexed: true},
			{IRI: "ex:nick", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle, Indexed: true},
		},
	})
	require.NoError(t, err)

	be, err = storage.Open(ctx, dir, grown, cfg, log)
	require.Error(t, err) // version gate; the schema itself must already be migrated
	require.NotNil(t, be)
	defer be.Close()

	_, err = be.WriteConn().ExecContext(ctx,
		`INSERT INTO class_ex_Person (subject_id, graph_id, p_ex_nick) VALUES (1, 0, 'adder')`)
	require.NoError(t, err)
}

func TestTableStatsAccumulateAndFloorAtZero(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	cfg := config.Default()
	be, err := storage.Open(ctx, t.TempDir(), o, cfg, config.NewLogger(cfg, "test"))
	require.NoError(t, err)
	defer be.Close()

	conn := be.WriteConn()
	require.NoError(t, be.BumpTableStat(ctx, conn, "class_ex_Person", 3))
	require.NoError(t, be.BumpTableStat(ctx, conn, "class_ex_Person", 2))
	require.EqualValues(t, 5, be.TableStat(ctx, "class_ex_Person"))

	require.NoError(t, be.BumpTableStat(ctx, conn, "class_ex_Person", -10))
	require.EqualValues(t, 0, be.TableStat(ctx, "class_ex_Person"))

	require.EqualValues(t, 0, be.TableStat(ctx, "never_seen"))
}

func TestPrepareWriteCachesBySQLText(t *testing.T) {
	ctx := context.Background()
	o := testOntology(t)
	cfg := config.Default()
	be, err := storage.Open(ctx, t.TempDir(), o, cfg, config.NewLogger(cfg, "test"))
	require.NoError(t, err)
	defer be.Close()

	first, err := be.PrepareWrite(ctx, `SELECT COUNT(*) FROM resources`)
	require.NoError(t, err)
	second, err := be.PrepareWrite(ctx, `SELECT COUNT(*) FROM resources`)
	require.NoError(t, err)
	require.Same(t, first, second)
}
