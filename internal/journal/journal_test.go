package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/storage"
	"github.com/quillgraph/quill/internal/triple"
)

func testFrame(ops ...change.Op) Frame {
	return Frame{TxnID: uuid.New(), Timestamp: time.Unix(1700000000, 0), Ops: ops}
}

func TestFrameCodecRoundTrips(t *testing.T) {
	in := testFrame(
		change.Op{Kind: change.OpInsert, GraphID: 7, SubjectID: 1, PredicateID: 2, ObjectIsRef: true, ObjectID: 3},
		change.Op{Kind: change.OpDelete, SubjectID: 4, PredicateID: 5, ObjectLiteral: "héllo wörld"},
	)
	out, err := decodeFrame(encodeFrame(in))
	require.NoError(t, err)
	require.Equal(t, in.TxnID, out.TxnID)
	require.Equal(t, in.Timestamp.UnixNano(), out.Timestamp.UnixNano())
	require.Equal(t, in.Ops, out.Ops)
}

func TestDecodeFrameRejectsTruncatedPayload(t *testing.T) {
	payload := encodeFrame(testFrame(change.Op{Kind: change.OpInsert, SubjectID: 1, PredicateID: 2, ObjectLiteral: "x"}))
	_, err := decodeFrame(payload[:len(payload)-3])
	require.Error(t, err)
}

func TestAppendThenReadAllPreservesCommitOrder(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	j, err := Open(dir, 0, "", config.NewLogger(cfg, "test"))
	require.NoError(t, err)

	first := testFrame(change.Op{Kind: change.OpInsert, SubjectID: 1, PredicateID: 2, ObjectLiteral: "a"})
	second := testFrame(change.Op{Kind: change.OpDelete, SubjectID: 1, PredicateID: 2, ObjectLiteral: "a"})
	require.NoError(t, j.Append(first))
	require.NoError(t, j.Append(second))
	require.NoError(t, j.Close())

	frames, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, first.TxnID, frames[0].TxnID)
	require.Equal(t, second.TxnID, frames[1].TxnID)
}

func TestReadAllDropsTruncatedTrailingFrame(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	j, err := Open(dir, 0, "", config.NewLogger(cfg, "test"))
	require.NoError(t, err)
	intact := testFrame(change.Op{Kind: change.OpInsert, SubjectID: 1, PredicateID: 2, ObjectLiteral: "kept"})
	require.NoError(t, j.Append(intact))
	path := j.file.Name()
	require.NoError(t, j.Close())

	// Simulate a crash mid-append: a header promising more bytes than the
	// file holds.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	frames, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, intact.TxnID, frames[0].TxnID)
}

func TestRotationStartsANewSuffixedFile(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	j, err := Open(dir, 1, "", config.NewLogger(cfg, "test"))
	require.NoError(t, err)
	j.chunkBytes = 128 // keep the test's frames small

	big := testFrame(change.Op{Kind: change.OpInsert, SubjectID: 1, PredicateID: 2,
		ObjectLiteral: "0123456789012345678901234567890123456789012345678901234567890123"})
	require.NoError(t, j.Append(big))
	require.NoError(t, j.Append(big))
	require.NoError(t, j.Close())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	frames, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, frames, 2)
}

func TestReplayAppliesEachFrameExactlyOnce(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	log := config.NewLogger(cfg, "test")

	ont, err := ontology.LoadBundle(&ontology.Bundle{
		Classes: []ontology.ClassDef{{IRI: "ex:Person"}},
		Properties: []ontology.PropertyDef{
			{IRI: "ex:name", Domain: "ex:Person", Range: "string", Cardinality: ontology.CardinalitySingle},
		},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	be, err := storage.Open(ctx, dir, ont, cfg, log)
	require.NoError(t, err)
	defer be.Close()
	mapper := triple.New(ont)

	// Perform a live write to intern the resources, keep its op, and
	// journal it without recording the applied marker — the state the
	// engine is in when it crashes between journal fsync and commit.
	conn := be.WriteConn()
	op, _, err := mapper.Insert(ctx, conn, triple.NewTxnState(), triple.Triple{
		Subject: "ex:ada", Predicate: "ex:name", Object: rdfvalue.StringValue("Ada"),
	})
	require.NoError(t, err)
	require.NotNil(t, op)

	j, err := Open(dir, 0, "", log)
	require.NoError(t, err)
	require.NoError(t, j.Append(testFrame(*op)))
	require.NoError(t, j.Close())

	applied, err := Replay(ctx, dir, be, mapper)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	// A second replay finds the idempotence marker and applies nothing.
	applied, err = Replay(ctx, dir, be, mapper)
	require.NoError(t, err)
	require.Equal(t, 0, applied)

	var name string
	err = conn.QueryRowContext(ctx, `SELECT p_ex_name FROM class_ex_Person LIMIT 1`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "Ada", name)
}
