package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/quillerr"
)

// encodeFrame serialises a Frame to its on-disk payload (the part covered
// by the CRC, excluding the length prefix and trailing checksum).
//
// Layout: txn_id(16) | unix_nano(8) | op_count(4) | ops...
// Each op: kind(1) | graph_id(8) | subject_id(8) | predicate_id(8) |
//          is_ref(1) | object_id(8) | literal_len(4) | literal_bytes
func encodeFrame(f Frame) []byte {
	var buf bytes.Buffer
	idBytes, _ := f.TxnID.MarshalBinary()
	buf.Write(idBytes)

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(f.Timestamp.UnixNano()))
	buf.Write(tsBuf[:])

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(f.Ops)))
	buf.Write(countBuf[:])

	for _, op := range f.Ops {
		buf.WriteByte(byte(op.Kind))
		writeUint64(&buf, uint64(op.GraphID))
		writeUint64(&buf, uint64(op.SubjectID))
		writeUint64(&buf, uint64(op.PredicateID))
		if op.ObjectIsRef {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeUint64(&buf, uint64(op.ObjectID))
		lit := []byte(op.ObjectLiteral)
		var litLen [4]byte
		binary.LittleEndian.PutUint32(litLen[:], uint32(len(lit)))
		buf.Write(litLen[:])
		buf.Write(lit)
	}
	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func decodeFrame(payload []byte) (Frame, error) {
	if len(payload) < 16+8+4 {
		return Frame{}, quillerr.New(quillerr.KindStorageCorrupt, nil, "journal frame too short")
	}
	var txnID uuid.UUID
	if err := txnID.UnmarshalBinary(payload[:16]); err != nil {
		return Frame{}, quillerr.New(quillerr.KindStorageCorrupt, err, "decode journal txn id")
	}
	off := 16
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(payload[off:off+8])))
	off += 8
	count := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4

	ops := make([]change.Op, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+1+8+8+8+1+8+4 > len(payload) {
			return Frame{}, quillerr.New(quillerr.KindStorageCorrupt, nil, "journal frame truncated mid-op")
		}
		var op change.Op
		op.Kind = change.OpKind(payload[off])
		off++
		op.GraphID = int64(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		op.SubjectID = int64(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		op.PredicateID = int64(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		op.ObjectIsRef = payload[off] == 1
		off++
		op.ObjectID = int64(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		litLen := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		if off+int(litLen) > len(payload) {
			return Frame{}, quillerr.New(quillerr.KindStorageCorrupt, nil, "journal frame literal truncated")
		}
		op.ObjectLiteral = string(payload[off : off+int(litLen)])
		off += int(litLen)
		ops = append(ops, op)
	}
	if off != len(payload) {
		return Frame{}, quillerr.New(quillerr.KindStorageCorrupt, nil, "journal frame has trailing garbage")
	}
	return Frame{TxnID: txnID, Timestamp: ts, Ops: ops}, nil
}

// String renders an op for debug logging.
func opString(op change.Op) string {
	kind := "insert"
	if op.Kind == change.OpDelete {
		kind = "delete"
	}
	return fmt.Sprintf("%s(g=%d,s=%d,p=%d,ref=%v,o=%d,%q)", kind, op.GraphID, op.SubjectID, op.PredicateID, op.ObjectIsRef, op.ObjectID, op.ObjectLiteral)
}
