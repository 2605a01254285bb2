package journal

import (
	"context"
	"database/sql"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/storage"
	"github.com/quillgraph/quill/internal/triple"
)

// Replay re-applies every journal frame in dataDir against be that has not
// already been recorded in the journal_applied table, one SQL transaction
// per frame, skipping frames whose txn id is already applied — spec §4.3's
// "duplicate transaction ids are skipped on replay" and "an interrupted
// write leaves either all or none of its ops visible". It returns the
// number of frames actually applied (0 on a clean restart with nothing
// outstanding).
func Replay(ctx context.Context, dataDir string, be *storage.Backend, mapper *triple.Mapper) (int, error) {
	frames, err := ReadAll(dataDir)
	if err != nil {
		return 0, err
	}

	conn := be.WriteConn()
	applied := 0
	for _, frame := range frames {
		var already int
		err := conn.QueryRowContext(ctx, `SELECT 1 FROM journal_applied WHERE txn_id = ?`, frame.TxnID.String()).Scan(&already)
		if err == nil {
			continue // already applied
		}
		if err != sql.ErrNoRows {
			return applied, quillerr.New(quillerr.KindIO, err, "check journal_applied for %s", frame.TxnID)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return applied, quillerr.New(quillerr.KindIO, err, "begin replay transaction")
		}
		ok := true
		for _, op := range frame.Ops {
			if err := mapper.ApplyResolvedOp(ctx, tx, op); err != nil {
				tx.Rollback()
				ok = false
				break
			}
		}
		if !ok {
			return applied, quillerr.New(quillerr.KindStorageCorrupt, nil, "replay of frame %s failed", frame.TxnID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO journal_applied(txn_id) VALUES (?)`, frame.TxnID.String()); err != nil {
			tx.Rollback()
			return applied, quillerr.New(quillerr.KindIO, err, "record journal_applied for %s", frame.TxnID)
		}
		if err := tx.Commit(); err != nil {
			return applied, quillerr.New(quillerr.KindIO, err, "commit replay transaction")
		}
		applied++
	}
	return applied, nil
}
