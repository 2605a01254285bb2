package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/journal"
	"github.com/quillgraph/quill/internal/notify"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/resource"
	"github.com/quillgraph/quill/internal/scheduler"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/triple"
)

// writeBatch is the state one or more coalesced write tasks accumulate
// before the scheduler ends the batch: a single open *sql.Tx, the
// cross-task single-valued-property conflict tracker (spec property 4),
// and every op/event produced so far, flushed together on commit.
type writeBatch struct {
	tx     *sql.Tx
	txnID  uuid.UUID
	state  *triple.TxnState
	ops    []change.Op
	events []change.Event
}

// Update runs src at low priority. See UpdateHigh for the interactive-
// priority variant and UpdateBlank for the blank-node-mapping return.
func (c *Connection) Update(ctx context.Context, src string, params map[string]Param) error {
	_, err := c.update(ctx, src, params, scheduler.KindUpdateLow)
	return err
}

// UpdateHigh runs src ahead of queued low-priority writes.
func (c *Connection) UpdateHigh(ctx context.Context, src string, params map[string]Param) error {
	_, err := c.update(ctx, src, params, scheduler.KindUpdateHigh)
	return err
}

// UpdateBlank runs src and additionally returns, for each WHERE solution
// row in source order, the blank-node labels the row's templates minted
// mapped to their allocated identifiers (spec §6: "update_blank(sparql,
// params) → [[{label→iri}]]"). INSERT/DELETE DATA forms and a WHERE
// clause that matched nothing both report an empty outer slice.
func (c *Connection) UpdateBlank(ctx context.Context, src string, params map[string]Param) ([]map[string]string, error) {
	return c.update(ctx, src, params, scheduler.KindUpdateLow)
}

func (c *Connection) update(ctx context.Context, src string, params map[string]Param, kind scheduler.Kind) ([]map[string]string, error) {
	if err := c.requireWritable(); err != nil {
		return nil, err
	}
	text, err := substituteParams(src, params)
	if err != nil {
		return nil, err
	}
	upd, err := sparql.ParseUpdate(text, c.ns.Snapshot())
	if err != nil {
		return nil, err
	}

	var blanks []map[string]string
	_, err = c.sched.Submit(ctx, kind, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		return c.runWriteTask(ctx, tok, func(tx *sql.Tx, st *triple.TxnState) (int, []change.Op, []change.Event, error) {
			ops, events, bm, uerr := c.planner.ExecuteUpdateBlank(ctx, tx, c.mapper, st, upd)
			if uerr != nil {
				return 0, nil, nil, uerr
			}
			blanks = bm
			return len(ops), ops, events, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if blanks == nil {
		blanks = []map[string]string{}
	}
	return blanks, nil
}

// writeFunc performs one task's database work against the batch's shared
// transaction and TxnState, returning the ops/events to journal and
// notify once the batch ends.
type writeFunc func(tx *sql.Tx, st *triple.TxnState) (rows int, ops []change.Op, events []change.Event, err error)

// runWriteTask opens a new transaction when the scheduler hands this task
// a fresh batch, runs fn against the (possibly shared) transaction, and
// commits plus journals plus notifies when the scheduler says the batch
// must end now — spec §4.7's coalescing contract, where several
// consecutive low-priority writes can share one commit.
func (c *Connection) runWriteTask(ctx context.Context, tok scheduler.BatchToken, fn writeFunc) (int, error) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	if tok.OpenNew {
		tx, err := c.be.WriteConn().BeginTx(ctx, nil)
		if err != nil {
			return 0, quillerr.New(quillerr.KindIO, err, "begin write transaction")
		}
		c.batch = &writeBatch{tx: tx, txnID: uuid.New(), state: triple.NewTxnState()}
	}
	b := c.batch
	if b == nil {
		return 0, quillerr.New(quillerr.KindInternal, nil, "write task scheduled without an open batch")
	}

	rows, ops, events, err := fn(b.tx, b.state)
	if err != nil {
		b.tx.Rollback()
		c.batch = nil
		return 0, err
	}
	b.ops = append(b.ops, ops...)
	b.events = append(b.events, events...)

	if tok.MustEnd {
		if ferr := c.flushBatch(ctx); ferr != nil {
			return 0, ferr
		}
	}
	return rows, nil
}

// flushBatchIfOpen is the scheduler-registered flusher: it commits the
// current coalesced batch if one is open and is a no-op otherwise.
func (c *Connection) flushBatchIfOpen(ctx context.Context) error {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	if c.batch == nil {
		return nil
	}
	return c.flushBatch(ctx)
}

// Commit forces the current coalesced write batch, if any, to close now —
// spec §4.7's Commit task.
func (c *Connection) Commit(ctx context.Context) error {
	_, err := c.sched.Submit(ctx, scheduler.KindUpdateHigh, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		return 0, c.flushBatchIfOpen(ctx)
	})
	return err
}

// Flush blocks until every task queued ahead of it has completed — spec
// §4.7's Flush task. It rides the lowest priority lane, so everything
// already queued drains first.
func (c *Connection) Flush(ctx context.Context) error {
	_, err := c.sched.Submit(ctx, scheduler.KindDeserialise, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		return 0, nil
	})
	return err
}

// flushBatch sweeps refcounts to zero, journals the batch's ops (fsync
// before the row recording its own application), commits the database
// transaction, and only then publishes deduplicated notifications — spec
// §4.3's "fsync completes before the corresponding database commit is
// acknowledged" and §4.8's "only after the storage commit has durably
// succeeded". c.batchMu is held by the caller.
func (c *Connection) flushBatch(ctx context.Context) error {
	b := c.batch
	c.batch = nil

	if _, err := resource.Sweep(ctx, b.tx); err != nil {
		b.tx.Rollback()
		return err
	}

	if len(b.ops) > 0 {
		frame := journal.Frame{TxnID: b.txnID, Timestamp: time.Now(), Ops: b.ops}
		if err := c.jr.Append(frame); err != nil {
			b.tx.Rollback()
			return err
		}
		if _, err := b.tx.ExecContext(ctx, `INSERT INTO journal_applied(txn_id) VALUES (?)`, b.txnID.String()); err != nil {
			b.tx.Rollback()
			return quillerr.New(quillerr.KindIO, err, "record journal_applied")
		}
	}

	if err := b.tx.Commit(); err != nil {
		return quillerr.New(quillerr.KindIO, err, "commit write transaction")
	}

	c.notifier.Publish(notify.Dedup(b.events))
	return nil
}
