package engine

import (
	"bytes"
	"context"
	"database/sql"
	"io"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/plan"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfio"
	"github.com/quillgraph/quill/internal/scheduler"
	"github.com/quillgraph/quill/internal/sparql"
	"github.com/quillgraph/quill/internal/triple"
)

// Deserialise bulk-imports an RDF document in the given format, spec
// §6's "Deserialise(stream, format)". It runs as a single KindDeserialise
// task: every quad in the document is inserted inside one write
// transaction, journaled and committed together, so a crash mid-import
// leaves either the whole document applied or none of it.
func (c *Connection) Deserialise(ctx context.Context, r io.Reader, format rdfio.Format) error {
	if err := c.requireWritable(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return quillerr.New(quillerr.KindIO, err, "read deserialise input")
	}

	quads, err := decodeQuads(string(data), format, c.ns.Snapshot())
	if err != nil {
		return err
	}

	_, err = c.sched.Submit(ctx, scheduler.KindDeserialise, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		return c.runWriteTask(ctx, tok, func(tx *sql.Tx, st *triple.TxnState) (int, []change.Op, []change.Event, error) {
			var ops []change.Op
			var events []change.Event
			for _, q := range quads {
				op, evs, ierr := c.mapper.Insert(ctx, tx, st, triple.Triple{
					Graph:     q.Graph,
					Subject:   q.Subject,
					Predicate: q.Predicate,
					Object:    q.Object,
				})
				if ierr != nil {
					return 0, nil, nil, ierr
				}
				if op != nil {
					ops = append(ops, *op)
				}
				events = append(events, evs...)
			}
			return len(ops), ops, events, nil
		})
	})
	return err
}

func decodeQuads(src string, format rdfio.Format, prefixes map[string]string) ([]rdfio.Quad, error) {
	if format == rdfio.FormatJSONLD {
		return rdfio.DecodeJSONLD([]byte(src), prefixes)
	}
	dec, err := rdfio.NewDecoder(src, format, prefixes)
	if err != nil {
		return nil, err
	}
	var quads []rdfio.Quad
	for {
		q, ok, derr := dec.Next()
		if derr != nil {
			return nil, derr
		}
		if !ok {
			break
		}
		quads = append(quads, q)
	}
	return quads, nil
}

// Serialise runs src (a CONSTRUCT or DESCRIBE query) and writes its
// resulting graph to w in the given format, spec §6's "serialise(query,
// format) → stream".
func (c *Connection) Serialise(ctx context.Context, w io.Writer, src string, params map[string]Param, format rdfio.Format) error {
	text, err := substituteParams(src, params)
	if err != nil {
		return err
	}
	q, err := sparql.Parse(text, c.ns.Snapshot())
	if err != nil {
		return err
	}
	if q.Form != sparql.FormConstruct && q.Form != sparql.FormDescribe {
		return quillerr.New(quillerr.KindConstraintViolated, nil, "serialise requires a CONSTRUCT or DESCRIBE query")
	}

	var graph []plan.Triple
	_, err = c.sched.Submit(ctx, scheduler.KindQueryLow, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		conn, cerr := c.be.ReadConn(ctx)
		if cerr != nil {
			return 0, cerr
		}
		defer conn.Close()
		res, qerr := c.planner.ExecuteQuery(ctx, conn, q)
		if qerr != nil {
			return 0, qerr
		}
		graph = res.Graph
		return 0, nil
	})
	if err != nil {
		return err
	}

	quads := make([]rdfio.Quad, 0, len(graph))
	for _, t := range graph {
		quads = append(quads, rdfio.Quad{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object})
	}

	var buf bytes.Buffer
	if err := rdfio.Encode(&buf, format, quads, c.ns); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}
