package engine

import (
	"context"

	"github.com/quillgraph/quill/internal/plan"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/scheduler"
	"github.com/quillgraph/quill/internal/sparql"
)

// Cursor iterates a query's materialised result, spec §6's
// "Statement.execute() → Cursor". The planner already fully materialises
// a query's Table before returning (internal/plan has no incremental
// pull interface), so Cursor is a thin position counter over that
// pre-computed Result rather than a streaming iterator; that matches the
// scheduler contract, since the whole query already ran to completion
// inside one Submit call before the caller ever sees a Cursor.
type Cursor struct {
	result *plan.Result
	pos    int
}

// Next advances the cursor and reports whether a row is available.
func (c *Cursor) Next() bool {
	if c.result.Form != sparql.FormSelect {
		return false
	}
	if c.pos >= len(c.result.Rows) {
		return false
	}
	c.pos++
	return true
}

// Row returns the current row's bindings, valid only after a Next that
// returned true.
func (c *Cursor) Row() plan.Row {
	if c.pos == 0 || c.pos > len(c.result.Rows) {
		return nil
	}
	return c.result.Rows[c.pos-1]
}

// Value looks up a single variable's binding in the current row.
func (c *Cursor) Value(v sparql.Variable) (rdfvalue.Value, bool) {
	row := c.Row()
	if row == nil {
		return rdfvalue.Value{}, false
	}
	val, ok := row[v]
	return val, ok
}

// Vars returns the projected variables in projection order (SELECT only).
func (c *Cursor) Vars() []sparql.Variable { return c.result.Vars }

// Ask returns the boolean result of an ASK query.
func (c *Cursor) Ask() bool { return c.result.Ask }

// Graph returns the constructed/described triples of a CONSTRUCT or
// DESCRIBE query.
func (c *Cursor) Graph() []plan.Triple { return c.result.Graph }

// Form reports which of the four SPARQL query forms produced this result.
func (c *Cursor) Form() sparql.QueryForm { return c.result.Form }

// Query runs src at low priority, spec §4.7's default for ad hoc reads;
// see QueryHigh for the interactive-priority variant.
func (c *Connection) Query(ctx context.Context, src string, params map[string]Param) (*Cursor, error) {
	return c.query(ctx, src, params, scheduler.KindQueryLow)
}

// QueryHigh runs src ahead of any already-queued low-priority work, for
// callers on an interactive path (spec §4.7's priority table: "Query
// (high), Update(high), Query(low), Update(low), Deserialise").
func (c *Connection) QueryHigh(ctx context.Context, src string, params map[string]Param) (*Cursor, error) {
	return c.query(ctx, src, params, scheduler.KindQueryHigh)
}

func (c *Connection) query(ctx context.Context, src string, params map[string]Param, kind scheduler.Kind) (*Cursor, error) {
	text, err := substituteParams(src, params)
	if err != nil {
		return nil, err
	}
	q, err := sparql.Parse(text, c.ns.Snapshot())
	if err != nil {
		return nil, err
	}

	var result *plan.Result
	_, err = c.sched.Submit(ctx, kind, func(ctx context.Context, tok scheduler.BatchToken) (int, error) {
		conn, cerr := c.be.ReadConn(ctx)
		if cerr != nil {
			return 0, cerr
		}
		defer conn.Close()
		res, qerr := c.planner.ExecuteQuery(ctx, conn, q)
		if qerr != nil {
			return 0, qerr
		}
		result = res
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, quillerr.New(quillerr.KindInternal, nil, "query produced no result")
	}
	return &Cursor{result: result}, nil
}
