package engine

import (
	"context"
	"time"
)

// Statement is a reusable prepared SPARQL text with named parameter
// bindings, spec §6's "Connection.statement(sparql) → Statement;
// Statement.bind_{int,double,bool,string}(name, value); Statement.
// execute() → Cursor; Statement.update()". The underlying connection
// still reparses and replans on every execute/update (internal/plan has
// no compiled-plan cache to reuse across distinct parameter values), so
// Statement's only state is the bound parameter map; "prepared" here
// names the wire contract, not a cached query plan.
type Statement struct {
	conn   *Connection
	src    string
	params map[string]Param
	high   bool
}

// Statement builds a new, unbound prepared statement over src.
func (c *Connection) Statement(src string) *Statement {
	return &Statement{conn: c, src: src, params: map[string]Param{}}
}

// High marks this statement's future execute/update calls as
// interactive-priority (spec's Query(high)/Update(high)).
func (s *Statement) High() *Statement {
	s.high = true
	return s
}

// BindInt binds an integer parameter.
func (s *Statement) BindInt(name string, v int64) *Statement {
	s.params[name] = ParamInt64(v)
	return s
}

// BindDouble binds a double parameter.
func (s *Statement) BindDouble(name string, v float64) *Statement {
	s.params[name] = ParamFloat64(v)
	return s
}

// BindBool binds a boolean parameter.
func (s *Statement) BindBool(name string, v bool) *Statement {
	s.params[name] = ParamBoolean(v)
	return s
}

// BindString binds a string parameter.
func (s *Statement) BindString(name string, v string) *Statement {
	s.params[name] = ParamText(v)
	return s
}

// BindIRI binds a resource-identifier parameter.
func (s *Statement) BindIRI(name string, v string) *Statement {
	s.params[name] = ParamResource(v)
	return s
}

// BindDateTime binds a timestamp parameter.
func (s *Statement) BindDateTime(name string, v time.Time) *Statement {
	s.params[name] = ParamTimestamp(v)
	return s
}

// Execute runs the statement as a query, spec §6's "Statement.execute()
// → Cursor".
func (s *Statement) Execute(ctx context.Context) (*Cursor, error) {
	if s.high {
		return s.conn.QueryHigh(ctx, s.src, s.params)
	}
	return s.conn.Query(ctx, s.src, s.params)
}

// Update runs the statement as an update, spec §6's "Statement.update()".
func (s *Statement) Update(ctx context.Context) error {
	if s.high {
		return s.conn.UpdateHigh(ctx, s.src, s.params)
	}
	return s.conn.Update(ctx, s.src, s.params)
}

// UpdateBlank runs the statement as an update and returns its per-row
// blank-node mapping, spec §6's "update_blank".
func (s *Statement) UpdateBlank(ctx context.Context) ([]map[string]string, error) {
	return s.conn.UpdateBlank(ctx, s.src, s.params)
}
