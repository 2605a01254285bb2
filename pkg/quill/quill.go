// Package quill is the public library surface for embedding the engine
// in a Go program: spec §6's "local library interface", a thin re-export
// of internal/engine's Connection so application code imports one
// package instead of reaching into internal/.
package quill

import (
	"context"
	"io"

	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/engine"
	"github.com/quillgraph/quill/internal/notify"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/rdfio"
	"github.com/quillgraph/quill/internal/sparql"
)

// Re-exported types an embedder needs without importing internal/.
type (
	Connection = engine.Connection
	Cursor     = engine.Cursor
	Statement  = engine.Statement
	Param      = engine.Param
	Flags      = engine.Flags
	Option     = config.Option
	Format     = rdfio.Format
	Handler    = notify.Handler
	Namespaces = sparql.Namespaces
	Ontology   = ontology.Ontology
)

// Format constants for Deserialise/Serialise, spec §6's "formats turtle,
// trig, json-ld".
const (
	FormatTurtle = rdfio.FormatTurtle
	FormatTriG   = rdfio.FormatTriG
	FormatJSONLD = rdfio.FormatJSONLD
)

// Config options, re-exported for callers constructing Open's opts.
var (
	WithVerbosity            = config.WithVerbosity
	WithMaxConcurrentReaders = config.WithMaxConcurrentReaders
)

// Verbosity levels, spec §6's `verbosity` option.
const (
	VerbosityErrors   = config.VerbosityErrors
	VerbosityMinimal  = config.VerbosityMinimal
	VerbosityDetailed = config.VerbosityDetailed
	VerbosityDebug    = config.VerbosityDebug
)

// Parameter constructors for Statement binding and ad hoc Query/Update
// calls, spec §6's bind_{int,double,bool,string}.
var (
	ParamInt      = engine.ParamInt64
	ParamDouble   = engine.ParamFloat64
	ParamBool     = engine.ParamBoolean
	ParamString   = engine.ParamText
	ParamIRI      = engine.ParamResource
	ParamDateTime = engine.ParamTimestamp
)

// Open is spec §6's "Connection.open(path, ontology_path, flags,
// options)": it loads the ontology, opens (replaying the journal if the
// stored schema version is stale) the storage backend, and starts the
// scheduler.
func Open(ctx context.Context, dataDir, ontologyDir string, flags Flags, opts ...Option) (*Connection, error) {
	return engine.Open(ctx, flags, dataDir, ontologyDir, opts...)
}

// Query runs a SELECT/CONSTRUCT/DESCRIBE/ASK query at low priority.
func Query(ctx context.Context, c *Connection, sparqlText string, params map[string]Param) (*Cursor, error) {
	return c.Query(ctx, sparqlText, params)
}

// Update runs an INSERT/DELETE/Modify update at low priority.
func Update(ctx context.Context, c *Connection, sparqlText string, params map[string]Param) error {
	return c.Update(ctx, sparqlText, params)
}

// Deserialise bulk-imports an RDF document.
func Deserialise(ctx context.Context, c *Connection, r io.Reader, format Format) error {
	return c.Deserialise(ctx, r, format)
}

// Serialise writes a CONSTRUCT/DESCRIBE query's result graph to w.
func Serialise(ctx context.Context, c *Connection, w io.Writer, sparqlText string, params map[string]Param, format Format) error {
	return c.Serialise(ctx, w, sparqlText, params, format)
}
