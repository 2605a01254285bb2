package plan

import (
	"context"

	"github.com/quillgraph/quill/internal/fts"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/resource"
	"github.com/quillgraph/quill/internal/storage"
)

// ftsCache memoizes internal/fts.Match results and resource-id lookups for
// the lifetime of one query, so a fts:match(...) filter evaluated once per
// row doesn't re-run the FTS5 MATCH query once per row too.
type ftsCache struct {
	ctx context.Context
	ex  storage.Execer
	pl  *Planner

	matches map[string]map[int64]bool // "predIRI\x00expr" -> matching subject ids
	ids     map[string]int64
}

func (pl *Planner) newFTSCache(ctx context.Context, ex storage.Execer) *ftsCache {
	return &ftsCache{
		ctx:     ctx,
		ex:      ex,
		pl:      pl,
		matches: map[string]map[int64]bool{},
		ids:     map[string]int64{},
	}
}

func (c *ftsCache) match(predIRI, expr string) (map[int64]bool, error) {
	key := predIRI + "\x00" + expr
	if m, ok := c.matches[key]; ok {
		return m, nil
	}
	prop := c.pl.ont.PropertyOf(predIRI)
	if prop == nil || !prop.FullText {
		return nil, quillerr.New(quillerr.KindUnknownResource, nil, "property %s is not full-text indexed", predIRI)
	}
	sourceTable := prop.Table
	ids, err := fts.Match(c.ctx, c.ex, prop.FTSTable, sourceTable, expr)
	if err != nil {
		return nil, err
	}
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	c.matches[key] = m
	return m, nil
}

// snippet returns the FTS5-generated excerpt around expr's first match in
// subjID's value of predIRI.
func (c *ftsCache) snippet(predIRI string, subjID int64, expr, beginTag, endTag string, maxTokens int) (string, error) {
	prop := c.pl.ont.PropertyOf(predIRI)
	if prop == nil || !prop.FullText {
		return "", quillerr.New(quillerr.KindUnknownResource, nil, "property %s is not full-text indexed", predIRI)
	}
	return fts.Snippet(c.ctx, c.ex, prop.FTSTable, prop.Table, subjID, expr, beginTag, endTag, maxTokens)
}

// offsets returns the matched-token byte spans within subjID's stored
// values of predIRI.
func (c *ftsCache) offsets(predIRI string, subjID int64, expr string) ([]fts.Offset, error) {
	prop := c.pl.ont.PropertyOf(predIRI)
	if prop == nil || !prop.FullText {
		return nil, quillerr.New(quillerr.KindUnknownResource, nil, "property %s is not full-text indexed", predIRI)
	}
	col := prop.Column
	if prop.Kind == ontology.MultiRow {
		col = "value"
	}
	return fts.Offsets(c.ctx, c.ex, prop.Table, col, subjID, expr)
}

func (c *ftsCache) resourceID(iri string) (int64, bool) {
	if id, ok := c.ids[iri]; ok {
		return id, true
	}
	id, ok, err := resource.Lookup(c.ctx, c.ex, iri)
	if err != nil || !ok {
		return 0, false
	}
	c.ids[iri] = id
	return id, true
}
