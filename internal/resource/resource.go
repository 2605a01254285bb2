// Package resource interns every IRI and blank-node label referenced by the
// graph to a stable 64-bit id, and refcounts it so the storage backend knows
// when a resource is no longer named by any triple.
package resource

import (
	"context"
	"database/sql"

	"github.com/quillgraph/quill/internal/quillerr"
)

// Schema is the DDL for the resource table, created once by the storage
// backend alongside the ontology-derived class/property tables.
const Schema = `
CREATE TABLE IF NOT EXISTS resources (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	iri      TEXT NOT NULL UNIQUE,
	refcount INTEGER NOT NULL DEFAULT 0
);
`

// Execer is the subset of *sql.Tx / *sql.Conn this package needs; kept
// minimal so both the write transaction and ad-hoc maintenance code can use
// it without depending on the full storage package.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Intern returns the id for iri, creating a row with refcount 0 if this is
// the first reference. The caller is responsible for bumping the refcount
// via AdjustRefcount within the same transaction once the reference is
// actually recorded.
func Intern(ctx context.Context, ex Execer, iri string) (int64, error) {
	if id, ok, err := Lookup(ctx, ex, iri); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	res, err := ex.ExecContext(ctx, `INSERT INTO resources (iri, refcount) VALUES (?, 0)`, iri)
	if err != nil {
		// Another concurrent interner may have raced us; re-check.
		if id, ok, lookupErr := Lookup(ctx, ex, iri); lookupErr == nil && ok {
			return id, nil
		}
		return 0, quillerr.New(quillerr.KindIO, err, "intern resource %s", iri)
	}
	return res.LastInsertId()
}

// Lookup returns the id for iri if it has already been interned.
func Lookup(ctx context.Context, ex Execer, iri string) (int64, bool, error) {
	var id int64
	err := ex.QueryRowContext(ctx, `SELECT id FROM resources WHERE iri = ?`, iri).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, quillerr.New(quillerr.KindIO, err, "lookup resource %s", iri)
	}
	return id, true, nil
}

// IRI resolves id back to its IRI/blank-node label string.
func IRI(ctx context.Context, ex Execer, id int64) (string, error) {
	var iri string
	err := ex.QueryRowContext(ctx, `SELECT iri FROM resources WHERE id = ?`, id).Scan(&iri)
	if err == sql.ErrNoRows {
		return "", quillerr.New(quillerr.KindUnknownResource, nil, "resource id %d not found", id)
	}
	if err != nil {
		return "", quillerr.New(quillerr.KindIO, err, "resolve resource id %d", id)
	}
	return iri, nil
}

// AdjustRefcount adds delta (positive or negative) to id's refcount. It does
// not delete rows that reach zero — that happens in one pass at commit time
// via Sweep, so a resource referenced and then dereferenced again within the
// same transaction never round-trips through deletion.
func AdjustRefcount(ctx context.Context, ex Execer, id int64, delta int) error {
	_, err := ex.ExecContext(ctx, `UPDATE resources SET refcount = refcount + ? WHERE id = ?`, delta, id)
	if err != nil {
		return quillerr.New(quillerr.KindIO, err, "adjust refcount for resource %d", id)
	}
	return nil
}

// Rower is the subset of *sql.Tx this package needs for Sweep.
type Rower interface {
	Execer
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Sweep deletes every resource row whose refcount has reached zero or below
// and returns the freed ids, so callers (the triple mapper) can also remove
// any now-orphaned class-table rows keyed by those ids. Called once per
// committed transaction, never mid-transaction, so a resource that is
// dereferenced and re-referenced within the same transaction is never
// actually freed.
func Sweep(ctx context.Context, ex Rower) ([]int64, error) {
	rows, err := ex.QueryContext(ctx, `SELECT id FROM resources WHERE refcount <= 0`)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "scan zero-refcount resources")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, quillerr.New(quillerr.KindIO, err, "scan resource id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	_, err = ex.ExecContext(ctx, `DELETE FROM resources WHERE refcount <= 0`)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "delete zero-refcount resources")
	}
	return ids, nil
}
