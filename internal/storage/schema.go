package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/resource"
)

// columnType maps an ontology primitive range (or "object property") to a
// SQLite storage class.
func columnType(p *ontology.PropertyDescriptor) string {
	if p.IsObjectProp {
		return "INTEGER" // resource id
	}
	switch p.RangeKind {
	case ontology.RangeInteger:
		return "INTEGER"
	case ontology.RangeDouble:
		return "REAL"
	case ontology.RangeBoolean:
		return "INTEGER"
	case ontology.RangeDateTime, ontology.RangeString, ontology.RangeLangString:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// BuildSchema renders the full DDL for an ontology: the resource table, one
// table per class, one table per multi-valued property, secondary indexes
// for properties flagged `indexed`, and one FTS5 virtual table (plus sync
// triggers) per property flagged `fulltext`.
func BuildSchema(o *ontology.Ontology) string {
	var b strings.Builder
	b.WriteString(resource.Schema)
	b.WriteString("\n")

	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS journal_applied (
	txn_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS engine_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS table_stats (
	table_name TEXT PRIMARY KEY,
	row_count  INTEGER NOT NULL DEFAULT 0
);
`)

	singleColsByClass := map[string][]*ontology.PropertyDescriptor{}
	for _, p := range o.Properties() {
		if p.Kind == ontology.SingleColumn {
			singleColsByClass[p.Table] = append(singleColsByClass[p.Table], p)
		}
	}

	for _, c := range o.Classes() {
		fmt.Fprintf(&b, "\nCREATE TABLE IF NOT EXISTS %s (\n\tsubject_id INTEGER NOT NULL,\n\tgraph_id INTEGER NOT NULL DEFAULT 0", c.Table)
		for _, p := range singleColsByClass[c.Table] {
			fmt.Fprintf(&b, ",\n\t%s %s", p.Column, columnType(p))
		}
		fmt.Fprintf(&b, ",\n\tPRIMARY KEY (subject_id, graph_id)\n);\n")
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_subject ON %s(subject_id);\n", c.Table, c.Table)

		for _, p := range singleColsByClass[c.Table] {
			if p.Indexed {
				fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s ON %s(%s);\n", p.Table+"_"+p.Column, c.Table, p.Column)
			}
			if p.FullText {
				writeFTS(&b, p.FTSTable, c.Table, p.Column)
			}
		}
	}

	for _, p := range o.Properties() {
		if p.Kind != ontology.MultiRow {
			continue
		}
		fmt.Fprintf(&b, "\nCREATE TABLE IF NOT EXISTS %s (\n\tsubject_id INTEGER NOT NULL,\n\tgraph_id INTEGER NOT NULL DEFAULT 0,\n\tvalue %s NOT NULL\n);\n", p.Table, columnType(p))
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_subject ON %s(subject_id, graph_id);\n", p.Table, p.Table)
		if p.Indexed {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_value ON %s(value);\n", p.Table, p.Table)
		}
		if p.FullText {
			writeFTS(&b, p.FTSTable, p.Table, "value")
		}
	}

	return b.String()
}

// MigrateColumns reconciles an existing database with an additively grown
// ontology: CREATE TABLE IF NOT EXISTS leaves an existing class table
// untouched, so single-valued property columns added since the table was
// first created have to be ALTER TABLE'd in. Removals are not handled —
// schema evolution beyond additive ontology changes is a non-goal.
func (b *Backend) MigrateColumns(ctx context.Context) error {
	singleColsByClass := map[string][]*ontology.PropertyDescriptor{}
	for _, p := range b.ont.Properties() {
		if p.Kind == ontology.SingleColumn {
			singleColsByClass[p.Table] = append(singleColsByClass[p.Table], p)
		}
	}
	for _, c := range b.ont.Classes() {
		existing, err := b.tableColumns(ctx, c.Table)
		if err != nil {
			return err
		}
		for _, p := range singleColsByClass[c.Table] {
			if existing[p.Column] {
				continue
			}
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.Table, p.Column, columnType(p))
			if _, err := b.writeConn.ExecContext(ctx, ddl); err != nil {
				return quillerr.New(quillerr.KindStorageCorrupt, err, "add column %s.%s", c.Table, p.Column)
			}
			if p.Indexed {
				idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s ON %s(%s)", p.Table+"_"+p.Column, c.Table, p.Column)
				if _, err := b.writeConn.ExecContext(ctx, idx); err != nil {
					return quillerr.New(quillerr.KindStorageCorrupt, err, "index new column %s.%s", c.Table, p.Column)
				}
			}
		}
	}
	return nil
}

func (b *Backend) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := b.writeConn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "read columns of %s", table)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, quillerr.New(quillerr.KindIO, err, "scan column of %s", table)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// writeFTS emits an FTS5 virtual table over sourceTable.sourceColumn using
// the external-content pattern, plus triggers that keep it synchronously in
// sync with the source table — spec §4.6: "Maintenance is synchronous with
// the property write — there is no rebuild queue."
func writeFTS(b *strings.Builder, ftsTable, sourceTable, sourceColumn string) {
	fmt.Fprintf(b, `
CREATE VIRTUAL TABLE IF NOT EXISTS %[1]s USING fts5(
	%[3]s,
	content='%[2]s',
	content_rowid='rowid',
	tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS %[1]s_ai AFTER INSERT ON %[2]s BEGIN
	INSERT INTO %[1]s(rowid, %[3]s) VALUES (new.rowid, new.%[3]s);
END;

CREATE TRIGGER IF NOT EXISTS %[1]s_ad AFTER DELETE ON %[2]s BEGIN
	INSERT INTO %[1]s(%[1]s, rowid, %[3]s) VALUES('delete', old.rowid, old.%[3]s);
END;

CREATE TRIGGER IF NOT EXISTS %[1]s_au AFTER UPDATE ON %[2]s BEGIN
	INSERT INTO %[1]s(%[1]s, rowid, %[3]s) VALUES('delete', old.rowid, old.%[3]s);
	INSERT INTO %[1]s(rowid, %[3]s) VALUES (new.rowid, new.%[3]s);
END;
`, ftsTable, sourceTable, sourceColumn)
}
