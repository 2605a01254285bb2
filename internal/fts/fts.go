// Package fts is the query-time half of full-text search: normalising
// search terms the same way the FTS5 `unicode61 remove_diacritics 2`
// tokenizer normalises indexed content (see internal/storage/schema.go,
// which creates the virtual tables this package queries), translating the
// SPARQL-facing expression syntax (AND/OR, quoted phrases, `term*` prefix)
// into an FTS5 MATCH query, and wrapping `match`/`snippet`/`offsets`.
package fts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/storage"
)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize case-folds and strips diacritics from s, matching how the
// indexed column was tokenized, so a query-side term lines up with the
// index-side token it's meant to find.
func Normalize(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// ToMatchQuery translates the spec's expression subset — AND, OR, a quoted
// phrase, and a `term*` prefix — into the equivalent FTS5 MATCH syntax.
// FTS5 already accepts AND/OR/phrase/prefix natively, so this mostly
// normalises term casing/diacritics while leaving operators and quoting
// untouched.
func ToMatchQuery(expr string) string {
	var b strings.Builder
	var cur strings.Builder
	inPhrase := false
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		term := cur.String()
		cur.Reset()
		upper := strings.ToUpper(term)
		if upper == "AND" || upper == "OR" || upper == "NOT" {
			b.WriteString(upper)
			b.WriteByte(' ')
			return
		}
		prefix := strings.HasSuffix(term, "*")
		term = strings.TrimSuffix(term, "*")
		b.WriteString(Normalize(term))
		if prefix {
			b.WriteByte('*')
		}
		b.WriteByte(' ')
	}
	for _, r := range expr {
		switch {
		case r == '"':
			if inPhrase {
				b.WriteByte('"')
				b.WriteString(Normalize(cur.String()))
				b.WriteByte('"')
				b.WriteByte(' ')
				cur.Reset()
				inPhrase = false
			} else {
				flush()
				inPhrase = true
			}
		case inPhrase:
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return strings.TrimSpace(b.String())
}

// Match returns the subject ids of every row in sourceTable whose indexed
// column satisfies expr, by joining the FTS5 virtual table's implicit
// rowid back to sourceTable.rowid.
func Match(ctx context.Context, ex storage.Execer, ftsTable, sourceTable string, expr string) ([]int64, error) {
	rows, err := ex.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT t.subject_id FROM %[2]s t JOIN %[1]s f ON f.rowid = t.rowid WHERE f.%[1]s MATCH ?`,
		ftsTable, sourceTable), ToMatchQuery(expr))
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "fts match on %s", ftsTable)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, quillerr.New(quillerr.KindIO, err, "scan fts match row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snippet returns an FTS5-generated excerpt around the first match of expr
// within subjectID's indexed value, wrapping matches in beginTag/endTag and
// truncating to roughly maxTokens tokens of context.
func Snippet(ctx context.Context, ex storage.Execer, ftsTable, sourceTable string, subjectID int64, expr, beginTag, endTag string, maxTokens int) (string, error) {
	var out string
	err := ex.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT snippet(%[1]s, -1, ?, ?, '...', ?) FROM %[2]s t JOIN %[1]s f ON f.rowid = t.rowid
		 WHERE t.subject_id = ? AND f.%[1]s MATCH ?`,
		ftsTable, sourceTable),
		beginTag, endTag, maxTokens, subjectID, ToMatchQuery(expr)).Scan(&out)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", quillerr.New(quillerr.KindIO, err, "fts snippet on %s", ftsTable)
	}
	return out, nil
}

// Offset is one match location within the indexed value.
type Offset struct {
	ByteOffset int
	Length     int
}

// Offsets returns the byte offsets of every token in subjectID's stored
// value that matches a term of expr. FTS5 dropped FTS3/FTS4's offsets()
// auxiliary function, so the scan runs in Go instead: the stored value is
// walked token by token with the same normalisation the index applies,
// keeping the reported offsets valid for the original (un-normalised)
// text. Every stored row for the subject is scanned, in row order, so
// multi-valued and per-graph values all contribute.
func Offsets(ctx context.Context, ex storage.Execer, sourceTable, sourceColumn string, subjectID int64, expr string) ([]Offset, error) {
	terms := exprTerms(expr)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := ex.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE subject_id = ? AND %s IS NOT NULL`,
		sourceColumn, sourceTable, sourceColumn), subjectID)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "fts offsets on %s", sourceTable)
	}
	defer rows.Close()

	var out []Offset
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, quillerr.New(quillerr.KindIO, err, "scan fts offsets value")
		}
		out = append(out, scanTokens(value, terms)...)
	}
	return out, rows.Err()
}

// term is one normalised search term from an fts expression; prefix marks
// a trailing-* term that matches any token it starts.
type term struct {
	text   string
	prefix bool
}

// exprTerms extracts the normalised terms of the expression subset:
// AND/OR/NOT operators are dropped, a quoted phrase contributes each of
// its words, a trailing * marks a prefix term.
func exprTerms(expr string) []term {
	var out []term
	for _, field := range strings.FieldsFunc(expr, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"'
	}) {
		upper := strings.ToUpper(field)
		if upper == "AND" || upper == "OR" || upper == "NOT" {
			continue
		}
		prefix := strings.HasSuffix(field, "*")
		word := Normalize(strings.TrimSuffix(field, "*"))
		if word != "" {
			out = append(out, term{text: word, prefix: prefix})
		}
	}
	return out
}

// scanTokens walks value token by token (a token is a maximal run of
// letters and digits, matching the unicode61 tokenizer's segmentation) and
// reports the byte span of every token whose normalised form matches one
// of terms.
func scanTokens(value string, terms []term) []Offset {
	var out []Offset
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		tok := Normalize(value[start:end])
		for _, t := range terms {
			if tok == t.text || (t.prefix && strings.HasPrefix(tok, t.text)) {
				out = append(out, Offset{ByteOffset: start, Length: end - start})
				break
			}
		}
		start = -1
	}
	for i, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(value))
	return out
}
