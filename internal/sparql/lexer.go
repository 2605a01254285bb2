// Package sparql is the SPARQL 1.1 front end described in spec §4.4:
// lexing, recursive-descent parsing straight into a SPARQL algebra tree
// (BGP, Join, LeftJoin, Filter, Project, Distinct, Reduced, Slice,
// OrderBy, Group, Extend), namespace expansion, and named-parameter
// binding. No pack example implements SPARQL; the hand-rolled,
// parser-generator-free recursive descent follows the shape of
// google-badwolf's bql/lexer+bql/semantic split (a token-offset lexer feeding
// a statement builder) adapted from BQL's grammar to SPARQL's, with the
// same small, explicit, no-dependency recursive-descent style the rest of
// this codebase uses for its own hand-rolled parsers.
package sparql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind enumerates the lexical classes the SPARQL/Update grammar needs.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokKeyword
	TokVariable  // ?x or $x
	TokIRIRef    // <...>
	TokPName     // prefix:local
	TokPrefixNS  // prefix: with empty local (PREFIX decl namespace)
	TokString    // quoted string, single or triple quoted
	TokInteger
	TokDouble
	TokBoolean
	TokPunct // ( ) { } . , ; ^^ ^ / | * + ? = != < > <= >= && ||
	TokA     // the "a" rdf:type shorthand
)

// Token is one lexical unit with its byte offset, used by quillerr's
// ParseError{offset} so an interactive caller can position a cursor.
type Token struct {
	Kind   TokenKind
	Text   string
	Offset int
}

var keywords = map[string]bool{
	"SELECT": true, "CONSTRUCT": true, "DESCRIBE": true, "ASK": true,
	"WHERE": true, "FILTER": true, "OPTIONAL": true, "UNION": true,
	"BIND": true, "AS": true, "VALUES": true, "GRAPH": true, "WITH": true,
	"INSERT": true, "DELETE": true, "DATA": true, "PREFIX": true, "BASE": true,
	"DISTINCT": true, "REDUCED": true, "ORDER": true, "BY": true, "ASC": true,
	"DESC": true, "LIMIT": true, "OFFSET": true, "GROUP": true, "HAVING": true,
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"GROUP_CONCAT": true, "SEPARATOR": true, "isIRI": true, "isURI": true,
	"isBLANK": true, "isLITERAL": true, "REGEX": true, "BOUND": true,
	"NOT": true, "IN": true, "EXISTS": true, "SERVICE": true,
	"STR": true, "LANG": true, "UNDEF": true,
}

// Lexer tokenises SPARQL query/update text.
type Lexer struct {
	src string
	pos int
}

// New returns a Lexer positioned at the start of src.
func New(src string) *Lexer { return &Lexer{src: src} }

func (l *Lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) skipTrivia() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '#' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		if unicode.IsSpace(rune(c)) {
			l.pos++
			continue
		}
		break
	}
}

// Next returns the next token, or a TokEOF token at end of input.
func (l *Lexer) Next() Token {
	l.skipTrivia()
	start := l.pos
	if l.pos >= len(l.src) {
		return Token{Kind: TokEOF, Offset: start}
	}
	c := l.src[l.pos]

	switch {
	case c == '?' || c == '$':
		l.pos++
		begin := l.pos
		for l.pos < len(l.src) && isNameChar(rune(l.src[l.pos])) {
			l.pos++
		}
		return Token{Kind: TokVariable, Text: l.src[begin:l.pos], Offset: start}

	case c == '<':
		l.pos++
		begin := l.pos
		for l.pos < len(l.src) && l.src[l.pos] != '>' {
			l.pos++
		}
		text := l.src[begin:l.pos]
		if l.pos < len(l.src) {
			l.pos++ // consume '>'
		}
		return Token{Kind: TokIRIRef, Text: text, Offset: start}

	case c == '"' || c == '\'':
		return l.lexString(start, c)

	case c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]):
		return l.lexNumber(start)

	case isDigit(c) || (c == '-' || c == '+') && l.pos+1 < len(l.src) && (isDigit(l.src[l.pos+1]) || l.src[l.pos+1] == '.'):
		return l.lexNumber(start)

	case isNameStart(rune(c)):
		return l.lexNameOrKeyword(start)

	default:
		return l.lexPunct(start)
	}
}

func (l *Lexer) lexString(start int, quote byte) Token {
	triple := l.pos+2 < len(l.src) && l.src[l.pos+1] == quote && l.src[l.pos+2] == quote
	if triple {
		l.pos += 3
	} else {
		l.pos++
	}
	var b strings.Builder
	for l.pos < len(l.src) {
		if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
			b.WriteByte(unescape(l.src[l.pos+1]))
			l.pos += 2
			continue
		}
		if triple {
			if l.pos+2 < len(l.src) && l.src[l.pos] == quote && l.src[l.pos+1] == quote && l.src[l.pos+2] == quote {
				l.pos += 3
				break
			}
		} else if l.src[l.pos] == quote {
			l.pos++
			break
		}
		b.WriteByte(l.src[l.pos])
		l.pos++
	}
	return Token{Kind: TokString, Text: b.String(), Offset: start}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func (l *Lexer) lexNumber(start int) Token {
	isDouble := false
	if l.src[l.pos] == '-' || l.src[l.pos] == '+' {
		l.pos++
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		isDouble = true
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		isDouble = true
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	kind := TokInteger
	if isDouble {
		kind = TokDouble
	}
	return Token{Kind: kind, Text: l.src[start:l.pos], Offset: start}
}

func (l *Lexer) lexNameOrKeyword(start int) Token {
	for l.pos < len(l.src) && isNameChar(rune(l.src[l.pos])) {
		l.pos++
	}
	// prefix:local or bare prefix:
	if l.pos < len(l.src) && l.src[l.pos] == ':' {
		prefix := l.src[start:l.pos]
		l.pos++
		localStart := l.pos
		for l.pos < len(l.src) && isNameChar(rune(l.src[l.pos])) {
			l.pos++
		}
		local := l.src[localStart:l.pos]
		if local == "" {
			return Token{Kind: TokPrefixNS, Text: prefix, Offset: start}
		}
		return Token{Kind: TokPName, Text: prefix + ":" + local, Offset: start}
	}
	word := l.src[start:l.pos]
	if word == "a" {
		return Token{Kind: TokA, Text: word, Offset: start}
	}
	if strings.EqualFold(word, "true") || strings.EqualFold(word, "false") {
		return Token{Kind: TokBoolean, Text: strings.ToLower(word), Offset: start}
	}
	upper := strings.ToUpper(word)
	if keywords[upper] {
		return Token{Kind: TokKeyword, Text: upper, Offset: start}
	}
	return Token{Kind: TokPName, Text: word, Offset: start} // bare local name, treated as PName with empty prefix
}

func (l *Lexer) lexPunct(start int) Token {
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "^^", "!=", "<=", ">=", "&&", "||":
		l.pos += 2
		return Token{Kind: TokPunct, Text: two, Offset: start}
	}
	c := l.src[l.pos]
	l.pos++
	return Token{Kind: TokPunct, Text: string(c), Offset: start}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isNameChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

// Tokenize returns every token in src, including the trailing EOF, for
// callers (tests, error reporting) that want the whole stream at once.
func Tokenize(src string) []Token {
	l := New(src)
	var toks []Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Kind == TokEOF {
			return toks
		}
	}
}

// ByteOffsetToRuneColumn converts a byte offset into a 1-based rune column
// within src, for error messages over multi-byte input.
func ByteOffsetToRuneColumn(src string, offset int) int {
	if offset > len(src) {
		offset = len(src)
	}
	return utf8.RuneCountInString(src[:offset]) + 1
}
