package sparql

import "testing"

func TestLexerTokenizesBasicQuery(t *testing.T) {
	toks := Tokenize(`SELECT ?s WHERE { ?s a <http://example.org/Person> . FILTER(?s != <http://example.org/x>) }`)
	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	if toks[0].Kind != TokKeyword || toks[0].Text != "SELECT" {
		t.Fatalf("expected leading SELECT keyword, got %+v", toks[0])
	}
	if toks[len(toks)-1].Kind != TokEOF {
		t.Fatalf("expected trailing EOF token")
	}
}

func TestLexerStringsAndNumbers(t *testing.T) {
	toks := Tokenize(`"hello"@en 42 3.14 true`)
	if toks[0].Kind != TokString || toks[0].Text != "hello" {
		t.Fatalf("expected string token, got %+v", toks[0])
	}
	if toks[3].Kind != TokInteger || toks[3].Text != "42" {
		t.Fatalf("expected integer token, got %+v", toks[3])
	}
	if toks[4].Kind != TokDouble {
		t.Fatalf("expected double token, got %+v", toks[4])
	}
	if toks[5].Kind != TokBoolean {
		t.Fatalf("expected boolean token, got %+v", toks[5])
	}
}

func TestParseSimpleSelect(t *testing.T) {
	q, err := Parse(`PREFIX ex: <http://example.org/>
SELECT ?name WHERE { ?p ex:name ?name . ?p a ex:Person }`, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if q.Form != FormSelect {
		t.Fatalf("expected FormSelect, got %v", q.Form)
	}
	if len(q.Vars) != 1 || q.Vars[0] != "name" {
		t.Fatalf("expected single projected var ?name, got %v", q.Vars)
	}
	if q.Prefixes["ex"] != "http://example.org/" {
		t.Fatalf("expected ex: prefix registered, got %v", q.Prefixes)
	}
	if _, ok := q.Algebra.(Project); !ok {
		t.Fatalf("expected top node Project, got %T", q.Algebra)
	}
}

func TestParseOptionalAndUnion(t *testing.T) {
	q, err := Parse(`SELECT ?s ?o WHERE {
		?s <urn:p> ?o .
		OPTIONAL { ?s <urn:q> ?o }
		{ ?s <urn:r> ?o } UNION { ?s <urn:t> ?o }
	}`, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := q.Algebra.(Project); !ok {
		t.Fatalf("expected Project at top, got %T", q.Algebra)
	}
}

func TestParseAggregateCount(t *testing.T) {
	q, err := Parse(`SELECT (COUNT(DISTINCT ?s) AS ?n) WHERE { ?s <urn:p> ?o }`, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(q.Vars) != 1 || q.Vars[0] != "n" {
		t.Fatalf("expected single aggregated var ?n, got %v", q.Vars)
	}
}

func TestParsePropertyPath(t *testing.T) {
	q, err := Parse(`SELECT ?a ?b WHERE { ?a <urn:p>+ ?b }`, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	_ = q
}

func TestParseAsk(t *testing.T) {
	q, err := Parse(`ASK { ?s <urn:p> ?o }`, nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if q.Form != FormAsk {
		t.Fatalf("expected FormAsk, got %v", q.Form)
	}
}

func TestParseInsertData(t *testing.T) {
	u, err := ParseUpdate(`PREFIX ex: <http://example.org/>
INSERT DATA { <urn:s> ex:name "Ada" }`, nil)
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if u.Form != FormInsertData {
		t.Fatalf("expected FormInsertData, got %v", u.Form)
	}
	if len(u.Insert) != 1 {
		t.Fatalf("expected one inserted triple, got %d", len(u.Insert))
	}
}

func TestParseDeleteInsertWhere(t *testing.T) {
	u, err := ParseUpdate(`PREFIX ex: <http://example.org/>
DELETE { ?s ex:name ?old }
INSERT { ?s ex:name "Ada Updated" }
WHERE { ?s ex:name ?old }`, nil)
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if u.Form != FormModify {
		t.Fatalf("expected FormModify, got %v", u.Form)
	}
	if u.Where == nil {
		t.Fatalf("expected non-nil WHERE clause")
	}
}

func TestNamespacesExpandAndCompress(t *testing.T) {
	ns := NewNamespaces(map[string]string{"ex": "http://example.org/"})
	if got := ns.Expand("ex:Person"); got != "http://example.org/Person" {
		t.Fatalf("Expand: got %q", got)
	}
	if got := ns.Compress("http://example.org/Person"); got != "ex:Person" {
		t.Fatalf("Compress: got %q", got)
	}
	ns.Register("foaf", "http://xmlns.com/foaf/0.1/")
	snap := ns.Snapshot()
	if snap["foaf"] == "" {
		t.Fatalf("expected foaf registered in snapshot")
	}
}
