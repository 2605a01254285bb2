package sparql

import (
	"strconv"
	"strings"
	"time"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
)

// typedLiteral coerces a "^^"-datatyped string literal to the matching
// primitive value; unrecognised datatypes stay plain strings.
func typedLiteral(text, datatype string) rdfvalue.Value {
	switch datatype {
	case "http://www.w3.org/2001/XMLSchema#integer", "xsd:integer":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return rdfvalue.IntegerValue(n)
		}
	case "http://www.w3.org/2001/XMLSchema#double", "http://www.w3.org/2001/XMLSchema#decimal", "xsd:double", "xsd:decimal":
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return rdfvalue.DoubleValue(f)
		}
	case "http://www.w3.org/2001/XMLSchema#boolean", "xsd:boolean":
		if b, err := strconv.ParseBool(text); err == nil {
			return rdfvalue.BooleanValue(b)
		}
	case "http://www.w3.org/2001/XMLSchema#dateTime", "xsd:dateTime":
		if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return rdfvalue.DateTimeValue(ts)
		}
	}
	return rdfvalue.StringValue(text)
}

// Parser is a hand-rolled recursive-descent parser over a token stream,
// building the algebra tree directly rather than an intermediate
// concrete-syntax tree (see algebra.go's doc comment on Node).
type Parser struct {
	toks     []Token
	pos      int
	src      string
	prefixes map[string]string
}

func newParser(src string, base map[string]string) *Parser {
	prefixes := make(map[string]string, len(base))
	for k, v := range base {
		prefixes[k] = v
	}
	return &Parser{toks: Tokenize(src), src: src, prefixes: prefixes}
}

func (p *Parser) cur() Token  { return p.toks[p.pos] }
func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}
func (p *Parser) atEOF() bool { return p.cur().Kind == TokEOF }

func (p *Parser) errf(format string, args ...interface{}) error {
	return quillerr.NewParseError(p.cur().Offset, format, args...)
}

func (p *Parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.Kind == TokKeyword && t.Text == kw
}

func (p *Parser) isPunct(s string) bool {
	t := p.cur()
	return t.Kind == TokPunct && t.Text == s
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errf("expected %s", kw)
	}
	p.advance()
	return nil
}

func (p *Parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errf("expected %q", s)
	}
	p.advance()
	return nil
}

// Parse parses a SPARQL 1.1 Query string (SELECT/CONSTRUCT/DESCRIBE/ASK).
// baseNamespaces seeds the prefix map with the ontology's own namespaces
// before any query-local PREFIX declarations are applied, per spec §4.4
// step 2.
func Parse(src string, baseNamespaces map[string]string) (*Query, error) {
	p := newParser(src, baseNamespaces)
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}
	var q *Query
	var err error
	switch {
	case p.isKeyword("SELECT"):
		q, err = p.parseSelect()
	case p.isKeyword("CONSTRUCT"):
		q, err = p.parseConstruct()
	case p.isKeyword("DESCRIBE"):
		q, err = p.parseDescribe()
	case p.isKeyword("ASK"):
		q, err = p.parseAsk()
	default:
		return nil, p.errf("expected SELECT, CONSTRUCT, DESCRIBE, or ASK")
	}
	if err != nil {
		return nil, err
	}
	q.Prefixes = p.prefixes
	return q, nil
}

func (p *Parser) parsePrologue() error {
	for {
		switch {
		case p.isKeyword("PREFIX"):
			p.advance()
			t := p.advance()
			if t.Kind != TokPrefixNS {
				return p.errf("expected prefix: in PREFIX declaration")
			}
			iri := p.advance()
			if iri.Kind != TokIRIRef {
				return p.errf("expected <iri> in PREFIX declaration")
			}
			p.prefixes[t.Text] = iri.Text
		case p.isKeyword("BASE"):
			p.advance()
			if p.cur().Kind != TokIRIRef {
				return p.errf("expected <iri> in BASE declaration")
			}
			p.advance()
		default:
			return nil
		}
	}
}

func (p *Parser) parseSelect() (*Query, error) {
	p.advance() // SELECT
	distinct, reduced := false, false
	if p.isKeyword("DISTINCT") {
		distinct = true
		p.advance()
	} else if p.isKeyword("REDUCED") {
		reduced = true
		p.advance()
	}

	q := &Query{Form: FormSelect}
	var aggs []Aggregate
	var extends []struct {
		Var  Variable
		Expr Expression
	}
	star := false
	if p.isPunct("*") {
		star = true
		p.advance()
	} else {
		for {
			if p.cur().Kind == TokVariable {
				v := Variable(p.advance().Text)
				q.Vars = append(q.Vars, v)
				continue
			}
			if p.isPunct("(") {
				p.advance()
				if agg, asVar, ok, err := p.tryParseAggregate(); err != nil {
					return nil, err
				} else if ok {
					agg.As = asVar
					aggs = append(aggs, agg)
					q.Vars = append(q.Vars, asVar)
					if err := p.expectPunct(")"); err != nil {
						return nil, err
					}
					continue
				}
				expr, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				if err := p.expectKeyword("AS"); err != nil {
					return nil, err
				}
				if p.cur().Kind != TokVariable {
					return nil, p.errf("expected variable after AS")
				}
				asVar := Variable(p.advance().Text)
				extends = append(extends, struct {
					Var  Variable
					Expr Expression
				}{asVar, expr})
				q.Vars = append(q.Vars, asVar)
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	q.Star = star

	if p.isKeyword("WHERE") {
		p.advance()
	}
	body, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}

	groupVars, havingExprs, order, limit, offset, err := p.parseSolutionModifier()
	if err != nil {
		return nil, err
	}

	node := body
	if len(groupVars) > 0 || len(aggs) > 0 {
		node = Group{Node: node, Vars: groupVars, Aggs: aggs}
	}
	for _, e := range extends {
		node = Extend{Node: node, Var: e.Var, Expr: e.Expr}
	}
	for _, h := range havingExprs {
		node = Filter{Node: node, Expr: h}
	}
	if len(order) > 0 {
		node = OrderBy{Node: node, Conditions: order}
	}
	if !star {
		node = Project{Node: node, Vars: q.Vars}
	}
	if distinct {
		node = Distinct{Node: node}
	} else if reduced {
		node = Reduced{Node: node}
	}
	if limit >= 0 || offset >= 0 {
		node = Slice{Node: node, Limit: limit, Offset: offset}
	}
	q.Algebra = node
	return q, nil
}

func (p *Parser) parseConstruct() (*Query, error) {
	p.advance() // CONSTRUCT
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	tmpl, err := p.parseTriplesBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	if p.isKeyword("WHERE") {
		p.advance()
	}
	body, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	_, _, _, limit, offset, err := p.parseSolutionModifier()
	if err != nil {
		return nil, err
	}
	node := body
	if limit >= 0 || offset >= 0 {
		node = Slice{Node: node, Limit: limit, Offset: offset}
	}
	return &Query{Form: FormConstruct, Algebra: node, Template: tmpl}, nil
}

func (p *Parser) parseDescribe() (*Query, error) {
	p.advance() // DESCRIBE
	q := &Query{Form: FormDescribe}
	if p.isPunct("*") {
		p.advance()
	} else {
		for p.cur().Kind == TokVariable || p.cur().Kind == TokIRIRef || p.cur().Kind == TokPName || p.cur().Kind == TokA {
			t, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			q.Describe = append(q.Describe, t)
		}
	}
	if p.isKeyword("WHERE") {
		p.advance()
		body, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		q.Algebra = body
	}
	return q, nil
}

func (p *Parser) parseAsk() (*Query, error) {
	p.advance() // ASK
	body, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	return &Query{Form: FormAsk, Algebra: body}, nil
}

// parseSolutionModifier parses GROUP BY / HAVING / ORDER BY / LIMIT / OFFSET
// in any SPARQL-legal order (GROUP, then HAVING, then ORDER, then
// LIMIT/OFFSET).
func (p *Parser) parseSolutionModifier() (groupVars []Variable, having []Expression, order []OrderCondition, limit, offset int, err error) {
	limit, offset = -1, -1
	if p.isKeyword("GROUP") {
		p.advance()
		if err = p.expectKeyword("BY"); err != nil {
			return
		}
		for p.cur().Kind == TokVariable {
			groupVars = append(groupVars, Variable(p.advance().Text))
		}
	}
	if p.isKeyword("HAVING") {
		p.advance()
		var e Expression
		e, err = p.parseExpression()
		if err != nil {
			return
		}
		having = append(having, e)
	}
	if p.isKeyword("ORDER") {
		p.advance()
		if err = p.expectKeyword("BY"); err != nil {
			return
		}
		for {
			desc := false
			if p.isKeyword("ASC") {
				p.advance()
			} else if p.isKeyword("DESC") {
				desc = true
				p.advance()
			}
			var e Expression
			if p.isPunct("(") {
				p.advance()
				e, err = p.parseExpression()
				if err != nil {
					return
				}
				if err = p.expectPunct(")"); err != nil {
					return
				}
			} else if p.cur().Kind == TokVariable {
				e = VarExpr{Var: Variable(p.advance().Text)}
			} else {
				break
			}
			order = append(order, OrderCondition{Expr: e, Desc: desc})
			if p.cur().Kind != TokVariable && !p.isPunct("(") && !p.isKeyword("ASC") && !p.isKeyword("DESC") {
				break
			}
		}
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		n, convErr := strconv.Atoi(p.advance().Text)
		if convErr != nil {
			err = p.errf("invalid LIMIT value")
			return
		}
		limit = n
	}
	if p.isKeyword("OFFSET") {
		p.advance()
		n, convErr := strconv.Atoi(p.advance().Text)
		if convErr != nil {
			err = p.errf("invalid OFFSET value")
			return
		}
		offset = n
	}
	return
}

func (p *Parser) tryParseAggregate() (Aggregate, Variable, bool, error) {
	t := p.cur()
	if t.Kind != TokKeyword {
		return Aggregate{}, "", false, nil
	}
	var kind AggKind
	switch t.Text {
	case "COUNT":
		kind = AggCount
	case "SUM":
		kind = AggSum
	case "AVG":
		kind = AggAvg
	case "MIN":
		kind = AggMin
	case "MAX":
		kind = AggMax
	case "GROUP_CONCAT":
		kind = AggGroupConcat
	default:
		return Aggregate{}, "", false, nil
	}
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return Aggregate{}, "", false, err
	}
	agg := Aggregate{Kind: kind}
	if p.isKeyword("DISTINCT") {
		agg.Distinct = true
		p.advance()
	}
	if p.isPunct("*") {
		p.advance()
	} else {
		expr, err := p.parseExpression()
		if err != nil {
			return Aggregate{}, "", false, err
		}
		agg.Expr = expr
	}
	if kind == AggGroupConcat && p.isPunct(";") {
		p.advance()
		if err := p.expectKeyword("SEPARATOR"); err != nil {
			return Aggregate{}, "", false, err
		}
		if err := p.expectPunct("="); err != nil {
			return Aggregate{}, "", false, err
		}
		if p.cur().Kind != TokString {
			return Aggregate{}, "", false, p.errf("expected string after SEPARATOR=")
		}
		agg.Separator = p.advance().Text
	}
	if err := p.expectPunct(")"); err != nil {
		return Aggregate{}, "", false, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return Aggregate{}, "", false, err
	}
	if p.cur().Kind != TokVariable {
		return Aggregate{}, "", false, p.errf("expected variable after AS")
	}
	return agg, Variable(p.advance().Text), true, nil
}

// parseGroupGraphPattern parses "{ ... }" into one algebra Node, per spec
// §4.4's BGP/Join/LeftJoin/Union/Filter/Extend/Values/Graph constructs.
func (p *Parser) parseGroupGraphPattern() (Node, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	node, err := p.parseGroupGraphPatternSub()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseGroupGraphPatternSub() (Node, error) {
	var node Node = BGP{}
	var filters []Expression
	var extends []struct {
		Var  Variable
		Expr Expression
	}
	joinIn := func(n Node) {
		if b, ok := node.(BGP); ok && len(b.Patterns) == 0 {
			node = n
			return
		}
		node = Join{Left: node, Right: n}
	}

	for !p.isPunct("}") && !p.atEOF() {
		switch {
		case p.isPunct("."):
			p.advance()
		case p.isKeyword("FILTER"):
			p.advance()
			e, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			filters = append(filters, e)
		case p.isKeyword("BIND"):
			p.advance()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if p.cur().Kind != TokVariable {
				return nil, p.errf("expected variable after AS")
			}
			v := Variable(p.advance().Text)
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			extends = append(extends, struct {
				Var  Variable
				Expr Expression
			}{v, e})
		case p.isKeyword("VALUES"):
			p.advance()
			vp, err := p.parseValuesClause()
			if err != nil {
				return nil, err
			}
			joinIn(vp)
		case p.isKeyword("OPTIONAL"):
			p.advance()
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			node = LeftJoin{Left: node, Right: sub}
		case p.isKeyword("GRAPH"):
			p.advance()
			g, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			joinIn(GraphPattern{Graph: g, Node: sub})
		case p.isKeyword("SERVICE"):
			return nil, p.errf("SERVICE is not supported")
		case p.isPunct("{"):
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			for p.isKeyword("UNION") {
				p.advance()
				right, err := p.parseGroupGraphPattern()
				if err != nil {
					return nil, err
				}
				sub = Union{Left: sub, Right: right}
			}
			joinIn(sub)
		default:
			block, err := p.parseTriplesBlock()
			if err != nil {
				return nil, err
			}
			if len(block) > 0 {
				joinIn(BGP{Patterns: block})
			}
		}
	}

	for _, e := range extends {
		node = Extend{Node: node, Var: e.Var, Expr: e.Expr}
	}
	for _, f := range filters {
		node = Filter{Node: node, Expr: f}
	}
	return node, nil
}

// parseTriplesBlock parses one or more subject/predicate-object-list groups
// up to (but not consuming) a closing '}' or a keyword that starts a new
// graph-pattern-not-triples clause.
func (p *Parser) parseTriplesBlock() ([]TriplePattern, error) {
	var out []TriplePattern
	for {
		if p.isPunct("}") || p.atEOF() || p.isKeyword("FILTER") || p.isKeyword("OPTIONAL") ||
			p.isKeyword("BIND") || p.isKeyword("VALUES") || p.isKeyword("GRAPH") ||
			p.isKeyword("UNION") || p.isKeyword("SERVICE") || p.isPunct("{") {
			return out, nil
		}
		subj, err := p.parseVarOrTerm()
		if err != nil {
			return nil, err
		}
		for {
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			obj, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			out = append(out, TriplePattern{Subject: subj, Path: path, Object: obj})
			for p.isPunct(",") {
				p.advance()
				obj2, err := p.parseVarOrTerm()
				if err != nil {
					return nil, err
				}
				out = append(out, TriplePattern{Subject: subj, Path: path, Object: obj2})
			}
			if p.isPunct(";") {
				p.advance()
				continue
			}
			break
		}
		if p.isPunct(".") {
			p.advance()
			continue
		}
		return out, nil
	}
}

func (p *Parser) parseValuesClause() (Node, error) {
	var vars []Variable
	if p.cur().Kind == TokVariable {
		vars = append(vars, Variable(p.advance().Text))
	} else if p.isPunct("(") {
		p.advance()
		for p.cur().Kind == TokVariable {
			vars = append(vars, Variable(p.advance().Text))
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var rows [][]Term
	for !p.isPunct("}") && !p.atEOF() {
		var row []Term
		if p.isPunct("(") {
			p.advance()
			for !p.isPunct(")") {
				t, err := p.parseValuesTerm()
				if err != nil {
					return nil, err
				}
				row = append(row, t)
			}
			p.advance()
		} else {
			t, err := p.parseValuesTerm()
			if err != nil {
				return nil, err
			}
			row = append(row, t)
		}
		rows = append(rows, row)
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return ValuesPattern{Vars: vars, Rows: rows}, nil
}

func (p *Parser) parseValuesTerm() (Term, error) {
	if p.isKeyword("UNDEF") || (p.cur().Kind == TokPName && strings.EqualFold(p.cur().Text, "UNDEF")) {
		p.advance()
		return Term{}, nil
	}
	return p.parseLiteralOrResourceTerm()
}

// parseVarOrTerm parses a variable, IRI, prefixed name, "a", or literal
// appearing in subject/object/GRAPH position.
func (p *Parser) parseVarOrTerm() (Term, error) {
	if p.cur().Kind == TokVariable {
		return VarTerm(Variable(p.advance().Text)), nil
	}
	if p.isPunct("[") {
		// anonymous blank node shorthand "[]" — treat as a fresh unnamed
		// variable scoped to this pattern.
		p.advance()
		if err := p.expectPunct("]"); err != nil {
			return Term{}, err
		}
		return VarTerm(Variable("_anon" + strconv.Itoa(p.pos))), nil
	}
	return p.parseLiteralOrResourceTerm()
}

func (p *Parser) parseLiteralOrResourceTerm() (Term, error) {
	t := p.cur()
	switch t.Kind {
	case TokA:
		p.advance()
		return ValTerm(rdfvalue.IRIValue("rdf:type")), nil
	case TokIRIRef:
		p.advance()
		return ValTerm(rdfvalue.IRIValue(t.Text)), nil
	case TokPName:
		p.advance()
		return ValTerm(rdfvalue.IRIValue(ExpandWith(p.prefixes, t.Text))), nil
	case TokInteger:
		p.advance()
		n, _ := strconv.ParseInt(t.Text, 10, 64)
		return ValTerm(rdfvalue.IntegerValue(n)), nil
	case TokDouble:
		p.advance()
		f, _ := strconv.ParseFloat(t.Text, 64)
		return ValTerm(rdfvalue.DoubleValue(f)), nil
	case TokBoolean:
		p.advance()
		return ValTerm(rdfvalue.BooleanValue(t.Text == "true")), nil
	case TokString:
		p.advance()
		if p.isPunct("@") {
			p.advance()
			lang := p.advance().Text
			return ValTerm(rdfvalue.LangStringValue(t.Text, lang)), nil
		}
		if p.isPunct("^^") {
			p.advance()
			dt := p.advance()
			return ValTerm(typedLiteral(t.Text, ExpandWith(p.prefixes, dt.Text))), nil
		}
		return ValTerm(rdfvalue.StringValue(t.Text)), nil
	default:
		return Term{}, p.errf("expected a term, got %q", t.Text)
	}
}

// parsePath parses the predicate position, covering property paths (spec
// §4.4: "* + ? / | ^"). Precedence, loosest to tightest: Alt(|), Seq(/),
// then a postfix */+/?  or prefix ^ on a primary (IRI, "a", or parenthesised
// sub-path).
func (p *Parser) parsePath() (Path, error) {
	return p.parsePathAlt()
}

func (p *Parser) parsePathAlt() (Path, error) {
	left, err := p.parsePathSeq()
	if err != nil {
		return Path{}, err
	}
	for p.isPunct("|") {
		p.advance()
		right, err := p.parsePathSeq()
		if err != nil {
			return Path{}, err
		}
		l, r := left, right
		left = Path{Kind: PathAlt, Left: &l, Right: &r}
	}
	return left, nil
}

func (p *Parser) parsePathSeq() (Path, error) {
	left, err := p.parsePathPostfix()
	if err != nil {
		return Path{}, err
	}
	for p.isPunct("/") {
		p.advance()
		right, err := p.parsePathPostfix()
		if err != nil {
			return Path{}, err
		}
		l, r := left, right
		left = Path{Kind: PathSeq, Left: &l, Right: &r}
	}
	return left, nil
}

func (p *Parser) parsePathPostfix() (Path, error) {
	base, err := p.parsePathPrimary()
	if err != nil {
		return Path{}, err
	}
	for {
		switch {
		case p.isPunct("*"):
			p.advance()
			b := base
			base = Path{Kind: PathZeroOrMore, Sub: &b}
		case p.isPunct("+"):
			p.advance()
			b := base
			base = Path{Kind: PathOneOrMore, Sub: &b}
		case p.isPunct("?"):
			p.advance()
			b := base
			base = Path{Kind: PathZeroOrOne, Sub: &b}
		default:
			return base, nil
		}
	}
}

func (p *Parser) parsePathPrimary() (Path, error) {
	if p.isPunct("^") {
		p.advance()
		sub, err := p.parsePathPrimary()
		if err != nil {
			return Path{}, err
		}
		return Path{Kind: PathInverse, Sub: &sub}, nil
	}
	if p.isPunct("(") {
		p.advance()
		sub, err := p.parsePathAlt()
		if err != nil {
			return Path{}, err
		}
		if err := p.expectPunct(")"); err != nil {
			return Path{}, err
		}
		return sub, nil
	}
	t, err := p.parseLiteralOrResourceTerm()
	if err != nil {
		return Path{}, err
	}
	if !t.Val.IsResource() {
		return Path{}, p.errf("expected a predicate IRI")
	}
	return Path{Kind: PathIRI, IRI: t.Val.IRI}, nil
}

// parseConstraint parses "(" Expression ")" or a built-in predicate call
// used after FILTER.
func (p *Parser) parseConstraint() (Expression, error) {
	if p.isPunct("(") {
		p.advance()
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return p.parseExpression()
}

// Expression grammar, loosest to tightest: Or -> And -> Relational ->
// Additive -> Multiplicative -> Unary -> Primary.
func (p *Parser) parseExpression() (Expression, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.isPunct("&&") {
		p.advance()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

var relOps = map[string]bool{"=": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *Parser) parseRelational() (Expression, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind == TokPunct && relOps[p.cur().Text] {
		op := p.advance().Text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return BinOp{Op: op, Left: left, Right: right}, nil
	}
	if p.isKeyword("IN") {
		p.advance()
		// Simplified to membership-as-equality-chain over a parenthesised list.
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var expr Expression = LitExpr{Val: rdfvalue.BooleanValue(false)}
		for !p.isPunct(")") {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			expr = BinOp{Op: "||", Left: expr, Right: BinOp{Op: "=", Left: left, Right: right}}
			if p.isPunct(",") {
				p.advance()
			}
		}
		p.advance()
		return expr, nil
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expression, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.advance().Text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := p.advance().Text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expression, error) {
	if p.isPunct("!") || p.isPunct("-") || p.isPunct("+") {
		op := p.advance().Text
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryOp{Op: op, Expr: e}, nil
	}
	return p.parsePrimaryExpr()
}

func (p *Parser) parsePrimaryExpr() (Expression, error) {
	t := p.cur()
	switch {
	case p.isPunct("("):
		p.advance()
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case t.Kind == TokVariable:
		p.advance()
		return VarExpr{Var: Variable(t.Text)}, nil
	case t.Kind == TokKeyword && builtinFuncs[t.Text]:
		return p.parseFuncCall(t.Text, true)
	case t.Kind == TokPName && strings.HasPrefix(t.Text, "fts:"):
		p.advance()
		return p.parseFuncCallArgs(t.Text)
	case t.Kind == TokInteger || t.Kind == TokDouble || t.Kind == TokString || t.Kind == TokBoolean || t.Kind == TokIRIRef:
		term, err := p.parseLiteralOrResourceTerm()
		if err != nil {
			return nil, err
		}
		return LitExpr{Val: term.Val}, nil
	default:
		return nil, p.errf("unexpected token %q in expression", t.Text)
	}
}

var builtinFuncs = map[string]bool{
	"isIRI": true, "isURI": true, "isBLANK": true, "isLITERAL": true,
	"REGEX": true, "BOUND": true, "STR": true, "LANG": true, "EXISTS": true,
}

func (p *Parser) parseFuncCall(name string, consumeKeyword bool) (Expression, error) {
	if consumeKeyword {
		p.advance()
	}
	return p.parseFuncCallArgs(name)
}

func (p *Parser) parseFuncCallArgs(name string) (Expression, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []Expression
	for !p.isPunct(")") {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.isPunct(",") {
			p.advance()
		}
	}
	p.advance()
	return FuncCall{Name: name, Args: args}, nil
}
