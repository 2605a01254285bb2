package sparql

import "github.com/quillgraph/quill/internal/rdfvalue"

// Variable names a binding slot in a solution.
type Variable string

// Term is one position of a triple pattern or expression: either a bound
// variable or a fixed rdfvalue.Value (resource or literal).
type Term struct {
	IsVar bool
	Var   Variable
	Val   rdfvalue.Value
}

// VarTerm builds a variable term.
func VarTerm(v Variable) Term { return Term{IsVar: true, Var: v} }

// ValTerm builds a bound term.
func ValTerm(v rdfvalue.Value) Term { return Term{Val: v} }

// PathKind tags the shape of a property path (spec §4.4's "property paths
// * + ? / | ^").
type PathKind int

const (
	PathIRI PathKind = iota
	PathInverse
	PathSeq
	PathAlt
	PathZeroOrMore
	PathOneOrMore
	PathZeroOrOne
)

// Path is a (possibly compound) predicate path. A plain predicate IRI is a
// Path{Kind: PathIRI, IRI: iri}.
type Path struct {
	Kind PathKind
	IRI  string
	Sub  *Path // PathInverse/ZeroOrMore/OneOrMore/ZeroOrOne
	Left *Path // PathSeq/PathAlt
	Right *Path
}

// TriplePattern is one (graph, subject, predicate-path, object) pattern.
type TriplePattern struct {
	Subject   Term
	Path      Path
	Object    Term
}

// Expression is a SPARQL filter/BIND/ORDER BY expression.
type Expression interface{ isExpr() }

type VarExpr struct{ Var Variable }
type LitExpr struct{ Val rdfvalue.Value }
type FuncCall struct {
	Name string // isIRI, isBlank, isLiteral, REGEX, BOUND, fts:match, fts:snippet, fts:offsets, STR, LANG, ...
	Args []Expression
}
type BinOp struct {
	Op          string // = != < > <= >= && || + - * /
	Left, Right Expression
}
type UnaryOp struct {
	Op   string // ! - +
	Expr Expression
}

func (VarExpr) isExpr()  {}
func (LitExpr) isExpr()  {}
func (FuncCall) isExpr() {}
func (BinOp) isExpr()    {}
func (UnaryOp) isExpr()  {}

// AggKind enumerates the aggregate functions spec §4.4 names.
type AggKind string

const (
	AggCount       AggKind = "COUNT"
	AggSum         AggKind = "SUM"
	AggAvg         AggKind = "AVG"
	AggMin         AggKind = "MIN"
	AggMax         AggKind = "MAX"
	AggGroupConcat AggKind = "GROUP_CONCAT"
)

// Aggregate is one aggregate projection, e.g. (COUNT(?x) AS ?n).
type Aggregate struct {
	Kind      AggKind
	Distinct  bool
	Expr      Expression // nil for COUNT(*)
	Separator string     // GROUP_CONCAT only
	As        Variable
}

// OrderCondition is one ORDER BY clause element.
type OrderCondition struct {
	Expr Expression
	Desc bool
}

// Node is one algebra-tree node. Spec §4.4 step 4: "The AST is lowered to a
// standard SPARQL algebra tree (BGP, Join, LeftJoin, Filter, Project,
// Distinct, Reduced, Slice, OrderBy, Group, Extend, Service is rejected)."
// The parser in this package builds these nodes directly rather than an
// intermediate concrete-syntax AST, the same way badwolf's bql/semantic
// pass builds its Statement straight out of the lexer's token stream.
type Node interface{ isNode() }

type BGP struct{ Patterns []TriplePattern }
type Join struct{ Left, Right Node }
type LeftJoin struct {
	Left, Right Node
	Expr        Expression // nil if the OPTIONAL carries no FILTER
}
type Union struct{ Left, Right Node }
type GraphPattern struct {
	Graph Term
	Node  Node
}
type Filter struct {
	Node Node
	Expr Expression
}
type Extend struct {
	Node Node
	Var  Variable
	Expr Expression
}
type ValuesPattern struct {
	Vars []Variable
	Rows [][]Term // a zero-value Term with IsVar==false and Val.Kind==rdfvalue.KindIRI+"" acts as UNDEF when Val == rdfvalue.Value{} and IsVar == false and special Undef flag
}
type Project struct {
	Node Node
	Vars []Variable
}
type Distinct struct{ Node Node }
type Reduced struct{ Node Node }
type Slice struct {
	Node          Node
	Offset, Limit int // -1 means unset
}
type OrderBy struct {
	Node       Node
	Conditions []OrderCondition
}
type Group struct {
	Node Node
	Vars []Variable
	Aggs []Aggregate
}
type Empty struct{} // a pattern proved to be empty (unknown predicate variable fan-out with no candidates)

func (BGP) isNode()           {}
func (Join) isNode()          {}
func (LeftJoin) isNode()      {}
func (Union) isNode()         {}
func (GraphPattern) isNode()  {}
func (Filter) isNode()        {}
func (Extend) isNode()        {}
func (ValuesPattern) isNode() {}
func (Project) isNode()       {}
func (Distinct) isNode()      {}
func (Reduced) isNode()       {}
func (Slice) isNode()         {}
func (OrderBy) isNode()       {}
func (Group) isNode()         {}
func (Empty) isNode()         {}

// QueryForm distinguishes the four SPARQL query forms.
type QueryForm int

const (
	FormSelect QueryForm = iota
	FormConstruct
	FormDescribe
	FormAsk
)

// Query is a fully parsed and lowered SPARQL query.
type Query struct {
	Form      QueryForm
	Algebra   Node
	Vars      []Variable      // SELECT projection (nil/empty means "*")
	Star      bool            // SELECT *
	Template  []TriplePattern // CONSTRUCT template
	Describe  []Term          // DESCRIBE targets
	Prefixes  map[string]string
}

// UpdateForm distinguishes the four update shapes spec §4.4 names.
type UpdateForm int

const (
	FormInsertData UpdateForm = iota
	FormDeleteData
	FormModify // INSERT{...}WHERE{...} / DELETE{...}WHERE{...} / both
)

// Update is a fully parsed SPARQL Update operation.
type Update struct {
	Form     UpdateForm
	WithIRI  string // WITH <graph>, "" for the default graph
	Insert   []TriplePattern
	Delete   []TriplePattern
	Where    Node // nil for *Data forms
	Prefixes map[string]string
}
