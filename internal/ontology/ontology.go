// Package ontology parses ontology bundles (classes, properties, ranges,
// domains, cardinalities, fulltext/indexed/notify flags) into the in-memory
// descriptors the storage and triple-mapper layers drive off of.
//
// Bundles are YAML documents, one Bundle per file, merged in filename order
// from a directory — the same decoding style the teacher uses for none of
// its own config (GoClode keeps config in SQLite) but which the rest of the
// retrieved pack uses pervasively for service configuration
// (Mimir-AIP-Mimir-AIP-Go, cuemby-warren, evalgo-org-eve all load yaml.v3
// documents at startup).
package ontology

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/quillgraph/quill/internal/quillerr"
)

// Cardinality bounds how many values of a property a subject may hold.
type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMulti  Cardinality = "multi"
)

// PrimitiveRange enumerates the non-object ranges a property may have.
type PrimitiveRange string

const (
	RangeString     PrimitiveRange = "string"
	RangeInteger    PrimitiveRange = "integer"
	RangeDouble     PrimitiveRange = "double"
	RangeBoolean    PrimitiveRange = "boolean"
	RangeDateTime   PrimitiveRange = "datetime"
	RangeLangString PrimitiveRange = "langString"
)

func (p PrimitiveRange) valid() bool {
	switch p {
	case RangeString, RangeInteger, RangeDouble, RangeBoolean, RangeDateTime, RangeLangString:
		return true
	}
	return false
}

// ClassDef is the YAML shape of one class declaration inside a bundle.
type ClassDef struct {
	IRI     string   `yaml:"iri"`
	Parents []string `yaml:"parents"`
	Notify  bool     `yaml:"notify"`
}

// PropertyDef is the YAML shape of one property declaration inside a bundle.
type PropertyDef struct {
	IRI         string      `yaml:"iri"`
	Domain      string      `yaml:"domain"`
	Range       string      `yaml:"range"` // either a class IRI or a PrimitiveRange value
	Cardinality Cardinality `yaml:"cardinality"`
	FullText    bool        `yaml:"fulltext"`
	Indexed     bool        `yaml:"indexed"`
}

// Bundle is one parsed ontology file.
type Bundle struct {
	Classes    []ClassDef    `yaml:"classes"`
	Properties []PropertyDef `yaml:"properties"`
}

// ClassDescriptor is the resolved, in-memory view of a class.
type ClassDescriptor struct {
	IRI       string
	Table     string // physical table name
	Parents   []string
	Notify    bool
	Ancestors map[string]bool // transitive closure including self
}

// PropertyKind tags how a property is physically stored — the "tagged
// variant with an exhaustive match" called for in spec §9 in place of a
// conditional chain.
type PropertyKind int

const (
	// SingleColumn: stored as a column on the domain class's table.
	SingleColumn PropertyKind = iota
	// MultiRow: stored as a row in a dedicated (subject_id, value) table.
	MultiRow
	// TypeRow: this is rdf:type itself; storage is the class table's
	// existence, not a property table.
	TypeRow
)

// PropertyDescriptor is the resolved, in-memory view of a property.
type PropertyDescriptor struct {
	IRI          string
	Domain       string // class IRI
	IsObjectProp bool
	RangeClass   string         // set iff IsObjectProp
	RangeKind    PrimitiveRange // set iff !IsObjectProp
	Cardinality  Cardinality
	FullText     bool
	Indexed      bool
	Notify       bool // mirrors the domain class's notify flag

	Kind      PropertyKind
	Table     string // MultiRow: table name; SingleColumn: domain class table
	Column    string // SingleColumn: column name
	FTSTable  string // set iff FullText
}

// Ontology is the fully resolved, read-only set of descriptors an open
// Connection drives all storage/planning decisions from.
type Ontology struct {
	classes    map[string]*ClassDescriptor
	properties map[string]*PropertyDescriptor
	order      []string // topological class order, leaves (no parents) first
	version    uint32
}

// ClassOf returns the descriptor for iri, or nil if it is not a known class.
func (o *Ontology) ClassOf(iri string) *ClassDescriptor { return o.classes[iri] }

// PropertyOf returns the descriptor for iri, or nil if it is not a known
// property.
func (o *Ontology) PropertyOf(iri string) *PropertyDescriptor { return o.properties[iri] }

// Classes returns classes in topological order (parents before children).
func (o *Ontology) Classes() []*ClassDescriptor {
	out := make([]*ClassDescriptor, 0, len(o.order))
	for _, iri := range o.order {
		out = append(out, o.classes[iri])
	}
	return out
}

// Properties returns all property descriptors, sorted by IRI for
// deterministic iteration (schema creation, documentation, tests).
func (o *Ontology) Properties() []*PropertyDescriptor {
	out := make([]*PropertyDescriptor, 0, len(o.properties))
	for iri, p := range o.properties {
		if iri != p.IRI {
			continue // alias key (rdf:type's full-IRI spelling)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IRI < out[j].IRI })
	return out
}

// SchemaVersion is the deterministic hash stored in the database and
// checked on open (spec invariant 5 / property 9).
func (o *Ontology) SchemaVersion() uint32 { return o.version }

// IsSubClass reports whether sub is child.ChildOf(ancestor) per the
// transitive subclass closure, inclusive of sub == ancestor.
func (o *Ontology) IsSubClass(sub, ancestor string) bool {
	c := o.classes[sub]
	if c == nil {
		return false
	}
	return c.Ancestors[ancestor]
}

// Load parses every *.yaml/*.yml file in dir (merged in filename order) into
// one Ontology.
func Load(dir string) (*Ontology, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "read ontology dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var merged Bundle
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, quillerr.New(quillerr.KindIO, err, "read bundle %s", name)
		}
		var b Bundle
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, quillerr.NewParseError(0, "malformed ontology bundle %s: %v", name, err)
		}
		merged.Classes = append(merged.Classes, b.Classes...)
		merged.Properties = append(merged.Properties, b.Properties...)
	}
	return build(&merged)
}

// LoadBundle builds an Ontology from an already-parsed Bundle, primarily for
// tests and for callers that construct bundles in code.
func LoadBundle(b *Bundle) (*Ontology, error) { return build(b) }

func build(b *Bundle) (*Ontology, error) {
	classes := make(map[string]*ClassDescriptor, len(b.Classes))
	for _, cd := range b.Classes {
		if cd.IRI == "" {
			return nil, quillerr.New(quillerr.KindParseError, nil, "class with empty iri")
		}
		if _, dup := classes[cd.IRI]; dup {
			return nil, quillerr.New(quillerr.KindParseError, nil, "duplicate class %s", cd.IRI)
		}
		classes[cd.IRI] = &ClassDescriptor{
			IRI:     cd.IRI,
			Table:   tableName(cd.IRI),
			Parents: cd.Parents,
			Notify:  cd.Notify,
		}
	}
	for _, c := range classes {
		for _, p := range c.Parents {
			if p == c.IRI {
				continue // self-loops explicitly allowed
			}
			if classes[p] == nil {
				return nil, quillerr.New(quillerr.KindParseError, nil, "class %s has unknown parent %s", c.IRI, p)
			}
		}
	}
	if err := computeAncestors(classes); err != nil {
		return nil, err
	}
	order, err := topoOrder(classes)
	if err != nil {
		return nil, err
	}

	properties := make(map[string]*PropertyDescriptor, len(b.Properties))
	for _, pd := range b.Properties {
		if pd.IRI == "" {
			return nil, quillerr.New(quillerr.KindParseError, nil, "property with empty iri")
		}
		if _, dup := properties[pd.IRI]; dup {
			return nil, quillerr.New(quillerr.KindParseError, nil, "duplicate property %s", pd.IRI)
		}
		domain := classes[pd.Domain]
		if domain == nil {
			return nil, quillerr.New(quillerr.KindParseError, nil, "property %s has unknown domain %s", pd.IRI, pd.Domain)
		}
		card := pd.Cardinality
		if card == "" {
			card = CardinalityMulti
		}
		desc := &PropertyDescriptor{
			IRI:         pd.IRI,
			Domain:      pd.Domain,
			Cardinality: card,
			FullText:    pd.FullText,
			Indexed:     pd.Indexed,
			Notify:      domain.Notify,
		}
		if rc, isClass := classes[pd.Range]; isClass {
			desc.IsObjectProp = true
			desc.RangeClass = rc.IRI
		} else {
			pr := PrimitiveRange(pd.Range)
			if !pr.valid() {
				return nil, quillerr.New(quillerr.KindParseError, nil, "property %s has unknown primitive range %q", pd.IRI, pd.Range)
			}
			desc.RangeKind = pr
		}
		if card == CardinalitySingle {
			desc.Kind = SingleColumn
			desc.Table = domain.Table
			desc.Column = columnName(pd.IRI)
		} else {
			desc.Kind = MultiRow
			desc.Table = multiTableName(pd.IRI)
		}
		if desc.FullText {
			// Per-column suffix: two fulltext properties sharing a domain
			// class table must not share one FTS index.
			if desc.Kind == SingleColumn {
				desc.FTSTable = desc.Table + "_" + desc.Column + "_fts"
			} else {
				desc.FTSTable = desc.Table + "_fts"
			}
		}
		properties[pd.IRI] = desc
	}

	// rdf:type is always present and always a TypeRow property, synthesised
	// rather than declared in a bundle. Registered under both its prefixed
	// name (what SPARQL's "a" shorthand lowers to) and its full IRI (what
	// the Turtle/TriG/JSON-LD decoders emit), so every entry point resolves
	// to the same descriptor.
	typeDesc := &PropertyDescriptor{
		IRI:         "rdf:type",
		Cardinality: CardinalityMulti,
		Kind:        TypeRow,
	}
	properties["rdf:type"] = typeDesc
	properties["http://www.w3.org/1999/02/22-rdf-syntax-ns#type"] = typeDesc

	o := &Ontology{classes: classes, properties: properties, order: order}
	o.version = schemaHash(b)
	return o, nil
}

func computeAncestors(classes map[string]*ClassDescriptor) error {
	visiting := map[string]bool{}
	done := map[string]bool{}

	var visit func(iri string) (map[string]bool, error)
	visit = func(iri string) (map[string]bool, error) {
		c := classes[iri]
		if done[iri] {
			return c.Ancestors, nil
		}
		if visiting[iri] {
			return nil, quillerr.New(quillerr.KindParseError, nil, "cycle in subclass chain involving %s", iri)
		}
		visiting[iri] = true
		anc := map[string]bool{iri: true}
		for _, p := range c.Parents {
			if p == iri {
				continue
			}
			pa, err := visit(p)
			if err != nil {
				return nil, err
			}
			for a := range pa {
				anc[a] = true
			}
		}
		visiting[iri] = false
		done[iri] = true
		c.Ancestors = anc
		return anc, nil
	}

	for iri := range classes {
		if _, err := visit(iri); err != nil {
			return err
		}
	}
	return nil
}

func topoOrder(classes map[string]*ClassDescriptor) ([]string, error) {
	var order []string
	state := map[string]int{} // 0=unvisited,1=visiting,2=done

	iris := make([]string, 0, len(classes))
	for iri := range classes {
		iris = append(iris, iri)
	}
	sort.Strings(iris)

	var visit func(iri string) error
	visit = func(iri string) error {
		switch state[iri] {
		case 2:
			return nil
		case 1:
			return quillerr.New(quillerr.KindParseError, nil, "cycle in subclass chain involving %s", iri)
		}
		state[iri] = 1
		c := classes[iri]
		parents := append([]string(nil), c.Parents...)
		sort.Strings(parents)
		for _, p := range parents {
			if p == iri {
				continue
			}
			if err := visit(p); err != nil {
				return err
			}
		}
		state[iri] = 2
		order = append(order, iri)
		return nil
	}
	for _, iri := range iris {
		if err := visit(iri); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func schemaHash(b *Bundle) uint32 {
	h := fnv.New32a()
	classes := append([]ClassDef(nil), b.Classes...)
	sort.Slice(classes, func(i, j int) bool { return classes[i].IRI < classes[j].IRI })
	for _, c := range classes {
		fmt.Fprintf(h, "class:%s:%v:%v|", c.IRI, c.Parents, c.Notify)
	}
	props := append([]PropertyDef(nil), b.Properties...)
	sort.Slice(props, func(i, j int) bool { return props[i].IRI < props[j].IRI })
	for _, p := range props {
		fmt.Fprintf(h, "prop:%s:%s:%s:%s:%v:%v|", p.IRI, p.Domain, p.Range, p.Cardinality, p.FullText, p.Indexed)
	}
	return h.Sum32()
}

// tableName derives a physical SQLite table name for a class IRI.
func tableName(iri string) string { return "class_" + sanitize(iri) }

// columnName derives a physical column name for a single-valued property.
func columnName(iri string) string { return "p_" + sanitize(iri) }

// multiTableName derives a physical table name for a multi-valued property.
func multiTableName(iri string) string { return "prop_" + sanitize(iri) }

func sanitize(iri string) string {
	out := make([]rune, 0, len(iri))
	for _, r := range iri {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
