package ontology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/quillerr"
)

func sampleBundle() *Bundle {
	return &Bundle{
		Classes: []ClassDef{
			{IRI: "nie:InformationElement", Notify: false},
			{IRI: "nfo:FileDataObject", Parents: []string{"nie:InformationElement"}, Notify: true},
			{IRI: "nmm:MusicPiece", Parents: []string{"nfo:FileDataObject"}, Notify: true},
		},
		Properties: []PropertyDef{
			{IRI: "nie:title", Domain: "nie:InformationElement", Range: "string", Cardinality: CardinalitySingle, FullText: true},
			{IRI: "nmm:trackNumber", Domain: "nmm:MusicPiece", Range: "integer", Cardinality: CardinalitySingle},
			{IRI: "nie:relatedTo", Domain: "nie:InformationElement", Range: "nie:InformationElement", Cardinality: CardinalityMulti},
		},
	}
}

func TestBuildResolvesHierarchyAndKinds(t *testing.T) {
	o, err := LoadBundle(sampleBundle())
	require.NoError(t, err)

	music := o.ClassOf("nmm:MusicPiece")
	require.NotNil(t, music)
	require.True(t, o.IsSubClass("nmm:MusicPiece", "nie:InformationElement"))
	require.True(t, o.IsSubClass("nmm:MusicPiece", "nmm:MusicPiece"))
	require.False(t, o.IsSubClass("nie:InformationElement", "nmm:MusicPiece"))

	title := o.PropertyOf("nie:title")
	require.NotNil(t, title)
	require.Equal(t, SingleColumn, title.Kind)
	require.True(t, title.FullText)
	require.NotEmpty(t, title.FTSTable)

	track := o.PropertyOf("nmm:trackNumber")
	require.Equal(t, SingleColumn, track.Kind)
	require.Equal(t, RangeInteger, track.RangeKind)

	rel := o.PropertyOf("nie:relatedTo")
	require.Equal(t, MultiRow, rel.Kind)
	require.True(t, rel.IsObjectProp)

	typ := o.PropertyOf("rdf:type")
	require.Equal(t, TypeRow, typ.Kind)
	// The RDF codecs emit the full IRI spelling; both must resolve to the
	// same synthesised descriptor.
	require.Same(t, typ, o.PropertyOf("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"))
}

func TestBuildRejectsCycles(t *testing.T) {
	b := &Bundle{Classes: []ClassDef{
		{IRI: "a", Parents: []string{"b"}},
		{IRI: "b", Parents: []string{"a"}},
	}}
	_, err := LoadBundle(b)
	require.Error(t, err)
	var qerr *quillerr.Error
	require.True(t, errors.As(err, &qerr))
	require.Equal(t, quillerr.KindParseError, qerr.Kind)
}

func TestBuildAllowsSelfLoop(t *testing.T) {
	b := &Bundle{Classes: []ClassDef{{IRI: "a", Parents: []string{"a"}}}}
	o, err := LoadBundle(b)
	require.NoError(t, err)
	require.True(t, o.IsSubClass("a", "a"))
}

func TestBuildRejectsUnknownDomain(t *testing.T) {
	b := &Bundle{Properties: []PropertyDef{{IRI: "p", Domain: "missing", Range: "string"}}}
	_, err := LoadBundle(b)
	require.Error(t, err)
}

func TestBuildRejectsUnknownPrimitiveRange(t *testing.T) {
	b := &Bundle{
		Classes:    []ClassDef{{IRI: "a"}},
		Properties: []PropertyDef{{IRI: "p", Domain: "a", Range: "not-a-real-range"}},
	}
	_, err := LoadBundle(b)
	require.Error(t, err)
}

func TestSchemaVersionIsDeterministic(t *testing.T) {
	o1, err := LoadBundle(sampleBundle())
	require.NoError(t, err)
	o2, err := LoadBundle(sampleBundle())
	require.NoError(t, err)
	require.Equal(t, o1.SchemaVersion(), o2.SchemaVersion())

	b3 := sampleBundle()
	b3.Classes = append(b3.Classes, ClassDef{IRI: "extra:Class"})
	o3, err := LoadBundle(b3)
	require.NoError(t, err)
	require.NotEqual(t, o1.SchemaVersion(), o3.SchemaVersion())
}
