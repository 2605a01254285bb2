package rdfio_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/rdfio"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/sparql"
)

func decodeAll(t *testing.T, src string, format rdfio.Format, prefixes map[string]string) []rdfio.Quad {
	t.Helper()
	dec, err := rdfio.NewDecoder(src, format, prefixes)
	require.NoError(t, err)
	var quads []rdfio.Quad
	for {
		q, ok, err := dec.Next()
		require.NoError(t, err)
		if !ok {
			return quads
		}
		quads = append(quads, q)
	}
}

func TestTurtleDecodeBasicDocument(t *testing.T) {
	src := `@prefix ex: <http://example.org/> .
<urn:ada> a ex:Person ;
	ex:name "Ada" ;
	ex:age 36 ;
	ex:knows <urn:grace>, <urn:alan> .`

	quads := decodeAll(t, src, rdfio.FormatTurtle, nil)
	require.Len(t, quads, 5)

	require.Equal(t, "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", quads[0].Predicate)
	require.Equal(t, rdfvalue.IRIValue("http://example.org/Person"), quads[0].Object)
	require.Equal(t, "http://example.org/name", quads[1].Predicate)
	require.Equal(t, rdfvalue.StringValue("Ada"), quads[1].Object)
	require.Equal(t, rdfvalue.IntegerValue(36), quads[2].Object)
	require.Equal(t, rdfvalue.IRIValue("urn:grace"), quads[3].Object)
	require.Equal(t, rdfvalue.IRIValue("urn:alan"), quads[4].Object)
	for _, q := range quads {
		require.Equal(t, "urn:ada", q.Subject)
		require.Empty(t, q.Graph)
	}
}

func TestTurtleDecodeKeepsUnboundPrefixOpaque(t *testing.T) {
	quads := decodeAll(t, `<urn:f> nie:title "hello" .`, rdfio.FormatTurtle, nil)
	require.Len(t, quads, 1)
	require.Equal(t, "nie:title", quads[0].Predicate)
}

func TestTurtleDecodeSeededPrefixesExpand(t *testing.T) {
	quads := decodeAll(t, `<urn:f> nie:title "hello" .`, rdfio.FormatTurtle,
		map[string]string{"nie": "http://example.org/nie#"})
	require.Len(t, quads, 1)
	require.Equal(t, "http://example.org/nie#title", quads[0].Predicate)
}

func TestTriGDecodeGraphBlocks(t *testing.T) {
	src := `GRAPH <urn:g1> { <urn:a> <urn:p> "one" . }
<urn:g2> { <urn:b> <urn:p> "two" . }
<urn:c> <urn:p> "default" .`

	quads := decodeAll(t, src, rdfio.FormatTriG, nil)
	require.Len(t, quads, 3)
	require.Equal(t, "urn:g1", quads[0].Graph)
	require.Equal(t, "urn:g2", quads[1].Graph)
	require.Empty(t, quads[2].Graph)
}

func TestTurtleEncodeDecodeRoundTrips(t *testing.T) {
	ns := sparql.NewNamespaces(map[string]string{"ex": "http://example.org/"})
	in := []rdfio.Quad{
		{Subject: "urn:ada", Predicate: "http://example.org/name", Object: rdfvalue.StringValue("Ada")},
		{Subject: "urn:ada", Predicate: "http://example.org/age", Object: rdfvalue.IntegerValue(36)},
		{Subject: "urn:ada", Predicate: "http://example.org/knows", Object: rdfvalue.IRIValue("urn:grace")},
	}

	var buf strings.Builder
	require.NoError(t, rdfio.Encode(&buf, rdfio.FormatTurtle, in, ns))
	require.Contains(t, buf.String(), "ex:name")

	out := decodeAll(t, buf.String(), rdfio.FormatTurtle, nil)
	require.ElementsMatch(t, in, out)
}

func TestTriGEncodePreservesNamedGraphs(t *testing.T) {
	ns := sparql.NewNamespaces(nil)
	in := []rdfio.Quad{
		{Graph: "urn:g", Subject: "urn:a", Predicate: "urn:p", Object: rdfvalue.StringValue("x")},
		{Subject: "urn:b", Predicate: "urn:p", Object: rdfvalue.StringValue("y")},
	}
	var buf strings.Builder
	require.NoError(t, rdfio.Encode(&buf, rdfio.FormatTriG, in, ns))
	require.Contains(t, buf.String(), "GRAPH <urn:g> {")

	out := decodeAll(t, buf.String(), rdfio.FormatTriG, nil)
	require.ElementsMatch(t, in, out)
}

func TestJSONLDDecodeGraphDocument(t *testing.T) {
	doc := `{
		"@context": {"ex": "http://example.org/"},
		"@graph": [
			{"@id": "urn:ada", "@type": "ex:Person", "ex:name": "Ada", "ex:age": 36},
			{"@id": "urn:grace", "ex:knows": {"@id": "urn:ada"}}
		]
	}`
	quads, err := rdfio.DecodeJSONLD([]byte(doc), nil)
	require.NoError(t, err)
	require.Len(t, quads, 4)

	byPred := map[string]rdfio.Quad{}
	for _, q := range quads {
		byPred[q.Predicate] = q
	}
	require.Equal(t, rdfvalue.IRIValue("http://example.org/Person"),
		byPred["http://www.w3.org/1999/02/22-rdf-syntax-ns#type"].Object)
	require.Equal(t, rdfvalue.StringValue("Ada"), byPred["http://example.org/name"].Object)
	require.Equal(t, rdfvalue.IntegerValue(36), byPred["http://example.org/age"].Object)
	require.Equal(t, rdfvalue.IRIValue("urn:ada"), byPred["http://example.org/knows"].Object)
}

func TestJSONLDEncodeDecodeRoundTrips(t *testing.T) {
	ns := sparql.NewNamespaces(map[string]string{"ex": "http://example.org/"})
	in := []rdfio.Quad{
		{Subject: "urn:ada", Predicate: "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", Object: rdfvalue.IRIValue("http://example.org/Person")},
		{Subject: "urn:ada", Predicate: "http://example.org/name", Object: rdfvalue.StringValue("Ada")},
	}
	var buf strings.Builder
	require.NoError(t, rdfio.Encode(&buf, rdfio.FormatJSONLD, in, ns))

	out, err := rdfio.DecodeJSONLD([]byte(buf.String()), ns.Snapshot())
	require.NoError(t, err)
	require.ElementsMatch(t, in, out)
}

func TestTurtleDecodeReportsOffsetOnMalformedInput(t *testing.T) {
	dec, err := rdfio.NewDecoder(`<urn:a> <urn:p> .`, rdfio.FormatTurtle, nil)
	require.NoError(t, err)
	_, _, err = dec.Next()
	require.Error(t, err)
}
