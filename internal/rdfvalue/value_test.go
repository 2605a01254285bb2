package rdfvalue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/rdfvalue"
)

func TestLiteralEncodingRoundTrips(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	for _, v := range []rdfvalue.Value{
		rdfvalue.StringValue("héllo"),
		rdfvalue.LangStringValue("bonjour", "fr"),
		rdfvalue.IntegerValue(-42),
		rdfvalue.DoubleValue(3.25),
		rdfvalue.BooleanValue(true),
		rdfvalue.DateTimeValue(when),
	} {
		got, err := rdfvalue.DecodeLiteral(v.Kind, rdfvalue.EncodeLiteral(v))
		require.NoError(t, err)
		require.Equal(t, v.Canonical(), got.Canonical())
	}
}

func TestDecodeLiteralRejectsMalformedInput(t *testing.T) {
	_, err := rdfvalue.DecodeLiteral(rdfvalue.KindInteger, "not-a-number")
	require.Error(t, err)
	_, err = rdfvalue.DecodeLiteral(rdfvalue.KindDateTime, "yesterday")
	require.Error(t, err)
}

func TestCanonicalSeparatesKindsWithEqualText(t *testing.T) {
	require.NotEqual(t,
		rdfvalue.StringValue("42").Canonical(),
		rdfvalue.IntegerValue(42).Canonical())
	require.NotEqual(t,
		rdfvalue.IRIValue("x").Canonical(),
		rdfvalue.BlankValue("x").Canonical())
}

func TestFromColumnDecodesDriverValues(t *testing.T) {
	v, err := rdfvalue.FromColumn(rdfvalue.KindInteger, int64(7))
	require.NoError(t, err)
	require.Equal(t, rdfvalue.IntegerValue(7), v)

	v, err = rdfvalue.FromColumn(rdfvalue.KindBoolean, int64(1))
	require.NoError(t, err)
	require.True(t, v.Bool)

	v, err = rdfvalue.FromColumn(rdfvalue.KindLangString, "salut@fr")
	require.NoError(t, err)
	require.Equal(t, "salut", v.Str)
	require.Equal(t, "fr", v.Lang)
}

func TestRangeKindOfMapsOntologyRangeNames(t *testing.T) {
	require.Equal(t, rdfvalue.KindInteger, rdfvalue.RangeKindOf("integer"))
	require.Equal(t, rdfvalue.KindLangString, rdfvalue.RangeKindOf("langString"))
	require.Equal(t, rdfvalue.KindString, rdfvalue.RangeKindOf("string"))
}
