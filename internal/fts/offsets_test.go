package fts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExprTermsDropsOperatorsAndNormalizes(t *testing.T) {
	terms := exprTerms(`Café AND "culture club" OR Design*`)
	require.Equal(t, []term{
		{text: "cafe"},
		{text: "culture"},
		{text: "club"},
		{text: "design", prefix: true},
	}, terms)
}

func TestScanTokensReportsOriginalByteSpans(t *testing.T) {
	// "café" is 5 bytes in UTF-8; the offsets must index the original
	// text, not its shorter normalised form.
	value := "the café, the Cafe"
	offs := scanTokens(value, exprTerms("cafe"))
	require.Equal(t, []Offset{
		{ByteOffset: 4, Length: 5},
		{ByteOffset: 15, Length: 4},
	}, offs)
}

func TestScanTokensPrefixTermMatchesTokenStart(t *testing.T) {
	offs := scanTokens("design designed redesign", exprTerms("design*"))
	require.Equal(t, []Offset{
		{ByteOffset: 0, Length: 6},
		{ByteOffset: 7, Length: 8},
	}, offs)
}

func TestScanTokensWithNoMatchReturnsNothing(t *testing.T) {
	require.Empty(t, scanTokens("nothing here", exprTerms("absent")))
}
