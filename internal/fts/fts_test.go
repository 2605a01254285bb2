package fts_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/fts"
)

func TestNormalizeFoldsCaseAndStripsDiacritics(t *testing.T) {
	require.Equal(t, "cafe", fts.Normalize("CAFÉ"))
	require.Equal(t, "resume", fts.Normalize("Résumé"))
}

func TestToMatchQueryHandlesOperatorsPhrasesAndPrefix(t *testing.T) {
	require.Equal(t, `cafe OR resume`, fts.ToMatchQuery("Café OR Résumé"))
	require.Equal(t, `"cafe culture" AND design*`, fts.ToMatchQuery(`"Café culture" AND Design*`))
}

func TestToMatchQueryOfEmptyExpression(t *testing.T) {
	require.Equal(t, "", fts.ToMatchQuery(""))
}
