package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultVocabulary_LoadsAllKinds(t *testing.T) {
	v, err := DefaultVocabulary()
	require.NoError(t, err)
	for _, kind := range []Kind{KindAnatomicalStructure, KindCondition, KindTreatment, KindDevice} {
		require.NotEmpty(t, v[kind], "expected terms for %s", kind)
	}
}

func TestExtract_MatchesAcrossKindsCaseInsensitively(t *testing.T) {
	v, err := DefaultVocabulary()
	require.NoError(t, err)
	ex := NewExtractor(v)

	text := "The patient's KNEE showed a stress fracture and was treated with physical therapy using a knee brace."
	entities := ex.Extract(text, "chunk-1")
	require.NotEmpty(t, entities)

	byKind := map[Kind][]string{}
	for _, e := range entities {
		byKind[e.Kind] = append(byKind[e.Kind], e.Name)
		require.Equal(t, "chunk-1", e.SourceChunkID)
		require.Equal(t, 1.0, e.Confidence)
		require.Equal(t, e.Name, strings.ToLower(text[e.Start:e.End]))
	}
	require.Contains(t, byKind[KindAnatomicalStructure], "knee")
	require.Contains(t, byKind[KindCondition], "stress fracture")
	require.Contains(t, byKind[KindTreatment], "physical therapy")
	require.Contains(t, byKind[KindDevice], "knee brace")
}

func TestExtract_PrefersLongestTermOverShorterSubstring(t *testing.T) {
	v, err := DefaultVocabulary()
	require.NoError(t, err)
	ex := NewExtractor(v)

	entities := ex.Extract("The intervertebral disc was herniated.", "chunk-2")
	var names []string
	for _, e := range entities {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "intervertebral disc")
	require.NotContains(t, names, "disc")
}

func TestExtract_NoMatchesReturnsEmpty(t *testing.T) {
	v, err := DefaultVocabulary()
	require.NoError(t, err)
	ex := NewExtractor(v)

	entities := ex.Extract("The weather today is sunny and warm.", "chunk-3")
	require.Empty(t, entities)
}
