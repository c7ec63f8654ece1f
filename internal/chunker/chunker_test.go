package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_InvariantsHoldAcrossModes(t *testing.T) {
	source := strings.Repeat("The knee is a hinge joint. It bears significant load. ", 200)

	for _, semantic := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.UseSemanticSplitting = semantic
		chunks, err := Run(source, cfg, map[string]any{"source": "doc.txt"})
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		lastStart := -1
		for i, c := range chunks {
			require.Equal(t, i, c.Index)
			require.NotEmpty(t, strings.TrimSpace(c.Content))
			require.LessOrEqual(t, c.StartChar, c.EndChar)
			require.LessOrEqual(t, c.EndChar, len(source))
			require.GreaterOrEqual(t, c.StartChar, lastStart)
			lastStart = c.StartChar
			require.LessOrEqual(t, len(c.Content), cfg.MaxChunkSize)
			require.Equal(t, len(chunks), c.Metadata["total_chunks"])
		}
	}
}

func TestRun_ChunkContentMatchesSourceSlice(t *testing.T) {
	source := "Paragraph one has some words.\n\nParagraph two has more words, and continues on for a while to ensure it exceeds the minimum size."
	cfg := DefaultConfig()
	chunks, err := Run(source, cfg, nil)
	require.NoError(t, err)
	for _, c := range chunks {
		require.Equal(t, source[c.StartChar:c.EndChar], c.Content)
	}
}

func TestRun_OversizedSegmentSplitsAtSentenceBoundary(t *testing.T) {
	sentence := "This is one sentence of moderate length for testing. "
	source := strings.Repeat(sentence, 100)
	cfg := Config{ChunkSize: 200, ChunkOverlap: 20, MaxChunkSize: 300, MinChunkSize: 10, UseSemanticSplitting: true}
	chunks, err := Run(source, cfg, nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c.Content), cfg.MaxChunkSize)
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	_, err := Run("hello", Config{ChunkSize: 10, ChunkOverlap: 10, MaxChunkSize: 10, MinChunkSize: 1}, nil)
	require.Error(t, err)
}

func TestRun_SimpleModeProducesFixedWindows(t *testing.T) {
	source := strings.Repeat("a", 1000)
	cfg := Config{ChunkSize: 100, ChunkOverlap: 10, MaxChunkSize: 100, MinChunkSize: 1, UseSemanticSplitting: false}
	chunks, err := Run(source, cfg, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 5)
	require.Equal(t, "simple", chunks[0].Metadata["chunk_method"])
}
