package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"sinew/internal/config"
	"sinew/internal/sinewerr"
)

// Client implements the C2 contract: embed(text) -> vector[D], deterministic
// for a given (model, text), with an offline mode for tests and a real mode
// that retries the remote provider once with backoff before surfacing
// EmbeddingError.
type Client struct {
	cfg config.EmbeddingConfig
	dim int
}

// NewClient builds a Client from the embedding section of Config.
// cfg.Dimension is the configured VECTOR_DIMENSION (must match every stored
// chunk's embedding); a non-positive value falls back to 1536.
func NewClient(cfg config.EmbeddingConfig) *Client {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	return &Client{cfg: cfg, dim: dim}
}

// Dimension returns D, the fixed embedding dimensionality this client produces.
func (c *Client) Dimension() int { return c.dim }

// Embed returns a single D-dimensional embedding for text. In offline mode
// the result is a deterministic hash-seeded vector; otherwise the configured
// remote provider is called, retried at most once on failure.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.Offline {
		return deterministicVector(c.cfg.Model, text, c.dim), nil
	}
	vecs, err := EmbedText(ctx, c.cfg, []string{text})
	if err != nil {
		time.Sleep(200 * time.Millisecond)
		vecs, err = EmbedText(ctx, c.cfg, []string{text})
		if err != nil {
			return nil, sinewerr.New(sinewerr.KindEmbeddingError, "embedding provider call failed after retry", err)
		}
	}
	if len(vecs) != 1 {
		return nil, sinewerr.New(sinewerr.KindEmbeddingError, "embedding provider returned unexpected result count", nil)
	}
	v := fitDimension(vecs[0], c.dim)
	return v, nil
}

// EmbedBatch embeds multiple texts, preserving order. Used by ingestion to
// embed a document's chunks.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fitDimension(v []float32, d int) []float32 {
	if len(v) == d {
		return v
	}
	out := make([]float32, d)
	copy(out, v)
	return out
}

// deterministicVector hashes (model, text) into a fixed-size vector so that
// embed(t) == embed(t) bit-for-bit in offline mode (spec §8).
func deterministicVector(model, text string, dim int) []float32 {
	v := make([]float32, dim)
	if text == "" {
		return v
	}
	seed := fnv.New64a()
	_, _ = seed.Write([]byte(model))
	base := seed.Sum64()
	b := []byte(text)
	gramLen := 3
	if len(b) < gramLen {
		addGram(base, b, v)
	} else {
		for i := 0; i <= len(b)-gramLen; i++ {
			addGram(base, b[i:i+gramLen], v)
		}
	}
	normalize(v)
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(seed >> (8 * i))
	}
	_, _ = h.Write(tmp[:])
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
