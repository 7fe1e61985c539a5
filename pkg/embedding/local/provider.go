// Package local implements a dependency-free, deterministic embedding
// Provider. It exists for development, CI, and the engine's own test
// scenarios so they can run without network egress or an API key, in the
// spirit of the original proxy's locally-hosted fastembed model.
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/embedbatch/embedbatch/pkg/embedding"
	"github.com/embedbatch/embedbatch/pkg/vecmath"
	"github.com/schollz/progressbar/v3"
)

const (
	defaultDimension = 384
	defaultModelName = "local-hashing-v1"
)

// Config holds local provider configuration.
type Config struct {
	// Dimension is the output vector length.
	Dimension int

	// ShowProgress renders a progress bar while "loading" the model, for
	// parity with the original source's download-progress option; this
	// provider has no weights to fetch, so the bar simply runs through a
	// fixed 100 steps.
	ShowProgress bool
}

// Provider is a local, hash-based text embedder. Non-reentrant per the
// embedding.Provider contract, though nothing here actually requires
// exclusion — it holds no mutable state between calls.
type Provider struct {
	dimension int
}

// NewProvider creates a local embedding provider.
func NewProvider(cfg Config) (*Provider, error) {
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = defaultDimension
	}

	if cfg.ShowProgress {
		bar := progressbar.Default(100, "loading local embedding model")
		for i := 0; i < 100; i++ {
			_ = bar.Add(1)
		}
	}

	return &Provider{dimension: dimension}, nil
}

// Embed converts texts into vectors by folding hashed tokens into fixed-size
// bins. hint, when positive, is the number of tokens folded per pass —
// mirroring fastembed's chunk_size knob; the vector is normalized once after
// all passes, so hint does not change the final result.
func (p *Provider) Embed(ctx context.Context, texts []string, hint int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	chunk := hint
	if chunk <= 0 {
		chunk = 32
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = p.embedOne(text, chunk)
	}

	return results, nil
}

func (p *Provider) embedOne(text string, chunk int) []float32 {
	vec := make([]float32, p.dimension)
	tokens := strings.Fields(strings.ToLower(text))

	for start := 0; start < len(tokens); start += chunk {
		end := start + chunk
		if end > len(tokens) {
			end = len(tokens)
		}
		for _, tok := range tokens[start:end] {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum32()

			idx := int(sum) % p.dimension
			if idx < 0 {
				idx += p.dimension
			}
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	if len(tokens) == 0 {
		vecmath.ZeroVector(vec)
		return vec
	}

	vecmath.NormalizeInPlace(vec)
	return vec
}

// Dimension returns the embedding dimension.
func (p *Provider) Dimension() int {
	return p.dimension
}

// ModelName returns the model name.
func (p *Provider) ModelName() string {
	return fmt.Sprintf("%s-%dd", defaultModelName, p.dimension)
}
