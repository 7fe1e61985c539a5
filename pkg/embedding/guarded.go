package embedding

import (
	"context"
	"sync"
)

// Guarded wraps a Provider with a mutex so two independent callers — the
// batch engine and an immediate/unbatched handler — can share one
// non-reentrant Embedder without racing. It implements Provider itself, so
// it drops in wherever a Provider is expected.
type Guarded struct {
	mu       sync.Mutex
	Provider Provider
}

// NewGuarded wraps p for exclusive access.
func NewGuarded(p Provider) *Guarded {
	return &Guarded{Provider: p}
}

// Embed acquires the lock for the full underlying call, never releasing it
// early: the Embedder is CPU-bound and assumed unsafe to invoke concurrently
// with itself.
func (g *Guarded) Embed(ctx context.Context, texts []string, hint int) ([][]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Provider.Embed(ctx, texts, hint)
}

// Dimension delegates to the wrapped Provider.
func (g *Guarded) Dimension() int {
	return g.Provider.Dimension()
}

// ModelName delegates to the wrapped Provider.
func (g *Guarded) ModelName() string {
	return g.Provider.ModelName()
}
