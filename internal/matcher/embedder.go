package matcher

import (
	"context"
	"fmt"

	"github.com/hetulpatel/crossmatch/internal/cache"
	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/logging"
)

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CachingEmbedder looks texts up in an embedding cache and sends only the misses
// to the provider, in a single batch call.
type CachingEmbedder struct {
	provider Embedder
	store    cache.EmbeddingCache
	model    string
}

// NewCachingEmbedder composes provider and store. A nil store disables caching.
func NewCachingEmbedder(provider Embedder, store cache.EmbeddingCache, model string) *CachingEmbedder {
	return &CachingEmbedder{provider: provider, store: store, model: model}
}

func (e *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	byText := make(map[string][]float32, len(texts))
	var missing []string
	seen := make(map[string]struct{}, len(texts))

	for _, text := range texts {
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		if e.store != nil {
			vec, ok, err := e.store.Get(ctx, cache.EmbeddingKey(e.model, text))
			if err != nil {
				logging.Warnf("[embed-cache] get failed, treating as miss: %v", err)
			} else if ok && len(vec) > 0 {
				byText[text] = vec
				continue
			}
		}
		missing = append(missing, text)
	}

	if len(missing) > 0 {
		logging.Debugf("[embed-cache] %d hits, %d misses", len(seen)-len(missing), len(missing))
		vecs, err := e.provider.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", domain.ErrEmbedding, len(vecs), len(missing))
		}
		for i, text := range missing {
			byText[text] = vecs[i]
			if e.store != nil {
				if err := e.store.Set(ctx, cache.EmbeddingKey(e.model, text), vecs[i]); err != nil {
					logging.Warnf("[embed-cache] set failed: %v", err)
				}
			}
		}
	}

	for i, text := range texts {
		out[i] = byText[text]
	}
	return out, nil
}
