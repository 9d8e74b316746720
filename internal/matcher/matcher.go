package matcher

import (
	"context"
	"fmt"

	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
)

const (
	DefaultEventMinScore  = 0.75
	DefaultMarketMinScore = 0.82
)

type Config struct {
	Embedder       Embedder
	Cache          *matchcache.Cache
	EventMinScore  float64
	MarketMinScore float64
	Logger         *Logger
}

// Matcher pairs Polymarket and Kalshi records by embedding similarity.
type Matcher struct {
	embedder       Embedder
	cache          *matchcache.Cache
	eventMinScore  float64
	marketMinScore float64
	logger         *Logger
}

// Options apply to a single matching call.
type Options struct {
	// ForceRefresh skips match-cache reads; results are still written back.
	ForceRefresh bool
	// EventMinScore and MarketMinScore override the configured thresholds for
	// this call when they fall in (0,1].
	EventMinScore  float64
	MarketMinScore float64
	Progress       func(msg string)
}

func (o Options) progress(format string, args ...any) {
	if o.Progress != nil {
		o.Progress(fmt.Sprintf(format, args...))
	}
}

func validScore(s float64) bool {
	return s > 0 && s <= 1
}

func (m *Matcher) eventThreshold(opts Options) float64 {
	if validScore(opts.EventMinScore) {
		return opts.EventMinScore
	}
	return m.eventMinScore
}

func (m *Matcher) marketThreshold(opts Options) float64 {
	if validScore(opts.MarketMinScore) {
		return opts.MarketMinScore
	}
	return m.marketMinScore
}

func New(cfg Config) (*Matcher, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("matcher: embedder is required")
	}
	eventMin := cfg.EventMinScore
	if !validScore(eventMin) {
		eventMin = DefaultEventMinScore
	}
	marketMin := cfg.MarketMinScore
	if !validScore(marketMin) {
		marketMin = DefaultMarketMinScore
	}
	return &Matcher{
		embedder:       cfg.Embedder,
		cache:          cfg.Cache,
		eventMinScore:  eventMin,
		marketMinScore: marketMin,
		logger:         cfg.Logger,
	}, nil
}

// scoreMatrix fills an |left|x|right| matrix. cached supplies scores for cells
// that need no embedding; the remaining cells are scored by cosine similarity of
// the texts' embeddings, fetched in one batch.
func (m *Matcher) scoreMatrix(ctx context.Context, left, right []string, cached func(i, j int) (float64, bool), opts Options, what string) ([][]float64, error) {
	scores := make([][]float64, len(left))
	needLeft := make([]bool, len(left))
	needRight := make([]bool, len(right))
	hits := 0
	for i := range left {
		scores[i] = make([]float64, len(right))
		for j := range right {
			if s, ok := cached(i, j); ok {
				scores[i][j] = s
				hits++
				continue
			}
			scores[i][j] = -1
			needLeft[i] = true
			needRight[j] = true
		}
	}
	if hits == len(left)*len(right) {
		return scores, nil
	}

	var texts []string
	leftIdx := make(map[int]int)
	rightIdx := make(map[int]int)
	for i, need := range needLeft {
		if need {
			leftIdx[i] = len(texts)
			texts = append(texts, left[i])
		}
	}
	for j, need := range needRight {
		if need {
			rightIdx[j] = len(texts)
			texts = append(texts, right[j])
		}
	}

	opts.progress("Embedding %d %s (%d cached pair scores)...", len(texts), what, hits)
	logging.Debugf("[matcher] embedding %d %s texts, %d cached cells", len(texts), what, hits)
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	for i := range left {
		for j := range right {
			if scores[i][j] >= 0 {
				continue
			}
			scores[i][j] = cosine(vecs[leftIdx[i]], vecs[rightIdx[j]])
		}
	}
	return scores, nil
}
