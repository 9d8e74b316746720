package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/logging"
)

const (
	defaultModel      = "Qwen/Qwen3-Embedding-8B"
	defaultBaseURL    = "https://api.tokenfactory.nebius.com/v1/"
	defaultBatchSize  = 80
	defaultMaxRetries = 5
	defaultTimeout    = 60 * time.Second
	defaultBackoff    = time.Second
	maxBackoff        = 30 * time.Second
)

// Client wraps an OpenAI-compatible embedding API (Nebius by default).
type Client struct {
	api        *openai.Client
	model      string
	batchSize  int
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

// Config controls how the embedding client is constructed. Zero values select
// the defaults.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
	// Backoff is the first retry delay; it doubles per attempt up to 30s.
	Backoff time.Duration
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("NEBIUS_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = cfg.BaseURL

	return &Client{
		api:        openai.NewClientWithConfig(conf),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		backoff:    cfg.Backoff,
	}, nil
}

// Model names the embedding model; it is part of every embedding cache key.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches and returns one vector per text, in input
// order. Failures are wrapped as domain.ErrEmbedding.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: texts %d-%d: %v", domain.ErrEmbedding, start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var attempt int
	for {
		attempt++
		vecs, err := c.embedOnce(ctx, batch)
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt > c.maxRetries || !retryable(err) {
			return nil, err
		}
		wait := backoff(c.backoff, attempt)
		logging.Warnf("[embed] attempt %d for %d texts failed: %v (retry in %s)", attempt, len(batch), err, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: batch,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(batch))
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// transport failures and per-call timeouts
	return true
}

func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func backoff(base time.Duration, attempt int) time.Duration {
	wait := base << uint(attempt-1)
	if wait > maxBackoff || wait <= 0 {
		wait = maxBackoff
	}
	return wait
}
