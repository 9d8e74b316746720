package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hetulpatel/crossmatch/internal/domain"
)

var batchesMu sync.Mutex

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeAPI answers /embeddings with vector [len(text), index] and returns the
// scripted status codes first.
func fakeAPI(t *testing.T, failures []int, calls *int32, batches *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt32(calls, 1)
		if int(n) <= len(failures) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failures[n-1])
			w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if batches != nil {
			batchesMu.Lock()
			*batches = append(*batches, len(req.Input))
			batchesMu.Unlock()
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// reversed order to check the client reorders by index
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = item{Object: "embedding", Embedding: []float32{float32(len(req.Input[j])), float32(j)}, Index: j}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
}

func newTestClient(t *testing.T, url string, batch int) *Client {
	t.Helper()
	c, err := New(Config{APIKey: "test", BaseURL: url + "/v1", BatchSize: batch, MaxRetries: 3, Backoff: time.Millisecond, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestEmbedBatchSplitsAndOrders(t *testing.T) {
	var calls int32
	var batches []int
	srv := fakeAPI(t, nil, &calls, &batches)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d = %v, want first component %d", i, v, len(texts[i]))
		}
	}
	batchesMu.Lock()
	defer batchesMu.Unlock()
	if len(batches) != 3 || batches[0] != 2 || batches[2] != 1 {
		t.Errorf("batches = %v, want [2 2 1]", batches)
	}
}

func TestEmbedRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, []int{http.StatusTooManyRequests, http.StatusBadGateway}, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 10)
	v, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if v[0] != 5 {
		t.Errorf("vector = %v", v)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := fakeAPI(t, []int{http.StatusUnauthorized, http.StatusUnauthorized}, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 10)
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEmbedGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	failures := []int{500, 500, 500, 500, 500, 500}
	srv := fakeAPI(t, failures, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 10)
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("calls = %d, want 1 + 3 retries", got)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestBackoffCapped(t *testing.T) {
	if got := backoff(time.Second, 1); got != time.Second {
		t.Errorf("attempt 1 = %v", got)
	}
	if got := backoff(time.Second, 3); got != 4*time.Second {
		t.Errorf("attempt 3 = %v", got)
	}
	if got := backoff(time.Second, 10); got != maxBackoff {
		t.Errorf("attempt 10 = %v", got)
	}
}
