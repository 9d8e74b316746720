package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/engine"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matches"
	sqlstore "github.com/hetulpatel/crossmatch/internal/storage/sqlite"
	"github.com/hetulpatel/crossmatch/internal/stream"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []engine.Request
	cleared  bool

	block    bool
	fetchErr error
}

func (f *fakeEngine) remember(req engine.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
}

func (f *fakeEngine) lastRequest() engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeEngine) Compare(ctx context.Context, req engine.Request, rep stream.Reporter) ([]matches.CompareResult, error) {
	f.remember(req)
	rep.Progress("Matching events...")
	if f.block && req.Limit == 1 {
		<-ctx.Done()
		rep.Error("cancelled")
		return nil, ctx.Err()
	}
	results := []matches.CompareResult{{EventMatch: matches.MatchResult{Score: 0.9}}}
	rep.Done(stream.Done{Data: results})
	return results, nil
}

func (f *fakeEngine) Arbitrage(ctx context.Context, req engine.Request, rep stream.Reporter) ([]matches.ArbitrageResult, error) {
	f.remember(req)
	results := []matches.ArbitrageResult{{BestLeg: matches.DirectionBuyYesPMBuyNoKalshi, Profit: 0.02}}
	rep.Done(stream.Done{Data: results})
	return results, nil
}

func (f *fakeEngine) FetchEvents(ctx context.Context, venue collectors.Venue, limit int) ([]collectors.Event, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []collectors.Event{{Source: venue, ID: "e1", Title: fmt.Sprintf("limit %d", limit)}}, nil
}

func (f *fakeEngine) CacheStats(ctx context.Context) (matchcache.Stats, error) {
	return matchcache.Stats{EventPairs: 2, MarketPairs: 5, Location: "memory"}, nil
}

func (f *fakeEngine) CacheClear(ctx context.Context) error {
	f.mu.Lock()
	f.cleared = true
	f.mu.Unlock()
	return nil
}

type fakeHistory struct{}

func (fakeHistory) RecentArbitrage(ctx context.Context, limit int) ([]sqlstore.HistoryRow, error) {
	return []sqlstore.HistoryRow{{RunID: "r1", BestLeg: "pm_yes_ks_no"}}, nil
}

func newTestServer(t *testing.T, eng *fakeEngine, history History) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(eng, history, Config{}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestRESTRoutes(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, fakeHistory{})

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, `"status":"ok"`},
		{"events", http.MethodGet, "/events/kalshi?limit=7", http.StatusOK, `"title":"limit 7"`},
		{"events alias", http.MethodGet, "/events/pm", http.StatusOK, `"source":"polymarket"`},
		{"unknown venue", http.MethodGet, "/events/betfair", http.StatusNotFound, `unknown venue`},
		{"compare", http.MethodGet, "/compare?limit=3", http.StatusOK, `"score":0.9`},
		{"arbitrage", http.MethodGet, "/arbitrage?min_profit=1.5&max_days=30&refresh=true&event_min_score=0.6&market_min_score=0.9", http.StatusOK, `"best_leg":"pm_yes_ks_no"`},
		{"history", http.MethodGet, "/history", http.StatusOK, `"run_id":"r1"`},
		{"stats", http.MethodGet, "/cache/stats", http.StatusOK, `"market_pairs":5`},
		{"clear", http.MethodDelete, "/cache", http.StatusNoContent, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", body, tt.wantBody)
			}
		})
	}

	req := eng.lastRequest()
	if req.MinProfitCents != 1.5 || req.MaxDays != 30 || !req.ForceRefresh || req.EventMinScore != 0.6 || req.MarketMinScore != 0.9 {
		t.Errorf("arbitrage request = %+v", req)
	}
	if !eng.cleared {
		t.Error("cache not cleared")
	}
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream", fmt.Errorf("%w: kalshi: boom", domain.ErrUpstreamFetch), http.StatusBadGateway},
		{"validation", fmt.Errorf("%w: bad venue", domain.ErrValidation), http.StatusBadRequest},
		{"cancelled", fmt.Errorf("%w: %w", domain.ErrRunFailed, context.Canceled), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor = %d, want %d", got, tt.want)
			}
		})
	}

	srv := newTestServer(t, &fakeEngine{fetchErr: fmt.Errorf("%w: polymarket: down", domain.ErrUpstreamFetch)}, nil)
	resp, err := http.Get(srv.URL + "/events/polymarket")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("events status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("history status = %d", resp.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntilTerminal collects frames up to and including the next terminal frame.
func readUntilTerminal(t *testing.T, ws *websocket.Conn) []stream.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frames []stream.Frame
	for {
		var f stream.Frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v (after %+v)", err, frames)
		}
		frames = append(frames, f)
		if f.Type != stream.TypeProgress {
			return frames
		}
	}
}

func TestStatusSocketRuns(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	ws := dial(t, srv)

	if err := ws.WriteJSON(map[string]any{"type": "compare", "limit": 5}); err != nil {
		t.Fatal(err)
	}
	frames := readUntilTerminal(t, ws)
	if len(frames) != 2 || frames[0].Msg != "Matching events..." || frames[1].Type != stream.TypeDone {
		t.Fatalf("frames = %+v", frames)
	}

	if err := ws.WriteJSON(map[string]any{"type": "arb", "min_profit": 2}); err != nil {
		t.Fatal(err)
	}
	frames = readUntilTerminal(t, ws)
	if len(frames) != 1 || frames[0].Type != stream.TypeDone {
		t.Fatalf("frames = %+v", frames)
	}
	raw, _ := json.Marshal(frames[0].Data)
	if !strings.Contains(string(raw), "pm_yes_ks_no") {
		t.Errorf("data = %s", raw)
	}

	if err := ws.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatal(err)
	}
	frames = readUntilTerminal(t, ws)
	if len(frames) != 1 || frames[0].Type != stream.TypeError || !strings.Contains(frames[0].Msg, "unknown command") {
		t.Errorf("frames = %+v", frames)
	}
}

func TestStatusSocketSupersedes(t *testing.T) {
	eng := &fakeEngine{block: true}
	srv := newTestServer(t, eng, nil)
	ws := dial(t, srv)

	// limit 1 blocks until cancelled.
	if err := ws.WriteJSON(map[string]any{"type": "compare", "limit": 1}); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first stream.Frame
	if err := ws.ReadJSON(&first); err != nil || first.Type != stream.TypeProgress {
		t.Fatalf("first frame = %+v, %v", first, err)
	}

	if err := ws.WriteJSON(map[string]any{"type": "compare", "limit": 2}); err != nil {
		t.Fatal(err)
	}
	superseded := readUntilTerminal(t, ws)
	if superseded[len(superseded)-1].Type != stream.TypeError {
		t.Fatalf("superseded run frames = %+v", superseded)
	}
	next := readUntilTerminal(t, ws)
	if next[len(next)-1].Type != stream.TypeDone {
		t.Fatalf("second run frames = %+v", next)
	}
}

func TestStatusSocketUnknownCommandSupersedes(t *testing.T) {
	eng := &fakeEngine{block: true}
	srv := newTestServer(t, eng, nil)
	ws := dial(t, srv)

	if err := ws.WriteJSON(map[string]any{"type": "compare", "limit": 1}); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first stream.Frame
	if err := ws.ReadJSON(&first); err != nil || first.Type != stream.TypeProgress {
		t.Fatalf("first frame = %+v, %v", first, err)
	}

	if err := ws.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatal(err)
	}
	superseded := readUntilTerminal(t, ws)
	if last := superseded[len(superseded)-1]; last.Type != stream.TypeError || last.Msg != "cancelled" {
		t.Fatalf("superseded run frames = %+v", superseded)
	}
	rejected := readUntilTerminal(t, ws)
	if len(rejected) != 1 || !strings.Contains(rejected[0].Msg, "unknown command: dance") {
		t.Fatalf("unknown command frames = %+v", rejected)
	}

	// the cancelled run must not report done afterwards
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra stream.Frame
	if err := ws.ReadJSON(&extra); err == nil {
		t.Errorf("unexpected frame after unknown command: %+v", extra)
	}
}

func TestFinishSendsMissingTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, stream.TypeDone},
		{"failure", errors.New("boom"), stream.TypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec stream.Recorder
			g := stream.Guarded(&rec)
			finish(g, tt.err)
			finish(g, tt.err)
			frames := rec.Frames()
			if len(frames) != 1 || frames[0].Type != tt.want {
				t.Errorf("frames = %+v", frames)
			}
		})
	}
}
