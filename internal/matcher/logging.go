package matcher

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

type LogMode int

const (
	LogModeQuiet LogMode = iota
	LogModeSummary
	LogModeVerbose
)

func ParseLogMode(input string) LogMode {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "summary":
		return LogModeSummary
	case "verbose":
		return LogModeVerbose
	default:
		return LogModeQuiet
	}
}

// Logger records accepted matches. Summary mode writes one line per match to the
// process log; verbose mode also appends a JSON record to path.
type Logger struct {
	mode LogMode
	path string

	mu sync.Mutex
}

func NewLogger(mode LogMode, path string) *Logger {
	if path == "" {
		path = "matches.log"
	}
	return &Logger{mode: mode, path: path}
}

func (l *Logger) Mode() LogMode {
	if l == nil {
		return LogModeQuiet
	}
	return l.mode
}

func (l *Logger) Enabled() bool {
	return l != nil && l.mode != LogModeQuiet
}

func (l *Logger) LogEvent(res matches.MatchResult, threshold float64) {
	if !l.Enabled() {
		return
	}
	logging.Infof("[matcher] event %s (%s) -> %s (%s) score=%.4f threshold=%.2f",
		res.PolyEvent.ID, res.PolyEvent.Title, res.KalshiEvent.ID, res.KalshiEvent.Title, res.Score, threshold)
	if l.mode == LogModeVerbose {
		l.appendToFile("event", res.PolyEvent.ID, res.KalshiEvent.ID, res.Score, threshold, res)
	}
}

func (l *Logger) LogMarket(res matches.MarketMatchResult, threshold float64) {
	if !l.Enabled() {
		return
	}
	logging.Infof("[matcher] market %s (%s) -> %s (%s) score=%.4f threshold=%.2f",
		res.PolyMarket.MarketID, res.PolyMarket.Question, res.KalshiMarket.MarketID, res.KalshiMarket.Question, res.Score, threshold)
	if l.mode == LogModeVerbose {
		l.appendToFile("market", res.PolyMarket.MarketID, res.KalshiMarket.MarketID, res.Score, threshold, res)
	}
}

func (l *Logger) appendToFile(kind, polyID, kalshiID string, score, threshold float64, match any) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"kind":      kind,
		"poly_id":   polyID,
		"kalshi_id": kalshiID,
		"score":     score,
		"threshold": threshold,
		"match":     match,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		logging.Warnf("[matcher] match log marshal error: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logging.Warnf("[matcher] match log open error: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.Warnf("[matcher] match log write error: %v", err)
	}
}
