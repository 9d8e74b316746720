package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

const (
	defaultPath = "data/market_matches.db"
	// fixed width so text ordering matches time ordering
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store wraps a SQLite DB connection. It backs the match cache and the
// arbitrage history.
type Store struct {
	path string
	db   *sql.DB
}

var _ matchcache.Backend = (*Store)(nil)

// Open creates (if needed) and opens the SQLite database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureWAL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Location implements matchcache.Backend.
func (s *Store) Location() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateTables ensures the cache and history tables exist.
func (s *Store) CreateTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// DropTables removes every table owned by the store.
func (s *Store) DropTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
DROP TABLE IF EXISTS event_pairs;
DROP TABLE IF EXISTS market_pairs;
DROP TABLE IF EXISTS arb_opportunities;`)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS event_pairs (
	pair_key TEXT PRIMARY KEY,
	poly_event_id TEXT NOT NULL,
	kalshi_event_id TEXT NOT NULL,
	score REAL NOT NULL,
	poly_title TEXT,
	kalshi_title TEXT,
	poly_url TEXT,
	kalshi_url TEXT,
	markets_digest TEXT,
	cached_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS market_pairs (
	pair_key TEXT PRIMARY KEY,
	event_pair_key TEXT NOT NULL,
	poly_market_id TEXT NOT NULL,
	kalshi_market_id TEXT NOT NULL,
	score REAL NOT NULL,
	poly_question TEXT,
	kalshi_question TEXT,
	poly_url TEXT,
	kalshi_url TEXT,
	poly_close_time TEXT,
	kalshi_close_time TEXT,
	cached_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS market_pairs_event_idx ON market_pairs(event_pair_key);
CREATE TABLE IF NOT EXISTS arb_opportunities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	pair_key TEXT NOT NULL,
	poly_market_id TEXT NOT NULL,
	poly_question TEXT,
	poly_yes_price REAL,
	poly_no_price REAL,
	kalshi_market_id TEXT NOT NULL,
	kalshi_question TEXT,
	kalshi_yes_price REAL,
	kalshi_no_price REAL,
	match_score REAL,
	best_leg TEXT,
	spread REAL,
	profit REAL,
	days_to_resolution INTEGER,
	annualized_return REAL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS arb_opportunities_run_idx ON arb_opportunities(run_id);
`

const eventColumns = `pair_key, poly_event_id, kalshi_event_id, score, poly_title, kalshi_title, poly_url, kalshi_url, markets_digest, cached_at`

const marketColumns = `pair_key, event_pair_key, poly_market_id, kalshi_market_id, score, poly_question, kalshi_question, poly_url, kalshi_url, poly_close_time, kalshi_close_time, cached_at`

const eventUpsertSQL = `
INSERT INTO event_pairs (` + eventColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(pair_key) DO UPDATE SET
	poly_event_id=excluded.poly_event_id,
	kalshi_event_id=excluded.kalshi_event_id,
	score=excluded.score,
	poly_title=excluded.poly_title,
	kalshi_title=excluded.kalshi_title,
	poly_url=excluded.poly_url,
	kalshi_url=excluded.kalshi_url,
	markets_digest=excluded.markets_digest,
	cached_at=excluded.cached_at;
`

const marketUpsertSQL = `
INSERT INTO market_pairs (` + marketColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(pair_key) DO UPDATE SET
	event_pair_key=excluded.event_pair_key,
	poly_market_id=excluded.poly_market_id,
	kalshi_market_id=excluded.kalshi_market_id,
	score=excluded.score,
	poly_question=excluded.poly_question,
	kalshi_question=excluded.kalshi_question,
	poly_url=excluded.poly_url,
	kalshi_url=excluded.kalshi_url,
	poly_close_time=excluded.poly_close_time,
	kalshi_close_time=excluded.kalshi_close_time,
	cached_at=excluded.cached_at;
`

// Get implements matchcache.Backend.
func (s *Store) Get(ctx context.Context, kind matches.Kind, key string) (*matchcache.Entry, error) {
	var (
		row *sql.Row
		e   matchcache.Entry
		err error
	)
	if kind == matches.KindMarket {
		row = s.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM market_pairs WHERE pair_key = ?`, key)
		e, err = scanMarket(row)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM event_pairs WHERE pair_key = ?`, key)
		e, err = scanEvent(row)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EventPairs implements matchcache.Backend.
func (s *Store) EventPairs(ctx context.Context) ([]matchcache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM event_pairs ORDER BY pair_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []matchcache.Entry
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarketPairs implements matchcache.Backend.
func (s *Store) MarketPairs(ctx context.Context, eventKey string) ([]matchcache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+marketColumns+` FROM market_pairs WHERE event_pair_key = ? ORDER BY pair_key`, eventKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []matchcache.Entry
	for rows.Next() {
		e, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutEventPairs upserts event entries in one transaction.
func (s *Store) PutEventPairs(ctx context.Context, entries []matchcache.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, eventUpsertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Key, e.PolyID, e.KalshiID, e.Score,
			e.PolyTitle, e.KalshiTitle, e.PolyURL, e.KalshiURL,
			e.MarketsDigest, formatTime(e.CachedAt),
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ReplaceMarketPairs deletes the event pair's market entries, inserts the new
// assignment and records digest on the event row, in one transaction.
func (s *Store) ReplaceMarketPairs(ctx context.Context, eventKey, digest string, entries []matchcache.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM market_pairs WHERE event_pair_key = ?`, eventKey); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE event_pairs SET markets_digest = ? WHERE pair_key = ?`, digest, eventKey); err != nil {
		tx.Rollback()
		return err
	}
	if len(entries) == 0 {
		return tx.Commit()
	}
	stmt, err := tx.PrepareContext(ctx, marketUpsertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Key, eventKey, e.PolyID, e.KalshiID, e.Score,
			e.PolyTitle, e.KalshiTitle, e.PolyURL, e.KalshiURL,
			formatTimePtr(e.PolyCloseTime), formatTimePtr(e.KalshiCloseTime),
			formatTime(e.CachedAt),
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Stats implements matchcache.Backend.
func (s *Store) Stats(ctx context.Context) (matchcache.Stats, error) {
	st := matchcache.Stats{Location: s.path}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_pairs`).Scan(&st.EventPairs); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_pairs`).Scan(&st.MarketPairs); err != nil {
		return st, err
	}
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT MIN(cached_at), MAX(cached_at) FROM (
	SELECT cached_at FROM event_pairs
	UNION ALL
	SELECT cached_at FROM market_pairs
)`).Scan(&oldest, &newest)
	if err != nil {
		return st, err
	}
	st.OldestEntry = parseTimePtr(oldest.String)
	st.NewestEntry = parseTimePtr(newest.String)
	return st, nil
}

// Clear removes every cache entry. History is kept.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{`DELETE FROM event_pairs;`, `DELETE FROM market_pairs;`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (matchcache.Entry, error) {
	var e matchcache.Entry
	var polyTitle, kalshiTitle, polyURL, kalshiURL, digest sql.NullString
	var cachedAt string
	if err := row.Scan(&e.Key, &e.PolyID, &e.KalshiID, &e.Score,
		&polyTitle, &kalshiTitle, &polyURL, &kalshiURL, &digest, &cachedAt); err != nil {
		return e, err
	}
	e.Kind = matches.KindEvent
	e.PolyTitle, e.KalshiTitle = polyTitle.String, kalshiTitle.String
	e.PolyURL, e.KalshiURL = polyURL.String, kalshiURL.String
	e.MarketsDigest = digest.String
	e.CachedAt = parseTime(cachedAt)
	return e, nil
}

func scanMarket(row scanner) (matchcache.Entry, error) {
	var e matchcache.Entry
	var polyQ, kalshiQ, polyURL, kalshiURL, polyClose, kalshiClose sql.NullString
	var cachedAt string
	if err := row.Scan(&e.Key, &e.EventKey, &e.PolyID, &e.KalshiID, &e.Score,
		&polyQ, &kalshiQ, &polyURL, &kalshiURL, &polyClose, &kalshiClose, &cachedAt); err != nil {
		return e, err
	}
	e.Kind = matches.KindMarket
	e.PolyTitle, e.KalshiTitle = polyQ.String, kalshiQ.String
	e.PolyURL, e.KalshiURL = polyURL.String, kalshiURL.String
	e.PolyCloseTime = parseTimePtr(polyClose.String)
	e.KalshiCloseTime = parseTimePtr(kalshiClose.String)
	e.CachedAt = parseTime(cachedAt)
	return e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
