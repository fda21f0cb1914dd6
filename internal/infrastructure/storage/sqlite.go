package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_signal_trader/internal/domain"
)

// SQLiteStore is the audit trail: executed trades and accepted confluence
// events. Daily risk counters live in memory; the database answers history
// queries and the daily P&L cross-check.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			reason TEXT,
			score REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);`,
		`CREATE TABLE IF NOT EXISTS confluence_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			opportunity_id TEXT NOT NULL,
			sentiment_id TEXT NOT NULL,
			time_gap_sec REAL NOT NULL,
			score REAL NOT NULL,
			detected_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_confluence_symbol ON confluence_events(symbol);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.TradeRecord) error {
	query := `INSERT INTO trades (symbol, action, side, quantity, entry_price, exit_price, realized_pnl, reason, score, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		trade.Symbol, trade.Action, string(trade.Side), trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.RealizedPnL, trade.Reason, trade.Score, trade.CreatedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		trade.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT id, symbol, action, side, quantity, entry_price, exit_price, realized_pnl, reason, score, created_at
			  FROM trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side string
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Action, &side, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &t.RealizedPnL, &t.Reason, &t.Score, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SaveConfluence(ctx context.Context, event *domain.ConfluenceEvent) error {
	query := `INSERT INTO confluence_events (symbol, opportunity_id, sentiment_id, time_gap_sec, score, detected_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		event.Symbol, event.Opportunity.ID, event.Sentiment.ID,
		event.TimeGapSec, event.Score, event.DetectedAt)
	return err
}

// ListConfluence returns recent accepted events, newest first. Only the ids
// of the constituent signals survive in history; full payloads live in the
// signal snapshot until consumed.
func (s *SQLiteStore) ListConfluence(ctx context.Context, limit int) ([]*domain.ConfluenceEvent, error) {
	query := `SELECT symbol, opportunity_id, sentiment_id, time_gap_sec, score, detected_at
			  FROM confluence_events ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.ConfluenceEvent
	for rows.Next() {
		var e domain.ConfluenceEvent
		var oppID, sentID string
		if err := rows.Scan(&e.Symbol, &oppID, &sentID, &e.TimeGapSec, &e.Score, &e.DetectedAt); err != nil {
			return nil, err
		}
		e.Opportunity = &domain.Signal{ID: oppID, Symbol: e.Symbol}
		e.Sentiment = &domain.Signal{ID: sentID, Symbol: e.Symbol}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DailyPnL sums realized P&L over close and partial-close rows for one UTC
// day ("2006-01-02").
func (s *SQLiteStore) DailyPnL(ctx context.Context, day string) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM trades
			  WHERE action != 'open' AND date(created_at) = ?`
	var pnl float64
	if err := s.db.QueryRowContext(ctx, query, day).Scan(&pnl); err != nil {
		return 0, err
	}
	return pnl, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
