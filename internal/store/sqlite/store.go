// Package sqlite implements the per-symbol candle store: one database
// file per symbol holding the candlesticks table, the timeframe_status
// progress ledger, and the optional rsi_values table.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"candle-retriever/internal/model"
)

// Store is a handle on a single symbol's SQLite file. Writes serialize
// through a single connection; reads use a separate, wider pool so paged
// HTTP reads don't queue behind batch inserts.
type Store struct {
	path    string
	writeDB *sql.DB
	readDB  *sql.DB
}

// Open creates the candlesticks table, its (provider, symbol, timeframe,
// open_time) unique index, the timeframe_status table, and the optional
// rsi_values table if absent, then returns a ready handle. Idempotent.
func Open(path string) (*Store, error) {
	writeDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open (write): %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=rwc")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("sqlite open (read): %w", err)
	}
	readDB.SetMaxOpenConns(4)

	if err := createSchema(writeDB); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[store] opened %s", path)
	return &Store{path: path, writeDB: writeDB, readDB: readDB}, nil
}

// Path returns the underlying database file path.
func (s *Store) Path() string { return s.path }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candlesticks (
			provider                 TEXT    NOT NULL,
			symbol                   TEXT    NOT NULL,
			timeframe                TEXT    NOT NULL,
			open_time                INTEGER NOT NULL,
			open                     REAL    NOT NULL,
			high                     REAL    NOT NULL,
			low                      REAL    NOT NULL,
			close                    REAL    NOT NULL,
			volume                   REAL    NOT NULL,
			close_time               INTEGER NOT NULL,
			quote_asset_volume       REAL    NOT NULL DEFAULT 0,
			number_of_trades         INTEGER NOT NULL DEFAULT 0,
			taker_buy_base_asset_volume  REAL NOT NULL DEFAULT 0,
			taker_buy_quote_asset_volume REAL NOT NULL DEFAULT 0,
			interpolated             INTEGER NOT NULL DEFAULT 0,
			UNIQUE(provider, symbol, timeframe, open_time)
		);

		CREATE INDEX IF NOT EXISTS idx_candlesticks_range
			ON candlesticks(provider, symbol, timeframe, open_time);

		CREATE TABLE IF NOT EXISTS timeframe_status (
			provider           TEXT    NOT NULL,
			symbol             TEXT    NOT NULL,
			timeframe          TEXT    NOT NULL,
			oldest_candle_time INTEGER NOT NULL,
			last_updated       INTEGER NOT NULL,
			PRIMARY KEY (provider, symbol, timeframe)
		);

		CREATE TABLE IF NOT EXISTS rsi_values (
			provider   TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			period     INTEGER NOT NULL,
			open_time  INTEGER NOT NULL,
			rsi_value  REAL    NOT NULL,
			UNIQUE(provider, symbol, timeframe, period, open_time)
		);
	`)
	return err
}

// InsertBatch atomically inserts rows under a single write transaction.
// Duplicate (provider, symbol, timeframe, open_time) keys are silently
// ignored (idempotent upsert-ignore) and not counted. Returns the count
// of genuinely new rows.
func (s *Store) InsertBatch(rows []model.Candle) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.writeDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO candlesticks
			(provider, symbol, timeframe, open_time, open, high, low, close, volume,
			 close_time, quote_asset_volume, number_of_trades,
			 taker_buy_base_asset_volume, taker_buy_quote_asset_volume, interpolated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range rows {
		res, err := stmt.Exec(
			c.Provider, c.Symbol, c.Timeframe, c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			c.CloseTime, c.QuoteAssetVolume, c.NumberOfTrades,
			c.TakerBuyBaseAssetVol, c.TakerBuyQuoteAssetVol, c.Interpolated,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("exec: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// RangeScan returns candles for (provider, symbol, timeframe) with
// open_time in [startMs, endMs], ordered ascending by open_time.
func (s *Store) RangeScan(provider, symbol, timeframe string, startMs, endMs int64) ([]model.Candle, error) {
	rows, err := s.readDB.Query(`
		SELECT provider, symbol, timeframe, open_time, open, high, low, close, volume,
		       close_time, quote_asset_volume, number_of_trades,
		       taker_buy_base_asset_volume, taker_buy_quote_asset_volume, interpolated
		FROM candlesticks
		WHERE provider = ? AND symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
	`, provider, symbol, timeframe, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("range scan: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// RangeScanLimit is RangeScan with a LIMIT/OFFSET page, for the façade's
// paged reads.
func (s *Store) RangeScanLimit(provider, symbol, timeframe string, startMs, endMs int64, limit, offset int) ([]model.Candle, error) {
	rows, err := s.readDB.Query(`
		SELECT provider, symbol, timeframe, open_time, open, high, low, close, volume,
		       close_time, quote_asset_volume, number_of_trades,
		       taker_buy_base_asset_volume, taker_buy_quote_asset_volume, interpolated
		FROM candlesticks
		WHERE provider = ? AND symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
		LIMIT ? OFFSET ?
	`, provider, symbol, timeframe, startMs, endMs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("range scan limit: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(
			&c.Provider, &c.Symbol, &c.Timeframe, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.CloseTime, &c.QuoteAssetVolume, &c.NumberOfTrades,
			&c.TakerBuyBaseAssetVol, &c.TakerBuyQuoteAssetVol, &c.Interpolated,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DistinctTimeframes returns the set of timeframes with stored rows for
// a symbol, used for pair discovery.
func (s *Store) DistinctTimeframes(provider, symbol string) ([]string, error) {
	rows, err := s.readDB.Query(`
		SELECT DISTINCT timeframe FROM candlesticks WHERE provider = ? AND symbol = ? ORDER BY timeframe
	`, provider, symbol)
	if err != nil {
		return nil, fmt.Errorf("distinct timeframes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tf string
		if err := rows.Scan(&tf); err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, rows.Err()
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
