package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// UpdateProgress records the oldest open_time reached so far for a
// (provider, symbol, timeframe). Called after each successful backfill
// batch. INSERT OR REPLACE: the row is created lazily on first call and
// overwritten thereafter, never deleted.
func (s *Store) UpdateProgress(provider, symbol, timeframe string, oldestCandleMs int64) error {
	now := time.Now().UnixMilli()
	_, err := s.writeDB.Exec(`
		INSERT OR REPLACE INTO timeframe_status
			(provider, symbol, timeframe, oldest_candle_time, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`, provider, symbol, timeframe, oldestCandleMs, now)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ReadProgress returns the oldest_candle_time resume point for a
// (provider, symbol, timeframe), or (0, false) if no entry exists yet
// (first run).
func (s *Store) ReadProgress(provider, symbol, timeframe string) (int64, bool, error) {
	var oldest int64
	err := s.readDB.QueryRow(`
		SELECT oldest_candle_time FROM timeframe_status
		WHERE provider = ? AND symbol = ? AND timeframe = ?
	`, provider, symbol, timeframe).Scan(&oldest)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read progress: %w", err)
	}
	return oldest, true, nil
}
