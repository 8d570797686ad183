package sqlite

import "fmt"

// UpsertRSI writes one rsi_values row, replacing any existing value for
// the same (provider, symbol, timeframe, period, open_time).
func (s *Store) UpsertRSI(provider, symbol, timeframe string, period int, openTime int64, value float64) error {
	_, err := s.writeDB.Exec(`
		INSERT OR REPLACE INTO rsi_values (provider, symbol, timeframe, period, open_time, rsi_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, provider, symbol, timeframe, period, openTime, value)
	if err != nil {
		return fmt.Errorf("upsert rsi: %w", err)
	}
	return nil
}

// ReadRSI returns the stored rsi_values rows for (provider, symbol,
// timeframe, period) with open_time in [startMs, endMs], ordered
// ascending.
func (s *Store) ReadRSI(provider, symbol, timeframe string, period int, startMs, endMs int64) ([]RSIPoint, error) {
	rows, err := s.readDB.Query(`
		SELECT open_time, rsi_value FROM rsi_values
		WHERE provider = ? AND symbol = ? AND timeframe = ? AND period = ?
		      AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
	`, provider, symbol, timeframe, period, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("read rsi: %w", err)
	}
	defer rows.Close()

	var out []RSIPoint
	for rows.Next() {
		var p RSIPoint
		if err := rows.Scan(&p.OpenTime, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RSIPoint is one stored RSI value at a given open_time.
type RSIPoint struct {
	OpenTime int64   `json:"open_time"`
	Value    float64 `json:"rsi_value"`
}
