package model

import "encoding/json"

// Candle is a completed or synthetic OHLCV bar uniquely identified by
// (Provider, Symbol, Timeframe, OpenTime).
type Candle struct {
	Provider  string `json:"provider"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	OpenTime  int64 `json:"open_time"`  // ms since epoch, UTC
	CloseTime int64 `json:"close_time"` // ms since epoch, UTC

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	QuoteAssetVolume      float64 `json:"quote_asset_volume"`
	NumberOfTrades        int64   `json:"number_of_trades"`
	TakerBuyBaseAssetVol  float64 `json:"taker_buy_base_asset_volume"`
	TakerBuyQuoteAssetVol float64 `json:"taker_buy_quote_asset_volume"`

	Interpolated bool `json:"interpolated"`
}

// Key identifies a (provider, symbol, timeframe) progress/store scope.
type Key struct {
	Provider  string
	Symbol    string
	Timeframe string
}

// JSON returns the JSON-encoded candle, ignoring marshal errors (the
// struct is always marshalable).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ProgressCursor is the per-(provider, symbol, timeframe) resume point.
type ProgressCursor struct {
	Provider        string `json:"provider"`
	Symbol          string `json:"symbol"`
	Timeframe       string `json:"timeframe"`
	OldestCandleMs  int64  `json:"oldest_candle_time"`
	LastUpdatedMs   int64  `json:"last_updated"`
}

// RealtimeCandle is the in-memory, possibly still-forming candle for a
// (symbol, timeframe) pair. TimeSeconds is the open time, in seconds.
type RealtimeCandle struct {
	TimeSeconds int64   `json:"time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	IsClosed    bool    `json:"is_closed"`
}

// JSON returns the JSON-encoded realtime candle.
func (c *RealtimeCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CandleUpdate is a broadcast event published whenever a subscribed
// stream's partial candle changes.
type CandleUpdate struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Candle    RealtimeCandle `json:"candle"`
}
