package exchange

import (
	"io"
	"log/slog"
	"testing"

	"github.com/adshao/go-binance/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFloatDefaultsMalformedToZero(t *testing.T) {
	c := New(DefaultConfig(), testLogger())

	if got := c.parseFloat("open", "123.45"); got != 123.45 {
		t.Errorf("parseFloat(valid) = %v, want 123.45", got)
	}
	if got := c.parseFloat("open", "not-a-number"); got != 0 {
		t.Errorf("parseFloat(malformed) = %v, want 0", got)
	}
}

func TestToCandleFields(t *testing.T) {
	c := New(DefaultConfig(), testLogger())
	k := &binance.Kline{
		OpenTime:                 1_700_000_000_000,
		CloseTime:                1_700_000_299_999,
		Open:                     "100.5",
		High:                     "101.0",
		Low:                      "99.0",
		Close:                    "100.8",
		Volume:                   "10.25",
		QuoteAssetVolume:         "1030.0",
		TradeNum:                 42,
		TakerBuyBaseAssetVolume:  "5.0",
		TakerBuyQuoteAssetVolume: "510.0",
	}

	candle := c.toCandle("BTCUSDT", "5m", k)
	if candle.Provider != "binance" || candle.Symbol != "BTCUSDT" || candle.Timeframe != "5m" {
		t.Fatalf("unexpected identity: %+v", candle)
	}
	if candle.Open != 100.5 || candle.Close != 100.8 {
		t.Errorf("unexpected OHLC: %+v", candle)
	}
	if candle.NumberOfTrades != 42 {
		t.Errorf("NumberOfTrades = %d, want 42", candle.NumberOfTrades)
	}
	if candle.Interpolated {
		t.Error("REST-fetched candle must not be marked interpolated")
	}
}

func TestDecodeTick(t *testing.T) {
	event := &binance.WsKlineEvent{
		Symbol: "BTCUSDT",
		Kline: binance.WsKline{
			StartTime: 1_700_000_000_000,
			Open:      "100", High: "105", Low: "99", Close: "102", Volume: "3",
			IsFinal: true,
		},
	}
	tick, ok := decodeTick("btcusdt", "5m", event, testLogger())
	if !ok {
		t.Fatal("decodeTick returned ok=false for a well-formed event")
	}
	if tick.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want uppercased BTCUSDT", tick.Symbol)
	}
	if !tick.IsClosed {
		t.Error("IsClosed should mirror k.IsFinal")
	}
	if tick.OpenTimeMs != 1_700_000_000_000 {
		t.Errorf("OpenTimeMs = %d, want 1700000000000", tick.OpenTimeMs)
	}
}
