// Package exchange wraps the Binance spot kline REST and WebSocket
// surface: fetching bounded batches of historical candles and opening a
// restartable stream of live ticks for a (symbol, timeframe) pair.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"candle-retriever/internal/metrics"
	"candle-retriever/internal/model"
)

const provider = "binance"

// Client fetches historical klines and opens live kline streams. The
// rate limiter is shared across all REST calls a single Client makes,
// centralizing the pacing budget the source left hard-coded per
// call-site.
type Client struct {
	sdk     *binance.Client
	limiter *rate.Limiter
	log     *slog.Logger

	// Metrics is optional; when set, REST and stream error classification
	// and reconnect counts are recorded against it.
	Metrics *metrics.Metrics
}

// Config tunes the REST pacing budget.
type Config struct {
	// RESTBatchInterval is the minimum spacing between successive REST
	// calls, approximating the source's "~500ms per REST page" knob.
	RESTBatchInterval time.Duration
}

// DefaultConfig matches the source's hard-coded pacing.
func DefaultConfig() Config {
	return Config{RESTBatchInterval: 500 * time.Millisecond}
}

// New builds a Client against Binance's public (unauthenticated) kline
// surface — no API key is needed for market data.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.RESTBatchInterval <= 0 {
		cfg.RESTBatchInterval = DefaultConfig().RESTBatchInterval
	}
	return &Client{
		sdk:     binance.NewClient("", ""),
		limiter: rate.NewLimiter(rate.Every(cfg.RESTBatchInterval), 1),
		log:     log,
	}
}

// FetchKlines returns up to limit candles for (symbol, timeframe) with
// open_time <= endTimeMs, oldest first (the SDK itself returns ascending
// order; the source's "newest last" phrasing matches this directly).
func (c *Client) FetchKlines(ctx context.Context, symbol, tf string, limit int, endTimeMs int64) ([]model.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	klines, err := c.sdk.NewKlinesService().
		Symbol(symbol).
		Interval(tf).
		EndTime(endTimeMs).
		Limit(limit).
		Do(ctx)
	if err != nil {
		if isPermanent(err) {
			c.countError("permanent")
			return nil, &PermanentError{Op: "fetch_klines", Err: err}
		}
		c.countError("transient")
		return nil, &TransientError{Op: "fetch_klines", Err: err}
	}

	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, c.toCandle(symbol, tf, k))
	}
	return out, nil
}

func (c *Client) toCandle(symbol, tf string, k *binance.Kline) model.Candle {
	return model.Candle{
		Provider:              provider,
		Symbol:                symbol,
		Timeframe:             tf,
		OpenTime:              k.OpenTime,
		CloseTime:             k.CloseTime,
		Open:                  c.parseFloat("open", k.Open),
		High:                  c.parseFloat("high", k.High),
		Low:                   c.parseFloat("low", k.Low),
		Close:                 c.parseFloat("close", k.Close),
		Volume:                c.parseFloat("volume", k.Volume),
		QuoteAssetVolume:      c.parseFloat("quote_asset_volume", k.QuoteAssetVolume),
		NumberOfTrades:        k.TradeNum,
		TakerBuyBaseAssetVol:  c.parseFloat("taker_buy_base_asset_volume", k.TakerBuyBaseAssetVolume),
		TakerBuyQuoteAssetVol: c.parseFloat("taker_buy_quote_asset_volume", k.TakerBuyQuoteAssetVolume),
		Interpolated:          false,
	}
}

// parseFloat defaults to 0 on a malformed numeric string, logging a
// MalformedRowError rather than dropping the row — source data quality
// is not perfect but rows must remain aligned.
func (c *Client) parseFloat(field, raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.log.Warn("malformed kline field", "error", (&MalformedRowError{Field: field, Raw: raw}).Error())
		c.countError("malformed")
		return 0
	}
	return v
}

// countError increments ExchangeErrors[kind] when Metrics is wired.
func (c *Client) countError(kind string) {
	if c.Metrics != nil {
		c.Metrics.ExchangeErrors.WithLabelValues(kind).Inc()
	}
}

// isPermanent classifies a handful of well-known non-retryable Binance
// API error codes (invalid symbol, unsupported interval). Anything else
// — network errors, 5xx, rate-limit responses — is treated as transient.
func isPermanent(err error) bool {
	apiErr, ok := err.(*binance.APIError)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case -1121, -1120: // invalid symbol, invalid interval
		return true
	default:
		return false
	}
}
