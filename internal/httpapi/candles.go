package httpapi

import (
	"fmt"
	"net/http"

	"candle-retriever/internal/model"
)

// apiCandle is the wire shape for /api/candles: open_time in seconds, to
// match the viewer's charting library convention.
type apiCandle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type cacheEntry struct {
	candles []apiCandle
}

func toAPICandle(c model.Candle) apiCandle {
	return apiCandle{
		Time:   c.OpenTime / 1000,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	timeframe := r.URL.Query().Get("timeframe")
	if symbol == "" || timeframe == "" {
		writeError(w, http.StatusBadRequest, "symbol and timeframe are required")
		return
	}

	limit := queryInt(r, "limit", 2000)
	offset := queryInt(r, "offset", 0)
	startSec := queryInt64(r, "start", 0)
	endSec := queryInt64(r, "end", 1<<62)

	key := fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d", s.Provider, symbol, timeframe, startSec, endSec, limit, offset)
	if entry, ok := s.cache.Get(key); ok {
		if s.Metrics != nil {
			s.Metrics.CacheHits.Inc()
		}
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, entry.candles)
		return
	}
	if s.Metrics != nil {
		s.Metrics.CacheMisses.Inc()
	}

	store, err := s.store(symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	startMs, endMs := startSec*1000, endSec*1000
	rows, err := store.RangeScanLimit(s.Provider, symbol, timeframe, startMs, endMs, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var out []apiCandle
	if len(rows) == 0 {
		out, err = s.downsample(store, symbol, timeframe, startMs, endMs, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		out = make([]apiCandle, len(rows))
		for i, c := range rows {
			out[i] = toAPICandle(c)
		}
	}

	s.cache.Add(key, cacheEntry{candles: out})
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, out)
}
