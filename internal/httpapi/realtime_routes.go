package httpapi

import (
	"net/http"
	"strings"

	"candle-retriever/internal/model"
)

func (s *Server) handleRealtimeSubscribe(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	tfs := splitCSV(r.URL.Query().Get("timeframes"))
	if symbol == "" || len(tfs) == 0 {
		writeError(w, http.StatusBadRequest, "symbol and timeframes are required")
		return
	}

	s.Realtime.Subscribe(r.Context(), symbol, tfs)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     symbol,
		"timeframes": tfs,
		"subscribed": true,
	})
}

func (s *Server) handleRealtimeCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	tfs := splitCSV(r.URL.Query().Get("timeframes"))
	if symbol == "" || len(tfs) == 0 {
		writeError(w, http.StatusBadRequest, "symbol and timeframes are required")
		return
	}

	candles := s.Realtime.GetCandles(symbol, tfs)
	out := make(map[string]*model.RealtimeCandle, len(tfs))
	for _, tf := range tfs {
		if c, ok := candles[tf]; ok {
			cc := c
			out[tf] = &cc
		} else {
			out[tf] = nil
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
