package httpapi

import (
	"net/http"

	"candle-retriever/internal/model"
	"candle-retriever/internal/verify"
)

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	timeframe := r.URL.Query().Get("timeframe")
	if symbol == "" || timeframe == "" {
		writeError(w, http.StatusBadRequest, "symbol and timeframe are required")
		return
	}
	startMs := queryInt64(r, "start", 0) * 1000
	endMs := queryInt64(r, "end", 1<<62) * 1000

	store, err := s.store(symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	key := model.Key{Provider: s.Provider, Symbol: symbol, Timeframe: timeframe}
	report, err := verify.Run(store, key, startMs, endMs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}
