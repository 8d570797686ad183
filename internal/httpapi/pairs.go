package httpapi

import (
	"net/http"
	"os"
	"strings"
)

// TradingPair is one discovered symbol and its stored timeframes.
type TradingPair struct {
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes"`
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.DBDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read db directory: "+err.Error())
		return
	}

	var pairs []TradingPair
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		symbol := strings.TrimSuffix(entry.Name(), ".db")

		store, err := s.store(symbol)
		if err != nil {
			s.Log.Error("open store for pair discovery", "symbol", symbol, "error", err)
			continue
		}
		tfs, err := store.DistinctTimeframes(s.Provider, symbol)
		if err != nil {
			s.Log.Error("distinct timeframes", "symbol", symbol, "error", err)
			continue
		}
		pairs = append(pairs, TradingPair{Symbol: symbol, Timeframes: tfs})
	}

	writeJSON(w, http.StatusOK, pairs)
}
