package httpapi

import "net/http"

const fetchMaxIterations = 10

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	timeframe := r.URL.Query().Get("timeframe")
	if symbol == "" || timeframe == "" {
		writeError(w, http.StatusBadRequest, "symbol and timeframe are required")
		return
	}

	inserted, iterations, err := s.Backfiller.FetchUntilExhaustedOrLimit(r.Context(), symbol, timeframe, fetchMaxIterations)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"inserted":   inserted,
		"iterations": iterations,
	})
}
