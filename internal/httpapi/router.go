package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observeRequestDuration)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/pairs", s.handlePairs).Methods("GET")
	r.HandleFunc("/api/candles", s.handleCandles).Methods("GET")
	r.HandleFunc("/api/fetch", s.handleFetch).Methods("POST")
	r.HandleFunc("/api/realtime/subscribe", s.handleRealtimeSubscribe).Methods("POST")
	r.HandleFunc("/api/realtime/candles", s.handleRealtimeCandles).Methods("GET")
	r.HandleFunc("/api/rsi", s.handleRSI).Methods("GET")
	r.HandleFunc("/api/verify", s.handleVerify).Methods("GET")
	r.HandleFunc("/ws/realtime", s.handleWS).Methods("GET")

	return r
}

// statusRecorder captures the status code a handler wrote so middleware
// can label a metric with it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// observeRequestDuration records HTTPRequestDuration[route, status] for
// every request when Metrics is wired; a no-op middleware otherwise.
func (s *Server) observeRequestDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		route := r.URL.Path
		if rt := mux.CurrentRoute(r); rt != nil {
			if tmpl, err := rt.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.Metrics.HTTPRequestDuration.
			WithLabelValues(route, strconv.Itoa(sr.status)).
			Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
