// Package httpapi implements the read-side HTTP/WS façade: pair
// discovery, paged candle reads with downsampling fallback, on-demand
// backfill, realtime subscription management, and the WebSocket
// streaming session.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"candle-retriever/internal/metrics"
	"candle-retriever/internal/realtime"
	"candle-retriever/internal/store/sqlite"
)

// ErrSymbolNotFound is returned by Server.store when no store file exists
// for the requested symbol. Read routes never create one on demand.
var ErrSymbolNotFound = errors.New("symbol not found")

const (
	cacheSize = 1000
	cacheTTL  = 60 * time.Second
)

// StoreOpener opens a fresh store handle for a symbol; Server caches the
// result so repeated requests reuse one *sqlite.Store per symbol.
type StoreOpener func(symbol string) (*sqlite.Store, error)

// OnDemandBackfiller runs a bounded backfill loop for one (symbol,
// timeframe), used by POST /api/fetch.
type OnDemandBackfiller interface {
	FetchUntilExhaustedOrLimit(ctx context.Context, symbol, timeframe string, maxIterations int) (inserted, iterations int, err error)
}

// Server wires the router, the realtime manager, the backfill trigger,
// and a shared candle-read cache.
type Server struct {
	Provider   string
	DBDir      string
	OpenStore  StoreOpener
	Realtime   *realtime.Manager
	Backfiller OnDemandBackfiller
	Log        *slog.Logger

	// Metrics is optional; when set, cache hit/miss and per-route request
	// duration are recorded against it.
	Metrics *metrics.Metrics

	storesMu sync.Mutex
	stores   map[string]*sqlite.Store

	cache  *expirable.LRU[string, cacheEntry]
	router http.Handler
}

// New builds a Server with its router installed.
func New(provider, dbDir string, openStore StoreOpener, rt *realtime.Manager, backfiller OnDemandBackfiller, log *slog.Logger) *Server {
	s := &Server{
		Provider:   provider,
		DBDir:      dbDir,
		OpenStore:  openStore,
		Realtime:   rt,
		Backfiller: backfiller,
		Log:        log,
		stores:     make(map[string]*sqlite.Store),
		cache:      expirable.NewLRU[string, cacheEntry](cacheSize, nil, cacheTTL),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// store returns the cached handle for symbol, opening it on first use.
// It never creates a store file: a symbol with no prior backfill or
// on-demand fetch returns ErrSymbolNotFound so read routes can 404
// instead of serving an empty, freshly-created database.
func (s *Server) store(symbol string) (*sqlite.Store, error) {
	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	if st, ok := s.stores[symbol]; ok {
		return st, nil
	}
	if _, err := os.Stat(filepath.Join(s.DBDir, symbol+".db")); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, fmt.Errorf("stat store for %s: %w", symbol, err)
	}
	st, err := s.OpenStore(symbol)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", symbol, err)
	}
	s.stores[symbol] = st
	return st, nil
}

// Close releases every cached store handle.
func (s *Server) Close() error {
	s.storesMu.Lock()
	defer s.storesMu.Unlock()
	var firstErr error
	for _, st := range s.stores {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
