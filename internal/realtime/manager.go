// Package realtime implements the long-lived subscription manager: it
// multiplexes exchange kline streams into an in-memory partial-candle
// cache, persists closed candles, and broadcasts updates to many
// connected viewer clients.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"candle-retriever/internal/metrics"
	"candle-retriever/internal/model"
)

// streamKey identifies one active stream task.
type streamKey struct {
	Symbol    string
	Timeframe string
}

// PersistStore is the subset of internal/store/sqlite.Store the
// closed-candle persistence job needs.
type PersistStore interface {
	InsertBatch(rows []model.Candle) (int, error)
	Close() error
}

// command is the single mailbox's message type: Subscribe, Unsubscribe,
// or Shutdown. Serializing every registry mutation through this mailbox
// means the stream-task registry needs no lock of its own.
type command struct {
	kind    commandKind
	symbol  string
	tfs     []string
	done    chan struct{}
}

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
	cmdShutdown
)

// Manager owns the partial-candle cache and the set of running stream
// tasks. All registry mutations flow through Run's command loop; the
// cache itself is guarded by its own mutex since reads (GetCandles) must
// not wait on the mailbox.
type Manager struct {
	provider  string
	streamer  streamer
	openStore func(symbol string) (PersistStore, error)
	log       *slog.Logger

	cacheMu sync.RWMutex
	cache   map[streamKey]model.RealtimeCandle

	broadcaster *broadcaster

	cmdCh chan command

	registry map[streamKey]context.CancelFunc
}

// streamer matches internal/exchange.Client's OpenKlineStream signature
// using this package's own tick type, decoupling realtime from exchange's
// concrete KlineTick type at the interface boundary.
type streamer interface {
	OpenKlineStream(ctx context.Context, symbol, tf string) (<-chan streamTick, error)
}

// streamTick mirrors exchange.KlineTick's fields; a thin adapter
// (ExchangeStreamer, in exchange_adapter.go) converts between the two so this package does not
// import internal/exchange's error types.
type streamTick struct {
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	IsClosed   bool
}

// New builds a Manager. openStore is called once per closed-candle
// persistence job (and closed immediately after), matching the backfill
// driver's "own its store handle for its lifetime" pattern scoped down
// to a single insert.
func New(provider string, st streamer, openStore func(symbol string) (PersistStore, error), log *slog.Logger) *Manager {
	return &Manager{
		provider:    provider,
		streamer:    st,
		openStore:   openStore,
		log:         log,
		cache:       make(map[streamKey]model.RealtimeCandle),
		broadcaster: newBroadcaster(log),
		cmdCh:       make(chan command),
		registry:    make(map[streamKey]context.CancelFunc),
	}
}

// Run owns the command mailbox and the stream-task registry until ctx is
// cancelled. Must be started exactly once, typically in its own
// goroutine from the server entrypoint.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, cancel := range m.registry {
				cancel()
			}
			return

		case cmd := <-m.cmdCh:
			switch cmd.kind {
			case cmdSubscribe:
				for _, tf := range cmd.tfs {
					m.startTask(ctx, streamKey{Symbol: cmd.symbol, Timeframe: tf})
				}
			case cmdUnsubscribe:
				for _, tf := range cmd.tfs {
					m.stopTask(streamKey{Symbol: cmd.symbol, Timeframe: tf})
				}
			case cmdShutdown:
				for _, cancel := range m.registry {
					cancel()
				}
				close(cmd.done)
				return
			}
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

// Subscribe starts a dedicated stream task for each (symbol, tf) not
// already active. Idempotent: already-subscribed keys are no-ops. Blocks
// until the registry has been updated.
func (m *Manager) Subscribe(ctx context.Context, symbol string, tfs []string) {
	m.sendCommand(ctx, command{kind: cmdSubscribe, symbol: symbol, tfs: tfs})
}

// Unsubscribe stops the task for each (symbol, tf) and evicts its cache
// entry. Idempotent.
func (m *Manager) Unsubscribe(ctx context.Context, symbol string, tfs []string) {
	m.sendCommand(ctx, command{kind: cmdUnsubscribe, symbol: symbol, tfs: tfs})
}

// Shutdown cancels every active task and stops the manager loop. It
// returns once the loop has handled the command (or ctx is done); it does
// not wait for the cancelled tasks themselves to exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.sendCommand(ctx, command{kind: cmdShutdown})
}

func (m *Manager) sendCommand(ctx context.Context, cmd command) {
	cmd.done = make(chan struct{})
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return
	}
	select {
	case <-cmd.done:
	case <-ctx.Done():
	}
}

// GetCandles returns a read-only snapshot of the cache for symbol across
// the requested timeframes. Missing entries are simply absent from the
// map (an "optional" RealtimeCandle per spec).
func (m *Manager) GetCandles(symbol string, tfs []string) map[string]model.RealtimeCandle {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	out := make(map[string]model.RealtimeCandle, len(tfs))
	for _, tf := range tfs {
		if c, ok := m.cache[streamKey{Symbol: symbol, Timeframe: tf}]; ok {
			out[tf] = c
		}
	}
	return out
}

// SubscribeUpdates returns a bounded broadcast subscription of
// CandleUpdate events. The caller must call Close when done.
func (m *Manager) SubscribeUpdates() *Subscription {
	return m.broadcaster.Subscribe()
}

// SetMetrics wires prom into the broadcaster so a dropped update against
// a lagging subscriber is counted. Optional; call before Run.
func (m *Manager) SetMetrics(prom *metrics.Metrics) {
	m.broadcaster.metrics = prom
}
