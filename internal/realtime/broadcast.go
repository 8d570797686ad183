package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"candle-retriever/internal/metrics"
	"candle-retriever/internal/model"
)

// BroadcastCapacity is the buffer size for each subscriber's channel,
// matching the spec's ~1000-capacity broadcast channel.
const BroadcastCapacity = 1000

// broadcaster fans CandleUpdate events out to any number of subscribers.
// A subscriber whose channel is full has the update dropped rather than
// blocking the publisher, and is marked lagged so its next read of
// Lagged() tells it to resync via GetCandles instead of trusting the
// stream.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	log    *slog.Logger

	metrics *metrics.Metrics
}

type subscription struct {
	ch     chan model.CandleUpdate
	lagged atomic.Bool
}

func newBroadcaster(log *slog.Logger) *broadcaster {
	return &broadcaster{subs: make(map[int]*subscription), log: log}
}

// Subscription is the consumer-facing handle returned by Subscribe.
type Subscription struct {
	id int
	b  *broadcaster
	C  <-chan model.CandleUpdate
}

// Subscribe registers a new consumer and returns its channel. Close must
// be called when the consumer is done to release the slot.
func (b *broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan model.CandleUpdate, BroadcastCapacity)}
	b.subs[id] = sub
	return &Subscription{id: id, b: b, C: sub.ch}
}

// Lagged reports whether this subscriber has dropped at least one
// update since the last call to Lagged, and resets the flag. A true
// result means the caller should resync via Manager.GetCandles rather
// than assume its view of the cache is current.
func (s *Subscription) Lagged() bool {
	s.b.mu.RLock()
	sub, ok := s.b.subs[s.id]
	s.b.mu.RUnlock()
	if !ok {
		return false
	}
	return sub.lagged.Swap(false)
}

// Close releases the subscriber's slot and channel.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if sub, ok := s.b.subs[s.id]; ok {
		close(sub.ch)
		delete(s.b.subs, s.id)
	}
}

// publish fans update out to every subscriber, non-blocking: a full
// channel drops the update and marks that subscriber lagged rather than
// stalling the stream task that called publish.
func (b *broadcaster) publish(update model.CandleUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- update:
		default:
			sub.lagged.Store(true)
			if b.log != nil {
				b.log.Warn("broadcast consumer lagged, dropping update", "symbol", update.Symbol, "timeframe", update.Timeframe)
			}
			if b.metrics != nil {
				b.metrics.BroadcastDropsTotal.WithLabelValues(update.Symbol).Inc()
			}
		}
	}
}
