// Package stream distributes closed bars to per-symbol engines.
package stream

import (
	"context"
	"sync"
	"time"

	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/models"
)

// AllSymbols subscribes to every symbol.
const AllSymbols = "*"

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal bar channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// SlowConsumerThreshold is how long a delivery may block before it is
	// counted as a stall.
	SlowConsumerThreshold time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:            1000,
		SubscriberBufferSize:  256,
		SlowConsumerThreshold: 50 * time.Millisecond,
	}
}

// Hub fans bars from one source out to subscribers keyed by symbol. Bars
// are never dropped: a full subscriber blocks delivery, and a full hub
// blocks Publish, so per-symbol order is preserved end to end.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	barChan     chan models.Bar
	loopDone    chan struct{}
	started     bool

	// closeMu guards closed and barChan's lifetime. It is separate from mu
	// so a blocked Publish never holds up delivery.
	closeMu sync.RWMutex
	closed  bool

	// Metrics
	barsReceived  uint64
	barsDelivered uint64
	publishWaits  uint64
	stalls        uint64
	metricsMu     sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID        string
	Symbol    string
	Channel   chan models.Bar
	Delivered int
	CreatedAt time.Time
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize < 0 {
		config.BufferSize = 0
	}
	if config.SubscriberBufferSize < 0 {
		config.SubscriberBufferSize = 0
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		barChan:     make(chan models.Bar, config.BufferSize),
		loopDone:    make(chan struct{}),
	}
}

// Start begins the distribution loop. The loop ends when ctx is cancelled
// or after Close once every queued bar is delivered; either way every
// subscriber channel is then closed.
func (h *Hub) Start(ctx context.Context) error {
	h.closeMu.RLock()
	closed := h.closed
	h.closeMu.RUnlock()
	if closed {
		return apperrors.Wrap(apperrors.ErrNotConnected, "hub closed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	select {
	case <-h.loopDone:
		return apperrors.Wrap(apperrors.ErrNotConnected, "hub already stopped")
	default:
	}
	h.started = true

	go h.broadcastLoop(ctx)
	return nil
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	defer close(h.loopDone)
	defer h.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-h.barChan:
			if !ok {
				return
			}
			h.metricsMu.Lock()
			h.barsReceived++
			h.metricsMu.Unlock()

			if !h.broadcast(ctx, bar) {
				return
			}
		}
	}
}

// broadcast delivers bar to every subscriber of its symbol and to wildcard
// subscribers. It returns false if ctx ended mid-delivery.
func (h *Hub) broadcast(ctx context.Context, bar models.Bar) bool {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers[bar.Symbol])+len(h.subscribers[AllSymbols]))
	subs = append(subs, h.subscribers[bar.Symbol]...)
	subs = append(subs, h.subscribers[AllSymbols]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Channel <- bar:
		default:
			// Subscriber is full: wait for it rather than drop.
			start := time.Now()
			select {
			case sub.Channel <- bar:
			case <-ctx.Done():
				return false
			}
			if time.Since(start) >= h.config.SlowConsumerThreshold {
				h.metricsMu.Lock()
				h.stalls++
				h.metricsMu.Unlock()
			}
		}
		sub.Delivered++
		h.metricsMu.Lock()
		h.barsDelivered++
		h.metricsMu.Unlock()
	}
	return true
}

func (h *Hub) closeSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, symbol)
	}
	h.started = false
}

// Close stops accepting bars. Bars already queued are still delivered;
// Wait blocks until they are.
func (h *Hub) Close() {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.barChan)
}

// Wait blocks until the distribution loop has exited. It returns at once
// if the hub was never started.
func (h *Hub) Wait() {
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		<-h.loopDone
	}
}

// Subscribe adds a subscriber for a symbol and returns a channel to receive
// bars. Use AllSymbols to receive every bar.
func (h *Hub) Subscribe(symbol string) <-chan models.Bar {
	return h.SubscribeWithID(symbol, "")
}

// SubscribeWithID adds a subscriber with a specific ID for a symbol.
func (h *Hub) SubscribeWithID(symbol, id string) <-chan models.Bar {
	ch := make(chan models.Bar, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Symbol:    symbol,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[symbol] = append(h.subscribers[symbol], sub)
	h.mu.Unlock()

	return ch
}

// Publish queues a bar for distribution. It blocks while the hub buffer is
// full and fails if ctx ends first or the hub is closed.
func (h *Hub) Publish(ctx context.Context, bar models.Bar) error {
	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		return apperrors.Wrap(apperrors.ErrNotConnected, "publish on closed hub")
	}

	select {
	case h.barChan <- bar:
		return nil
	default:
	}

	h.metricsMu.Lock()
	h.publishWaits++
	h.metricsMu.Unlock()

	select {
	case h.barChan <- bar:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSubscriberCount returns the number of subscribers for a symbol.
func (h *Hub) GetSubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbol])
}

// GetTotalSubscriberCount returns the total number of subscribers across all symbols.
func (h *Hub) GetTotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// GetSubscribedSymbols returns all symbols with active subscribers.
func (h *Hub) GetSubscribedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	symbols := make([]string, 0, len(h.subscribers))
	for symbol := range h.subscribers {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		BarsReceived:  h.barsReceived,
		BarsDelivered: h.barsDelivered,
		PublishWaits:  h.publishWaits,
		Stalls:        h.stalls,
		Subscribers:   h.GetTotalSubscriberCount(),
		Symbols:       len(h.GetSubscribedSymbols()),
	}
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	BarsReceived  uint64
	BarsDelivered uint64
	PublishWaits  uint64
	Stalls        uint64
	Subscribers   int
	Symbols       int
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
