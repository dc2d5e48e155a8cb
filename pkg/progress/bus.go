// Package progress delivers workflow events to per-project subscribers.
//
// Delivery is at-most-once and never blocks the publisher: each subscriber owns a
// bounded buffer and, when it is full, the oldest pending event is dropped.
package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/pkg/domain"
)

// DefaultBuffer is the per-subscriber buffer used when Subscribe is given n <= 0.
const DefaultBuffer = 64

type subscription struct {
	mu sync.Mutex
	ch chan domain.Event
}

// Bus fans events out to per-project channels.
// Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscription]struct{}
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string]map[*subscription]struct{}),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a channel for projectID events. The returned cancel
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(projectID string, buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscription{ch: make(chan domain.Event, buffer)}

	b.mu.Lock()
	if _, ok := b.subscribers[projectID]; !ok {
		b.subscribers[projectID] = make(map[*subscription]struct{})
	}
	b.subscribers[projectID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[projectID]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.subscribers, projectID)
				}
			}
			b.mu.Unlock()

			sub.mu.Lock()
			close(sub.ch)
			sub.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber of e.ProjectID without blocking.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[e.ProjectID] {
		if b.deliver(sub, e) {
			b.dropped.Add(1)
			b.logger.Debug("progress event dropped", "project_id", e.ProjectID, "type", e.Type)
		}
	}
}

// deliver enqueues e, evicting the oldest pending event when the buffer is full.
// It reports whether an event was evicted.
func (b *Bus) deliver(sub *subscription, e domain.Event) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	evicted := false
	for {
		select {
		case sub.ch <- e:
			return evicted
		default:
		}
		select {
		case <-sub.ch:
			evicted = true
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions for projectID.
func (b *Bus) Subscribers(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[projectID])
}

// Dropped reports how many events were evicted across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Multi publishes every event to each sink in order.
type Multi []domain.EventSink

func (m Multi) Publish(e domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// LogSink writes every event to a logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Publish(e domain.Event) {
	l.Logger.Debug("workflow event", "project_id", e.ProjectID, "type", e.Type,
		"agent", e.AgentName, "iteration", e.Iteration, "message", e.Message)
}
