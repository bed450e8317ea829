// Package events implements the in-process typed publish/subscribe bus
// that fans inbound session events out to listeners without blocking
// the publisher.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Kind identifies an event type on the bus.
type Kind string

// Event is anything publishable on the bus.
type Event interface {
	Kind() Kind
}

// Handler consumes a published event.
type Handler func(Event)

// Subscription identifies a registered handler for removal.
type Subscription struct {
	kind Kind
	id   uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Bus dispatches events to subscribers through a bounded worker pool.
// Publish never blocks the caller: when the dispatch queue is full the
// event is dropped for that subscriber and counted.
type Bus struct {
	mu     sync.Mutex
	subs   map[Kind][]subscriber
	nextID uint64

	queue     chan dispatch
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64

	logger *slog.Logger
}

type dispatch struct {
	handler Handler
	event   Event
}

// Option configures a Bus.
type Option func(*busConfig)

type busConfig struct {
	workers   int
	queueSize int
	logger    *slog.Logger
}

// WithWorkers sets the dispatch worker count.
func WithWorkers(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets the bounded dispatch queue length.
func WithQueueSize(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *busConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewBus creates a bus and starts its dispatch workers.
func NewBus(opts ...Option) *Bus {
	cfg := busConfig{
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		subs:   make(map[Kind][]subscriber),
		queue:  make(chan dispatch, cfg.queueSize),
		logger: cfg.logger,
	}
	for i := 0; i < cfg.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for d := range b.queue {
		b.invoke(d)
	}
}

func (b *Bus) invoke(d dispatch) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", d.event.Kind(), "panic", r)
		}
	}()
	d.handler(d.event)
}

// Subscribe registers a handler for events of the given kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	if handler == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscriber{id: b.nextID, handler: handler})
	return &Subscription{kind: kind, id: b.nextID}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish queues the event for every current subscriber of its kind.
// Dispatch is asynchronous; a slow subscriber cannot stall the caller.
func (b *Bus) Publish(event Event) {
	if event == nil || b.closed.Load() {
		return
	}
	// The lock also orders Publish against Close so an enqueue can
	// never hit a closed queue. Enqueue is non-blocking, so holding it
	// across the loop is cheap.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return
	}
	for _, s := range b.subs[event.Kind()] {
		select {
		case b.queue <- dispatch{handler: s.handler, event: event}:
		default:
			n := b.dropped.Add(1)
			b.logger.Warn("event dropped, dispatch queue full", "kind", event.Kind(), "dropped_total", n)
		}
	}
}

// DroppedEvents returns the number of events dropped due to a full
// dispatch queue.
func (b *Bus) DroppedEvents() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits for queued dispatches to
// finish.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed.Store(true)
		close(b.queue)
		b.mu.Unlock()
		b.wg.Wait()
	})
}
