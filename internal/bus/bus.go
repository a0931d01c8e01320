// Package bus provides the in-process event bus connecting webhook ingress,
// the reconciliation flows and the finality consumers.
//
// Topics follow the "{flowKind}:{lifecycleVerb}" convention for entity events
// (e.g. "quote:updated") and the "finality:{flowKind}-success" /
// "finality:error:{flowKind}" pair for terminal flow signals.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Event is one message on the bus. Payload is a concrete type agreed between
// the publisher and the subscribers of the topic; payloads are validated at
// the ingress boundary before they are published.
type Event struct {
	ID         uuid.UUID
	Topic      string
	TraceID    string
	OccurredAt time.Time
	Payload    any
}

// Handler processes one event. Handlers own their error handling; the bus
// never retries or propagates handler failures.
type Handler func(ctx context.Context, event Event)

// FlowTopic builds an entity lifecycle topic, e.g. FlowTopic("quote", "updated").
func FlowTopic(flowKind, verb string) string {
	return fmt.Sprintf("%s:%s", flowKind, verb)
}

// FinalitySuccessTopic builds the terminal success topic for a flow kind.
func FinalitySuccessTopic(flowKind string) string {
	return fmt.Sprintf("finality:%s-success", flowKind)
}

// FinalityErrorTopic builds the terminal error topic for a flow kind.
func FinalityErrorTopic(flowKind string) string {
	return fmt.Sprintf("finality:error:%s", flowKind)
}

// dispatch pairs one event with one subscriber.
type dispatch struct {
	handler Handler
	event   Event
}

// Bus is an in-process publish/subscribe dispatcher. Each inbound event is
// processed as an independent task; subscribers for the same topic run
// concurrently on the worker pool.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	queue  chan dispatch
	logger *slog.Logger

	workers int
	started bool
}

// NewBus creates a bus with the given worker count and queue capacity.
func NewBus(workers, queueSize int, logger *slog.Logger) *Bus {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		subs:    make(map[string][]Handler),
		queue:   make(chan dispatch, queueSize),
		logger:  logger,
		workers: workers,
	}
}

// Subscribe registers a handler for a topic. Must be called before Start.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
}

// Publish enqueues the event for every subscriber of its topic. Blocks while
// the queue is full so ingress backpressure reaches the webhook sender, which
// will redeliver on its side. Returns ctx.Err() when the bus is shutting down.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.subs[event.Topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		if b.logger != nil {
			b.logger.Warn("no subscribers for topic", slog.String("topic", event.Topic))
		}
		return nil
	}

	for _, handler := range handlers {
		select {
		case b.queue <- dispatch{handler: handler, event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Start runs the worker pool until ctx is cancelled. Blocks.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bus already started")
	}
	b.started = true
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Info("starting event bus", slog.Int("workers", b.workers))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case d := <-b.queue:
					b.run(ctx, d)
				}
			}
		})
	}
	return g.Wait()
}

// run executes one handler, recovering panics so a bad subscriber cannot take
// down the worker pool.
func (b *Bus) run(ctx context.Context, d dispatch) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked",
				slog.String("topic", d.event.Topic),
				slog.String("trace_id", d.event.TraceID),
				slog.Any("panic", r),
			)
		}
	}()
	d.handler(ctx, d.event)
}
