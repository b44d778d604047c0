package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage"
)

var (
	// ErrClosed is returned by Publish once the Run context has ended.
	ErrClosed = errors.New("event bus is closed")
	// ErrQueueFull is returned by Publish when a delivery does not fit the
	// queue. The event stays pending in the outbox.
	ErrQueueFull = errors.New("event bus queue is full")
)

const (
	defaultWorkers       = 4
	defaultQueueSize     = 256
	defaultMaxAttempts   = 5
	defaultRetryBackoff  = 200 * time.Millisecond
	defaultRetryMaxDelay = 30 * time.Second
)

// Handler reacts to one event.
type Handler interface {
	HandleEvent(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt event.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt event.Event) error { return f(ctx, evt) }

// AttemptRecorder persists the delivery audit trail.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt storage.DeliveryAttempt) error
}

// DeliveryObserver receives one call per delivery attempt.
type DeliveryObserver interface {
	ObserveDelivery(eventType, subscriber, outcome string)
}

// Outbox is stamped once every subscriber has finished with an event.
type Outbox interface {
	MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error
}

// Config controls the worker pool and retry policy.
type Config struct {
	Workers       int
	QueueSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = defaultRetryMaxDelay
		if c.RetryMaxDelay < c.RetryBackoff {
			c.RetryMaxDelay = c.RetryBackoff
		}
	}
	return c
}

// Option customizes a Bus.
type Option func(*Bus)

// WithRecorder records every delivery attempt.
func WithRecorder(r AttemptRecorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// WithObserver reports delivery outcomes, typically to metrics.
func WithObserver(o DeliveryObserver) Option {
	return func(b *Bus) { b.observer = o }
}

// WithOutbox marks events published in o after their last delivery settles.
// Events whose deliveries never settle stay pending for the sweeper.
func WithOutbox(o Outbox) Option {
	return func(b *Bus) { b.outbox = o }
}

// WithLogf replaces log.Printf.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(b *Bus) {
		if logf != nil {
			b.logf = logf
		}
	}
}

// WithClock replaces time.Now for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

type subscriber struct {
	name    string
	handler Handler
}

type delivery struct {
	evt     event.Event
	sub     subscriber
	attempt int
	ticket  *ticket
}

// ticket counts the deliveries of one published event that have not settled.
// A failed ticket is never acknowledged.
type ticket struct {
	eventID   string
	remaining int
	failed    bool
}

// Bus is an asynchronous in-process event bus.
type Bus struct {
	cfg      Config
	recorder AttemptRecorder
	observer DeliveryObserver
	outbox   Outbox
	logf     func(format string, args ...any)
	now      func() time.Time

	mu   sync.RWMutex
	subs map[event.Type][]subscriber

	queue     chan delivery
	closed    chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	ticketMu sync.Mutex
	inflight map[string]*ticket
}

// New creates a bus. Call Run to start delivering.
func New(cfg Config, opts ...Option) *Bus {
	cfg = cfg.normalized()
	b := &Bus{
		cfg:    cfg,
		logf:   log.Printf,
		now:    time.Now,
		subs:     make(map[event.Type][]subscriber),
		queue:    make(chan delivery, cfg.QueueSize),
		closed:   make(chan struct{}),
		inflight: make(map[string]*ticket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler under name for eventType. Names are unique per
// event type and identify the subscriber in the audit trail.
func (b *Bus) Subscribe(eventType event.Type, name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}
	if name == "" {
		return fmt.Errorf("subscriber name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[eventType] {
		if sub.name == name {
			return fmt.Errorf("subscriber %s already registered for %s", name, eventType)
		}
	}
	b.subs[eventType] = append(b.subs[eventType], subscriber{name: name, handler: handler})
	return nil
}

// Publish enqueues one delivery per subscriber of each event and returns
// without waiting for handlers. It never blocks: a delivery that does not fit
// the queue fails with ErrQueueFull and leaves its event unacknowledged.
// Events without subscribers are acknowledged at once, and an event whose
// deliveries are still in flight is not enqueued twice.
func (b *Bus) Publish(ctx context.Context, events ...event.Event) error {
	var errs []error
	for _, evt := range events {
		if err := b.publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AcksDelivery reports whether the bus marks the outbox itself.
func (b *Bus) AcksDelivery() bool {
	return b.outbox != nil
}

func (b *Bus) publish(ctx context.Context, evt event.Event) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[evt.Type]...)
	b.mu.RUnlock()
	if len(subs) == 0 {
		b.ack(ctx, evt.ID)
		return nil
	}

	t := &ticket{eventID: evt.ID, remaining: len(subs)}
	b.ticketMu.Lock()
	if cur, ok := b.inflight[evt.ID]; ok && !cur.failed {
		b.ticketMu.Unlock()
		return nil
	}
	b.inflight[evt.ID] = t
	b.ticketMu.Unlock()

	for i, sub := range subs {
		if err := b.enqueue(delivery{evt: evt, sub: sub, attempt: 1, ticket: t}); err != nil {
			b.settle(ctx, t, len(subs)-i, false)
			return fmt.Errorf("publish event %s to %s: %w", evt.ID, sub.name, err)
		}
	}
	return nil
}

func (b *Bus) enqueue(d delivery) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	b.track(1)
	select {
	case b.queue <- d:
		return nil
	default:
		b.track(-1)
		return ErrQueueFull
	}
}

// settle retires n deliveries of t. The event is acknowledged when the last
// one settles and none was lost.
func (b *Bus) settle(ctx context.Context, t *ticket, n int, delivered bool) {
	b.ticketMu.Lock()
	t.remaining -= n
	if !delivered {
		t.failed = true
	}
	done := t.remaining <= 0
	if done && b.inflight[t.eventID] == t {
		delete(b.inflight, t.eventID)
	}
	ack := done && !t.failed
	b.ticketMu.Unlock()
	if ack {
		b.ack(ctx, t.eventID)
	}
}

func (b *Bus) ack(ctx context.Context, eventID string) {
	if b.outbox == nil {
		return
	}
	if err := b.outbox.MarkPublished(context.WithoutCancel(ctx), []string{eventID}, b.now().UTC()); err != nil {
		b.logf("mark event %s published: %v", eventID, err)
	}
}

func (b *Bus) close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Run delivers events until ctx is cancelled. The bus stops accepting events
// as soon as ctx ends; queued deliveries and scheduled retries are abandoned
// and their events stay pending in the outbox.
func (b *Bus) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.close)
	defer stop()
	defer b.close()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d := <-b.queue:
					b.deliver(gctx, d)
				}
			}
		})
	}
	return g.Wait()
}

// WaitIdle blocks until every enqueued delivery, including scheduled
// retries, has finished.
func (b *Bus) WaitIdle(ctx context.Context) error {
	for {
		b.pendingMu.Lock()
		if b.pending == 0 {
			b.pendingMu.Unlock()
			return nil
		}
		if b.idle == nil {
			b.idle = make(chan struct{})
		}
		idle := b.idle
		b.pendingMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bus) track(delta int) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	b.pending += delta
	if b.pending == 0 && b.idle != nil {
		close(b.idle)
		b.idle = nil
	}
}

func (b *Bus) deliver(ctx context.Context, d delivery) {
	defer b.track(-1)

	err := b.invoke(ctx, d)
	outcome := classify(err, d.attempt, b.cfg.MaxAttempts)
	b.record(ctx, d, outcome, err)

	switch outcome {
	case storage.DeliveryRetry:
		b.retryLater(ctx, d)
		return
	case storage.DeliveryRejected:
		b.logf("event %s (%s) rejected by %s: %v", d.evt.ID, d.evt.Type, d.sub.name, err)
	case storage.DeliveryDeadLetter:
		b.logf("event %s (%s) dead-lettered by %s after %d attempts: %v", d.evt.ID, d.evt.Type, d.sub.name, d.attempt, err)
	}
	b.settle(ctx, d.ticket, 1, true)
}

func (b *Bus) invoke(ctx context.Context, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = engine.MarkNonRetryable(fmt.Errorf("subscriber %s panicked: %v", d.sub.name, r))
		}
	}()
	return d.sub.handler.HandleEvent(ctx, d.evt)
}

func classify(err error, attempt, maxAttempts int) storage.DeliveryOutcome {
	switch {
	case err == nil:
		return storage.DeliverySucceeded
	case apperrors.IsAlreadyApplied(err):
		return storage.DeliveryDuplicate
	case !engine.Retryable(err):
		return storage.DeliveryRejected
	case attempt >= maxAttempts:
		return storage.DeliveryDeadLetter
	default:
		return storage.DeliveryRetry
	}
}

// retryLater requeues d after its backoff. The timer goroutine may wait for
// queue space; workers never do.
func (b *Bus) retryLater(ctx context.Context, d delivery) {
	next := d
	next.attempt++
	b.track(1)
	time.AfterFunc(b.backoff(d.attempt), func() {
		select {
		case b.queue <- next:
		case <-b.closed:
			b.track(-1)
			b.settle(ctx, next.ticket, 1, false)
			b.logf("event %s retry for %s dropped: bus closed", next.evt.ID, next.sub.name)
		}
	})
}

// backoff doubles from RetryBackoff per failed attempt, capped at
// RetryMaxDelay.
func (b *Bus) backoff(failedAttempts int) time.Duration {
	delay := b.cfg.RetryBackoff
	for i := 1; i < failedAttempts; i++ {
		delay *= 2
		if delay >= b.cfg.RetryMaxDelay {
			return b.cfg.RetryMaxDelay
		}
	}
	return delay
}

func (b *Bus) record(ctx context.Context, d delivery, outcome storage.DeliveryOutcome, err error) {
	if b.observer != nil {
		b.observer.ObserveDelivery(string(d.evt.Type), d.sub.name, string(outcome))
	}
	if b.recorder == nil {
		return
	}
	attempt := storage.DeliveryAttempt{
		EventID:    d.evt.ID,
		EventType:  d.evt.Type,
		Subscriber: d.sub.name,
		Attempt:    d.attempt,
		Outcome:    outcome,
		CreatedAt:  b.now().UTC(),
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	if recErr := b.recorder.RecordAttempt(context.WithoutCancel(ctx), attempt); recErr != nil {
		b.logf("record delivery attempt for event %s: %v", d.evt.ID, recErr)
	}
}
