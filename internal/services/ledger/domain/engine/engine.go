package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/lock"
	platformotel "github.com/louisbranch/ledger.space/internal/platform/otel"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command/codec"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage"
)

// Locker runs fn while holding the named resource lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Publisher hands committed events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event) error
}

// DeliveryAcker is implemented by publishers that mark outbox events
// published themselves, once every subscriber has finished with them. The
// engine leaves marking to a publisher whose AcksDelivery reports true.
type DeliveryAcker interface {
	AcksDelivery() bool
}

// Observer receives one call per executed command.
type Observer interface {
	ObserveCommand(commandType, outcome string, elapsed time.Duration)
}

// Store is the persistence the engine needs.
type Store interface {
	storage.AggregateStore
	storage.CommandStore
	storage.OutboxStore
}

// Command outcomes reported to the Observer.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Config wires an Engine. Publisher and Observer are optional.
type Config struct {
	Store     Store
	Mutex     Locker
	Codec     *codec.Codec
	Modules   []Module
	Publisher Publisher
	Observer  Observer
	Now       func() time.Time
	Logf      func(format string, args ...any)
}

// Engine applies commands to aggregates.
type Engine struct {
	store     Store
	mutex     Locker
	codec     *codec.Codec
	modules   map[command.AggregateKind]Module
	publisher Publisher
	observer  Observer
	now       func() time.Time
	logf      func(format string, args ...any)
	tracer    trace.Tracer
}

// Result captures the outcome of one applied command.
type Result struct {
	State   any
	Version int64
	Events  []event.Event
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Mutex == nil {
		return nil, ErrMutexRequired
	}
	if cfg.Codec == nil {
		return nil, ErrCodecRequired
	}
	if len(cfg.Modules) == 0 {
		return nil, ErrModulesRequired
	}
	e := &Engine{
		store:     cfg.Store,
		mutex:     cfg.Mutex,
		codec:     cfg.Codec,
		modules:   make(map[command.AggregateKind]Module, len(cfg.Modules)),
		publisher: cfg.Publisher,
		observer:  cfg.Observer,
		now:       cfg.Now,
		logf:      cfg.Logf,
		tracer:    platformotel.Tracer("ledger.space/engine"),
	}
	for _, m := range cfg.Modules {
		if _, dup := e.modules[m.Kind()]; dup {
			return nil, errors.New("duplicate module for aggregate " + string(m.Kind()))
		}
		e.modules[m.Kind()] = m
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logf == nil {
		e.logf = log.Printf
	}
	return e, nil
}

// Execute applies cmd at most once.
func (e *Engine) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	if cmd == nil {
		return Result{}, apperrors.Validation("command", "is required")
	}
	ctx, span := e.tracer.Start(ctx, "ledger.command "+string(cmd.Type()), trace.WithAttributes(
		attribute.String("ledger.command.type", string(cmd.Type())),
		attribute.String("ledger.command.id", cmd.ID()),
		attribute.String("ledger.aggregate.kind", string(cmd.AggregateKind())),
		attribute.String("ledger.aggregate.id", cmd.AggregateID()),
	))
	defer span.End()
	start := e.now()

	result, err := e.execute(ctx, cmd)
	e.observe(cmd, err, e.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return Result{}, err
	}
	e.publish(ctx, result.Events)
	return result, nil
}

func (e *Engine) execute(ctx context.Context, cmd command.Command) (Result, error) {
	module, ok := e.modules[cmd.AggregateKind()]
	if !ok {
		return Result{}, apperrors.UnknownCommand(string(cmd.AggregateKind()), string(cmd.Type()))
	}
	var result Result
	key := lock.Key(string(cmd.AggregateKind()), cmd.AggregateID())
	err := e.mutex.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = e.apply(ctx, module, cmd)
		return err
	})
	return result, err
}

// apply runs under the aggregate lock.
func (e *Engine) apply(ctx context.Context, module Module, cmd command.Command) (Result, error) {
	applied, err := e.store.HasApplied(ctx, cmd.ID())
	if err != nil {
		return Result{}, err
	}
	if applied {
		return Result{}, apperrors.AlreadyApplied(string(cmd.AggregateKind()), cmd.ID())
	}

	state, version, err := e.load(ctx, module, cmd.AggregateID())
	if err != nil {
		return Result{}, err
	}
	now := e.now()
	events, err := module.Decide(state, cmd, now)
	if err != nil {
		return Result{}, domainError(err)
	}
	for _, evt := range events {
		state, err = module.Fold(state, evt)
		if err != nil {
			return Result{}, domainError(err)
		}
	}

	text, err := e.codec.Encode(cmd)
	if err != nil {
		return Result{}, err
	}
	data, err := module.MarshalState(state)
	if err != nil {
		return Result{}, err
	}
	next := version + 1
	if err := e.store.Save(ctx, storage.Commit{
		Snapshot: storage.Snapshot{
			Kind:      cmd.AggregateKind(),
			ID:        cmd.AggregateID(),
			Version:   next,
			StateJSON: data,
			UpdatedAt: now,
		},
		ExpectedVersion: version,
		Command: storage.AppliedCommand{
			CommandID:   cmd.ID(),
			Type:        cmd.Type(),
			Version:     cmd.Version(),
			Kind:        cmd.AggregateKind(),
			AggregateID: cmd.AggregateID(),
			CausationID: cmd.CausationID(),
			Text:        text,
			AppliedAt:   now,
		},
		Events: events,
	}); err != nil {
		return Result{}, err
	}
	return Result{State: state, Version: next, Events: events}, nil
}

func (e *Engine) load(ctx context.Context, module Module, id string) (any, int64, error) {
	snap, err := e.store.Load(ctx, module.Kind(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return module.NewState(id), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	state, err := module.UnmarshalState(snap.StateJSON)
	if err != nil {
		return nil, 0, err
	}
	return state, snap.Version, nil
}

func (e *Engine) observe(cmd command.Command, err error, elapsed time.Duration) {
	if e.observer == nil {
		return
	}
	outcome := OutcomeApplied
	switch {
	case err == nil:
	case apperrors.IsAlreadyApplied(err):
		outcome = OutcomeDuplicate
	case Retryable(err):
		outcome = OutcomeFailed
	default:
		outcome = OutcomeRejected
	}
	e.observer.ObserveCommand(string(cmd.Type()), outcome, elapsed)
}

// publish runs after commit. Failures are logged: the events stay pending in
// the outbox.
func (e *Engine) publish(ctx context.Context, events []event.Event) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.logf("publish %d events: %v", len(events), err)
		return
	}
	if e.publisherAcks() {
		return
	}
	if err := e.store.MarkPublished(ctx, eventIDs(events), e.now()); err != nil {
		e.logf("mark %d events published: %v", len(events), err)
	}
}

func (e *Engine) publisherAcks() bool {
	acker, ok := e.publisher.(DeliveryAcker)
	return ok && acker.AcksDelivery()
}

// RepublishPending hands outbox events committed before cutoff to the
// publisher again and returns how many were published. Events a
// DeliveryAcker publisher accepts stay pending until it marks them.
func (e *Engine) RepublishPending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if e.publisher == nil {
		return 0, nil
	}
	events, err := e.store.PendingEvents(ctx, cutoff, limit)
	if err != nil || len(events) == 0 {
		return 0, err
	}
	if err := e.publisher.Publish(ctx, events...); err != nil {
		return 0, err
	}
	if e.publisherAcks() {
		return len(events), nil
	}
	if err := e.store.MarkPublished(ctx, eventIDs(events), e.now()); err != nil {
		return 0, err
	}
	return len(events), nil
}

func eventIDs(events []event.Event) []string {
	ids := make([]string, len(events))
	for i, evt := range events {
		ids[i] = evt.ID
	}
	return ids
}

// Load returns the current state of one aggregate and its version. A missing
// aggregate yields its empty state at version zero.
func (e *Engine) Load(ctx context.Context, kind command.AggregateKind, id string) (any, int64, error) {
	module, ok := e.modules[kind]
	if !ok {
		return nil, 0, apperrors.NotFound("aggregate kind", string(kind))
	}
	return e.load(ctx, module, id)
}

// List returns the current state of every aggregate of kind.
func (e *Engine) List(ctx context.Context, kind command.AggregateKind) ([]any, error) {
	module, ok := e.modules[kind]
	if !ok {
		return nil, apperrors.NotFound("aggregate kind", string(kind))
	}
	snaps, err := e.store.ListAggregates(ctx, kind)
	if err != nil {
		return nil, err
	}
	states := make([]any, 0, len(snaps))
	for _, snap := range snaps {
		state, err := module.UnmarshalState(snap.StateJSON)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// History decodes the commands applied to one aggregate, oldest first.
func (e *Engine) History(ctx context.Context, kind command.AggregateKind, id string) ([]command.Command, error) {
	records, err := e.store.ListAppliedCommands(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	out := make([]command.Command, 0, len(records))
	for _, rec := range records {
		cmd, err := e.codec.Decode(rec.Text, rec.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}
