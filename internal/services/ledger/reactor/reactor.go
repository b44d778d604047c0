// Package reactor holds the event subscribers that turn ledger events into
// follow-up commands.
//
// Every command a subscriber issues carries the triggering event id as its
// causation, so redelivering an event reproduces the same command ids and the
// engine reports them as already applied.
package reactor

import (
	"context"
	"errors"
	"log"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/bus"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/gateway"
)

// Subscriber names as recorded in the delivery audit trail.
const (
	NamePaymentExecutor     = "payment-gateway-executor"
	NameTransactionProgress = "transaction-progress"
	NameWalletCredit        = "wallet-credit"
	NameSubscriptionBilling = "subscription-billing"
)

// Executor applies commands and exposes aggregate state.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (engine.Result, error)
	Load(ctx context.Context, kind command.AggregateKind, id string) (any, int64, error)
}

// Gateways resolves payment providers by name.
type Gateways interface {
	Lookup(name string) (gateway.Gateway, error)
}

// Subscriber is the subscription half of the bus.
type Subscriber interface {
	Subscribe(eventType event.Type, name string, handler bus.Handler) error
}

// Deps wires the subscribers.
type Deps struct {
	Engine   Executor
	Gateways Gateways
	Logf     func(format string, args ...any)
}

// Register subscribes every reactor handler on b.
func Register(b Subscriber, deps Deps) error {
	if b == nil {
		return errors.New("event bus is required")
	}
	if deps.Engine == nil {
		return errors.New("engine is required")
	}
	if deps.Gateways == nil {
		return errors.New("gateway registry is required")
	}
	if deps.Logf == nil {
		deps.Logf = log.Printf
	}

	executor := &PaymentExecutor{engine: deps.Engine, gateways: deps.Gateways, logf: deps.Logf}
	progress := &TransactionProgress{engine: deps.Engine}
	credit := &WalletCredit{engine: deps.Engine}
	billing := &SubscriptionBilling{engine: deps.Engine}

	subscriptions := []struct {
		eventType event.Type
		name      string
		handler   bus.HandlerFunc
	}{
		{event.TypePaymentTransactionCreated, NamePaymentExecutor, executor.HandleCreated},
		{event.TypePaymentStatusUpdated, NameTransactionProgress, progress.HandlePaymentStatus},
		{event.TypeWalletAssetAdded, NameTransactionProgress, progress.HandleWalletCredited},
		{event.TypePaymentStatusUpdated, NameWalletCredit, credit.HandlePaymentStatus},
		{event.TypePaymentStatusUpdated, NameSubscriptionBilling, billing.HandlePaymentStatus},
		{event.TypeSubscriptionPaymentDue, NameSubscriptionBilling, billing.HandlePaymentDue},
	}
	for _, s := range subscriptions {
		if err := b.Subscribe(s.eventType, s.name, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// causedBy returns command metadata deriving ids from evt.
func causedBy(evt event.Event) command.Meta {
	return command.Meta{CausationID: evt.ID}
}

// ignoreDuplicate lets multi-step handlers resume after a redelivery.
func ignoreDuplicate(err error) error {
	if apperrors.IsAlreadyApplied(err) {
		return nil
	}
	return err
}

// loadAs loads an aggregate and asserts its state type.
func loadAs[S any](ctx context.Context, exec Executor, kind command.AggregateKind, id string) (S, error) {
	state, _, err := exec.Load(ctx, kind, id)
	if err != nil {
		var zero S
		return zero, err
	}
	typed, ok := state.(S)
	if !ok {
		var zero S
		return zero, engine.MarkNonRetryable(errors.New("unexpected " + string(kind) + " state"))
	}
	return typed, nil
}
