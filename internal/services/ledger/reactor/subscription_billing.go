package reactor

import (
	"context"

	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/subscription"
)

// SubscriptionBilling keeps subscriptions in step with their payments and
// opens the payment for each due period.
type SubscriptionBilling struct {
	engine Executor
}

// HandlePaymentStatus renews on a confirmed payment and marks the
// subscription as late on a failed one.
func (h *SubscriptionBilling) HandlePaymentStatus(ctx context.Context, evt event.Event) error {
	updated, err := event.Decode[event.PaymentStatusUpdated](evt)
	if err != nil {
		return err
	}
	if updated.PaymentType != command.PaymentSubscription || updated.ReferenceID == "" {
		return nil
	}
	var failed bool
	switch updated.To {
	case status.PaymentConfirmed:
	case status.PaymentError, status.PaymentRejected, status.PaymentAbandoned, status.PaymentExpired:
		failed = true
	default:
		return nil
	}

	sub, err := loadAs[subscription.State](ctx, h.engine, command.AggregateSubscription, updated.ReferenceID)
	if err != nil {
		return err
	}
	if !sub.Created || sub.Status.IsCancellation() {
		return nil
	}

	var cmd command.Command
	if failed {
		next, ok := lateStatus(sub.Status)
		if !ok {
			return nil
		}
		cmd, err = command.NewUpdateSubscriptionStatus(causedBy(evt), sub.SubscriptionID, next)
	} else {
		cmd, err = command.NewRenewSubscription(causedBy(evt), sub.SubscriptionID, updated.PaymentID)
	}
	if err != nil {
		return err
	}
	_, err = h.engine.Execute(ctx, cmd)
	return err
}

// lateStatus is where a failed payment leaves a subscription: UNPAID when it
// never started, PAST_DUE when it was running.
func lateStatus(current status.SubscriptionStatus) (status.SubscriptionStatus, bool) {
	switch current {
	case status.SubscriptionPending:
		return status.SubscriptionUnpaid, true
	case status.SubscriptionActive:
		return status.SubscriptionPastDue, true
	}
	return "", false
}

// PaymentID returns the payment opened for a payment_due event.
func PaymentID(dueEventID string) string {
	return id.Derive(dueEventID, "payment")
}

// HandlePaymentDue opens a NEW payment for the period of a due
// subscription.
func (h *SubscriptionBilling) HandlePaymentDue(ctx context.Context, evt event.Event) error {
	due, err := event.Decode[event.SubscriptionPaymentDue](evt)
	if err != nil {
		return err
	}
	amount, err := money.New(due.Amount, due.Currency)
	if err != nil {
		return err
	}
	cmd, err := command.NewCreatePaymentTransaction(
		causedBy(evt),
		PaymentID(evt.ID),
		due.UserID,
		status.PaymentNew,
		amount,
		command.PaymentSubscription,
		due.Gateway,
		due.SubscriptionID,
	)
	if err != nil {
		return err
	}
	_, err = h.engine.Execute(ctx, cmd)
	return err
}
