// Package subscription implements recurring plan subscriptions.
package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

const aggregateName = "subscription"

// State is the folded subscription. PeriodEnd is zero until the first paid
// period.
type State struct {
	SubscriptionID string                    `json:"subscription_id"`
	Created        bool                      `json:"created"`
	UserID         string                    `json:"user_id,omitempty"`
	PlanID         string                    `json:"plan_id,omitempty"`
	Amount         decimal.Decimal           `json:"amount"`
	Currency       string                    `json:"currency,omitempty"`
	Status         status.SubscriptionStatus `json:"status,omitempty"`
	PeriodEnd      time.Time                 `json:"period_end,omitzero"`
	Payments       []string                  `json:"payments,omitempty"`
}

func NewState(subscriptionID string) State {
	return State{SubscriptionID: subscriptionID}
}

// Due reports whether an ACTIVE subscription needs its next period charged.
func (s State) Due(now time.Time) bool {
	return s.Created && s.Status == status.SubscriptionActive && !s.PeriodEnd.After(now)
}

// renewable lists the statuses a confirmed payment reactivates.
var renewable = map[status.SubscriptionStatus]bool{
	status.SubscriptionPending:  true,
	status.SubscriptionPastDue:  true,
	status.SubscriptionUnpaid:   true,
	status.SubscriptionInactive: true,
}

func Decide(state State, cmd command.Command, now time.Time) ([]event.Event, error) {
	if c, ok := cmd.(command.CreateSubscription); ok {
		if state.Created {
			return nil, apperrors.IllegalTransition(aggregateName, string(state.Status), string(status.Subscriptions.Initial()))
		}
		return one(c, event.TypeSubscriptionCreated, event.SubscriptionCreated{
			SubscriptionID: c.SubscriptionID(),
			UserID:         c.UserID(),
			PlanID:         c.PlanID(),
			Amount:         c.Amount(),
			Currency:       c.Currency(),
			Status:         status.Subscriptions.Initial(),
		}, now)
	}

	var next status.SubscriptionStatus
	switch c := cmd.(type) {
	case command.UpdateSubscriptionStatus:
		next = c.Status()
	case command.CancelSubscription:
		next = status.SubscriptionCancelling
	case command.ConfirmSubscriptionCancellation:
		next = status.SubscriptionCanceled
	case command.RenewSubscription:
		return renew(state, c, now)
	default:
		return nil, apperrors.UnknownCommand(aggregateName, string(cmd.Type()))
	}
	if !state.Created {
		return nil, apperrors.NotFound(aggregateName, cmd.AggregateID())
	}
	if _, err := status.Subscriptions.Transition(state.Status, next); err != nil {
		return nil, err
	}
	return one(cmd, event.TypeSubscriptionStatusUpdated, event.SubscriptionStatusUpdated{
		SubscriptionID: state.SubscriptionID,
		UserID:         state.UserID,
		From:           state.Status,
		To:             next,
	}, now)
}

func renew(state State, cmd command.RenewSubscription, now time.Time) ([]event.Event, error) {
	if !state.Created {
		return nil, apperrors.NotFound(aggregateName, cmd.AggregateID())
	}
	next := state.Status
	if state.Status != status.SubscriptionActive {
		if !renewable[state.Status] {
			return nil, apperrors.IllegalTransition(aggregateName, string(state.Status), string(status.SubscriptionActive))
		}
		if _, err := status.Subscriptions.Transition(state.Status, status.SubscriptionActive); err != nil {
			return nil, err
		}
		next = status.SubscriptionActive
	}
	start := state.PeriodEnd
	if start.Before(now) {
		start = now
	}
	return one(cmd, event.TypeSubscriptionRenewed, event.SubscriptionRenewed{
		SubscriptionID: state.SubscriptionID,
		UserID:         state.UserID,
		PaymentID:      cmd.PaymentID(),
		From:           state.Status,
		To:             next,
		PeriodEnd:      start.UTC().AddDate(0, 1, 0),
	}, now)
}

func one(cmd command.Command, eventType event.Type, payload any, now time.Time) ([]event.Event, error) {
	evt, err := event.New(cmd, 0, eventType, payload, now)
	if err != nil {
		return nil, err
	}
	return []event.Event{evt}, nil
}

func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypeSubscriptionCreated:
		p, err := event.Decode[event.SubscriptionCreated](evt)
		if err != nil {
			return state, err
		}
		state.Created = true
		state.UserID = p.UserID
		state.PlanID = p.PlanID
		state.Amount = p.Amount
		state.Currency = p.Currency
		state.Status = p.Status
	case event.TypeSubscriptionStatusUpdated:
		p, err := event.Decode[event.SubscriptionStatusUpdated](evt)
		if err != nil {
			return state, err
		}
		state.Status = p.To
	case event.TypeSubscriptionRenewed:
		p, err := event.Decode[event.SubscriptionRenewed](evt)
		if err != nil {
			return state, err
		}
		state.Status = p.To
		state.PeriodEnd = p.PeriodEnd
		state.Payments = append(append([]string(nil), state.Payments...), p.PaymentID)
	}
	return state, nil
}
