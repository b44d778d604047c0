// Package payment implements the payment aggregate: one provider-facing
// payment whose status only ever moves up the payment rank.
package payment

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

const aggregateName = "payment"

// State is the folded payment.
type State struct {
	PaymentID           string               `json:"payment_id"`
	Created             bool                 `json:"created"`
	UserID              string               `json:"user_id,omitempty"`
	Status              status.PaymentStatus `json:"status,omitempty"`
	Amount              decimal.Decimal      `json:"amount"`
	Currency            string               `json:"currency,omitempty"`
	PaymentType         command.PaymentType  `json:"payment_type,omitempty"`
	Gateway             string               `json:"gateway,omitempty"`
	ReferenceID         string               `json:"reference_id,omitempty"`
	ExternalReferenceID string               `json:"external_reference_id,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	History             []Change             `json:"history,omitempty"`
}

// Change is one accepted status move.
type Change struct {
	From      status.PaymentStatus `json:"from"`
	To        status.PaymentStatus `json:"to"`
	EventID   string               `json:"event_id"`
	ChangedAt time.Time            `json:"changed_at"`
}

// NewState returns the empty state for paymentID.
func NewState(paymentID string) State {
	return State{PaymentID: paymentID}
}

// Decide validates cmd against state and returns the events it produces.
func Decide(state State, cmd command.Command, now time.Time) ([]event.Event, error) {
	switch c := cmd.(type) {
	case command.CreatePaymentTransaction:
		if state.Created {
			return nil, apperrors.IllegalTransition(aggregateName, string(state.Status), string(c.Status()))
		}
		evt, err := event.New(c, 0, event.TypePaymentTransactionCreated, event.PaymentTransactionCreated{
			PaymentID:   c.PaymentID(),
			UserID:      c.UserID(),
			Status:      c.Status(),
			Amount:      c.Amount(),
			Currency:    c.Currency(),
			PaymentType: c.PaymentType(),
			Gateway:     c.Gateway(),
			ReferenceID: c.ReferenceID(),
		}, now)
		if err != nil {
			return nil, err
		}
		return []event.Event{evt}, nil
	case command.SetPaymentTransactionError:
		return statusChange(state, c, status.PaymentError, "", c.Reason(), now)
	case command.ConfirmPaymentTransaction:
		return statusChange(state, c, status.PaymentConfirmed, c.ExternalReferenceID(), "", now)
	case command.UpdatePaymentStatus:
		return statusChange(state, c, c.Status(), c.ExternalReferenceID(), "", now)
	default:
		return nil, apperrors.UnknownCommand(aggregateName, string(cmd.Type()))
	}
}

func statusChange(state State, cmd command.Command, next status.PaymentStatus, externalRef, reason string, now time.Time) ([]event.Event, error) {
	if !state.Created {
		return nil, apperrors.NotFound(aggregateName, cmd.AggregateID())
	}
	if _, err := status.TransitionPayment(state.Status, next); err != nil {
		return nil, err
	}
	if externalRef == "" {
		externalRef = state.ExternalReferenceID
	}
	evt, err := event.New(cmd, 0, event.TypePaymentStatusUpdated, event.PaymentStatusUpdated{
		PaymentID:           state.PaymentID,
		UserID:              state.UserID,
		From:                state.Status,
		To:                  next,
		Amount:              state.Amount,
		Currency:            state.Currency,
		PaymentType:         state.PaymentType,
		ReferenceID:         state.ReferenceID,
		ExternalReferenceID: externalRef,
		Reason:              reason,
	}, now)
	if err != nil {
		return nil, err
	}
	return []event.Event{evt}, nil
}

// Fold applies evt to state.
func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypePaymentTransactionCreated:
		p, err := event.Decode[event.PaymentTransactionCreated](evt)
		if err != nil {
			return state, err
		}
		state.Created = true
		state.UserID = p.UserID
		state.Status = p.Status
		state.Amount = p.Amount
		state.Currency = p.Currency
		state.PaymentType = p.PaymentType
		state.Gateway = p.Gateway
		state.ReferenceID = p.ReferenceID
	case event.TypePaymentStatusUpdated:
		p, err := event.Decode[event.PaymentStatusUpdated](evt)
		if err != nil {
			return state, err
		}
		state.Status = p.To
		state.ExternalReferenceID = p.ExternalReferenceID
		if p.To == status.PaymentError {
			state.LastError = p.Reason
		}
		state.History = append(slices.Clone(state.History), Change{From: p.From, To: p.To, EventID: evt.ID, ChangedAt: evt.OccurredAt})
	}
	return state, nil
}
