// Package transaction implements payment-backed transactions such as wallet
// top-ups.
package transaction

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

const aggregateName = "transaction"

type State struct {
	TransactionID string                      `json:"transaction_id"`
	Created       bool                        `json:"created"`
	UserID        string                      `json:"user_id,omitempty"`
	PaymentID     string                      `json:"payment_id,omitempty"`
	Amount        decimal.Decimal             `json:"amount"`
	Currency      string                      `json:"currency,omitempty"`
	Substatus     status.TransactionSubstatus `json:"substatus,omitempty"`
	UpdatedAt     time.Time                   `json:"updated_at,omitzero"`
}

func NewState(transactionID string) State {
	return State{TransactionID: transactionID}
}

func Decide(state State, cmd command.Command, now time.Time) ([]event.Event, error) {
	switch c := cmd.(type) {
	case command.CreateTransaction:
		if state.Created {
			return nil, apperrors.IllegalTransition(aggregateName, string(state.Substatus), string(status.Transactions.Initial()))
		}
		evt, err := event.New(c, 0, event.TypeTransactionCreated, event.TransactionCreated{
			TransactionID: c.TransactionID(),
			UserID:        c.UserID(),
			PaymentID:     c.PaymentID(),
			Amount:        c.Amount(),
			Currency:      c.Currency(),
			Substatus:     status.Transactions.Initial(),
		}, now)
		if err != nil {
			return nil, err
		}
		return []event.Event{evt}, nil
	case command.UpdateTransactionSubstatus:
		if !state.Created {
			return nil, apperrors.NotFound(aggregateName, c.TransactionID())
		}
		if _, err := status.Transactions.Transition(state.Substatus, c.Substatus()); err != nil {
			return nil, err
		}
		evt, err := event.New(c, 0, event.TypeTransactionSubstatusUpdated, event.TransactionSubstatusUpdated{
			TransactionID: state.TransactionID,
			UserID:        state.UserID,
			PaymentID:     state.PaymentID,
			From:          state.Substatus,
			To:            c.Substatus(),
		}, now)
		if err != nil {
			return nil, err
		}
		return []event.Event{evt}, nil
	default:
		return nil, apperrors.UnknownCommand(aggregateName, string(cmd.Type()))
	}
}

func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypeTransactionCreated:
		p, err := event.Decode[event.TransactionCreated](evt)
		if err != nil {
			return state, err
		}
		state.Created = true
		state.UserID = p.UserID
		state.PaymentID = p.PaymentID
		state.Amount = p.Amount
		state.Currency = p.Currency
		state.Substatus = p.Substatus
	case event.TypeTransactionSubstatusUpdated:
		p, err := event.Decode[event.TransactionSubstatusUpdated](evt)
		if err != nil {
			return state, err
		}
		state.Substatus = p.To
	default:
		return state, nil
	}
	state.UpdatedAt = evt.OccurredAt
	return state, nil
}
