// Package wallet implements per-user multi-currency balances.
package wallet

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
)

const aggregateName = "wallet"

// State is the folded wallet of one user. Credits and Debits map a reference
// id to the command that used it; a reference moves money at most once per
// direction.
type State struct {
	UserID   string                     `json:"user_id"`
	Balances map[string]decimal.Decimal `json:"balances,omitempty"`
	Credits  map[string]string          `json:"credits,omitempty"`
	Debits   map[string]string          `json:"debits,omitempty"`
}

func NewState(userID string) State {
	return State{UserID: userID}
}

// Balance returns the balance held in currency.
func (s State) Balance(currency string) decimal.Decimal {
	return s.Balances[currency]
}

func Decide(state State, cmd command.Command, now time.Time) ([]event.Event, error) {
	switch c := cmd.(type) {
	case command.AddWalletAsset:
		if _, used := state.Credits[c.ReferenceID()]; used {
			return nil, apperrors.AlreadyApplied(aggregateName, c.ID())
		}
		balance := state.Balance(c.Currency()).Add(c.Amount())
		return change(c, event.TypeWalletAssetAdded, c.ReferenceID(), balance, now)
	case command.SubtractWalletAsset:
		if _, used := state.Debits[c.ReferenceID()]; used {
			return nil, apperrors.AlreadyApplied(aggregateName, c.ID())
		}
		current := state.Balance(c.Currency())
		if current.LessThan(c.Amount()) {
			return nil, apperrors.InsufficientFunds(c.Currency(), current.String(), c.Amount().String())
		}
		return change(c, event.TypeWalletAssetSubtracted, c.ReferenceID(), current.Sub(c.Amount()), now)
	default:
		return nil, apperrors.UnknownCommand(aggregateName, string(cmd.Type()))
	}
}

type moneyCommand interface {
	command.Command
	Amount() decimal.Decimal
	Currency() string
}

func change(cmd moneyCommand, eventType event.Type, referenceID string, balance decimal.Decimal, now time.Time) ([]event.Event, error) {
	evt, err := event.New(cmd, 0, eventType, event.WalletAssetChanged{
		UserID:      cmd.AggregateID(),
		Amount:      cmd.Amount(),
		Currency:    cmd.Currency(),
		ReferenceID: referenceID,
		Balance:     balance,
	}, now)
	if err != nil {
		return nil, err
	}
	return []event.Event{evt}, nil
}

func Fold(state State, evt event.Event) (State, error) {
	if evt.Type != event.TypeWalletAssetAdded && evt.Type != event.TypeWalletAssetSubtracted {
		return state, nil
	}
	p, err := event.Decode[event.WalletAssetChanged](evt)
	if err != nil {
		return state, err
	}
	balances := maps.Clone(state.Balances)
	if balances == nil {
		balances = make(map[string]decimal.Decimal)
	}
	balances[p.Currency] = p.Balance
	state.Balances = balances

	refs := maps.Clone(state.Credits)
	if evt.Type == event.TypeWalletAssetSubtracted {
		refs = maps.Clone(state.Debits)
	}
	if refs == nil {
		refs = make(map[string]string)
	}
	refs[p.ReferenceID] = evt.CommandID
	if evt.Type == event.TypeWalletAssetSubtracted {
		state.Debits = refs
	} else {
		state.Credits = refs
	}
	return state, nil
}
