package wallet

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func run(t *testing.T, state State, cmd command.Command) (State, error) {
	t.Helper()
	events, err := Decide(state, cmd, now)
	if err != nil {
		return state, err
	}
	for _, evt := range events {
		if state, err = Fold(state, evt); err != nil {
			t.Fatalf("fold: %v", err)
		}
	}
	return state, nil
}

func amount(t *testing.T, value, currency string) money.Money {
	t.Helper()
	m, err := money.Parse(value, currency)
	if err != nil {
		t.Fatalf("money: %v", err)
	}
	return m
}

func TestCreditAndDebit(t *testing.T) {
	add, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "10.25", "EUR"), "t1")
	state, err := run(t, NewState("u1"), add)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	usd, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "3", "USD"), "t2")
	if state, err = run(t, state, usd); err != nil {
		t.Fatalf("add usd: %v", err)
	}
	sub, _ := command.NewSubtractWalletAsset(command.Meta{}, "u1", amount(t, "0.25", "EUR"), "w1")
	if state, err = run(t, state, sub); err != nil {
		t.Fatalf("subtract: %v", err)
	}
	if got := state.Balance("EUR"); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("EUR balance = %s", got)
	}
	if got := state.Balance("USD"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("USD balance = %s", got)
	}
}

func TestReferenceCreditsOnce(t *testing.T) {
	first, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "5", "EUR"), "t1")
	state, err := run(t, NewState("u1"), first)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "5", "EUR"), "t1")
	state, err = run(t, state, second)
	if !apperrors.IsAlreadyApplied(err) {
		t.Fatalf("err = %v, want already applied", err)
	}
	if got := state.Balance("EUR"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("balance = %s, want 5", got)
	}
}

func TestDebitNeedsFunds(t *testing.T) {
	add, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "5", "EUR"), "t1")
	state, _ := run(t, NewState("u1"), add)
	sub, _ := command.NewSubtractWalletAsset(command.Meta{}, "u1", amount(t, "5.01", "EUR"), "w1")
	after, err := run(t, state, sub)
	if !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want insufficient funds", err)
	}
	if apperrors.CodeOf(err).Retryable() {
		t.Fatal("insufficient funds must not be retried")
	}
	if got := after.Balance("EUR"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("balance = %s after rejection", got)
	}
}

func TestFoldDoesNotMutateInput(t *testing.T) {
	add, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "5", "EUR"), "t1")
	state, _ := run(t, NewState("u1"), add)
	more, _ := command.NewAddWalletAsset(command.Meta{}, "u1", amount(t, "1", "EUR"), "t2")
	if _, err := run(t, state, more); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := state.Balance("EUR"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("original state balance = %s", got)
	}
	if _, ok := state.Credits["t2"]; ok {
		t.Fatal("original state saw the second credit")
	}
}
