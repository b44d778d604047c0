package payment

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func apply(t *testing.T, state State, cmd command.Command) (State, []event.Event, error) {
	t.Helper()
	events, err := Decide(state, cmd, now)
	if err != nil {
		return state, nil, err
	}
	for _, evt := range events {
		state, err = Fold(state, evt)
		if err != nil {
			t.Fatalf("fold %s: %v", evt.Type, err)
		}
	}
	return state, events, nil
}

func created(t *testing.T) State {
	t.Helper()
	amount, err := money.Parse("20", "EUR")
	if err != nil {
		t.Fatalf("money: %v", err)
	}
	cmd, err := command.NewCreatePaymentTransaction(command.Meta{}, "p1", "u1", status.PaymentNew, amount, command.PaymentWalletTopUp, "sandbox", "t1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	state, events, err := apply(t, NewState("p1"), cmd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(events) != 1 || events[0].Type != event.TypePaymentTransactionCreated {
		t.Fatalf("events = %+v", events)
	}
	return state
}

func TestCreateThenErrorThenConfirm(t *testing.T) {
	state := created(t)
	if state.Status != status.PaymentNew || state.UserID != "u1" || state.ReferenceID != "t1" {
		t.Fatalf("state = %+v", state)
	}

	setErr, _ := command.NewSetPaymentTransactionError(command.Meta{}, "p1", "gateway timeout")
	state, events, err := apply(t, state, setErr)
	if err != nil {
		t.Fatalf("set error: %v", err)
	}
	if state.Status != status.PaymentError || state.LastError != "gateway timeout" {
		t.Fatalf("state after error = %+v", state)
	}
	p, err := event.Decode[event.PaymentStatusUpdated](events[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.From != status.PaymentNew || p.To != status.PaymentError || p.ReferenceID != "t1" || p.PaymentType != command.PaymentWalletTopUp {
		t.Fatalf("payload = %+v", p)
	}

	back, _ := command.NewUpdatePaymentStatus(command.Meta{}, "p1", status.PaymentNew, "")
	unchanged, _, err := apply(t, state, back)
	if !errors.Is(err, apperrors.ErrIllegalTransition) {
		t.Fatalf("err = %v, want illegal transition", err)
	}
	if unchanged.Status != status.PaymentError {
		t.Fatalf("status = %s after rejection", unchanged.Status)
	}

	confirm, _ := command.NewConfirmPaymentTransaction(command.Meta{}, "p1", "ext-42")
	state, _, err = apply(t, state, confirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if state.Status != status.PaymentConfirmed || state.ExternalReferenceID != "ext-42" {
		t.Fatalf("state after confirm = %+v", state)
	}
	if len(state.History) != 2 {
		t.Fatalf("history = %+v", state.History)
	}
}

func TestTerminalStatusRefusesUpdates(t *testing.T) {
	state := created(t)
	expire, _ := command.NewUpdatePaymentStatus(command.Meta{}, "p1", status.PaymentExpired, "")
	state, _, err := apply(t, state, expire)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	confirm, _ := command.NewConfirmPaymentTransaction(command.Meta{}, "p1", "")
	if _, _, err := apply(t, state, confirm); !errors.Is(err, apperrors.ErrIllegalTransition) {
		t.Fatalf("err = %v, want illegal transition", err)
	}
}

func TestDecideRejects(t *testing.T) {
	confirm, _ := command.NewConfirmPaymentTransaction(command.Meta{}, "p1", "")
	if _, err := Decide(NewState("p1"), confirm, now); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	cancel, _ := command.NewCancelSubscription(command.Meta{}, "s1")
	_, err := Decide(created(t), cancel, now)
	if !errors.Is(err, apperrors.ErrUnhandledCommand) {
		t.Fatalf("err = %v, want unhandled", err)
	}
	if apperrors.MetaOf(err, apperrors.MetaReason) != apperrors.ReasonUnknownCommand {
		t.Fatalf("reason = %q", apperrors.MetaOf(err, apperrors.MetaReason))
	}

	amount, _ := money.Parse("1", "EUR")
	again, _ := command.NewCreatePaymentTransaction(command.Meta{}, "p1", "u1", status.PaymentNew, amount, command.PaymentPurchase, "sandbox", "")
	if _, err := Decide(created(t), again, now); !errors.Is(err, apperrors.ErrIllegalTransition) {
		t.Fatalf("err = %v, want illegal transition", err)
	}
}
