package reactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/bus"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/payment"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/subscription"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/wallet"
	"github.com/louisbranch/ledger.space/internal/services/ledger/gateway"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu       sync.Mutex
	states   map[string]any
	executed []command.Command
	seen     map[string]bool
	errs     map[command.Type]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{states: map[string]any{}, seen: map[string]bool{}, errs: map[command.Type]error{}}
}

func stateKey(kind command.AggregateKind, id string) string { return string(kind) + "/" + id }

func (f *fakeExecutor) put(kind command.AggregateKind, id string, state any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[stateKey(kind, id)] = state
}

func (f *fakeExecutor) Load(_ context.Context, kind command.AggregateKind, id string) (any, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.states[stateKey(kind, id)]; ok {
		return state, 1, nil
	}
	switch kind {
	case command.AggregatePayment:
		return payment.NewState(id), 0, nil
	case command.AggregateWallet:
		return wallet.NewState(id), 0, nil
	case command.AggregateSubscription:
		return subscription.NewState(id), 0, nil
	default:
		return transaction.NewState(id), 0, nil
	}
}

func (f *fakeExecutor) Execute(_ context.Context, cmd command.Command) (engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[cmd.Type()]; err != nil {
		return engine.Result{}, err
	}
	if f.seen[cmd.ID()] {
		return engine.Result{}, apperrors.AlreadyApplied(string(cmd.AggregateKind()), cmd.ID())
	}
	f.seen[cmd.ID()] = true
	f.executed = append(f.executed, cmd)
	return engine.Result{}, nil
}

func (f *fakeExecutor) commands() []command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Command(nil), f.executed...)
}

type scriptedGateway struct {
	result     gateway.Result
	err        error
	calls      int
	paymentIDs []string
}

func (g *scriptedGateway) Execute(_ context.Context, req gateway.Request) (gateway.Result, error) {
	g.calls++
	g.paymentIDs = append(g.paymentIDs, req.PaymentID)
	return g.result, g.err
}

type fakeGateways map[string]gateway.Gateway

func (f fakeGateways) Lookup(name string) (gateway.Gateway, error) {
	gw, ok := f[name]
	if !ok {
		return nil, apperrors.NotFound("gateway", name)
	}
	return gw, nil
}

func mustEvent(t *testing.T, eventID string, eventType event.Type, payload any) event.Event {
	t.Helper()
	evt, err := event.NewStandalone(eventID, eventType, command.AggregatePayment, "agg-1", payload, fixedNow)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return evt
}

func createdEvent(t *testing.T, gw string) event.Event {
	return mustEvent(t, "evt-created", event.TypePaymentTransactionCreated, event.PaymentTransactionCreated{
		PaymentID:   "pay-1",
		UserID:      "user-1",
		Status:      status.PaymentNew,
		Amount:      decimal.NewFromInt(10),
		Currency:    "EUR",
		PaymentType: command.PaymentWalletTopUp,
		Gateway:     gw,
		ReferenceID: "tx-1",
	})
}

func statusEvent(t *testing.T, eventID string, paymentType command.PaymentType, to status.PaymentStatus, reference string) event.Event {
	return mustEvent(t, eventID, event.TypePaymentStatusUpdated, event.PaymentStatusUpdated{
		PaymentID:   "pay-1",
		UserID:      "user-1",
		From:        status.PaymentNew,
		To:          to,
		Amount:      decimal.NewFromInt(10),
		Currency:    "EUR",
		PaymentType: paymentType,
		ReferenceID: reference,
	})
}

type recordingSubscriber struct {
	subs map[event.Type][]string
}

func (r *recordingSubscriber) Subscribe(eventType event.Type, name string, _ bus.Handler) error {
	if r.subs == nil {
		r.subs = map[event.Type][]string{}
	}
	r.subs[eventType] = append(r.subs[eventType], name)
	return nil
}

func TestRegisterWiresEverySubscriber(t *testing.T) {
	rec := &recordingSubscriber{}
	if err := Register(rec, Deps{Engine: newFakeExecutor(), Gateways: fakeGateways{}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := rec.subs[event.TypePaymentStatusUpdated]; len(got) != 3 {
		t.Fatalf("payment.status_updated subscribers = %v, want 3", got)
	}
	for _, typ := range []event.Type{event.TypePaymentTransactionCreated, event.TypeWalletAssetAdded, event.TypeSubscriptionPaymentDue} {
		if len(rec.subs[typ]) != 1 {
			t.Fatalf("%s subscribers = %v, want 1", typ, rec.subs[typ])
		}
	}
}

func TestRegisterRequiresDependencies(t *testing.T) {
	if err := Register(nil, Deps{}); err == nil {
		t.Fatal("expected error for nil bus")
	}
	if err := Register(&recordingSubscriber{}, Deps{Gateways: fakeGateways{}}); err == nil {
		t.Fatal("expected error for missing engine")
	}
	if err := Register(&recordingSubscriber{}, Deps{Engine: newFakeExecutor()}); err == nil {
		t.Fatal("expected error for missing gateways")
	}
}

func TestPaymentExecutorMapsGatewayResult(t *testing.T) {
	tests := []struct {
		name   string
		result gateway.Result
		want   command.Type
	}{
		{"confirmed", gateway.Result{Status: status.PaymentConfirmed, ExternalReferenceID: "ext-1"}, command.TypeConfirmPaymentTransaction},
		{"error", gateway.Result{Status: status.PaymentError, Reason: "declined"}, command.TypeSetPaymentTransactionError},
		{"pending", gateway.Result{Status: status.PaymentPending, ExternalReferenceID: "ext-1"}, command.TypeUpdatePaymentStatus},
		{"rejected", gateway.Result{Status: status.PaymentRejected}, command.TypeUpdatePaymentStatus},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := newFakeExecutor()
			exec.put(command.AggregatePayment, "pay-1", payment.State{PaymentID: "pay-1", Created: true, Status: status.PaymentNew})
			gw := &scriptedGateway{result: tc.result}
			h := &PaymentExecutor{engine: exec, gateways: fakeGateways{"sandbox": gw}, logf: t.Logf}

			if err := h.HandleCreated(context.Background(), createdEvent(t, "sandbox")); err != nil {
				t.Fatalf("handle: %v", err)
			}
			cmds := exec.commands()
			if len(cmds) != 1 || cmds[0].Type() != tc.want {
				t.Fatalf("commands = %v, want one %s", cmds, tc.want)
			}
			if cmds[0].AggregateID() != "pay-1" || cmds[0].CausationID() != "evt-created" {
				t.Fatalf("command = %+v", cmds[0])
			}
		})
	}
}

func TestPaymentExecutorRecordsGatewayFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.put(command.AggregatePayment, "pay-1", payment.State{PaymentID: "pay-1", Created: true, Status: status.PaymentNew})
	gw := &scriptedGateway{err: errors.New("connection reset")}
	h := &PaymentExecutor{engine: exec, gateways: fakeGateways{"sandbox": gw}, logf: t.Logf}

	if err := h.HandleCreated(context.Background(), createdEvent(t, "sandbox")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cmds := exec.commands()
	if len(cmds) != 1 {
		t.Fatalf("commands = %v", cmds)
	}
	setErr, ok := cmds[0].(command.SetPaymentTransactionError)
	if !ok || setErr.Reason() != "connection reset" {
		t.Fatalf("command = %+v, want set_error with gateway reason", cmds[0])
	}
}

func TestPaymentExecutorRetriesGatewayWithSamePaymentID(t *testing.T) {
	exec := newFakeExecutor()
	exec.put(command.AggregatePayment, "pay-1", payment.State{PaymentID: "pay-1", Created: true, Status: status.PaymentNew})
	gw := &scriptedGateway{result: gateway.Result{Status: status.PaymentConfirmed, ExternalReferenceID: "ext-1"}}
	h := &PaymentExecutor{engine: exec, gateways: fakeGateways{"sandbox": gw}, logf: t.Logf}
	evt := createdEvent(t, "sandbox")

	exec.errs[command.TypeConfirmPaymentTransaction] = apperrors.Unavailable("append", "pay-1", errors.New("disk full"))
	err := h.HandleCreated(context.Background(), evt)
	if !engine.Retryable(err) {
		t.Fatalf("first delivery err = %v, want retryable", err)
	}
	delete(exec.errs, command.TypeConfirmPaymentTransaction)

	if err := h.HandleCreated(context.Background(), evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if gw.calls != 2 {
		t.Fatalf("gateway calls = %d, want 2", gw.calls)
	}
	if gw.paymentIDs[0] != "pay-1" || gw.paymentIDs[1] != "pay-1" {
		t.Fatalf("payment ids = %v, want pay-1 both times", gw.paymentIDs)
	}
	cmds := exec.commands()
	if len(cmds) != 1 || cmds[0].Type() != command.TypeConfirmPaymentTransaction {
		t.Fatalf("commands = %v, want one confirm", cmds)
	}
}

func TestPaymentExecutorUnknownGateway(t *testing.T) {
	exec := newFakeExecutor()
	exec.put(command.AggregatePayment, "pay-1", payment.State{PaymentID: "pay-1", Created: true, Status: status.PaymentNew})
	h := &PaymentExecutor{engine: exec, gateways: fakeGateways{}, logf: t.Logf}

	if err := h.HandleCreated(context.Background(), createdEvent(t, "stripe")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cmds := exec.commands()
	if len(cmds) != 1 || cmds[0].Type() != command.TypeSetPaymentTransactionError {
		t.Fatalf("commands = %v, want set_error", cmds)
	}
}

func TestPaymentExecutorSkipsProgressedPayment(t *testing.T) {
	exec := newFakeExecutor()
	exec.put(command.AggregatePayment, "pay-1", payment.State{PaymentID: "pay-1", Created: true, Status: status.PaymentConfirmed})
	gw := &scriptedGateway{result: gateway.Result{Status: status.PaymentConfirmed}}
	h := &PaymentExecutor{engine: exec, gateways: fakeGateways{"sandbox": gw}, logf: t.Logf}

	if err := h.HandleCreated(context.Background(), createdEvent(t, "sandbox")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if gw.calls != 0 || len(exec.commands()) != 0 {
		t.Fatalf("gateway calls = %d, commands = %v; want none", gw.calls, exec.commands())
	}
}

func TestWalletCreditOnConfirmedTopUp(t *testing.T) {
	exec := newFakeExecutor()
	h := &WalletCredit{engine: exec}

	evt := statusEvent(t, "evt-1", command.PaymentWalletTopUp, status.PaymentConfirmed, "tx-1")
	if err := h.HandlePaymentStatus(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cmds := exec.commands()
	if len(cmds) != 1 {
		t.Fatalf("commands = %v", cmds)
	}
	add, ok := cmds[0].(command.AddWalletAsset)
	if !ok || add.UserID() != "user-1" || add.ReferenceID() != "tx-1" || add.Amount().String() != "10" {
		t.Fatalf("command = %+v", cmds[0])
	}

	if err := h.HandlePaymentStatus(context.Background(), evt); !apperrors.IsAlreadyApplied(err) {
		t.Fatalf("redelivery error = %v, want already applied", err)
	}
}

func TestWalletCreditIgnoresOtherPayments(t *testing.T) {
	exec := newFakeExecutor()
	h := &WalletCredit{engine: exec}
	for _, evt := range []event.Event{
		statusEvent(t, "evt-1", command.PaymentWalletTopUp, status.PaymentError, "tx-1"),
		statusEvent(t, "evt-2", command.PaymentSubscription, status.PaymentConfirmed, "sub-1"),
	} {
		if err := h.HandlePaymentStatus(context.Background(), evt); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if cmds := exec.commands(); len(cmds) != 0 {
		t.Fatalf("commands = %v, want none", cmds)
	}
}

func substatuses(cmds []command.Command) []status.TransactionSubstatus {
	var out []status.TransactionSubstatus
	for _, cmd := range cmds {
		if c, ok := cmd.(command.UpdateTransactionSubstatus); ok {
			out = append(out, c.Substatus())
		}
	}
	return out
}

func TestTransactionProgressOnPaymentFailure(t *testing.T) {
	tests := []struct {
		to   status.PaymentStatus
		want []status.TransactionSubstatus
	}{
		{status.PaymentError, []status.TransactionSubstatus{status.TransactionPaymentError}},
		{status.PaymentRejected, []status.TransactionSubstatus{status.TransactionPaymentRejected, status.TransactionDone}},
		{status.PaymentExpired, []status.TransactionSubstatus{status.TransactionPaymentRejected, status.TransactionDone}},
		{status.PaymentConfirmed, nil},
		{status.PaymentPending, nil},
	}
	for _, tc := range tests {
		t.Run(string(tc.to), func(t *testing.T) {
			exec := newFakeExecutor()
			h := &TransactionProgress{engine: exec}
			evt := statusEvent(t, "evt-1", command.PaymentWalletTopUp, tc.to, "tx-1")
			if err := h.HandlePaymentStatus(context.Background(), evt); err != nil {
				t.Fatalf("handle: %v", err)
			}
			got := substatuses(exec.commands())
			if len(got) != len(tc.want) {
				t.Fatalf("substatuses = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("substatuses = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestTransactionProgressResumesAfterPartialDelivery(t *testing.T) {
	exec := newFakeExecutor()
	h := &TransactionProgress{engine: exec}
	evt := statusEvent(t, "evt-1", command.PaymentWalletTopUp, status.PaymentRejected, "tx-1")

	exec.errs[command.TypeUpdateTransactionSubstatus] = apperrors.Locked("transaction-lock:tx-1")
	if err := h.HandlePaymentStatus(context.Background(), evt); err == nil {
		t.Fatal("expected lock error")
	}
	delete(exec.errs, command.TypeUpdateTransactionSubstatus)

	if err := h.HandlePaymentStatus(context.Background(), evt); err != nil {
		t.Fatalf("first redelivery: %v", err)
	}
	if err := h.HandlePaymentStatus(context.Background(), evt); err != nil {
		t.Fatalf("second redelivery: %v", err)
	}
	if got := substatuses(exec.commands()); len(got) != 2 {
		t.Fatalf("substatuses = %v, want REJECTED then DONE once each", got)
	}
}

func walletEvent(t *testing.T, reference string) event.Event {
	return mustEvent(t, "evt-credit", event.TypeWalletAssetAdded, event.WalletAssetChanged{
		UserID:      "user-1",
		Amount:      decimal.NewFromInt(10),
		Currency:    "EUR",
		ReferenceID: reference,
		Balance:     decimal.NewFromInt(10),
	})
}

func TestTransactionProgressOnWalletCredit(t *testing.T) {
	tests := []struct {
		name    string
		current status.TransactionSubstatus
		want    []status.TransactionSubstatus
	}{
		{"awaiting", status.TransactionAwaitsPayment, []status.TransactionSubstatus{status.TransactionPaymentReceived, status.TransactionDone}},
		{"after error", status.TransactionPaymentError, []status.TransactionSubstatus{status.TransactionPaymentReceived, status.TransactionDone}},
		{"received", status.TransactionPaymentReceived, []status.TransactionSubstatus{status.TransactionDone}},
		{"done", status.TransactionDone, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := newFakeExecutor()
			exec.put(command.AggregateTransaction, "tx-1", transaction.State{TransactionID: "tx-1", Created: true, Substatus: tc.current})
			h := &TransactionProgress{engine: exec}
			if err := h.HandleWalletCredited(context.Background(), walletEvent(t, "tx-1")); err != nil {
				t.Fatalf("handle: %v", err)
			}
			got := substatuses(exec.commands())
			if len(got) != len(tc.want) {
				t.Fatalf("substatuses = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("substatuses = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestTransactionProgressIgnoresForeignCredit(t *testing.T) {
	exec := newFakeExecutor()
	h := &TransactionProgress{engine: exec}
	if err := h.HandleWalletCredited(context.Background(), walletEvent(t, "refund-7")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if cmds := exec.commands(); len(cmds) != 0 {
		t.Fatalf("commands = %v, want none", cmds)
	}
}

func TestSubscriptionBillingOnPaymentStatus(t *testing.T) {
	tests := []struct {
		name    string
		current status.SubscriptionStatus
		to      status.PaymentStatus
		want    command.Type
		next    status.SubscriptionStatus
	}{
		{"first payment confirmed", status.SubscriptionPending, status.PaymentConfirmed, command.TypeRenewSubscription, ""},
		{"renewal confirmed", status.SubscriptionActive, status.PaymentConfirmed, command.TypeRenewSubscription, ""},
		{"first payment failed", status.SubscriptionPending, status.PaymentError, command.TypeUpdateSubscriptionStatus, status.SubscriptionUnpaid},
		{"renewal rejected", status.SubscriptionActive, status.PaymentRejected, command.TypeUpdateSubscriptionStatus, status.SubscriptionPastDue},
		{"already past due", status.SubscriptionPastDue, status.PaymentError, "", ""},
		{"cancelling", status.SubscriptionCancelling, status.PaymentConfirmed, "", ""},
		{"pending payment", status.SubscriptionPending, status.PaymentPending, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := newFakeExecutor()
			exec.put(command.AggregateSubscription, "sub-1", subscription.State{SubscriptionID: "sub-1", Created: true, Status: tc.current})
			h := &SubscriptionBilling{engine: exec}
			evt := statusEvent(t, "evt-1", command.PaymentSubscription, tc.to, "sub-1")
			if err := h.HandlePaymentStatus(context.Background(), evt); err != nil {
				t.Fatalf("handle: %v", err)
			}
			cmds := exec.commands()
			if tc.want == "" {
				if len(cmds) != 0 {
					t.Fatalf("commands = %v, want none", cmds)
				}
				return
			}
			if len(cmds) != 1 || cmds[0].Type() != tc.want {
				t.Fatalf("commands = %v, want one %s", cmds, tc.want)
			}
			switch c := cmds[0].(type) {
			case command.RenewSubscription:
				if c.PaymentID() != "pay-1" {
					t.Fatalf("renew payment = %s, want pay-1", c.PaymentID())
				}
			case command.UpdateSubscriptionStatus:
				if c.Status() != tc.next {
					t.Fatalf("next status = %s, want %s", c.Status(), tc.next)
				}
			}
		})
	}
}

func TestSubscriptionBillingOpensDuePayment(t *testing.T) {
	exec := newFakeExecutor()
	h := &SubscriptionBilling{engine: exec}
	evt, err := event.NewStandalone("due-1", event.TypeSubscriptionPaymentDue, command.AggregateSubscription, "sub-1", event.SubscriptionPaymentDue{
		SubscriptionID: "sub-1",
		UserID:         "user-1",
		Amount:         decimal.RequireFromString("9.99"),
		Currency:       "EUR",
		Gateway:        "sandbox",
		PeriodEnd:      fixedNow,
	}, fixedNow)
	if err != nil {
		t.Fatalf("event: %v", err)
	}

	if err := h.HandlePaymentDue(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cmds := exec.commands()
	if len(cmds) != 1 {
		t.Fatalf("commands = %v", cmds)
	}
	create, ok := cmds[0].(command.CreatePaymentTransaction)
	if !ok {
		t.Fatalf("command = %T, want create payment", cmds[0])
	}
	if create.PaymentID() != PaymentID("due-1") || create.ReferenceID() != "sub-1" || create.PaymentType() != command.PaymentSubscription {
		t.Fatalf("create = %+v", create)
	}
	if create.Status() != status.PaymentNew || create.Gateway() != "sandbox" {
		t.Fatalf("create = %+v", create)
	}

	if err := h.HandlePaymentDue(context.Background(), evt); !apperrors.IsAlreadyApplied(err) {
		t.Fatalf("redelivery error = %v, want already applied", err)
	}
}
