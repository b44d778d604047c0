package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/ledger.space/internal/platform/cache"
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/lock"
	"github.com/louisbranch/ledger.space/internal/services/ledger/billing"
	"github.com/louisbranch/ledger.space/internal/services/ledger/bus"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command/codec"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
	"github.com/louisbranch/ledger.space/internal/services/ledger/gateway"
	"github.com/louisbranch/ledger.space/internal/services/ledger/reactor"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage/sqlite"
)

func silent(string, ...any) {}

type harness struct {
	svc    *Service
	engine *engine.Engine
	bus    *bus.Bus
	store  *sqlite.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mem, err := cache.NewMemory(0)
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	mutex, err := lock.New(mem)
	if err != nil {
		t.Fatalf("mutex: %v", err)
	}

	b := bus.New(bus.Config{
		Workers:       4,
		MaxAttempts:   20,
		RetryBackoff:  time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}, bus.WithRecorder(store), bus.WithLogf(silent))

	eng, err := engine.New(engine.Config{
		Store:     store,
		Mutex:     mutex,
		Codec:     codec.New(),
		Modules:   engine.LedgerModules(),
		Publisher: b,
		Logf:      silent,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	gateways := gateway.NewRegistry()
	if err := gateways.Register(gateway.SandboxName, gateway.Sandbox{}); err != nil {
		t.Fatalf("register gateway: %v", err)
	}
	if err := reactor.Register(b, reactor.Deps{Engine: eng, Gateways: gateways, Logf: silent}); err != nil {
		t.Fatalf("register reactor: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc, err := New(eng, Config{DefaultGateway: gateway.SandboxName})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &harness{svc: svc, engine: eng, bus: b, store: store}
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.bus.WaitIdle(ctx); err != nil {
		t.Fatalf("wait for subscribers: %v", err)
	}
}

func (h *harness) balance(t *testing.T, userID string) string {
	t.Helper()
	w, err := h.svc.Wallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w.Balance("EUR").String()
}

func (h *harness) topUp(t *testing.T, requestID, amount string) TopUp {
	t.Helper()
	out, err := h.svc.TopUpWallet(context.Background(), TopUpRequest{
		RequestID: requestID,
		UserID:    "user-1",
		Amount:    amount,
		Currency:  "eur",
	})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	h.settle(t)
	return out
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(nil, Config{}); !errors.Is(err, ErrEngineRequired) {
		t.Fatalf("err = %v, want ErrEngineRequired", err)
	}
}

func TestTopUpCreditsWalletOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.topUp(t, "req-1", "10")
	if got := h.balance(t, "user-1"); got != "10" {
		t.Fatalf("balance = %s, want 10", got)
	}
	tx, err := h.svc.Transaction(ctx, out.TransactionID)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if tx.Substatus != status.TransactionDone {
		t.Fatalf("substatus = %s, want DONE", tx.Substatus)
	}
	p, err := h.svc.Payment(ctx, out.PaymentID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if p.Status != status.PaymentConfirmed || p.ExternalReferenceID == "" {
		t.Fatalf("payment = %+v, want CONFIRMED with external reference", p)
	}

	again := h.topUp(t, "req-1", "10")
	if again != out {
		t.Fatalf("retried request opened %+v, want %+v", again, out)
	}
	if got := h.balance(t, "user-1"); got != "10" {
		t.Fatalf("balance after retry = %s, want 10", got)
	}
}

func TestTopUpErrorThenWebhookConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	amount := gateway.SandboxAmount(10, status.PaymentError).String()
	out := h.topUp(t, "req-1", amount)

	tx, err := h.svc.Transaction(ctx, out.TransactionID)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if tx.Substatus != status.TransactionPaymentError {
		t.Fatalf("substatus = %s, want PAYMENT_ERROR", tx.Substatus)
	}
	if got := h.balance(t, "user-1"); got != "0" {
		t.Fatalf("balance = %s, want 0", got)
	}

	p, err := h.svc.ReportGatewayUpdate(ctx, GatewayUpdate{
		NotificationID:      "notif-1",
		PaymentID:           out.PaymentID,
		Status:              "confirmed",
		ExternalReferenceID: "ext-9",
	})
	if err != nil {
		t.Fatalf("gateway update: %v", err)
	}
	if p.Status != status.PaymentConfirmed || p.ExternalReferenceID != "ext-9" {
		t.Fatalf("payment = %+v", p)
	}
	h.settle(t)

	if got := h.balance(t, "user-1"); got != amount {
		t.Fatalf("balance = %s, want %s", got, amount)
	}
	tx, err = h.svc.Transaction(ctx, out.TransactionID)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if tx.Substatus != status.TransactionDone {
		t.Fatalf("substatus = %s, want DONE", tx.Substatus)
	}

	if _, err := h.svc.ReportGatewayUpdate(ctx, GatewayUpdate{NotificationID: "notif-1", PaymentID: out.PaymentID, Status: "CONFIRMED"}); err != nil {
		t.Fatalf("replayed notification: %v", err)
	}
	_, err = h.svc.ReportGatewayUpdate(ctx, GatewayUpdate{NotificationID: "notif-2", PaymentID: out.PaymentID, Status: "PENDING"})
	if apperrors.CodeOf(err) != apperrors.CodeIllegalTransition {
		t.Fatalf("stale notification error = %v, want ILLEGAL_TRANSITION", err)
	}
	_, err = h.svc.ReportGatewayUpdate(ctx, GatewayUpdate{NotificationID: "notif-3", PaymentID: out.PaymentID, Status: "REFUNDED"})
	if apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("unknown status error = %v, want VALIDATION", err)
	}
}

func TestTopUpRejectedClosesTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.topUp(t, "req-1", gateway.SandboxAmount(10, status.PaymentRejected).String())

	tx, err := h.svc.Transaction(ctx, out.TransactionID)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if tx.Substatus != status.TransactionDone {
		t.Fatalf("substatus = %s, want DONE", tx.Substatus)
	}
	history, err := h.svc.History(ctx, command.AggregateTransaction, out.TransactionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[0].Type() != command.TypeCreateTransaction {
		t.Fatalf("history = %v, want create then two substatus updates", history)
	}
	if got := h.balance(t, "user-1"); got != "0" {
		t.Fatalf("balance = %s, want 0", got)
	}
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topUp(t, "req-1", "10")

	req := WithdrawRequest{RequestID: "wd-1", UserID: "user-1", Amount: "4", Currency: "EUR"}
	w, err := h.svc.Withdraw(ctx, req)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := w.Balance("EUR").String(); got != "6" {
		t.Fatalf("balance = %s, want 6", got)
	}
	if _, err := h.svc.Withdraw(ctx, req); err != nil {
		t.Fatalf("replayed withdraw: %v", err)
	}
	if got := h.balance(t, "user-1"); got != "6" {
		t.Fatalf("balance after replay = %s, want 6", got)
	}

	_, err = h.svc.Withdraw(ctx, WithdrawRequest{RequestID: "wd-2", UserID: "user-1", Amount: "100", Currency: "EUR"})
	if apperrors.CodeOf(err) != apperrors.CodeInsufficientFunds {
		t.Fatalf("overdraw error = %v, want INSUFFICIENT_FUNDS", err)
	}
	if got := h.balance(t, "user-1"); got != "6" {
		t.Fatalf("balance after refused debit = %s, want 6", got)
	}
}

func subscribe(t *testing.T, h *harness, requestID, amount string) Subscription {
	t.Helper()
	out, err := h.svc.Subscribe(context.Background(), SubscribeRequest{
		RequestID: requestID,
		UserID:    "user-1",
		PlanID:    "plan-pro",
		Amount:    amount,
		Currency:  "EUR",
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.settle(t)
	return out
}

func TestSubscribeActivatesAndRenews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started := time.Now()

	out := subscribe(t, h, "req-1", "9.99")
	sub, err := h.svc.Subscription(ctx, out.SubscriptionID)
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if sub.Status != status.SubscriptionActive {
		t.Fatalf("status = %s, want ACTIVE", sub.Status)
	}
	if !sub.PeriodEnd.After(started) || len(sub.Payments) != 1 || sub.Payments[0] != out.PaymentID {
		t.Fatalf("subscription = %+v", sub)
	}
	firstPeriodEnd := sub.PeriodEnd

	scheduler, err := billing.New(h.engine, h.bus, billing.Config{
		Gateway: gateway.SandboxName,
		Now:     func() time.Time { return firstPeriodEnd.Add(time.Hour) },
		Logf:    silent,
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	for i := 0; i < 2; i++ {
		n, err := scheduler.Tick(ctx)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if i == 0 && n != 1 {
			t.Fatalf("published %d, want 1", n)
		}
		h.settle(t)
	}

	sub, err = h.svc.Subscription(ctx, out.SubscriptionID)
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if len(sub.Payments) != 2 {
		t.Fatalf("payments = %v, want two paid periods", sub.Payments)
	}
	if want := firstPeriodEnd.AddDate(0, 1, 0); !sub.PeriodEnd.Equal(want) {
		t.Fatalf("period end = %s, want %s", sub.PeriodEnd, want)
	}
}

func TestSubscribeFirstPaymentFails(t *testing.T) {
	h := newHarness(t)
	out := subscribe(t, h, "req-1", gateway.SandboxAmount(9, status.PaymentError).String())

	sub, err := h.svc.Subscription(context.Background(), out.SubscriptionID)
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if sub.Status != status.SubscriptionUnpaid {
		t.Fatalf("status = %s, want UNPAID", sub.Status)
	}
}

func TestCancelSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := subscribe(t, h, "req-1", "9.99")

	if _, err := h.svc.ConfirmCancellation(ctx, "c-0", out.SubscriptionID); apperrors.CodeOf(err) != apperrors.CodeIllegalTransition {
		t.Fatalf("confirm before cancel error = %v, want ILLEGAL_TRANSITION", err)
	}
	sub, err := h.svc.CancelSubscription(ctx, "c-1", out.SubscriptionID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sub.Status != status.SubscriptionCancelling {
		t.Fatalf("status = %s, want CANCELLING", sub.Status)
	}
	sub, err = h.svc.ConfirmCancellation(ctx, "c-2", out.SubscriptionID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if sub.Status != status.SubscriptionCanceled {
		t.Fatalf("status = %s, want CANCELED", sub.Status)
	}
}

func TestSubscriptionsByUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	subscribe(t, h, "req-1", "9.99")
	if _, err := h.svc.Subscribe(ctx, SubscribeRequest{RequestID: "req-2", UserID: "user-2", PlanID: "plan-basic", Amount: "4.99", Currency: "EUR"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.settle(t)

	all, err := h.svc.Subscriptions(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	mine, err := h.svc.Subscriptions(ctx, "user-2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || len(mine) != 1 || mine[0].PlanID != "plan-basic" {
		t.Fatalf("all = %d, user-2 = %+v", len(all), mine)
	}
}

func TestDeliveryAttemptsAreRecorded(t *testing.T) {
	h := newHarness(t)
	out := h.topUp(t, "req-1", "10")

	p, err := h.svc.Payment(context.Background(), out.PaymentID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if len(p.History) == 0 {
		t.Fatal("expected payment history")
	}
	attempts, err := h.store.ListAttempts(context.Background(), p.History[0].EventID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) < 3 {
		t.Fatalf("attempts = %+v, want one per payment.status_updated subscriber", attempts)
	}
	for _, a := range attempts {
		if a.Outcome != storage.DeliverySucceeded {
			t.Fatalf("attempt = %+v, want succeeded", a)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.TopUpWallet(ctx, TopUpRequest{UserID: "user-1", Amount: "10", Currency: "XX"}); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("bad currency error = %v", err)
	}
	if _, err := h.svc.TopUpWallet(ctx, TopUpRequest{UserID: "user-1", Amount: "-1", Currency: "EUR"}); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("negative amount error = %v", err)
	}
	if _, err := h.svc.Payment(ctx, "missing"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("missing payment error = %v", err)
	}
	if _, err := h.svc.Wallet(ctx, " "); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("empty wallet id error = %v", err)
	}

	svc, err := New(h.engine, Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := svc.TopUpWallet(ctx, TopUpRequest{UserID: "user-1", Amount: "10", Currency: "EUR"}); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("missing gateway error = %v", err)
	}
}
