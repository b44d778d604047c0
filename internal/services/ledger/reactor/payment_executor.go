package reactor

import (
	"context"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/payment"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
	"github.com/louisbranch/ledger.space/internal/services/ledger/gateway"
)

// PaymentExecutor charges newly created payments through their gateway and
// records the provider's answer.
type PaymentExecutor struct {
	engine   Executor
	gateways Gateways
	logf     func(format string, args ...any)
}

func (h *PaymentExecutor) HandleCreated(ctx context.Context, evt event.Event) error {
	created, err := event.Decode[event.PaymentTransactionCreated](evt)
	if err != nil {
		return err
	}
	if created.Status != status.PaymentNew {
		return nil
	}
	// A webhook may have moved the payment before this delivery ran.
	current, err := loadAs[payment.State](ctx, h.engine, command.AggregatePayment, created.PaymentID)
	if err != nil {
		return err
	}
	if current.Status != status.PaymentNew {
		return nil
	}

	meta := causedBy(evt)
	gw, err := h.gateways.Lookup(created.Gateway)
	if err != nil {
		return h.fail(ctx, meta, created.PaymentID, err.Error())
	}
	result, err := gw.Execute(ctx, gateway.Request{
		PaymentID:   created.PaymentID,
		UserID:      created.UserID,
		Amount:      created.Amount,
		Currency:    created.Currency,
		PaymentType: created.PaymentType,
		ReferenceID: created.ReferenceID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		h.logf("gateway %s failed for payment %s: %v", created.Gateway, created.PaymentID, err)
		return h.fail(ctx, meta, created.PaymentID, err.Error())
	}

	cmd, err := resultCommand(meta, created.PaymentID, result)
	if err != nil || cmd == nil {
		return err
	}
	_, err = h.engine.Execute(ctx, cmd)
	return err
}

func (h *PaymentExecutor) fail(ctx context.Context, meta command.Meta, paymentID, reason string) error {
	cmd, err := command.NewSetPaymentTransactionError(meta, paymentID, reason)
	if err != nil {
		return err
	}
	_, err = h.engine.Execute(ctx, cmd)
	return err
}

// resultCommand maps a gateway answer onto the command recording it. A NEW
// answer records nothing.
func resultCommand(meta command.Meta, paymentID string, result gateway.Result) (command.Command, error) {
	switch result.Status {
	case status.PaymentNew:
		return nil, nil
	case status.PaymentConfirmed:
		return command.NewConfirmPaymentTransaction(meta, paymentID, result.ExternalReferenceID)
	case status.PaymentError:
		reason := result.Reason
		if reason == "" {
			reason = "gateway reported an error"
		}
		return command.NewSetPaymentTransactionError(meta, paymentID, reason)
	default:
		return command.NewUpdatePaymentStatus(meta, paymentID, result.Status, result.ExternalReferenceID)
	}
}
