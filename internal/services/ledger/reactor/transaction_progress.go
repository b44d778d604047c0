package reactor

import (
	"context"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/transaction"
)

// TransactionProgress moves wallet top-up transactions along with their
// payment. A transaction is only marked received once the wallet credit has
// been committed.
type TransactionProgress struct {
	engine Executor
}

// HandlePaymentStatus records payment failures on the transaction the
// payment references.
func (h *TransactionProgress) HandlePaymentStatus(ctx context.Context, evt event.Event) error {
	updated, err := event.Decode[event.PaymentStatusUpdated](evt)
	if err != nil {
		return err
	}
	if updated.PaymentType != command.PaymentWalletTopUp || updated.ReferenceID == "" {
		return nil
	}
	switch updated.To {
	case status.PaymentError:
		return h.advance(ctx, evt, updated.ReferenceID, status.TransactionPaymentError)
	case status.PaymentRejected, status.PaymentAbandoned, status.PaymentExpired:
		return h.advance(ctx, evt, updated.ReferenceID, status.TransactionPaymentRejected, status.TransactionDone)
	}
	return nil
}

// HandleWalletCredited closes the transaction a wallet credit was made for.
// Credits that reference no transaction are ignored.
func (h *TransactionProgress) HandleWalletCredited(ctx context.Context, evt event.Event) error {
	credited, err := event.Decode[event.WalletAssetChanged](evt)
	if err != nil {
		return err
	}
	if credited.ReferenceID == "" {
		return nil
	}
	tx, err := loadAs[transaction.State](ctx, h.engine, command.AggregateTransaction, credited.ReferenceID)
	if err != nil {
		return err
	}
	if !tx.Created || tx.Substatus == status.TransactionDone {
		return nil
	}
	steps := []status.TransactionSubstatus{status.TransactionPaymentReceived, status.TransactionDone}
	if tx.Substatus == status.TransactionPaymentReceived {
		steps = steps[1:]
	}
	return h.advance(ctx, evt, credited.ReferenceID, steps...)
}

// advance applies each step in order. Steps already applied for evt are
// skipped so a redelivery finishes what a failed one started.
func (h *TransactionProgress) advance(ctx context.Context, evt event.Event, transactionID string, steps ...status.TransactionSubstatus) error {
	for _, next := range steps {
		meta := command.Meta{CausationID: evt.ID + "/" + string(next)}
		cmd, err := command.NewUpdateTransactionSubstatus(meta, transactionID, next)
		if err != nil {
			return err
		}
		if _, err := h.engine.Execute(ctx, cmd); ignoreDuplicate(err) != nil {
			return err
		}
	}
	return nil
}
