package reactor

import (
	"context"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

// WalletCredit credits the wallet of a confirmed top-up payment. The credit
// references the top-up transaction, so the wallet refuses a second credit
// for it even under a different command id.
type WalletCredit struct {
	engine Executor
}

func (h *WalletCredit) HandlePaymentStatus(ctx context.Context, evt event.Event) error {
	updated, err := event.Decode[event.PaymentStatusUpdated](evt)
	if err != nil {
		return err
	}
	if updated.PaymentType != command.PaymentWalletTopUp || updated.To != status.PaymentConfirmed {
		return nil
	}
	amount, err := money.New(updated.Amount, updated.Currency)
	if err != nil {
		return err
	}
	reference := updated.ReferenceID
	if reference == "" {
		reference = updated.PaymentID
	}
	cmd, err := command.NewAddWalletAsset(causedBy(evt), updated.UserID, amount, reference)
	if err != nil {
		return err
	}
	_, err = h.engine.Execute(ctx, cmd)
	return err
}
