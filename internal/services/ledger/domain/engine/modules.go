package engine

import (
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/payment"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/subscription"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/wallet"
)

// LedgerModules returns the payment, wallet, subscription and transaction
// modules.
func LedgerModules() []Module {
	return []Module{
		TypedModule[payment.State]{
			AggregateKind: command.AggregatePayment,
			New:           payment.NewState,
			DecideFn:      payment.Decide,
			FoldFn:        payment.Fold,
		},
		TypedModule[wallet.State]{
			AggregateKind: command.AggregateWallet,
			New:           wallet.NewState,
			DecideFn:      wallet.Decide,
			FoldFn:        wallet.Fold,
		},
		TypedModule[subscription.State]{
			AggregateKind: command.AggregateSubscription,
			New:           subscription.NewState,
			DecideFn:      subscription.Decide,
			FoldFn:        subscription.Fold,
		},
		TypedModule[transaction.State]{
			AggregateKind: command.AggregateTransaction,
			New:           transaction.NewState,
			DecideFn:      transaction.Decide,
			FoldFn:        transaction.Fold,
		},
	}
}
