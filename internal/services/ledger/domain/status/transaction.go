package status

import apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"

// TransactionSubstatus tracks a payment-backed transaction.
type TransactionSubstatus string

const (
	TransactionAwaitsPayment   TransactionSubstatus = "AWAITS_PAYMENT"
	TransactionPaymentReceived TransactionSubstatus = "PAYMENT_RECEIVED"
	TransactionPaymentError    TransactionSubstatus = "PAYMENT_ERROR"
	TransactionPaymentRejected TransactionSubstatus = "PAYMENT_REJECTED"
	TransactionDone            TransactionSubstatus = "DONE"
)

// Transactions mirrors payment ranking: an errored payment may still be
// received or rejected, and every outcome closes in DONE.
var Transactions = NewMachine("transaction", TransactionAwaitsPayment, map[TransactionSubstatus][]TransactionSubstatus{
	TransactionAwaitsPayment:   {TransactionPaymentReceived, TransactionPaymentError, TransactionPaymentRejected},
	TransactionPaymentError:    {TransactionPaymentReceived, TransactionPaymentRejected, TransactionDone},
	TransactionPaymentReceived: {TransactionDone},
	TransactionPaymentRejected: {TransactionDone},
})

// ParseTransactionSubstatus validates an untrusted substatus string.
func ParseTransactionSubstatus(value string) (TransactionSubstatus, error) {
	s := TransactionSubstatus(value)
	if !Transactions.Valid(s) {
		return "", apperrors.Validation("substatus", "unknown transaction substatus "+value)
	}
	return s, nil
}
