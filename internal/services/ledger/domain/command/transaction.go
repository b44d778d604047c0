package command

import (
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

const (
	TypeCreateTransaction          Type = "transaction.create"
	TypeUpdateTransactionSubstatus Type = "transaction.substatus.update"
)

// CreateTransaction opens a payment-backed transaction awaiting the gateway.
type CreateTransaction struct {
	header
	money.Money
	userID    string
	paymentID string
}

func NewCreateTransaction(meta Meta, transactionID, userID, paymentID string, amount money.Money) (CreateTransaction, error) {
	transactionID, err := required("transaction_id", transactionID)
	if err != nil {
		return CreateTransaction{}, err
	}
	c := CreateTransaction{Money: amount}
	if c.userID, err = required("user_id", userID); err != nil {
		return CreateTransaction{}, err
	}
	if c.paymentID, err = required("payment_id", paymentID); err != nil {
		return CreateTransaction{}, err
	}
	if amount.IsZero() {
		return CreateTransaction{}, apperrors.Validation("amount", "is required")
	}
	if c.header, err = newHeader(meta, TypeCreateTransaction, V1, AggregateTransaction, transactionID); err != nil {
		return CreateTransaction{}, err
	}
	return c, nil
}

func (c CreateTransaction) TransactionID() string { return c.aggregateID }
func (c CreateTransaction) UserID() string        { return c.userID }
func (c CreateTransaction) PaymentID() string     { return c.paymentID }

// UpdateTransactionSubstatus moves a transaction along its substatus table.
type UpdateTransactionSubstatus struct {
	header
	substatus status.TransactionSubstatus
}

func NewUpdateTransactionSubstatus(meta Meta, transactionID string, next status.TransactionSubstatus) (UpdateTransactionSubstatus, error) {
	transactionID, err := required("transaction_id", transactionID)
	if err != nil {
		return UpdateTransactionSubstatus{}, err
	}
	if _, err := status.ParseTransactionSubstatus(string(next)); err != nil {
		return UpdateTransactionSubstatus{}, err
	}
	c := UpdateTransactionSubstatus{substatus: next}
	if c.header, err = newHeader(meta, TypeUpdateTransactionSubstatus, V1, AggregateTransaction, transactionID); err != nil {
		return UpdateTransactionSubstatus{}, err
	}
	return c, nil
}

func (c UpdateTransactionSubstatus) TransactionID() string                  { return c.aggregateID }
func (c UpdateTransactionSubstatus) Substatus() status.TransactionSubstatus { return c.substatus }
