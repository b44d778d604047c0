package command

import (
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

const (
	TypeCreatePaymentTransaction   Type = "payment.transaction.create"
	TypeSetPaymentTransactionError Type = "payment.transaction.set_error"
	TypeConfirmPaymentTransaction  Type = "payment.transaction.confirm"
	TypeUpdatePaymentStatus        Type = "payment.status.update"
)

// PaymentType says what a payment pays for and who reacts to it.
type PaymentType string

const (
	PaymentWalletTopUp  PaymentType = "wallet_topup"
	PaymentSubscription PaymentType = "subscription"
	PaymentPurchase     PaymentType = "purchase"
)

// ParsePaymentType validates an untrusted payment type.
func ParsePaymentType(value string) (PaymentType, error) {
	switch t := PaymentType(optional(value)); t {
	case PaymentWalletTopUp, PaymentSubscription, PaymentPurchase:
		return t, nil
	case "":
		return "", apperrors.Validation("payment_type", "is required")
	default:
		return "", apperrors.Validation("payment_type", "unknown payment type "+value)
	}
}

// CreatePaymentTransaction opens a payment with the provider.
type CreatePaymentTransaction struct {
	header
	money.Money
	userID      string
	status      status.PaymentStatus
	paymentType PaymentType
	gateway     string
	referenceID string
}

// NewCreatePaymentTransaction validates a payment creation. Wallet top-ups and
// subscription payments must name the aggregate they settle in referenceID.
func NewCreatePaymentTransaction(meta Meta, paymentID, userID string, initial status.PaymentStatus, amount money.Money, paymentType PaymentType, gateway, referenceID string) (CreatePaymentTransaction, error) {
	paymentID, err := required("payment_id", paymentID)
	if err != nil {
		return CreatePaymentTransaction{}, err
	}
	c := CreatePaymentTransaction{Money: amount, status: initial, paymentType: paymentType, referenceID: optional(referenceID)}
	if c.userID, err = required("user_id", userID); err != nil {
		return CreatePaymentTransaction{}, err
	}
	if !initial.Valid() {
		return CreatePaymentTransaction{}, apperrors.Validation("status", "unknown payment status "+string(initial))
	}
	if amount.IsZero() {
		return CreatePaymentTransaction{}, apperrors.Validation("amount", "is required")
	}
	if _, err := ParsePaymentType(string(paymentType)); err != nil {
		return CreatePaymentTransaction{}, err
	}
	if c.gateway, err = required("gateway", gateway); err != nil {
		return CreatePaymentTransaction{}, err
	}
	if c.referenceID == "" && paymentType != PaymentPurchase {
		return CreatePaymentTransaction{}, apperrors.Validation("reference_id", "is required for "+string(paymentType))
	}
	if c.header, err = newHeader(meta, TypeCreatePaymentTransaction, V1, AggregatePayment, paymentID); err != nil {
		return CreatePaymentTransaction{}, err
	}
	return c, nil
}

func (c CreatePaymentTransaction) PaymentID() string            { return c.aggregateID }
func (c CreatePaymentTransaction) UserID() string               { return c.userID }
func (c CreatePaymentTransaction) Status() status.PaymentStatus { return c.status }
func (c CreatePaymentTransaction) PaymentType() PaymentType     { return c.paymentType }
func (c CreatePaymentTransaction) Gateway() string              { return c.gateway }
func (c CreatePaymentTransaction) ReferenceID() string          { return c.referenceID }

// SetPaymentTransactionError records a provider failure for a payment.
type SetPaymentTransactionError struct {
	header
	reason string
}

// NewSetPaymentTransactionError validates an error report for transactionID,
// which is the payment id.
func NewSetPaymentTransactionError(meta Meta, transactionID, reason string) (SetPaymentTransactionError, error) {
	transactionID, err := required("transaction_id", transactionID)
	if err != nil {
		return SetPaymentTransactionError{}, err
	}
	c := SetPaymentTransactionError{}
	if c.reason, err = required("reason", reason); err != nil {
		return SetPaymentTransactionError{}, err
	}
	if c.header, err = newHeader(meta, TypeSetPaymentTransactionError, V1, AggregatePayment, transactionID); err != nil {
		return SetPaymentTransactionError{}, err
	}
	return c, nil
}

func (c SetPaymentTransactionError) TransactionID() string { return c.aggregateID }
func (c SetPaymentTransactionError) Reason() string        { return c.reason }

// ConfirmPaymentTransaction records provider confirmation of a payment.
type ConfirmPaymentTransaction struct {
	header
	externalReferenceID string
}

func NewConfirmPaymentTransaction(meta Meta, paymentID, externalReferenceID string) (ConfirmPaymentTransaction, error) {
	paymentID, err := required("payment_id", paymentID)
	if err != nil {
		return ConfirmPaymentTransaction{}, err
	}
	c := ConfirmPaymentTransaction{externalReferenceID: optional(externalReferenceID)}
	if c.header, err = newHeader(meta, TypeConfirmPaymentTransaction, V1, AggregatePayment, paymentID); err != nil {
		return ConfirmPaymentTransaction{}, err
	}
	return c, nil
}

func (c ConfirmPaymentTransaction) PaymentID() string           { return c.aggregateID }
func (c ConfirmPaymentTransaction) ExternalReferenceID() string { return c.externalReferenceID }

// UpdatePaymentStatus moves a payment to an arbitrary status, typically from a
// provider callback. The transition itself is checked by the payment aggregate.
type UpdatePaymentStatus struct {
	header
	status              status.PaymentStatus
	externalReferenceID string
}

func NewUpdatePaymentStatus(meta Meta, paymentID string, next status.PaymentStatus, externalReferenceID string) (UpdatePaymentStatus, error) {
	paymentID, err := required("payment_id", paymentID)
	if err != nil {
		return UpdatePaymentStatus{}, err
	}
	if !next.Valid() {
		return UpdatePaymentStatus{}, apperrors.Validation("status", "unknown payment status "+string(next))
	}
	c := UpdatePaymentStatus{status: next, externalReferenceID: optional(externalReferenceID)}
	if c.header, err = newHeader(meta, TypeUpdatePaymentStatus, V1, AggregatePayment, paymentID); err != nil {
		return UpdatePaymentStatus{}, err
	}
	return c, nil
}

func (c UpdatePaymentStatus) PaymentID() string            { return c.aggregateID }
func (c UpdatePaymentStatus) Status() status.PaymentStatus { return c.status }
func (c UpdatePaymentStatus) ExternalReferenceID() string  { return c.externalReferenceID }
