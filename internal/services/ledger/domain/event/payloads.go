package event

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

// PaymentTransactionCreated is emitted when a payment is opened.
type PaymentTransactionCreated struct {
	PaymentID   string               `json:"payment_id"`
	UserID      string               `json:"user_id"`
	Status      status.PaymentStatus `json:"status"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	PaymentType command.PaymentType  `json:"payment_type"`
	Gateway     string               `json:"gateway"`
	ReferenceID string               `json:"reference_id,omitempty"`
}

// PaymentStatusUpdated is emitted for every accepted payment status change,
// whichever command caused it.
type PaymentStatusUpdated struct {
	PaymentID           string               `json:"payment_id"`
	UserID              string               `json:"user_id"`
	From                status.PaymentStatus `json:"from"`
	To                  status.PaymentStatus `json:"to"`
	Amount              decimal.Decimal      `json:"amount"`
	Currency            string               `json:"currency"`
	PaymentType         command.PaymentType  `json:"payment_type"`
	ReferenceID         string               `json:"reference_id,omitempty"`
	ExternalReferenceID string               `json:"external_reference_id,omitempty"`
	Reason              string               `json:"reason,omitempty"`
}

// WalletAssetChanged is the payload of both wallet events. Balance is the
// currency balance after the change.
type WalletAssetChanged struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ReferenceID string          `json:"reference_id"`
	Balance     decimal.Decimal `json:"balance"`
}

type SubscriptionCreated struct {
	SubscriptionID string                    `json:"subscription_id"`
	UserID         string                    `json:"user_id"`
	PlanID         string                    `json:"plan_id"`
	Amount         decimal.Decimal           `json:"amount"`
	Currency       string                    `json:"currency"`
	Status         status.SubscriptionStatus `json:"status"`
}

type SubscriptionStatusUpdated struct {
	SubscriptionID string                    `json:"subscription_id"`
	UserID         string                    `json:"user_id"`
	From           status.SubscriptionStatus `json:"from"`
	To             status.SubscriptionStatus `json:"to"`
}

// SubscriptionRenewed records a paid period. From and To are equal when an
// ACTIVE subscription renews.
type SubscriptionRenewed struct {
	SubscriptionID string                    `json:"subscription_id"`
	UserID         string                    `json:"user_id"`
	PaymentID      string                    `json:"payment_id"`
	From           status.SubscriptionStatus `json:"from"`
	To             status.SubscriptionStatus `json:"to"`
	PeriodEnd      time.Time                 `json:"period_end"`
}

// SubscriptionPaymentDue asks for the next period of a subscription to be
// charged.
type SubscriptionPaymentDue struct {
	SubscriptionID string          `json:"subscription_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Gateway        string          `json:"gateway"`
	PeriodEnd      time.Time       `json:"period_end"`
}

type TransactionCreated struct {
	TransactionID string                      `json:"transaction_id"`
	UserID        string                      `json:"user_id"`
	PaymentID     string                      `json:"payment_id"`
	Amount        decimal.Decimal             `json:"amount"`
	Currency      string                      `json:"currency"`
	Substatus     status.TransactionSubstatus `json:"substatus"`
}

type TransactionSubstatusUpdated struct {
	TransactionID string                      `json:"transaction_id"`
	UserID        string                      `json:"user_id"`
	PaymentID     string                      `json:"payment_id"`
	From          status.TransactionSubstatus `json:"from"`
	To            status.TransactionSubstatus `json:"to"`
}
