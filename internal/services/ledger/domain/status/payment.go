// Package status holds the lifecycle rules for payment, subscription and
// transaction statuses.
//
// Payment statuses are ranked: a payment may only move to a strictly higher
// rank, so stale or replayed provider updates can never roll it back.
// Subscription and transaction statuses follow explicit transition tables.
package status

import (
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

// PaymentStatus is the provider-facing lifecycle of a payment.
type PaymentStatus string

const (
	PaymentNew       PaymentStatus = "NEW"
	PaymentError     PaymentStatus = "ERROR"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentRejected  PaymentStatus = "REJECTED"
	PaymentAbandoned PaymentStatus = "ABANDONED"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

// ERROR and PENDING share a rank, as do CONFIRMED and EXPIRED: neither pair
// can replace the other.
var paymentRanks = map[PaymentStatus]int{
	PaymentNew:       0,
	PaymentError:     1,
	PaymentPending:   1,
	PaymentRejected:  3,
	PaymentAbandoned: 4,
	PaymentConfirmed: 5,
	PaymentExpired:   5,
}

const maxPaymentRank = 5

// ParsePaymentStatus validates an untrusted status string.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	s := PaymentStatus(value)
	if !s.Valid() {
		return "", apperrors.Validation("status", "unknown payment status "+value)
	}
	return s, nil
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentRanks[s]
	return ok
}

// Rank returns the ordering rank of s, or -1 when s is unknown.
func (s PaymentStatus) Rank() int {
	rank, ok := paymentRanks[s]
	if !ok {
		return -1
	}
	return rank
}

// Terminal reports whether no status ranks above s.
func (s PaymentStatus) Terminal() bool {
	return s.Rank() == maxPaymentRank
}

// CanTransition reports whether s may move to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.Rank() > s.Rank()
}

// TransitionPayment returns next when the move is allowed.
func TransitionPayment(current, next PaymentStatus) (PaymentStatus, error) {
	if !current.CanTransition(next) {
		return current, apperrors.IllegalTransition("payment", string(current), string(next))
	}
	return next, nil
}
