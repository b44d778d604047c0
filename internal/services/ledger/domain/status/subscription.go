package status

import apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"

// SubscriptionStatus is the lifecycle of a recurring subscription.
type SubscriptionStatus string

const (
	SubscriptionPending    SubscriptionStatus = "PENDING"
	SubscriptionActive     SubscriptionStatus = "ACTIVE"
	SubscriptionInactive   SubscriptionStatus = "INACTIVE"
	SubscriptionPaused     SubscriptionStatus = "PAUSED"
	SubscriptionPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionUnpaid     SubscriptionStatus = "UNPAID"
	SubscriptionCancelling SubscriptionStatus = "CANCELLING"
	SubscriptionCanceled   SubscriptionStatus = "CANCELED"
)

// Subscriptions is the subscription transition table. CANCELLING is entered
// only through a cancel request and left only by confirming it.
var Subscriptions = NewMachine("subscription", SubscriptionPending, map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionPending:    {SubscriptionActive, SubscriptionUnpaid, SubscriptionInactive, SubscriptionCancelling},
	SubscriptionActive:     {SubscriptionPaused, SubscriptionPastDue, SubscriptionInactive, SubscriptionCancelling},
	SubscriptionPaused:     {SubscriptionActive, SubscriptionInactive, SubscriptionCancelling},
	SubscriptionPastDue:    {SubscriptionActive, SubscriptionUnpaid, SubscriptionInactive, SubscriptionCancelling},
	SubscriptionUnpaid:     {SubscriptionActive, SubscriptionInactive, SubscriptionCancelling},
	SubscriptionInactive:   {SubscriptionActive, SubscriptionCancelling},
	SubscriptionCancelling: {SubscriptionCanceled},
})

// ParseSubscriptionStatus validates an untrusted status string.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(value)
	if !Subscriptions.Valid(s) {
		return "", apperrors.Validation("status", "unknown subscription status "+value)
	}
	return s, nil
}

// IsCancellation reports whether s is only reachable through cancel commands.
func (s SubscriptionStatus) IsCancellation() bool {
	return s == SubscriptionCancelling || s == SubscriptionCanceled
}
