package command

import (
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

const (
	TypeCreateSubscription              Type = "subscription.create"
	TypeUpdateSubscriptionStatus        Type = "subscription.status.update"
	TypeCancelSubscription              Type = "subscription.cancel"
	TypeConfirmSubscriptionCancellation Type = "subscription.cancel.confirm"
	TypeRenewSubscription               Type = "subscription.renew"
)

// CreateSubscription opens a PENDING subscription to a plan.
type CreateSubscription struct {
	header
	money.Money
	userID string
	planID string
}

func NewCreateSubscription(meta Meta, subscriptionID, userID, planID string, price money.Money) (CreateSubscription, error) {
	subscriptionID, err := required("subscription_id", subscriptionID)
	if err != nil {
		return CreateSubscription{}, err
	}
	c := CreateSubscription{Money: price}
	if c.userID, err = required("user_id", userID); err != nil {
		return CreateSubscription{}, err
	}
	if c.planID, err = required("plan_id", planID); err != nil {
		return CreateSubscription{}, err
	}
	if price.IsZero() {
		return CreateSubscription{}, apperrors.Validation("amount", "is required")
	}
	if c.header, err = newHeader(meta, TypeCreateSubscription, V1, AggregateSubscription, subscriptionID); err != nil {
		return CreateSubscription{}, err
	}
	return c, nil
}

func (c CreateSubscription) SubscriptionID() string { return c.aggregateID }
func (c CreateSubscription) UserID() string         { return c.userID }
func (c CreateSubscription) PlanID() string         { return c.planID }

// UpdateSubscriptionStatus moves a subscription along its lifecycle. The
// cancellation statuses have dedicated commands and are refused here.
type UpdateSubscriptionStatus struct {
	header
	status status.SubscriptionStatus
}

func NewUpdateSubscriptionStatus(meta Meta, subscriptionID string, next status.SubscriptionStatus) (UpdateSubscriptionStatus, error) {
	subscriptionID, err := required("subscription_id", subscriptionID)
	if err != nil {
		return UpdateSubscriptionStatus{}, err
	}
	if _, err := status.ParseSubscriptionStatus(string(next)); err != nil {
		return UpdateSubscriptionStatus{}, err
	}
	if next.IsCancellation() {
		return UpdateSubscriptionStatus{}, apperrors.Validation("status", string(next)+" is set by cancellation commands")
	}
	c := UpdateSubscriptionStatus{status: next}
	if c.header, err = newHeader(meta, TypeUpdateSubscriptionStatus, V1, AggregateSubscription, subscriptionID); err != nil {
		return UpdateSubscriptionStatus{}, err
	}
	return c, nil
}

func (c UpdateSubscriptionStatus) SubscriptionID() string            { return c.aggregateID }
func (c UpdateSubscriptionStatus) Status() status.SubscriptionStatus { return c.status }

// CancelSubscription asks for a subscription to be cancelled.
type CancelSubscription struct {
	header
}

func NewCancelSubscription(meta Meta, subscriptionID string) (CancelSubscription, error) {
	subscriptionID, err := required("subscription_id", subscriptionID)
	if err != nil {
		return CancelSubscription{}, err
	}
	h, err := newHeader(meta, TypeCancelSubscription, V1, AggregateSubscription, subscriptionID)
	if err != nil {
		return CancelSubscription{}, err
	}
	return CancelSubscription{header: h}, nil
}

func (c CancelSubscription) SubscriptionID() string { return c.aggregateID }

// ConfirmSubscriptionCancellation records that the provider has cancelled.
type ConfirmSubscriptionCancellation struct {
	header
}

func NewConfirmSubscriptionCancellation(meta Meta, subscriptionID string) (ConfirmSubscriptionCancellation, error) {
	subscriptionID, err := required("subscription_id", subscriptionID)
	if err != nil {
		return ConfirmSubscriptionCancellation{}, err
	}
	h, err := newHeader(meta, TypeConfirmSubscriptionCancellation, V1, AggregateSubscription, subscriptionID)
	if err != nil {
		return ConfirmSubscriptionCancellation{}, err
	}
	return ConfirmSubscriptionCancellation{header: h}, nil
}

func (c ConfirmSubscriptionCancellation) SubscriptionID() string { return c.aggregateID }

// RenewSubscription applies a confirmed payment to a subscription, extending
// its billing period.
type RenewSubscription struct {
	header
	paymentID string
}

func NewRenewSubscription(meta Meta, subscriptionID, paymentID string) (RenewSubscription, error) {
	subscriptionID, err := required("subscription_id", subscriptionID)
	if err != nil {
		return RenewSubscription{}, err
	}
	c := RenewSubscription{}
	if c.paymentID, err = required("payment_id", paymentID); err != nil {
		return RenewSubscription{}, err
	}
	if c.header, err = newHeader(meta, TypeRenewSubscription, V1, AggregateSubscription, subscriptionID); err != nil {
		return RenewSubscription{}, err
	}
	return c, nil
}

func (c RenewSubscription) SubscriptionID() string { return c.aggregateID }
func (c RenewSubscription) PaymentID() string      { return c.paymentID }
