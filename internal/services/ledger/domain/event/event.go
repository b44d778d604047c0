package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
)

// Type identifies the event type string.
type Type string

const (
	TypePaymentTransactionCreated Type = "payment.transaction_created"
	TypePaymentStatusUpdated      Type = "payment.status_updated"

	TypeWalletAssetAdded      Type = "wallet.asset_added"
	TypeWalletAssetSubtracted Type = "wallet.asset_subtracted"

	TypeSubscriptionCreated       Type = "subscription.created"
	TypeSubscriptionStatusUpdated Type = "subscription.status_updated"
	TypeSubscriptionRenewed       Type = "subscription.renewed"
	TypeSubscriptionPaymentDue    Type = "subscription.payment_due"

	TypeTransactionCreated          Type = "transaction.created"
	TypeTransactionSubstatusUpdated Type = "transaction.substatus_updated"
)

// Event is one emitted fact.
type Event struct {
	ID            string
	Type          Type
	AggregateKind command.AggregateKind
	AggregateID   string
	// CommandID is empty for events not produced by a command, such as
	// billing reminders.
	CommandID   string
	OccurredAt  time.Time
	PayloadJSON []byte
}

// New builds the index-th event emitted by cmd.
func New(cmd command.Command, index int, eventType Type, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, apperrors.Serialization(string(eventType), err)
	}
	return Event{
		ID:            id.Derive(cmd.ID(), "event", strconv.Itoa(index)),
		Type:          eventType,
		AggregateKind: cmd.AggregateKind(),
		AggregateID:   cmd.AggregateID(),
		CommandID:     cmd.ID(),
		OccurredAt:    now.UTC(),
		PayloadJSON:   data,
	}, nil
}

// Decode unmarshals the payload of evt into P.
func Decode[P any](evt Event) (P, error) {
	var payload P
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return payload, apperrors.Serialization(string(evt.Type), fmt.Errorf("decode event %s: %w", evt.ID, err))
	}
	return payload, nil
}

// NewStandalone builds an event that no command produced. Callers supply a
// stable id so that re-publishing the same fact is recognisable downstream.
func NewStandalone(eventID string, eventType Type, kind command.AggregateKind, aggregateID string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, apperrors.Serialization(string(eventType), err)
	}
	return Event{
		ID:            eventID,
		Type:          eventType,
		AggregateKind: kind,
		AggregateID:   aggregateID,
		OccurredAt:    now.UTC(),
		PayloadJSON:   data,
	}, nil
}
