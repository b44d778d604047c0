package bus

import (
	"reflect"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
)

func TestPublishingRoundTrip(t *testing.T) {
	evt := event.Event{
		ID:            "evt-1",
		Type:          event.TypePaymentStatusUpdated,
		AggregateKind: command.AggregatePayment,
		AggregateID:   "pay-1",
		CommandID:     "cmd-1",
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PayloadJSON:   []byte(`{"payment_id":"pay-1"}`),
	}
	msg := ToPublishing(evt)
	if msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("delivery mode = %d, want persistent", msg.DeliveryMode)
	}

	got, err := FromDelivery(amqp.Delivery{
		MessageId: msg.MessageId,
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		Headers:   msg.Headers,
		Body:      msg.Body,
	})
	if err != nil {
		t.Fatalf("from delivery: %v", err)
	}
	if !reflect.DeepEqual(got, evt) {
		t.Fatalf("round trip = %+v, want %+v", got, evt)
	}
}

func TestFromDeliveryRequiresRouting(t *testing.T) {
	base := amqp.Delivery{
		MessageId: "evt-1",
		Type:      string(event.TypeWalletAssetAdded),
		Headers: amqp.Table{
			headerAggregateKind: string(command.AggregateWallet),
			headerAggregateID:   "user-1",
		},
	}
	if _, err := FromDelivery(base); err != nil {
		t.Fatalf("standalone delivery: %v", err)
	}

	noID := base
	noID.MessageId = ""
	if _, err := FromDelivery(noID); err == nil {
		t.Fatal("expected error for missing message id")
	}

	noKind := base
	noKind.Headers = amqp.Table{headerAggregateID: "user-1"}
	if _, err := FromDelivery(noKind); err == nil {
		t.Fatal("expected error for missing aggregate kind")
	}
}

func TestDialAMQPValidatesConfig(t *testing.T) {
	local := New(Config{})
	if _, err := DialAMQP(AMQPConfig{Exchange: "ledger"}, local); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := DialAMQP(AMQPConfig{URL: "amqp://localhost"}, local); err == nil {
		t.Fatal("expected error for missing exchange")
	}
	if _, err := DialAMQP(AMQPConfig{URL: "amqp://localhost", Exchange: "ledger"}, nil); err == nil {
		t.Fatal("expected error for missing local publisher")
	}
}
