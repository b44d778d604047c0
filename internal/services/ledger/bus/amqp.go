package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
)

const (
	headerAggregateKind = "aggregate_kind"
	headerAggregateID   = "aggregate_id"
	headerCommandID     = "command_id"

	defaultRoutingKey = "#"
)

// AMQPConfig names the broker topology used to fan events out across
// processes.
type AMQPConfig struct {
	URL         string
	Exchange    string
	Queue       string
	RoutingKeys []string
}

// AMQPRelay publishes committed events to a topic exchange, routed by event
// type, and feeds deliveries from its queue back into a local publisher.
type AMQPRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	local    engine.Publisher
	logf     func(format string, args ...any)
}

// DialAMQP connects, declares the exchange and binds the queue.
func DialAMQP(cfg AMQPConfig, local engine.Publisher) (*AMQPRelay, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("amqp exchange is required")
	}
	if local == nil {
		return nil, errors.New("local publisher is required")
	}
	keys := cfg.RoutingKeys
	if len(keys) == 0 {
		keys = []string{defaultRoutingKey}
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, cfg.Exchange, false, nil); err != nil {
			closeAll()
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return &AMQPRelay{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		queue:    q.Name,
		local:    local,
		logf:     log.Printf,
	}, nil
}

// Publish sends each event to the exchange with its type as routing key.
func (r *AMQPRelay) Publish(ctx context.Context, events ...event.Event) error {
	for _, evt := range events {
		msg := ToPublishing(evt)
		if err := r.ch.PublishWithContext(ctx, r.exchange, string(evt.Type), false, false, msg); err != nil {
			return fmt.Errorf("publish event %s: %w", evt.ID, err)
		}
	}
	return nil
}

// Run consumes the bound queue until ctx is cancelled. Malformed messages
// are dropped; messages the local publisher refuses are requeued.
func (r *AMQPRelay) Run(ctx context.Context) error {
	deliveries, err := r.ch.ConsumeWithContext(ctx, r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp delivery channel closed")
			}
			r.handle(ctx, d)
		}
	}
}

func (r *AMQPRelay) handle(ctx context.Context, d amqp.Delivery) {
	evt, err := FromDelivery(d)
	if err != nil {
		r.logf("drop amqp message %s: %v", d.MessageId, err)
		_ = d.Nack(false, false)
		return
	}
	if err := r.local.Publish(ctx, evt); err != nil {
		r.logf("requeue event %s: %v", evt.ID, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close releases the channel and connection.
func (r *AMQPRelay) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// ToPublishing maps an event onto an AMQP message.
func ToPublishing(evt event.Event) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         string(evt.Type),
		Timestamp:    evt.OccurredAt,
		Headers: amqp.Table{
			headerAggregateKind: string(evt.AggregateKind),
			headerAggregateID:   evt.AggregateID,
			headerCommandID:     evt.CommandID,
		},
		Body: evt.PayloadJSON,
	}
}

// FromDelivery is the inverse of ToPublishing.
func FromDelivery(d amqp.Delivery) (event.Event, error) {
	if d.MessageId == "" {
		return event.Event{}, errors.New("message id is required")
	}
	if d.Type == "" {
		return event.Event{}, errors.New("message type is required")
	}
	kind, err := headerString(d.Headers, headerAggregateKind)
	if err != nil {
		return event.Event{}, err
	}
	aggregateID, err := headerString(d.Headers, headerAggregateID)
	if err != nil {
		return event.Event{}, err
	}
	commandID, _ := d.Headers[headerCommandID].(string)
	return event.Event{
		ID:            d.MessageId,
		Type:          event.Type(d.Type),
		AggregateKind: command.AggregateKind(kind),
		AggregateID:   aggregateID,
		CommandID:     commandID,
		OccurredAt:    d.Timestamp.UTC(),
		PayloadJSON:   d.Body,
	}, nil
}

func headerString(headers amqp.Table, name string) (string, error) {
	value, ok := headers[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("header %s is required", name)
	}
	return value, nil
}
