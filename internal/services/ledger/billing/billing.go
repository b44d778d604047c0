// Package billing finds subscriptions whose paid period has ended and asks
// for the next period to be charged.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/subscription"
)

// DefaultSchedule scans for due subscriptions every five minutes.
const DefaultSchedule = "*/5 * * * *"

var (
	// ErrListerRequired indicates a missing aggregate lister.
	ErrListerRequired = errors.New("subscription lister is required")
	// ErrPublisherRequired indicates a missing event publisher.
	ErrPublisherRequired = errors.New("event publisher is required")
	// ErrGatewayRequired indicates no gateway was configured for renewals.
	ErrGatewayRequired = errors.New("renewal gateway is required")
)

// Lister returns the current state of every aggregate of a kind.
type Lister interface {
	List(ctx context.Context, kind command.AggregateKind) ([]any, error)
}

// Publisher hands events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event) error
}

// Config controls the scheduler.
type Config struct {
	// Schedule is a five-field cron expression or a descriptor such as
	// "@every 1m".
	Schedule string
	// Gateway charges renewals.
	Gateway string
	Now     func() time.Time
	Logf    func(format string, args ...any)
}

// Scheduler publishes subscription.payment_due for due subscriptions.
type Scheduler struct {
	lister    Lister
	publisher Publisher
	gateway   string
	schedule  cron.Schedule
	spec      string
	now       func() time.Time
	logf      func(format string, args ...any)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates cfg and builds a Scheduler.
func New(lister Lister, publisher Publisher, cfg Config) (*Scheduler, error) {
	if lister == nil {
		return nil, ErrListerRequired
	}
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	gateway := strings.TrimSpace(cfg.Gateway)
	if gateway == "" {
		return nil, ErrGatewayRequired
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse billing schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		lister:    lister,
		publisher: publisher,
		gateway:   gateway,
		schedule:  schedule,
		spec:      spec,
		now:       cfg.Now,
		logf:      cfg.Logf,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logf == nil {
		s.logf = log.Printf
	}
	return s, nil
}

// Next returns the next scan time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// DueEventID identifies the payment_due for one period of a subscription.
// Rescanning an unpaid period yields the same id.
func DueEventID(subscriptionID string, periodEnd time.Time) string {
	return id.Derive("payment_due", subscriptionID, periodEnd.UTC().Format(time.RFC3339Nano))
}

// Tick publishes payment_due for every due subscription and returns how many
// were published.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	states, err := s.lister.List(ctx, command.AggregateSubscription)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	now := s.now().UTC()
	var due []event.Event
	for _, state := range states {
		sub, ok := state.(subscription.State)
		if !ok || !sub.Due(now) {
			continue
		}
		evt, err := event.NewStandalone(
			DueEventID(sub.SubscriptionID, sub.PeriodEnd),
			event.TypeSubscriptionPaymentDue,
			command.AggregateSubscription,
			sub.SubscriptionID,
			event.SubscriptionPaymentDue{
				SubscriptionID: sub.SubscriptionID,
				UserID:         sub.UserID,
				Amount:         sub.Amount,
				Currency:       sub.Currency,
				Gateway:        s.gateway,
				PeriodEnd:      sub.PeriodEnd,
			},
			now,
		)
		if err != nil {
			return 0, err
		}
		due = append(due, evt)
	}
	if len(due) == 0 {
		return 0, nil
	}
	if err := s.publisher.Publish(ctx, due...); err != nil {
		return 0, fmt.Errorf("publish payment due: %w", err)
	}
	return len(due), nil
}

// Run scans on the configured schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(s.spec, func() {
		n, err := s.Tick(ctx)
		if err != nil {
			s.logf("billing scan failed: %v", err)
			return
		}
		if n > 0 {
			s.logf("billing scan published %d payment due events", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule billing scan: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
