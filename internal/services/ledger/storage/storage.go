package storage

import (
	"context"
	"time"

	"github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Snapshot is the persisted state of one aggregate. Version counts applied
// commands and starts at 1.
type Snapshot struct {
	Kind      command.AggregateKind
	ID        string
	Version   int64
	StateJSON []byte
	UpdatedAt time.Time
}

// AppliedCommand records one command applied to an aggregate, in codec text
// form.
type AppliedCommand struct {
	CommandID        string
	Type             command.Type
	Version          command.Version
	Kind             command.AggregateKind
	AggregateID      string
	CausationID      string
	Text             string
	AggregateVersion int64
	AppliedAt        time.Time
}

// Commit is one atomic write. ExpectedVersion is the snapshot version the
// change was decided against; zero means the aggregate did not exist.
type Commit struct {
	Snapshot        Snapshot
	ExpectedVersion int64
	Command         AppliedCommand
	Events          []event.Event
}

// AggregateStore persists aggregate snapshots.
type AggregateStore interface {
	// Load returns ErrNotFound when the aggregate has never been written.
	Load(ctx context.Context, kind command.AggregateKind, id string) (Snapshot, error)
	// Save fails with VERSION_CONFLICT when the snapshot moved since it was
	// loaded and with an already-applied error when the command id exists.
	Save(ctx context.Context, commit Commit) error
	ListAggregates(ctx context.Context, kind command.AggregateKind) ([]Snapshot, error)
}

// CommandStore answers idempotency and history questions.
type CommandStore interface {
	HasApplied(ctx context.Context, commandID string) (bool, error)
	ListAppliedCommands(ctx context.Context, kind command.AggregateKind, id string) ([]AppliedCommand, error)
}

// OutboxStore exposes events committed but not yet handed to the bus.
type OutboxStore interface {
	PendingEvents(ctx context.Context, committedBefore time.Time, limit int) ([]event.Event, error)
	MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error
}

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome string

const (
	DeliverySucceeded DeliveryOutcome = "succeeded"
	// DeliveryDuplicate means the handler's command had already been applied.
	DeliveryDuplicate  DeliveryOutcome = "duplicate"
	DeliveryRejected   DeliveryOutcome = "rejected"
	DeliveryRetry      DeliveryOutcome = "retry"
	DeliveryDeadLetter DeliveryOutcome = "dead_letter"
)

// DeliveryAttempt is one handler invocation for an event.
type DeliveryAttempt struct {
	EventID    string
	EventType  event.Type
	Subscriber string
	Attempt    int
	Outcome    DeliveryOutcome
	Error      string
	CreatedAt  time.Time
}

// DeliveryStore keeps the delivery audit trail.
type DeliveryStore interface {
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
	ListAttempts(ctx context.Context, eventID string) ([]DeliveryAttempt, error)
}

// Store is everything the ledger runtime persists.
type Store interface {
	AggregateStore
	CommandStore
	OutboxStore
	DeliveryStore
	Close() error
}
