package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	sqlitemigrate "github.com/louisbranch/ledger.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage"
	"github.com/louisbranch/ledger.space/internal/services/ledger/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements storage.Store over SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a ledger SQLite store and applies bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite has one writer; a single connection turns writer contention into
	// queueing instead of SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// Load returns the snapshot of one aggregate.
func (s *Store) Load(ctx context.Context, kind command.AggregateKind, id string) (storage.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Snapshot{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT kind, id, version, state_json, updated_at
FROM aggregates
WHERE kind = ? AND id = ?
`, string(kind), id)
	snap, err := scanSnapshot(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, apperrors.Unavailable("load aggregate", string(kind)+"/"+id, err)
	}
	return snap, nil
}

// ListAggregates returns every snapshot of kind ordered by id.
func (s *Store) ListAggregates(ctx context.Context, kind command.AggregateKind) ([]storage.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT kind, id, version, state_json, updated_at
FROM aggregates
WHERE kind = ?
ORDER BY id ASC
`, string(kind))
	if err != nil {
		return nil, apperrors.Unavailable("list aggregates", string(kind), err)
	}
	defer rows.Close()

	var out []storage.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, apperrors.Unavailable("scan aggregate", string(kind), err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Unavailable("iterate aggregates", string(kind), err)
	}
	return out, nil
}

func scanSnapshot(scan func(dest ...any) error) (storage.Snapshot, error) {
	var (
		snap      storage.Snapshot
		kind      string
		updatedAt int64
	)
	if err := scan(&kind, &snap.ID, &snap.Version, &snap.StateJSON, &updatedAt); err != nil {
		return storage.Snapshot{}, err
	}
	snap.Kind = command.AggregateKind(kind)
	snap.UpdatedAt = fromMillis(updatedAt)
	return snap, nil
}

// Save commits the snapshot, the applied-command record and the emitted
// events in one transaction.
func (s *Store) Save(ctx context.Context, commit storage.Commit) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	snap := commit.Snapshot
	key := string(snap.Kind) + "/" + snap.ID
	if snap.Version != commit.ExpectedVersion+1 {
		return fmt.Errorf("snapshot version %d does not follow %d", snap.Version, commit.ExpectedVersion)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Unavailable("begin commit", key, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := writeSnapshot(ctx, tx, snap, commit.ExpectedVersion); err != nil {
		return err
	}

	applied := commit.Command
	if _, err := tx.ExecContext(ctx, `
INSERT INTO applied_commands (
	command_id, command_type, command_version, aggregate_kind, aggregate_id,
	causation_id, command_text, aggregate_version, applied_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		applied.CommandID,
		string(applied.Type),
		string(applied.Version),
		string(snap.Kind),
		snap.ID,
		applied.CausationID,
		applied.Text,
		snap.Version,
		toMillis(applied.AppliedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyApplied(string(snap.Kind), applied.CommandID)
		}
		return apperrors.Unavailable("record command", applied.CommandID, err)
	}

	for _, evt := range commit.Events {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO event_outbox (
	event_id, event_type, aggregate_kind, aggregate_id, command_id, payload_json, occurred_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
			evt.ID,
			string(evt.Type),
			string(evt.AggregateKind),
			evt.AggregateID,
			evt.CommandID,
			evt.PayloadJSON,
			toMillis(evt.OccurredAt),
		); err != nil {
			return apperrors.Unavailable("enqueue event", evt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Unavailable("commit", key, err)
	}
	return nil
}

func writeSnapshot(ctx context.Context, tx *sql.Tx, snap storage.Snapshot, expected int64) error {
	key := string(snap.Kind) + "/" + snap.ID
	if expected == 0 {
		_, err := tx.ExecContext(ctx, `
INSERT INTO aggregates (kind, id, version, state_json, updated_at)
VALUES (?, ?, ?, ?, ?)
`, string(snap.Kind), snap.ID, snap.Version, snap.StateJSON, toMillis(snap.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return versionConflict(key, expected)
			}
			return apperrors.Unavailable("insert aggregate", key, err)
		}
		return nil
	}
	res, err := tx.ExecContext(ctx, `
UPDATE aggregates
SET version = ?, state_json = ?, updated_at = ?
WHERE kind = ? AND id = ? AND version = ?
`, snap.Version, snap.StateJSON, toMillis(snap.UpdatedAt), string(snap.Kind), snap.ID, expected)
	if err != nil {
		return apperrors.Unavailable("update aggregate", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Unavailable("update aggregate", key, err)
	}
	if affected == 0 {
		return versionConflict(key, expected)
	}
	return nil
}

func versionConflict(key string, expected int64) error {
	return apperrors.WithMetadata(apperrors.CodeVersionConflict,
		fmt.Sprintf("aggregate %s moved past version %d", key, expected),
		map[string]string{apperrors.MetaKey: key},
	)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// HasApplied reports whether commandID has been recorded.
func (s *Store) HasApplied(ctx context.Context, commandID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM applied_commands WHERE command_id = ?`, commandID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Unavailable("check applied", commandID, err)
	}
	return true, nil
}

// ListAppliedCommands returns the history of one aggregate, oldest first.
func (s *Store) ListAppliedCommands(ctx context.Context, kind command.AggregateKind, id string) ([]storage.AppliedCommand, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT command_id, command_type, command_version, aggregate_kind, aggregate_id,
	causation_id, command_text, aggregate_version, applied_at
FROM applied_commands
WHERE aggregate_kind = ? AND aggregate_id = ?
ORDER BY aggregate_version ASC
`, string(kind), id)
	if err != nil {
		return nil, apperrors.Unavailable("list applied commands", string(kind)+"/"+id, err)
	}
	defer rows.Close()

	var out []storage.AppliedCommand
	for rows.Next() {
		var (
			rec                         storage.AppliedCommand
			typ, version, aggregateKind string
			appliedAt                   int64
		)
		if err := rows.Scan(&rec.CommandID, &typ, &version, &aggregateKind, &rec.AggregateID,
			&rec.CausationID, &rec.Text, &rec.AggregateVersion, &appliedAt); err != nil {
			return nil, apperrors.Unavailable("scan applied command", string(kind)+"/"+id, err)
		}
		rec.Type = command.Type(typ)
		rec.Version = command.Version(version)
		rec.Kind = command.AggregateKind(aggregateKind)
		rec.AppliedAt = fromMillis(appliedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Unavailable("iterate applied commands", string(kind)+"/"+id, err)
	}
	return out, nil
}

// PendingEvents returns unpublished events that occurred before the cutoff,
// oldest first.
func (s *Store) PendingEvents(ctx context.Context, committedBefore time.Time, limit int) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_id, event_type, aggregate_kind, aggregate_id, command_id, payload_json, occurred_at
FROM event_outbox
WHERE published_at IS NULL AND occurred_at <= ?
ORDER BY occurred_at ASC, event_id ASC
LIMIT ?
`, toMillis(committedBefore), limit)
	if err != nil {
		return nil, apperrors.Unavailable("list pending events", "event_outbox", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			evt        event.Event
			typ, kind  string
			occurredAt int64
		)
		if err := rows.Scan(&evt.ID, &typ, &kind, &evt.AggregateID, &evt.CommandID, &evt.PayloadJSON, &occurredAt); err != nil {
			return nil, apperrors.Unavailable("scan pending event", "event_outbox", err)
		}
		evt.Type = event.Type(typ)
		evt.AggregateKind = command.AggregateKind(kind)
		evt.OccurredAt = fromMillis(occurredAt)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Unavailable("iterate pending events", "event_outbox", err)
	}
	return out, nil
}

// MarkPublished stamps events as handed to the bus. Unknown ids are ignored.
func (s *Store) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Unavailable("begin mark published", "event_outbox", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, id := range eventIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE event_outbox SET published_at = ? WHERE event_id = ? AND published_at IS NULL`,
			toMillis(at), id,
		); err != nil {
			return apperrors.Unavailable("mark published", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Unavailable("commit mark published", "event_outbox", err)
	}
	return nil
}

// RecordAttempt appends one row to the delivery audit trail.
func (s *Store) RecordAttempt(ctx context.Context, attempt storage.DeliveryAttempt) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO delivery_attempts (event_id, event_type, subscriber, attempt, outcome, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		attempt.EventID,
		string(attempt.EventType),
		attempt.Subscriber,
		attempt.Attempt,
		string(attempt.Outcome),
		attempt.Error,
		toMillis(attempt.CreatedAt),
	); err != nil {
		return apperrors.Unavailable("record delivery attempt", attempt.EventID, err)
	}
	return nil
}

// ListAttempts returns the delivery attempts of one event in insertion order.
func (s *Store) ListAttempts(ctx context.Context, eventID string) ([]storage.DeliveryAttempt, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_id, event_type, subscriber, attempt, outcome, error, created_at
FROM delivery_attempts
WHERE event_id = ?
ORDER BY id ASC
`, eventID)
	if err != nil {
		return nil, apperrors.Unavailable("list delivery attempts", eventID, err)
	}
	defer rows.Close()

	var out []storage.DeliveryAttempt
	for rows.Next() {
		var (
			a            storage.DeliveryAttempt
			typ, outcome string
			createdAt    int64
		)
		if err := rows.Scan(&a.EventID, &typ, &a.Subscriber, &a.Attempt, &outcome, &a.Error, &createdAt); err != nil {
			return nil, apperrors.Unavailable("scan delivery attempt", eventID, err)
		}
		a.EventType = event.Type(typ)
		a.Outcome = storage.DeliveryOutcome(outcome)
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Unavailable("iterate delivery attempts", eventID, err)
	}
	return out, nil
}
