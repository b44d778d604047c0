package command

import (
	"strings"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/id"
)

// Type identifies the command variant.
type Type string

// Version tags the payload schema of a variant.
type Version string

// AggregateKind names the aggregate family a command targets.
type AggregateKind string

const (
	AggregatePayment      AggregateKind = "payment"
	AggregateWallet       AggregateKind = "wallet"
	AggregateSubscription AggregateKind = "subscription"
	AggregateTransaction  AggregateKind = "transaction"
)

const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// Command is implemented only by the variants in this package.
type Command interface {
	// ID is the idempotency key of the command.
	ID() string
	// CausationID is the event or request that produced the command.
	CausationID() string
	Type() Type
	Version() Version
	AggregateKind() AggregateKind
	AggregateID() string

	isCommand()
}

// Meta carries identity shared by every variant.
//
// When ID is empty and CausationID is set, the id is derived from the
// causation, the variant type and the target aggregate, so that the same
// causation always produces the same command. With neither set a random id is
// minted.
type Meta struct {
	ID          string
	CausationID string
}

type header struct {
	id          string
	causationID string
	typ         Type
	version     Version
	kind        AggregateKind
	aggregateID string
}

func (h header) ID() string                   { return h.id }
func (h header) CausationID() string          { return h.causationID }
func (h header) Type() Type                   { return h.typ }
func (h header) Version() Version             { return h.version }
func (h header) AggregateKind() AggregateKind { return h.kind }
func (h header) AggregateID() string          { return h.aggregateID }
func (header) isCommand()                     {}

func newHeader(meta Meta, typ Type, version Version, kind AggregateKind, aggregateID string) (header, error) {
	h := header{
		id:          strings.TrimSpace(meta.ID),
		causationID: strings.TrimSpace(meta.CausationID),
		typ:         typ,
		version:     version,
		kind:        kind,
		aggregateID: aggregateID,
	}
	switch {
	case h.id != "":
	case h.causationID != "":
		h.id = id.Derive(h.causationID, string(typ), string(kind), aggregateID)
	default:
		generated, err := id.NewID()
		if err != nil {
			return header{}, apperrors.Unavailable("generate command id", string(typ), err)
		}
		h.id = generated
	}
	return h, nil
}

func required(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperrors.Validation(field, "is required")
	}
	return value, nil
}

func optional(value string) string {
	return strings.TrimSpace(value)
}
