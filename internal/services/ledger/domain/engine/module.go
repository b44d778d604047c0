package engine

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/event"
)

// Module is one aggregate family as seen by the engine.
type Module interface {
	Kind() command.AggregateKind
	NewState(aggregateID string) any
	Decide(state any, cmd command.Command, now time.Time) ([]event.Event, error)
	Fold(state any, evt event.Event) (any, error)
	MarshalState(state any) ([]byte, error)
	UnmarshalState(data []byte) (any, error)
}

// TypedModule adapts strongly-typed decide and fold functions to Module.
// State is persisted as JSON.
type TypedModule[S any] struct {
	AggregateKind command.AggregateKind
	New           func(aggregateID string) S
	DecideFn      func(S, command.Command, time.Time) ([]event.Event, error)
	FoldFn        func(S, event.Event) (S, error)
}

func (m TypedModule[S]) Kind() command.AggregateKind { return m.AggregateKind }

func (m TypedModule[S]) NewState(aggregateID string) any {
	return m.New(aggregateID)
}

func (m TypedModule[S]) Decide(state any, cmd command.Command, now time.Time) ([]event.Event, error) {
	s, err := m.assert(state)
	if err != nil {
		return nil, err
	}
	return m.DecideFn(s, cmd, now)
}

func (m TypedModule[S]) Fold(state any, evt event.Event) (any, error) {
	s, err := m.assert(state)
	if err != nil {
		return nil, err
	}
	return m.FoldFn(s, evt)
}

func (m TypedModule[S]) MarshalState(state any) ([]byte, error) {
	s, err := m.assert(state)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, apperrors.Serialization(string(m.AggregateKind)+" state", err)
	}
	return data, nil
}

func (m TypedModule[S]) UnmarshalState(data []byte) (any, error) {
	var s S
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apperrors.Serialization(string(m.AggregateKind)+" state", err)
	}
	return s, nil
}

func (m TypedModule[S]) assert(state any) (S, error) {
	s, ok := state.(S)
	if !ok {
		var zero S
		return zero, fmt.Errorf("%s module: unexpected state %T", m.AggregateKind, state)
	}
	return s, nil
}
