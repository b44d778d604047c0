package status

import (
	"sort"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

// Machine is a transition table over a string-backed status type.
type Machine[S ~string] struct {
	name    string
	initial S
	edges   map[S]map[S]struct{}
	known   map[S]struct{}
}

// NewMachine builds a machine from an adjacency list. Every status named as a
// source or target becomes known to the machine.
func NewMachine[S ~string](name string, initial S, edges map[S][]S) Machine[S] {
	m := Machine[S]{
		name:    name,
		initial: initial,
		edges:   make(map[S]map[S]struct{}, len(edges)),
		known:   map[S]struct{}{initial: {}},
	}
	for from, targets := range edges {
		m.known[from] = struct{}{}
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
			m.known[to] = struct{}{}
		}
		m.edges[from] = set
	}
	return m
}

// Initial returns the status new aggregates start in.
func (m Machine[S]) Initial() S { return m.initial }

// Valid reports whether s appears in the table.
func (m Machine[S]) Valid(s S) bool {
	_, ok := m.known[s]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (m Machine[S]) Terminal(s S) bool {
	return len(m.edges[s]) == 0
}

// CanTransition reports whether the table has an edge from -> to.
func (m Machine[S]) CanTransition(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Transition returns to when the table allows the move.
func (m Machine[S]) Transition(from, to S) (S, error) {
	if !m.CanTransition(from, to) {
		return from, apperrors.IllegalTransition(m.name, string(from), string(to))
	}
	return to, nil
}

// Targets lists the statuses reachable from s in a stable order.
func (m Machine[S]) Targets(from S) []S {
	out := make([]S, 0, len(m.edges[from]))
	for to := range m.edges[from] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
