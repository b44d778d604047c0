// Package storage defines persistence contracts for the ledger write path.
//
// The engine depends on these interfaces only. One Save call commits an
// aggregate snapshot, its applied-command record and the events it emitted
// together, so no reader can observe one without the others.
package storage
