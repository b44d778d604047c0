// Package event defines the facts emitted by accepted ledger commands.
//
// Events are immutable and carry enough of their aggregate's context
// (user, money, payment type, reference) that subscribers can react without
// reading the aggregate back. Event ids derive from the producing command id,
// so re-running a command can never mint a second, distinct fact.
package event
