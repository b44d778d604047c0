// Package bus delivers committed ledger events to in-process subscribers.
//
// Publish only enqueues; a bounded pool of workers started by Run performs
// one delivery per (event, subscriber). A failing subscriber never affects
// another. Retryable failures are redelivered with exponential backoff until
// MaxAttempts, then dead-lettered; deterministic failures are recorded and
// dropped. Delivery is at least once, so subscribers must be idempotent.
package bus
