// Package httpapi exposes the ledger request service as a JSON HTTP API.
//
// Write endpoints accept a request_id idempotency key. Top-ups and
// subscriptions answer 202 Accepted: the payment is charged asynchronously
// and its outcome is read back through the GET endpoints.
package httpapi
