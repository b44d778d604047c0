// Package engine executes ledger commands.
//
// Execute serializes work per aggregate through the resource mutex, refuses
// commands whose id was already applied, lets the aggregate module decide
// and fold, and commits the new snapshot, the applied-command record and the
// emitted events in one store write. Events are handed to the publisher only
// after that write commits; anything the publisher misses stays in the
// outbox for RepublishPending.
package engine
