// Package timeouts defines shared durations used across the ledger process.
package timeouts

import "time"

// LockTTL is how long a resource lock marker lives before it self-expires.
const LockTTL = 3 * time.Minute

// CacheOp caps a single round trip to the shared cache.
const CacheOp = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second
