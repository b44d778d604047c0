// Package sqlite implements the ledger storage contracts over a single SQLite
// file (modernc.org/sqlite, no cgo).
package sqlite
