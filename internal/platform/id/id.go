// Package id mints the opaque identifiers used for commands, events and
// aggregates.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// namespace scopes derived ids so they never collide with ids minted by
// other systems hashing the same names.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://ledger.space/ids"))

// NewID returns a random 26-character lowercase base32 id (a UUIDv4).
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return encode(value), nil
}

// Derive returns a deterministic id (a UUIDv5) for the given parts. The same
// parts always yield the same id, which is what makes a redelivered event
// produce the same command id.
func Derive(parts ...string) string {
	return encode(uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x1f"))))
}

func encode(value uuid.UUID) string {
	return strings.ToLower(encoding.EncodeToString(value[:]))
}
