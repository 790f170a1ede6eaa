// Package ticket issues the short human-presentable codes printed on tickets.
package ticket

import (
	"crypto/rand"
	"fmt"
)

// Alphabet omits 0/O/1/I/L so codes survive being read out loud.
const (
	Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	Length   = 8

	// MaxAttempts bounds the generate-and-insert loop; collisions are
	// resolved by retrying against the ledger's unique index, never by
	// spinning forever.
	MaxAttempts = 5
)

// New returns a fresh candidate code. Uniqueness is enforced by the ledger,
// not here.
func New() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}
