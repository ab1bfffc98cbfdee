// Package idgen generates random identifiers for marketplace records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 hex chars of cryptographic randomness.
// The prefix keeps IDs self-describing: "prod_" for products, "wh_" for
// webhook subscriptions.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
