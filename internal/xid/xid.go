// Package xid mints the prefixed identifiers used across the stores:
// "stk-" for stock items, "sale-" for sales, "usr-" for users.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const randomBytes = 10

// New returns an id of the form "<prefix>-<20 hex chars>". An empty prefix
// yields a bare random id.
func New(prefix string) string {
	buf := make([]byte, randomBytes)
	// crypto/rand.Read fills the buffer fully and does not fail.
	_, _ = rand.Read(buf)

	suffix := hex.EncodeToString(buf)
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}
