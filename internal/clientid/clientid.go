// Package clientid generates this client's 20-byte peer id (§6).
package clientid

import "crypto/rand"

// prefix is the Azureus-style client identifier: '-', two letters, four
// version digits, '-'.
const prefix = "-BP0100-"

// New returns a fresh peer id: the fixed prefix followed by 12 random
// bytes, matching the 20-byte length required by the wire protocol.
func New() ([20]byte, error) {
	var id [20]byte
	copy(id[:], prefix)
	_, err := rand.Read(id[len(prefix):])
	return id, err
}
