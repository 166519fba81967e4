// internal/registry/keys.go
package registry

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// TicketLength is the exact length of a ticket value: a uuid4 rendered as
// 32 lowercase hex characters. The admitter rejects anything else before
// touching the registry.
const TicketLength = 32

// NewTicket returns a fresh single-use ticket value.
func NewTicket() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewLobbyKey returns a URL-safe private room key (12 random bytes,
// unpadded base64url, 16 characters).
func NewLobbyKey() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails if the OS entropy source is broken, at
		// which point serving traffic is pointless anyway.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}
