// Package push contains the core domain types for the web push delivery agent.
package push

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Keys holds the cryptographic material that addresses one subscription.
type Keys struct {
	P256dh string `json:"p256dh"` // Subscriber ECDH public key (base64url, 65-byte uncompressed point)
	Auth   string `json:"auth"`   // Shared auth secret (base64url, 16 bytes)
}

// Subscription is the channel identity issued when a push channel is created.
// The JSON shape matches the PushSubscription.toJSON() representation, so it
// round-trips through the backend and through webpush senders unchanged.
type Subscription struct {
	Endpoint string `json:"endpoint"` // Opaque push-service URL
	Keys     Keys   `json:"keys"`
}

// Action is a quick-reply button attached to a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// serverKeyLen is the length of an uncompressed P-256 point (0x04 || X || Y).
const serverKeyLen = 65

// ErrBadServerKey indicates the application server key is not a valid
// uncompressed P-256 public key.
var ErrBadServerKey = errors.New("application server key is not a 65-byte uncompressed P-256 point")

// DecodeServerKey converts a base64url VAPID public key to raw bytes.
// Accepts unpadded input: padding is restored to a multiple of 4 and the
// URL-safe alphabet is translated before decoding.
func DecodeServerKey(key string) ([]byte, error) {
	s := strings.TrimSpace(key)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

// ValidServerKey reports whether raw is a plausible applicationServerKey.
func ValidServerKey(raw []byte) bool {
	return len(raw) == serverKeyLen && raw[0] == 0x04
}
