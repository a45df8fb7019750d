// Package keygen derives hardware-bound license keys.
//
// A key is a deterministic function of the hardware identifier and a
// process-wide secret, so verification can recompute the expected key
// instead of looking it up. The approval workflow, not the derivation,
// is what distinguishes an issued key from a merely computable one.
package keygen

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeySegments is the number of 4-character groups in a formatted key.
const KeySegments = 5

// Deriver derives license keys from hardware identifiers using a fixed
// HMAC-SHA256 secret. The zero value is unusable; construct with NewDeriver.
type Deriver struct {
	secret []byte
}

// NewDeriver creates a Deriver bound to the given secret. The secret is the
// sole un-guessable input to key derivation: anyone holding it can forge
// valid keys for arbitrary hardware identifiers.
func NewDeriver(secret string) *Deriver {
	return &Deriver{secret: []byte(secret)}
}

// Derive computes the license key for a hardware identifier. It takes the
// first 20 hex characters of HMAC-SHA256(secret, hardwareID), upper-cases
// them and groups them 4-by-4 with hyphens: XXXX-XXXX-XXXX-XXXX-XXXX.
// Deterministic for a given secret; never fails.
func (d *Deriver) Derive(hardwareID string) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(hardwareID))
	digest := hex.EncodeToString(mac.Sum(nil))

	short := strings.ToUpper(digest[:KeySegments*4])
	segments := make([]string, 0, KeySegments)
	for i := 0; i < len(short); i += 4 {
		segments = append(segments, short[i:i+4])
	}
	return strings.Join(segments, "-")
}

// Matches reports whether the supplied key equals the derived key for the
// hardware identifier, after normalizing the supplied key.
func (d *Deriver) Matches(key, hardwareID string) bool {
	return Normalize(key) == d.Derive(hardwareID)
}

// Normalize strips all whitespace from a key and upper-cases it, so user
// supplied keys compare case- and whitespace-insensitively.
func Normalize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
