package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 4096
	keyLength     = 32
)

// Key is the shared secret every node of a cluster presents on connect.
type Key struct {
	encoded []byte
}

// DeriveKey stretches the configured passphrase, salted with the cluster name
// so that two clusters sharing a passphrase still get different keys.
func DeriveKey(passphrase, clusterName string) Key {
	return Key{encoded: pbkdf2.Key([]byte(passphrase), []byte(clusterName), keyIterations, keyLength, sha256.New)}
}

// Encoded returns a copy of the raw key bytes.
func (k Key) Encoded() []byte {
	out := make([]byte, len(k.encoded))
	copy(out, k.encoded)
	return out
}

func (k Key) IsZero() bool {
	return len(k.encoded) == 0
}

// Matches compares raw key material in constant time.
func (k Key) Matches(raw []byte) bool {
	if k.IsZero() {
		return false
	}
	return subtle.ConstantTimeCompare(k.encoded, raw) == 1
}

// Fingerprint is a short printable form, safe to log.
func (k Key) Fingerprint() string {
	sum := sha256.Sum256(k.encoded)
	return hex.EncodeToString(sum[:4])
}
