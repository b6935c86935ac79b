// Package sessionid generates the public session identifiers and pairing
// secrets used by the relay.
package sessionid

import "crypto/rand"

// Alphabet is the 32-symbol set used for session ids and secrets. It excludes
// 0, O, 1 and I so values survive being read off a phone screen or typed by
// hand. L is included.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// SessionIDLength is the length of the public session id (~1.05M values;
	// short because the secret, not the id, guards the session).
	SessionIDLength = 4
	// SecretLength is the length of the pairing secret (~2^80 values).
	SecretLength = 16
)

// New returns a random string of n characters drawn from Alphabet.
func New(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// NewSessionID returns a candidate public session id. Uniqueness against the
// live store is the store's concern (it retries on collision).
func NewSessionID() (string, error) {
	return New(SessionIDLength)
}

// NewSecret returns a pairing secret. Collisions are not a correctness
// concern, so no retry is needed.
func NewSecret() (string, error) {
	return New(SecretLength)
}
