package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"mcq-autopilot/internal/mcq"
)

// fingerprintBytes is the number of SHA-256 bytes kept (128 bits).
const fingerprintBytes = 16

// Fingerprint is the stable cache key of a question: hex of a truncated
// SHA-256 over the question text and its four options.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// BuildFingerprint hashes the question content. Every field is length
// prefixed so that moving text between the question and an option changes
// the digest.
func BuildFingerprint(q mcq.Question) Fingerprint {
	h := sha256.New()
	writeField(h, q.Text)
	for _, o := range q.Options {
		writeField(h, o)
	}
	sum := h.Sum(nil)
	return Fingerprint(hex.EncodeToString(sum[:fingerprintBytes]))
}

func writeField(h hash.Hash, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
