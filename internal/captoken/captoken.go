// Package captoken issues bearer capability tokens. Only the digest of a
// token is ever stored; the plaintext exists in the issuing response alone.
package captoken

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"

	"github.com/pricepin/pricepin/internal/digest"
)

// EntropyBytes is the number of random bytes behind each token.
const EntropyBytes = 32

const redacted = "[REDACTED]"

// Token is a freshly issued capability. Plaintext must only be handed to the
// caller once; Digest is what gets persisted.
type Token struct {
	Plaintext string
	Digest    string
}

// String hides the plaintext from fmt verbs.
func (t Token) String() string { return redacted }

// LogValue hides the plaintext from slog.
func (t Token) LogValue() slog.Value { return slog.StringValue(redacted) }

// Manager mints and checks capability tokens.
type Manager struct {
	digester digest.Digester
	rand     io.Reader
}

// NewManager builds a Manager on top of the shared digest primitive.
func NewManager(d digest.Digester) *Manager {
	return &Manager{digester: d, rand: rand.Reader}
}

// Issue generates a URL-safe token with EntropyBytes of randomness and its digest.
func (m *Manager) Issue() (Token, error) {
	buf := make([]byte, EntropyBytes)
	if _, err := io.ReadFull(m.rand, buf); err != nil {
		return Token{}, fmt.Errorf("read random: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	sum, err := m.digester.Digest(plain)
	if err != nil {
		return Token{}, fmt.Errorf("digest token: %w", err)
	}
	return Token{Plaintext: plain, Digest: sum}, nil
}

// Check reports whether presented matches the stored digest. An empty
// presentation, an empty digest or a malformed digest all deny.
func (m *Manager) Check(storedDigest, presented string) (ok bool) {
	if presented == "" || storedDigest == "" {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return m.digester.Verify(storedDigest, presented)
}
