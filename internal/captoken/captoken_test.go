package captoken

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pricepin/pricepin/internal/digest"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	h, err := digest.New(digest.Config{Algorithm: digest.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	return NewManager(h)
}

func TestIssue_ProducesURLSafeTokenWithFullEntropy(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.Issue()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok.Plaintext)
	require.NoError(t, err)
	assert.Len(t, raw, EntropyBytes)
	assert.NotContains(t, tok.Plaintext, "+")
	assert.NotContains(t, tok.Plaintext, "/")
	assert.NotEqual(t, tok.Plaintext, tok.Digest)
	assert.True(t, m.Check(tok.Digest, tok.Plaintext))
}

func TestIssue_TokensAreDistinct(t *testing.T) {
	m := newTestManager(t)
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		tok, err := m.Issue()
		require.NoError(t, err)
		_, dup := seen[tok.Plaintext]
		require.False(t, dup)
		seen[tok.Plaintext] = struct{}{}
	}
}

func TestCheck_Denials(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Issue()
	require.NoError(t, err)
	t2, err := m.Issue()
	require.NoError(t, err)

	assert.False(t, m.Check(t1.Digest, ""))
	assert.False(t, m.Check("", t1.Plaintext))
	assert.False(t, m.Check(t1.Digest, t2.Plaintext))
	assert.False(t, m.Check("not-a-digest", t1.Plaintext))
}

type panickyDigester struct{}

func (panickyDigester) Digest(string) (string, error) { return "", errors.New("boom") }
func (panickyDigester) Verify(string, string) bool    { panic("corrupt handle") }

func TestCheck_PanickingVerifierDenies(t *testing.T) {
	m := NewManager(panickyDigester{})
	assert.False(t, m.Check("$2a$whatever", "token"))

	_, err := m.Issue()
	require.Error(t, err)
}

func TestToken_NeverPrintsPlaintext(t *testing.T) {
	m := newTestManager(t)
	tok, err := m.Issue()
	require.NoError(t, err)

	assert.NotContains(t, fmt.Sprintf("%v %s", tok, tok), tok.Plaintext)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("issued", "token", tok)
	assert.NotContains(t, buf.String(), tok.Plaintext)
	assert.Contains(t, buf.String(), redacted)
}
