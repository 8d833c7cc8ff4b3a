// Package digest hashes secrets with an adaptive algorithm and verifies
// candidates against stored handles. It is shared by capability tokens and
// user passwords.
package digest

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// AlgorithmBcrypt selects bcrypt handles ("$2a$...").
	AlgorithmBcrypt = "bcrypt"
	// AlgorithmArgon2id selects PHC encoded argon2id handles ("$argon2id$...").
	AlgorithmArgon2id = "argon2id"

	// MaxSecretBytes is the longest secret bcrypt reads. Longer input is
	// rejected instead of truncated.
	MaxSecretBytes = 72

	argonPrefix  = "$argon2id$"
	argonSaltLen = 16
	argonKeyLen  = 32
)

var (
	// ErrUnknownAlgorithm is returned by New for unsupported algorithm names.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	// ErrSecretTooLong is returned by Digest for bcrypt secrets over MaxSecretBytes.
	ErrSecretTooLong = errors.New("secret exceeds maximum length")
)

// Config selects the algorithm and its work factor.
type Config struct {
	Algorithm     string
	BcryptCost    int
	Argon2Time    uint32
	Argon2MemKiB  uint32
	Argon2Threads uint8
}

// DefaultConfig returns production parameters.
func DefaultConfig() Config {
	return Config{
		Algorithm:     AlgorithmBcrypt,
		BcryptCost:    bcrypt.DefaultCost,
		Argon2Time:    1,
		Argon2MemKiB:  64 * 1024,
		Argon2Threads: 4,
	}
}

// Digester produces and checks digest handles.
type Digester interface {
	Digest(secret string) (string, error)
	Verify(handle, candidate string) bool
}

// Hasher implements Digester. It is safe for concurrent use.
type Hasher struct {
	cfg  Config
	rand io.Reader
}

// New validates cfg and builds a Hasher.
func New(cfg Config) (*Hasher, error) {
	switch cfg.Algorithm {
	case "", AlgorithmBcrypt:
		cfg.Algorithm = AlgorithmBcrypt
		if cfg.BcryptCost == 0 {
			cfg.BcryptCost = bcrypt.DefaultCost
		}
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		if cfg.Argon2Time == 0 || cfg.Argon2MemKiB == 0 || cfg.Argon2Threads == 0 {
			return nil, errors.New("argon2id parameters must be positive")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	return &Hasher{cfg: cfg, rand: rand.Reader}, nil
}

// Algorithm reports the algorithm used for new handles.
func (h *Hasher) Algorithm() string {
	return h.cfg.Algorithm
}

// Digest hashes secret with a fresh random salt.
func (h *Hasher) Digest(secret string) (string, error) {
	if h.cfg.Algorithm == AlgorithmArgon2id {
		return h.argonDigest(secret)
	}
	if len(secret) > MaxSecretBytes {
		return "", ErrSecretTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt digest: %w", err)
	}
	return string(out), nil
}

// Verify reports whether candidate matches handle. Malformed handles and
// handles from unknown algorithms yield false.
func (h *Hasher) Verify(handle, candidate string) bool {
	switch {
	case strings.HasPrefix(handle, argonPrefix):
		return argonVerify(handle, candidate)
	case strings.HasPrefix(handle, "$2"):
		// bcrypt compares only the first 72 bytes.
		if len(candidate) > MaxSecretBytes {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(handle), []byte(candidate)) == nil
	default:
		return false
	}
}

func (h *Hasher) argonDigest(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.cfg.Argon2Time, h.cfg.Argon2MemKiB, h.cfg.Argon2Threads, argonKeyLen)
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix, argon2.Version,
		h.cfg.Argon2MemKiB, h.cfg.Argon2Time, h.cfg.Argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// argonVerify parses $argon2id$v=19$m=65536,t=1,p=4$salt$key and recomputes
// the key with the embedded parameters.
func argonVerify(handle, candidate string) bool {
	parts := strings.Split(handle, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var (
		mem, iters uint32
		threads    uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		return false
	}
	if mem == 0 || iters == 0 || threads == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(candidate), salt, iters, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
