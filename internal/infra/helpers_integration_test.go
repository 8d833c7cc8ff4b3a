//go:build integration

package infra_test

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/pricepin/pricepin/internal/captoken"
	"github.com/pricepin/pricepin/internal/digest"
	"github.com/pricepin/pricepin/internal/identity"
	"github.com/pricepin/pricepin/internal/logging"
)

func newIdentityService(t *testing.T, repo identity.Repository) *identity.Service {
	t.Helper()
	hasher, err := digest.New(digest.Config{Algorithm: digest.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return identity.NewService(repo, hasher, captoken.NewManager(hasher), identity.Config{}, logging.Discard())
}
